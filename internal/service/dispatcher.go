// internal/service/dispatcher.go
package service

import (
	"arrowhead-go/internal/codec"
	"arrowhead-go/internal/future"
	"arrowhead-go/internal/protocol"
	"arrowhead-go/internal/result"

	"go.uber.org/zap"
)

// Route is a request head resolved to a service and an encoding.
type Route struct {
	Match
	Encoding codec.Encoding
}

type Dispatcher struct {
	registry *Registry
	logger   *zap.Logger
}

func NewDispatcher(reg *Registry, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{registry: reg, logger: logger}
}

// Route looks the service up and negotiates the exchange encoding. The
// error carries KindRouting or KindNegotiation.
func (d *Dispatcher) Route(method protocol.Method, path string, headers *protocol.Headers) (Route, error) {
	match, err := d.registry.Lookup(method, path)
	if err != nil {
		d.logger.Debug("no service for request",
			zap.String("method", method.String()),
			zap.String("path", path),
			zap.String("reason", "service_not_found"),
		)
		return Route{}, protocol.NewError(protocol.KindRouting, "lookup", err)
	}
	def := match.Definition
	enc, err := codec.Negotiate(def.encodings, def.defaultEncoding, headers)
	if err != nil {
		d.logger.Debug("encoding negotiation failed",
			zap.String("service", def.name),
			zap.String("path", path),
			zap.String("reason", err.Error()),
		)
		return Route{}, protocol.NewError(protocol.KindNegotiation, "negotiate", err)
	}
	return Route{Match: match, Encoding: enc}, nil
}

// Dispatch invokes the routed handler. Failures are logged here and
// reported through the returned future; they are never retried.
func (d *Dispatcher) Dispatch(route Route, req *Request, resp *Response) *future.Future[any] {
	def := route.Definition
	f := Invoke(def.handler, req, resp)
	f.OnResult(func(r result.Result[any]) {
		if r.IsSuccess() {
			return
		}
		d.logger.Warn("handler error",
			zap.String("service", def.name),
			zap.String("method", req.Method().String()),
			zap.String("path", req.Path()),
			zap.String("kind", protocol.KindOf(r.Err()).String()),
			zap.String("reason", r.Err().Error()),
		)
	})
	return f
}
