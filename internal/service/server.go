// internal/service/server.go
package service

import (
	"arrowhead-go/internal/codec"
	"arrowhead-go/internal/future"
	"arrowhead-go/internal/protocol"

	"go.uber.org/zap"
)

// Server is the service side of a provider: its registry, the codecs its
// services speak and the dispatcher the transport calls into.
type Server struct {
	registry   *Registry
	dispatcher *Dispatcher
	codecs     *codec.Registry
	logger     *zap.Logger
}

func NewServer(logger *zap.Logger, codecs *codec.Registry) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if codecs == nil {
		codecs = codec.DefaultRegistry()
	}
	reg := NewRegistry()
	return &Server{
		registry:   reg,
		dispatcher: NewDispatcher(reg, logger),
		codecs:     codecs,
		logger:     logger,
	}
}

func (s *Server) RegisterModule(m Module) error {
	if err := s.registry.RegisterModule(m); err != nil {
		return err
	}
	s.logger.Info("module registered", zap.String("module", m.Name()))
	return nil
}

func (s *Server) Register(def *Definition) error {
	return s.registry.Register(def)
}

// Freeze ends registration; call it before serving.
func (s *Server) Freeze() {
	s.registry.Freeze()
}

func (s *Server) Registry() *Registry     { return s.registry }
func (s *Server) Codecs() *codec.Registry { return s.codecs }
func (s *Server) Logger() *zap.Logger     { return s.logger }

func (s *Server) Route(method protocol.Method, path string, headers *protocol.Headers) (Route, error) {
	return s.dispatcher.Route(method, path, headers)
}

func (s *Server) Dispatch(route Route, req *Request, resp *Response) *future.Future[any] {
	return s.dispatcher.Dispatch(route, req, resp)
}
