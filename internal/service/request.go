package service

import (
	"context"
	"net/url"

	"arrowhead-go/internal/codec"
	"arrowhead-go/internal/identity"
	"arrowhead-go/internal/protocol"
)

// RequestParams carries what the transport knows about an incoming
// request once its head has been routed and negotiated.
type RequestParams struct {
	Method     protocol.Method
	Path       string
	PathParams []string
	Query      url.Values
	Headers    protocol.Headers
	Encoding   codec.Encoding
	Version    protocol.Version
	Requester  *identity.System
	Body       *Body
}

// Request is the read-only view a handler gets of an incoming request.
// Its context is cancelled when the connection it arrived on closes.
type Request struct {
	ctx context.Context
	p   RequestParams
}

func NewRequest(ctx context.Context, p RequestParams) *Request {
	if ctx == nil {
		ctx = context.Background()
	}
	if p.Body == nil {
		p.Body = NewBody(p.Encoding, "", nil)
		p.Body.Finish()
	}
	if p.Query == nil {
		p.Query = url.Values{}
	}
	return &Request{ctx: ctx, p: p}
}

func (r *Request) Context() context.Context  { return r.ctx }
func (r *Request) Method() protocol.Method   { return r.p.Method }
func (r *Request) Path() string              { return r.p.Path }
func (r *Request) Encoding() codec.Encoding  { return r.p.Encoding }
func (r *Request) Version() protocol.Version { return r.p.Version }
func (r *Request) Body() *Body               { return r.p.Body }

// PathParams are the segments captured by "#" in pattern order.
func (r *Request) PathParams() []string {
	return append([]string(nil), r.p.PathParams...)
}

func (r *Request) PathParam(i int) (string, bool) {
	if i < 0 || i >= len(r.p.PathParams) {
		return "", false
	}
	return r.p.PathParams[i], true
}

func (r *Request) Query() url.Values {
	q := make(url.Values, len(r.p.Query))
	for k, v := range r.p.Query {
		q[k] = append([]string(nil), v...)
	}
	return q
}

func (r *Request) QueryValue(name string) (string, bool) {
	values, ok := r.p.Query[name]
	if !ok || len(values) == 0 {
		return "", false
	}
	return values[0], true
}

func (r *Request) Header(name string) (string, bool) {
	return r.p.Headers.Get(name)
}

func (r *Request) HeaderValues(name string) []string {
	return r.p.Headers.Values(name)
}

func (r *Request) Headers() []protocol.Header {
	return r.p.Headers.All()
}

// Requester describes the calling system. It is absent when the transport
// could not derive an identity.
func (r *Request) Requester() (*identity.System, bool) {
	return r.p.Requester, r.p.Requester != nil
}
