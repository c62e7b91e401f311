package service

import (
	"fmt"

	"arrowhead-go/internal/future"
	"arrowhead-go/internal/protocol"
)

// Handler serves one request. The returned future completes when resp is
// ready to be sent; a failed future or a response without status turns
// into a 500.
type Handler func(req *Request, resp *Response) *future.Future[any]

// HandlerFunc is a handler that finishes before it returns.
type HandlerFunc func(req *Request, resp *Response) error

func (f HandlerFunc) Async() Handler {
	return func(req *Request, resp *Response) *future.Future[any] {
		if err := f(req, resp); err != nil {
			return future.Failed[any](err)
		}
		return Done()
	}
}

// Done is the future of a handler that has already filled in its response.
func Done() *future.Future[any] {
	return future.Succeeded[any](nil)
}

// Invoke runs h and guarantees a future: panics, nil futures and
// responses completed without status all become failures.
func Invoke(h Handler, req *Request, resp *Response) (f *future.Future[any]) {
	defer func() {
		if r := recover(); r != nil {
			f = future.Failed[any](protocol.NewError(protocol.KindHandler, "invoke", fmt.Errorf("handler panic: %v", r)))
		}
	}()

	out := h(req, resp)
	if out == nil {
		return future.Failed[any](protocol.NewError(protocol.KindContract, "invoke", fmt.Errorf("handler returned no future")))
	}
	return future.Map(out, func(v any) (any, error) {
		if _, ok := resp.Status(); !ok {
			return nil, protocol.ErrStatusNotSet
		}
		return v, nil
	})
}
