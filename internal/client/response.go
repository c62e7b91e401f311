package client

import (
	"fmt"
	"mime"

	"arrowhead-go/internal/codec"
	"arrowhead-go/internal/http1"
	"arrowhead-go/internal/identity"
	"arrowhead-go/internal/protocol"
)

// Response is a fully received provider response.
type Response struct {
	head     *http1.ResponseHead
	body     []byte
	provider *identity.System
	codecs   *codec.Registry
}

func (r *Response) Status() protocol.Status    { return r.head.Status }
func (r *Response) Version() protocol.Version  { return r.head.Version }
func (r *Response) Headers() *protocol.Headers { return &r.head.Headers }
func (r *Response) Body() []byte               { return r.body }

func (r *Response) Header(name string) (string, bool) {
	return r.head.Headers.Get(name)
}

// Provider is the identity of the system that answered. It is absent only
// when the remote address was unknown.
func (r *Response) Provider() (*identity.System, bool) {
	return r.provider, r.provider != nil
}

// Encoding reports the encoding named by the content-type header.
func (r *Response) Encoding() (codec.Encoding, bool) {
	ct, ok := r.Header("content-type")
	if !ok {
		return codec.Encoding{}, false
	}
	return codec.ForMediaType(ct)
}

// Text decodes the body with the charset of its content-type, UTF-8 when
// none is given.
func (r *Response) Text() (string, error) {
	charset := codec.DefaultCharset
	if ct, ok := r.Header("content-type"); ok {
		if _, params, err := mime.ParseMediaType(ct); err == nil && params["charset"] != "" {
			charset = params["charset"]
		}
	}
	return codec.DecodeText(charset, r.body)
}

// Decode reads the body as a T in the encoding its content-type names.
func Decode[T any](r *Response) (*T, error) {
	enc, ok := r.Encoding()
	if !ok {
		ct, _ := r.Header("content-type")
		return nil, fmt.Errorf("%w: content-type %q", protocol.ErrUnsupportedEncoding, ct)
	}
	v := new(T)
	if err := r.codecs.Decode(enc, r.body, v); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", enc, err)
	}
	return v, nil
}
