package client

import (
	"net/url"
	"strings"

	"arrowhead-go/internal/codec"
	"arrowhead-go/internal/http1"
	"arrowhead-go/internal/protocol"
	"arrowhead-go/internal/service"
)

// Request is an outgoing service request. Bodies use the same variants as
// service responses; setting one replaces the previous body.
type Request struct {
	method   protocol.Method
	uri      string
	query    url.Values
	headers  protocol.Headers
	version  protocol.Version
	encoding codec.Encoding
	body     service.ResponseBody
}

func NewRequest(method protocol.Method, uri string) *Request {
	return &Request{
		method:  method,
		uri:     uri,
		query:   url.Values{},
		version: protocol.Version1_1,
		body:    service.NoBody{},
	}
}

func (r *Request) Method() protocol.Method    { return r.method }
func (r *Request) URI() string                { return r.uri }
func (r *Request) Version() protocol.Version  { return r.version }
func (r *Request) Encoding() codec.Encoding   { return r.encoding }
func (r *Request) Body() service.ResponseBody { return r.body }
func (r *Request) Headers() *protocol.Headers { return &r.headers }
func (r *Request) Query() url.Values          { return r.query }

func (r *Request) SetURI(uri string) *Request {
	r.uri = uri
	return r
}

// SetVersion fails at once for anything but HTTP/1.x.
func (r *Request) SetVersion(v protocol.Version) error {
	if err := v.CheckOutgoing(); err != nil {
		return err
	}
	r.version = v
	return nil
}

// SetEncoding picks the encoding of value bodies and, unless set
// explicitly, the accept header.
func (r *Request) SetEncoding(enc codec.Encoding) *Request {
	r.encoding = enc
	return r
}

func (r *Request) SetHeader(name, value string) *Request {
	r.headers.Set(name, value)
	return r
}

func (r *Request) AddQuery(name, value string) *Request {
	r.query.Add(name, value)
	return r
}

func (r *Request) SetBytes(data []byte) *Request {
	r.body = service.BytesBody{Data: data}
	return r
}

func (r *Request) SetFile(path string) *Request {
	r.body = service.FileBody{Path: path}
	return r
}

func (r *Request) SetText(text string) *Request {
	return r.SetTextCharset(codec.DefaultCharset, text)
}

func (r *Request) SetTextCharset(charset, text string) *Request {
	r.body = service.TextBody{Charset: charset, Text: text}
	return r
}

// SetValue sends v in the request encoding as it stands when the request
// is sent, JSON when none was chosen.
func (r *Request) SetValue(v any) *Request {
	r.body = service.ValueBody{Value: v}
	return r
}

// SetValueAs sends v in enc whatever the request encoding.
func (r *Request) SetValueAs(enc codec.Encoding, v any) *Request {
	r.body = service.ValueBody{Encoding: enc, Value: v}
	return r
}

func (r *Request) ClearBody() *Request {
	r.body = service.NoBody{}
	return r
}

func (r *Request) outgoingBody() service.ResponseBody {
	vb, ok := r.body.(service.ValueBody)
	if !ok || !vb.Encoding.IsZero() {
		return r.body
	}
	vb.Encoding = r.encoding
	if vb.Encoding.IsZero() {
		vb.Encoding = codec.JSON
	}
	return vb
}

func (r *Request) target() string {
	uri := r.uri
	if !strings.HasPrefix(uri, "/") {
		uri = "/" + uri
	}
	if len(r.query) == 0 {
		return uri
	}
	return uri + "?" + r.query.Encode()
}

func (r *Request) head(host string) *http1.RequestHead {
	head := &http1.RequestHead{
		Method:  r.method,
		Target:  r.target(),
		Version: r.version,
		Headers: r.headers.Clone(),
	}
	if !head.Headers.Has("host") {
		head.Headers.Set("host", host)
	}
	if !r.encoding.IsZero() && !head.Headers.Has("accept") {
		head.Headers.Set("accept", r.encoding.MediaType)
	}
	head.Headers.Set("connection", "close")
	return head
}
