package service

import (
	"arrowhead-go/internal/codec"
	"arrowhead-go/internal/protocol"

	"google.golang.org/protobuf/types/known/structpb"
)

// ResponseBody is one of NoBody, BytesBody, FileBody, TextBody and
// ValueBody.
type ResponseBody interface {
	isResponseBody()
}

type NoBody struct{}

type BytesBody struct {
	Data []byte
}

// FileBody is streamed from Path when the response is written.
type FileBody struct {
	Path string
}

type TextBody struct {
	Charset string
	Text    string
}

// ValueBody is serialized with Encoding when the response is written.
type ValueBody struct {
	Encoding codec.Encoding
	Value    any
}

func (NoBody) isResponseBody()    {}
func (BytesBody) isResponseBody() {}
func (FileBody) isResponseBody()  {}
func (TextBody) isResponseBody()  {}
func (ValueBody) isResponseBody() {}

// Response is filled in by a handler. It is not safe for concurrent use;
// the transport reads it only after the handler's future completes.
type Response struct {
	status   protocol.Status
	headers  protocol.Headers
	version  protocol.Version
	encoding codec.Encoding
	body     ResponseBody
}

// NewResponse answers a request of version v whose exchange negotiated
// encoding enc.
func NewResponse(v protocol.Version, enc codec.Encoding) *Response {
	return &Response{version: v, encoding: enc, body: NoBody{}}
}

// Status reports false until SetStatus has been called.
func (r *Response) Status() (protocol.Status, bool) {
	return r.status, r.status != 0
}

func (r *Response) SetStatus(s protocol.Status) *Response {
	r.status = s
	return r
}

func (r *Response) Headers() *protocol.Headers { return &r.headers }

func (r *Response) SetHeader(name, value string) *Response {
	r.headers.Set(name, value)
	return r
}

func (r *Response) Version() protocol.Version { return r.version }

// Encoding is the encoding negotiated for the exchange, used by SetValue.
func (r *Response) Encoding() codec.Encoding { return r.encoding }

func (r *Response) Body() ResponseBody { return r.body }

func (r *Response) SetBytes(data []byte) *Response {
	r.body = BytesBody{Data: data}
	return r
}

func (r *Response) SetFile(path string) *Response {
	r.body = FileBody{Path: path}
	return r
}

// SetText sends text as UTF-8.
func (r *Response) SetText(text string) *Response {
	return r.SetTextCharset(codec.DefaultCharset, text)
}

func (r *Response) SetTextCharset(charset, text string) *Response {
	r.body = TextBody{Charset: charset, Text: text}
	return r
}

// SetValue sends v in the negotiated encoding.
func (r *Response) SetValue(v any) *Response {
	return r.SetValueAs(r.encoding, v)
}

func (r *Response) SetValueAs(enc codec.Encoding, v any) *Response {
	r.body = ValueBody{Encoding: enc, Value: v}
	return r
}

func (r *Response) ClearBody() *Response {
	r.body = NoBody{}
	return r
}

// SetError sets status and an ErrorResponse body in the negotiated
// encoding.
func (r *Response) SetError(status protocol.Status, e ErrorResponse) *Response {
	r.SetStatus(status)
	if e.Code == 0 {
		e.Code = status.Code()
	}
	if r.encoding.Name == codec.PROTOBUF.Name {
		return r.SetValue(e.Struct())
	}
	return r.SetValue(e)
}

// ErrorResponse describes why a request could not be fulfilled.
type ErrorResponse struct {
	Message string `json:"errorMessage" xml:"errorMessage"`
	Code    int    `json:"errorCode" xml:"errorCode"`
	Type    string `json:"exceptionType" xml:"exceptionType"`
}

// Struct converts e for encodings that need a protobuf message.
func (e ErrorResponse) Struct() *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"errorMessage":  structpb.NewStringValue(e.Message),
		"errorCode":     structpb.NewNumberValue(float64(e.Code)),
		"exceptionType": structpb.NewStringValue(e.Type),
	}}
}
