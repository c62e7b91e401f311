package echo

import (
	"context"
	"net"
	"net/url"
	"testing"
	"time"

	"arrowhead-go/internal/codec"
	"arrowhead-go/internal/identity"
	"arrowhead-go/internal/protocol"
	"arrowhead-go/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

func newServer(t *testing.T) *service.Server {
	t.Helper()
	srv := service.NewServer(nil, nil)
	require.NoError(t, srv.RegisterModule(New()))
	srv.Freeze()
	return srv
}

func call(t *testing.T, srv *service.Server, method protocol.Method, target, contentType string, payload []byte) *service.Response {
	t.Helper()
	u, err := url.ParseRequestURI(target)
	require.NoError(t, err)

	var headers protocol.Headers
	if contentType != "" {
		headers.Set("content-type", contentType)
	}
	route, err := srv.Route(method, u.Path, &headers)
	require.NoError(t, err)

	body := service.NewBody(route.Encoding, "", srv.Codecs())
	body.Append(payload)
	body.Finish()

	requester, err := identity.Insecure("tester", &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 4000})
	require.NoError(t, err)
	req := service.NewRequest(context.Background(), service.RequestParams{
		Method:     method,
		Path:       u.Path,
		PathParams: route.PathParams,
		Query:      u.Query(),
		Headers:    headers,
		Encoding:   route.Encoding,
		Version:    protocol.Version1_1,
		Requester:  requester,
		Body:       body,
	})
	resp := service.NewResponse(protocol.Version1_1, route.Encoding)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = srv.Dispatch(route, req, resp).Await(ctx)
	require.NoError(t, err)
	return resp
}

func TestEchoValue(t *testing.T) {
	srv := newServer(t)

	resp := call(t, srv, protocol.MethodPost, "/echo", "application/json", []byte(`{"text":"hi"}`))
	status, _ := resp.Status()
	assert.Equal(t, protocol.StatusOK, status)
	body := resp.Body().(service.ValueBody)
	assert.Equal(t, codec.JSON, body.Encoding)
	assert.Equal(t, &Message{Text: "hi", Requester: "tester", Sequence: 1}, body.Value)

	resp = call(t, srv, protocol.MethodPut, "/echo", "text/xml", []byte(`<message><text>ho</text></message>`))
	body = resp.Body().(service.ValueBody)
	assert.Equal(t, codec.XML, body.Encoding)
	msg := body.Value.(*Message)
	assert.Equal(t, "ho", msg.Text)
	assert.Equal(t, int64(2), msg.Sequence)
}

func TestEchoProtobuf(t *testing.T) {
	srv := newServer(t)
	in, err := structpb.NewStruct(map[string]any{"text": "hi"})
	require.NoError(t, err)
	payload, err := proto.Marshal(in)
	require.NoError(t, err)

	resp := call(t, srv, protocol.MethodPost, "/echo", "application/x-protobuf", payload)
	body := resp.Body().(service.ValueBody)
	assert.Equal(t, codec.PROTOBUF, body.Encoding)
	out := body.Value.(*structpb.Struct)
	assert.Equal(t, "hi", out.Fields["text"].GetStringValue())
	assert.Equal(t, "tester", out.Fields["requester"].GetStringValue())
}

func TestEchoBadPayload(t *testing.T) {
	srv := newServer(t)
	resp := call(t, srv, protocol.MethodPost, "/echo", "application/json", []byte(`{"text":`))
	status, _ := resp.Status()
	assert.Equal(t, protocol.StatusBadRequest, status)
	e := resp.Body().(service.ValueBody).Value.(service.ErrorResponse)
	assert.Equal(t, 400, e.Code)
	assert.Equal(t, "BAD_PAYLOAD", e.Type)
}

func TestEchoText(t *testing.T) {
	srv := newServer(t)
	resp := call(t, srv, protocol.MethodGet, "/echo?msg=hello%20there", "", nil)
	status, _ := resp.Status()
	assert.Equal(t, protocol.StatusOK, status)
	assert.Equal(t, service.TextBody{Charset: codec.DefaultCharset, Text: "hello there"}, resp.Body())

	resp = call(t, srv, protocol.MethodGet, "/echo", "", nil)
	status, _ = resp.Status()
	assert.Equal(t, protocol.StatusBadRequest, status)
}
