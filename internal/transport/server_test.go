package transport

import (
	"context"
	"encoding/xml"
	"errors"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"arrowhead-go/internal/codec"
	"arrowhead-go/internal/future"
	"arrowhead-go/internal/http1"
	"arrowhead-go/internal/protocol"
	"arrowhead-go/internal/result"
	"arrowhead-go/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ioTimeout = 3 * time.Second

// ---- fixtures ----

type recordingObserver struct {
	mu     sync.Mutex
	events []Event
}

func (o *recordingObserver) Observe(ev Event) {
	o.mu.Lock()
	o.events = append(o.events, ev)
	o.mu.Unlock()
}

func (o *recordingObserver) ofType(t EventType) []Event {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []Event
	for _, ev := range o.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type fixture struct {
	addr     string
	srv      *Server
	observer *recordingObserver
	release  chan struct{}
	canceled chan struct{}
	bodyErr  chan error
}

func startServer(t *testing.T, opts Options) *fixture {
	t.Helper()
	fx := &fixture{
		observer: &recordingObserver{},
		release:  make(chan struct{}),
		canceled: make(chan struct{}, 1),
		bodyErr:  make(chan error, 1),
	}
	svc := service.NewServer(nil, nil)
	json := []codec.Encoding{codec.JSON}

	register := func(p service.Params) {
		if p.Encodings == nil {
			p.Encodings = json
		}
		require.NoError(t, svc.Register(service.MustDefinition(p)))
	}

	register(service.Params{
		Name:    "hello",
		Pattern: "/hello",
		Methods: []protocol.Method{protocol.MethodGet, protocol.MethodHead},
		Handler: service.HandlerFunc(func(req *service.Request, resp *service.Response) error {
			resp.SetStatus(protocol.StatusOK).SetText("ok")
			return nil
		}).Async(),
	})
	register(service.Params{
		Name:      "echo",
		Pattern:   "/echo",
		Methods:   []protocol.Method{protocol.MethodPost},
		Encodings: []codec.Encoding{codec.JSON, codec.XML},
		Handler: func(req *service.Request, resp *service.Response) *future.Future[any] {
			return future.Map(req.Body().Bytes(), func(data []byte) (any, error) {
				resp.SetStatus(protocol.StatusOK).SetBytes(data)
				resp.Headers().Set("content-type", req.Encoding().MediaType)
				return nil, nil
			})
		},
	})
	register(service.Params{
		Name:      "point",
		Pattern:   "/point/#",
		Encodings: []codec.Encoding{codec.JSON, codec.XML},
		Handler: service.HandlerFunc(func(req *service.Request, resp *service.Response) error {
			id, _ := req.PathParam(0)
			resp.SetStatus(protocol.StatusOK).SetValue(struct {
				XMLName xml.Name `json:"-" xml:"point"`
				ID      string   `json:"id" xml:"id"`
			}{ID: id})
			return nil
		}).Async(),
	})
	register(service.Params{
		Name:    "fail",
		Pattern: "/fail",
		Handler: service.HandlerFunc(func(*service.Request, *service.Response) error {
			return errors.New("storage offline")
		}).Async(),
	})
	register(service.Params{
		Name:    "nostatus",
		Pattern: "/nostatus",
		Handler: service.HandlerFunc(func(_ *service.Request, resp *service.Response) error {
			resp.SetText("forgot the status")
			return nil
		}).Async(),
	})
	register(service.Params{
		Name:    "slow",
		Pattern: "/slow",
		Handler: func(req *service.Request, resp *service.Response) *future.Future[any] {
			p := future.NewPromise[any]()
			go func() {
				time.Sleep(100 * time.Millisecond)
				resp.SetStatus(protocol.StatusOK).SetText("slow")
				p.Succeed(nil)
			}()
			return p.Future()
		},
	})
	register(service.Params{
		Name:    "blocked",
		Pattern: "/blocked",
		Handler: func(req *service.Request, resp *service.Response) *future.Future[any] {
			p := future.NewPromise[any]()
			go func() {
				select {
				case <-fx.release:
					resp.SetStatus(protocol.StatusOK).SetText("released")
					p.Succeed(nil)
				case <-req.Context().Done():
					fx.canceled <- struct{}{}
					p.Fail(req.Context().Err())
				}
			}()
			return p.Future()
		},
	})

	register(service.Params{
		Name:    "upload",
		Pattern: "/upload",
		Methods: []protocol.Method{protocol.MethodPost},
		Handler: func(req *service.Request, resp *service.Response) *future.Future[any] {
			body := req.Body().Bytes()
			body.OnResult(func(r result.Result[[]byte]) {
				if !r.IsSuccess() {
					fx.bodyErr <- r.Err()
				}
			})
			return future.Map(body, func([]byte) (any, error) {
				resp.SetStatus(protocol.StatusNoContent)
				return nil, nil
			})
		},
	})

	dir := t.TempDir()
	file := filepath.Join(dir, "data.txt")
	require.NoError(t, os.WriteFile(file, []byte("file contents"), 0o600))
	register(service.Params{
		Name:    "file",
		Pattern: "/file",
		Handler: service.HandlerFunc(func(_ *service.Request, resp *service.Response) error {
			resp.SetStatus(protocol.StatusOK).SetFile(file)
			return nil
		}).Async(),
	})
	svc.Freeze()

	opts.Observer = fx.observer
	fx.srv = NewServer(svc, opts, nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	fx.addr = ln.Addr().String()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = fx.srv.Serve(ctx, ln)
	}()
	t.Cleanup(func() {
		select {
		case <-fx.release:
		default:
			close(fx.release)
		}
		cancel()
		<-done
	})
	return fx
}

type testClient struct {
	t       *testing.T
	nc      net.Conn
	dec     *http1.Decoder
	pending []http1.Event
}

func dial(t *testing.T, addr string) *testClient {
	t.Helper()
	nc, err := net.DialTimeout("tcp", addr, ioTimeout)
	require.NoError(t, err)
	t.Cleanup(func() { _ = nc.Close() })
	return &testClient{t: t, nc: nc, dec: http1.NewResponseDecoder(0)}
}

func (c *testClient) send(method protocol.Method, raw string) {
	c.t.Helper()
	c.dec.ExpectResponse(method)
	c.write(raw)
}

func (c *testClient) write(raw string) {
	c.t.Helper()
	_ = c.nc.SetWriteDeadline(time.Now().Add(ioTimeout))
	_, err := c.nc.Write([]byte(raw))
	require.NoError(c.t, err)
}

func (c *testClient) event() http1.Event {
	c.t.Helper()
	for len(c.pending) == 0 {
		buf := make([]byte, 4096)
		_ = c.nc.SetReadDeadline(time.Now().Add(ioTimeout))
		n, err := c.nc.Read(buf)
		if n > 0 {
			events, derr := c.dec.Feed(buf[:n])
			require.NoError(c.t, derr)
			c.pending = append(c.pending, events...)
			continue
		}
		require.NoError(c.t, err, "connection ended before a full response")
	}
	ev := c.pending[0]
	c.pending = c.pending[1:]
	return ev
}

// response reads one final response, skipping interim ones.
func (c *testClient) response() (*http1.ResponseHead, string) {
	c.t.Helper()
	for {
		ev := c.event()
		require.Equal(c.t, http1.EventHead, ev.Kind)
		head := ev.Response
		var body []byte
		for {
			ev = c.event()
			if ev.Kind == http1.EventEnd {
				break
			}
			body = append(body, ev.Data...)
		}
		if head.Status.IsInformational() {
			continue
		}
		return head, string(body)
	}
}

func (c *testClient) expectClosed() {
	c.t.Helper()
	_ = c.nc.SetReadDeadline(time.Now().Add(ioTimeout))
	buf := make([]byte, 64)
	n, err := c.nc.Read(buf)
	assert.Zero(c.t, n)
	require.Error(c.t, err)
	var ne net.Error
	if errors.As(err, &ne) {
		assert.False(c.t, ne.Timeout(), "connection still open")
	}
}

func header(h *http1.ResponseHead, name string) string {
	v, _ := h.Headers.Get(name)
	return v
}

// ---- tests ----

func TestUnknownPathIs404AndCloses(t *testing.T) {
	fx := startServer(t, Options{})
	c := dial(t, fx.addr)

	c.send(protocol.MethodGet, "GET /nope HTTP/1.1\r\nHost: x\r\n\r\n")
	head, body := c.response()
	assert.Equal(t, protocol.StatusNotFound, head.Status)
	assert.Equal(t, "0", header(head, "content-length"))
	assert.Equal(t, "close", header(head, "connection"))
	assert.Empty(t, body)
	c.expectClosed()

	assert.Eventually(t, func() bool { return fx.srv.Stats().NotFound == 1 }, ioTimeout, 10*time.Millisecond)
}

func TestTextResponseKeepsConnectionAlive(t *testing.T) {
	fx := startServer(t, Options{})
	c := dial(t, fx.addr)

	for i := 0; i < 3; i++ {
		c.send(protocol.MethodGet, "GET /hello HTTP/1.1\r\nHost: x\r\n\r\n")
		head, body := c.response()
		assert.Equal(t, protocol.StatusOK, head.Status)
		assert.Equal(t, "ok", body)
		assert.Equal(t, "2", header(head, "content-length"))
		assert.Equal(t, "text/plain; charset=utf-8", header(head, "content-type"))
		assert.Empty(t, header(head, "connection"))
	}
}

func TestFragmentedBodyIsReassembled(t *testing.T) {
	fx := startServer(t, Options{})
	c := dial(t, fx.addr)

	c.send(protocol.MethodPost, "POST /echo HTTP/1.1\r\nContent-Type: application/json\r\nContent-Length: 7\r\n\r\n{\"a\":1")
	time.Sleep(20 * time.Millisecond)
	c.write("}")

	head, body := c.response()
	assert.Equal(t, protocol.StatusOK, head.Status)
	assert.JSONEq(t, `{"a":1}`, body)
	assert.Equal(t, "application/json", header(head, "content-type"))
}

func TestChunkedRequestBody(t *testing.T) {
	fx := startServer(t, Options{})
	c := dial(t, fx.addr)

	c.send(protocol.MethodPost, "POST /echo HTTP/1.1\r\nTransfer-Encoding: chunked\r\n\r\n3\r\n[1,\r\n2\r\n2]\r\n0\r\n\r\n")
	head, body := c.response()
	assert.Equal(t, protocol.StatusOK, head.Status)
	assert.Equal(t, "[1,2]", body)
}

func TestNegotiationFailureIs415(t *testing.T) {
	fx := startServer(t, Options{})
	c := dial(t, fx.addr)

	c.send(protocol.MethodGet, "GET /hello HTTP/1.1\r\nContent-Type: application/xml\r\n\r\n")
	head, _ := c.response()
	assert.Equal(t, protocol.StatusUnsupportedMediaType, head.Status)
	c.expectClosed()
}

func TestValueBodyFollowsAccept(t *testing.T) {
	fx := startServer(t, Options{})
	c := dial(t, fx.addr)

	c.send(protocol.MethodGet, "GET /point/42 HTTP/1.1\r\nAccept: text/xml\r\n\r\n")
	head, body := c.response()
	assert.Equal(t, protocol.StatusOK, head.Status)
	assert.Equal(t, "application/xml", header(head, "content-type"))
	assert.Equal(t, "<point><id>42</id></point>", body)

	c.send(protocol.MethodGet, "GET /point/7 HTTP/1.1\r\n\r\n")
	head, body = c.response()
	assert.Equal(t, "application/json", header(head, "content-type"))
	assert.JSONEq(t, `{"id":"7"}`, body)
}

func TestHandlerFailuresAre500(t *testing.T) {
	fx := startServer(t, Options{})
	for _, path := range []string{"/fail", "/nostatus"} {
		c := dial(t, fx.addr)
		c.send(protocol.MethodGet, "GET "+path+" HTTP/1.1\r\n\r\n")
		head, body := c.response()
		assert.Equal(t, protocol.StatusInternalServerError, head.Status, path)
		assert.Empty(t, body)
		c.expectClosed()
	}

	assert.Eventually(t, func() bool {
		return len(fx.observer.ofType(EventFailure)) == 2
	}, ioTimeout, 10*time.Millisecond)
	failures := fx.observer.ofType(EventFailure)
	assert.Equal(t, 500, failures[0].Status)
	assert.Equal(t, uint64(2), fx.srv.Stats().HandlerFailures)
}

func TestPipelinedResponsesKeepRequestOrder(t *testing.T) {
	fx := startServer(t, Options{})
	c := dial(t, fx.addr)

	c.dec.ExpectResponse(protocol.MethodGet)
	c.dec.ExpectResponse(protocol.MethodGet)
	c.write("GET /slow HTTP/1.1\r\n\r\nGET /hello HTTP/1.1\r\n\r\n")

	_, first := c.response()
	_, second := c.response()
	assert.Equal(t, "slow", first)
	assert.Equal(t, "ok", second)
}

func TestConnectionsAreIndependent(t *testing.T) {
	fx := startServer(t, Options{})
	stuck := dial(t, fx.addr)
	stuck.send(protocol.MethodGet, "GET /blocked HTTP/1.1\r\n\r\n")

	other := dial(t, fx.addr)
	other.send(protocol.MethodGet, "GET /hello HTTP/1.1\r\n\r\n")
	_, body := other.response()
	assert.Equal(t, "ok", body)

	close(fx.release)
	_, body = stuck.response()
	assert.Equal(t, "released", body)
}

func TestHalfCloseWaitsForPendingResponse(t *testing.T) {
	fx := startServer(t, Options{})
	c := dial(t, fx.addr)
	c.send(protocol.MethodGet, "GET /blocked HTTP/1.1\r\n\r\n")
	require.NoError(t, c.nc.(*net.TCPConn).CloseWrite())

	select {
	case <-fx.canceled:
		t.Fatal("request context canceled by a half-close")
	case <-time.After(50 * time.Millisecond):
	}

	close(fx.release)
	_, body := c.response()
	assert.Equal(t, "released", body)
	c.expectClosed()
}

func TestResetCancelsRequestContext(t *testing.T) {
	fx := startServer(t, Options{})
	c := dial(t, fx.addr)
	c.send(protocol.MethodGet, "GET /blocked HTTP/1.1\r\n\r\n")
	time.Sleep(20 * time.Millisecond)

	tc := c.nc.(*net.TCPConn)
	require.NoError(t, tc.SetLinger(0))
	require.NoError(t, tc.Close())

	select {
	case <-fx.canceled:
	case <-time.After(ioTimeout):
		t.Fatal("request context not canceled")
	}
}

func TestExpectContinue(t *testing.T) {
	fx := startServer(t, Options{})
	c := dial(t, fx.addr)

	c.send(protocol.MethodPost, "POST /echo HTTP/1.1\r\nExpect: 100-continue\r\nContent-Length: 4\r\n\r\n")
	ev := c.event()
	require.Equal(t, http1.EventHead, ev.Kind)
	assert.Equal(t, protocol.StatusContinue, ev.Response.Status)
	assert.Equal(t, http1.EventEnd, c.event().Kind)

	c.write("true")
	head, body := c.response()
	assert.Equal(t, protocol.StatusOK, head.Status)
	assert.Equal(t, "true", body)
}

func TestMalformedRequestIs400(t *testing.T) {
	fx := startServer(t, Options{})
	c := dial(t, fx.addr)
	c.send(protocol.MethodGet, "GET /hello HTTP/1.1\r\nBad Header\r\n\r\n")
	head, _ := c.response()
	assert.Equal(t, protocol.StatusBadRequest, head.Status)
	c.expectClosed()
}

func TestOtherMajorVersionIs400(t *testing.T) {
	fx := startServer(t, Options{})
	c := dial(t, fx.addr)
	c.send(protocol.MethodGet, "GET /hello HTTP/2.0\r\n\r\n")
	head, _ := c.response()
	assert.Equal(t, protocol.StatusBadRequest, head.Status)
	c.expectClosed()
}

func TestBodyLimit(t *testing.T) {
	fx := startServer(t, Options{MaxBodySize: 4})

	c := dial(t, fx.addr)
	c.send(protocol.MethodPost, "POST /echo HTTP/1.1\r\nContent-Length: 10\r\n\r\n0123456789")
	head, _ := c.response()
	assert.Equal(t, protocol.StatusContentTooLarge, head.Status)

	c = dial(t, fx.addr)
	c.send(protocol.MethodPost, "POST /echo HTTP/1.1\r\nTransfer-Encoding: chunked\r\n\r\n")
	c.write("3\r\nabc\r\n3\r\ndef\r\n0\r\n\r\n")
	head, _ = c.response()
	assert.Equal(t, protocol.StatusContentTooLarge, head.Status)
	c.expectClosed()
}

func TestHeadResponseCarriesNoBody(t *testing.T) {
	fx := startServer(t, Options{})
	c := dial(t, fx.addr)

	c.send(protocol.MethodHead, "HEAD /hello HTTP/1.1\r\n\r\n")
	head, body := c.response()
	assert.Equal(t, protocol.StatusOK, head.Status)
	assert.Equal(t, "2", header(head, "content-length"))
	assert.Empty(t, body)

	c.send(protocol.MethodGet, "GET /hello HTTP/1.1\r\n\r\n")
	_, body = c.response()
	assert.Equal(t, "ok", body)
}

func TestHTTP10ClosesUnlessKeepAlive(t *testing.T) {
	fx := startServer(t, Options{})

	c := dial(t, fx.addr)
	c.send(protocol.MethodGet, "GET /hello HTTP/1.0\r\n\r\n")
	head, body := c.response()
	assert.Equal(t, protocol.Version1_0, head.Version)
	assert.Equal(t, "ok", body)
	assert.Equal(t, "close", header(head, "connection"))
	c.expectClosed()

	c = dial(t, fx.addr)
	c.send(protocol.MethodGet, "GET /hello HTTP/1.0\r\nConnection: keep-alive\r\n\r\n")
	head, _ = c.response()
	assert.Equal(t, "keep-alive", header(head, "connection"))
	c.send(protocol.MethodGet, "GET /hello HTTP/1.0\r\nConnection: keep-alive\r\n\r\n")
	_, body = c.response()
	assert.Equal(t, "ok", body)
}

func TestConnectionCloseRequest(t *testing.T) {
	fx := startServer(t, Options{})
	c := dial(t, fx.addr)
	c.send(protocol.MethodGet, "GET /hello HTTP/1.1\r\nConnection: close\r\n\r\n")
	head, _ := c.response()
	assert.Equal(t, "close", header(head, "connection"))
	c.expectClosed()
}

func TestFileBodyIsStreamed(t *testing.T) {
	fx := startServer(t, Options{})
	c := dial(t, fx.addr)
	c.send(protocol.MethodGet, "GET /file HTTP/1.1\r\n\r\n")
	head, body := c.response()
	assert.Equal(t, "file contents", body)
	assert.Equal(t, "13", header(head, "content-length"))
	assert.Contains(t, header(head, "content-type"), "text/plain")
}

func TestIdleTimeoutClosesQuietConnections(t *testing.T) {
	fx := startServer(t, Options{IdleTimeout: 50 * time.Millisecond})
	c := dial(t, fx.addr)
	c.send(protocol.MethodGet, "GET /slow HTTP/1.1\r\n\r\n")
	_, body := c.response()
	assert.Equal(t, "slow", body, "a pending response is not idle")
	c.expectClosed()
}

func TestStalledBodyIsTimedOut(t *testing.T) {
	for _, opts := range []Options{
		{IdleTimeout: 50 * time.Millisecond},
		{ReadTimeout: 50 * time.Millisecond},
	} {
		fx := startServer(t, opts)
		c := dial(t, fx.addr)
		c.send(protocol.MethodPost, "POST /echo HTTP/1.1\r\nContent-Length: 10\r\n\r\n{}")
		c.expectClosed()
		assert.Eventually(t, func() bool {
			return fx.srv.Stats().Active == 0
		}, ioTimeout, 10*time.Millisecond)
	}
}

func TestSlowBodyWithinReadTimeoutIsServed(t *testing.T) {
	fx := startServer(t, Options{ReadTimeout: 100 * time.Millisecond})
	c := dial(t, fx.addr)
	c.send(protocol.MethodPost, "POST /echo HTTP/1.1\r\nContent-Length: 6\r\n\r\n[1")
	for _, part := range []string{",2", "]\n"} {
		time.Sleep(60 * time.Millisecond)
		c.write(part)
	}
	head, body := c.response()
	assert.Equal(t, protocol.StatusOK, head.Status)
	assert.Equal(t, "[1,2]\n", body)
}

func TestCloseMidBodyFailsHandlerBody(t *testing.T) {
	fx := startServer(t, Options{})
	c := dial(t, fx.addr)
	c.send(protocol.MethodPost, "POST /upload HTTP/1.1\r\nContent-Length: 8\r\n\r\nabc")
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, c.nc.Close())

	select {
	case err := <-fx.bodyErr:
		assert.Error(t, err)
	case <-time.After(ioTimeout):
		t.Fatal("handler body did not fail")
	}
	assert.Eventually(t, func() bool {
		return fx.srv.Stats().Active == 0
	}, ioTimeout, 10*time.Millisecond)
}

func TestConnectionEventsAreObserved(t *testing.T) {
	fx := startServer(t, Options{})
	c := dial(t, fx.addr)
	c.send(protocol.MethodGet, "GET /hello HTTP/1.1\r\nConnection: close\r\n\r\n")
	c.response()
	c.expectClosed()

	assert.Eventually(t, func() bool {
		return len(fx.observer.ofType(EventConnClosed)) == 1
	}, ioTimeout, 10*time.Millisecond)
	responses := fx.observer.ofType(EventResponse)
	require.Len(t, responses, 1)
	assert.Equal(t, "hello", responses[0].Service)
	assert.Equal(t, 200, responses[0].Status)
	assert.Len(t, fx.observer.ofType(EventConnOpened), 1)

	snap := fx.srv.Stats()
	assert.Equal(t, uint64(1), snap.Accepted)
	assert.Equal(t, uint64(1), snap.Requests)
	assert.Equal(t, uint64(1), snap.Responses)
}
