package transport

import (
	"context"
	"errors"
	"io"
	"mime"
	"net"
	"net/url"
	"strconv"
	"sync"
	"time"

	"arrowhead-go/internal/http1"
	"arrowhead-go/internal/identity"
	"arrowhead-go/internal/protocol"
	"arrowhead-go/internal/result"
	"arrowhead-go/internal/service"

	"go.uber.org/zap"
)

const readChunkSize = 16 * 1024

var errReadTimeout = errors.New("request body stalled")

type readEvent struct {
	ev  http1.Event
	err error
}

type completion struct {
	ex  *exchange
	err error
}

// exchange is one request and its pending response. Refused requests
// carry no req/resp, only the error that decides their terminal status.
type exchange struct {
	head      *http1.RequestHead
	version   protocol.Version
	keepAlive bool
	route     service.Route
	req       *service.Request
	resp      *service.Response
	done      bool
	err       error
}

// conn serves one connection. A reader goroutine decodes bytes into
// events; everything else happens on the goroutine running serve, which
// alone touches the fields below completions.
type conn struct {
	id     int64
	remote string
	srv    *Server
	bc     *BufferedConn
	logger *zap.Logger

	ctx         context.Context
	cancel      context.CancelFunc
	closed      chan struct{}
	closeOnce   sync.Once
	events      chan readEvent
	completions chan completion

	asm        *assembler
	current    *exchange
	queue      []*exchange
	draining   bool
	readDone   bool
	shut       bool
	requester  *identity.System
	identified bool
	idle       *time.Timer
	stall      *time.Timer
}

func newConn(srv *Server, nc net.Conn, id int64) *conn {
	ctx, cancel := context.WithCancel(context.Background())
	c := &conn{
		id:          id,
		remote:      nc.RemoteAddr().String(),
		srv:         srv,
		bc:          NewBufferedConnWithOptions(nc, ConnOptions{WriteTimeout: srv.opts.WriteTimeout}),
		ctx:         ctx,
		cancel:      cancel,
		closed:      make(chan struct{}),
		events:      make(chan readEvent, 16),
		completions: make(chan completion, 16),
	}
	c.logger = srv.logger.With(connFields(c)...)
	return c
}

func (c *conn) serve(ctx context.Context) {
	c.srv.stats.accepted.Add(1)
	c.srv.observe(Event{Type: EventConnOpened, ConnID: c.id, Remote: c.remote})
	c.logger.Debug("connection opened")

	var idleC <-chan time.Time
	if c.srv.opts.IdleTimeout > 0 {
		c.idle = time.NewTimer(c.srv.opts.IdleTimeout)
		defer c.idle.Stop()
		idleC = c.idle.C
	}

	var stallC <-chan time.Time
	if c.srv.opts.ReadTimeout > 0 {
		c.stall = time.NewTimer(c.srv.opts.ReadTimeout)
		c.stall.Stop()
		defer c.stall.Stop()
		stallC = c.stall.C
	}

	go c.readLoop()
	for {
		select {
		case <-c.closed:
			return
		case <-ctx.Done():
			c.close(ctx.Err())
		case <-idleC:
			c.logger.Debug("idle timeout")
			c.close(nil)
		case <-stallC:
			c.logger.Debug("read timeout")
			c.close(protocol.NewError(protocol.KindTransport, "read", errReadTimeout))
		case re := <-c.events:
			c.disarmIdle()
			c.onRead(re)
		case comp := <-c.completions:
			c.onCompletion(comp)
		}
		if c.shut {
			return
		}
		c.armIdle()
		c.armStall()
	}
}

func (c *conn) readLoop() {
	dec := http1.NewRequestDecoder(c.srv.opts.MaxHeadSize)
	buf := make([]byte, readChunkSize)
	for {
		n, err := c.bc.Read(buf)
		if n > 0 {
			events, derr := dec.Feed(buf[:n])
			for _, ev := range events {
				if !c.deliver(readEvent{ev: ev}) {
					return
				}
			}
			if derr != nil {
				c.deliver(readEvent{err: derr})
				return
			}
		}
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) {
			events, derr := dec.Close()
			for _, ev := range events {
				if !c.deliver(readEvent{ev: ev}) {
					return
				}
			}
			if derr != nil {
				err = protocol.NewError(protocol.KindTransport, "read", derr)
			}
		} else {
			err = protocol.NewError(protocol.KindTransport, "read", err)
		}
		c.deliver(readEvent{err: err})
		return
	}
}

func (c *conn) deliver(re readEvent) bool {
	select {
	case c.events <- re:
		return true
	case <-c.closed:
		return false
	}
}

// post hands a completion to the actor. After close it is dropped.
func (c *conn) post(comp completion) {
	select {
	case c.completions <- comp:
	case <-c.closed:
	}
}

func (c *conn) onRead(re readEvent) {
	if re.err != nil {
		c.onReadError(re.err)
		return
	}
	switch re.ev.Kind {
	case http1.EventHead:
		c.onHead(re.ev.Request)
	case http1.EventContent:
		c.onContent(re.ev.Data)
	case http1.EventEnd:
		if c.asm != nil {
			c.asm.end()
		}
		c.current = nil
	}
}

func (c *conn) onHead(h *http1.RequestHead) {
	if c.draining {
		// the connection ends after earlier responses; ignore the rest
		c.asm = nil
		c.current = nil
		return
	}
	c.srv.stats.requests.Add(1)

	ex := &exchange{head: h, version: responseVersion(h.Version), keepAlive: h.KeepAlive()}
	c.queue = append(c.queue, ex)
	c.current = ex
	c.asm = newAssembler(c.srv.opts.MaxBodySize)
	if !ex.keepAlive {
		c.draining = true
	}

	if n, ok := declaredLength(h); ok && c.srv.opts.MaxBodySize > 0 && n > c.srv.opts.MaxBodySize {
		c.asm.head(nil)
		c.refuse(ex, protocol.NewError(protocol.KindTooLarge, "head", protocol.ErrBodyTooLarge))
		return
	}

	path, query := splitTarget(h.Target)
	route, err := c.srv.services.Route(h.Method, path, &h.Headers)
	if err != nil {
		c.asm.head(nil)
		c.refuse(ex, err)
		return
	}

	body := service.NewBody(route.Encoding, contentCharset(&h.Headers), c.srv.services.Codecs())
	c.asm.head(body)

	if h.ExpectsContinue() {
		if err := c.bc.WriteFlush(http1.AppendContinue(nil, ex.version)); err != nil {
			c.close(protocol.NewError(protocol.KindTransport, "continue", err))
			return
		}
	}

	ex.route = route
	ex.req = service.NewRequest(c.ctx, service.RequestParams{
		Method:     h.Method,
		Path:       path,
		PathParams: route.PathParams,
		Query:      query,
		Headers:    h.Headers,
		Encoding:   route.Encoding,
		Version:    h.Version,
		Requester:  c.identity(),
		Body:       body,
	})
	ex.resp = service.NewResponse(ex.version, route.Encoding)
	c.dispatch(ex)
}

func (c *conn) dispatch(ex *exchange) {
	c.srv.pool.Go(func() {
		f := c.srv.services.Dispatch(ex.route, ex.req, ex.resp)
		f.OnResult(func(r result.Result[any]) {
			c.post(completion{ex: ex, err: r.Err()})
		})
	})
}

func (c *conn) onContent(data []byte) {
	if c.asm == nil {
		return
	}
	if err := c.asm.content(data); err != nil {
		ex := c.current
		if ex == nil || !c.inQueue(ex) {
			// the response already went out; nothing left to answer
			c.close(err)
			return
		}
		c.refuse(ex, protocol.NewError(protocol.KindTooLarge, "assemble", err))
	}
}

func (c *conn) onReadError(err error) {
	if errors.Is(err, io.EOF) {
		if c.asm != nil && c.asm.active() {
			c.close(protocol.NewError(protocol.KindTransport, "read", io.ErrUnexpectedEOF))
			return
		}
		c.readDone = true
		c.draining = true
		if len(c.queue) == 0 {
			c.close(nil)
		}
		return
	}

	switch protocol.KindOf(err) {
	case protocol.KindMalformed, protocol.KindTooLarge:
		if c.asm != nil {
			c.asm.abort(err)
		}
		c.readDone = true
		ex := &exchange{version: protocol.Version1_1}
		c.queue = append(c.queue, ex)
		c.refuse(ex, err)
	default:
		c.close(err)
	}
}

func (c *conn) onCompletion(comp completion) {
	ex := comp.ex
	if ex.done {
		return
	}
	ex.done = true
	ex.err = comp.err
	c.flush()
}

// refuse answers ex with a terminal status once earlier responses are out,
// overriding whatever its handler produces.
func (c *conn) refuse(ex *exchange, err error) {
	c.draining = true
	ex.done = true
	ex.err = err
	c.flush()
}

func (c *conn) inQueue(ex *exchange) bool {
	for _, q := range c.queue {
		if q == ex {
			return true
		}
	}
	return false
}

// flush writes completed responses in request order and stops at the
// first one still pending.
func (c *conn) flush() {
	for len(c.queue) > 0 && c.queue[0].done {
		ex := c.queue[0]
		c.queue[0] = nil
		c.queue = c.queue[1:]

		if ex.err != nil {
			c.terminate(ex, ex.err)
			return
		}
		keep, err := c.srv.tx.send(c.bc, ex.head.Method, ex.keepAlive, ex.resp)
		if err != nil {
			if protocol.KindOf(err) == protocol.KindTransport {
				c.close(err)
				return
			}
			c.terminate(ex, err)
			return
		}
		status, _ := ex.resp.Status()
		c.srv.stats.responses.Add(1)
		c.srv.observe(Event{
			Type:    EventResponse,
			ConnID:  c.id,
			Remote:  c.remote,
			Method:  ex.head.Method.String(),
			Path:    ex.head.Target,
			Service: ex.route.Definition.Name(),
			Status:  status.Code(),
		})
		if !keep {
			c.close(nil)
			return
		}
	}
	if c.readDone && len(c.queue) == 0 {
		c.close(nil)
	}
}

// terminate sends the status that err's kind calls for and closes.
func (c *conn) terminate(ex *exchange, err error) {
	kind := protocol.KindOf(err)
	status := kind.Status()
	if status == 0 {
		c.close(err)
		return
	}

	fields := append(headFields(ex.head),
		zap.Int("status", status.Code()),
		zap.String("kind", kind.String()),
		zap.String("reason", err.Error()),
	)
	if kind == protocol.KindHandler || kind == protocol.KindContract {
		c.srv.stats.handlerFailures.Add(1)
		c.logger.Warn("exchange failed", fields...)
	} else {
		c.logger.Info("request refused", fields...)
	}
	c.srv.stats.terminal(status)

	ev := Event{Type: EventFailure, ConnID: c.id, Remote: c.remote, Status: status.Code(), Reason: err.Error()}
	if ex.head != nil {
		ev.Method = ex.head.Method.String()
		ev.Path = ex.head.Target
	}
	if ex.route.Definition != nil {
		ev.Service = ex.route.Definition.Name()
	}
	c.srv.observe(ev)

	if werr := c.srv.tx.sendTerminal(c.bc, ex.version, status); werr != nil {
		c.logger.Debug("terminal response not delivered", zap.String("reason", werr.Error()))
	}
	c.close(err)
}

func (c *conn) close(err error) {
	c.closeOnce.Do(func() {
		c.shut = true
		c.cancel()
		close(c.closed)
		_ = c.bc.Close()

		cause := protocol.NewError(protocol.KindTransport, "close", protocol.ErrConnClosed)
		if c.asm != nil {
			c.asm.abort(cause)
		}
		for _, ex := range c.queue {
			if ex != nil && ex.req != nil {
				ex.req.Body().Abort(cause)
			}
		}
		c.queue = nil

		c.srv.stats.closed.Add(1)
		ev := Event{Type: EventConnClosed, ConnID: c.id, Remote: c.remote}
		if err != nil {
			ev.Reason = err.Error()
			c.logger.Debug("connection closed", zap.String("reason", err.Error()))
		} else {
			c.logger.Debug("connection closed")
		}
		c.srv.observe(ev)
	})
}

func (c *conn) armIdle() {
	if c.idle == nil || len(c.queue) > 0 || (c.asm != nil && c.asm.active()) {
		return
	}
	c.idle.Reset(c.srv.opts.IdleTimeout)
}

// armStall restarts the read timer while a request body is arriving.
func (c *conn) armStall() {
	if c.stall == nil {
		return
	}
	if c.asm != nil && c.asm.active() {
		c.stall.Reset(c.srv.opts.ReadTimeout)
		return
	}
	c.stall.Stop()
}

func (c *conn) disarmIdle() {
	if c.idle != nil {
		c.idle.Stop()
	}
}

// identity is derived once, on the first request, when any TLS handshake
// has completed.
func (c *conn) identity() *identity.System {
	if c.identified {
		return c.requester
	}
	c.identified = true
	sys, err := identity.Derive(c.bc.TLSState(), c.bc.RemoteAddr(), c.srv.opts.InsecureName)
	if err != nil {
		c.logger.Debug("no requester identity", zap.String("reason", err.Error()))
		return nil
	}
	c.requester = sys
	return sys
}

func responseVersion(v protocol.Version) protocol.Version {
	if v == protocol.Version1_0 {
		return protocol.Version1_0
	}
	return protocol.Version1_1
}

func splitTarget(target string) (string, url.Values) {
	u, err := url.ParseRequestURI(target)
	if err != nil {
		return target, url.Values{}
	}
	return u.Path, u.Query()
}

func contentCharset(headers *protocol.Headers) string {
	ct, ok := headers.Get("content-type")
	if !ok {
		return ""
	}
	_, params, err := mime.ParseMediaType(ct)
	if err != nil {
		return ""
	}
	return params["charset"]
}

func declaredLength(h *http1.RequestHead) (int64, bool) {
	v, ok := h.Headers.Get("content-length")
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
