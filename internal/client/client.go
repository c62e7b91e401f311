// Package client consumes services offered by other systems. Every
// request travels on its own connection, which the client closes once the
// response is complete.
package client

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"arrowhead-go/internal/codec"
	"arrowhead-go/internal/discovery"
	"arrowhead-go/internal/future"
	"arrowhead-go/internal/http1"
	"arrowhead-go/internal/identity"
	"arrowhead-go/internal/protocol"
	"arrowhead-go/internal/transport"

	"go.uber.org/zap"
)

var (
	ErrProviderMismatch = errors.New("provider does not match its service record")
	ErrSecurityMismatch = errors.New("client and provider security modes differ")
)

type Options struct {
	// TLSConfig enables secure mode. It decides which provider chains are
	// trusted and which certificate, if any, the client presents.
	TLSConfig    *tls.Config
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MaxHeadSize  int
	// MaxBodySize bounds response bodies; 0 is unbounded.
	MaxBodySize int64
	Codecs      *codec.Registry
}

type Client struct {
	opts   Options
	dialer net.Dialer
	logger *zap.Logger
}

func New(opts Options, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 5 * time.Second
	}
	if opts.MaxHeadSize <= 0 {
		opts.MaxHeadSize = http1.DefaultMaxHeadSize
	}
	if opts.Codecs == nil {
		opts.Codecs = codec.DefaultRegistry()
	}
	return &Client{
		opts:   opts,
		dialer: net.Dialer{Timeout: opts.DialTimeout},
		logger: logger,
	}
}

func (c *Client) Secure() bool { return c.opts.TLSConfig != nil }

// Send performs req against the provider at addr. The future fails with a
// KindTransport error when the exchange could not complete; provider
// statuses, 4xx and 5xx included, are successful results.
func (c *Client) Send(ctx context.Context, addr string, req *Request) *future.Future[*Response] {
	p := future.NewPromise[*Response]()
	go func() {
		resp, err := c.roundTrip(ctx, addr, req)
		if err != nil {
			c.logger.Debug("request failed",
				zap.String("addr", addr),
				zap.String("method", req.Method().String()),
				zap.String("path", req.URI()),
				zap.String("reason", err.Error()),
			)
			p.Fail(err)
			return
		}
		p.Succeed(resp)
	}()
	return p.Future()
}

// Consume sends req to the provider described by rec. The request uses
// the record's preferred encoding unless one was chosen, and a secure
// provider must present the public key the record announces.
func (c *Client) Consume(ctx context.Context, rec discovery.Record, req *Request) *future.Future[*Response] {
	if rec.Secure != c.Secure() {
		return future.Failed[*Response](fmt.Errorf("%w: %s", ErrSecurityMismatch, rec))
	}
	if req.Encoding().IsZero() {
		encodings := rec.ParsedEncodings()
		if len(encodings) == 0 {
			return future.Failed[*Response](fmt.Errorf("%w: %s offers %v", protocol.ErrUnsupportedEncoding, rec, rec.Encodings))
		}
		req.SetEncoding(encodings[0])
	}
	if req.URI() == "" {
		req.SetURI(rec.URI)
	}

	return future.Map(c.Send(ctx, rec.Provider.Address, req), func(resp *Response) (*Response, error) {
		if !rec.Secure {
			return resp, nil
		}
		provider, ok := resp.Provider()
		if !ok {
			return nil, fmt.Errorf("%w: %s is anonymous", ErrProviderMismatch, rec)
		}
		key, err := provider.PublicKeyBase64()
		if err != nil || key != rec.Provider.PublicKey {
			return nil, fmt.Errorf("%w: %s answered as %s", ErrProviderMismatch, rec, provider)
		}
		return resp, nil
	})
}

func (c *Client) roundTrip(ctx context.Context, addr string, req *Request) (*Response, error) {
	nc, err := c.dial(ctx, addr)
	if err != nil {
		return nil, protocol.NewError(protocol.KindTransport, "dial", err)
	}
	defer nc.Close()
	stop := context.AfterFunc(ctx, func() { _ = nc.Close() })
	defer stop()

	bc := transport.NewBufferedConnWithOptions(nc, transport.ConnOptions{
		ReadTimeout:  c.opts.ReadTimeout,
		WriteTimeout: c.opts.WriteTimeout,
	})
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	provider, err := identity.Derive(bc.TLSState(), bc.RemoteAddr(), host)
	if err != nil {
		c.logger.Debug("no provider identity", zap.String("addr", addr), zap.String("reason", err.Error()))
	}

	head := req.head(addr)
	if err := transport.WriteRequest(bc, c.opts.Codecs, head, req.outgoingBody()); err != nil {
		return nil, c.failure(ctx, "write", err)
	}

	resp, err := c.readResponse(bc, head.Method)
	if err != nil {
		return nil, c.failure(ctx, "read", err)
	}
	resp.provider = provider
	resp.codecs = c.opts.Codecs
	return resp, nil
}

func (c *Client) dial(ctx context.Context, addr string) (net.Conn, error) {
	if c.opts.TLSConfig == nil {
		return c.dialer.DialContext(ctx, "tcp", addr)
	}
	d := tls.Dialer{NetDialer: &c.dialer, Config: c.opts.TLSConfig}
	return d.DialContext(ctx, "tcp", addr)
}

// readResponse collects the first final response, skipping interim ones.
func (c *Client) readResponse(r io.Reader, method protocol.Method) (*Response, error) {
	dec := http1.NewResponseDecoder(c.opts.MaxHeadSize)
	dec.ExpectResponse(method)

	var resp *Response
	handle := func(events []http1.Event) (bool, error) {
		for _, ev := range events {
			switch ev.Kind {
			case http1.EventHead:
				if ev.Response.Status.IsInformational() {
					continue
				}
				resp = &Response{head: ev.Response}
			case http1.EventContent:
				if resp == nil {
					continue
				}
				resp.body = append(resp.body, ev.Data...)
				if c.opts.MaxBodySize > 0 && int64(len(resp.body)) > c.opts.MaxBodySize {
					return false, protocol.NewError(protocol.KindTooLarge, "read", protocol.ErrBodyTooLarge)
				}
			case http1.EventEnd:
				if resp != nil {
					if resp.body == nil {
						resp.body = []byte{}
					}
					return true, nil
				}
			}
		}
		return false, nil
	}

	buf := make([]byte, 16*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			events, derr := dec.Feed(buf[:n])
			if done, herr := handle(events); herr != nil || done {
				return resp, herr
			}
			if derr != nil {
				return nil, derr
			}
		}
		if err == nil {
			continue
		}
		if !errors.Is(err, io.EOF) {
			return nil, err
		}
		events, derr := dec.Close()
		if done, herr := handle(events); herr != nil || done {
			return resp, herr
		}
		if derr != nil {
			return nil, derr
		}
		return nil, io.ErrUnexpectedEOF
	}
}

// failure prefers the context's error when cancellation closed the
// connection under the exchange.
func (c *Client) failure(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		err = ctx.Err()
	}
	if protocol.KindOf(err) == protocol.KindTooLarge || errors.Is(err, protocol.ErrMalformedMessage) {
		return protocol.NewError(protocol.KindOf(err), op, err)
	}
	return protocol.NewError(protocol.KindTransport, op, err)
}
