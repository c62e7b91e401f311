package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"arrowhead-go/internal/codec"
	"arrowhead-go/internal/future"
	"arrowhead-go/internal/http1"
	"arrowhead-go/internal/protocol"
	"arrowhead-go/internal/service"

	"go.uber.org/zap"
	"golang.org/x/net/netutil"
)

// Services is what the transport needs from the service layer.
type Services interface {
	Route(method protocol.Method, path string, headers *protocol.Headers) (service.Route, error)
	Dispatch(route service.Route, req *service.Request, resp *service.Response) *future.Future[any]
	Codecs() *codec.Registry
}

type Options struct {
	// MaxConnections bounds concurrently accepted connections; 0 is
	// unbounded.
	MaxConnections int
	// Workers bounds concurrently running handlers.
	Workers int
	// MaxBodySize bounds request bodies; 0 is unbounded.
	MaxBodySize int64
	MaxHeadSize int
	// IdleTimeout closes connections with no request in progress.
	IdleTimeout time.Duration
	// ReadTimeout closes connections whose request body stops arriving
	// for that long; 0 falls back to IdleTimeout.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// TLSConfig enables secure mode. Client certificates, when the config
	// requests and verifies them, become requester identities.
	TLSConfig *tls.Config
	// InsecureName names requesters of plain connections; empty uses the
	// remote host.
	InsecureName  string
	StatsInterval time.Duration
	Observer      Observer
}

func (o *Options) applyDefaults() {
	if o.Workers <= 0 {
		o.Workers = 64
	}
	if o.MaxHeadSize <= 0 {
		o.MaxHeadSize = http1.DefaultMaxHeadSize
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = o.IdleTimeout
	}
	if o.Observer == nil {
		o.Observer = nopObserver{}
	}
}

// Server accepts HTTP/1.x connections and serves them against Services.
type Server struct {
	services Services
	opts     Options
	logger   *zap.Logger
	tx       *transmitter
	pool     *workerPool
	stats    Stats
	nextID   atomic.Int64
	wg       sync.WaitGroup
}

func NewServer(services Services, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts.applyDefaults()
	return &Server{
		services: services,
		opts:     opts,
		logger:   logger,
		tx:       &transmitter{codecs: services.Codecs()},
		pool:     newWorkerPool(opts.Workers),
	}
}

func (s *Server) Secure() bool { return s.opts.TLSConfig != nil }

func (s *Server) Stats() StatsSnapshot { return s.stats.Snapshot() }

func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts on ln until ctx is done, then waits for open connections
// to close.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if s.opts.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, s.opts.MaxConnections)
	}
	if s.opts.TLSConfig != nil {
		ln = tls.NewListener(ln, s.opts.TLSConfig)
	}
	defer ln.Close()

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	go s.reportStats(ctx, s.opts.StatsInterval)

	s.logger.Info("transport listening",
		zap.String("addr", ln.Addr().String()),
		zap.Bool("secure", s.Secure()),
		zap.Int("workers", s.opts.Workers),
	)

	for {
		nc, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				s.wg.Wait()
				s.pool.Wait()
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				s.wg.Wait()
				return err
			}
			s.logger.Warn("accept failed", zap.String("reason", err.Error()))
			time.Sleep(5 * time.Millisecond)
			continue
		}
		s.ServeConn(ctx, nc)
	}
}

// ServeConn serves an already accepted connection on its own goroutine.
func (s *Server) ServeConn(ctx context.Context, nc net.Conn) {
	c := newConn(s, nc, s.nextID.Add(1))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		c.serve(ctx)
	}()
}

func (s *Server) observe(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	s.opts.Observer.Observe(ev)
}
