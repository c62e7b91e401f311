package transport

import (
	"bufio"
	"crypto/tls"
	"io"
	"net"
	"sync"
	"time"
)

const defaultBufferSize = 32 * 1024

type ConnOptions struct {
	BufferSize   int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// BufferedConn pairs a connection with buffered I/O. Reads belong to a
// single reader goroutine; writes are serialized by writeMu.
type BufferedConn struct {
	conn    net.Conn
	reader  *bufio.Reader
	writer  *bufio.Writer
	writeMu sync.Mutex
	opts    ConnOptions
}

func NewBufferedConn(conn net.Conn) *BufferedConn {
	return NewBufferedConnWithOptions(conn, ConnOptions{})
}

func NewBufferedConnWithOptions(conn net.Conn, opts ConnOptions) *BufferedConn {
	if opts.BufferSize <= 0 {
		opts.BufferSize = defaultBufferSize
	}
	return &BufferedConn{
		conn:   conn,
		reader: bufio.NewReaderSize(conn, opts.BufferSize),
		writer: bufio.NewWriterSize(conn, opts.BufferSize),
		opts:   opts,
	}
}

// Read returns whatever is available, waiting at most ReadTimeout.
func (c *BufferedConn) Read(p []byte) (int, error) {
	if c.opts.ReadTimeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
	}
	return c.reader.Read(p)
}

// WriteFlush writes every part in order and flushes them as one unit.
func (c *BufferedConn) WriteFlush(parts ...[]byte) error {
	return c.WriteFunc(func(w io.Writer) error {
		for _, p := range parts {
			if _, err := w.Write(p); err != nil {
				return err
			}
		}
		return nil
	})
}

// WriteFunc hands the buffered writer to fn under the write lock and
// flushes afterwards.
func (c *BufferedConn) WriteFunc(fn func(w io.Writer) error) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.opts.WriteTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	}
	if err := fn(c.writer); err != nil {
		return err
	}
	return c.writer.Flush()
}

func (c *BufferedConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// TLSState is nil for plain connections.
func (c *BufferedConn) TLSState() *tls.ConnectionState {
	tc, ok := c.conn.(*tls.Conn)
	if !ok {
		return nil
	}
	state := tc.ConnectionState()
	return &state
}

func (c *BufferedConn) Close() error {
	return c.conn.Close()
}
