package service

import (
	"errors"
	"io"
	"sync"

	"arrowhead-go/internal/codec"
	"arrowhead-go/internal/future"
)

var errReaderClosed = errors.New("body reader closed")

// Body accumulates the content of one incoming request. The transport
// appends fragments as they arrive and then either finishes or aborts it;
// handlers consume it as a whole (Bytes, Text, ReadAs) or as a stream
// (Reader).
type Body struct {
	mu       sync.Mutex
	cond     *sync.Cond
	buf      []byte
	finished bool
	err      error
	done     *future.Promise[[]byte]

	encoding codec.Encoding
	charset  string
	codecs   *codec.Registry
}

// NewBody creates an open body. charset is the one named by the request's
// content-type, if any.
func NewBody(enc codec.Encoding, charset string, codecs *codec.Registry) *Body {
	if codecs == nil {
		codecs = codec.DefaultRegistry()
	}
	b := &Body{
		done:     future.NewPromise[[]byte](),
		encoding: enc,
		charset:  charset,
		codecs:   codecs,
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (b *Body) Encoding() codec.Encoding { return b.encoding }
func (b *Body) Charset() string          { return b.charset }

// Append adds a fragment. It never blocks and reports false once the body
// is finished or aborted.
func (b *Body) Append(p []byte) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.finished || b.err != nil {
		return false
	}
	if len(p) > 0 {
		b.buf = append(b.buf, p...)
		b.cond.Broadcast()
	}
	return true
}

// Len is the number of bytes received so far.
func (b *Body) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buf)
}

// Finish marks the payload complete.
func (b *Body) Finish() bool {
	b.mu.Lock()
	if b.finished || b.err != nil {
		b.mu.Unlock()
		return false
	}
	b.finished = true
	if b.buf == nil {
		b.buf = []byte{}
	}
	payload := b.buf
	b.cond.Broadcast()
	b.mu.Unlock()

	b.done.Succeed(payload)
	return true
}

// Abort drops whatever was buffered and fails every consumer with err.
func (b *Body) Abort(err error) bool {
	if err == nil {
		err = io.ErrUnexpectedEOF
	}
	b.mu.Lock()
	if b.finished || b.err != nil {
		b.mu.Unlock()
		return false
	}
	b.err = err
	b.buf = nil
	b.cond.Broadcast()
	b.mu.Unlock()

	b.done.Fail(err)
	return true
}

// Bytes completes with the whole payload. The slice must not be modified.
func (b *Body) Bytes() *future.Future[[]byte] {
	return b.done.Future()
}

// Text completes with the payload decoded from the request charset.
func (b *Body) Text() *future.Future[string] {
	return future.Map(b.Bytes(), func(data []byte) (string, error) {
		return codec.DecodeText(b.charset, data)
	})
}

// Reader streams the payload as it arrives. Every reader starts at the
// first byte; reads block until data, completion or abort.
func (b *Body) Reader() io.ReadCloser {
	return &bodyReader{body: b}
}

// ReadAs decodes the complete payload with the body's encoding.
func ReadAs[T any](b *Body) *future.Future[*T] {
	return future.Map(b.Bytes(), func(data []byte) (*T, error) {
		v := new(T)
		if err := b.codecs.Decode(b.encoding, data, v); err != nil {
			return nil, err
		}
		return v, nil
	})
}

type bodyReader struct {
	body   *Body
	off    int
	closed bool
}

func (r *bodyReader) Read(p []byte) (int, error) {
	b := r.body
	b.mu.Lock()
	defer b.mu.Unlock()
	for !r.closed && b.err == nil && !b.finished && r.off >= len(b.buf) {
		b.cond.Wait()
	}
	switch {
	case r.closed:
		return 0, errReaderClosed
	case b.err != nil:
		return 0, b.err
	case r.off < len(b.buf):
		n := copy(p, b.buf[r.off:])
		r.off += n
		return n, nil
	default:
		return 0, io.EOF
	}
}

func (r *bodyReader) Close() error {
	b := r.body
	b.mu.Lock()
	r.closed = true
	b.cond.Broadcast()
	b.mu.Unlock()
	return nil
}
