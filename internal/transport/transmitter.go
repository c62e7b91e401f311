package transport

import (
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strconv"

	"arrowhead-go/internal/codec"
	"arrowhead-go/internal/http1"
	"arrowhead-go/internal/protocol"
	"arrowhead-go/internal/service"
)

const octetStream = "application/octet-stream"

// transmitter serializes service responses onto a connection.
type transmitter struct {
	codecs *codec.Registry
}

// outgoing is a response body reduced to bytes or an open file.
type outgoing struct {
	payload []byte
	file    *os.File
	size    int64
}

func (o *outgoing) close() {
	if o.file != nil {
		_ = o.file.Close()
	}
}

// send writes resp as the answer to a request with method. It reports
// whether the connection may carry further exchanges. Nothing is written
// when preparing the body fails, so the caller can still answer 500.
func (t *transmitter) send(w *BufferedConn, method protocol.Method, keepAlive bool, resp *service.Response) (bool, error) {
	status, ok := resp.Status()
	if !ok {
		return false, protocol.NewError(protocol.KindContract, "transmit", protocol.ErrStatusNotSet)
	}

	head := &http1.ResponseHead{Version: resp.Version(), Status: status, Headers: resp.Headers().Clone()}
	head.Headers.Del("transfer-encoding")
	head.Headers.Del("content-length")

	out, err := prepareBody(t.codecs, resp.Body(), &head.Headers)
	if err != nil {
		return false, protocol.NewError(protocol.KindHandler, "transmit", err)
	}
	defer out.close()

	if status.PermitsBody() {
		head.Headers.Set("content-length", strconv.FormatInt(out.size, 10))
	} else {
		head.Headers.Del("content-type")
	}

	keepAlive = keepAlive && !head.Headers.HasToken("connection", "close")
	if !keepAlive {
		head.Headers.Set("connection", "close")
	} else if !head.Version.KeepAliveByDefault() {
		head.Headers.Set("connection", "keep-alive")
	}

	withBody := method != protocol.MethodHead && status.PermitsBody()
	err = w.WriteFunc(func(wr io.Writer) error {
		if _, err := wr.Write(http1.AppendResponseHead(nil, head)); err != nil {
			return err
		}
		if !withBody {
			return nil
		}
		return out.writeTo(wr)
	})
	if err != nil {
		return false, protocol.NewError(protocol.KindTransport, "transmit", err)
	}
	return keepAlive, nil
}

// WriteRequest writes a request head and its body as one flushed unit.
// The body is framed with content-length; any framing headers already in
// head are replaced.
func WriteRequest(w *BufferedConn, codecs *codec.Registry, head *http1.RequestHead, body service.ResponseBody) error {
	if codecs == nil {
		codecs = codec.DefaultRegistry()
	}
	head.Headers.Del("transfer-encoding")
	head.Headers.Del("content-length")
	out, err := prepareBody(codecs, body, &head.Headers)
	if err != nil {
		return err
	}
	defer out.close()
	if out.size > 0 || expectsBody(head.Method) {
		head.Headers.Set("content-length", strconv.FormatInt(out.size, 10))
	}
	return w.WriteFunc(func(wr io.Writer) error {
		if _, err := wr.Write(http1.AppendRequestHead(nil, head)); err != nil {
			return err
		}
		return out.writeTo(wr)
	})
}

func expectsBody(m protocol.Method) bool {
	return m == protocol.MethodPost || m == protocol.MethodPut || m == protocol.MethodPatch
}

func (o *outgoing) writeTo(w io.Writer) error {
	if o.file != nil {
		_, err := io.CopyN(w, o.file, o.size)
		return err
	}
	_, err := w.Write(o.payload)
	return err
}

// prepareBody reduces body to bytes or an open file and fills in a
// default content-type.
func prepareBody(codecs *codec.Registry, body service.ResponseBody, headers *protocol.Headers) (*outgoing, error) {
	switch b := body.(type) {
	case nil, service.NoBody:
		return &outgoing{}, nil

	case service.BytesBody:
		return &outgoing{payload: b.Data, size: int64(len(b.Data))}, nil

	case service.TextBody:
		data, err := codec.EncodeText(b.Charset, b.Text)
		if err != nil {
			return nil, err
		}
		setDefault(headers, "content-type", "text/plain; charset="+codec.CanonicalCharset(b.Charset))
		return &outgoing{payload: data, size: int64(len(data))}, nil

	case service.ValueBody:
		data, err := codecs.Encode(b.Encoding, b.Value)
		if err != nil {
			return nil, err
		}
		setDefault(headers, "content-type", b.Encoding.MediaType)
		return &outgoing{payload: data, size: int64(len(data))}, nil

	case service.FileBody:
		f, err := os.Open(b.Path)
		if err != nil {
			return nil, err
		}
		info, err := f.Stat()
		if err != nil {
			_ = f.Close()
			return nil, err
		}
		if info.IsDir() {
			_ = f.Close()
			return nil, fmt.Errorf("%s is a directory", b.Path)
		}
		contentType := mime.TypeByExtension(filepath.Ext(b.Path))
		if contentType == "" {
			contentType = octetStream
		}
		setDefault(headers, "content-type", contentType)
		return &outgoing{file: f, size: info.Size()}, nil
	}
	return nil, fmt.Errorf("unknown response body %T", body)
}

// sendTerminal answers with an empty-bodied status and announces the
// close.
func (t *transmitter) sendTerminal(w *BufferedConn, v protocol.Version, status protocol.Status) error {
	head := &http1.ResponseHead{Version: v, Status: status}
	head.Headers.Set("content-length", "0")
	head.Headers.Set("connection", "close")
	return w.WriteFlush(http1.AppendResponseHead(nil, head))
}

func setDefault(headers *protocol.Headers, name, value string) {
	if !headers.Has(name) {
		headers.Set(name, value)
	}
}
