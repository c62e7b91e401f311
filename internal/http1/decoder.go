package http1

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"arrowhead-go/internal/protocol"
)

const (
	DefaultMaxHeadSize = 64 << 10
	maxChunkLineSize   = 4 << 10
)

type EventKind int

const (
	EventHead EventKind = iota + 1
	EventContent
	EventEnd
)

func (k EventKind) String() string {
	switch k {
	case EventHead:
		return "head"
	case EventContent:
		return "content"
	case EventEnd:
		return "end"
	}
	return "event(" + strconv.Itoa(int(k)) + ")"
}

// Event is one step of a decoded message. Exactly one of Request and
// Response is set on head events of the matching decoder. Data on content
// events is owned by the receiver.
type Event struct {
	Kind     EventKind
	Request  *RequestHead
	Response *ResponseHead
	Data     []byte
}

type decodeState int

const (
	stateHead decodeState = iota
	stateFixed
	stateChunkSize
	stateChunkData
	stateChunkEnd
	stateTrailer
	stateUntilClose
	stateFailed
)

type mode int

const (
	modeRequest mode = iota
	modeResponse
)

// Decoder turns a byte stream into message events. Fragment boundaries of
// the input never show in the output: feeding a message in one call or
// byte by byte yields the same heads and the same concatenated content.
//
// A Decoder is not safe for concurrent use.
type Decoder struct {
	mode        mode
	maxHeadSize int

	state     decodeState
	buf       []byte
	remaining int64
	err       error

	// methods of requests sent on the connection whose responses are
	// still outstanding; a response to HEAD carries no content
	pendingMethods []protocol.Method
}

func NewRequestDecoder(maxHeadSize int) *Decoder {
	return newDecoder(modeRequest, maxHeadSize)
}

func NewResponseDecoder(maxHeadSize int) *Decoder {
	return newDecoder(modeResponse, maxHeadSize)
}

func newDecoder(m mode, maxHeadSize int) *Decoder {
	if maxHeadSize <= 0 {
		maxHeadSize = DefaultMaxHeadSize
	}
	return &Decoder{mode: m, maxHeadSize: maxHeadSize}
}

// ExpectResponse records that a request with method was sent, so that the
// framing of its response can be decided.
func (d *Decoder) ExpectResponse(method protocol.Method) {
	d.pendingMethods = append(d.pendingMethods, method)
}

// Idle reports whether the decoder sits between messages with nothing
// buffered.
func (d *Decoder) Idle() bool {
	return d.state == stateHead && len(d.buf) == 0
}

// Feed consumes p and returns the events it completes. Once an error is
// returned the decoder is unusable and keeps returning it.
func (d *Decoder) Feed(p []byte) ([]Event, error) {
	if d.state == stateFailed {
		return nil, d.err
	}
	d.buf = append(d.buf, p...)
	events, err := d.process(nil)
	if err != nil {
		d.fail(err)
		return events, err
	}
	d.compact()
	return events, nil
}

// Close signals end of input. A body delimited by connection close ends
// here; any other partial message is an error.
func (d *Decoder) Close() ([]Event, error) {
	switch d.state {
	case stateFailed:
		return nil, d.err
	case stateUntilClose:
		d.state = stateHead
		return []Event{{Kind: EventEnd}}, nil
	case stateHead:
		if len(bytes.TrimLeft(d.buf, "\r\n")) == 0 {
			d.buf = d.buf[:0]
			return nil, nil
		}
	}
	err := fmt.Errorf("%w: input ended inside a message", protocol.ErrMalformedMessage)
	d.fail(err)
	return nil, err
}

func (d *Decoder) fail(err error) {
	d.state = stateFailed
	d.err = err
	d.buf = nil
}

func (d *Decoder) compact() {
	if len(d.buf) == 0 && cap(d.buf) > d.maxHeadSize {
		d.buf = nil
	}
}

func (d *Decoder) consume(n int) {
	d.buf = d.buf[:copy(d.buf, d.buf[n:])]
}

func (d *Decoder) process(events []Event) ([]Event, error) {
	for {
		switch d.state {
		case stateHead:
			// tolerate empty lines between messages
			skip := 0
			for skip < len(d.buf) && (d.buf[skip] == '\r' || d.buf[skip] == '\n') {
				skip++
			}
			if skip > 0 {
				d.consume(skip)
			}
			idx := bytes.Index(d.buf, []byte("\r\n\r\n"))
			if idx < 0 {
				if len(d.buf) > d.maxHeadSize {
					return events, fmt.Errorf("%w: head exceeds %d bytes", protocol.ErrBodyTooLarge, d.maxHeadSize)
				}
				return events, nil
			}
			if idx > d.maxHeadSize {
				return events, fmt.Errorf("%w: head exceeds %d bytes", protocol.ErrBodyTooLarge, d.maxHeadSize)
			}
			head := string(d.buf[:idx])
			d.consume(idx + 4)
			ev, err := d.decodeHead(head)
			if err != nil {
				return events, err
			}
			events = append(events, ev)
			if d.state == stateHead {
				events = append(events, Event{Kind: EventEnd})
			}

		case stateFixed, stateChunkData:
			if len(d.buf) == 0 {
				return events, nil
			}
			n := len(d.buf)
			if int64(n) > d.remaining {
				n = int(d.remaining)
			}
			data := make([]byte, n)
			copy(data, d.buf[:n])
			d.consume(n)
			d.remaining -= int64(n)
			events = append(events, Event{Kind: EventContent, Data: data})
			if d.remaining > 0 {
				return events, nil
			}
			if d.state == stateFixed {
				d.state = stateHead
				events = append(events, Event{Kind: EventEnd})
			} else {
				d.state = stateChunkEnd
			}

		case stateChunkSize:
			line, ok, err := d.line()
			if err != nil || !ok {
				return events, err
			}
			size, err := parseChunkSize(line)
			if err != nil {
				return events, err
			}
			if size == 0 {
				d.state = stateTrailer
			} else {
				d.remaining = size
				d.state = stateChunkData
			}

		case stateChunkEnd:
			if len(d.buf) < 2 {
				return events, nil
			}
			if d.buf[0] != '\r' || d.buf[1] != '\n' {
				return events, fmt.Errorf("%w: missing chunk terminator", protocol.ErrMalformedMessage)
			}
			d.consume(2)
			d.state = stateChunkSize

		case stateTrailer:
			line, ok, err := d.line()
			if err != nil || !ok {
				return events, err
			}
			if line == "" {
				d.state = stateHead
				events = append(events, Event{Kind: EventEnd})
			}

		case stateUntilClose:
			if len(d.buf) == 0 {
				return events, nil
			}
			data := make([]byte, len(d.buf))
			copy(data, d.buf)
			d.buf = d.buf[:0]
			return append(events, Event{Kind: EventContent, Data: data}), nil

		default:
			return events, d.err
		}
	}
}

func (d *Decoder) line() (string, bool, error) {
	idx := bytes.Index(d.buf, []byte("\r\n"))
	if idx < 0 {
		if len(d.buf) > maxChunkLineSize {
			return "", false, fmt.Errorf("%w: chunk line too long", protocol.ErrMalformedMessage)
		}
		return "", false, nil
	}
	line := string(d.buf[:idx])
	d.consume(idx + 2)
	return line, true, nil
}

func parseChunkSize(line string) (int64, error) {
	if i := strings.IndexByte(line, ';'); i >= 0 {
		line = line[:i]
	}
	line = strings.TrimSpace(line)
	size, err := strconv.ParseInt(line, 16, 64)
	if err != nil || size < 0 {
		return 0, fmt.Errorf("%w: chunk size %q", protocol.ErrMalformedMessage, line)
	}
	return size, nil
}

func (d *Decoder) decodeHead(text string) (Event, error) {
	lines := strings.Split(text, "\r\n")
	if d.mode == modeRequest {
		head, err := parseRequestLine(lines[0])
		if err != nil {
			return Event{}, err
		}
		if err := parseHeaderLines(lines[1:], &head.Headers); err != nil {
			return Event{}, err
		}
		if err := d.frameRequest(head); err != nil {
			return Event{}, err
		}
		return Event{Kind: EventHead, Request: head}, nil
	}

	head, err := parseStatusLine(lines[0])
	if err != nil {
		return Event{}, err
	}
	if err := parseHeaderLines(lines[1:], &head.Headers); err != nil {
		return Event{}, err
	}
	if err := d.frameResponse(head); err != nil {
		return Event{}, err
	}
	return Event{Kind: EventHead, Response: head}, nil
}

func (d *Decoder) frameRequest(head *RequestHead) error {
	chunked, err := transferChunked(&head.Headers)
	if err != nil {
		return err
	}
	if chunked {
		d.state = stateChunkSize
		return nil
	}
	length, ok, err := contentLength(&head.Headers)
	if err != nil {
		return err
	}
	d.startFixed(length, ok)
	return nil
}

func (d *Decoder) frameResponse(head *ResponseHead) error {
	var method protocol.Method
	informational := head.Status.IsInformational()
	if !informational && len(d.pendingMethods) > 0 {
		method = d.pendingMethods[0]
		d.pendingMethods = d.pendingMethods[1:]
	}
	if informational || method == protocol.MethodHead || !head.Status.PermitsBody() {
		d.state = stateHead
		return nil
	}
	chunked, err := transferChunked(&head.Headers)
	if err != nil {
		d.state = stateUntilClose
		return nil
	}
	if chunked {
		d.state = stateChunkSize
		return nil
	}
	length, ok, err := contentLength(&head.Headers)
	if err != nil {
		return err
	}
	if !ok {
		d.state = stateUntilClose
		return nil
	}
	d.startFixed(length, true)
	return nil
}

func (d *Decoder) startFixed(length int64, ok bool) {
	if !ok || length == 0 {
		d.state = stateHead
		return
	}
	d.remaining = length
	d.state = stateFixed
}

// transferChunked reports a chunked final coding. Any other coding is an
// error since only chunked framing is understood.
func transferChunked(headers *protocol.Headers) (bool, error) {
	values := headers.Values("transfer-encoding")
	if len(values) == 0 {
		return false, nil
	}
	var codings []string
	for _, v := range values {
		for _, c := range strings.Split(v, ",") {
			if c = strings.TrimSpace(c); c != "" {
				codings = append(codings, strings.ToLower(c))
			}
		}
	}
	if len(codings) == 0 || codings[len(codings)-1] != "chunked" {
		return false, fmt.Errorf("%w: transfer-encoding %q", protocol.ErrMalformedMessage, strings.Join(values, ", "))
	}
	return true, nil
}

func contentLength(headers *protocol.Headers) (int64, bool, error) {
	values := headers.Values("content-length")
	if len(values) == 0 {
		return 0, false, nil
	}
	var length int64 = -1
	for _, v := range values {
		for _, element := range strings.Split(v, ",") {
			n, err := strconv.ParseInt(strings.TrimSpace(element), 10, 64)
			if err != nil || n < 0 {
				return 0, false, fmt.Errorf("%w: content-length %q", protocol.ErrMalformedMessage, v)
			}
			if length >= 0 && n != length {
				return 0, false, fmt.Errorf("%w: conflicting content-length", protocol.ErrMalformedMessage)
			}
			length = n
		}
	}
	return length, true, nil
}
