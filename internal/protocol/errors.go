package protocol

import (
	"errors"
	"fmt"
)

// Kind classifies a failure by how the transport must react to it.
type Kind int32

const (
	KindUnknown Kind = iota

	// ---- terminal, with a response ----
	KindRouting     // 404
	KindNegotiation // 415
	KindHandler     // 500
	KindContract    // 500, handler broke the response contract
	KindMalformed   // 400
	KindTooLarge    // 413

	// ---- terminal, no response if the connection is unusable ----
	KindTransport
)

var kindNames = map[Kind]string{
	KindUnknown:     "unknown",
	KindRouting:     "routing",
	KindNegotiation: "negotiation",
	KindHandler:     "handler",
	KindContract:    "contract",
	KindMalformed:   "malformed",
	KindTooLarge:    "too_large",
	KindTransport:   "transport",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int32(k))
}

// Status is the terminal status the core sends for k, or 0 if none.
func (k Kind) Status() Status {
	switch k {
	case KindRouting:
		return StatusNotFound
	case KindNegotiation:
		return StatusUnsupportedMediaType
	case KindHandler, KindContract, KindUnknown:
		return StatusInternalServerError
	case KindMalformed:
		return StatusBadRequest
	case KindTooLarge:
		return StatusContentTooLarge
	default:
		return 0
	}
}

var (
	ErrNoService           = errors.New("no matching service")
	ErrUnsupportedEncoding = errors.New("unsupported encoding")
	ErrConflict            = errors.New("conflicting service registration")
	ErrStatusNotSet        = errors.New("handler completed without setting a status")
	ErrConnClosed          = errors.New("connection closed")
	ErrBodyTooLarge        = errors.New("body exceeds size limit")
	ErrMalformedMessage    = errors.New("malformed message")
	ErrUnsupportedVersion  = errors.New("unsupported protocol version")
	ErrInvalidDefinition   = errors.New("invalid service definition")
)

// Error attaches a Kind and an operation name to a cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s failure: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s failure in %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf finds the Kind of err, defaulting to KindHandler for anything
// that did not come from the transport itself.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	switch {
	case errors.Is(err, ErrNoService):
		return KindRouting
	case errors.Is(err, ErrUnsupportedEncoding):
		return KindNegotiation
	case errors.Is(err, ErrStatusNotSet):
		return KindContract
	case errors.Is(err, ErrMalformedMessage):
		return KindMalformed
	case errors.Is(err, ErrBodyTooLarge):
		return KindTooLarge
	case errors.Is(err, ErrConnClosed):
		return KindTransport
	}
	return KindHandler
}
