// internal/service/modules/echo/echo.go
package echo

import (
	"encoding/xml"
	"sync/atomic"

	"arrowhead-go/internal/codec"
	"arrowhead-go/internal/future"
	"arrowhead-go/internal/protocol"
	"arrowhead-go/internal/result"
	"arrowhead-go/internal/service"

	"google.golang.org/protobuf/types/known/structpb"
)

// Message is the echo payload in JSON and XML. PROTOBUF exchanges carry a
// google.protobuf.Struct instead.
type Message struct {
	XMLName   xml.Name `json:"-" xml:"message"`
	Text      string   `json:"text" xml:"text"`
	Requester string   `json:"requester,omitempty" xml:"requester,omitempty"`
	Sequence  int64    `json:"sequence" xml:"sequence"`
}

type Module struct {
	seq atomic.Int64
}

func New() *Module { return &Module{} }

func (m *Module) Name() string { return "echo" }
func (m *Module) Init() error  { return nil }

func (m *Module) Services() ([]*service.Definition, error) {
	value, err := service.NewDefinition(service.Params{
		Name:      "echo",
		Pattern:   "/echo",
		Methods:   []protocol.Method{protocol.MethodPost, protocol.MethodPut},
		Encodings: []codec.Encoding{codec.JSON, codec.XML, codec.PROTOBUF},
		Handler:   m.onValue,
	})
	if err != nil {
		return nil, err
	}
	text, err := service.NewDefinition(service.Params{
		Name:      "echo-text",
		Pattern:   "/echo",
		Methods:   []protocol.Method{protocol.MethodGet, protocol.MethodHead},
		Encodings: []codec.Encoding{codec.JSON, codec.XML, codec.PROTOBUF},
		Handler:   service.HandlerFunc(m.onText).Async(),
	})
	if err != nil {
		return nil, err
	}
	return []*service.Definition{value, text}, nil
}

// onValue decodes the body in the negotiated encoding and writes it back
// in the same encoding, stamped with the requester and a sequence number.
func (m *Module) onValue(req *service.Request, resp *service.Response) *future.Future[any] {
	requester := ""
	if sys, ok := req.Requester(); ok {
		requester = sys.Name()
	}

	if req.Encoding() == codec.PROTOBUF {
		return reply(resp, service.ReadAs[structpb.Struct](req.Body()), func(s *structpb.Struct) any {
			if s.Fields == nil {
				s.Fields = map[string]*structpb.Value{}
			}
			s.Fields["requester"] = structpb.NewStringValue(requester)
			s.Fields["sequence"] = structpb.NewNumberValue(float64(m.seq.Add(1)))
			return s
		})
	}
	return reply(resp, service.ReadAs[Message](req.Body()), func(msg *Message) any {
		msg.Requester = requester
		msg.Sequence = m.seq.Add(1)
		return msg
	})
}

// reply answers 200 with the transformed value, or 400 when the body
// could not be decoded.
func reply[T any](resp *service.Response, body *future.Future[*T], fn func(*T) any) *future.Future[any] {
	p := future.NewPromise[any]()
	body.OnResult(func(r result.Result[*T]) {
		v, err := r.Get()
		if err != nil {
			resp.SetError(protocol.StatusBadRequest, service.ErrorResponse{
				Message: err.Error(),
				Type:    "BAD_PAYLOAD",
			})
			p.Succeed(nil)
			return
		}
		resp.SetStatus(protocol.StatusOK).SetValue(fn(v))
		p.Succeed(nil)
	})
	return p.Future()
}

// onText echoes the msg query parameter as plain text.
func (m *Module) onText(req *service.Request, resp *service.Response) error {
	msg, ok := req.QueryValue("msg")
	if !ok {
		resp.SetError(protocol.StatusBadRequest, service.ErrorResponse{
			Message: "missing query parameter msg",
			Type:    "BAD_PAYLOAD",
		})
		return nil
	}
	resp.SetStatus(protocol.StatusOK).SetText(msg)
	return nil
}
