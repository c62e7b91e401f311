package codec

import (
	"encoding/json"
	"encoding/xml"
	"fmt"

	"arrowhead-go/internal/common/registry"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
}

// Registry maps encoding names to codecs.
type Registry struct {
	codecs *registry.Registry[string, Codec]
}

func NewRegistry() *Registry {
	return &Registry{codecs: registry.New[string, Codec]()}
}

// DefaultRegistry knows JSON, XML and PROTOBUF.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.codecs.Replace(JSON.Name, jsonCodec{})
	r.codecs.Replace(XML.Name, xmlCodec{})
	r.codecs.Replace(PROTOBUF.Name, protoCodec{})
	return r
}

func (r *Registry) Register(enc Encoding, c Codec) error {
	if err := r.codecs.Register(enc.Name, c); err != nil {
		return fmt.Errorf("register codec %s: %w", enc, err)
	}
	return nil
}

func (r *Registry) Lookup(enc Encoding) (Codec, bool) {
	return r.codecs.Get(enc.Name)
}

func (r *Registry) Encode(enc Encoding, v any) ([]byte, error) {
	c, ok := r.Lookup(enc)
	if !ok {
		return nil, fmt.Errorf("encode %s: no codec", enc)
	}
	data, err := c.Encode(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", enc, err)
	}
	return data, nil
}

func (r *Registry) Decode(enc Encoding, data []byte, v any) error {
	c, ok := r.Lookup(enc)
	if !ok {
		return fmt.Errorf("decode %s: no codec", enc)
	}
	if err := c.Decode(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", enc, err)
	}
	return nil
}

// jsonCodec uses protojson for protobuf messages so that their JSON form
// follows the proto3 mapping.
type jsonCodec struct{}

func (jsonCodec) Encode(v any) ([]byte, error) {
	if m, ok := v.(proto.Message); ok {
		return protojson.Marshal(m)
	}
	return json.Marshal(v)
}

func (jsonCodec) Decode(data []byte, v any) error {
	if m, ok := v.(proto.Message); ok {
		return protojson.Unmarshal(data, m)
	}
	return json.Unmarshal(data, v)
}

type xmlCodec struct{}

func (xmlCodec) Encode(v any) ([]byte, error)    { return xml.Marshal(v) }
func (xmlCodec) Decode(data []byte, v any) error { return xml.Unmarshal(data, v) }

type protoCodec struct{}

func (protoCodec) Encode(v any) ([]byte, error) {
	m, ok := v.(proto.Message)
	if !ok {
		return nil, fmt.Errorf("%T is not a proto.Message", v)
	}
	return proto.Marshal(m)
}

func (protoCodec) Decode(data []byte, v any) error {
	m, ok := v.(proto.Message)
	if !ok {
		return fmt.Errorf("%T is not a proto.Message", v)
	}
	return proto.Unmarshal(data, m)
}
