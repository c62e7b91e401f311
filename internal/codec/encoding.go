// Package codec names the message encodings a service can speak, turns
// structured values into bytes and back for each of them, and negotiates
// which one an exchange uses.
package codec

import "strings"

// Encoding identifies a serialization format by name and primary media
// type.
type Encoding struct {
	Name      string
	MediaType string
}

var (
	JSON     = Encoding{Name: "JSON", MediaType: "application/json"}
	XML      = Encoding{Name: "XML", MediaType: "application/xml"}
	PROTOBUF = Encoding{Name: "PROTOBUF", MediaType: "application/x-protobuf"}
)

// secondary media types accepted as equivalent to the primary one
var mediaAliases = map[string][]string{
	"XML":      {"text/xml"},
	"PROTOBUF": {"application/protobuf", "application/vnd.google.protobuf"},
}

var known = map[string]Encoding{
	JSON.Name:     JSON,
	XML.Name:      XML,
	PROTOBUF.Name: PROTOBUF,
}

// EncodingByName resolves one of the built in encodings, ignoring case.
func EncodingByName(name string) (Encoding, bool) {
	enc, ok := known[strings.ToUpper(name)]
	return enc, ok
}

func (e Encoding) String() string { return e.Name }

func (e Encoding) IsZero() bool { return e.Name == "" }

func (e Encoding) mediaTypes() []string {
	return append([]string{e.MediaType}, mediaAliases[e.Name]...)
}

// structured syntax suffix, as in "application/problem+json"
func (e Encoding) suffix() string {
	return strings.ToLower(e.Name)
}
