// Package discovery publishes the services a provider offers so that
// consumers can find them, and looks them up again.
package discovery

import (
	"errors"
	"fmt"
	"strings"

	"arrowhead-go/internal/codec"
	"arrowhead-go/internal/identity"
	"arrowhead-go/internal/service"
)

var (
	ErrNotFound      = errors.New("no provider for service")
	ErrInvalidRecord = errors.New("invalid service record")
)

// Provider is the system offering a service.
type Provider struct {
	Name    string `json:"system_name"`
	Address string `json:"address"`
	// PublicKey is the base64 DER key of a secure provider.
	PublicKey string `json:"public_key,omitempty"`
}

// Record describes one service offered by one provider.
type Record struct {
	Name      string            `json:"service_definition"`
	URI       string            `json:"service_uri"`
	Methods   []string          `json:"methods,omitempty"`
	Encodings []string          `json:"interfaces"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Version   int               `json:"version"`
	Secure    bool              `json:"secure"`
	Provider  Provider          `json:"provider"`
}

func (r Record) Validate() error {
	switch {
	case r.Name == "":
		return fmt.Errorf("%w: missing service name", ErrInvalidRecord)
	case !strings.HasPrefix(r.URI, "/"):
		return fmt.Errorf("%w: uri %q of %s", ErrInvalidRecord, r.URI, r.Name)
	case len(r.Encodings) == 0:
		return fmt.Errorf("%w: %s has no encodings", ErrInvalidRecord, r.Name)
	case r.Provider.Name == "" || r.Provider.Address == "":
		return fmt.Errorf("%w: %s has no provider", ErrInvalidRecord, r.Name)
	case r.Secure && r.Provider.PublicKey == "":
		return fmt.Errorf("%w: secure %s without public key", ErrInvalidRecord, r.Name)
	}
	return nil
}

// ParsedEncodings resolves the record's encoding names, skipping unknown
// ones.
func (r Record) ParsedEncodings() []codec.Encoding {
	out := make([]codec.Encoding, 0, len(r.Encodings))
	for _, name := range r.Encodings {
		if enc, ok := codec.EncodingByName(name); ok {
			out = append(out, enc)
		}
	}
	return out
}

func (r Record) String() string {
	return r.Name + "@" + r.Provider.Name
}

// NewProvider describes the local system. A secure system publishes its
// public key.
func NewProvider(sys *identity.System, address string) (Provider, error) {
	p := Provider{Name: sys.Name(), Address: address}
	if sys.IsSecure() {
		key, err := sys.PublicKeyBase64()
		if err != nil {
			return Provider{}, fmt.Errorf("provider key: %w", err)
		}
		p.PublicKey = key
	}
	return p, nil
}

// RecordsFor describes every definition as offered by provider.
func RecordsFor(defs []*service.Definition, provider Provider) []Record {
	records := make([]Record, 0, len(defs))
	for _, def := range defs {
		rec := Record{
			Name:     def.Name(),
			URI:      def.Pattern(),
			Version:  1,
			Secure:   provider.PublicKey != "",
			Provider: provider,
		}
		for _, m := range def.Methods() {
			rec.Methods = append(rec.Methods, m.String())
		}
		for _, enc := range def.Encodings() {
			rec.Encodings = append(rec.Encodings, enc.Name)
		}
		records = append(records, rec)
	}
	return records
}
