package service

import (
	"fmt"
	"slices"
	"strings"

	"arrowhead-go/internal/codec"
	"arrowhead-go/internal/protocol"
)

// Params describes a service to NewDefinition.
type Params struct {
	// Name is a DNS label, unique within a registry.
	Name string
	// Pattern is a "/" separated path prefix; a "#" segment matches any
	// single segment and is captured as a path parameter.
	Pattern string
	// Methods admitted by the service. Empty admits every method.
	Methods []protocol.Method
	// Encodings in order of preference. At least one is required.
	Encodings []codec.Encoding
	// DefaultEncoding is used when a request names none. It defaults to
	// the first of Encodings.
	DefaultEncoding codec.Encoding
	Handler         Handler
}

// Definition is an immutable, validated service description.
type Definition struct {
	name            string
	pattern         pattern
	methods         []protocol.Method
	encodings       []codec.Encoding
	defaultEncoding codec.Encoding
	handler         Handler
}

func NewDefinition(p Params) (*Definition, error) {
	if err := checkName(p.Name); err != nil {
		return nil, err
	}
	pat, err := parsePattern(p.Pattern)
	if err != nil {
		return nil, err
	}
	if p.Handler == nil {
		return nil, invalid("service %q has no handler", p.Name)
	}

	var methods []protocol.Method
	for _, m := range p.Methods {
		if _, ok := protocol.ParseMethod(string(m)); !ok {
			return nil, invalid("service %q: bad method %q", p.Name, m)
		}
		if !slices.Contains(methods, m) {
			methods = append(methods, m)
		}
	}

	if len(p.Encodings) == 0 {
		return nil, invalid("service %q has no encodings", p.Name)
	}
	encodings := make([]codec.Encoding, 0, len(p.Encodings))
	for _, enc := range p.Encodings {
		if enc.IsZero() {
			return nil, invalid("service %q: empty encoding", p.Name)
		}
		if containsEncoding(encodings, enc) {
			return nil, invalid("service %q: encoding %s listed twice", p.Name, enc)
		}
		encodings = append(encodings, enc)
	}
	def := p.DefaultEncoding
	if def.IsZero() {
		def = encodings[0]
	} else if !containsEncoding(encodings, def) {
		return nil, invalid("service %q: default encoding %s not among its encodings", p.Name, def)
	}

	return &Definition{
		name:            p.Name,
		pattern:         pat,
		methods:         methods,
		encodings:       encodings,
		defaultEncoding: def,
		handler:         p.Handler,
	}, nil
}

// MustDefinition is NewDefinition for static definitions known to be
// valid. It panics on error.
func MustDefinition(p Params) *Definition {
	def, err := NewDefinition(p)
	if err != nil {
		panic(err)
	}
	return def
}

func (d *Definition) Name() string                    { return d.name }
func (d *Definition) Pattern() string                 { return d.pattern.String() }
func (d *Definition) DefaultEncoding() codec.Encoding { return d.defaultEncoding }
func (d *Definition) Handler() Handler                { return d.handler }

func (d *Definition) Methods() []protocol.Method {
	return append([]protocol.Method(nil), d.methods...)
}

func (d *Definition) Encodings() []codec.Encoding {
	return append([]codec.Encoding(nil), d.encodings...)
}

// Admits reports whether the method set allows m.
func (d *Definition) Admits(m protocol.Method) bool {
	return len(d.methods) == 0 || slices.Contains(d.methods, m)
}

// Match reports whether path falls under the pattern and returns the
// captured path parameters.
func (d *Definition) Match(path string) ([]string, bool) {
	return d.pattern.match(splitPath(path))
}

func (d *Definition) conflictsWith(o *Definition) bool {
	if !d.pattern.sameShape(o.pattern) {
		return false
	}
	if len(d.methods) == 0 || len(o.methods) == 0 {
		return true
	}
	for _, m := range d.methods {
		if slices.Contains(o.methods, m) {
			return true
		}
	}
	return false
}

func (d *Definition) String() string {
	return fmt.Sprintf("%s %s", d.name, d.pattern)
}

const paramSegment = "#"

type pattern struct {
	segments []string
	literals int
}

func parsePattern(s string) (pattern, error) {
	if !strings.HasPrefix(s, "/") {
		return pattern{}, invalid("pattern %q must start with /", s)
	}
	if strings.Contains(s, "?") {
		return pattern{}, invalid("pattern %q must not carry a query", s)
	}
	segments := splitPath(s)
	p := pattern{segments: segments}
	for _, seg := range segments {
		switch {
		case seg == "":
			return pattern{}, invalid("pattern %q has an empty segment", s)
		case seg == paramSegment:
		case strings.Contains(seg, paramSegment):
			return pattern{}, invalid("pattern %q: %q mixes # with text", s, seg)
		default:
			p.literals++
		}
	}
	return p, nil
}

// splitPath turns "/a/b/" into [a b]; the root path has no segments.
func splitPath(path string) []string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

func (p pattern) match(segments []string) ([]string, bool) {
	if len(segments) < len(p.segments) {
		return nil, false
	}
	var params []string
	for i, seg := range p.segments {
		if seg == paramSegment {
			if segments[i] == "" {
				return nil, false
			}
			params = append(params, segments[i])
			continue
		}
		if seg != segments[i] {
			return nil, false
		}
	}
	return params, true
}

func (p pattern) sameShape(o pattern) bool {
	return slices.Equal(p.segments, o.segments)
}

// moreSpecific orders patterns by segment count, then literal count.
func (p pattern) moreSpecific(o pattern) bool {
	if len(p.segments) != len(o.segments) {
		return len(p.segments) > len(o.segments)
	}
	return p.literals > o.literals
}

func (p pattern) String() string {
	return "/" + strings.Join(p.segments, "/")
}

func checkName(name string) error {
	if name == "" || len(name) > 63 {
		return invalid("service name %q must be 1 to 63 characters", name)
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-' && i > 0 && i < len(name)-1:
		default:
			return invalid("service name %q is not a DNS label", name)
		}
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", protocol.ErrInvalidDefinition, fmt.Sprintf(format, args...))
}

func containsEncoding(encodings []codec.Encoding, enc codec.Encoding) bool {
	return slices.ContainsFunc(encodings, func(x codec.Encoding) bool { return x.Name == enc.Name })
}
