package protocol

import "strings"

type Header struct {
	Name  string
	Value string
}

// Headers is an ordered multi-map of header fields. Names are stored in
// lower case and compared case-insensitively.
type Headers struct {
	fields []Header
}

func (h *Headers) Add(name, value string) {
	h.fields = append(h.fields, Header{Name: strings.ToLower(name), Value: value})
}

// Set replaces every field called name with a single one.
func (h *Headers) Set(name, value string) {
	h.Del(name)
	h.Add(name, value)
}

func (h *Headers) Del(name string) {
	name = strings.ToLower(name)
	kept := h.fields[:0]
	for _, f := range h.fields {
		if f.Name != name {
			kept = append(kept, f)
		}
	}
	h.fields = kept
}

func (h *Headers) Clear() {
	h.fields = h.fields[:0]
}

// Get returns the first value of name.
func (h *Headers) Get(name string) (string, bool) {
	name = strings.ToLower(name)
	for _, f := range h.fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return "", false
}

func (h *Headers) Values(name string) []string {
	name = strings.ToLower(name)
	var values []string
	for _, f := range h.fields {
		if f.Name == name {
			values = append(values, f.Value)
		}
	}
	return values
}

func (h *Headers) Has(name string) bool {
	_, ok := h.Get(name)
	return ok
}

// HasToken reports whether any comma separated element of any name field
// equals token, ignoring case.
func (h *Headers) HasToken(name, token string) bool {
	for _, value := range h.Values(name) {
		for _, element := range strings.Split(value, ",") {
			if strings.EqualFold(strings.TrimSpace(element), token) {
				return true
			}
		}
	}
	return false
}

func (h *Headers) Len() int { return len(h.fields) }

// All returns a copy of the fields in insertion order.
func (h *Headers) All() []Header {
	out := make([]Header, len(h.fields))
	copy(out, h.fields)
	return out
}

func (h *Headers) Clone() Headers {
	return Headers{fields: h.All()}
}
