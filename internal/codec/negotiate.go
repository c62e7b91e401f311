package codec

import (
	"fmt"
	"mime"
	"sort"
	"strconv"
	"strings"

	"arrowhead-go/internal/protocol"
)

type mediaRange struct {
	typ     string
	subtype string
	q       float64
}

func parseMediaRange(s string) (mediaRange, bool) {
	mt, params, err := mime.ParseMediaType(s)
	if err != nil {
		return mediaRange{}, false
	}
	typ, subtype, ok := strings.Cut(mt, "/")
	if !ok || typ == "" || subtype == "" {
		return mediaRange{}, false
	}
	q := 1.0
	if raw, ok := params["q"]; ok {
		q, err = strconv.ParseFloat(raw, 64)
		if err != nil || q < 0 || q > 1 {
			return mediaRange{}, false
		}
	}
	return mediaRange{typ: typ, subtype: subtype, q: q}, true
}

// Compatible reports whether enc can serve a message labeled mediaType.
func Compatible(enc Encoding, mediaType string) bool {
	r, ok := parseMediaRange(mediaType)
	return ok && compatible(enc, r)
}

// ForMediaType finds the built in encoding that a content type denotes.
func ForMediaType(contentType string) (Encoding, bool) {
	r, ok := parseMediaRange(contentType)
	if !ok || r.typ == "*" {
		return Encoding{}, false
	}
	for _, enc := range []Encoding{JSON, XML, PROTOBUF} {
		if compatible(enc, r) {
			return enc, true
		}
	}
	return Encoding{}, false
}

func compatible(enc Encoding, r mediaRange) bool {
	for _, mt := range enc.mediaTypes() {
		typ, subtype, _ := strings.Cut(mt, "/")
		if r.typ == "*" {
			if r.subtype == "*" {
				return true
			}
			continue
		}
		if r.typ != typ {
			continue
		}
		if r.subtype == "*" || r.subtype == subtype {
			return true
		}
		if strings.HasSuffix(r.subtype, "+"+enc.suffix()) {
			return true
		}
	}
	return false
}

// parseAccept flattens every accept value into media ranges ordered by
// descending quality. Unparsable ranges are dropped; q=0 ranges stay so
// that they can refuse the encodings they name.
func parseAccept(values []string) []mediaRange {
	var ranges []mediaRange
	for _, value := range values {
		for _, element := range strings.Split(value, ",") {
			element = strings.TrimSpace(element)
			if element == "" {
				continue
			}
			r, ok := parseMediaRange(element)
			if !ok {
				continue
			}
			ranges = append(ranges, r)
		}
	}
	sort.SliceStable(ranges, func(i, j int) bool { return ranges[i].q > ranges[j].q })
	return ranges
}

func (r mediaRange) specificity() int {
	switch {
	case r.typ == "*":
		return 0
	case r.subtype == "*":
		return 1
	default:
		return 2
	}
}

// governing returns the index of the most specific range matching enc,
// or -1. The first of equally specific ranges wins.
func governing(enc Encoding, ranges []mediaRange) int {
	best := -1
	for i, r := range ranges {
		if !compatible(enc, r) {
			continue
		}
		if best < 0 || r.specificity() > ranges[best].specificity() {
			best = i
		}
	}
	return best
}

// Negotiate picks the single encoding used for both the request and the
// response of one exchange.
//
// A content-type header decides on its own. Without one, accept is
// consulted as a fallback; without either, defaultEncoding is used.
func Negotiate(encodings []Encoding, defaultEncoding Encoding, headers *protocol.Headers) (Encoding, error) {
	if contentType, ok := headers.Get("content-type"); ok {
		r, ok := parseMediaRange(contentType)
		if ok {
			for _, enc := range encodings {
				if compatible(enc, r) {
					return enc, nil
				}
			}
		}
		return Encoding{}, fmt.Errorf("%w: content-type %q", protocol.ErrUnsupportedEncoding, contentType)
	}

	if accept := headers.Values("accept"); len(accept) > 0 {
		ranges := parseAccept(accept)
		for i, r := range ranges {
			if r.q == 0 {
				break
			}
			for _, enc := range encodings {
				// a more specific range decides, possibly refusing enc
				if governing(enc, ranges) == i {
					return enc, nil
				}
			}
		}
		return Encoding{}, fmt.Errorf("%w: accept %q", protocol.ErrUnsupportedEncoding, strings.Join(accept, ", "))
	}

	return defaultEncoding, nil
}
