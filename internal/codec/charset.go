package codec

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/htmlindex"
)

const DefaultCharset = "utf-8"

// IsUTF8 reports whether charset names UTF-8 or is empty.
func IsUTF8(charset string) bool {
	switch strings.ToLower(strings.TrimSpace(charset)) {
	case "", "utf-8", "utf8":
		return true
	}
	return false
}

// EncodeText converts text to charset. Unknown charsets are an error.
func EncodeText(charset, text string) ([]byte, error) {
	if IsUTF8(charset) {
		return []byte(text), nil
	}
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return nil, fmt.Errorf("charset %q: %w", charset, err)
	}
	data, err := enc.NewEncoder().Bytes([]byte(text))
	if err != nil {
		return nil, fmt.Errorf("encode text as %s: %w", charset, err)
	}
	return data, nil
}

// DecodeText converts data in charset to a string.
func DecodeText(charset string, data []byte) (string, error) {
	if IsUTF8(charset) {
		if !utf8.Valid(data) {
			return "", fmt.Errorf("decode text: invalid utf-8")
		}
		return string(data), nil
	}
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return "", fmt.Errorf("charset %q: %w", charset, err)
	}
	out, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return "", fmt.Errorf("decode text as %s: %w", charset, err)
	}
	return string(out), nil
}

// CanonicalCharset returns the registered name of charset, or the input
// lowercased when it is unknown.
func CanonicalCharset(charset string) string {
	if IsUTF8(charset) {
		return DefaultCharset
	}
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return strings.ToLower(charset)
	}
	name, err := htmlindex.Name(enc)
	if err != nil {
		return strings.ToLower(charset)
	}
	return name
}
