// Package http1 frames HTTP/1.x messages: it decodes a byte stream of
// arbitrary fragmentation into head, content and end events, and encodes
// message heads back into wire bytes.
package http1

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"arrowhead-go/internal/protocol"
)

type RequestHead struct {
	Method  protocol.Method
	Target  string
	Version protocol.Version
	Headers protocol.Headers
}

// URL parses Target. Decoded heads always carry a parsable target.
func (h *RequestHead) URL() (*url.URL, error) {
	return url.ParseRequestURI(h.Target)
}

// ExpectsContinue reports an "expect: 100-continue" request on HTTP/1.1.
func (h *RequestHead) ExpectsContinue() bool {
	return h.Version.KeepAliveByDefault() && h.Headers.HasToken("expect", "100-continue")
}

// KeepAlive applies the version default and any connection header.
func (h *RequestHead) KeepAlive() bool {
	return keepAlive(h.Version, &h.Headers)
}

type ResponseHead struct {
	Version protocol.Version
	Status  protocol.Status
	Reason  string
	Headers protocol.Headers
}

func (h *ResponseHead) KeepAlive() bool {
	return keepAlive(h.Version, &h.Headers)
}

func keepAlive(v protocol.Version, headers *protocol.Headers) bool {
	if headers.HasToken("connection", "close") {
		return false
	}
	if v.KeepAliveByDefault() {
		return true
	}
	return headers.HasToken("connection", "keep-alive")
}

func parseRequestLine(line string) (*RequestHead, error) {
	method, rest, ok1 := strings.Cut(line, " ")
	target, version, ok2 := strings.Cut(rest, " ")
	if !ok1 || !ok2 || target == "" {
		return nil, fmt.Errorf("%w: request line %q", protocol.ErrMalformedMessage, line)
	}
	m, ok := protocol.ParseMethod(method)
	if !ok {
		return nil, fmt.Errorf("%w: method %q", protocol.ErrMalformedMessage, method)
	}
	v, err := protocol.ParseVersion(version)
	if err != nil {
		return nil, err
	}
	if v.Major != 1 {
		return nil, fmt.Errorf("%w: version %q", protocol.ErrMalformedMessage, version)
	}
	if m != protocol.MethodConnect && target != "*" {
		if _, err := url.ParseRequestURI(target); err != nil {
			return nil, fmt.Errorf("%w: target %q", protocol.ErrMalformedMessage, target)
		}
	}
	return &RequestHead{Method: m, Target: target, Version: v}, nil
}

func parseStatusLine(line string) (*ResponseHead, error) {
	version, rest, ok := strings.Cut(line, " ")
	if !ok {
		return nil, fmt.Errorf("%w: status line %q", protocol.ErrMalformedMessage, line)
	}
	v, err := protocol.ParseVersion(version)
	if err != nil {
		return nil, err
	}
	code, reason, _ := strings.Cut(rest, " ")
	n, err := strconv.Atoi(code)
	if err != nil || len(code) != 3 {
		return nil, fmt.Errorf("%w: status %q", protocol.ErrMalformedMessage, code)
	}
	return &ResponseHead{Version: v, Status: protocol.Status(n), Reason: reason}, nil
}

func parseHeaderLines(lines []string, headers *protocol.Headers) error {
	for _, line := range lines {
		if line == "" {
			continue
		}
		if line[0] == ' ' || line[0] == '\t' {
			return fmt.Errorf("%w: folded header line", protocol.ErrMalformedMessage)
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok || name == "" {
			return fmt.Errorf("%w: header line %q", protocol.ErrMalformedMessage, line)
		}
		if _, valid := protocol.ParseMethod(name); !valid {
			// header names share the token grammar of methods
			return fmt.Errorf("%w: header name %q", protocol.ErrMalformedMessage, name)
		}
		headers.Add(name, strings.TrimSpace(value))
	}
	return nil
}
