package protocol

// Method is an HTTP request method token. Method names are case
// sensitive (RFC 7230, section 3.1.1).
type Method string

const (
	MethodGet     Method = "GET"
	MethodPost    Method = "POST"
	MethodPut     Method = "PUT"
	MethodDelete  Method = "DELETE"
	MethodHead    Method = "HEAD"
	MethodOptions Method = "OPTIONS"
	MethodConnect Method = "CONNECT"
	MethodPatch   Method = "PATCH"
	MethodTrace   Method = "TRACE"
)

// ParseMethod accepts any RFC 7230 token; non-standard tokens become
// custom methods.
func ParseMethod(name string) (Method, bool) {
	if name == "" {
		return "", false
	}
	for i := 0; i < len(name); i++ {
		if !isTokenChar(name[i]) {
			return "", false
		}
	}
	return Method(name), true
}

func (m Method) String() string { return string(m) }

// IsStandard reports membership in RFC 7231 section 4 or RFC 5789.
func (m Method) IsStandard() bool {
	switch m {
	case MethodGet, MethodPost, MethodPut, MethodDelete, MethodHead,
		MethodOptions, MethodConnect, MethodPatch, MethodTrace:
		return true
	}
	return false
}

// IsSafe as defined in RFC 7231, section 4.2.1.
func (m Method) IsSafe() bool {
	switch m {
	case MethodGet, MethodHead, MethodOptions, MethodTrace:
		return true
	}
	return false
}

// IsIdempotent as defined in RFC 7231, section 4.2.2.
func (m Method) IsIdempotent() bool {
	return m == MethodPut || m == MethodDelete || m.IsSafe()
}

func isTokenChar(c byte) bool {
	if c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' {
		return true
	}
	switch c {
	case '!', '#', '$', '%', '&', '\'', '*', '+', '-', '.', '^', '_', '`', '|', '~':
		return true
	}
	return false
}
