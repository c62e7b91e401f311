package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

type Version struct {
	Major int
	Minor int
}

var (
	Version1_0 = Version{Major: 1, Minor: 0}
	Version1_1 = Version{Major: 1, Minor: 1}
)

// ParseVersion parses "HTTP/x.y".
func ParseVersion(s string) (Version, error) {
	rest, ok := strings.CutPrefix(s, "HTTP/")
	if !ok {
		return Version{}, fmt.Errorf("%w: version %q", ErrMalformedMessage, s)
	}
	majorText, minorText, ok := strings.Cut(rest, ".")
	if !ok || len(majorText) != 1 || len(minorText) != 1 {
		return Version{}, fmt.Errorf("%w: version %q", ErrMalformedMessage, s)
	}
	major, err := strconv.Atoi(majorText)
	if err != nil {
		return Version{}, fmt.Errorf("%w: version %q", ErrMalformedMessage, s)
	}
	minor, err := strconv.Atoi(minorText)
	if err != nil {
		return Version{}, fmt.Errorf("%w: version %q", ErrMalformedMessage, s)
	}
	return Version{Major: major, Minor: minor}, nil
}

func (v Version) String() string {
	return "HTTP/" + strconv.Itoa(v.Major) + "." + strconv.Itoa(v.Minor)
}

// KeepAliveByDefault is true from HTTP/1.1 on.
func (v Version) KeepAliveByDefault() bool {
	return v.Major > 1 || v.Major == 1 && v.Minor >= 1
}

// CheckOutgoing accepts only major version 1 for messages this runtime
// originates.
func (v Version) CheckOutgoing() error {
	if v.Major != 1 {
		return fmt.Errorf("%w: %s", ErrUnsupportedVersion, v)
	}
	return nil
}
