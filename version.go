package http1

// Version is an HTTP protocol version.
type Version struct {
	Major, Minor uint8
}

var (
	HTTP10 = Version{1, 0}
	HTTP11 = Version{1, 1}
)

// ParseVersion parses HTTP-version = "HTTP/" DIGIT "." DIGIT.
// Well-formed versions other than 1.0 and 1.1 fail with 505.
func ParseVersion(b []byte) (Version, error) {
	if len(b) != 8 || b2s(b[:5]) != "HTTP/" || !isDigit(b[5]) || b[6] != '.' || !isDigit(b[7]) {
		return Version{}, newParseError(ParseMalformed, "malformed version %q", b)
	}
	v := Version{b[5] - '0', b[7] - '0'}
	if v != HTTP10 && v != HTTP11 {
		return Version{}, newParseError(ParseVersionNotSupported, "unsupported version %s", v)
	}
	return v, nil
}

// AtLeast reports whether v >= major.minor.
func (v Version) AtLeast(major, minor uint8) bool {
	return v.Major > major || (v.Major == major && v.Minor >= minor)
}

func (v Version) String() string {
	return string([]byte{'H', 'T', 'T', 'P', '/', '0' + v.Major, '.', '0' + v.Minor})
}
