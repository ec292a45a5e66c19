package http1

// Character classes from RFC7230 and RFC3986.
const (
	cTchar = 1 << iota
	cVchar
	cUnreserved
	cSubDelim
	cHex
	cAlpha
	cDigit
)

var charClass = func() [256]uint8 {
	var t [256]uint8
	for c := 'a'; c <= 'z'; c++ {
		t[c] |= cTchar | cUnreserved | cAlpha
	}
	for c := 'A'; c <= 'Z'; c++ {
		t[c] |= cTchar | cUnreserved | cAlpha
	}
	for c := '0'; c <= '9'; c++ {
		t[c] |= cTchar | cUnreserved | cHex | cDigit
	}
	for _, c := range "abcdefABCDEF" {
		t[c] |= cHex
	}
	for _, c := range "!#$%&'*+-.^_`|~" {
		t[c] |= cTchar
	}
	for _, c := range "-._~" {
		t[c] |= cUnreserved
	}
	for _, c := range "!$&'()*+,;=" {
		t[c] |= cSubDelim
	}
	for c := 0x21; c <= 0x7e; c++ {
		t[c] |= cVchar
	}
	return t
}()

func isTchar(b byte) bool      { return charClass[b]&cTchar != 0 }
func isHex(b byte) bool        { return charClass[b]&cHex != 0 }
func isDigit(b byte) bool      { return charClass[b]&cDigit != 0 }
func isAlpha(b byte) bool      { return charClass[b]&cAlpha != 0 }
func isUnreserved(b byte) bool { return charClass[b]&cUnreserved != 0 }
func isSubDelim(b byte) bool   { return charClass[b]&cSubDelim != 0 }

// isFieldVchar reports VCHAR / obs-text.
func isFieldVchar(b byte) bool {
	return charClass[b]&cVchar != 0 || b >= 0x80
}

func isPchar(b byte) bool {
	return isUnreserved(b) || isSubDelim(b) || b == ':' || b == '@'
}

func isToken(s string) bool {
	if len(s) == 0 {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isTchar(s[i]) {
			return false
		}
	}
	return true
}

// validFieldValue checks field-value = *( field-vchar / SP / HTAB ) with no
// leading or trailing whitespace.
func validFieldValue(s string) bool {
	for i := 0; i < len(s); i++ {
		b := s[i]
		if !isFieldVchar(b) && b != ' ' && b != '\t' {
			return false
		}
	}
	if n := len(s); n > 0 && (isOWS(s[0]) || isOWS(s[n-1])) {
		return false
	}
	return true
}

// validReason checks reason-phrase = *( HTAB / SP / VCHAR / obs-text ).
func validReason(s string) bool {
	for i := 0; i < len(s); i++ {
		b := s[i]
		if !isFieldVchar(b) && b != ' ' && b != '\t' {
			return false
		}
	}
	return true
}

func isOWS(b byte) bool { return b == ' ' || b == '\t' }

// validPctEncoded walks src and checks that every '%' is followed by two
// HEXDIG and every other octet satisfies allow.
func validPctEncoded(src []byte, allow func(byte) bool) bool {
	for i := 0; i < len(src); i++ {
		b := src[i]
		if b == '%' {
			if i+2 >= len(src) || !isHex(src[i+1]) || !isHex(src[i+2]) {
				return false
			}
			i += 2
			continue
		}
		if !allow(b) {
			return false
		}
	}
	return true
}

func unhex(b byte) byte {
	switch {
	case '0' <= b && b <= '9':
		return b - '0'
	case 'a' <= b && b <= 'f':
		return b - 'a' + 10
	case 'A' <= b && b <= 'F':
		return b - 'A' + 10
	}
	return 0
}

// pctDecode decodes a pct-encoded sequence already checked by validPctEncoded.
// plusAsSpace is used for query components.
func pctDecode(src []byte, plusAsSpace bool) string {
	n := 0
	for _, b := range src {
		if b == '%' || (plusAsSpace && b == '+') {
			n++
		}
	}
	if n == 0 {
		return string(src)
	}
	dst := make([]byte, 0, len(src))
	for i := 0; i < len(src); i++ {
		switch b := src[i]; {
		case b == '%' && i+2 < len(src):
			dst = append(dst, unhex(src[i+1])<<4|unhex(src[i+2]))
			i += 2
		case b == '+' && plusAsSpace:
			dst = append(dst, ' ')
		default:
			dst = append(dst, b)
		}
	}
	return string(dst)
}

// equalFold compares ASCII strings case-insensitively.
func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if ca == cb {
			continue
		}
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}
