package http1

import (
	"bytes"
	"net"
	"strconv"
	"strings"
)

// TargetForm is one of the four request-target forms of RFC7230 5.3.
type TargetForm uint8

const (
	OriginForm TargetForm = iota + 1
	AbsoluteForm
	AuthorityForm
	AsteriskForm
)

func (f TargetForm) String() string {
	switch f {
	case OriginForm:
		return "origin-form"
	case AbsoluteForm:
		return "absolute-form"
	case AuthorityForm:
		return "authority-form"
	case AsteriskForm:
		return "asterisk-form"
	}
	return "unknown-form"
}

// Authority is [ userinfo "@" ] host [ ":" port ].
type Authority struct {
	UserInfo string
	Host     string
	Port     uint16
	HasPort  bool
}

func (a *Authority) String() string {
	var sb strings.Builder
	if a.UserInfo != "" {
		sb.WriteString(a.UserInfo)
		sb.WriteByte('@')
	}
	if strings.IndexByte(a.Host, ':') >= 0 {
		sb.WriteByte('[')
		sb.WriteString(a.Host)
		sb.WriteByte(']')
	} else {
		sb.WriteString(a.Host)
	}
	if a.HasPort {
		sb.WriteByte(':')
		sb.WriteString(strconv.Itoa(int(a.Port)))
	}
	return sb.String()
}

// Query maps decoded keys to their values in arrival order.
type Query map[string][]string

// Get returns the first value of key.
func (q Query) Get(key string) string {
	if vs := q[key]; len(vs) > 0 {
		return vs[0]
	}
	return ""
}

func (q Query) Values(key string) []string { return q[key] }

func (q Query) Has(key string) bool {
	_, ok := q[key]
	return ok
}

// Target is a parsed request-target.
type Target struct {
	Form      TargetForm
	Scheme    string
	Authority *Authority
	// Path is the normalised path, still pct-encoded. Repeated slashes are
	// folded into one.
	Path string
	// Segments are the decoded, non-empty path segments.
	Segments []string
	RawQuery string
	Query    Query
	Fragment string

	raw string
}

// String returns the target exactly as received.
func (t *Target) String() string { return t.raw }

// RequestURI returns path and query, as used in origin-form.
func (t *Target) RequestURI() string {
	p := t.Path
	if p == "" {
		p = "/"
	}
	if t.RawQuery != "" {
		return p + "?" + t.RawQuery
	}
	return p
}

// ParseTarget parses raw according to the target form permitted for m.
func ParseTarget(m Method, raw []byte) (*Target, error) {
	if len(raw) == 0 {
		return nil, newParseError(ParseMalformed, "empty request-target")
	}
	for _, b := range raw {
		if b <= ' ' || b == 0x7f {
			return nil, newParseError(ParseMalformed, "control character in request-target")
		}
	}
	t := &Target{raw: string(raw)}
	switch {
	case len(raw) == 1 && raw[0] == '*':
		if m != MethodOptions {
			return nil, newParseError(ParseMalformed, "asterisk-form is only valid for OPTIONS")
		}
		t.Form = AsteriskForm
		return t, nil
	case m == MethodConnect:
		a, err := parseAuthority(raw, true)
		if err != nil {
			return nil, err
		}
		if !a.HasPort || a.UserInfo != "" {
			return nil, newParseError(ParseMalformed, "authority-form requires host:port")
		}
		t.Form, t.Authority = AuthorityForm, a
		return t, nil
	case raw[0] == '/':
		t.Form = OriginForm
		return t, t.parsePathQuery(raw, true)
	}

	colon := bytes.IndexByte(raw, ':')
	if colon <= 0 {
		return nil, newParseError(ParseMalformed, "request-target is neither origin nor absolute form")
	}
	scheme, err := parseScheme(raw[:colon])
	if err != nil {
		return nil, err
	}
	t.Form, t.Scheme = AbsoluteForm, scheme
	rest := raw[colon+1:]
	rooted := false
	if bytes.HasPrefix(rest, []byte("//")) {
		rest = rest[2:]
		end := bytes.IndexAny(rest, "/?#")
		if end < 0 {
			end = len(rest)
		}
		if t.Authority, err = parseAuthority(rest[:end], false); err != nil {
			return nil, err
		}
		rest = rest[end:]
		rooted = true
	}
	if err := t.parsePathQuery(rest, rooted); err != nil {
		return nil, err
	}
	if rooted && t.Path == "" {
		t.Path = "/"
	}
	return t, nil
}

// parseScheme checks scheme = ALPHA *( ALPHA / DIGIT / "+" / "-" / "." ) and
// lowercases it.
func parseScheme(b []byte) (string, error) {
	if len(b) == 0 || !isAlpha(b[0]) {
		return "", newParseError(ParseMalformed, "invalid scheme %q", b)
	}
	for _, c := range b[1:] {
		if !isAlpha(c) && !isDigit(c) && c != '+' && c != '-' && c != '.' {
			return "", newParseError(ParseMalformed, "invalid scheme %q", b)
		}
	}
	return strings.ToLower(string(b)), nil
}

func isQueryChar(b byte) bool { return isPchar(b) || b == '/' || b == '?' }

func (t *Target) parsePathQuery(src []byte, rooted bool) error {
	if i := bytes.IndexByte(src, '#'); i >= 0 {
		frag := src[i+1:]
		if !validPctEncoded(frag, isQueryChar) {
			return newParseError(ParseMalformed, "invalid fragment")
		}
		t.Fragment = string(frag)
		src = src[:i]
	}
	if i := bytes.IndexByte(src, '?'); i >= 0 {
		q := src[i+1:]
		if !validPctEncoded(q, isQueryChar) {
			return newParseError(ParseMalformed, "invalid query")
		}
		t.RawQuery = string(q)
		t.Query = parseQuery(q)
		src = src[:i]
	} else {
		t.Query = Query{}
	}
	path, segs, err := parsePath(src, rooted)
	if err != nil {
		return err
	}
	t.Path, t.Segments = path, segs
	return nil
}

// parsePath validates every segment against the pchar grammar and folds
// empty segments. A trailing slash survives normalisation.
func parsePath(src []byte, rooted bool) (string, []string, error) {
	if len(src) == 0 {
		return "", nil, nil
	}
	if rooted && src[0] != '/' {
		return "", nil, newParseError(ParseMalformed, "path must begin with /")
	}
	var (
		sb   strings.Builder
		segs []string
	)
	sb.Grow(len(src))
	if src[0] == '/' {
		sb.WriteByte('/')
	}
	for _, seg := range bytes.Split(src, []byte{'/'}) {
		if len(seg) == 0 {
			continue
		}
		if !validPctEncoded(seg, isPchar) {
			return "", nil, newParseError(ParseMalformed, "invalid path segment %q", seg)
		}
		if len(segs) > 0 {
			sb.WriteByte('/')
		}
		sb.Write(seg)
		segs = append(segs, pctDecode(seg, false))
	}
	if len(segs) > 0 && src[len(src)-1] == '/' {
		sb.WriteByte('/')
	}
	return sb.String(), segs, nil
}

func parseQuery(q []byte) Query {
	query := Query{}
	for _, pair := range bytes.Split(q, []byte{'&'}) {
		if len(pair) == 0 {
			continue
		}
		var k, v []byte
		if i := bytes.IndexByte(pair, '='); i >= 0 {
			k, v = pair[:i], pair[i+1:]
		} else {
			k = pair
		}
		key := pctDecode(k, true)
		query[key] = append(query[key], pctDecode(v, true))
	}
	return query
}

// parseAuthority parses an authority component. noUserInfo rejects the
// userinfo subcomponent, as the Host field and authority-form require.
func parseAuthority(src []byte, noUserInfo bool) (*Authority, error) {
	a := &Authority{}
	if i := bytes.LastIndexByte(src, '@'); i >= 0 {
		if noUserInfo {
			return nil, newParseError(ParseMalformed, "unexpected userinfo")
		}
		ui := src[:i]
		if !validPctEncoded(ui, func(b byte) bool { return isUnreserved(b) || isSubDelim(b) || b == ':' }) {
			return nil, newParseError(ParseMalformed, "invalid userinfo")
		}
		a.UserInfo = string(ui)
		src = src[i+1:]
	}

	host, port := src, []byte(nil)
	hasPort := false
	if len(src) > 0 && src[0] == '[' {
		end := bytes.IndexByte(src, ']')
		if end < 0 {
			return nil, newParseError(ParseMalformed, "unterminated IP literal")
		}
		ip := net.ParseIP(string(src[1:end]))
		if ip == nil || ip.To4() != nil && !bytes.Contains(src[1:end], []byte{':'}) {
			return nil, newParseError(ParseMalformed, "invalid IPv6 literal")
		}
		a.Host = strings.ToLower(string(src[1:end]))
		rest := src[end+1:]
		if len(rest) > 0 {
			if rest[0] != ':' {
				return nil, newParseError(ParseMalformed, "junk after IP literal")
			}
			port, hasPort = rest[1:], true
		}
	} else {
		if i := bytes.LastIndexByte(src, ':'); i >= 0 {
			host, port, hasPort = src[:i], src[i+1:], true
		}
		if !validPctEncoded(host, func(b byte) bool { return isUnreserved(b) || isSubDelim(b) }) {
			return nil, newParseError(ParseMalformed, "invalid host %q", host)
		}
		a.Host = strings.ToLower(string(host))
	}

	if hasPort && len(port) > 0 {
		n := 0
		for _, c := range port {
			if !isDigit(c) {
				return nil, newParseError(ParseMalformed, "invalid port %q", port)
			}
			if n = n*10 + int(c-'0'); n > 65535 {
				return nil, newParseError(ParseMalformed, "port out of range")
			}
		}
		a.Port, a.HasPort = uint16(n), true
	}
	return a, nil
}
