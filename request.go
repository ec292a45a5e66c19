package http1

import (
	"github.com/pkg/errors"
)

// Request is a parsed request message. It is not modified after the parser
// (or NewRequest) hands it out; accessors return copies of the mutable parts.
type Request struct {
	method  Method
	target  *Target
	version Version
	header  Header
	trailer Header
	body    []byte

	contentLength int64 // -1 when chunked
	chunked       bool
	close         bool
	host          *Authority
}

// NewRequest builds a request outside the parser, mostly for tests and
// in-process dispatch. Fields are validated with the same grammar the parser
// applies, and framing is derived from body.
func NewRequest(method Method, target string, version Version, header Header, body []byte) (*Request, error) {
	if !isToken(string(method)) {
		return nil, errors.Errorf("invalid method %q", method)
	}
	if version != HTTP10 && version != HTTP11 {
		return nil, errors.Errorf("unsupported version %s", version)
	}
	t, err := ParseTarget(method, []byte(target))
	if err != nil {
		return nil, err
	}
	for _, f := range header {
		if err := CheckField(f.Name, f.Value); err != nil {
			return nil, err
		}
	}
	r := &Request{
		method:        method,
		target:        t,
		version:       version,
		header:        header.Clone(),
		body:          body,
		contentLength: int64(len(body)),
	}
	if r.header.Has(HeaderTransferEncoding) {
		return nil, errors.New("transfer-coding is derived from the body, not set")
	}
	if cl, ok := r.header.Get(HeaderContentLength); ok {
		if n, err := parseContentLength([]byte(cl)); err != nil || n != int64(len(body)) {
			return nil, errors.Errorf("Content-Length %q does not match body length %d", cl, len(body))
		}
	}
	if err := r.finishHead(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Request) Method() Method   { return r.method }
func (r *Request) Target() *Target  { return r.target }
func (r *Request) Version() Version { return r.version }

// Path is shorthand for Target().Path.
func (r *Request) Path() string { return r.target.Path }

// Header returns a copy of the header fields in arrival order.
func (r *Request) Header() Header { return r.header.Clone() }

// HeaderValue returns the first value of the named field.
func (r *Request) HeaderValue(name string) string { return r.header.Value(name) }

// HeaderValues returns every value of the named field.
func (r *Request) HeaderValues(name string) []string { return r.header.Values(name) }

// Trailer returns the trailer fields of a chunked body.
func (r *Request) Trailer() Header { return r.trailer.Clone() }

// Body returns the decoded body. The slice must not be modified.
func (r *Request) Body() []byte { return r.body }

// ContentLength returns the declared length, or -1 for chunked bodies.
func (r *Request) ContentLength() int64 { return r.contentLength }

func (r *Request) IsChunked() bool { return r.chunked }

// Host returns the authority the request is addressed to: the target's for
// absolute-form, otherwise the Host field.
func (r *Request) Host() *Authority {
	if r.target != nil && r.target.Authority != nil {
		return r.target.Authority
	}
	return r.host
}

// KeepAlive reports whether the client allows the connection to persist.
// HTTP/1.1 persists unless "Connection: close"; HTTP/1.0 closes unless
// "Connection: keep-alive".
func (r *Request) KeepAlive() bool { return !r.close }

// ExpectsContinue reports an "Expect: 100-continue" request.
func (r *Request) ExpectsContinue() bool {
	return r.version.AtLeast(1, 1) && equalFold(r.header.Value(HeaderExpect), string(byte100Continue))
}

// finishHead validates the fields that depend on the whole header section
// and computes connection semantics. Framing is resolved separately.
func (r *Request) finishHead() error {
	hosts := r.header.Values(HeaderHost)
	switch {
	case len(hosts) > 1:
		return newParseError(ParseMalformed, "multiple Host fields")
	case len(hosts) == 0 && r.version.AtLeast(1, 1):
		return newParseError(ParseMalformed, "missing Host field")
	case len(hosts) == 1 && hosts[0] != "":
		a, err := parseAuthority([]byte(hosts[0]), true)
		if err != nil {
			return newParseError(ParseMalformed, "invalid Host field")
		}
		r.host = a
	}

	if r.version.AtLeast(1, 1) {
		r.close = r.header.HasToken(HeaderConnection, string(byteClose))
	} else {
		r.close = !r.header.HasToken(HeaderConnection, string(byteKeepAlive))
	}
	return nil
}
