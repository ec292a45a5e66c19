package http1

import (
	"io"
	"os"
	"strconv"

	"github.com/pkg/errors"
)

// Response is a response message. Values produced by ResponseBuilder.Build
// have passed field validation and are always serializable.
type Response struct {
	status  StatusCode
	reason  string
	version Version
	header  Header
	trailer Header
	body    []byte

	bodyStream io.Reader
	streamSize int64 // -1 when unknown
	headOnly   bool
}

func (r *Response) Status() StatusCode { return r.status }

// Reason returns the reason phrase sent on the status-line.
func (r *Response) Reason() string {
	if r.reason != "" {
		return r.reason
	}
	return r.status.Reason()
}

func (r *Response) Version() Version { return r.version }

// Header returns a copy of the fields in the order they will be written.
func (r *Response) Header() Header { return r.header.Clone() }

func (r *Response) HeaderValue(name string) string { return r.header.Value(name) }

// Trailer is only populated by ParseResponse.
func (r *Response) Trailer() Header { return r.trailer.Clone() }

// Body returns the in-memory body. Streaming responses return nil.
func (r *Response) Body() []byte { return r.body }

// BodyStream returns the streaming body and its size, -1 when unknown.
func (r *Response) BodyStream() (io.Reader, int64) { return r.bodyStream, r.streamSize }

// Close releases a streaming body.
func (r *Response) Close() error {
	if r.bodyStream == nil {
		return nil
	}
	var err error
	if cl, ok := r.bodyStream.(io.Closer); ok {
		err = cl.Close()
	}
	r.bodyStream = nil
	return err
}

// wantsClose reports whether the response itself asks for the connection to
// be closed.
func (r *Response) wantsClose() bool {
	return r.header.HasToken(HeaderConnection, string(byteClose))
}

// ResponseBuilder constructs a Response. Every setter validates its input;
// the first failure is kept and reported by Build.
type ResponseBuilder struct {
	resp Response
	err  error
}

// NewResponse starts an HTTP/1.1 response with the given status.
func NewResponse(code StatusCode) *ResponseBuilder {
	b := &ResponseBuilder{resp: Response{version: HTTP11, streamSize: -1}}
	return b.Status(code)
}

// ResponseFor starts a 200 response shaped for req: it answers with the
// request's version and omits the body on the wire for HEAD.
func ResponseFor(req *Request) *ResponseBuilder {
	b := NewResponse(StatusOK)
	b.resp.version = req.Version()
	b.resp.headOnly = req.Method() == MethodHead
	return b
}

func (b *ResponseBuilder) setErr(err error) *ResponseBuilder {
	if b.err == nil {
		b.err = err
	}
	return b
}

func (b *ResponseBuilder) Status(code StatusCode) *ResponseBuilder {
	if !code.Valid() {
		return b.setErr(errors.Errorf("status code %d out of range", code))
	}
	b.resp.status = code
	return b
}

// Reason overrides the registered reason phrase.
func (b *ResponseBuilder) Reason(reason string) *ResponseBuilder {
	if !validReason(reason) {
		return b.setErr(errors.Errorf("invalid reason phrase %q", reason))
	}
	b.resp.reason = reason
	return b
}

func (b *ResponseBuilder) Version(v Version) *ResponseBuilder {
	if v != HTTP10 && v != HTTP11 {
		return b.setErr(errors.Errorf("unsupported version %s", v))
	}
	b.resp.version = v
	return b
}

func (b *ResponseBuilder) checkField(name, value string) bool {
	if err := CheckField(name, value); err != nil {
		b.setErr(err)
		return false
	}
	if equalFold(name, HeaderTransferEncoding) {
		b.setErr(errors.New("Transfer-Encoding is chosen by the serializer"))
		return false
	}
	return true
}

// Header appends a field, keeping any earlier field of the same name.
func (b *ResponseBuilder) Header(name, value string) *ResponseBuilder {
	if b.checkField(name, value) {
		b.resp.header.Add(name, value)
	}
	return b
}

// SetHeader replaces every field of the same name.
func (b *ResponseBuilder) SetHeader(name, value string) *ResponseBuilder {
	if b.checkField(name, value) {
		b.resp.header.Set(name, value)
	}
	return b
}

// EchoHeader copies the named request fields, in request order.
func (b *ResponseBuilder) EchoHeader(req *Request, names ...string) *ResponseBuilder {
	for _, f := range req.header {
		for _, n := range names {
			if equalFold(f.Name, n) {
				b.Header(f.Name, f.Value)
			}
		}
	}
	return b
}

func (b *ResponseBuilder) ContentType(ct string) *ResponseBuilder {
	return b.SetHeader(HeaderContentType, ct)
}

func (b *ResponseBuilder) Body(body []byte) *ResponseBuilder {
	b.resp.body = body
	b.resp.bodyStream, b.resp.streamSize = nil, -1
	return b
}

// Text sets a plain-text body, and the content type when none is set.
func (b *ResponseBuilder) Text(s string) *ResponseBuilder {
	if !b.resp.header.Has(HeaderContentType) {
		b.resp.header.Add(HeaderContentType, string(defaultContentType))
	}
	return b.Body([]byte(s))
}

// BodyStream sets a streaming body. size is -1 when unknown; the serializer
// then uses chunked coding, or close-delimited framing for HTTP/1.0.
func (b *ResponseBuilder) BodyStream(r io.Reader, size int64) *ResponseBuilder {
	if r == nil {
		return b.setErr(errors.New("nil body stream"))
	}
	if size < 0 {
		if lr, ok := r.(*io.LimitedReader); ok && lr.N >= 0 {
			size = lr.N
		} else {
			size = -1
		}
	}
	b.resp.body = nil
	b.resp.bodyStream, b.resp.streamSize = r, size
	return b
}

// File streams the file at path.
func (b *ResponseBuilder) File(path string) *ResponseBuilder {
	f, err := os.Open(path)
	if err != nil {
		return b.setErr(errors.WithStack(err))
	}
	fileInfo, err := f.Stat()
	if err != nil {
		f.Close()
		return b.setErr(errors.WithStack(err))
	}
	if fileInfo.IsDir() {
		f.Close()
		return b.setErr(errors.Errorf("%s is a directory", path))
	}
	return b.BodyStream(f, fileInfo.Size())
}

// Build returns the response, or the first validation failure.
func (b *ResponseBuilder) Build() (*Response, error) {
	if b.err != nil {
		if cl, ok := b.resp.bodyStream.(io.Closer); ok {
			cl.Close()
		}
		return nil, b.err
	}
	r := b.resp
	r.header = b.resp.header.Clone()
	if err := r.checkLength(); err != nil {
		return nil, err
	}
	return &r, nil
}

// MustBuild is Build for responses known to be valid. It panics otherwise.
func (b *ResponseBuilder) MustBuild() *Response {
	r, err := b.Build()
	if err != nil {
		panic(err)
	}
	return r
}

func (r *Response) bodyLen() int64 {
	if r.bodyStream != nil {
		return r.streamSize
	}
	return int64(len(r.body))
}

// checkLength rejects a Content-Length field the serializer could not
// honour.
func (r *Response) checkLength() error {
	cls := r.header.Values(HeaderContentLength)
	if len(cls) == 0 {
		return nil
	}
	if !r.status.contentLengthAllowed() {
		return errors.Errorf("status %d must not carry Content-Length", r.status)
	}
	if len(cls) > 1 {
		return errors.New("multiple Content-Length fields")
	}
	n, err := strconv.ParseInt(cls[0], 10, 64)
	if err != nil || n < 0 {
		return errors.Errorf("bad Content-Length %q", cls[0])
	}
	if r.status == StatusNotModified || (r.headOnly && r.bodyLen() <= 0) {
		return nil
	}
	if size := r.bodyLen(); size >= 0 && n != size {
		return errors.Errorf("Content-Length %d does not match body length %d", n, size)
	}
	if r.bodyStream != nil && r.streamSize < 0 {
		r.streamSize = n
	}
	return nil
}
