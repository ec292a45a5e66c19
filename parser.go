package http1

import (
	"bytes"

	"github.com/valyala/bytebufferpool"
)

// Limits bounds what the parser is willing to buffer for one message.
type Limits struct {
	// MaxLineBytes bounds the request-line and every header or trailer line,
	// terminator excluded.
	MaxLineBytes int
	// MaxURIBytes bounds the request-target.
	MaxURIBytes int
	// MaxHeaderBytes bounds the whole header section, trailers included.
	MaxHeaderBytes int
	MaxHeaderCount int
	// MaxBodyBytes bounds the decoded body. Zero means unlimited.
	MaxBodyBytes int64
}

// DefaultLimits returns the limits a zero Limits is normalised to.
func DefaultLimits() Limits {
	return Limits{
		MaxLineBytes:   DefaultMaxLineBytes,
		MaxURIBytes:    DefaultMaxURIBytes,
		MaxHeaderBytes: DefaultMaxHeaderBytes,
		MaxHeaderCount: DefaultMaxHeaderCount,
		MaxBodyBytes:   DefaultMaxBodyBytes,
	}
}

func (l Limits) normalize() Limits {
	d := DefaultLimits()
	if l.MaxLineBytes <= 0 {
		l.MaxLineBytes = d.MaxLineBytes
	}
	if l.MaxURIBytes <= 0 {
		l.MaxURIBytes = d.MaxURIBytes
	}
	if l.MaxHeaderBytes <= 0 {
		l.MaxHeaderBytes = d.MaxHeaderBytes
	}
	if l.MaxHeaderCount <= 0 {
		l.MaxHeaderCount = d.MaxHeaderCount
	}
	if l.MaxBodyBytes < 0 {
		l.MaxBodyBytes = 0
	}
	return l
}

type parseState uint8

const (
	stateStartLine parseState = iota
	stateHeaders
	stateBody
	stateBodyToClose
	stateChunkSize
	stateChunkData
	stateChunkDataEnd
	stateTrailers
	stateDone
	stateDead
)

var bodyPool bytebufferpool.Pool

// Parser is an incremental HTTP/1.x message parser. Parse is called with a
// growing buffer whose already-seen prefix must not change between calls;
// the parser resumes where it stopped instead of rescanning.
type Parser struct {
	limits Limits
	state  parseState

	pos     int // first byte not yet consumed
	scan    int // where the search for the next LF resumes
	leading int // empty lines skipped before the start-line

	headBytes   int
	headerCount int
	remaining   int64

	req  *Request
	body *bytebufferpool.ByteBuffer
	err  error

	// response mode, used by ParseResponse
	isResponse  bool
	resp        *Response
	headRequest bool
}

// NewParser returns a request parser bounded by l. Zero fields of l take
// their defaults.
func NewParser(l Limits) *Parser {
	return &Parser{limits: l.normalize()}
}

// Reset prepares the parser for the next message. The caller must have
// dropped the bytes of the previous message from its buffer.
func (p *Parser) Reset() {
	p.releaseBody()
	*p = Parser{limits: p.limits, isResponse: p.isResponse, headRequest: p.headRequest}
}

// Started reports whether any byte of the current message has been seen.
func (p *Parser) Started() bool {
	return p.state != stateStartLine || p.scan > 0
}

// HeadComplete reports whether the header section has been parsed and the
// body is still pending.
func (p *Parser) HeadComplete() bool {
	return p.state > stateHeaders && p.state < stateDone
}

// Pending returns the request whose head is complete while its body is still
// arriving, or nil.
func (p *Parser) Pending() *Request {
	if p.HeadComplete() {
		return p.req
	}
	return nil
}

// Parse consumes buf. It returns the request and the number of bytes it
// occupied once the message is complete, ErrIncomplete when more bytes are
// needed, or a *ParseError. Failures are sticky until Reset.
func (p *Parser) Parse(buf []byte) (*Request, int, error) {
	if err := p.run(buf); err != nil {
		return nil, 0, err
	}
	return p.req, p.pos, nil
}

func (p *Parser) run(buf []byte) error {
	if p.err != nil {
		return p.err
	}
	for {
		var err error
		switch p.state {
		case stateStartLine:
			err = p.startLine(buf)
		case stateHeaders:
			err = p.headerLine(buf)
		case stateBody, stateChunkData:
			err = p.bodyBytes(buf)
		case stateBodyToClose:
			return ErrIncomplete
		case stateChunkSize:
			err = p.chunkSize(buf)
		case stateChunkDataEnd:
			err = p.chunkDataEnd(buf)
		case stateTrailers:
			err = p.trailerLine(buf)
		case stateDone:
			return nil
		}
		if err != nil {
			if err != ErrIncomplete {
				p.fail(err)
			}
			return err
		}
	}
}

func (p *Parser) fail(err error) {
	p.err = err
	p.state = stateDead
	p.releaseBody()
}

func (p *Parser) releaseBody() {
	if p.body != nil {
		bodyPool.Put(p.body)
		p.body = nil
	}
}

// consumed and rebase let the owner of buf drop bytes the parser is done
// with while a large body is still arriving.
func (p *Parser) consumed() int { return p.pos }

func (p *Parser) rebase(n int) {
	p.pos -= n
	p.scan -= n
}

// line returns the next line without its terminator. Lines are terminated
// by CRLF; a bare LF is tolerated (RFC7230 3.5).
func (p *Parser) line(buf []byte, limit int, kind ParseErrorKind) ([]byte, error) {
	i := bytes.IndexByte(buf[p.scan:], '\n')
	if i < 0 {
		if len(buf)-p.pos > limit+1 {
			return nil, newParseError(kind, "line exceeds %d bytes", limit)
		}
		p.scan = len(buf)
		return nil, ErrIncomplete
	}
	end := p.scan + i
	line := buf[p.pos:end]
	if n := len(line); n > 0 && line[n-1] == '\r' {
		line = line[:n-1]
	}
	if len(line) > limit {
		return nil, newParseError(kind, "line exceeds %d bytes", limit)
	}
	p.pos = end + 1
	p.scan = p.pos
	return line, nil
}

func (p *Parser) startLine(buf []byte) error {
	kind := ParseURITooLong
	if p.isResponse {
		kind = ParseMalformed
	}
	line, err := p.line(buf, p.limits.MaxLineBytes, kind)
	if err != nil {
		return err
	}
	if len(line) == 0 {
		if p.leading++; p.leading > maxLeadingEmpty {
			return newParseError(ParseMalformed, "too many empty lines before start-line")
		}
		return nil
	}
	if p.isResponse {
		err = p.parseStatusLine(line)
	} else {
		p.req, err = parseRequestLine(line, p.limits)
	}
	if err != nil {
		return err
	}
	p.state = stateHeaders
	return nil
}

// parseRequestLine parses method SP request-target SP HTTP-version.
func parseRequestLine(line []byte, l Limits) (*Request, error) {
	sp1 := bytes.IndexByte(line, ' ')
	if sp1 < 0 {
		return nil, newParseError(ParseMalformed, "malformed request-line")
	}
	method, err := ParseMethod(line[:sp1])
	if err != nil {
		return nil, err
	}
	rest := line[sp1+1:]
	sp2 := bytes.LastIndexByte(rest, ' ')
	if sp2 < 0 {
		return nil, newParseError(ParseMalformed, "malformed request-line")
	}
	rawTarget, rawVersion := rest[:sp2], rest[sp2+1:]
	if len(rawTarget) > l.MaxURIBytes {
		return nil, newParseError(ParseURITooLong, "request-target exceeds %d bytes", l.MaxURIBytes)
	}
	version, err := ParseVersion(rawVersion)
	if err != nil {
		return nil, err
	}
	target, err := ParseTarget(method, rawTarget)
	if err != nil {
		return nil, err
	}
	return &Request{method: method, target: target, version: version}, nil
}

func (p *Parser) fieldLine(buf []byte) (HeaderField, bool, error) {
	start := p.pos
	line, err := p.line(buf, p.limits.MaxLineBytes, ParseHeaderTooLarge)
	if err != nil {
		return HeaderField{}, false, err
	}
	if p.headBytes += p.pos - start; p.headBytes > p.limits.MaxHeaderBytes {
		return HeaderField{}, false, newParseError(ParseHeaderTooLarge, "header section exceeds %d bytes", p.limits.MaxHeaderBytes)
	}
	if len(line) == 0 {
		return HeaderField{}, true, nil
	}
	if p.headerCount++; p.headerCount > p.limits.MaxHeaderCount {
		return HeaderField{}, false, newParseError(ParseHeaderTooLarge, "more than %d header fields", p.limits.MaxHeaderCount)
	}
	f, err := parseFieldLine(line)
	return f, false, err
}

// parseFieldLine parses field-name ":" OWS field-value OWS.
func parseFieldLine(line []byte) (HeaderField, error) {
	if isOWS(line[0]) {
		return HeaderField{}, newParseError(ParseMalformed, "obsolete line folding")
	}
	colon := bytes.IndexByte(line, ':')
	if colon <= 0 {
		return HeaderField{}, newParseError(ParseMalformed, "header line without field-name")
	}
	name := line[:colon]
	for _, c := range name {
		if !isTchar(c) {
			return HeaderField{}, newParseError(ParseMalformed, "invalid character in field-name %q", name)
		}
	}
	value := line[colon+1:]
	for len(value) > 0 && isOWS(value[0]) {
		value = value[1:]
	}
	for len(value) > 0 && isOWS(value[len(value)-1]) {
		value = value[:len(value)-1]
	}
	for _, c := range value {
		if !isFieldVchar(c) && !isOWS(c) {
			return HeaderField{}, newParseError(ParseMalformed, "invalid character in value of %s", name)
		}
	}
	return HeaderField{Name: string(name), Value: string(value)}, nil
}

func (p *Parser) headerLine(buf []byte) error {
	f, end, err := p.fieldLine(buf)
	if err != nil {
		return err
	}
	if !end {
		if p.isResponse {
			p.resp.header.Add(f.Name, f.Value)
		} else {
			p.req.header.Add(f.Name, f.Value)
		}
		return nil
	}
	if p.isResponse {
		return p.responseHeadDone()
	}
	return p.requestHeadDone()
}

func (p *Parser) requestHeadDone() error {
	r := p.req
	if err := r.finishHead(); err != nil {
		return err
	}
	length, perr := requestFraming(r, p.limits.MaxBodyBytes)
	if perr != nil {
		return perr
	}
	r.contentLength = length
	r.chunked = length == bodyChunked
	return p.startBody(length)
}

func (p *Parser) startBody(length int64) error {
	switch {
	case length == bodyNone:
		p.state = stateDone
	case length == bodyChunked:
		p.body = bodyPool.Get()
		p.state = stateChunkSize
	case length == bodyToClose:
		p.body = bodyPool.Get()
		p.state = stateBodyToClose
	default:
		p.body = bodyPool.Get()
		p.remaining = length
		p.state = stateBody
	}
	if p.state == stateDone {
		p.finish()
	}
	return nil
}

// bodyBytes copies up to p.remaining bytes of fixed-length body or chunk-data.
func (p *Parser) bodyBytes(buf []byte) error {
	avail := int64(len(buf) - p.pos)
	if avail == 0 {
		return ErrIncomplete
	}
	take := p.remaining
	if avail < take {
		take = avail
	}
	p.body.Write(buf[p.pos : p.pos+int(take)])
	p.pos += int(take)
	p.scan = p.pos
	if p.remaining -= take; p.remaining > 0 {
		return ErrIncomplete
	}
	if p.state == stateChunkData {
		p.state = stateChunkDataEnd
		return nil
	}
	p.state = stateDone
	p.finish()
	return nil
}

// chunkSize parses chunk-size [ chunk-ext ] CRLF. Extensions are ignored.
func (p *Parser) chunkSize(buf []byte) error {
	line, err := p.line(buf, maxChunkLineLength, ParseMalformed)
	if err != nil {
		return err
	}
	if semi := bytes.IndexByte(line, ';'); semi >= 0 {
		line = line[:semi]
	}
	for len(line) > 0 && isOWS(line[len(line)-1]) {
		line = line[:len(line)-1]
	}
	size, err := parseHexUint(line)
	if err != nil {
		return err
	}
	if size == 0 {
		p.state = stateTrailers
		return nil
	}
	if max := p.limits.MaxBodyBytes; max > 0 && int64(p.body.Len())+size > max {
		return newParseError(ParseBodyTooLarge, "chunked body exceeds %d bytes", max)
	}
	p.remaining = size
	p.state = stateChunkData
	return nil
}

func (p *Parser) chunkDataEnd(buf []byte) error {
	if len(buf)-p.pos < 1 {
		return ErrIncomplete
	}
	switch buf[p.pos] {
	case '\n':
		p.pos++
	case '\r':
		if len(buf)-p.pos < 2 {
			return ErrIncomplete
		}
		if buf[p.pos+1] != '\n' {
			return newParseError(ParseFraming, "cannot find crlf at the end of chunk")
		}
		p.pos += 2
	default:
		return newParseError(ParseFraming, "cannot find crlf at the end of chunk")
	}
	p.scan = p.pos
	p.state = stateChunkSize
	return nil
}

func (p *Parser) trailerLine(buf []byte) error {
	f, end, err := p.fieldLine(buf)
	if err != nil {
		return err
	}
	if end {
		p.state = stateDone
		p.finish()
		return nil
	}
	switch {
	case equalFold(f.Name, HeaderContentLength), equalFold(f.Name, HeaderTransferEncoding), equalFold(f.Name, HeaderHost):
		return newParseError(ParseMalformed, "%s is not allowed in trailers", f.Name)
	}
	if p.isResponse {
		p.resp.trailer.Add(f.Name, f.Value)
	} else {
		p.req.trailer.Add(f.Name, f.Value)
	}
	return nil
}

// finish detaches the decoded body from the pooled buffer.
func (p *Parser) finish() {
	var body []byte
	if p.body != nil && p.body.Len() > 0 {
		body = append([]byte(nil), p.body.B...)
	}
	p.releaseBody()
	if p.isResponse {
		p.resp.body = body
	} else {
		p.req.body = body
	}
}

func parseHexUint(v []byte) (int64, error) {
	if len(v) == 0 {
		return 0, newParseError(ParseFraming, "empty chunk size")
	}
	if len(v) > 15 {
		return 0, newParseError(ParseFraming, "http chunk length too large")
	}
	var n int64
	for _, b := range v {
		if !isHex(b) {
			return 0, newParseError(ParseFraming, "invalid byte in chunk length")
		}
		n = n<<4 | int64(unhex(b))
	}
	return n, nil
}
