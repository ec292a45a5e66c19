package http1

import (
	"bytes"
)

// ParseResponse parses one complete response from raw. headRequest tells
// the parser the response answers a HEAD, so it carries no body whatever
// its framing fields say. A response framed by connection close takes the
// rest of raw as its body.
func ParseResponse(raw []byte, headRequest bool) (*Response, int, error) {
	p := &Parser{
		limits:      Limits{MaxBodyBytes: -1}.normalize(),
		isResponse:  true,
		headRequest: headRequest,
	}
	if err := p.run(raw); err != nil {
		if err != ErrIncomplete || p.state != stateBodyToClose {
			return nil, 0, err
		}
		p.body.Write(raw[p.pos:])
		p.pos = len(raw)
		p.state = stateDone
		p.finish()
	}
	return p.resp, p.pos, nil
}

// parseStatusLine parses HTTP-version SP status-code SP [ reason-phrase ].
func (p *Parser) parseStatusLine(line []byte) error {
	sp1 := bytes.IndexByte(line, ' ')
	if sp1 < 0 {
		return newParseError(ParseMalformed, "malformed status-line")
	}
	version, err := ParseVersion(line[:sp1])
	if err != nil {
		return err
	}
	rest := line[sp1+1:]
	if len(rest) < 3 || (len(rest) > 3 && rest[3] != ' ') {
		return newParseError(ParseMalformed, "malformed status-line")
	}
	var code StatusCode
	for _, c := range rest[:3] {
		if !isDigit(c) {
			return newParseError(ParseMalformed, "malformed status code %q", rest[:3])
		}
		code = code*10 + StatusCode(c-'0')
	}
	if !code.Valid() {
		return newParseError(ParseMalformed, "status code %d out of range", code)
	}
	var reason string
	if len(rest) > 4 {
		reason = string(rest[4:])
		if !validReason(reason) {
			return newParseError(ParseMalformed, "invalid reason phrase")
		}
	}
	p.resp = &Response{status: code, reason: reason, version: version, streamSize: -1}
	return nil
}

func (p *Parser) responseHeadDone() error {
	length, perr := responseFraming(p.resp.status, p.headRequest, p.resp.header)
	if perr != nil {
		return perr
	}
	p.remaining = 0
	return p.startBody(length)
}
