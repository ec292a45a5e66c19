package http1

import (
	"strings"

	"github.com/pingcap/errors"
)

// Body framing as resolved from the header section.
const (
	bodyNone    int64 = 0
	bodyChunked int64 = -1
	bodyToClose int64 = -2
)

// fixTransferEncoding returns whether the message is chunked. Only the
// chunked coding is understood; it must be applied last and only once.
func fixTransferEncoding(h Header) (bool, *ParseError) {
	codings := h.Tokens(HeaderTransferEncoding)
	if len(codings) == 0 {
		if h.Has(HeaderTransferEncoding) {
			return false, wrapParseError(ParseFraming, errors.New("empty Transfer-Encoding"))
		}
		return false, nil
	}
	chunked := 0
	for i, c := range codings {
		switch {
		case equalFold(c, string(byteChunked)):
			if i != len(codings)-1 {
				return false, wrapParseError(ParseFraming, errors.New("chunked is not the final transfer coding"))
			}
			chunked++
		case equalFold(c, string(byteIdentity)):
		default:
			return false, wrapParseError(ParseNotImplemented, errors.Errorf("unsupported transfer encoding: %q", c))
		}
	}
	if chunked == 0 {
		return false, wrapParseError(ParseFraming, errors.Errorf("transfer codings %q do not end in chunked", codings))
	}
	return true, nil
}

// fixLength resolves the declared Content-Length. Several fields or list
// members are accepted only when they agree.
func fixLength(h Header) (int64, bool, *ParseError) {
	values := h.Values(HeaderContentLength)
	if len(values) == 0 {
		return 0, false, nil
	}
	var first string
	for _, v := range values {
		for _, member := range strings.Split(v, ",") {
			member = strings.TrimSpace(member)
			if first == "" {
				first = member
			} else if member != first {
				return 0, false, wrapParseError(ParseFraming,
					errors.Errorf("http: message cannot contain multiple Content-Length headers; got %q", values))
			}
		}
	}
	n, err := parseContentLength([]byte(first))
	if err != nil {
		return 0, false, wrapParseError(ParseFraming, err)
	}
	return n, true, nil
}

func parseContentLength(cl []byte) (int64, error) {
	if len(cl) == 0 || len(cl) > 18 {
		return 0, errors.Errorf("bad Content-Length %q", cl)
	}
	var n int64
	for _, c := range cl {
		if !isDigit(c) {
			return 0, errors.Errorf("bad Content-Length %q", cl)
		}
		n = n*10 + int64(c-'0')
	}
	return n, nil
}

// requestFraming decides how the body of r is delimited: bodyNone, a
// positive length, or bodyChunked. A method that conventionally carries a
// body must declare one of the two.
func requestFraming(r *Request, maxBody int64) (int64, *ParseError) {
	chunked, perr := fixTransferEncoding(r.header)
	if perr != nil {
		return 0, perr
	}
	n, hasLength, perr := fixLength(r.header)
	if perr != nil {
		return 0, perr
	}
	switch {
	case chunked && hasLength:
		return 0, wrapParseError(ParseFraming, errors.New("both Content-Length and Transfer-Encoding present"))
	case chunked:
		return bodyChunked, nil
	case hasLength:
		if maxBody > 0 && n > maxBody {
			return 0, newParseError(ParseBodyTooLarge, "body of %d bytes exceeds limit of %d", n, maxBody)
		}
		return n, nil
	case r.method.BodyExpected():
		return 0, newParseError(ParseLengthRequired, "%s without Content-Length or Transfer-Encoding", r.method)
	}
	return bodyNone, nil
}

// responseFraming mirrors requestFraming for a parsed response (RFC7230 3.3.3).
func responseFraming(code StatusCode, headRequest bool, h Header) (int64, *ParseError) {
	if headRequest || !code.BodyAllowed() {
		return bodyNone, nil
	}
	chunked, perr := fixTransferEncoding(h)
	if perr != nil {
		return 0, perr
	}
	if chunked {
		return bodyChunked, nil
	}
	n, hasLength, perr := fixLength(h)
	if perr != nil {
		return 0, perr
	}
	if hasLength {
		return n, nil
	}
	return bodyToClose, nil
}
