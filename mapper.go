package http1

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// MapError classifies err and renders the response for it.
func MapError(err error) *Response {
	return MapFailure(Classify(err))
}

// MapFailure renders the response for f: the status-line, a short plain-text
// body, and Allow or Location where the status calls for it. Internal error
// text is never sent for 5xx handler failures.
func MapFailure(f *Failure) *Response {
	if f == nil {
		f = &Failure{Kind: FailureHandler, Status: StatusInternalServerError}
	}
	code := f.Status
	if !code.Valid() {
		code = StatusInternalServerError
	}

	b := NewResponse(code)
	switch f.Kind {
	case FailureMethodNotAllowed:
		b.Header(HeaderAllow, joinMethods(f.Allow))
	case FailureParse, FailureTimeout:
		b.Header(HeaderConnection, string(byteClose))
	}
	if f.Location != "" {
		b.Header(HeaderLocation, f.Location)
	}

	var se *StatusError
	if errors.As(f.Err, &se) {
		for _, h := range se.Header {
			b.Header(h.Name, h.Value)
		}
	}

	if code.BodyAllowed() {
		b.Text(failureBody(code, f))
	}
	r, err := b.Build()
	if err != nil {
		// A StatusError carried an unusable field; answer without it.
		return NewResponse(code).Text(failureBody(code, f)).MustBuild()
	}
	return r
}

func failureBody(code StatusCode, f *Failure) string {
	var sb strings.Builder
	sb.WriteString(strconv.Itoa(int(code)))
	sb.WriteByte(' ')
	sb.WriteString(code.Reason())
	sb.WriteByte('\n')

	var (
		se *StatusError
		ve *ValidationError
		pe *ParseError
	)
	switch {
	case errors.As(f.Err, &se) && se.Message != "":
		sb.WriteString(se.Message)
		sb.WriteByte('\n')
	case errors.As(f.Err, &ve) && ve.Reason != "":
		sb.WriteString(ve.Reason)
		sb.WriteByte('\n')
	case errors.As(f.Err, &pe) && code.Class() == 4:
		sb.WriteString(pe.Reason)
		sb.WriteByte('\n')
	}
	return sb.String()
}

func joinMethods(ms []Method) string {
	s := make([]string, len(ms))
	for i, m := range ms {
		s[i] = string(m)
	}
	return strings.Join(s, ", ")
}
