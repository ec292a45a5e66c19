package http1

// Method is a request method token. The standard methods are predeclared;
// any other RFC7230 token is carried as-is. Comparison is case-sensitive.
type Method string

const (
	MethodGet     Method = "GET"
	MethodHead    Method = "HEAD"
	MethodPost    Method = "POST"
	MethodPut     Method = "PUT"
	MethodDelete  Method = "DELETE"
	MethodConnect Method = "CONNECT"
	MethodOptions Method = "OPTIONS"
	MethodTrace   Method = "TRACE"
	MethodPatch   Method = "PATCH"
)

var standardMethods = map[string]Method{
	"GET":     MethodGet,
	"HEAD":    MethodHead,
	"POST":    MethodPost,
	"PUT":     MethodPut,
	"DELETE":  MethodDelete,
	"CONNECT": MethodConnect,
	"OPTIONS": MethodOptions,
	"TRACE":   MethodTrace,
	"PATCH":   MethodPatch,
}

// ParseMethod validates b as a method token. Standard methods are returned
// without allocating.
func ParseMethod(b []byte) (Method, error) {
	if m, ok := standardMethods[b2s(b)]; ok {
		return m, nil
	}
	for _, c := range b {
		if !isTchar(c) {
			return "", newParseError(ParseMalformed, "invalid method %q", b)
		}
	}
	if len(b) == 0 {
		return "", newParseError(ParseMalformed, "empty method")
	}
	return Method(b), nil
}

// IsStandard reports whether m is one of the predeclared methods.
func (m Method) IsStandard() bool {
	_, ok := standardMethods[string(m)]
	return ok
}

// BodyExpected reports whether requests with this method conventionally
// carry a body, and therefore must declare framing.
func (m Method) BodyExpected() bool {
	return m == MethodPost || m == MethodPut || m == MethodPatch
}

func (m Method) String() string { return string(m) }
