package http1

import "strings"

// MaxBodySize rejects bodies longer than n bytes with 413.
func MaxBodySize(n int64) Validator {
	return func(r *Request) error {
		if int64(len(r.Body())) > n {
			return Invalid(StatusRequestEntityTooLarge, "body exceeds %d bytes", n)
		}
		return nil
	}
}

// RequireHeaders rejects requests missing any of names with 400.
func RequireHeaders(names ...string) Validator {
	return func(r *Request) error {
		for _, n := range names {
			if !r.header.Has(n) {
				return Invalid(StatusBadRequest, "missing %s header", n)
			}
		}
		return nil
	}
}

// RequireContentType rejects requests with a body whose media type is not
// one of types with 415.
func RequireContentType(types ...string) Validator {
	return func(r *Request) error {
		if len(r.Body()) == 0 {
			return nil
		}
		ct := r.HeaderValue(HeaderContentType)
		if i := strings.IndexByte(ct, ';'); i >= 0 {
			ct = ct[:i]
		}
		ct = strings.TrimSpace(ct)
		for _, t := range types {
			if equalFold(ct, t) {
				return nil
			}
		}
		return Invalid(StatusUnsupportedMediaType, "unsupported content type %q", ct)
	}
}

// RequireQuery rejects requests missing any of keys in the query with 400.
func RequireQuery(keys ...string) Validator {
	return func(r *Request) error {
		for _, k := range keys {
			if !r.Target().Query.Has(k) {
				return Invalid(StatusBadRequest, "missing query parameter %s", k)
			}
		}
		return nil
	}
}
