package http1

import (
	"strings"

	"github.com/pkg/errors"
)

// HeaderField is one name/value pair. Name keeps the casing it was received
// or constructed with.
type HeaderField struct {
	Name  string
	Value string
}

// Header is an ordered list of fields. Lookup is case-insensitive and
// duplicates are kept in arrival order.
type Header []HeaderField

// Get returns the first value stored under name.
func (h Header) Get(name string) (string, bool) {
	for _, f := range h {
		if equalFold(f.Name, name) {
			return f.Value, true
		}
	}
	return "", false
}

// Value returns the first value stored under name, or "".
func (h Header) Value(name string) string {
	v, _ := h.Get(name)
	return v
}

// Values returns every value stored under name, in order.
func (h Header) Values(name string) []string {
	var vs []string
	for _, f := range h {
		if equalFold(f.Name, name) {
			vs = append(vs, f.Value)
		}
	}
	return vs
}

func (h Header) Has(name string) bool {
	_, ok := h.Get(name)
	return ok
}

// Count returns how many fields carry name.
func (h Header) Count(name string) int {
	n := 0
	for _, f := range h {
		if equalFold(f.Name, name) {
			n++
		}
	}
	return n
}

// Add appends a field without validation. Use CheckField first when the
// pair comes from untrusted code.
func (h *Header) Add(name, value string) {
	*h = append(*h, HeaderField{Name: name, Value: value})
}

// Set replaces every field named name by a single field at the position of
// the first one, or appends it.
func (h *Header) Set(name, value string) {
	for i, f := range *h {
		if equalFold(f.Name, name) {
			(*h)[i] = HeaderField{Name: name, Value: value}
			h.delFrom(i+1, name)
			return
		}
	}
	h.Add(name, value)
}

// Del removes every field named name.
func (h *Header) Del(name string) {
	h.delFrom(0, name)
}

func (h *Header) delFrom(from int, name string) {
	s := *h
	j := from
	for i := from; i < len(s); i++ {
		if !equalFold(s[i].Name, name) {
			s[j] = s[i]
			j++
		}
	}
	for i := j; i < len(s); i++ {
		s[i] = HeaderField{}
	}
	*h = s[:j]
}

func (h Header) Clone() Header {
	if h == nil {
		return nil
	}
	c := make(Header, len(h))
	copy(c, h)
	return c
}

// Tokens splits every value of name on commas and returns the trimmed,
// non-empty list elements (RFC7230 7).
func (h Header) Tokens(name string) []string {
	var ts []string
	for _, v := range h.Values(name) {
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				ts = append(ts, t)
			}
		}
	}
	return ts
}

// HasToken reports whether the comma separated list under name contains
// token, compared case-insensitively.
func (h Header) HasToken(name, token string) bool {
	for _, t := range h.Tokens(name) {
		if equalFold(t, token) {
			return true
		}
	}
	return false
}

// CheckField validates a name/value pair against the field-name and
// field-value grammar.
func CheckField(name, value string) error {
	if !isToken(name) {
		return errors.Errorf("invalid header field name %q", name)
	}
	if !validFieldValue(value) {
		return errors.Errorf("invalid value for header field %s: %q", name, value)
	}
	return nil
}
