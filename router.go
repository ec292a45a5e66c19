package http1

import (
	"sort"
	"strings"
	"sync/atomic"

	"github.com/pkg/errors"
)

// HandlerFunc answers one request. Returning a nil response with a nil
// error is a handler failure.
type HandlerFunc func(c *Context) (*Response, error)

// Validator is a precondition checked before the handler runs. A non-nil
// error short-circuits dispatch; return a *ValidationError to choose the
// status, anything else maps to 400.
type Validator func(r *Request) error

// Param is one captured path parameter.
type Param struct {
	Key   string
	Value string
}

// Params are the captured parameters in pattern order.
type Params []Param

// Get returns the value captured under name, or "".
func (ps Params) Get(name string) string {
	for _, p := range ps {
		if p.Key == name {
			return p.Value
		}
	}
	return ""
}

// Route is the registration handle returned by Router.Handle.
type Route struct {
	method  Method
	pattern string
	handler HandlerFunc
	checks  []*Check
	router  *Router
}

func (rt *Route) Method() Method  { return rt.method }
func (rt *Route) Pattern() string { return rt.pattern }

// Use adds validators run after the global ones, in registration order.
func (rt *Route) Use(vs ...Validator) *Route {
	rt.router.mustNotBeFrozen()
	for _, v := range vs {
		rt.checks = append(rt.checks, &Check{fn: v})
	}
	return rt
}

// Check adds one validator like Use and returns its handle, so that it can
// be named.
func (rt *Route) Check(v Validator) *Check {
	rt.router.mustNotBeFrozen()
	c := &Check{fn: v}
	rt.checks = append(rt.checks, c)
	return c
}

// Check is the registration handle of a validator.
type Check struct {
	name string
	fn   Validator
}

// Named labels the check in failure messages and logs.
func (c *Check) Named(name string) *Check {
	c.name = name
	return c
}

func (c *Check) run(r *Request) error {
	err := c.fn(r)
	if err == nil {
		return nil
	}
	var ve *ValidationError
	if !errors.As(err, &ve) {
		err = &ValidationError{Code: StatusBadRequest, Reason: err.Error()}
	}
	if c.name != "" {
		return errors.Wrap(err, c.name)
	}
	return err
}

type node struct {
	literal  map[string]*node
	param    *node
	wildcard *node
	name     string // parameter name for param and wildcard nodes

	routes map[Method]*Route
	// slash holds routes registered with a trailing slash.
	slash map[Method]*Route
}

// Router maps (method, path) to handlers. Registration must finish before
// the server starts; the table is then read without locking.
type Router struct {
	root   node
	checks []*Check
	frozen atomic.Bool

	// RedirectTrailingSlash answers a path that only matches with the
	// trailing slash added or removed with a redirect: 301 for GET and HEAD,
	// 308 otherwise.
	RedirectTrailingSlash bool
}

func NewRouter() *Router {
	return &Router{RedirectTrailingSlash: true}
}

func (r *Router) mustNotBeFrozen() {
	if r.frozen.Load() {
		panic(ErrRouterFrozen)
	}
}

func (r *Router) freeze() { r.frozen.Store(true) }

// Use registers a validator applied to every route.
func (r *Router) Use(v Validator) *Check {
	r.mustNotBeFrozen()
	c := &Check{fn: v}
	r.checks = append(r.checks, c)
	return c
}

// Handle registers h for method and pattern. Segments starting with ':'
// capture one path segment; a final segment starting with '*' captures the
// rest of the path. It panics on malformed or duplicate patterns.
func (r *Router) Handle(method Method, pattern string, h HandlerFunc) *Route {
	r.mustNotBeFrozen()
	if !isToken(string(method)) {
		panic("http1: invalid method " + string(method))
	}
	if h == nil {
		panic("http1: nil handler for " + pattern)
	}
	if pattern == "" || pattern[0] != '/' {
		panic("http1: pattern must begin with '/': " + pattern)
	}

	n := &r.root
	segs := splitPattern(pattern)
	for i, seg := range segs {
		switch seg[0] {
		case ':':
			n = n.paramChild(seg[1:], pattern)
		case '*':
			if i != len(segs)-1 {
				panic("http1: catch-all must be the last segment: " + pattern)
			}
			n = n.wildcardChild(seg[1:], pattern)
		default:
			if n.literal == nil {
				n.literal = make(map[string]*node)
			}
			child, ok := n.literal[seg]
			if !ok {
				child = &node{}
				n.literal[seg] = child
			}
			n = child
		}
	}

	table := &n.routes
	if len(segs) > 0 && strings.HasSuffix(pattern, "/") {
		table = &n.slash
	}
	if *table == nil {
		*table = make(map[Method]*Route)
	}
	if _, dup := (*table)[method]; dup {
		panic("http1: duplicate route " + string(method) + " " + pattern)
	}
	rt := &Route{method: method, pattern: pattern, handler: h, router: r}
	(*table)[method] = rt
	return rt
}

func (n *node) paramChild(name, pattern string) *node {
	if name == "" {
		panic("http1: empty parameter name in " + pattern)
	}
	if n.param == nil {
		n.param = &node{name: name}
	} else if n.param.name != name {
		panic("http1: parameter :" + name + " conflicts with :" + n.param.name + " in " + pattern)
	}
	return n.param
}

func (n *node) wildcardChild(name, pattern string) *node {
	if name == "" {
		panic("http1: empty catch-all name in " + pattern)
	}
	if n.wildcard == nil {
		n.wildcard = &node{name: name}
	} else if n.wildcard.name != name {
		panic("http1: catch-all *" + name + " conflicts with *" + n.wildcard.name + " in " + pattern)
	}
	return n.wildcard
}

func splitPattern(p string) []string {
	var segs []string
	for _, s := range strings.Split(p, "/") {
		if s != "" {
			segs = append(segs, s)
		}
	}
	return segs
}

func (r *Router) GET(pattern string, h HandlerFunc) *Route { return r.Handle(MethodGet, pattern, h) }
func (r *Router) HEAD(pattern string, h HandlerFunc) *Route {
	return r.Handle(MethodHead, pattern, h)
}
func (r *Router) POST(pattern string, h HandlerFunc) *Route {
	return r.Handle(MethodPost, pattern, h)
}
func (r *Router) PUT(pattern string, h HandlerFunc) *Route { return r.Handle(MethodPut, pattern, h) }
func (r *Router) PATCH(pattern string, h HandlerFunc) *Route {
	return r.Handle(MethodPatch, pattern, h)
}
func (r *Router) DELETE(pattern string, h HandlerFunc) *Route {
	return r.Handle(MethodDelete, pattern, h)
}
func (r *Router) OPTIONS(pattern string, h HandlerFunc) *Route {
	return r.Handle(MethodOptions, pattern, h)
}

// candidate is a node whose pattern matches the path, with its captures.
type candidate struct {
	n      *node
	params Params
}

// collect walks the trie in precedence order: literal, then parameter, then
// catch-all. The first candidate therefore has the longest literal prefix.
func (n *node) collect(segs []string, params Params, out []candidate) []candidate {
	if len(segs) == 0 {
		out = append(out, candidate{n: n, params: params})
		if n.wildcard != nil {
			out = append(out, candidate{n: n.wildcard, params: withParam(params, n.wildcard.name, "")})
		}
		return out
	}
	if child, ok := n.literal[segs[0]]; ok {
		out = child.collect(segs[1:], params, out)
	}
	if n.param != nil {
		out = n.param.collect(segs[1:], withParam(params, n.param.name, segs[0]), out)
	}
	if n.wildcard != nil {
		out = append(out, candidate{n: n.wildcard, params: withParam(params, n.wildcard.name, strings.Join(segs, "/"))})
	}
	return out
}

func withParam(ps Params, k, v string) Params {
	out := make(Params, len(ps), len(ps)+1)
	copy(out, ps)
	return append(out, Param{Key: k, Value: v})
}

func (n *node) table(slash bool) map[Method]*Route {
	if slash {
		return n.slash
	}
	return n.routes
}

func findMethod(t map[Method]*Route, m Method) *Route {
	if rt, ok := t[m]; ok {
		return rt
	}
	if m == MethodHead {
		return t[MethodGet]
	}
	return nil
}

// Lookup resolves method and target. On a miss the *Failure says why:
// route not found, method not allowed (with Allow), or a trailing-slash
// redirect (with Location).
func (r *Router) Lookup(m Method, t *Target) (*Route, Params, *Failure) {
	if t.Form == AsteriskForm || t.Form == AuthorityForm {
		return nil, nil, &Failure{Kind: FailureRouteNotFound, Status: StatusNotFound}
	}
	slash := len(t.Segments) > 0 && strings.HasSuffix(t.Path, "/")
	cands := r.root.collect(t.Segments, nil, nil)

	allowed := map[Method]bool{}
	for _, c := range cands {
		tab := c.n.table(slash)
		if rt := findMethod(tab, m); rt != nil {
			return rt, c.params, nil
		}
		for meth := range tab {
			allowed[meth] = true
		}
	}
	if len(allowed) > 0 {
		return nil, nil, &Failure{Kind: FailureMethodNotAllowed, Status: StatusMethodNotAllowed, Allow: sortMethods(allowed)}
	}

	if r.RedirectTrailingSlash {
		for _, c := range cands {
			if findMethod(c.n.table(!slash), m) == nil {
				continue
			}
			loc := t.Path
			if slash {
				loc = strings.TrimSuffix(loc, "/")
			} else {
				loc += "/"
			}
			if t.RawQuery != "" {
				loc += "?" + t.RawQuery
			}
			code := StatusPermanentRedirect
			if m == MethodGet || m == MethodHead {
				code = StatusMovedPermanently
			}
			return nil, nil, &Failure{Kind: FailureRouteNotFound, Status: code, Location: loc}
		}
	}
	return nil, nil, &Failure{Kind: FailureRouteNotFound, Status: StatusNotFound}
}

var methodOrder = map[Method]int{
	MethodGet: 1, MethodHead: 2, MethodPost: 3, MethodPut: 4, MethodPatch: 5,
	MethodDelete: 6, MethodOptions: 7, MethodTrace: 8, MethodConnect: 9,
}

// sortMethods returns the Allow list: registered methods plus HEAD wherever
// GET is served, standard methods first.
func sortMethods(set map[Method]bool) []Method {
	if set[MethodGet] {
		set[MethodHead] = true
	}
	ms := make([]Method, 0, len(set))
	for m := range set {
		ms = append(ms, m)
	}
	sort.Slice(ms, func(i, j int) bool {
		oi, oj := methodOrder[ms[i]], methodOrder[ms[j]]
		switch {
		case oi != 0 && oj != 0:
			return oi < oj
		case oi != 0 || oj != 0:
			return oi != 0
		}
		return ms[i] < ms[j]
	})
	return ms
}

// Dispatch routes c's request, runs the global then the per-route
// validators, and invokes the handler.
func (r *Router) Dispatch(c *Context) (*Response, error) {
	req := c.req
	rt, params, f := r.Lookup(req.Method(), req.Target())
	if f != nil {
		return nil, f
	}
	c.route, c.params = rt, params
	for _, chk := range r.checks {
		if err := chk.run(req); err != nil {
			return nil, err
		}
	}
	for _, chk := range rt.checks {
		if err := chk.run(req); err != nil {
			return nil, err
		}
	}
	resp, err := rt.handler(c)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, &Failure{Kind: FailureHandler, Status: StatusInternalServerError, Err: errors.WithStack(errNilResponse)}
	}
	return resp, nil
}
