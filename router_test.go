package http1

import (
	"context"
	"strconv"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func named(name string) HandlerFunc {
	return func(c *Context) (*Response, error) {
		return c.Text(StatusOK, name)
	}
}

func newTestRequest(t *testing.T, m Method, target string, body string) *Request {
	t.Helper()
	h := Header{{"Host", "test"}}
	if body != "" || m.BodyExpected() {
		h = append(h, HeaderField{"Content-Length", strconv.Itoa(len(body))})
	}
	req, err := NewRequest(m, target, HTTP11, h, []byte(body))
	require.NoError(t, err)
	return req
}

func dispatch(t *testing.T, r *Router, m Method, target, body string) (*Context, *Response, error) {
	t.Helper()
	c := NewContext(context.Background(), newTestRequest(t, m, target, body))
	resp, err := r.Dispatch(c)
	return c, resp, err
}

func Test_Router_LiteralBeatsParam(t *testing.T) {
	r := NewRouter()
	r.GET("/items/:id", named("param"))
	r.GET("/items/new", named("literal"))

	c, resp, err := dispatch(t, r, MethodGet, "/items/new", "")
	require.NoError(t, err)
	assert.Equal(t, "literal", string(resp.Body()))
	assert.Equal(t, "/items/new", c.Route().Pattern())

	c, resp, err = dispatch(t, r, MethodGet, "/items/42", "")
	require.NoError(t, err)
	assert.Equal(t, "param", string(resp.Body()))
	assert.Equal(t, "42", c.Param("id"))
	assert.Equal(t, Params{{"id", "42"}}, c.Params())
}

func Test_Router_MethodFallsBackToParam(t *testing.T) {
	r := NewRouter()
	r.POST("/items/new", named("create"))
	r.GET("/items/:id", named("show"))

	_, resp, err := dispatch(t, r, MethodGet, "/items/new", "")
	require.NoError(t, err)
	assert.Equal(t, "show", string(resp.Body()))
}

func Test_Router_NotFoundAndNotAllowed(t *testing.T) {
	r := NewRouter()
	r.GET("/items", named("list"))
	r.POST("/items", named("create"))
	r.DELETE("/items/:id", named("delete"))

	_, _, err := dispatch(t, r, MethodGet, "/nothing", "")
	f := Classify(err)
	assert.Equal(t, FailureRouteNotFound, f.Kind)
	assert.Equal(t, StatusNotFound, f.Status)

	_, _, err = dispatch(t, r, MethodPut, "/items", "x")
	f = Classify(err)
	assert.Equal(t, FailureMethodNotAllowed, f.Kind)
	assert.Equal(t, StatusMethodNotAllowed, f.Status)
	assert.Equal(t, []Method{MethodGet, MethodHead, MethodPost}, f.Allow)

	resp := MapFailure(f)
	assert.Equal(t, "GET, HEAD, POST", resp.HeaderValue("Allow"))
}

func Test_Router_ImplicitHead(t *testing.T) {
	r := NewRouter()
	r.GET("/doc", named("doc"))
	_, resp, err := dispatch(t, r, MethodHead, "/doc", "")
	require.NoError(t, err)
	assert.Equal(t, StatusOK, resp.Status())

	r.HEAD("/only-head", named("head"))
	_, _, err = dispatch(t, r, MethodGet, "/only-head", "")
	assert.Equal(t, FailureMethodNotAllowed, Classify(err).Kind)
}

func Test_Router_CatchAll(t *testing.T) {
	r := NewRouter()
	r.GET("/static/*path", named("static"))
	r.GET("/static/index", named("index"))

	c, resp, err := dispatch(t, r, MethodGet, "/static/css/site%20main.css", "")
	require.NoError(t, err)
	assert.Equal(t, "static", string(resp.Body()))
	assert.Equal(t, "css/site main.css", c.Param("path"))

	_, resp, err = dispatch(t, r, MethodGet, "/static/index", "")
	require.NoError(t, err)
	assert.Equal(t, "index", string(resp.Body()))

	c, _, err = dispatch(t, r, MethodGet, "/static", "")
	require.NoError(t, err)
	assert.Equal(t, "", c.Param("path"))
}

func Test_Router_TrailingSlashRedirect(t *testing.T) {
	r := NewRouter()
	r.GET("/dir/", named("dir"))
	r.POST("/form", named("form"))

	_, _, err := dispatch(t, r, MethodGet, "/dir?x=1", "")
	f := Classify(err)
	assert.Equal(t, StatusMovedPermanently, f.Status)
	assert.Equal(t, "/dir/?x=1", f.Location)
	assert.Equal(t, "/dir/?x=1", MapFailure(f).HeaderValue("Location"))

	_, _, err = dispatch(t, r, MethodPost, "/form/", "a")
	f = Classify(err)
	assert.Equal(t, StatusPermanentRedirect, f.Status)
	assert.Equal(t, "/form", f.Location)

	r2 := NewRouter()
	r2.RedirectTrailingSlash = false
	r2.GET("/dir/", named("dir"))
	_, _, err = dispatch(t, r2, MethodGet, "/dir", "")
	assert.Equal(t, StatusNotFound, Classify(err).Status)
}

func Test_Router_Validators(t *testing.T) {
	r := NewRouter()
	var order []string
	r.Use(func(*Request) error { order = append(order, "global"); return nil })
	r.POST("/upload", named("upload")).
		Use(MaxBodySize(4), RequireHeaders("X-Token"))
	r.GET("/q", named("q")).Use(RequireQuery("id"))
	r.POST("/typed", named("typed")).Use(RequireContentType("application/json"))
	r.GET("/plain", named("plain")).Use(func(*Request) error { return errors.New("nope") })

	_, _, err := dispatch(t, r, MethodPost, "/upload", "too long")
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, StatusRequestEntityTooLarge, ve.Code)
	assert.Equal(t, []string{"global"}, order)

	_, _, err = dispatch(t, r, MethodPost, "/upload", "ok")
	assert.Equal(t, StatusBadRequest, Classify(err).Status)
	assert.Equal(t, FailureValidation, Classify(err).Kind)

	_, _, err = dispatch(t, r, MethodGet, "/q", "")
	assert.Equal(t, StatusBadRequest, Classify(err).Status)
	_, resp, err := dispatch(t, r, MethodGet, "/q?id=1", "")
	require.NoError(t, err)
	assert.Equal(t, "q", string(resp.Body()))

	_, _, err = dispatch(t, r, MethodPost, "/typed", "{}")
	assert.Equal(t, StatusUnsupportedMediaType, Classify(err).Status)

	_, _, err = dispatch(t, r, MethodGet, "/plain", "")
	assert.Equal(t, StatusBadRequest, Classify(err).Status)
	assert.Contains(t, string(MapError(err).Body()), "nope")
}

func Test_Router_NamedCheck(t *testing.T) {
	r := NewRouter()
	r.Use(MaxBodySize(1)).Named("tiny")
	r.POST("/", named("root"))
	_, _, err := dispatch(t, r, MethodPost, "/", "ab")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tiny")
	assert.Equal(t, StatusRequestEntityTooLarge, Classify(err).Status)
}

func Test_Router_NamedRouteCheck(t *testing.T) {
	r := NewRouter()
	rt := r.POST("/upload", named("upload"))
	rt.Check(RequireHeaders("X-Token")).Named("token")
	rt.Use(MaxBodySize(2))

	_, _, err := dispatch(t, r, MethodPost, "/upload", "abc")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "token")
	assert.Equal(t, StatusBadRequest, Classify(err).Status)

	r.freeze()
	assert.PanicsWithValue(t, ErrRouterFrozen, func() { rt.Check(MaxBodySize(1)) })
}

func Test_Router_HandlerResults(t *testing.T) {
	r := NewRouter()
	r.GET("/nil", func(*Context) (*Response, error) { return nil, nil })
	r.GET("/teapot", func(c *Context) (*Response, error) { return c.Error(418, "short and stout") })
	r.GET("/boom", func(*Context) (*Response, error) { return nil, errors.New("secret detail") })

	_, _, err := dispatch(t, r, MethodGet, "/nil", "")
	assert.Equal(t, StatusInternalServerError, Classify(err).Status)

	_, _, err = dispatch(t, r, MethodGet, "/teapot", "")
	resp := MapError(err)
	assert.Equal(t, StatusCode(418), resp.Status())
	assert.Contains(t, string(resp.Body()), "short and stout")

	_, _, err = dispatch(t, r, MethodGet, "/boom", "")
	resp = MapError(err)
	assert.Equal(t, StatusInternalServerError, resp.Status())
	assert.NotContains(t, string(resp.Body()), "secret")
}

func Test_Router_RegistrationPanics(t *testing.T) {
	r := NewRouter()
	r.GET("/a/:id", named("a"))
	assert.Panics(t, func() { r.GET("/a/:id", named("dup")) })
	assert.Panics(t, func() { r.GET("/a/:name/x", named("conflict")) })
	assert.Panics(t, func() { r.GET("no-slash", named("x")) })
	assert.Panics(t, func() { r.GET("/files/*rest/more", named("x")) })
	assert.Panics(t, func() { r.Handle("BAD METHOD", "/", named("x")) })
	assert.Panics(t, func() { r.GET("/nil", nil) })

	r.freeze()
	assert.PanicsWithValue(t, ErrRouterFrozen, func() { r.GET("/late", named("late")) })
	assert.PanicsWithValue(t, ErrRouterFrozen, func() { r.Use(MaxBodySize(1)) })
}

func Test_Router_NonOriginTargets(t *testing.T) {
	r := NewRouter()
	r.GET("/", named("root"))
	req, err := NewRequest(MethodOptions, "*", HTTP11, Header{{"Host", "x"}}, nil)
	require.NoError(t, err)
	_, _, f := r.Lookup(req.Method(), req.Target())
	require.NotNil(t, f)
	assert.Equal(t, StatusNotFound, f.Status)

	_, resp, err := dispatch(t, r, MethodGet, "http://example.com", "")
	require.NoError(t, err)
	assert.Equal(t, "root", string(resp.Body()))
}
