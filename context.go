package http1

import (
	"context"
	"net"
	"sync"

	"github.com/rs/zerolog"
)

// Context carries one request through validation and the handler. It is
// only valid until the handler returns.
type Context struct {
	ctx            context.Context
	req            *Request
	route          *Route
	params         Params
	remote         net.Addr
	log            zerolog.Logger
	connRequestNum uint64
}

func NewContext(ctx context.Context, req *Request) *Context {
	return &Context{ctx: ctx, req: req, log: zerolog.Nop()}
}

func (c *Context) reset() {
	*c = Context{}
}

// Context is cancelled when the request times out or the server closes.
func (c *Context) Context() context.Context { return c.ctx }

func (c *Context) Request() *Request { return c.req }

// Route returns the matched route, nil before routing.
func (c *Context) Route() *Route { return c.route }

// Param returns the path parameter captured under name.
func (c *Context) Param(name string) string { return c.params.Get(name) }

func (c *Context) Params() Params { return c.params }

func (c *Context) RemoteAddr() net.Addr { return c.remote }

// Logger returns the connection's logger.
func (c *Context) Logger() *zerolog.Logger { return &c.log }

// RequestNum is the zero-based index of this request on its connection.
func (c *Context) RequestNum() uint64 { return c.connRequestNum }

// Respond starts a 200 response shaped for the request.
func (c *Context) Respond() *ResponseBuilder { return ResponseFor(c.req) }

// Text answers with a plain-text body.
func (c *Context) Text(code StatusCode, s string) (*Response, error) {
	return c.Respond().Status(code).Text(s).Build()
}

// Error answers with code; msg becomes the body.
func (c *Context) Error(code StatusCode, format string, args ...interface{}) (*Response, error) {
	return nil, NewStatusError(code, format, args...)
}

var contextPool sync.Pool

func acquireContext(ctx context.Context, cn *conn, req *Request) *Context {
	v := contextPool.Get()
	c, _ := v.(*Context)
	if c == nil {
		c = &Context{}
	}
	c.ctx = ctx
	c.req = req
	c.remote = cn.rwc.RemoteAddr()
	c.log = cn.log
	c.connRequestNum = cn.served
	return c
}

func releaseContext(c *Context) {
	c.reset()
	contextPool.Put(c)
}
