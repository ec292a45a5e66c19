package http1

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
)

type testServer struct {
	*Server
	addr string
	done chan error
}

func startServer(t *testing.T, r *Router, cfg Config) *testServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ts := &testServer{Server: NewServer(r, cfg), addr: ln.Addr().String(), done: make(chan error, 1)}
	go func() { ts.done <- ts.Serve(ln) }()
	return ts
}

func (ts *testServer) stop(t *testing.T) {
	t.Helper()
	assert.NoError(t, ts.Close())
	select {
	case err := <-ts.done:
		assert.Equal(t, ErrServerClosed, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after Close")
	}
}

// testRouter counts dispatched requests in hits.
func testRouter(hits *atomic.Int32) *Router {
	r := NewRouter()
	r.Use(func(*Request) error {
		hits.Add(1)
		return nil
	})
	r.GET("/hello", func(c *Context) (*Response, error) {
		return c.Text(StatusOK, "Hello, World!")
	})
	r.GET("/slow", func(c *Context) (*Response, error) {
		time.Sleep(30 * time.Millisecond)
		return c.Text(StatusOK, "slow")
	})
	r.GET("/fast", func(c *Context) (*Response, error) {
		return c.Text(StatusOK, "fast")
	})
	r.POST("/echo", func(c *Context) (*Response, error) {
		return c.Respond().Body(c.Request().Body()).Build()
	})
	r.GET("/panic", func(*Context) (*Response, error) {
		panic("kaboom")
	})
	r.GET("/wait", func(c *Context) (*Response, error) {
		<-c.Context().Done()
		return nil, c.Context().Err()
	})
	return r
}

func dial(t *testing.T, addr string) net.Conn {
	t.Helper()
	nc, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	return nc
}

func readAll(t *testing.T, nc net.Conn) string {
	t.Helper()
	require.NoError(t, nc.SetReadDeadline(time.Now().Add(5*time.Second)))
	b, err := io.ReadAll(nc)
	require.NoError(t, err)
	return string(b)
}

func roundTrip(t *testing.T, nc net.Conn, br *bufio.Reader, raw string) *fasthttp.Response {
	t.Helper()
	_, err := io.WriteString(nc, raw)
	require.NoError(t, err)
	require.NoError(t, nc.SetReadDeadline(time.Now().Add(5*time.Second)))
	resp := &fasthttp.Response{}
	require.NoError(t, resp.Read(br))
	return resp
}

func Test_Server_Hello(t *testing.T) {
	defer leaktest.Check(t)()
	var hits atomic.Int32
	ts := startServer(t, testRouter(&hits), Config{ServerName: "http1-test"})
	defer ts.stop(t)

	nc := dial(t, ts.addr)
	defer nc.Close()
	io.WriteString(nc, "GET /hello HTTP/1.1\r\nHost: localhost\r\nConnection: close\r\n\r\n")
	out := readAll(t, nc)
	assert.True(t, strings.HasPrefix(out, "HTTP/1.1 200 OK\r\n"), out)
	assert.Contains(t, out, "Content-Length: 13\r\n")
	assert.Contains(t, out, "Connection: close\r\n")
	assert.Contains(t, out, "Server: http1-test\r\n")
	assert.True(t, strings.HasSuffix(out, "\r\n\r\nHello, World!"), out)
	assert.Equal(t, int32(1), hits.Load())
}

func Test_Server_KeepAliveOrder(t *testing.T) {
	defer leaktest.Check(t)()
	var hits atomic.Int32
	ts := startServer(t, testRouter(&hits), Config{})
	defer ts.stop(t)

	nc := dial(t, ts.addr)
	defer nc.Close()
	io.WriteString(nc, "GET /slow HTTP/1.1\r\nHost: x\r\n\r\n"+
		"GET /fast HTTP/1.1\r\nHost: x\r\n\r\n"+
		"GET /hello HTTP/1.1\r\nHost: x\r\nConnection: close\r\n\r\n")
	out := readAll(t, nc)
	assert.Equal(t, 3, strings.Count(out, "HTTP/1.1 200 OK\r\n"))
	slow, fast, hello := strings.Index(out, "\r\nslow"), strings.Index(out, "\r\nfast"), strings.Index(out, "Hello")
	assert.True(t, slow > 0 && slow < fast && fast < hello, out)
	assert.Equal(t, 2, strings.Count(out, "Connection: keep-alive\r\n"))
	assert.True(t, strings.HasSuffix(out, "Hello, World!"))
}

func Test_Server_SequentialKeepAlive(t *testing.T) {
	defer leaktest.Check(t)()
	var hits atomic.Int32
	ts := startServer(t, testRouter(&hits), Config{})
	defer ts.stop(t)

	nc := dial(t, ts.addr)
	defer nc.Close()
	br := bufio.NewReader(nc)
	for i := 0; i < 3; i++ {
		resp := roundTrip(t, nc, br, "POST /echo HTTP/1.1\r\nHost: x\r\nContent-Length: 4\r\n\r\nping")
		assert.Equal(t, StatusOK, StatusCode(resp.StatusCode()))
		assert.Equal(t, "ping", string(resp.Body()))
		assert.False(t, resp.ConnectionClose())
	}

	// chunked request body
	resp := roundTrip(t, nc, br, "POST /echo HTTP/1.1\r\nHost: x\r\nTransfer-Encoding: chunked\r\n\r\n3\r\nabc\r\n2\r\nde\r\n0\r\n\r\n")
	assert.Equal(t, "abcde", string(resp.Body()))
	assert.Equal(t, int32(4), hits.Load())
}

func Test_Server_TruncatedBodyNotDispatched(t *testing.T) {
	defer leaktest.Check(t)()
	var hits atomic.Int32
	ts := startServer(t, testRouter(&hits), Config{})
	defer ts.stop(t)

	nc := dial(t, ts.addr)
	defer nc.Close()
	io.WriteString(nc, "POST /echo HTTP/1.1\r\nHost: x\r\nContent-Length: 10\r\n\r\nabc")
	require.NoError(t, nc.(*net.TCPConn).CloseWrite())
	assert.Equal(t, "", readAll(t, nc))
	assert.Equal(t, int32(0), hits.Load())
}

func Test_Server_HandlerPanic(t *testing.T) {
	defer leaktest.Check(t)()
	var (
		hits atomic.Int32
		logs bytes.Buffer
	)
	logger := zerolog.New(zerolog.SyncWriter(&logs))
	ts := startServer(t, testRouter(&hits), Config{Logger: &logger})

	nc := dial(t, ts.addr)
	defer nc.Close()
	io.WriteString(nc, "GET /panic HTTP/1.1\r\nHost: x\r\n\r\n")
	out := readAll(t, nc)
	assert.True(t, strings.HasPrefix(out, "HTTP/1.1 500 Internal Server Error\r\n"), out)
	assert.Contains(t, out, "Connection: close\r\n")
	assert.NotContains(t, out, "kaboom")

	ts.stop(t)
	assert.Contains(t, logs.String(), "request failed")
	assert.Contains(t, logs.String(), "kaboom")
}

func Test_Server_KeepAliveOnHandlerFailure(t *testing.T) {
	defer leaktest.Check(t)()
	var hits atomic.Int32
	ts := startServer(t, testRouter(&hits), Config{KeepAliveOnHandlerFailure: true})
	defer ts.stop(t)

	nc := dial(t, ts.addr)
	defer nc.Close()
	br := bufio.NewReader(nc)
	resp := roundTrip(t, nc, br, "GET /panic HTTP/1.1\r\nHost: x\r\n\r\n")
	assert.Equal(t, int(StatusInternalServerError), resp.StatusCode())
	assert.False(t, resp.ConnectionClose())

	resp = roundTrip(t, nc, br, "GET /hello HTTP/1.1\r\nHost: x\r\n\r\n")
	assert.Equal(t, "Hello, World!", string(resp.Body()))
}

func Test_Server_RequestTimeout(t *testing.T) {
	defer leaktest.Check(t)()
	var hits atomic.Int32
	ts := startServer(t, testRouter(&hits), Config{RequestTimeout: 20 * time.Millisecond})
	defer ts.stop(t)

	nc := dial(t, ts.addr)
	defer nc.Close()
	io.WriteString(nc, "GET /wait HTTP/1.1\r\nHost: x\r\n\r\n")
	out := readAll(t, nc)
	assert.True(t, strings.HasPrefix(out, "HTTP/1.1 503 Service Unavailable\r\n"), out)
	assert.Contains(t, out, "Connection: close\r\n")
}

func Test_Server_ReadTimeout(t *testing.T) {
	defer leaktest.Check(t)()
	var hits atomic.Int32
	ts := startServer(t, testRouter(&hits), Config{ReadTimeout: 50 * time.Millisecond})
	defer ts.stop(t)

	// a partial request is answered with 408
	nc := dial(t, ts.addr)
	defer nc.Close()
	io.WriteString(nc, "GET /hello HTTP/1.1\r\nHost: x\r\n")
	out := readAll(t, nc)
	assert.True(t, strings.HasPrefix(out, "HTTP/1.1 408 Request Timeout\r\n"), out)
	assert.Contains(t, out, "Connection: close\r\n")

	// a connection that never sends is closed silently
	idle := dial(t, ts.addr)
	defer idle.Close()
	assert.Equal(t, "", readAll(t, idle))
	assert.Equal(t, int32(0), hits.Load())
}

func Test_Server_HTTP10(t *testing.T) {
	defer leaktest.Check(t)()
	var hits atomic.Int32
	ts := startServer(t, testRouter(&hits), Config{})
	defer ts.stop(t)

	nc := dial(t, ts.addr)
	defer nc.Close()
	io.WriteString(nc, "GET /hello HTTP/1.0\r\n\r\n")
	out := readAll(t, nc)
	assert.True(t, strings.HasPrefix(out, "HTTP/1.0 200 OK\r\n"), out)
	assert.Contains(t, out, "Connection: close\r\n")

	// keep-alive is opt-in for HTTP/1.0
	ka := dial(t, ts.addr)
	defer ka.Close()
	br := bufio.NewReader(ka)
	resp := roundTrip(t, ka, br, "GET /hello HTTP/1.0\r\nConnection: keep-alive\r\n\r\n")
	assert.False(t, resp.ConnectionClose())
	resp = roundTrip(t, ka, br, "GET /fast HTTP/1.0\r\n\r\n")
	assert.Equal(t, "fast", string(resp.Body()))
	assert.True(t, resp.ConnectionClose())
}

func Test_Server_ExpectContinue(t *testing.T) {
	defer leaktest.Check(t)()
	var hits atomic.Int32
	ts := startServer(t, testRouter(&hits), Config{})
	defer ts.stop(t)

	nc := dial(t, ts.addr)
	defer nc.Close()
	br := bufio.NewReader(nc)
	io.WriteString(nc, "POST /echo HTTP/1.1\r\nHost: x\r\nContent-Length: 5\r\nExpect: 100-continue\r\n\r\n")
	require.NoError(t, nc.SetReadDeadline(time.Now().Add(5*time.Second)))
	interim := make([]byte, len("HTTP/1.1 100 Continue\r\n\r\n"))
	_, err := io.ReadFull(br, interim)
	require.NoError(t, err)
	assert.Equal(t, "HTTP/1.1 100 Continue\r\n\r\n", string(interim))

	resp := roundTrip(t, nc, br, "hello")
	assert.Equal(t, "hello", string(resp.Body()))
}

func Test_Server_ParseError(t *testing.T) {
	defer leaktest.Check(t)()
	var hits atomic.Int32
	ts := startServer(t, testRouter(&hits), Config{})
	defer ts.stop(t)

	for _, tc := range []struct {
		raw  string
		want string
	}{
		{"BROKEN\r\n\r\n", "HTTP/1.1 400 Bad Request\r\n"},
		{"GET /hello HTTP/2.0\r\nHost: x\r\n\r\n", "HTTP/1.1 505 HTTP Version Not Supported\r\n"},
		{"POST /echo HTTP/1.1\r\nHost: x\r\n\r\n", "HTTP/1.1 411 Length Required\r\n"},
		{"POST /echo HTTP/1.1\r\nHost: x\r\nTransfer-Encoding: gzip, chunked\r\n\r\n", "HTTP/1.1 501 Not Implemented\r\n"},
	} {
		nc := dial(t, ts.addr)
		io.WriteString(nc, tc.raw)
		out := readAll(t, nc)
		nc.Close()
		assert.True(t, strings.HasPrefix(out, tc.want), "%q: %s", tc.raw, out)
		assert.Contains(t, out, "Connection: close\r\n")
	}
	assert.Equal(t, int32(0), hits.Load())
}

func Test_Server_RoutingFailures(t *testing.T) {
	defer leaktest.Check(t)()
	var hits atomic.Int32
	ts := startServer(t, testRouter(&hits), Config{})
	defer ts.stop(t)

	nc := dial(t, ts.addr)
	defer nc.Close()
	br := bufio.NewReader(nc)
	resp := roundTrip(t, nc, br, "GET /missing HTTP/1.1\r\nHost: x\r\n\r\n")
	assert.Equal(t, int(StatusNotFound), resp.StatusCode())
	assert.False(t, resp.ConnectionClose(), "a 404 keeps the connection")

	resp = roundTrip(t, nc, br, "DELETE /hello HTTP/1.1\r\nHost: x\r\n\r\n")
	assert.Equal(t, int(StatusMethodNotAllowed), resp.StatusCode())
	assert.Equal(t, "GET, HEAD", string(resp.Header.Peek("Allow")))

	resp = &fasthttp.Response{}
	resp.SkipBody = true
	io.WriteString(nc, "HEAD /hello HTTP/1.1\r\nHost: x\r\n\r\n")
	require.NoError(t, resp.Read(br))
	assert.Equal(t, 13, resp.Header.ContentLength())

	resp = roundTrip(t, nc, br, "GET /hello HTTP/1.1\r\nHost: x\r\n\r\n")
	assert.Equal(t, "Hello, World!", string(resp.Body()), "HEAD left no body on the wire")
}

func Test_Server_MaxRequestsPerConn(t *testing.T) {
	defer leaktest.Check(t)()
	var hits atomic.Int32
	ts := startServer(t, testRouter(&hits), Config{MaxRequestsPerConn: 2})
	defer ts.stop(t)

	nc := dial(t, ts.addr)
	defer nc.Close()
	br := bufio.NewReader(nc)
	resp := roundTrip(t, nc, br, "GET /hello HTTP/1.1\r\nHost: x\r\n\r\n")
	assert.False(t, resp.ConnectionClose())
	resp = roundTrip(t, nc, br, "GET /hello HTTP/1.1\r\nHost: x\r\n\r\n")
	assert.True(t, resp.ConnectionClose())

	_, err := br.ReadByte()
	assert.Equal(t, io.EOF, err)
}

func Test_Server_ConnState(t *testing.T) {
	defer leaktest.Check(t)()
	var (
		mu     sync.Mutex
		states []ConnState
	)
	cfg := Config{ConnState: func(_ net.Addr, s ConnState) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	}}
	var hits atomic.Int32
	ts := startServer(t, testRouter(&hits), cfg)
	defer ts.stop(t)

	nc := dial(t, ts.addr)
	defer nc.Close()
	br := bufio.NewReader(nc)
	roundTrip(t, nc, br, "GET /hello HTTP/1.1\r\nHost: x\r\n\r\n")
	roundTrip(t, nc, br, "GET /hello HTTP/1.1\r\nHost: x\r\nConnection: close\r\n\r\n")
	_, err := br.ReadByte()
	require.Equal(t, io.EOF, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []ConnState{
		StateIdle, StateReading, StateDispatching, StateWriting, StateIdle,
		StateReading, StateDispatching, StateWriting, StateClosing,
	}, states)
}

func Test_Server_Backpressure(t *testing.T) {
	for _, cfg := range []Config{
		{MaxConnections: 1},
		{MaxConnections: 8, Workers: 1},
	} {
		t.Run(fmt.Sprintf("conns=%d,workers=%d", cfg.MaxConnections, cfg.Workers), func(t *testing.T) {
			defer leaktest.Check(t)()
			var hits atomic.Int32
			ts := startServer(t, testRouter(&hits), cfg)
			defer ts.stop(t)

			first := dial(t, ts.addr)
			defer first.Close()
			roundTrip(t, first, bufio.NewReader(first), "GET /hello HTTP/1.1\r\nHost: x\r\n\r\n")
			assert.Equal(t, 1, ts.ActiveConns())

			// the only worker is held by the idle keep-alive connection
			second := dial(t, ts.addr)
			defer second.Close()
			io.WriteString(second, "GET /hello HTTP/1.1\r\nHost: x\r\nConnection: close\r\n\r\n")
			require.NoError(t, second.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
			_, err := second.Read(make([]byte, 1))
			var ne net.Error
			require.True(t, errors.As(err, &ne) && ne.Timeout(), "the second connection waits: %v", err)
			assert.Equal(t, 1, ts.ActiveConns(), "nothing is accepted while the pool is busy")

			first.Close()
			out := readAll(t, second)
			assert.True(t, strings.HasPrefix(out, "HTTP/1.1 200 OK\r\n"), out)
			assert.Equal(t, int32(2), hits.Load())
		})
	}
}

func Test_Server_ConnClosedDuringShutdown(t *testing.T) {
	defer leaktest.Check(t)()
	var hits atomic.Int32
	s := NewServer(testRouter(&hits), Config{Workers: 1})
	client, server := net.Pipe()
	defer client.Close()

	s.slots <- struct{}{}
	c := s.newConn(server, true)
	require.NotNil(t, c)
	assert.Equal(t, 1, s.ActiveConns())

	require.NoError(t, s.Close())
	assert.False(t, s.enqueue(c))
	assert.Equal(t, 0, s.ActiveConns())
	assert.Len(t, s.slots, 0, "the worker slot is released")
	assert.Len(t, s.jobs, 0)
}

func Test_Server_ServeConnLimit(t *testing.T) {
	defer leaktest.Check(t)()
	var hits atomic.Int32
	s := NewServer(testRouter(&hits), Config{MaxConnections: 1})
	c1, s1 := net.Pipe()
	defer c1.Close()
	served := make(chan error, 1)
	go func() { served <- s.ServeConn(s1) }()
	require.Eventually(t, func() bool { return s.ActiveConns() == 1 }, 5*time.Second, 5*time.Millisecond)

	c2, s2 := net.Pipe()
	defer c2.Close()
	assert.Equal(t, ErrTooManyConns, s.ServeConn(s2))

	assert.NoError(t, s.Close())
	assert.NoError(t, <-served)
}

func Test_Server_Shutdown(t *testing.T) {
	defer leaktest.Check(t)()
	release := make(chan struct{})
	entered := make(chan struct{})
	r := NewRouter()
	r.GET("/block", func(c *Context) (*Response, error) {
		close(entered)
		<-release
		return c.Text(StatusOK, "done")
	})
	r.GET("/hello", func(c *Context) (*Response, error) {
		return c.Text(StatusOK, "hi")
	})
	ts := startServer(t, r, Config{})

	idle := dial(t, ts.addr)
	defer idle.Close()
	roundTrip(t, idle, bufio.NewReader(idle), "GET /hello HTTP/1.1\r\nHost: x\r\n\r\n")

	busy := dial(t, ts.addr)
	defer busy.Close()
	io.WriteString(busy, "GET /block HTTP/1.1\r\nHost: x\r\n\r\n")
	<-entered

	shut := make(chan error, 1)
	go func() { shut <- ts.Shutdown(context.Background()) }()

	assert.Equal(t, "", readAll(t, idle), "idle connections are closed")
	select {
	case err := <-shut:
		t.Fatalf("Shutdown returned with a busy connection: %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	close(release)
	out := readAll(t, busy)
	assert.True(t, strings.HasPrefix(out, "HTTP/1.1 200 OK\r\n"), out)
	assert.Contains(t, out, "Connection: close\r\n")
	assert.NoError(t, <-shut)
	assert.Equal(t, ErrServerClosed, <-ts.done)
	assert.PanicsWithValue(t, ErrRouterFrozen, func() { r.GET("/late", named("late")) })

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	assert.Equal(t, ErrServerClosed, ts.Serve(ln))
}

func Test_Server_ShutdownDeadline(t *testing.T) {
	defer leaktest.Check(t)()
	var hits atomic.Int32
	ts := startServer(t, testRouter(&hits), Config{})

	nc := dial(t, ts.addr)
	defer nc.Close()
	io.WriteString(nc, "GET /wait HTTP/1.1\r\nHost: x\r\n\r\n")
	require.Eventually(t, func() bool { return hits.Load() == 1 }, 5*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := ts.Shutdown(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "%v", err)
	assert.Equal(t, ErrServerClosed, <-ts.done)
}

func Test_Server_ServeConn(t *testing.T) {
	defer leaktest.Check(t)()
	var hits atomic.Int32
	s := NewServer(testRouter(&hits), Config{})
	client, server := net.Pipe()
	defer client.Close()

	served := make(chan error, 1)
	go func() { served <- s.ServeConn(server) }()

	io.WriteString(client, "GET /hello HTTP/1.1\r\nHost: x\r\nConnection: close\r\n\r\n")
	out := readAll(t, client)
	assert.True(t, strings.HasSuffix(out, "Hello, World!"), out)
	assert.NoError(t, <-served)
	assert.Equal(t, 0, s.ActiveConns())
	assert.NoError(t, s.Close())
}
