package http1

import (
	"bufio"
	"context"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// ConnState is a state of the per-connection state machine.
type ConnState int32

const (
	StateIdle ConnState = iota
	StateReading
	StateDispatching
	StateWriting
	StateClosing
)

// stateNew is the state of an accepted connection no worker has picked up.
const stateNew ConnState = -1

var stateNames = [...]string{"idle", "reading", "dispatching", "writing", "closing"}

func (s ConnState) String() string {
	if s == stateNew {
		return "new"
	}
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// readTimeoutError is returned by readRequest when the read deadline passed.
type readTimeoutError struct {
	partial bool
	err     error
}

func (e *readTimeoutError) Error() string {
	if e.partial {
		return "http1: read timeout with partial request: " + e.err.Error()
	}
	return "http1: idle timeout: " + e.err.Error()
}

func (e *readTimeoutError) Unwrap() error { return e.err }

// conn drives one stream through Idle, Reading, Dispatching, Writing and
// back to Idle, or to Closing.
type conn struct {
	srv    *Server
	nc     net.Conn
	rwc    Conn
	parser *Parser
	w      *bufio.Writer
	log    zerolog.Logger
	pooled bool

	state     atomic.Int32
	served    uint64
	continued bool
	closeOnce sync.Once
}

func (c *conn) setState(s ConnState) {
	if ConnState(c.state.Swap(int32(s))) == s {
		return
	}
	if hook := c.srv.cfg.ConnState; hook != nil {
		hook(c.nc.RemoteAddr(), s)
	}
}

func (c *conn) getState() ConnState { return ConnState(c.state.Load()) }

// serve runs the state machine until the connection closes.
func (c *conn) serve(ctx context.Context) {
	defer c.close()
	for {
		c.setState(StateIdle)
		req, err := c.readRequest()
		if err != nil {
			c.readFailed(err)
			return
		}

		c.setState(StateDispatching)
		resp, err := c.dispatch(ctx, req)
		var f *Failure
		if err != nil {
			f = Classify(err)
			c.logFailure(req, f)
			resp = MapFailure(f)
		}

		c.setState(StateWriting)
		closeAfter := c.mustClose(req, f)
		res, err := c.srv.ser.WriteResponse(c.w, resp, WriteOptions{
			Close:    closeAfter,
			HeadOnly: req.Method() == MethodHead,
			Peer:     req.Version(),
		})
		for _, w := range res.Warnings {
			c.log.Warn().Str("method", string(req.Method())).Str("path", req.Path()).Msg(w.Message)
		}
		if err != nil {
			c.log.Debug().Err(err).Msg("write response")
			return
		}
		c.served++
		if res.Close || c.rwc.Buffered() == 0 {
			if err := c.flush(); err != nil {
				c.log.Debug().Err(err).Msg("flush response")
				return
			}
		}
		if res.Close {
			return
		}
		c.parser.Reset()
		c.continued = false
	}
}

// mustClose decides whether the connection ends after this exchange.
func (c *conn) mustClose(req *Request, f *Failure) bool {
	cfg := &c.srv.cfg
	switch {
	case !req.KeepAlive():
		return true
	case c.srv.shuttingDown():
		return true
	case cfg.MaxRequestsPerConn > 0 && c.served+1 >= cfg.MaxRequestsPerConn:
		return true
	case f == nil:
		return false
	case f.Kind == FailureTimeout || f.Kind == FailureParse:
		return true
	case f.Kind == FailureHandler && f.Status.Class() == 5:
		return !cfg.KeepAliveOnHandlerFailure
	}
	return false
}

func (c *conn) flush() error {
	if c.w.Buffered() == 0 {
		return nil
	}
	if d := c.srv.cfg.WriteTimeout; d > 0 {
		c.rwc.SetWriteDeadline(time.Now().Add(d))
	}
	return errors.WithStack(c.w.Flush())
}

// readRequest returns the next complete request. While bytes are missing it
// flushes pending responses and blocks on the stream under the idle or read
// deadline.
func (c *conn) readRequest() (*Request, error) {
	for {
		if buf := c.rwc.Bytes(); len(buf) > 0 {
			c.setState(StateReading)
			req, n, err := c.parser.Parse(buf)
			if err == nil {
				c.rwc.Shift(n)
				return req, nil
			}
			if err != ErrIncomplete {
				return nil, err
			}
			if used := c.parser.consumed(); used > 0 {
				c.rwc.Shift(used)
				c.parser.rebase(used)
			}
			if err := c.sendContinue(); err != nil {
				return nil, err
			}
		}

		if err := c.flush(); err != nil {
			return nil, err
		}
		started := c.parser.Started()
		d := c.srv.cfg.ReadTimeout
		if !started && c.served > 0 && c.srv.cfg.IdleTimeout > 0 {
			d = c.srv.cfg.IdleTimeout
		}
		if d > 0 {
			c.rwc.SetReadDeadline(time.Now().Add(d))
		} else {
			c.rwc.SetReadDeadline(time.Time{})
		}
		if c.srv.shuttingDown() && !started {
			return nil, io.EOF
		}
		if _, err := c.rwc.Fill(); err != nil {
			var ne net.Error
			switch {
			case errors.As(err, &ne) && ne.Timeout():
				return nil, &readTimeoutError{partial: started, err: err}
			case err == io.EOF && started:
				return nil, errors.Wrap(errConnClosed, ErrIncomplete.Error())
			}
			return nil, err
		}
	}
}

// sendContinue writes the interim 100 response once per request, as soon as
// the head of a request expecting it is complete.
func (c *conn) sendContinue() error {
	req := c.parser.Pending()
	if req == nil || c.continued || !req.ExpectsContinue() {
		return nil
	}
	c.continued = true
	c.w.Write(byteResponseContinue)
	return c.flush()
}

// readFailed answers what can still be answered, then lets serve close.
func (c *conn) readFailed(err error) {
	var (
		pe *ParseError
		te *readTimeoutError
	)
	switch {
	case errors.As(err, &pe):
		c.log.Info().Err(err).Int("status", int(pe.Status())).Msg("bad request")
		c.writeError(&Failure{Kind: FailureParse, Status: pe.Status(), Err: err})
	case errors.As(err, &te) && te.partial:
		c.log.Info().Err(err).Msg("read timeout")
		c.writeError(&Failure{Kind: FailureTimeout, Status: StatusRequestTimeout, Err: err})
	case errors.As(err, &te):
		c.log.Debug().Msg("idle timeout")
	case errors.Is(err, errConnClosed):
		c.log.Info().Err(err).Msg("incomplete request")
	case err == io.EOF:
	default:
		c.log.Debug().Err(err).Msg("read request")
	}
}

func (c *conn) writeError(f *Failure) {
	c.setState(StateWriting)
	if _, err := c.srv.ser.WriteResponse(c.w, MapFailure(f), WriteOptions{Close: true}); err != nil {
		return
	}
	if err := c.flush(); err != nil {
		c.log.Debug().Err(err).Msg("write error response")
	}
}

type result struct {
	resp *Response
	err  error
}

// dispatch runs the router for req. With a request timeout the handler runs
// on its own goroutine; if it overruns, its context is cancelled and the
// exchange fails with a timeout, while the handler's eventual result is
// discarded.
func (c *conn) dispatch(ctx context.Context, req *Request) (*Response, error) {
	d := c.srv.cfg.RequestTimeout
	if d <= 0 {
		hc := acquireContext(ctx, c, req)
		defer releaseContext(hc)
		return c.srv.invoke(hc)
	}

	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	hc := acquireContext(ctx, c, req)
	done := make(chan result, 1)
	go func() {
		resp, err := c.srv.invoke(hc)
		done <- result{resp, err}
	}()
	select {
	case r := <-done:
		releaseContext(hc)
		return r.resp, r.err
	case <-ctx.Done():
		go func() {
			if r := <-done; r.resp != nil {
				r.resp.Close()
			}
		}()
		return nil, &Failure{Kind: FailureTimeout, Status: StatusServiceUnavailable, Err: errors.WithStack(ctx.Err())}
	}
}

func (c *conn) logFailure(req *Request, f *Failure) {
	var e *zerolog.Event
	switch {
	case f.Kind == FailureHandler && f.Status.Class() == 5:
		e = c.log.Error()
	case f.Kind == FailureTimeout:
		e = c.log.Warn()
	default:
		e = c.log.Debug()
	}
	e.Str("method", string(req.Method())).
		Str("path", req.Path()).
		Str("kind", f.Kind.String()).
		Int("status", int(f.Status)).
		Stack().
		Err(f.Err).
		Msg("request failed")
}

// close releases the stream and the worker slot exactly once.
func (c *conn) close() {
	c.closeOnce.Do(func() {
		c.setState(StateClosing)
		c.rwc.Close()
		c.parser.Reset()
		c.srv.trackConn(c, false)
		if c.pooled {
			c.srv.release()
		}
	})
}
