package http1

import (
	"bufio"
	"context"
	"net"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Config tunes a Server. Zero limits take the values of DefaultConfig;
// zero timeouts are disabled.
type Config struct {
	// MaxConnections bounds open connections, including those driven by
	// ServeConn.
	MaxConnections int
	// Workers is the number of goroutines serving connections. A worker is
	// reserved before each Accept, so while all are busy new connections
	// wait in the listener's backlog. Defaults to MaxConnections.
	Workers int

	// ReadTimeout bounds the wait for the rest of a started request, and
	// for the first request of a connection.
	ReadTimeout time.Duration
	// IdleTimeout bounds the wait for the next request on a kept-alive
	// connection. Zero falls back to ReadTimeout.
	IdleTimeout time.Duration
	// RequestTimeout bounds the handler. Zero disables it.
	RequestTimeout time.Duration
	WriteTimeout   time.Duration

	MaxLineBytes   int
	MaxURIBytes    int
	MaxHeaderBytes int
	MaxHeaderCount int
	MaxBodyBytes   int64

	// MaxRequestsPerConn closes a connection after that many exchanges.
	// Zero means unlimited.
	MaxRequestsPerConn uint64
	ReadBufferSize     int

	// KeepAliveOnHandlerFailure keeps the connection open after a handler
	// error or panic mapped to 5xx. By default the connection closes.
	KeepAliveOnHandlerFailure bool

	// ServerName is sent in the Server field when set.
	ServerName string
	Logger     *zerolog.Logger
	// ConnState is called on every state transition of a connection.
	ConnState func(remote net.Addr, state ConnState)
}

// DefaultConfig returns the configuration zero fields are replaced with.
func DefaultConfig() Config {
	return Config{
		MaxConnections: 1024,
		ReadTimeout:    30 * time.Second,
		IdleTimeout:    60 * time.Second,
		WriteTimeout:   30 * time.Second,
		MaxLineBytes:   DefaultMaxLineBytes,
		MaxURIBytes:    DefaultMaxURIBytes,
		MaxHeaderBytes: DefaultMaxHeaderBytes,
		MaxHeaderCount: DefaultMaxHeaderCount,
		MaxBodyBytes:   DefaultMaxBodyBytes,
		ReadBufferSize: 4096,
	}
}

func (cfg Config) normalize() Config {
	d := DefaultConfig()
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = d.MaxConnections
	}
	if cfg.Workers <= 0 || cfg.Workers > cfg.MaxConnections {
		cfg.Workers = cfg.MaxConnections
	}
	if cfg.ReadTimeout < 0 {
		cfg.ReadTimeout = 0
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = cfg.ReadTimeout
	}
	if cfg.ReadBufferSize <= 0 {
		cfg.ReadBufferSize = d.ReadBufferSize
	}
	if cfg.MaxBodyBytes == 0 {
		cfg.MaxBodyBytes = d.MaxBodyBytes
	}
	if cfg.Logger == nil {
		nop := zerolog.Nop()
		cfg.Logger = &nop
	}
	return cfg
}

// Limits returns the parser limits of cfg.
func (cfg Config) Limits() Limits {
	return Limits{
		MaxLineBytes:   cfg.MaxLineBytes,
		MaxURIBytes:    cfg.MaxURIBytes,
		MaxHeaderBytes: cfg.MaxHeaderBytes,
		MaxHeaderCount: cfg.MaxHeaderCount,
		MaxBodyBytes:   cfg.MaxBodyBytes,
	}.normalize()
}

// Server accepts connections and serves them with a bounded pool of
// workers.
type Server struct {
	cfg    Config
	router *Router
	ser    Serializer
	log    zerolog.Logger

	mu         sync.Mutex
	listeners  map[net.Listener]struct{}
	activeConn map[*conn]struct{}
	doneChan   chan struct{}
	inShutdown atomic.Bool

	connSeq     atomic.Uint64
	slots       chan struct{} // one per worker, held by a pooled conn
	jobs        chan *conn
	workersOnce sync.Once
	workers     sync.WaitGroup

	baseCtx context.Context
	cancel  context.CancelFunc
}

// NewServer returns a server dispatching to router. The router is frozen
// when the server starts serving.
func NewServer(router *Router, cfg Config) *Server {
	cfg = cfg.normalize()
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:     cfg,
		router:  router,
		ser:     Serializer{ServerName: cfg.ServerName},
		log:     *cfg.Logger,
		slots:   make(chan struct{}, cfg.Workers),
		jobs:    make(chan *conn, cfg.Workers),
		baseCtx: ctx,
		cancel:  cancel,
	}
}

// Config returns the normalised configuration.
func (s *Server) Config() Config { return s.cfg }

// ListenAndServe listens on the TCP address addr and calls Serve.
func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.WithStack(err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on l until the server is closed. A worker is
// reserved before each Accept, so a saturated pool leaves new connections
// in the listener's backlog. Serve always returns a non-nil
// error; after Close or Shutdown it is ErrServerClosed.
func (s *Server) Serve(l net.Listener) error {
	defer l.Close()
	if !s.trackListener(l, true) {
		return ErrServerClosed
	}
	defer s.trackListener(l, false)
	s.router.freeze()
	s.startWorkers()
	done := s.getDoneChan()

	var tempDelay time.Duration // how long to sleep on accept failure
	for {
		select {
		case s.slots <- struct{}{}:
		case <-done:
			return ErrServerClosed
		}
		nc, err := l.Accept()
		if err != nil {
			s.release()
			if s.shuttingDown() {
				return ErrServerClosed
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				if tempDelay == 0 {
					tempDelay = 5 * time.Millisecond
				} else {
					tempDelay *= 2
				}
				if max := 1 * time.Second; tempDelay > max {
					tempDelay = max
				}
				s.log.Warn().Err(err).Dur("retry", tempDelay).Msg("accept")
				time.Sleep(tempDelay)
				continue
			}
			return errors.WithStack(err)
		}
		tempDelay = 0
		c := s.newConn(nc, true)
		if c == nil {
			continue
		}
		s.enqueue(c)
	}
}

// enqueue hands c to a worker, or closes it when the server started
// closing after c was accepted. Holding a slot, c never blocks on jobs.
func (s *Server) enqueue(c *conn) bool {
	s.mu.Lock()
	if s.shuttingDown() {
		s.mu.Unlock()
		c.close()
		return false
	}
	s.jobs <- c
	s.mu.Unlock()
	return true
}

// ServeConn serves nc on the calling goroutine, outside the worker pool,
// and returns once the connection is closed.
func (s *Server) ServeConn(nc net.Conn) error {
	s.router.freeze()
	c := s.newConn(nc, false)
	if c == nil {
		if s.shuttingDown() {
			return ErrServerClosed
		}
		return ErrTooManyConns
	}
	c.serve(s.baseCtx)
	return nil
}

func (s *Server) newConn(nc net.Conn, pooled bool) *conn {
	rwc := NewConn(nc, s.cfg.ReadBufferSize)
	log := s.log.With().
		Uint64("conn", s.connSeq.Add(1)).
		Str("remote", nc.RemoteAddr().String()).
		Logger()
	c := &conn{
		srv:    s,
		nc:     nc,
		rwc:    rwc,
		parser: NewParser(s.cfg.Limits()),
		w:      bufio.NewWriterSize(rwc, 4096),
		log:    log,
		pooled: pooled,
	}
	c.state.Store(int32(stateNew))
	if !s.trackConn(c, true) {
		rwc.Close()
		if pooled {
			s.release()
		}
		return nil
	}
	return c
}

func (s *Server) release() { <-s.slots }

func (s *Server) startWorkers() {
	s.workersOnce.Do(func() {
		n := s.cfg.Workers
		if n <= 0 {
			n = runtime.NumCPU()
		}
		done := s.getDoneChan()
		s.workers.Add(n)
		for i := 0; i < n; i++ {
			go s.worker(done)
		}
	})
}

func (s *Server) worker(done <-chan struct{}) {
	defer s.workers.Done()
	for {
		select {
		case c := <-s.jobs:
			c.serve(s.baseCtx)
		case <-done:
			return
		}
	}
}

// invoke dispatches through the router. A panic becomes a handler failure.
func (s *Server) invoke(c *Context) (resp *Response, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			resp = nil
			err = &Failure{
				Kind:   FailureHandler,
				Status: StatusInternalServerError,
				Err:    errors.Wrapf(errHandlerPanic, "%v", rec),
			}
		}
	}()
	return s.router.Dispatch(c)
}

func (s *Server) shuttingDown() bool { return s.inShutdown.Load() }

// Close immediately closes all listeners and connections, cancels running
// handlers and stops the workers.
func (s *Server) Close() error {
	s.inShutdown.Store(true)
	s.mu.Lock()
	s.closeDoneChanLocked()
	err := s.closeListenersLocked()
	for c := range s.activeConn {
		c.nc.Close()
	}
	s.mu.Unlock()
	s.cancel()
	s.workers.Wait()
	s.drainJobs()
	return err
}

var shutdownPollInterval = 50 * time.Millisecond

// Shutdown stops accepting, closes idle connections and waits for busy ones
// to finish their current exchange. If ctx expires first, the remaining
// connections are closed as by Close and ctx's error is returned.
func (s *Server) Shutdown(ctx context.Context) error {
	s.inShutdown.Store(true)
	s.mu.Lock()
	lnerr := s.closeListenersLocked()
	s.mu.Unlock()

	ticker := time.NewTicker(shutdownPollInterval)
	defer ticker.Stop()
	for {
		if s.closeIdleConns() {
			return s.finishShutdown(lnerr)
		}
		select {
		case <-ctx.Done():
			s.Close()
			return errors.WithStack(ctx.Err())
		case <-ticker.C:
		}
	}
}

func (s *Server) finishShutdown(err error) error {
	s.mu.Lock()
	s.closeDoneChanLocked()
	s.mu.Unlock()
	s.cancel()
	s.workers.Wait()
	s.drainJobs()
	return err
}

// drainJobs closes connections accepted but never picked up by a worker.
func (s *Server) drainJobs() {
	for {
		select {
		case c := <-s.jobs:
			c.close()
		default:
			return
		}
	}
}

// closeIdleConns closes idle connections and reports whether none remain.
func (s *Server) closeIdleConns() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	quiescent := true
	for c := range s.activeConn {
		if st := c.getState(); st == StateIdle || st == stateNew {
			c.nc.Close()
		}
		quiescent = false
	}
	return quiescent
}

func (s *Server) closeListenersLocked() error {
	var err error
	for ln := range s.listeners {
		if cerr := ln.Close(); cerr != nil && err == nil {
			err = errors.WithStack(cerr)
		}
	}
	return err
}

func (s *Server) trackListener(ln net.Listener, add bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listeners == nil {
		s.listeners = make(map[net.Listener]struct{})
	}
	if add {
		if s.shuttingDown() {
			return false
		}
		s.listeners[ln] = struct{}{}
	} else {
		delete(s.listeners, ln)
	}
	return true
}

func (s *Server) trackConn(c *conn, add bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeConn == nil {
		s.activeConn = make(map[*conn]struct{})
	}
	if add {
		if s.shuttingDown() || len(s.activeConn) >= s.cfg.MaxConnections {
			return false
		}
		s.activeConn[c] = struct{}{}
	} else {
		delete(s.activeConn, c)
	}
	return true
}

// ActiveConns returns the number of open connections.
func (s *Server) ActiveConns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.activeConn)
}

func (s *Server) getDoneChan() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getDoneChanLocked()
}

func (s *Server) getDoneChanLocked() chan struct{} {
	if s.doneChan == nil {
		s.doneChan = make(chan struct{})
	}
	return s.doneChan
}

func (s *Server) closeDoneChanLocked() {
	ch := s.getDoneChanLocked()
	select {
	case <-ch:
	default:
		close(ch)
	}
}
