package http1

import (
	"net"
	"time"

	"github.com/pkg/errors"
	"github.com/valyala/bytebufferpool"
)

// Conn is the byte-stream a connection is served over: a duplex stream with
// a read buffer the parser works on in place.
type Conn interface {
	// Bytes returns the buffered, not yet consumed input.
	Bytes() []byte
	// Fill reads once from the stream into the buffer.
	Fill() (int, error)
	// Shift drops the first n buffered bytes.
	Shift(n int)
	Buffered() int
	Write(p []byte) (n int, err error)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	RemoteAddr() net.Addr
	Close() error
}

const minReadSize = 512

var readPool bytebufferpool.Pool

type bufConn struct {
	net.Conn
	buf  *bytebufferpool.ByteBuffer
	r    int
	size int
}

// NewConn wraps nc with a pooled read buffer that grows by size bytes.
func NewConn(nc net.Conn, size int) Conn {
	if size < minReadSize {
		size = minReadSize
	}
	return &bufConn{Conn: nc, buf: readPool.Get(), size: size}
}

func (c *bufConn) Bytes() []byte {
	if c.buf == nil {
		return nil
	}
	return c.buf.B[c.r:]
}

func (c *bufConn) Buffered() int {
	if c.buf == nil {
		return 0
	}
	return len(c.buf.B) - c.r
}

func (c *bufConn) Shift(n int) {
	if c.r += n; c.r >= len(c.buf.B) {
		c.r = 0
		c.buf.Reset()
	}
}

func (c *bufConn) Fill() (int, error) {
	if c.buf == nil {
		return 0, errors.WithStack(errConnClosed)
	}
	b := c.buf.B
	if c.r > 0 {
		n := copy(b, b[c.r:])
		b = b[:n]
		c.r = 0
	}
	if cap(b)-len(b) < minReadSize {
		grown := make([]byte, len(b), len(b)+c.size)
		copy(grown, b)
		b = grown
	}
	n, err := c.Conn.Read(b[len(b):cap(b)])
	c.buf.B = b[:len(b)+n]
	return n, err
}

// Close closes the stream and returns the buffer to the pool. It must be
// called by the goroutine that reads; other goroutines close the net.Conn.
func (c *bufConn) Close() error {
	err := c.Conn.Close()
	if c.buf != nil {
		readPool.Put(c.buf)
		c.buf = nil
	}
	return err
}
