package http1

import (
	"bufio"
	"io"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/valyala/bytebufferpool"
)

// WarningCode identifies a correction the serializer applied to a response.
type WarningCode int

const (
	// WarnBodyDropped: a 1xx, 204 or 304 response had a body attached.
	WarnBodyDropped WarningCode = iota + 1
	// WarnCloseDelimited: an HTTP/1.0 response of unknown length forces the
	// connection to close.
	WarnCloseDelimited
	// WarnConnectionOverridden: the response said keep-alive but the
	// connection is closing.
	WarnConnectionOverridden
)

type Warning struct {
	Code    WarningCode
	Message string
}

func (w Warning) String() string { return w.Message }

// WriteOptions carries what the connection knows about the exchange.
type WriteOptions struct {
	// Close: the connection closes after this response.
	Close bool
	// HeadOnly: the request was HEAD; headers are sent as for GET.
	HeadOnly bool
	// Peer is the request's version. An HTTP/1.0 peer never receives a
	// chunked body. The zero value means unknown.
	Peer Version
}

// WriteResult reports what the serializer did.
type WriteResult struct {
	Warnings []Warning
	// Close is true when the response leaves the connection unusable,
	// either because it was asked to or because of close-delimited framing.
	Close bool
}

// Serializer writes responses in RFC7230 wire format. The zero value is
// ready to use.
type Serializer struct {
	// ServerName, when set, is sent as Server unless the response has one.
	ServerName string
	// Now defaults to time.Now.
	Now func() time.Time
}

type framing uint8

const (
	framingNone framing = iota
	framingLength
	framingChunked
	framingClose
)

var outPool bytebufferpool.Pool

// Serialize renders r with a zero Serializer and default options.
func Serialize(r *Response) ([]byte, []Warning, error) {
	var s Serializer
	return s.Serialize(r, WriteOptions{})
}

// Serialize renders r into a new byte slice.
func (s *Serializer) Serialize(r *Response, opts WriteOptions) ([]byte, []Warning, error) {
	buf := outPool.Get()
	defer outPool.Put(buf)
	w := bufio.NewWriter(buf)
	res, err := s.WriteResponse(w, r, opts)
	if err != nil {
		return nil, res.Warnings, err
	}
	if err := w.Flush(); err != nil {
		return nil, res.Warnings, errors.WithStack(err)
	}
	return append([]byte(nil), buf.B...), res.Warnings, nil
}

// WriteResponse writes status-line, the stored fields in order, the
// injected Date, framing and Connection fields when missing, the empty line
// and the body. It does not flush w. A streaming body is closed.
func (s *Serializer) WriteResponse(w *bufio.Writer, r *Response, opts WriteOptions) (WriteResult, error) {
	defer r.Close()
	var res WriteResult

	allowed := r.status.BodyAllowed()
	if !allowed && (len(r.body) > 0 || r.bodyStream != nil) {
		res.Warnings = append(res.Warnings, Warning{
			Code:    WarnBodyDropped,
			Message: "body of " + r.status.String() + " response dropped",
		})
	}

	mode, length := framingNone, int64(0)
	switch {
	case !allowed:
	case r.bodyStream != nil && r.streamSize >= 0:
		mode, length = framingLength, r.streamSize
	case r.bodyStream != nil && r.version.AtLeast(1, 1) && (opts.Peer == Version{} || opts.Peer.AtLeast(1, 1)):
		mode = framingChunked
	case r.bodyStream != nil:
		mode = framingClose
		res.Warnings = append(res.Warnings, Warning{
			Code:    WarnCloseDelimited,
			Message: "HTTP/1.0 response of unknown length is close-delimited",
		})
	default:
		mode, length = framingLength, int64(len(r.body))
	}

	res.Close = opts.Close || mode == framingClose || r.wantsClose()
	sayClose := res.Close && !r.wantsClose()

	w.Write(statusLine(r.version, r.status, r.reason))
	for _, f := range r.header {
		if sayClose && equalFold(f.Name, HeaderConnection) {
			res.Warnings = append(res.Warnings, Warning{
				Code:    WarnConnectionOverridden,
				Message: "Connection: " + f.Value + " replaced by close",
			})
			continue
		}
		writeLine(w, f.Name, f.Value)
	}
	if !r.header.Has(HeaderDate) {
		now := time.Now
		if s.Now != nil {
			now = s.Now
		}
		writeLine(w, HeaderDate, now().UTC().Format(dateLayout))
	}
	switch mode {
	case framingLength:
		if !r.header.Has(HeaderContentLength) {
			writeLine(w, HeaderContentLength, strconv.FormatInt(length, 10))
		}
	case framingChunked:
		writeLine(w, HeaderTransferEncoding, string(byteChunked))
	}
	if sayClose || !r.header.Has(HeaderConnection) {
		if res.Close {
			writeLine(w, HeaderConnection, string(byteClose))
		} else {
			writeLine(w, HeaderConnection, string(byteKeepAlive))
		}
	}
	if s.ServerName != "" && !r.header.Has(HeaderServer) {
		writeLine(w, HeaderServer, s.ServerName)
	}
	if _, err := w.Write(byteCRLF); err != nil {
		return res, errors.WithStack(err)
	}

	if opts.HeadOnly || r.headOnly || mode == framingNone {
		return res, nil
	}
	var err error
	switch {
	case r.bodyStream == nil:
		_, err = w.Write(r.body)
	case mode == framingChunked:
		err = writeChunked(w, r.bodyStream)
	case mode == framingClose:
		_, err = bufCopy(w, r.bodyStream)
	default:
		var n int64
		n, err = bufCopy(w, io.LimitReader(r.bodyStream, length))
		if err == nil && n < length {
			err = errors.Errorf("body stream ended after %d of %d bytes", n, length)
			res.Close = true
		}
	}
	return res, errors.WithStack(err)
}
