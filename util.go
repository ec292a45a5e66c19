package http1

import (
	"bufio"
	"io"
	"strconv"
	"sync"
	"unsafe"

	"github.com/pkg/errors"
)

func b2s(b []byte) string {
	return *(*string)(unsafe.Pointer(&b))
}

func s2b(s string) (b []byte) {
	x := (*[2]uintptr)(unsafe.Pointer(&s))
	h := [3]uintptr{x[0], x[1], x[1]}
	return *(*[]byte)(unsafe.Pointer(&h))
}

func writeLine(wr *bufio.Writer, key, value string) {
	wr.WriteString(key)
	wr.Write(byteColonSpace)
	wr.WriteString(value)
	wr.Write(byteCRLF)
}

var bufPool = sync.Pool{
	New: func() interface{} {
		return make([]byte, 4096)
	},
}

func bufCopy(w io.Writer, r io.Reader) (int64, error) {
	b := bufPool.Get().([]byte)
	n, err := io.CopyBuffer(w, r, b)
	bufPool.Put(b)
	return n, err
}

// writeChunked copies r as chunk blocks followed by the last-chunk. Each
// block is flushed so a slow producer still reaches the peer.
func writeChunked(w *bufio.Writer, r io.Reader) error {
	buf := bufPool.Get().([]byte)
	defer bufPool.Put(buf)

	for {
		n, err := r.Read(buf)
		if n > 0 {
			if werr := writeChunkBlock(w, buf[:n]); werr != nil {
				return werr
			}
		}
		if err == io.EOF {
			_, err = w.Write(byteLastChunk)
			return errors.WithStack(err)
		}
		if err != nil {
			return errors.WithStack(err)
		}
	}
}

func writeChunkBlock(w *bufio.Writer, b []byte) error {
	var size [16]byte
	w.Write(strconv.AppendInt(size[:0], int64(len(b)), 16))
	w.Write(byteCRLF)
	w.Write(b)
	if _, err := w.Write(byteCRLF); err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(w.Flush())
}
