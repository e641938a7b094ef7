// Package pool provides shared object pools for the hot paths of cache
// value encoding.
package pool

import (
	"bytes"
	"compress/gzip"
	"io"
	"sync"
)

// Buffers above this size are dropped instead of pooled so one huge
// catalog does not pin memory forever.
const maxPooledBufferBytes = 1 << 20

var (
	bufferPool = sync.Pool{
		New: func() any {
			return new(bytes.Buffer)
		},
	}

	gzipWriterPool = sync.Pool{
		New: func() any {
			return gzip.NewWriter(io.Discard)
		},
	}
)

// GetBuffer gets an empty buffer from the pool.
func GetBuffer() *bytes.Buffer {
	return bufferPool.Get().(*bytes.Buffer)
}

// PutBuffer returns a buffer to the pool.
// It resets the buffer before returning it.
func PutBuffer(buf *bytes.Buffer) {
	if buf == nil || buf.Cap() > maxPooledBufferBytes {
		return
	}
	buf.Reset()
	bufferPool.Put(buf)
}

// GetGzipWriter gets a gzip writer from the pool, reset to write to w.
func GetGzipWriter(w io.Writer) *gzip.Writer {
	gw := gzipWriterPool.Get().(*gzip.Writer)
	gw.Reset(w)
	return gw
}

// PutGzipWriter returns a gzip writer to the pool. The writer must be
// closed or abandoned by the caller first.
func PutGzipWriter(gw *gzip.Writer) {
	if gw == nil {
		return
	}
	gzipWriterPool.Put(gw)
}
