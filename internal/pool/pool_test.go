package pool

import (
	"bytes"
	"compress/gzip"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferRoundTrip(t *testing.T) {
	buf := GetBuffer()
	buf.WriteString("hello")
	PutBuffer(buf)

	again := GetBuffer()
	assert.Zero(t, again.Len(), "pooled buffer must come back empty")
	PutBuffer(again)
}

func TestPutBufferDropsOversize(t *testing.T) {
	big := bytes.NewBuffer(make([]byte, 0, maxPooledBufferBytes+1))
	PutBuffer(big)
	PutBuffer(nil)
}

func TestGzipWriterRoundTrip(t *testing.T) {
	var out bytes.Buffer
	gw := GetGzipWriter(&out)
	_, err := gw.Write([]byte("compress me"))
	require.NoError(t, err)
	require.NoError(t, gw.Close())
	PutGzipWriter(gw)

	gr, err := gzip.NewReader(&out)
	require.NoError(t, err)
	plain, err := io.ReadAll(gr)
	require.NoError(t, err)
	assert.Equal(t, "compress me", string(plain))

	// A reused writer must produce a valid stream for a new destination.
	var second bytes.Buffer
	gw2 := GetGzipWriter(&second)
	_, err = gw2.Write([]byte("again"))
	require.NoError(t, err)
	require.NoError(t, gw2.Close())
	PutGzipWriter(gw2)

	gr2, err := gzip.NewReader(&second)
	require.NoError(t, err)
	plain2, err := io.ReadAll(gr2)
	require.NoError(t, err)
	assert.Equal(t, "again", string(plain2))
}
