package producer

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func buildMultipart(jpegs [][]byte) []byte {
	var buf bytes.Buffer
	for _, j := range jpegs {
		buf.WriteString("--frame\r\n")
		buf.WriteString("Content-Type: image/jpeg\r\n")
		buf.WriteString("Content-Length: 0\r\n\r\n")
		buf.Write(j)
		buf.WriteString("\r\n")
	}
	// A part is complete only once the next boundary arrives, so the
	// stream ends with a boundary that terminates the last part.
	buf.WriteString("--frame\r\n")
	return buf.Bytes()
}

func TestMJPEGParserWholeStream(t *testing.T) {
	jpegs := [][]byte{[]byte("jpeg-one"), []byte("jpeg-two"), []byte("jpeg-three")}
	stream := buildMultipart(jpegs)

	p := NewMJPEGParser()
	got := p.Feed(stream)
	require.Len(t, got, 3)
	for i, j := range jpegs {
		require.Equal(t, j, got[i])
	}
}

func TestMJPEGParserOneByteAtATime(t *testing.T) {
	jpegs := [][]byte{[]byte("jpeg-one"), []byte("jpeg-two")}
	stream := buildMultipart(jpegs)

	p := NewMJPEGParser()
	var got [][]byte
	for i := range stream {
		got = append(got, p.Feed(stream[i:i+1])...)
	}
	require.Len(t, got, 2)
	require.Equal(t, jpegs[0], got[0])
	require.Equal(t, jpegs[1], got[1])
}

func TestMJPEGParserArbitraryChunking(t *testing.T) {
	jpegs := [][]byte{[]byte("aaaa"), []byte("bbbbbbbb"), []byte("c")}
	stream := buildMultipart(jpegs)

	for chunkSize := 1; chunkSize <= 7; chunkSize++ {
		p := NewMJPEGParser()
		var got [][]byte
		for i := 0; i < len(stream); i += chunkSize {
			end := i + chunkSize
			if end > len(stream) {
				end = len(stream)
			}
			got = append(got, p.Feed(stream[i:end])...)
		}
		require.Len(t, got, 3, "chunkSize=%d", chunkSize)
		for i, j := range jpegs {
			require.Equal(t, j, got[i], "chunkSize=%d", chunkSize)
		}
	}
}

func TestMJPEGParserNoBoundaryEver(t *testing.T) {
	p := NewMJPEGParser()
	for i := 0; i < 1000; i++ {
		got := p.Feed([]byte("garbage-with-no-boundary-marker-at-all"))
		require.Empty(t, got)
	}
	require.LessOrEqual(t, p.buf.Len(), len(mjpegBoundary))
}
