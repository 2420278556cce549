// Package producer implements the stream decoders that turn a raw
// camera byte stream into frame.Frame values: an MJPEG multipart
// parser and an MPEG-TS/H.264 assembler.
package producer

import "bytes"

var (
	mjpegBoundary  = []byte("--frame\r\n")
	mjpegHeaderEnd = []byte("\r\n\r\n")
)

type mjpegState int

const (
	seekingBoundary mjpegState = iota
	seekingHeaderEnd
	collectingJPEG
)

// MJPEGParser turns a chunked multipart/x-mixed-replace byte stream into
// a sequence of JPEG payloads. It tolerates arbitrary chunk boundaries,
// including single-byte writes, and never grows its retained buffer
// past what a yet-unmatched boundary could span.
type MJPEGParser struct {
	state  mjpegState
	buf    bytes.Buffer
	jpegAt int // offset into buf already scanned for the next boundary
}

// NewMJPEGParser returns a parser ready to consume stream bytes.
func NewMJPEGParser() *MJPEGParser {
	return &MJPEGParser{state: seekingBoundary}
}

// Feed appends chunk to the internal buffer and returns any JPEG
// payloads that became complete as a result. The returned slices are
// owned by the caller (copied out of the internal buffer).
func (p *MJPEGParser) Feed(chunk []byte) [][]byte {
	p.buf.Write(chunk)
	var out [][]byte

	for {
		b := p.buf.Bytes()
		switch p.state {
		case seekingBoundary:
			idx := bytes.Index(b, mjpegBoundary)
			if idx < 0 {
				p.retainTail(len(mjpegBoundary))
				return out
			}
			p.discard(idx + len(mjpegBoundary))
			p.state = seekingHeaderEnd

		case seekingHeaderEnd:
			b = p.buf.Bytes()
			idx := bytes.Index(b, mjpegHeaderEnd)
			if idx < 0 {
				return out
			}
			p.discard(idx + len(mjpegHeaderEnd))
			p.jpegAt = 0
			p.state = collectingJPEG

		case collectingJPEG:
			b = p.buf.Bytes()
			rest := b[p.jpegAt:]
			idx := bytes.Index(rest, mjpegBoundary)
			if idx < 0 {
				if len(rest) > len(mjpegBoundary) {
					p.jpegAt = len(b) - len(mjpegBoundary)
				}
				return out
			}
			jpegEnd := p.jpegAt + idx
			end := jpegEnd
			if end >= 2 && b[end-2] == '\r' && b[end-1] == '\n' {
				end -= 2
			}
			if end > 0 {
				jpeg := make([]byte, end)
				copy(jpeg, b[:end])
				out = append(out, jpeg)
			}
			p.discard(jpegEnd + len(mjpegBoundary))
			p.state = seekingHeaderEnd
		}
	}
}

// discard drops the first n bytes of the retained buffer.
func (p *MJPEGParser) discard(n int) {
	b := p.buf.Bytes()
	rest := make([]byte, len(b)-n)
	copy(rest, b[n:])
	p.buf.Reset()
	p.buf.Write(rest)
}

// retainTail keeps only the last n bytes of the buffer, enough to catch
// a boundary split across the chunk edge, bounding memory use when no
// boundary ever appears.
func (p *MJPEGParser) retainTail(n int) {
	b := p.buf.Bytes()
	if len(b) <= n {
		return
	}
	p.discard(len(b) - n)
}
