// Package frame implements the TimestampedFrame wire format shared by
// the producer and consumer processes: a v1 (JPEG) and v2 (H.264)
// encoding auto-detected from the first byte of the payload.
package frame

import (
	"encoding/binary"
	"fmt"

	"github.com/framebucket/framebucket/internal/ferrors"
)

// Codec identifies which payload variant a frame carries.
type Codec int

const (
	CodecJPEG Codec = iota
	CodecH264
)

const (
	v2Marker    byte = 0x02
	v1HeaderLen      = 8 + 8 // captured_at_ms (i64) + seq (u64)
	v2HeaderLen      = 1 + 1 + 8 + 8 + 4
)

// Frame is a single timestamped camera frame, either a JPEG image or an
// H.264 Annex B access unit.
type Frame struct {
	Codec        Codec
	NALType      uint8 // only meaningful when Codec == CodecH264
	CapturedAtMs int64
	Seq          uint64
	Payload      []byte
}

// IsKeyframe reports whether this frame is an IDR access unit (H.264 only).
func (f Frame) IsKeyframe() bool {
	return f.Codec == CodecH264 && f.NALType == 5
}

// Size returns the number of payload bytes carried by the frame.
func (f Frame) Size() int {
	return len(f.Payload)
}

// Serialize encodes the frame into its wire representation.
func (f Frame) Serialize() []byte {
	switch f.Codec {
	case CodecH264:
		buf := make([]byte, v2HeaderLen+len(f.Payload))
		buf[0] = v2Marker
		buf[1] = f.NALType
		binary.BigEndian.PutUint64(buf[2:10], uint64(f.CapturedAtMs))
		binary.BigEndian.PutUint64(buf[10:18], f.Seq)
		binary.BigEndian.PutUint32(buf[18:22], uint32(len(f.Payload)))
		copy(buf[22:], f.Payload)
		return buf
	default:
		buf := make([]byte, v1HeaderLen+len(f.Payload))
		binary.BigEndian.PutUint64(buf[0:8], uint64(f.CapturedAtMs))
		binary.BigEndian.PutUint64(buf[8:16], f.Seq)
		copy(buf[16:], f.Payload)
		return buf
	}
}

// Deserialize parses a wire-format buffer into a Frame. The first byte
// selects the variant: 0x02 is H.264 (v2); anything else is JPEG (v1).
func Deserialize(data []byte) (Frame, error) {
	if len(data) == 0 {
		return Frame{}, ferrors.Wrap(ferrors.FrameParse, fmt.Errorf("empty buffer"))
	}
	if data[0] == v2Marker {
		if len(data) < v2HeaderLen {
			return Frame{}, ferrors.Wrap(ferrors.FrameParse,
				fmt.Errorf("too short: got %d bytes, need at least %d", len(data), v2HeaderLen))
		}
		nalType := data[1]
		ts := int64(binary.BigEndian.Uint64(data[2:10]))
		seq := binary.BigEndian.Uint64(data[10:18])
		h264Len := binary.BigEndian.Uint32(data[18:22])
		if len(data) < v2HeaderLen+int(h264Len) {
			return Frame{}, ferrors.Wrap(ferrors.FrameParse,
				fmt.Errorf("too short: got %d bytes, need at least %d", len(data), v2HeaderLen+int(h264Len)))
		}
		payload := make([]byte, h264Len)
		copy(payload, data[v2HeaderLen:v2HeaderLen+int(h264Len)])
		return Frame{
			Codec:        CodecH264,
			NALType:      nalType,
			CapturedAtMs: ts,
			Seq:          seq,
			Payload:      payload,
		}, nil
	}

	if len(data) < v1HeaderLen {
		return Frame{}, ferrors.Wrap(ferrors.FrameParse,
			fmt.Errorf("too short: got %d bytes, need at least %d", len(data), v1HeaderLen))
	}
	ts := int64(binary.BigEndian.Uint64(data[0:8]))
	seq := binary.BigEndian.Uint64(data[8:16])
	payload := make([]byte, len(data)-v1HeaderLen)
	copy(payload, data[v1HeaderLen:])
	return Frame{
		Codec:        CodecJPEG,
		CapturedAtMs: ts,
		Seq:          seq,
		Payload:      payload,
	}, nil
}

// NewJPEG constructs a v1 JPEG frame.
func NewJPEG(jpegData []byte, capturedAtMs int64, seq uint64) Frame {
	return Frame{Codec: CodecJPEG, CapturedAtMs: capturedAtMs, Seq: seq, Payload: jpegData}
}

// NewH264 constructs a v2 H.264 frame.
func NewH264(data []byte, nalType uint8, capturedAtMs int64, seq uint64) Frame {
	return Frame{Codec: CodecH264, NALType: nalType, CapturedAtMs: capturedAtMs, Seq: seq, Payload: data}
}
