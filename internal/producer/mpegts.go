package producer

import "bytes"

const (
	tsPacketSize = 188
	tsSyncByte   = 0x47
)

// PESAssembler reassembles H.264 access units from an MPEG-TS byte
// stream: it aligns on the sync byte, auto-detects the video PID from
// the first PUSI-flagged packet, and appends elementary-stream bytes
// into the access unit under construction.
type PESAssembler struct {
	videoPID   uint16
	haveVideo  bool
	collecting bool
	current    bytes.Buffer
}

// NewPESAssembler returns an assembler with no video PID locked in yet.
func NewPESAssembler() *PESAssembler {
	return &PESAssembler{}
}

// PushPacket feeds one already sync-aligned 188-byte TS packet. It
// returns a completed access unit when a PUSI packet begins a new PES
// payload on the video PID and an access unit was already collecting.
func (a *PESAssembler) PushPacket(pkt []byte) (accessUnit []byte, emitted bool) {
	if len(pkt) != tsPacketSize || pkt[0] != tsSyncByte {
		return nil, false
	}

	pid := (uint16(pkt[1]&0x1F) << 8) | uint16(pkt[2])
	pusi := pkt[1]&0x40 != 0
	afc := (pkt[3] >> 4) & 0x03

	if pid == 0x0000 || pid == 0x1FFF {
		return nil, false
	}

	payload, ok := payloadFor(pkt, afc)
	if !ok {
		return nil, false
	}

	if !a.haveVideo {
		if pusi && looksLikePESStart(payload) {
			ss := payload[3]
			if ss >= 0xE0 && ss <= 0xEF {
				a.videoPID = pid
				a.haveVideo = true
			}
		}
		if !a.haveVideo {
			return nil, false
		}
	}

	if pid != a.videoPID {
		return nil, false
	}

	if pusi {
		if a.collecting {
			accessUnit = a.takeCurrent()
			emitted = true
		}
		a.collecting = true
		a.current.Reset()

		if es, ok := extractESFromPES(payload); ok {
			a.current.Write(es)
		}
		return accessUnit, emitted
	}

	if a.collecting {
		a.current.Write(payload)
	}
	return nil, false
}

// Flush returns and clears any in-progress access unit, for use when
// the stream ends without a trailing PUSI packet to trigger emission.
func (a *PESAssembler) Flush() []byte {
	if !a.collecting || a.current.Len() == 0 {
		return nil
	}
	return a.takeCurrent()
}

func (a *PESAssembler) takeCurrent() []byte {
	b := make([]byte, a.current.Len())
	copy(b, a.current.Bytes())
	a.current.Reset()
	return b
}

func looksLikePESStart(payload []byte) bool {
	return len(payload) >= 4 && payload[0] == 0x00 && payload[1] == 0x00 && payload[2] == 0x01
}

// extractESFromPES parses a PES header and returns the elementary
// stream bytes that follow it.
func extractESFromPES(payload []byte) ([]byte, bool) {
	if !looksLikePESStart(payload) || len(payload) < 9 {
		return nil, false
	}
	headerDataLen := int(payload[8])
	esStart := 9 + headerDataLen
	if esStart > len(payload) {
		return nil, false
	}
	return payload[esStart:], true
}

// payloadFor strips the TS header (and adaptation field, if present)
// from a packet, returning the payload bytes.
func payloadFor(pkt []byte, afc byte) ([]byte, bool) {
	switch afc {
	case 0x01:
		return pkt[4:], true
	case 0x02:
		return nil, false // adaptation field only, no payload
	case 0x03:
		if len(pkt) < 5 {
			return nil, false
		}
		adaptLen := int(pkt[4])
		off := 5 + adaptLen
		if off > len(pkt) {
			return nil, false
		}
		return pkt[off:], true
	default:
		return nil, false
	}
}

// AlignToSync scans buf for two consecutive packet-spaced sync bytes
// and returns the offset of the first one, or -1 if none is found yet.
// It implements the "require the next packet to also sync" resync rule.
func AlignToSync(buf []byte) int {
	for i := 0; i+tsPacketSize < len(buf); i++ {
		if buf[i] == tsSyncByte && buf[i+tsPacketSize] == tsSyncByte {
			return i
		}
	}
	// Not enough data to confirm a second packet yet; if the very last
	// byte we can check is a plausible sync with no room to confirm,
	// the caller should wait for more data.
	return -1
}
