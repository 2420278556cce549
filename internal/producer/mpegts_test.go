package producer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// buildTSPacket builds a single 188-byte TS packet with no adaptation
// field (afc=0x01) carrying payload at offset 4.
func buildTSPacket(pid uint16, pusi bool, payload []byte) []byte {
	pkt := make([]byte, tsPacketSize)
	pkt[0] = tsSyncByte
	b1 := byte(pid >> 8 & 0x1F)
	if pusi {
		b1 |= 0x40
	}
	pkt[1] = b1
	pkt[2] = byte(pid & 0xFF)
	pkt[3] = 0x10 | 0x01 // afc=01 (payload only), continuity counter bits arbitrary
	n := copy(pkt[4:], payload)
	_ = n
	return pkt
}

func buildPESPayload(headerDataLen int, es []byte) []byte {
	payload := make([]byte, 9+headerDataLen+len(es))
	payload[0], payload[1], payload[2] = 0x00, 0x00, 0x01
	payload[3] = 0xE0 // video stream id
	payload[8] = byte(headerDataLen)
	copy(payload[9+headerDataLen:], es)
	return payload
}

func TestPESAssemblerAutoDetectsVideoPIDAndReassembles(t *testing.T) {
	asm := NewPESAssembler()

	es1 := []byte{0x00, 0x00, 0x00, 0x01, 0x67, 0xAA} // SPS
	pes1 := buildPESPayload(0, es1)
	pkt1 := buildTSPacket(0x0100, true, pes1)

	au, emitted := asm.PushPacket(pkt1)
	require.False(t, emitted)
	require.Nil(t, au)

	cont := make([]byte, 180)
	for i := range cont {
		cont[i] = byte(i)
	}
	pkt2 := buildTSPacket(0x0100, false, cont)
	au, emitted = asm.PushPacket(pkt2)
	require.False(t, emitted)
	require.Nil(t, au)

	es2 := []byte{0x00, 0x00, 0x00, 0x01, 0x65, 0xBB}
	pes2 := buildPESPayload(0, es2)
	pkt3 := buildTSPacket(0x0100, true, pes2)
	au, emitted = asm.PushPacket(pkt3)
	require.True(t, emitted)
	require.NotEmpty(t, au)
	require.Equal(t, byte(0x67), au[4])
}

func TestPESAssemblerIgnoresOtherPIDs(t *testing.T) {
	asm := NewPESAssembler()
	es1 := []byte{0x00, 0x00, 0x00, 0x01, 0x67}
	pes1 := buildPESPayload(0, es1)
	pkt1 := buildTSPacket(0x0100, true, pes1)
	asm.PushPacket(pkt1)

	// PAT packet should be skipped entirely.
	pat := buildTSPacket(0x0000, true, make([]byte, 184))
	_, emitted := asm.PushPacket(pat)
	require.False(t, emitted)
}

func TestAlignToSyncFindsOffset(t *testing.T) {
	buf := make([]byte, 10+2*tsPacketSize)
	buf[10] = tsSyncByte
	buf[10+tsPacketSize] = tsSyncByte
	idx := AlignToSync(buf)
	require.Equal(t, 10, idx)
}
