package producer

import "testing"

func TestDetectIDRNal(t *testing.T) {
	got := DetectNALType([]byte{0x00, 0x00, 0x00, 0x01, 0x65, 0xAA, 0xBB})
	if got != 5 {
		t.Fatalf("got %d, want 5", got)
	}
}

func TestDetectNonIDRNal(t *testing.T) {
	got := DetectNALType([]byte{0x00, 0x00, 0x01, 0x41, 0xCC})
	if got != 1 {
		t.Fatalf("got %d, want 1", got)
	}
}

func TestDetectEmptyData(t *testing.T) {
	got := DetectNALType(nil)
	if got != 0 {
		t.Fatalf("got %d, want 0", got)
	}
}

func TestDetectSPSThenIDR(t *testing.T) {
	data := []byte{0x00, 0x00, 0x00, 0x01, 0x67, 0x01, 0x02, 0x00, 0x00, 0x00, 0x01, 0x65, 0xAA}
	got := DetectNALType(data)
	if got != 5 {
		t.Fatalf("got %d, want 5", got)
	}
}
