package detect

import "testing"

func TestWarmupAcceptsAll(t *testing.T) {
	d := NewFrameSizeDetector(4.0)
	for i := 0; i < 30; i++ {
		active, err := d.Update(make([]byte, 1000), 1)
		if err != nil {
			t.Fatal(err)
		}
		if !active {
			t.Fatalf("frame %d: expected active during warmup", i)
		}
	}
}

func TestIDRAlwaysActive(t *testing.T) {
	d := NewFrameSizeDetector(4.0)
	for i := 0; i < 31; i++ {
		d.Update(make([]byte, 1000), 1)
	}
	active, _ := d.Update(make([]byte, 1000), 5)
	if !active {
		t.Fatal("expected IDR to always be active")
	}
}

func TestSpikeDetected(t *testing.T) {
	d := NewFrameSizeDetector(4.0)
	for i := 0; i < 30; i++ {
		d.Update(make([]byte, 1000), 1)
	}
	active, _ := d.Update(make([]byte, 5000), 1)
	if !active {
		t.Fatal("expected spike to be active")
	}
}

func TestSmallFrameNotActive(t *testing.T) {
	d := NewFrameSizeDetector(4.0)
	for i := 0; i < 30; i++ {
		d.Update(make([]byte, 1000), 1)
	}
	active, _ := d.Update(make([]byte, 1200), 1)
	if active {
		t.Fatal("expected small frame to not be active")
	}
}

func TestIsQuietCheck(t *testing.T) {
	d := NewFrameSizeDetector(4.0)
	for i := 0; i < 30; i++ {
		d.Update(make([]byte, 1000), 1)
	}
	d.Update(make([]byte, 1000), 1)
	if !d.IsQuiet() {
		t.Fatal("expected 1000-byte frame to be quiet")
	}
	d.Update(make([]byte, 5000), 1)
	if d.IsQuiet() {
		t.Fatal("expected 5000-byte frame to not be quiet")
	}
}
