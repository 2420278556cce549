package detect

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"math/bits"

	"golang.org/x/image/draw"

	"github.com/framebucket/framebucket/internal/ferrors"
)

// Hash is a packed N*N-bit average hash.
type Hash struct {
	bits []uint64
	n    int
}

// ComputeAHash decodes jpegData, converts to grayscale, resizes
// nearest-neighbour to n x n, and emits a hash where bit i is 1 iff
// pixel i exceeds the image mean.
func ComputeAHash(jpegData []byte, n int) (Hash, error) {
	img, err := jpeg.Decode(bytes.NewReader(jpegData))
	if err != nil {
		return Hash{}, ferrors.Wrap(ferrors.ImageDecode, err)
	}

	small := image.NewGray(image.Rect(0, 0, n, n))
	draw.NearestNeighbor.Scale(small, small.Bounds(), img, img.Bounds(), draw.Over, nil)

	var sum int
	pixels := make([]uint8, n*n)
	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			g := small.GrayAt(x, y).Y
			pixels[y*n+x] = g
			sum += int(g)
		}
	}
	mean := sum / (n * n)

	words := (n*n + 63) / 64
	h := Hash{bits: make([]uint64, words), n: n}
	for i, p := range pixels {
		if int(p) > mean {
			h.bits[i/64] |= 1 << uint(i%64)
		}
	}
	return h, nil
}

// Hamming returns the Hamming distance between two hashes of equal size.
func Hamming(a, b Hash) int {
	dist := 0
	for i := range a.bits {
		dist += bits.OnesCount64(a.bits[i] ^ b.bits[i])
	}
	return dist
}

// AHashDetector compares every fed frame against a fixed baseline hash
// until Reset is called with a new baseline; the caller (the recorder
// state machine) controls whether the baseline is held fixed (idle
// periods) or rolled forward every frame (active periods).
type AHashDetector struct {
	threshold int
	hashSize  int
	baseline  Hash
	haveBase  bool
	lastQuiet bool
}

// NewAHashDetector returns a detector comparing against threshold
// Hamming distance over an n x n downsample.
func NewAHashDetector(threshold, hashSize int) *AHashDetector {
	return &AHashDetector{threshold: threshold, hashSize: hashSize}
}

// Reset sets the baseline hash for subsequent Update calls.
func (d *AHashDetector) Reset(jpegData []byte) error {
	h, err := ComputeAHash(jpegData, d.hashSize)
	if err != nil {
		return err
	}
	d.baseline = h
	d.haveBase = true
	d.lastQuiet = true
	return nil
}

// Update compares jpegData against the current baseline. The first
// call after construction (no baseline yet) always reports active=false
// and installs jpegData as the baseline, matching "first frame always
// accepted" semantics.
func (d *AHashDetector) Update(jpegData []byte, _ uint8) (bool, error) {
	h, err := ComputeAHash(jpegData, d.hashSize)
	if err != nil {
		return false, err
	}
	if !d.haveBase {
		d.baseline = h
		d.haveBase = true
		d.lastQuiet = true
		return false, nil
	}
	dist := Hamming(d.baseline, h)
	active := dist > d.threshold
	d.lastQuiet = !active
	return active, nil
}

// IsQuiet reports whether the most recently updated frame was similar
// to the baseline.
func (d *AHashDetector) IsQuiet() bool {
	return d.lastQuiet
}

// String implements fmt.Stringer for debug logging.
func (h Hash) String() string {
	return fmt.Sprintf("Hash(n=%d)", h.n)
}
