package detect

import (
	"bytes"
	"image/jpeg"
	"math"

	"github.com/framebucket/framebucket/internal/ferrors"
)

const histogramBins = 64

// HistogramDetector compares a 64-bin normalised grayscale histogram
// against a fixed baseline by L1 distance. It is a named config option
// (filter.primary = "histogram") not covered in depth by the core
// narrative of the recorder design but present in the configuration
// surface alongside phash and framesize.
type HistogramDetector struct {
	threshold float64
	baseline  [histogramBins]float64
	haveBase  bool
	lastQuiet bool
}

// NewHistogramDetector returns a detector using the given L1-distance
// threshold (default 0.15).
func NewHistogramDetector(threshold float64) *HistogramDetector {
	return &HistogramDetector{threshold: threshold}
}

func computeHistogram(jpegData []byte) ([histogramBins]float64, error) {
	var hist [histogramBins]float64
	img, err := jpeg.Decode(bytes.NewReader(jpegData))
	if err != nil {
		return hist, ferrors.Wrap(ferrors.ImageDecode, err)
	}
	b := img.Bounds()
	var total float64
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			gray := (299*r + 587*g + 114*bl) / 1000
			bin := int(gray>>8) * histogramBins / 256
			if bin >= histogramBins {
				bin = histogramBins - 1
			}
			hist[bin]++
			total++
		}
	}
	if total > 0 {
		for i := range hist {
			hist[i] /= total
		}
	}
	return hist, nil
}

func l1Distance(a, b [histogramBins]float64) float64 {
	var sum float64
	for i := range a {
		sum += math.Abs(a[i] - b[i])
	}
	return sum
}

// Update compares jpegData's histogram against the current baseline.
func (d *HistogramDetector) Update(jpegData []byte, _ uint8) (bool, error) {
	h, err := computeHistogram(jpegData)
	if err != nil {
		return false, err
	}
	if !d.haveBase {
		d.baseline = h
		d.haveBase = true
		d.lastQuiet = true
		return false, nil
	}
	dist := l1Distance(d.baseline, h)
	active := dist > d.threshold
	d.lastQuiet = !active
	return active, nil
}

// IsQuiet reports whether the most recently updated frame was similar
// to the baseline.
func (d *HistogramDetector) IsQuiet() bool {
	return d.lastQuiet
}

// Reset installs jpegData's histogram as the new baseline.
func (d *HistogramDetector) Reset(jpegData []byte) error {
	h, err := computeHistogram(jpegData)
	if err != nil {
		return err
	}
	d.baseline = h
	d.haveBase = true
	d.lastQuiet = true
	return nil
}
