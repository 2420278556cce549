package detect

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/stretchr/testify/require"
)

func encodeGrayJPEG(t *testing.T, w, h int, fill func(x, y int) uint8) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray(x, y, color.Gray{Y: fill(x, y)})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}))
	return buf.Bytes()
}

func TestAHashIdenticalFramesDistanceZero(t *testing.T) {
	grey := encodeGrayJPEG(t, 64, 64, func(x, y int) uint8 { return 128 })
	h1, err := ComputeAHash(grey, 16)
	require.NoError(t, err)
	h2, err := ComputeAHash(grey, 16)
	require.NoError(t, err)
	require.Equal(t, 0, Hamming(h1, h2))
}

func TestAHashDifferentFramesLargeDistance(t *testing.T) {
	checker := encodeGrayJPEG(t, 64, 64, func(x, y int) uint8 {
		if (x/8+y/8)%2 == 0 {
			return 0
		}
		return 255
	})
	grey := encodeGrayJPEG(t, 64, 64, func(x, y int) uint8 { return 128 })
	h1, err := ComputeAHash(grey, 16)
	require.NoError(t, err)
	h2, err := ComputeAHash(checker, 16)
	require.NoError(t, err)
	require.Greater(t, Hamming(h1, h2), 26)
}

func TestAHashDetectorFirstFrameNotActive(t *testing.T) {
	grey := encodeGrayJPEG(t, 64, 64, func(x, y int) uint8 { return 128 })
	d := NewAHashDetector(26, 16)
	active, err := d.Update(grey, 0)
	require.NoError(t, err)
	require.False(t, active)
}

func TestAHashDetectorResetHoldsBaselineFixed(t *testing.T) {
	grey := encodeGrayJPEG(t, 64, 64, func(x, y int) uint8 { return 128 })
	d := NewAHashDetector(26, 16)
	require.NoError(t, d.Reset(grey))

	for i := 0; i < 5; i++ {
		active, err := d.Update(grey, 0)
		require.NoError(t, err)
		require.False(t, active)
		require.True(t, d.IsQuiet())
	}
}
