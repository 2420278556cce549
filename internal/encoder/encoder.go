// Package encoder wraps an external ffmpeg subprocess that consumes
// raw frames on stdin and writes a single MP4 file on exit, supporting
// both a JPEG re-encode mode and an H.264 passthrough mode.
package encoder

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/framebucket/framebucket/internal/ferrors"
)

// Mode selects the ffmpeg pipeline shape.
type Mode int

const (
	// ModeJPEGReencode pipes a sequence of JPEGs and re-encodes to H.264/H.265.
	ModeJPEGReencode Mode = iota
	// ModeH264Passthrough pipes raw Annex-B H.264 and stream-copies it into an MP4 container.
	ModeH264Passthrough
)

// Options configures one encoder invocation.
type Options struct {
	Mode    Mode
	Codec   string // "h264" or "h265", JPEG-reencode mode only
	CRF     int
	Preset  string
	FPS     float64
	TmpDir  string
	StartMs int64
}

// Encoder wraps a child ffmpeg process: push(frame) writes raw bytes to
// its stdin; finish() closes stdin, awaits exit, and returns the
// resulting MP4 bytes. The temp output path is deterministic in
// StartMs to ease post-mortem debugging.
type Encoder struct {
	cmd        *exec.Cmd
	stdin      io.WriteCloser
	outputPath string
	frameCount int
}

// Start spawns the ffmpeg child process per opts.Mode.
func Start(opts Options) (*Encoder, error) {
	outputPath := filepath.Join(opts.TmpDir, "segment_"+strconv.FormatInt(opts.StartMs, 10)+".mp4")

	var args []string
	switch opts.Mode {
	case ModeJPEGReencode:
		vcodec := "libx264"
		if opts.Codec == "h265" {
			vcodec = "libx265"
		}
		args = []string{
			"-f", "image2pipe",
			"-vcodec", "mjpeg",
			"-r", fmt.Sprintf("%.3f", opts.FPS),
			"-i", "pipe:0",
			"-c:v", vcodec,
			"-preset", opts.Preset,
			"-crf", strconv.Itoa(opts.CRF),
			"-movflags", "+faststart",
			"-y", outputPath,
		}
	case ModeH264Passthrough:
		args = []string{
			"-f", "h264",
			"-r", fmt.Sprintf("%.3f", opts.FPS),
			"-i", "pipe:0",
			"-c:v", "copy",
			"-movflags", "+faststart",
			"-y", outputPath,
		}
	default:
		return nil, ferrors.Wrap(ferrors.EncoderSpawn, fmt.Errorf("unknown encoder mode %d", opts.Mode))
	}

	cmd := exec.Command("ffmpeg", args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, ferrors.Wrap(ferrors.EncoderSpawn, fmt.Errorf("stdin pipe: %w", err))
	}
	cmd.Stdout = nil
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, ferrors.Wrap(ferrors.EncoderSpawn, fmt.Errorf("start: %w", err))
	}

	return &Encoder{cmd: cmd, stdin: stdin, outputPath: outputPath}, nil
}

// Push writes one raw frame (a JPEG or an H.264 Annex-B access unit,
// depending on Mode) to the encoder's stdin.
func (e *Encoder) Push(data []byte) error {
	if _, err := e.stdin.Write(data); err != nil {
		return ferrors.Wrap(ferrors.EncoderWrite, err)
	}
	e.frameCount++
	return nil
}

// FrameCount returns the number of frames pushed so far.
func (e *Encoder) FrameCount() int {
	return e.frameCount
}

// Finished is the result of a successful Finish call.
type Finished struct {
	MP4Bytes  []byte
	FrameCount int
}

// Finish closes stdin, awaits the child's exit, reads the resulting
// MP4 file, and deletes the temp file on every exit path (success or
// failure).
func (e *Encoder) Finish() (Finished, error) {
	_ = e.stdin.Close()
	err := e.cmd.Wait()
	defer os.Remove(e.outputPath)

	if err != nil {
		var stderrText string
		if buf, ok := e.cmd.Stderr.(*bytes.Buffer); ok {
			stderrText = buf.String()
		}
		return Finished{}, ferrors.Wrap(ferrors.EncoderNonZeroExit,
			fmt.Errorf("ffmpeg exited with error: %w: %s", err, stderrText))
	}

	data, readErr := os.ReadFile(e.outputPath)
	if readErr != nil {
		return Finished{}, ferrors.Wrap(ferrors.EncoderNonZeroExit, fmt.Errorf("read output: %w", readErr))
	}

	return Finished{MP4Bytes: data, FrameCount: e.frameCount}, nil
}

// CheckAvailable runs "ffmpeg -version" to confirm the binary exists on
// PATH. The consumer calls this at startup and exits non-zero if it fails,
// since every recorded segment depends on ffmpeg being spawnable.
func CheckAvailable() error {
	cmd := exec.Command("ffmpeg", "-version")
	if err := cmd.Run(); err != nil {
		return ferrors.Wrap(ferrors.EncoderSpawn, fmt.Errorf("ffmpeg not available: %w", err))
	}
	return nil
}
