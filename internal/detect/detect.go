// Package detect implements the substitutable scene-detector
// capability the state machine depends on: update(frame) -> active,
// is_quiet(frame) -> bool, with three interchangeable strategies.
package detect

// Detector is the capability the recorder state machine depends on. It
// never inspects which concrete strategy is behind the interface.
type Detector interface {
	// Update feeds one decoded frame's detector-relevant bytes and NAL
	// type (H.264 only; ignored by JPEG-based detectors) and reports
	// whether the scene is judged active (dissimilar/moving).
	Update(payload []byte, nalType uint8) (active bool, err error)
	// IsQuiet reports whether the most recently updated frame would be
	// considered quiet/similar for active->idle accounting.
	IsQuiet() bool
	// Reset installs payload as a new comparison baseline. AHash and
	// histogram detectors use this to hold an idle baseline fixed, or
	// to roll an active-period baseline forward; FrameSizeDetector
	// treats it as a no-op since its EMA runs continuously.
	Reset(payload []byte) error
}
