// Package recorder implements the per-robot scene state machine:
// Idle/Active transitions driven by a substitutable detect.Detector,
// with segment finalization writing to the local store and index.
package recorder

import (
	"time"

	"github.com/framebucket/framebucket/internal/detect"
	"github.com/framebucket/framebucket/internal/encoder"
	"github.com/framebucket/framebucket/internal/frame"
)

// Clock abstracts the monotonic source behind segment_deadline so
// tests can drive it without sleeping; production uses realClock.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Config holds the recorder's tunables, all sourced from the
// recording.* section of the configuration document.
type Config struct {
	SegmentDuration               time.Duration
	ActiveToIdleConsecutiveFrames int
	EncoderOptions                func(startMs int64) encoder.Options
	ObjectKeyPrefix               string
	RobotID                       string
}

// idleState holds the state while the scene is judged unchanged.
type idleState struct {
	codec          frame.Codec
	started        bool
	initialPayload []byte
	idleStartMs    int64
	lastSimilarMs  int64
}

// activeState holds the state while an encoder is consuming frames.
type activeState struct {
	enc                  *encoder.Encoder
	segmentDeadline      time.Time
	segmentStartMs       int64
	consecutiveIdleCount int
}

// Sink receives finalized segments and is implemented by the consumer
// wiring (local store PUT + index insert), kept separate from the
// state machine so the machine itself has no I/O dependency.
type Sink interface {
	FinalizeIdleJPEG(robotID string, startMs, lastSimilarMs int64, jpeg []byte)
	FinalizeIdleMarker(robotID string, startMs, endMs int64)
	FinalizeActive(robotID string, startMs, endMs int64, enc *encoder.Encoder, nowMs int64)
}

// Machine drives one robot's scene state machine. It is not safe for
// concurrent use; one goroutine per robot owns it.
type Machine struct {
	cfg      Config
	detector detect.Detector
	sink     Sink
	clock    Clock

	inIdle bool
	idle   idleState
	active activeState

	spawnEncoder func(startMs int64) (*encoder.Encoder, error)
}

// New constructs a Machine starting in Idle with no baseline yet.
func New(cfg Config, d detect.Detector, sink Sink, spawnEncoder func(startMs int64) (*encoder.Encoder, error)) *Machine {
	return &Machine{
		cfg:          cfg,
		detector:     d,
		sink:         sink,
		clock:        realClock{},
		inIdle:       true,
		spawnEncoder: spawnEncoder,
	}
}

// SetClock overrides the clock source, for deterministic tests.
func (m *Machine) SetClock(c Clock) { m.clock = c }

// ProcessFrame feeds one decoded frame through the state machine.
func (m *Machine) ProcessFrame(f frame.Frame) error {
	if m.inIdle {
		return m.handleIdle(f)
	}
	return m.handleActive(f)
}

func (m *Machine) beginIdle(f frame.Frame) {
	m.idle = idleState{
		codec:         f.Codec,
		started:       true,
		idleStartMs:   f.CapturedAtMs,
		lastSimilarMs: f.CapturedAtMs,
	}
	if f.Codec == frame.CodecJPEG {
		m.idle.initialPayload = f.Payload
	}
	_ = m.detector.Reset(f.Payload)
}

func (m *Machine) handleIdle(f frame.Frame) error {
	if !m.idle.started {
		m.beginIdle(f)
		return nil
	}

	active, err := m.detector.Update(f.Payload, f.NALType)
	if err != nil {
		// Per-frame decode errors are dropped silently, never break
		// the state machine.
		return nil
	}

	if active {
		m.finalizeIdle(f.CapturedAtMs)
		return m.enterActive(f)
	}

	m.idle.lastSimilarMs = f.CapturedAtMs
	return nil
}

func (m *Machine) finalizeIdle(endMs int64) {
	if m.idle.codec == frame.CodecJPEG {
		m.sink.FinalizeIdleJPEG(m.cfg.RobotID, m.idle.idleStartMs, m.idle.lastSimilarMs, m.idle.initialPayload)
	} else {
		m.sink.FinalizeIdleMarker(m.cfg.RobotID, m.idle.idleStartMs, endMs)
	}
	m.idle = idleState{}
}

func (m *Machine) enterActive(f frame.Frame) error {
	enc, err := m.spawnEncoder(f.CapturedAtMs)
	if err != nil {
		// Can't start an encoder; stay in idle with this frame as the
		// new baseline rather than entering a broken Active state.
		m.inIdle = true
		m.beginIdle(f)
		return err
	}
	m.inIdle = false
	m.active = activeState{
		enc:             enc,
		segmentDeadline: m.clock.Now().Add(m.cfg.SegmentDuration),
		segmentStartMs:  f.CapturedAtMs,
	}
	_ = m.detector.Reset(f.Payload)
	return m.active.enc.Push(f.Payload)
}

func (m *Machine) handleActive(f frame.Frame) error {
	now := m.clock.Now()

	if !now.Before(m.active.segmentDeadline) {
		m.finalizeActive(f.CapturedAtMs)
		return m.enterActive(f)
	}

	pushErr := m.active.enc.Push(f.Payload)
	if pushErr != nil {
		// Encoder write failure forces active->idle with the current
		// frame as new baseline; best-effort finalize the broken segment.
		m.finalizeActive(f.CapturedAtMs)
		m.inIdle = true
		m.beginIdle(f)
		return pushErr
	}

	active, detErr := m.detector.Update(f.Payload, f.NALType)
	if detErr != nil {
		return nil
	}

	quiet := !active && m.detector.IsQuiet()
	if quiet {
		m.active.consecutiveIdleCount++
		if m.active.consecutiveIdleCount >= m.cfg.ActiveToIdleConsecutiveFrames {
			m.finalizeActive(f.CapturedAtMs)
			m.inIdle = true
			m.beginIdle(f)
			return nil
		}
	} else {
		m.active.consecutiveIdleCount = 0
	}
	_ = m.detector.Reset(f.Payload)
	return nil
}

func (m *Machine) finalizeActive(endMs int64) {
	m.sink.FinalizeActive(m.cfg.RobotID, m.active.segmentStartMs, endMs, m.active.enc, endMs)
	m.active = activeState{}
}
