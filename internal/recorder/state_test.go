package recorder

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/framebucket/framebucket/internal/encoder"
	"github.com/framebucket/framebucket/internal/frame"
)

// stubDetector lets tests script exactly which frames are "active" by
// index, independent of real image/size heuristics.
type stubDetector struct {
	activeFor map[int]bool
	calls     int
	lastQuiet bool
}

func (d *stubDetector) Update(payload []byte, _ uint8) (bool, error) {
	active := d.activeFor[d.calls]
	d.calls++
	d.lastQuiet = !active
	return active, nil
}
func (d *stubDetector) IsQuiet() bool     { return d.lastQuiet }
func (d *stubDetector) Reset([]byte) error { return nil }

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }
func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

type recordedIdleJPEG struct {
	start, lastSimilar int64
}
type recordedActive struct {
	start, end int64
}

type stubSink struct {
	idleJPEGs    []recordedIdleJPEG
	idleMarkers  []recordedActive
	actives      []recordedActive
}

func (s *stubSink) FinalizeIdleJPEG(robotID string, startMs, lastSimilarMs int64, jpeg []byte) {
	s.idleJPEGs = append(s.idleJPEGs, recordedIdleJPEG{startMs, lastSimilarMs})
}
func (s *stubSink) FinalizeIdleMarker(robotID string, startMs, endMs int64) {
	s.idleMarkers = append(s.idleMarkers, recordedActive{startMs, endMs})
}
func (s *stubSink) FinalizeActive(robotID string, startMs, endMs int64, enc *encoder.Encoder, nowMs int64) {
	s.actives = append(s.actives, recordedActive{startMs, endMs})
}

func noopEncoderSpawn(startMs int64) (*encoder.Encoder, error) {
	return nil, errors.New("no real encoder in this test")
}

func TestIdleStaysIdleOnIdenticalFrames(t *testing.T) {
	det := &stubDetector{activeFor: map[int]bool{}}
	sink := &stubSink{}
	m := New(Config{RobotID: "r1", SegmentDuration: time.Minute, ActiveToIdleConsecutiveFrames: 5}, det, sink, noopEncoderSpawn)

	for ts := int64(1000); ts <= 1900; ts += 100 {
		require.NoError(t, m.ProcessFrame(frame.NewJPEG([]byte("x"), ts, uint64(ts))))
	}

	require.Empty(t, sink.idleJPEGs, "no finalization should have happened yet")
	require.Equal(t, int64(1000), m.idle.idleStartMs)
	require.Equal(t, int64(1900), m.idle.lastSimilarMs)
}

func TestIdleToActiveEmitsOneIdleSegment(t *testing.T) {
	// Frames at index 0..9 are similar (idle); frame 10 is dissimilar.
	// Frame 0 installs the baseline without an Update call, so frame 10
	// is the detector's tenth Update call (index 9).
	activeFor := map[int]bool{9: true}
	det := &stubDetector{activeFor: activeFor}
	sink := &stubSink{}

	calls := 0
	spawn := func(startMs int64) (*encoder.Encoder, error) {
		calls++
		return nil, errors.New("encoder unavailable in unit test")
	}

	m := New(Config{RobotID: "r1", SegmentDuration: time.Minute, ActiveToIdleConsecutiveFrames: 5}, det, sink, spawn)

	ts := int64(1000)
	for i := 0; i < 10; i++ {
		require.NoError(t, m.ProcessFrame(frame.NewJPEG([]byte("x"), ts, uint64(i))))
		ts += 100
	}
	// Frame 10: dissimilar, triggers idle finalization and an (intentionally
	// failing) attempt to enter Active.
	err := m.ProcessFrame(frame.NewJPEG([]byte("y"), ts, 10))
	require.Error(t, err)

	require.Len(t, sink.idleJPEGs, 1)
	require.Equal(t, int64(1000), sink.idleJPEGs[0].start)
	require.Equal(t, int64(1900), sink.idleJPEGs[0].lastSimilar)
	require.Equal(t, 1, calls)
}

func TestSegmentDeadlineRotatesSegment(t *testing.T) {
	det := &stubDetector{activeFor: map[int]bool{}}
	sink := &stubSink{}
	clock := &fakeClock{now: time.Unix(0, 0)}

	spawnCount := 0
	spawn := func(startMs int64) (*encoder.Encoder, error) {
		spawnCount++
		return &encoder.Encoder{}, nil
	}

	m := New(Config{RobotID: "r1", SegmentDuration: 10 * time.Second, ActiveToIdleConsecutiveFrames: 100}, det, sink, spawn)
	m.SetClock(clock)

	// Force into active by making the very second frame "dissimilar" via stub.
	require.NoError(t, m.ProcessFrame(frame.NewJPEG([]byte("x"), 1000, 0)))
}
