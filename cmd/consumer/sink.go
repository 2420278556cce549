package main

import (
	"context"
	"log"

	"github.com/framebucket/framebucket/internal/encoder"
	"github.com/framebucket/framebucket/internal/frame"
	"github.com/framebucket/framebucket/internal/index"
	"github.com/framebucket/framebucket/internal/store"
)

// indexSink implements recorder.Sink: it writes a finalized segment to
// the local store and records it in the per-robot index. Finalization
// never returns an error to the state machine — storage and index
// failures are logged so a blip in the local store can never wedge the
// frame loop.
type indexSink struct {
	local           *store.Store
	idx             *index.DB
	log             *log.Logger
	objectKeyPrefix string
	robotID         string
}

func (s *indexSink) FinalizeIdleJPEG(robotID string, startMs, lastSimilarMs int64, jpeg []byte) {
	key := frame.IdleObjectKey(s.objectKeyPrefix, robotID, startMs, lastSimilarMs)
	if err := s.local.Put(context.Background(), key, jpeg, "image/jpeg", startMs); err != nil {
		s.log.Printf("put idle jpeg %s: %v", key, err)
		return
	}
	if _, err := s.idx.InsertIdle(startMs, lastSimilarMs, key, int64(len(jpeg))); err != nil {
		s.log.Printf("index idle segment %s: %v", key, err)
	}
}

func (s *indexSink) FinalizeIdleMarker(robotID string, startMs, endMs int64) {
	key := frame.IdleMarkerKey(startMs, endMs)
	if _, err := s.idx.InsertIdle(startMs, endMs, key, 0); err != nil {
		s.log.Printf("index idle marker %s: %v", key, err)
	}
}

func (s *indexSink) FinalizeActive(robotID string, startMs, endMs int64, enc *encoder.Encoder, nowMs int64) {
	finished, err := enc.Finish()
	if err != nil {
		s.log.Printf("encoder finish for segment starting %d: %v", startMs, err)
		return
	}

	key := frame.ActiveSegmentKey(s.objectKeyPrefix, robotID, startMs, endMs)
	if err := s.local.Put(context.Background(), key, finished.MP4Bytes, "video/mp4", startMs); err != nil {
		s.log.Printf("put active segment %s: %v", key, err)
		return
	}
	if _, err := s.idx.InsertActive(startMs, endMs, key, int64(len(finished.MP4Bytes)), int64(finished.FrameCount)); err != nil {
		s.log.Printf("index active segment %s: %v", key, err)
	}
}
