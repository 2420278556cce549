// Package eviction runs the fixed-interval loop that keeps the local
// store under its byte budget by archiving the oldest objects to a
// remote S3 bucket, with a delete-only fallback mode when the archive
// is unreachable.
package eviction

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/framebucket/framebucket/internal/ferrors"
	"github.com/framebucket/framebucket/internal/store"
)

const gb = 1 << 30

// Config holds the tunables from the eviction.* config section,
// converted from GB to bytes.
type Config struct {
	CheckInterval       time.Duration
	ThresholdBytes      int64
	TargetBytes         int64
	BatchSize           int
	FallbackThresholdBytes int64
	FallbackAfterFailures  int
	FallbackRetry       time.Duration
	ArchivePrefix       string
}

// NewConfigFromGB converts the config document's GB-denominated fields
// into a byte-denominated Config. The fallback drain target is not
// stored; Config.FallbackTargetBytes derives it as
// fallback_threshold - (threshold - target).
func NewConfigFromGB(checkIntervalSecs int, thresholdGB, targetGB float64, batchSize int,
	fallbackThresholdGB float64, fallbackAfterFailures, fallbackRetrySecs int, archivePrefix string) Config {
	return Config{
		CheckInterval:          time.Duration(checkIntervalSecs) * time.Second,
		ThresholdBytes:         int64(thresholdGB * gb),
		TargetBytes:            int64(targetGB * gb),
		BatchSize:              batchSize,
		FallbackThresholdBytes: int64(fallbackThresholdGB * gb),
		FallbackAfterFailures:  fallbackAfterFailures,
		FallbackRetry:          time.Duration(fallbackRetrySecs) * time.Second,
		ArchivePrefix:          archivePrefix,
	}
}

// FallbackTargetBytes derives the fallback mode's drain target: the
// same margin below fallback_threshold as target sits below threshold
// in normal mode.
func (c Config) FallbackTargetBytes() int64 {
	margin := c.ThresholdBytes - c.TargetBytes
	return c.FallbackThresholdBytes - margin
}

// contentTypeForKey guesses a content type from a key's extension, used
// when archiving an object whose original PUT content type is not
// retained in the session index.
func contentTypeForKey(key string) string {
	switch filepath.Ext(key) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".mp4":
		return "video/mp4"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}

// StorageHealth reports the local store's occupancy against whichever
// threshold is currently active (normal or fallback).
type StorageHealth struct {
	Objects           int     `json:"objects"`
	TotalBytes        int64   `json:"total_bytes"`
	TotalGB           float64 `json:"total_gb"`
	ThresholdGB       float64 `json:"threshold_gb"`
	ActiveThresholdGB float64 `json:"active_threshold_gb"`
	UsagePct          float64 `json:"usage_pct"`
}

// EvictionHealth reports the loop's own run state.
type EvictionHealth struct {
	State                       string `json:"state"`
	FallbackMode                bool   `json:"fallback_mode"`
	ConsecutiveFailures         int    `json:"consecutive_failures"`
	ObjectsDeletedWithoutBackup int64  `json:"objects_deleted_without_backup"`
}

// S3Health reports the archive link's upload track record.
type S3Health struct {
	UploadSuccesses      int64  `json:"upload_successes"`
	UploadFailures       int64  `json:"upload_failures"`
	LastSuccessfulUpload int64  `json:"last_successful_upload"`
	Status               string `json:"status"`
}

// RustfsHealth reports the local store's pressure level.
type RustfsHealth struct {
	Status string `json:"status"`
}

// Health is the JSON document written on every tick for operators. The
// archive health-check probe that exits fallback mode does not read it.
type Health struct {
	Storage   StorageHealth  `json:"storage"`
	Eviction  EvictionHealth `json:"eviction"`
	S3        S3Health       `json:"s3"`
	Rustfs    RustfsHealth   `json:"rustfs"`
	UpdatedAt int64          `json:"updated_at"`
}

// objectStore is the slice of store.Store's surface the eviction loop
// needs, narrowed to an interface so tests can substitute an in-memory
// fake instead of talking to a real S3-compatible endpoint.
type objectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string, capturedAtMs int64) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string, capturedAtMs int64) error
	OldestN(n int) []struct {
		CapturedAtMs int64
		Entry        store.Entry
	}
	TotalBytes() int64
	Count() int
}

// Loop owns the running state of the eviction process for one robot's
// local store: consecutive-failure tracking, fallback mode, and the
// health file.
type Loop struct {
	cfg      Config
	local    objectStore
	archive  objectStore
	log      *log.Logger
	healthFile string
	nowMs    func() int64

	consecutiveFailures int
	fallback            bool
	objectsDeletedWithoutBackup int64
	lastHealthProbe      time.Time

	uploadSuccesses        int64
	uploadFailures         int64
	lastSuccessfulUploadMs int64
}

// New constructs a Loop. local is the RustFS-backed store being
// evicted from; archive is the remote AWS S3 store being evicted to.
func New(cfg Config, local, archive objectStore, logger *log.Logger, healthFilePath string, nowMs func() int64) *Loop {
	return &Loop{cfg: cfg, local: local, archive: archive, log: logger, healthFile: healthFilePath, nowMs: nowMs}
}

// Run blocks, ticking every cfg.CheckInterval, until ctx is cancelled.
// The sleep point is the loop's only cancellation point, matching the
// consumer's resource model: an in-flight eviction batch always runs
// to completion.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.tick(ctx)
		}
	}
}

func (l *Loop) tick(ctx context.Context) {
	if l.fallback && time.Since(l.lastHealthProbe) >= l.cfg.FallbackRetry {
		l.lastHealthProbe = time.Now()
		l.probeArchiveHealth(ctx)
	}

	total := l.local.TotalBytes()
	threshold := l.cfg.ThresholdBytes
	if l.fallback {
		threshold = l.cfg.FallbackThresholdBytes
	}

	if total < threshold {
		l.writeHealth(total)
		return
	}

	l.log.Printf("local store usage %d bytes exceeds threshold %d, starting eviction", total, threshold)

	count, err := l.evictBatch(ctx)
	if err != nil {
		l.consecutiveFailures++
		l.log.Printf("eviction batch failed (consecutive=%d): %v", l.consecutiveFailures, err)

		if l.consecutiveFailures >= l.cfg.FallbackAfterFailures {
			if !l.fallback {
				l.log.Printf("entering fallback (delete-only) mode after %d consecutive failures", l.consecutiveFailures)
			}
			l.fallback = true
		} else if l.consecutiveFailures >= 3 {
			l.log.Printf("%d consecutive eviction failures, backing off 5 minutes", l.consecutiveFailures)
			time.Sleep(5 * time.Minute)
		}
	} else {
		l.log.Printf("eviction batch complete: evicted %d objects", count)
		l.consecutiveFailures = 0
	}

	l.writeHealth(l.local.TotalBytes())
}

// evictBatch walks the oldest batch, archiving-then-deleting (or just
// deleting, in fallback mode) until the target is reached or the batch
// is exhausted.
func (l *Loop) evictBatch(ctx context.Context) (int, error) {
	entries := l.local.OldestN(l.cfg.BatchSize)
	if len(entries) == 0 {
		return 0, nil
	}

	target := l.cfg.TargetBytes
	if l.fallback {
		target = l.cfg.FallbackTargetBytes()
	}

	evicted := 0
	for _, e := range entries {
		if l.fallback {
			if err := l.local.Delete(ctx, e.Entry.Key, e.CapturedAtMs); err != nil {
				return evicted, err
			}
			l.objectsDeletedWithoutBackup++
		} else {
			data, err := l.local.Get(ctx, e.Entry.Key)
			if err != nil {
				return evicted, ferrors.Wrap(ferrors.StoreGet, err)
			}

			archiveKey := l.cfg.ArchivePrefix + e.Entry.Key
			if err := l.archive.Put(ctx, archiveKey, data, contentTypeForKey(e.Entry.Key), e.CapturedAtMs); err != nil {
				l.uploadFailures++
				// Keep the local object; caller counts this as a batch failure.
				return evicted, ferrors.Wrap(ferrors.ArchivePut, err)
			}
			l.uploadSuccesses++
			l.lastSuccessfulUploadMs = l.nowMs()

			if err := l.local.Delete(ctx, e.Entry.Key, e.CapturedAtMs); err != nil {
				l.log.Printf("archived %s but failed to delete locally: %v", e.Entry.Key, err)
			}
		}
		evicted++

		if l.local.TotalBytes() < target {
			break
		}
	}

	return evicted, nil
}

// probeArchiveHealth issues a tiny put/delete against the archive; on
// success it exits fallback mode and resets the failure counter.
func (l *Loop) probeArchiveHealth(ctx context.Context) {
	key := l.cfg.ArchivePrefix + "__health_check"
	if err := l.archive.Put(ctx, key, []byte("ok"), "text/plain", 0); err != nil {
		return
	}
	if err := l.archive.Delete(ctx, key, 0); err != nil {
		l.log.Printf("health check put succeeded but delete failed: %v", err)
	}
	l.log.Printf("archive health check succeeded, exiting fallback mode")
	l.fallback = false
	l.consecutiveFailures = 0
}

// writeHealth renders the tick's outcome into the documented nested
// schema: storage occupancy, the loop's own run state, the archive
// link's upload track record, and a coarse rustfs pressure level.
func (l *Loop) writeHealth(total int64) {
	activeThreshold := l.cfg.ThresholdBytes
	if l.fallback {
		activeThreshold = l.cfg.FallbackThresholdBytes
	}

	var usagePct float64
	if activeThreshold > 0 {
		usagePct = float64(total) / float64(activeThreshold) * 100
	}

	state := "idle"
	switch {
	case l.fallback:
		state = "fallback"
	case total >= l.cfg.ThresholdBytes:
		state = "evicting"
	}

	s3Status := "healthy"
	switch {
	case l.fallback:
		s3Status = "unavailable"
	case l.consecutiveFailures > 0:
		s3Status = "degraded"
	}

	rustfsStatus := "healthy"
	ratio := usagePct / 100
	switch {
	case ratio >= 1.0:
		rustfsStatus = "critical"
	case ratio >= 0.8:
		rustfsStatus = "pressure"
	}

	h := Health{
		Storage: StorageHealth{
			Objects:           l.local.Count(),
			TotalBytes:        total,
			TotalGB:           float64(total) / gb,
			ThresholdGB:       float64(l.cfg.ThresholdBytes) / gb,
			ActiveThresholdGB: float64(activeThreshold) / gb,
			UsagePct:          usagePct,
		},
		Eviction: EvictionHealth{
			State:                       state,
			FallbackMode:                l.fallback,
			ConsecutiveFailures:         l.consecutiveFailures,
			ObjectsDeletedWithoutBackup: l.objectsDeletedWithoutBackup,
		},
		S3: S3Health{
			UploadSuccesses:      l.uploadSuccesses,
			UploadFailures:       l.uploadFailures,
			LastSuccessfulUpload: l.lastSuccessfulUploadMs,
			Status:               s3Status,
		},
		Rustfs: RustfsHealth{
			Status: rustfsStatus,
		},
		UpdatedAt: l.nowMs(),
	}

	data, err := json.MarshalIndent(h, "", "  ")
	if err != nil {
		l.log.Printf("marshal health: %v", err)
		return
	}
	if err := os.WriteFile(l.healthFile, data, 0o644); err != nil {
		l.log.Printf("write health file %s: %v", l.healthFile, err)
	}
}
