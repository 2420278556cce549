// Command consumer runs the frame-filtering and recording pipeline:
// it reads frames off the bus, drives the per-robot scene state
// machine, writes segments to the local store and index, and runs the
// eviction loop that archives old segments to remote S3.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/framebucket/framebucket/internal/bus"
	"github.com/framebucket/framebucket/internal/config"
	"github.com/framebucket/framebucket/internal/detect"
	"github.com/framebucket/framebucket/internal/encoder"
	"github.com/framebucket/framebucket/internal/eviction"
	"github.com/framebucket/framebucket/internal/ferrors"
	"github.com/framebucket/framebucket/internal/frame"
	"github.com/framebucket/framebucket/internal/index"
	"github.com/framebucket/framebucket/internal/logx"
	"github.com/framebucket/framebucket/internal/recorder"
	"github.com/framebucket/framebucket/internal/store"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to the configuration document")
	flag.Parse()

	logger := logx.New("consumer")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if err := cfg.ValidateConsumer(); err != nil {
		logger.Fatalf("invalid config: %v", err)
	}
	if err := encoder.CheckAvailable(); err != nil {
		logger.Fatalf("startup check: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		// The frame loop returns on cancellation without finishing an
		// in-flight active segment; its encoder output is not uploaded.
		logger.Printf("shutting down...")
		cancel()
	}()

	local, err := store.New(ctx, store.Options{
		Endpoint:  cfg.Rustfs.Endpoint,
		AccessKey: cfg.Rustfs.AccessKey,
		SecretKey: cfg.Rustfs.SecretKey,
		Bucket:    cfg.Rustfs.Bucket,
	})
	if err != nil {
		logger.Fatalf("connect to local store: %v", err)
	}
	if err := local.EnsureBucket(ctx, ""); err != nil {
		logger.Fatalf("ensure local bucket: %v", err)
	}

	baselineBytes, baselineCount, err := local.LoadBaseline(ctx)
	if err != nil {
		logger.Fatalf("load baseline accounting: %v", err)
	}
	logger.Printf("baseline: %d objects, %d bytes", baselineCount, baselineBytes)

	archive, err := store.New(ctx, store.Options{Region: cfg.AwsS3.Region, Bucket: cfg.AwsS3.Bucket})
	if err != nil {
		logger.Fatalf("connect to archive store: %v", err)
	}
	if err := archive.EnsureBucket(ctx, cfg.AwsS3.Region); err != nil {
		logger.Fatalf("ensure archive bucket: %v", err)
	}

	idx, err := index.Open(cfg.Database.Path, cfg.AwsS3.RobotID)
	if err != nil {
		logger.Fatalf("open index: %v", err)
	}
	defer idx.Close()

	sink := &indexSink{local: local, idx: idx, log: logger, objectKeyPrefix: cfg.Rustfs.Prefix, robotID: cfg.AwsS3.RobotID}

	detector, err := buildDetector(cfg)
	if err != nil {
		logger.Fatalf("build detector: %v", err)
	}

	machine := recorder.New(recorder.Config{
		SegmentDuration:               time.Duration(cfg.Recording.SegmentDurationSecs) * time.Second,
		ActiveToIdleConsecutiveFrames: cfg.Recording.ActiveToIdleConsecutiveFrames,
		ObjectKeyPrefix:               cfg.Rustfs.Prefix,
		RobotID:                       cfg.AwsS3.RobotID,
	}, detector, sink, func(startMs int64) (*encoder.Encoder, error) {
		return encoder.Start(encoderOptions(cfg, startMs))
	})

	evictionCfg := eviction.NewConfigFromGB(
		cfg.Eviction.CheckIntervalSecs, cfg.Eviction.ThresholdGB, cfg.Eviction.TargetGB,
		cfg.Eviction.BatchSize, cfg.Eviction.FallbackThresholdGB, cfg.Eviction.FallbackAfterFailures,
		cfg.Eviction.FallbackRetrySecs, cfg.AwsS3.Prefix)
	healthPath := cfg.Database.Path + ".eviction-health.json"
	evictionLoop := eviction.New(evictionCfg, local, archive, logger, healthPath, func() int64 { return time.Now().UnixMilli() })
	go evictionLoop.Run(ctx)

	reader := bus.NewReader(bus.ReaderConfig{Brokers: []string{cfg.Kafka.Brokers}, Topic: cfg.Kafka.Topic, GroupID: cfg.Kafka.GroupID})
	defer reader.Close()

	logger.Printf("consumer started for robot %s", cfg.AwsS3.RobotID)
	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Printf("shutdown complete")
				return
			}
			logger.Printf("bus read error: %v", err)
			continue
		}

		f, err := frame.Deserialize(msg.Value)
		if err != nil {
			logger.Printf("frame parse error: %v", err)
			continue
		}

		if err := machine.ProcessFrame(f); err != nil {
			logger.Printf("process frame: %v", err)
		}
	}
}

func buildDetector(cfg config.Config) (detect.Detector, error) {
	switch cfg.Filter.Primary {
	case "phash":
		return detect.NewAHashDetector(cfg.Filter.PHashThreshold, cfg.Filter.PHashHashSize), nil
	case "histogram":
		return detect.NewHistogramDetector(cfg.Filter.HistogramThreshold), nil
	case "framesize":
		return detect.NewFrameSizeDetector(cfg.Filter.FramesizeSpikeRatio), nil
	default:
		return nil, ferrors.Wrap(ferrors.ConfigLoad, fmt.Errorf("unknown filter.primary %q", cfg.Filter.Primary))
	}
}

func encoderOptions(cfg config.Config, startMs int64) encoder.Options {
	mode := encoder.ModeJPEGReencode
	if cfg.Stream.Mode == "h264" {
		mode = encoder.ModeH264Passthrough
	}
	return encoder.Options{
		Mode:    mode,
		Codec:   cfg.Recording.Codec,
		CRF:     cfg.Recording.CRF,
		Preset:  cfg.Recording.Preset,
		FPS:     cfg.Recording.FPS,
		TmpDir:  os.TempDir(),
		StartMs: startMs,
	}
}
