// Command producer connects to one camera stream (MJPEG/polling HTTP,
// or raw MPEG-TS/H.264 over TCP) and republishes every frame onto the
// bus, reconnecting with exponential backoff on failure.
package main

import (
	"context"
	"flag"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/framebucket/framebucket/internal/bus"
	"github.com/framebucket/framebucket/internal/config"
	"github.com/framebucket/framebucket/internal/logx"
	"github.com/framebucket/framebucket/internal/producer"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to the configuration document")
	flag.Parse()

	logger := logx.New("producer")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if err := cfg.ValidateProducer(); err != nil {
		logger.Fatalf("invalid config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Printf("shutting down...")
		cancel()
	}()

	writer := bus.NewWriter(bus.WriterConfig{
		Brokers:     []string{cfg.Kafka.Brokers},
		Topic:       cfg.Kafka.Topic,
		Compression: cfg.Kafka.Compression,
	})
	defer writer.Close()

	robotID := cfg.AwsS3.RobotID

	var runErr error
	switch cfg.Stream.Mode {
	case "mjpeg", "polling":
		r := &producer.MJPEGRunner{
			URL:     cfg.Stream.URL,
			RobotID: robotID,
			Topic:   cfg.Kafka.Topic,
			Pub:     writer,
			Log:     logger,
		}
		runErr = r.Run(ctx)
	case "h264":
		r := &producer.H264Runner{
			Addr:    cfg.Stream.H264URL,
			RobotID: robotID,
			Dial:    dialTCP,
			Pub:     writer,
			Log:     logger,
		}
		runErr = r.Run(ctx)
	default:
		logger.Fatalf("unknown stream.mode %q", cfg.Stream.Mode)
	}

	if runErr != nil && runErr != context.Canceled {
		logger.Fatalf("stream runner exited: %v", runErr)
	}
	logger.Printf("shutdown complete")
}

func dialTCP(ctx context.Context, addr string) (io.ReadCloser, error) {
	var d net.Dialer
	return d.DialContext(ctx, "tcp", addr)
}
