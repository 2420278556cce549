// Package config loads the flat TOML configuration document shared by
// all three framebucket processes.
package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/framebucket/framebucket/internal/ferrors"
)

type Kafka struct {
	Brokers     string `toml:"brokers"`
	Topic       string `toml:"topic"`
	GroupID     string `toml:"group_id"`
	Compression string `toml:"compression"`
}

type Stream struct {
	URL      string  `toml:"url"`
	H264URL  string  `toml:"h264_url"`
	Quality  int     `toml:"quality"`
	FPS      float64 `toml:"fps"`
	Mode     string  `toml:"mode"`
}

type Filter struct {
	Primary             string  `toml:"primary"`
	PHashThreshold       int     `toml:"phash_threshold"`
	PHashHashSize        int     `toml:"phash_hash_size"`
	HistogramThreshold   float64 `toml:"histogram_threshold"`
	FramesizeSpikeRatio  float64 `toml:"framesize_spike_ratio"`
}

type Recording struct {
	SegmentDurationSecs           int     `toml:"segment_duration_secs"`
	Codec                         string  `toml:"codec"`
	CRF                           int     `toml:"crf"`
	Preset                        string  `toml:"preset"`
	FPS                           float64 `toml:"fps"`
	ActiveToIdleConsecutiveFrames int     `toml:"active_to_idle_consecutive_frames"`
}

type Rustfs struct {
	Endpoint  string `toml:"endpoint"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
	Bucket    string `toml:"bucket"`
	Prefix    string `toml:"prefix"`
}

type Eviction struct {
	CheckIntervalSecs    int     `toml:"check_interval_secs"`
	ThresholdGB          float64 `toml:"threshold_gb"`
	TargetGB             float64 `toml:"target_gb"`
	BatchSize            int     `toml:"batch_size"`
	FallbackThresholdGB  float64 `toml:"fallback_threshold_gb"`
	FallbackAfterFailures int    `toml:"fallback_after_failures"`
	FallbackRetrySecs    int     `toml:"fallback_retry_secs"`
}

type AwsS3 struct {
	Bucket  string `toml:"bucket"`
	Prefix  string `toml:"prefix"`
	Region  string `toml:"region"`
	RobotID string `toml:"robot_id"`
}

type Database struct {
	Path string `toml:"path"`
}

type Logging struct {
	Level string `toml:"level"`
}

type API struct {
	Port               int    `toml:"port"`
	RustfsPublicURL    string `toml:"rustfs_public_url"`
	RustfsBucket       string `toml:"rustfs_bucket"`
	LabelledDataBucket string `toml:"labelled_data_bucket"`
}

// Config is the full flat configuration document. Each process reads
// only the sections it needs.
type Config struct {
	Kafka     Kafka     `toml:"kafka"`
	Stream    Stream    `toml:"stream"`
	Filter    Filter    `toml:"filter"`
	Recording Recording `toml:"recording"`
	Rustfs    Rustfs    `toml:"rustfs"`
	Eviction  Eviction  `toml:"eviction"`
	AwsS3     AwsS3     `toml:"aws_s3"`
	Database  Database  `toml:"database"`
	Logging   Logging   `toml:"logging"`
	API       API       `toml:"api"`
}

func defaults() Config {
	var c Config
	c.Kafka.Topic = "camera.frames"
	c.Kafka.GroupID = "frame-filter-group"
	c.Kafka.Compression = "snappy"
	c.Stream.Quality = 80
	c.Stream.FPS = 10
	c.Stream.Mode = "mjpeg"
	c.Filter.Primary = "phash"
	c.Filter.PHashThreshold = 26
	c.Filter.PHashHashSize = 16
	c.Filter.HistogramThreshold = 0.15
	c.Filter.FramesizeSpikeRatio = 4.0
	c.Recording.SegmentDurationSecs = 60
	c.Recording.Codec = "h264"
	c.Recording.CRF = 23
	c.Recording.Preset = "fast"
	c.Recording.FPS = 10
	c.Recording.ActiveToIdleConsecutiveFrames = 5
	c.Rustfs.Bucket = "camera-frames"
	c.Rustfs.Prefix = "frames/"
	c.Eviction.CheckIntervalSecs = 30
	c.Eviction.BatchSize = 50
	c.Eviction.FallbackAfterFailures = 5
	c.Eviction.FallbackRetrySecs = 60
	c.AwsS3.Prefix = "archive/"
	c.AwsS3.Region = "us-west-2"
	c.AwsS3.RobotID = "reachy-001"
	c.Logging.Level = "info"
	c.API.Port = 8080
	return c
}

// Load reads and parses the TOML config at path, applying defaults for
// any field not present in the document.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, ferrors.Wrap(ferrors.ConfigLoad, fmt.Errorf("read %s: %w", path, err))
	}
	c := defaults()
	if err := toml.Unmarshal(data, &c); err != nil {
		return Config{}, ferrors.Wrap(ferrors.ConfigLoad, fmt.Errorf("parse %s: %w", path, err))
	}
	return c, nil
}

// ValidateProducer checks the fields the producer process requires.
func (c Config) ValidateProducer() error {
	var missing []string
	if c.Kafka.Brokers == "" {
		missing = append(missing, "kafka.brokers")
	}
	switch c.Stream.Mode {
	case "mjpeg", "polling":
		if c.Stream.URL == "" {
			missing = append(missing, "stream.url")
		}
	case "h264":
		if c.Stream.H264URL == "" {
			missing = append(missing, "stream.h264_url")
		}
	default:
		return ferrors.Wrap(ferrors.ConfigLoad, fmt.Errorf("unknown stream.mode %q", c.Stream.Mode))
	}
	if len(missing) > 0 {
		return ferrors.Wrap(ferrors.ConfigLoad, fmt.Errorf("missing required fields: %v", missing))
	}
	return nil
}

// ValidateConsumer checks the fields the consumer process requires.
func (c Config) ValidateConsumer() error {
	var missing []string
	if c.Kafka.Brokers == "" {
		missing = append(missing, "kafka.brokers")
	}
	if c.Rustfs.Endpoint == "" {
		missing = append(missing, "rustfs.endpoint")
	}
	if c.Rustfs.AccessKey == "" {
		missing = append(missing, "rustfs.access_key")
	}
	if c.Rustfs.SecretKey == "" {
		missing = append(missing, "rustfs.secret_key")
	}
	if c.AwsS3.Bucket == "" {
		missing = append(missing, "aws_s3.bucket")
	}
	if c.Database.Path == "" {
		missing = append(missing, "database.path")
	}
	switch c.Filter.Primary {
	case "phash", "histogram", "framesize":
	default:
		return ferrors.Wrap(ferrors.ConfigLoad, fmt.Errorf("unknown filter.primary %q", c.Filter.Primary))
	}
	switch c.Recording.Codec {
	case "h264", "h265":
	default:
		return ferrors.Wrap(ferrors.ConfigLoad, fmt.Errorf("unknown recording.codec %q", c.Recording.Codec))
	}
	if len(missing) > 0 {
		return ferrors.Wrap(ferrors.ConfigLoad, fmt.Errorf("missing required fields: %v", missing))
	}
	return nil
}

// ValidateAPI checks the fields the query-API process requires.
func (c Config) ValidateAPI() error {
	var missing []string
	if c.Database.Path == "" {
		missing = append(missing, "database.path")
	}
	if c.API.RustfsPublicURL == "" {
		missing = append(missing, "api.rustfs_public_url")
	}
	if c.API.RustfsBucket == "" {
		missing = append(missing, "api.rustfs_bucket")
	}
	if c.API.LabelledDataBucket == "" {
		missing = append(missing, "api.labelled_data_bucket")
	}
	if len(missing) > 0 {
		return ferrors.Wrap(ferrors.ConfigLoad, fmt.Errorf("missing required fields: %v", missing))
	}
	return nil
}
