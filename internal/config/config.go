// Package config loads the tracker's YAML configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/banshee-data/trackheat/internal/gps"
	"github.com/banshee-data/trackheat/internal/tracking"
)

// maxFileSize caps the config file read at startup.
const maxFileSize = 1 * 1024 * 1024

// Config is the root of the configuration file. Fields left out of the file
// keep the values from Default.
type Config struct {
	Listen   string         `yaml:"listen" validate:"required,hostname_port"`
	DBPath   string         `yaml:"db_path" validate:"required"`
	Tracking TrackingConfig `yaml:"tracking"`
	GPS      GPSConfig      `yaml:"gps"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Heatmap  HeatmapConfig  `yaml:"heatmap"`
}

// TrackingConfig tunes the sampling loop.
type TrackingConfig struct {
	Interval       time.Duration `yaml:"interval" validate:"gte=100ms"`
	RequestTimeout time.Duration `yaml:"request_timeout" validate:"gte=100ms"`
	Accuracy       string        `yaml:"accuracy" validate:"oneof=default low medium high best"`
	Autostart      bool          `yaml:"autostart"`
}

// GPSConfig selects the position source. With Replay set, a recorded NMEA
// fixture stands in for Device.
type GPSConfig struct {
	Device         string          `yaml:"device" validate:"required_unless=Replay true"`
	Port           gps.PortOptions `yaml:"port"`
	InitCommands   []string        `yaml:"init_commands" validate:"dive,startswith=$"`
	Replay         bool            `yaml:"replay"`
	ReplayFile     string          `yaml:"replay_file"`
	ReplayInterval time.Duration   `yaml:"replay_interval" validate:"gte=10ms"`
}

// KafkaConfig enables event forwarding when Brokers is non-empty.
type KafkaConfig struct {
	Brokers   []string `yaml:"brokers" validate:"dive,hostname_port"`
	Topic     string   `yaml:"topic" validate:"required_with=Brokers"`
	QueueSize int      `yaml:"queue_size" validate:"gte=1,lte=100000"`
}

// HeatmapConfig controls the rendered exports.
type HeatmapConfig struct {
	Title        string `yaml:"title"`
	MaxImageSize int    `yaml:"max_image_size" validate:"gte=64,lte=8192"`
}

// Enabled reports whether forwarding is configured.
func (k KafkaConfig) Enabled() bool { return len(k.Brokers) > 0 }

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Listen: ":8080",
		DBPath: "trackheat.db",
		Tracking: TrackingConfig{
			Interval:       tracking.DefaultInterval,
			RequestTimeout: tracking.DefaultRequestTimeout,
			Accuracy:       tracking.AccuracyBest.String(),
		},
		GPS: GPSConfig{
			Device:         "/dev/ttyUSB0",
			Port:           gps.PortOptions{BaudRate: gps.DefaultBaudRate},
			ReplayInterval: time.Second,
		},
		Kafka: KafkaConfig{
			Topic:     "trackheat.events",
			QueueSize: 256,
		},
		Heatmap: HeatmapConfig{
			Title:        "Visited places",
			MaxImageSize: 2048,
		},
	}
}

// Load reads a YAML config from path on top of Default and validates it.
// The path must carry a .yml or .yaml extension.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".yml" && ext != ".yaml" {
		return nil, fmt.Errorf("config file must have .yml or .yaml extension, got %q", ext)
	}

	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks field constraints and the serial port options.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%s fails %q (got %v)", fe.Namespace(), fe.Tag(), fe.Value())
		}
		return err
	}
	if _, err := c.GPS.Port.Normalize(); err != nil {
		return fmt.Errorf("gps.port: %w", err)
	}
	return nil
}

// AccuracyLevel returns the configured accuracy hint. Validate has already
// rejected unknown names.
func (t TrackingConfig) AccuracyLevel() tracking.Accuracy {
	a, err := tracking.ParseAccuracy(t.Accuracy)
	if err != nil {
		return tracking.AccuracyBest
	}
	return a
}
