// Package config provides the configuration structure for the video-service.
package config

import (
	"fmt"
	"time"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
)

// NATSConfig holds the configuration for NATS.
type NATSConfig struct {
	URL                    string `toml:"url"`
	JobStreamName          string `toml:"job_stream_name"`
	JobConsumerName        string `toml:"job_consumer_name"`
	JobSubmittedSubject    string `toml:"job_submitted_subject"`
	JobBucket              string `toml:"job_bucket"`
	VideoObjectStoreBucket string `toml:"video_object_store_bucket"`
	PredefinedVoiceBucket  string `toml:"predefined_voice_bucket"`
	UserVoiceBucket        string `toml:"user_voice_bucket"`
	PredefinedAvatarBucket string `toml:"predefined_avatar_bucket"`
	UserAvatarBucket       string `toml:"user_avatar_bucket"`
}

// SynthesisConfig holds the configuration for the voice-cloning TTS
// collaborator.
type SynthesisConfig struct {
	BaseURL        string `toml:"base_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Timeout returns the ordinary HTTP timeout for synthesis calls.
func (c SynthesisConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// DubbingConfig holds the configuration for the video dubbing collaborator.
// Dubbing runs for tens of minutes, so its timeout is configured separately
// from ordinary request timeouts.
type DubbingConfig struct {
	BaseURL        string `toml:"base_url"`
	TimeoutMinutes int    `toml:"timeout_minutes"`
}

// Timeout returns the long-running dubbing call timeout.
func (c DubbingConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMinutes) * time.Minute
}

// WorkerConfig holds the worker pool configuration.
type WorkerConfig struct {
	Concurrency int `toml:"concurrency"`
}

// APIConfig holds the HTTP API configuration.
type APIConfig struct {
	ListenAddress string `toml:"listen_address"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
}

// Config is the root configuration structure.
type Config struct {
	NATS      NATSConfig      `toml:"nats"`
	Synthesis SynthesisConfig `toml:"synthesis"`
	Dubbing   DubbingConfig   `toml:"dubbing"`
	Worker    WorkerConfig    `toml:"worker"`
	API       APIConfig       `toml:"api"`
	Paths     PathsConfig     `toml:"paths"`
}

// Defaults applied when a section leaves a knob unset.
const (
	defaultSynthesisTimeoutSeconds = 120
	defaultDubbingTimeoutMinutes   = 30
	defaultWorkerConcurrency       = 1
)

// Load loads the configuration for the video-service.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	cfg.ApplyDefaults()

	return &cfg, nil
}

// ApplyDefaults fills unset timeout and concurrency values.
func (c *Config) ApplyDefaults() {
	if c.Synthesis.TimeoutSeconds <= 0 {
		c.Synthesis.TimeoutSeconds = defaultSynthesisTimeoutSeconds
	}

	if c.Dubbing.TimeoutMinutes <= 0 {
		c.Dubbing.TimeoutMinutes = defaultDubbingTimeoutMinutes
	}

	if c.Worker.Concurrency <= 0 {
		c.Worker.Concurrency = defaultWorkerConcurrency
	}
}
