// Package config provides the configuration schema, loader, and hot-reload
// watcher for the framegate batch transcoder.
package config

import (
	"time"

	"github.com/MrWong99/framegate/pkg/codec"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Mode selects the direction of a transcode job.
type Mode string

const (
	// ModeEncode reads raw PCM and writes a packet dump.
	ModeEncode Mode = "encode"

	// ModeDecode reads a packet dump and writes raw PCM.
	ModeDecode Mode = "decode"
)

// IsValid reports whether m is a recognised job mode.
func (m Mode) IsValid() bool {
	return m == ModeEncode || m == ModeDecode
}

// Compression selects the packet dump compression.
type Compression string

const (
	CompressNone Compression = "none"
	CompressZstd Compression = "zstd"
)

// IsValid reports whether c is a recognised compression.
func (c Compression) IsValid() bool {
	return c == CompressNone || c == CompressZstd
}

// Config is the root configuration structure for framegate.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Transcode TranscodeConfig `yaml:"transcode"`
	Jobs      []JobConfig     `yaml:"jobs"`
}

// ServerConfig holds logging and operational endpoint settings.
type ServerConfig struct {
	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// MetricsAddr is the TCP address serving /metrics, /healthz and /readyz
	// (e.g., ":9090"). Empty disables the listener.
	MetricsAddr string `yaml:"metrics_addr"`
}

// TranscodeConfig holds settings shared by all jobs.
type TranscodeConfig struct {
	// Concurrency limits the number of jobs running at once. Defaults to 4.
	Concurrency int `yaml:"concurrency"`

	// FailFast cancels the remaining jobs after the first failure.
	FailFast bool `yaml:"fail_fast"`
}

// JobConfig describes one transcode job.
type JobConfig struct {
	// Name is a unique identifier used in logs and metrics.
	Name string `yaml:"name"`

	// Mode selects encode or decode.
	Mode Mode `yaml:"mode"`

	// Engine is the registered codec engine name (e.g., "opus").
	Engine string `yaml:"engine"`

	// Input and Output are file paths. Encode jobs read raw little-endian
	// PCM and write a packet dump; decode jobs do the reverse.
	Input  string `yaml:"input"`
	Output string `yaml:"output"`

	// SampleRate, Channels and Format describe the raw side: the PCM input of
	// an encode job or the PCM output of a decode job. A decode job with
	// SampleRate 0 keeps the stream's rate.
	SampleRate int    `yaml:"sample_rate"`
	Channels   int    `yaml:"channels"`
	Format     string `yaml:"format"`

	// ChunkSamples is the number of samples per channel read from the input
	// per call when encoding. Defaults to 1000.
	ChunkSamples int `yaml:"chunk_samples"`

	// BitRate in bits per second for encode jobs. 0 selects the engine default.
	BitRate int64 `yaml:"bitrate"`

	// Compress selects the packet dump compression of encode jobs.
	Compress Compression `yaml:"compress"`

	// Descriptor is the hex encoded AudioSpecificConfig for decode jobs.
	// When empty the init data stored in the packet dump is used.
	Descriptor string `yaml:"descriptor"`

	// DetectStream takes the stream parameters from the first decoded frame
	// instead of from the descriptor.
	DetectStream bool `yaml:"detect_stream"`

	// DeclaredSamples overrides the per-unit sample count recorded in the
	// packet dump. 0 uses the recorded count.
	DeclaredSamples int `yaml:"declared_samples"`

	// SilenceDB enables silence detection on the decoded output of a decode
	// job. Sample frames quieter than this level in dBFS (e.g., -50) count
	// as silent. 0 disables detection.
	SilenceDB float64 `yaml:"silence_db"`

	// SilenceMinDuration is the length a silent stretch must exceed to be
	// reported. Defaults to 500ms when SilenceDB is set.
	SilenceMinDuration time.Duration `yaml:"silence_min_duration"`
}

// SampleFormat returns the parsed Format.
func (j JobConfig) SampleFormat() (codec.SampleFormat, error) {
	return codec.ParseSampleFormat(j.Format)
}
