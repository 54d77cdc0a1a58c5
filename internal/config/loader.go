package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/framegate/pkg/codec/asc"
	"github.com/MrWong99/framegate/pkg/silence"
)

// ValidEngineNames lists the codec engines a job may reference.
// Used by [Validate] to reject unknown engine names.
var ValidEngineNames = []string{"opus", "g722"}

const (
	defaultConcurrency  = 4
	defaultChunkSamples = 1000
	defaultFormat       = "s16"

	defaultSilenceMinDuration = 500 * time.Millisecond
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills unset optional fields.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Transcode.Concurrency == 0 {
		cfg.Transcode.Concurrency = defaultConcurrency
	}
	for i := range cfg.Jobs {
		j := &cfg.Jobs[i]
		if j.Format == "" {
			j.Format = defaultFormat
		}
		if j.Mode == ModeEncode && j.ChunkSamples == 0 {
			j.ChunkSamples = defaultChunkSamples
		}
		if j.Compress == "" {
			j.Compress = CompressNone
		}
		if j.SilenceDB != 0 && j.SilenceMinDuration == 0 {
			j.SilenceMinDuration = defaultSilenceMinDuration
		}
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Transcode
	if cfg.Transcode.Concurrency < 0 {
		errs = append(errs, fmt.Errorf("transcode.concurrency %d must not be negative", cfg.Transcode.Concurrency))
	}

	// Job duplicate name detection
	namesSeen := make(map[string]int, len(cfg.Jobs))

	for i, job := range cfg.Jobs {
		prefix := fmt.Sprintf("jobs[%d]", i)
		if job.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else {
			if prev, ok := namesSeen[job.Name]; ok {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of jobs[%d]", prefix, job.Name, prev))
			}
			namesSeen[job.Name] = i
		}
		errs = append(errs, validateJob(prefix, job)...)
	}

	return errors.Join(errs...)
}

func validateJob(prefix string, job JobConfig) []error {
	var errs []error
	if !job.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("%s.mode %q is invalid; valid values: encode, decode", prefix, job.Mode))
	}
	if !slices.Contains(ValidEngineNames, job.Engine) {
		errs = append(errs, fmt.Errorf("%s.engine %q is unknown; valid values: %v", prefix, job.Engine, ValidEngineNames))
	}
	if job.Input == "" {
		errs = append(errs, fmt.Errorf("%s.input is required", prefix))
	}
	if job.Output == "" {
		errs = append(errs, fmt.Errorf("%s.output is required", prefix))
	}
	if job.Input != "" && job.Input == job.Output {
		errs = append(errs, fmt.Errorf("%s.output must differ from input", prefix))
	}
	if job.Format != "" {
		if _, err := job.SampleFormat(); err != nil {
			errs = append(errs, fmt.Errorf("%s.format %q is invalid; valid values: s16, flt, fltp", prefix, job.Format))
		}
	}
	if job.Channels != 1 && job.Channels != 2 {
		errs = append(errs, fmt.Errorf("%s.channels %d is invalid; valid values: 1, 2", prefix, job.Channels))
	}
	if job.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("%s.sample_rate %d must not be negative", prefix, job.SampleRate))
	}
	if job.Compress != "" && !job.Compress.IsValid() {
		errs = append(errs, fmt.Errorf("%s.compress %q is invalid; valid values: none, zstd", prefix, job.Compress))
	}

	switch job.Mode {
	case ModeEncode:
		if job.SampleRate == 0 {
			errs = append(errs, fmt.Errorf("%s.sample_rate is required for encode jobs", prefix))
		}
		if job.ChunkSamples < 0 {
			errs = append(errs, fmt.Errorf("%s.chunk_samples %d must not be negative", prefix, job.ChunkSamples))
		}
		if job.Descriptor != "" || job.DetectStream || job.DeclaredSamples != 0 {
			errs = append(errs, fmt.Errorf("%s: descriptor, detect_stream and declared_samples apply to decode jobs only", prefix))
		}
		if job.SilenceDB != 0 || job.SilenceMinDuration != 0 {
			errs = append(errs, fmt.Errorf("%s: silence_db and silence_min_duration apply to decode jobs only", prefix))
		}
	case ModeDecode:
		if job.Descriptor != "" {
			if _, err := Descriptor(job.Descriptor); err != nil {
				errs = append(errs, fmt.Errorf("%s.descriptor: %w", prefix, err))
			}
		}
		if job.DeclaredSamples < 0 {
			errs = append(errs, fmt.Errorf("%s.declared_samples %d must not be negative", prefix, job.DeclaredSamples))
		}
		if job.BitRate != 0 {
			errs = append(errs, fmt.Errorf("%s.bitrate applies to encode jobs only", prefix))
		}
		if job.SilenceDB > 0 || job.SilenceDB < silence.MinThresholdDB || math.IsNaN(job.SilenceDB) {
			errs = append(errs, fmt.Errorf("%s.silence_db %g must be between %d and 0", prefix, job.SilenceDB, silence.MinThresholdDB))
		}
		if job.SilenceMinDuration < 0 {
			errs = append(errs, fmt.Errorf("%s.silence_min_duration %s must not be negative", prefix, job.SilenceMinDuration))
		} else if job.SilenceMinDuration != 0 && job.SilenceDB == 0 {
			errs = append(errs, fmt.Errorf("%s.silence_min_duration requires silence_db", prefix))
		}
	}
	return errs
}

// Descriptor decodes a hex encoded AudioSpecificConfig and checks that it
// parses.
func Descriptor(s string) ([]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("config: descriptor is not hex: %w", err)
	}
	if _, err := asc.Parse(b); err != nil {
		return nil, fmt.Errorf("config: descriptor: %w", err)
	}
	return b, nil
}
