package session

import (
	"log/slog"

	"github.com/MrWong99/framegate/pkg/codec"
	"github.com/MrWong99/framegate/pkg/resample"
)

// Converter turns decoded PCM into the session's output format.
// *resample.Resampler satisfies it.
type Converter interface {
	Input() codec.StreamFormat

	// Estimate returns how many samples the next Convert of inSamples would
	// produce.
	Estimate(inSamples int) int

	Convert(dst [][]byte, capacity int, src [][]byte, inSamples int) (int, error)
	Flush(dst [][]byte, capacity int) (int, error)
	Close() error
}

// ConverterFactory creates a Converter from in to out.
type ConverterFactory func(in, out codec.StreamFormat, logger *slog.Logger) (Converter, error)

// NewResampler is the default [ConverterFactory].
func NewResampler(in, out codec.StreamFormat, logger *slog.Logger) (Converter, error) {
	r, err := resample.New(in, out, logger)
	if err != nil {
		return nil, err
	}
	return r, nil
}
