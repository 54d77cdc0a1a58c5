// Package asc parses the two leading bytes of an MPEG-4 AudioSpecificConfig
// into a sample rate and channel layout.
//
// Only the fields needed to configure a converter are decoded: the sampling
// frequency index and the channel configuration. The parser accepts the
// escape-coded audio object type and reads the extended fields from the second
// byte in that case.
package asc

import (
	"errors"
	"fmt"

	"github.com/MrWong99/framegate/pkg/codec"
)

// ErrInvalid is returned when a descriptor is too short or encodes a sample
// rate index or channel configuration outside the supported range.
var ErrInvalid = errors.New("asc: invalid audio specific config")

// objectTypeEscape is the 5-bit audio object type value that signals an
// extended object type.
const objectTypeEscape = 0x1F

// ObjectTypeLC is the audio object type of AAC Low Complexity.
const ObjectTypeLC = 2

// SampleRates is the MPEG-4 sampling frequency table (ISO 14496-3).
var SampleRates = [13]int{
	96000, 88200, 64000, 48000, 44100, 32000, 24000, 22050,
	16000, 12000, 11025, 8000, 7350,
}

// Config is the decoded subset of an AudioSpecificConfig.
type Config struct {
	SampleRateIndex int
	SampleRate      int

	// ChannelConfig is the raw channel configuration field (0, 1 or 2).
	ChannelConfig int

	Layout codec.ChannelLayout
}

// Parse decodes desc. It needs at least two bytes and never retains desc.
func Parse(desc []byte) (Config, error) {
	if len(desc) < 2 {
		return Config{}, fmt.Errorf("%w: need 2 bytes, got %d", ErrInvalid, len(desc))
	}
	b0, b1 := desc[0], desc[1]

	var index, channels int
	if b0>>3 == objectTypeEscape {
		index = int(b1>>1) & 0x1F
		channels = int(b1&1)<<3 | int(b1>>5)
	} else {
		index = int(b0&7)<<1 | int(b1>>7)
		channels = int(b1>>3) & 0xF
	}

	if index >= len(SampleRates) {
		return Config{}, fmt.Errorf("%w: sample rate index %d", ErrInvalid, index)
	}
	if channels > 2 {
		return Config{}, fmt.Errorf("%w: channel configuration %d", ErrInvalid, channels)
	}

	layout := codec.LayoutMono
	if channels == 2 {
		layout = codec.LayoutStereo
	}
	return Config{
		SampleRateIndex: index,
		SampleRate:      SampleRates[index],
		ChannelConfig:   channels,
		Layout:          layout,
	}, nil
}

// IndexOf returns the sampling frequency index of rate, or -1 if rate is not
// in the table.
func IndexOf(rate int) int {
	for i, r := range SampleRates {
		if r == rate {
			return i
		}
	}
	return -1
}

// Build encodes a two-byte, non-escaped descriptor for the given object type,
// sample rate and layout. objectType must be in [1, 30].
func Build(objectType, sampleRate int, layout codec.ChannelLayout) ([]byte, error) {
	if objectType < 1 || objectType >= objectTypeEscape {
		return nil, fmt.Errorf("%w: object type %d", ErrInvalid, objectType)
	}
	index := IndexOf(sampleRate)
	if index < 0 {
		return nil, fmt.Errorf("%w: sample rate %d", ErrInvalid, sampleRate)
	}
	channels := layout.Channels()
	if channels < 1 || channels > 2 {
		return nil, fmt.Errorf("%w: %d channels", ErrInvalid, channels)
	}
	return []byte{
		byte(objectType<<3) | byte(index>>1),
		byte(index&1)<<7 | byte(channels<<3),
	}, nil
}
