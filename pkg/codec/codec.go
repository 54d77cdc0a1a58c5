// Package codec defines the audio types and the engine contract shared by the
// session layer and the concrete codec engines.
//
// An engine mirrors the send/receive model of a native codec library: compressed
// access units are submitted with [Decoder.SendPacket] and decoded frames are
// pulled with [Decoder.ReceiveFrame]; raw frames are submitted with
// [Encoder.SendFrame] and compressed units are pulled with
// [Encoder.ReceivePacket]. Receive calls report [ErrWouldBlock] when the engine
// needs more input and [ErrEndOfStream] once it has been drained after an
// end-of-stream signal.
//
// Engines are not safe for concurrent use. Each session owns its own engine
// contexts.
package codec

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

var (
	// ErrWouldBlock is returned by receive calls when the engine has no output
	// ready and needs more input first.
	ErrWouldBlock = errors.New("codec: would block")

	// ErrEndOfStream is returned by receive calls once the engine has been fully
	// drained after an end-of-stream signal, and by SendFrame/SendPacket when the
	// stream has already been terminated.
	ErrEndOfStream = errors.New("codec: end of stream")

	// ErrCodecNotFound is returned by [Registry.Lookup] for unknown engine names.
	ErrCodecNotFound = errors.New("codec: engine not found")

	// ErrUnsupported is returned by engines asked for a sample rate, layout or
	// sample format they cannot handle.
	ErrUnsupported = errors.New("codec: unsupported parameters")
)

// SampleFormat describes how samples are stored in memory.
type SampleFormat int

const (
	// FormatS16 is interleaved signed 16-bit little-endian PCM.
	FormatS16 SampleFormat = iota + 1

	// FormatFloat is interleaved 32-bit IEEE float PCM.
	FormatFloat

	// FormatFloatPlanar is 32-bit IEEE float PCM with one plane per channel.
	FormatFloatPlanar
)

// BytesPerSample returns the size of a single sample of a single channel.
func (f SampleFormat) BytesPerSample() int {
	switch f {
	case FormatS16:
		return 2
	case FormatFloat, FormatFloatPlanar:
		return 4
	}
	return 0
}

// IsPlanar reports whether each channel is stored in its own plane.
func (f SampleFormat) IsPlanar() bool {
	return f == FormatFloatPlanar
}

// IsValid reports whether f is one of the known sample formats.
func (f SampleFormat) IsValid() bool {
	return f >= FormatS16 && f <= FormatFloatPlanar
}

// String returns the short name used in configuration files.
func (f SampleFormat) String() string {
	switch f {
	case FormatS16:
		return "s16"
	case FormatFloat:
		return "flt"
	case FormatFloatPlanar:
		return "fltp"
	}
	return fmt.Sprintf("SampleFormat(%d)", int(f))
}

// ParseSampleFormat converts a configuration name ("s16", "flt", "fltp") to a
// [SampleFormat].
func ParseSampleFormat(s string) (SampleFormat, error) {
	switch strings.ToLower(s) {
	case "s16":
		return FormatS16, nil
	case "flt", "float":
		return FormatFloat, nil
	case "fltp":
		return FormatFloatPlanar, nil
	}
	return 0, fmt.Errorf("codec: unknown sample format %q", s)
}

// ChannelLayout is the speaker layout of a stream. Only mono and stereo are
// representable.
type ChannelLayout int

const (
	LayoutMono   ChannelLayout = 1
	LayoutStereo ChannelLayout = 2
)

// Channels returns the number of channels in the layout.
func (l ChannelLayout) Channels() int { return int(l) }

func (l ChannelLayout) String() string {
	switch l {
	case LayoutMono:
		return "mono"
	case LayoutStereo:
		return "stereo"
	}
	return fmt.Sprintf("%dch", int(l))
}

// LayoutFromChannels maps a channel count to a layout.
func LayoutFromChannels(n int) (ChannelLayout, error) {
	switch n {
	case 1:
		return LayoutMono, nil
	case 2:
		return LayoutStereo, nil
	}
	return 0, fmt.Errorf("%w: %d channels", ErrUnsupported, n)
}

// StreamFormat is the full description of a PCM stream.
type StreamFormat struct {
	SampleRate int
	Layout     ChannelLayout
	Format     SampleFormat
}

// Planes returns the number of planes a buffer in this format has.
func (s StreamFormat) Planes() int {
	if s.Format.IsPlanar() {
		return s.Layout.Channels()
	}
	return 1
}

// Stride returns the number of bytes one sample occupies in each plane.
func (s StreamFormat) Stride() int {
	if s.Format.IsPlanar() {
		return s.Format.BytesPerSample()
	}
	return s.Format.BytesPerSample() * s.Layout.Channels()
}

func (s StreamFormat) String() string {
	return fmt.Sprintf("%dHz %s %s", s.SampleRate, s.Layout, s.Format)
}

// Frame is a block of PCM samples. For planar formats Planes holds one slice
// per channel; for interleaved formats it holds a single slice.
type Frame struct {
	Planes     [][]byte
	Samples    int
	SampleRate int
	Layout     ChannelLayout
	Format     SampleFormat
}

// StreamFormat returns the stream description of the frame.
func (f *Frame) StreamFormat() StreamFormat {
	return StreamFormat{SampleRate: f.SampleRate, Layout: f.Layout, Format: f.Format}
}

// NewFrame allocates a zeroed frame able to hold samples samples of sf.
func NewFrame(sf StreamFormat, samples int) *Frame {
	planes := make([][]byte, sf.Planes())
	for i := range planes {
		planes[i] = make([]byte, samples*sf.Stride())
	}
	return &Frame{
		Planes:     planes,
		Samples:    samples,
		SampleRate: sf.SampleRate,
		Layout:     sf.Layout,
		Format:     sf.Format,
	}
}

// DecoderParams configures a decoder context.
type DecoderParams struct {
	// ExtraData is the codec initialization data (e.g. an AudioSpecificConfig).
	// The engine owns this slice; callers must pass a copy.
	ExtraData []byte

	// SampleRate and Layout describe the compressed stream when known. Engines
	// that discover the stream parameters themselves may ignore them.
	SampleRate int
	Layout     ChannelLayout

	// Logger receives engine diagnostics. Nil means slog.Default().
	Logger *slog.Logger
}

// EncoderParams configures an encoder context.
type EncoderParams struct {
	SampleRate int
	Layout     ChannelLayout
	Format     SampleFormat

	// BitRate in bits per second; 0 selects the engine default.
	BitRate int64

	// Quality is an engine specific global quality knob; 0 means unset.
	Quality float64

	// Logger receives engine diagnostics. Nil means slog.Default().
	Logger *slog.Logger
}

// Decoder is an open decompression context.
type Decoder interface {
	// SendPacket submits one compressed access unit. A nil packet signals end
	// of stream. The engine must not retain pkt after returning.
	SendPacket(pkt []byte) error

	// ReceiveFrame returns the next decoded frame. The frame and its planes
	// remain valid until the next call on the decoder.
	ReceiveFrame() (*Frame, error)

	// Close releases the context.
	Close() error
}

// Encoder is an open compression context.
type Encoder interface {
	// FrameSize is the number of samples per channel every submitted frame must
	// carry, except the final one before end of stream.
	FrameSize() int

	// SendFrame submits one raw frame. A nil frame signals end of stream. The
	// engine must not retain f's planes after returning. Engines queue output
	// internally and never return ErrWouldBlock here.
	SendFrame(f *Frame) error

	// ReceivePacket returns the next compressed access unit. The returned slice
	// is owned by the caller.
	ReceivePacket() ([]byte, error)

	// ExtraData returns the codec initialization data describing the encoded
	// stream. It may be empty.
	ExtraData() []byte

	// Close releases the context.
	Close() error
}

// Engine creates codec contexts for one codec.
type Engine interface {
	// Name is the registry key of the engine (e.g. "opus").
	Name() string

	// DecoderFormat is the sample format of the frames the decoder produces.
	DecoderFormat() SampleFormat

	// EncoderFormats lists the raw sample formats the encoder accepts.
	EncoderFormats() []SampleFormat

	NewDecoder(p DecoderParams) (Decoder, error)
	NewEncoder(p EncoderParams) (Encoder, error)
}

// Logger returns l, or slog.Default() when l is nil.
func Logger(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
