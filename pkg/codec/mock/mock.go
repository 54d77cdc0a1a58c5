// Package mock provides an in-memory implementation of [codec.Engine] for use
// in unit tests.
//
// The mock engine behaves like an AAC engine: 1024-sample encoder frames,
// planar float decoder output and an AudioSpecificConfig as encoder init data.
// Every exported field can be set before use to control behaviour, and every
// context records its calls so that tests can assert on them. All types are
// safe for concurrent use.
//
// Typical usage:
//
//	eng := &mock.Engine{DecodeSamples: func([]byte) int { return 512 }}
//	sess, err := session.OpenDecoder(session.DecoderOptions{Engine: eng, ...})
//	...
//	dec := eng.Decoders[0]
package mock

import (
	"encoding/binary"
	"sync"

	"github.com/MrWong99/framegate/pkg/codec"
	"github.com/MrWong99/framegate/pkg/codec/asc"
)

// DefaultFrameSize is the encoder frame size used when FrameSizeValue is 0.
const DefaultFrameSize = 1024

// ─── Engine ───────────────────────────────────────────────────────────────────

// Engine is a mock implementation of [codec.Engine].
type Engine struct {
	mu sync.Mutex

	// EngineName is returned by Name. Defaults to "mock".
	EngineName string

	// FrameSizeValue is the encoder frame size. Defaults to [DefaultFrameSize].
	FrameSizeValue int

	// DecodeFormat is the sample format of decoded frames. Defaults to
	// [codec.FormatFloatPlanar].
	DecodeFormat codec.SampleFormat

	// EncodeFormats is returned by EncoderFormats. Defaults to
	// [codec.FormatFloatPlanar] only.
	EncodeFormats []codec.SampleFormat

	// DecodeSamples returns the number of samples per channel the decoder
	// produces for pkt. Defaults to 1024 for every packet.
	DecodeSamples func(pkt []byte) int

	// StreamRate and StreamLayout describe decoded frames. When zero the
	// decoder params are used, falling back to 44100 Hz stereo.
	StreamRate   int
	StreamLayout codec.ChannelLayout

	// NewDecoderError and NewEncoderError fail context creation.
	NewDecoderError error
	NewEncoderError error

	// Errors returned by the context methods when non-nil.
	SendPacketError    error
	ReceiveFrameError  error
	SendFrameError     error
	ReceivePacketError error

	// Decoders and Encoders record every context created, in order.
	Decoders []*Decoder
	Encoders []*Encoder
}

// Name implements [codec.Engine].
func (e *Engine) Name() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.EngineName == "" {
		return "mock"
	}
	return e.EngineName
}

// DecoderFormat implements [codec.Engine].
func (e *Engine) DecoderFormat() codec.SampleFormat {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.decodeFormat()
}

func (e *Engine) decodeFormat() codec.SampleFormat {
	if e.DecodeFormat == 0 {
		return codec.FormatFloatPlanar
	}
	return e.DecodeFormat
}

// EncoderFormats implements [codec.Engine].
func (e *Engine) EncoderFormats() []codec.SampleFormat {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.EncodeFormats) == 0 {
		return []codec.SampleFormat{codec.FormatFloatPlanar}
	}
	return append([]codec.SampleFormat(nil), e.EncodeFormats...)
}

// NewDecoder implements [codec.Engine]. Returns NewDecoderError when set.
func (e *Engine) NewDecoder(p codec.DecoderParams) (codec.Decoder, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.NewDecoderError != nil {
		return nil, e.NewDecoderError
	}
	sf := codec.StreamFormat{SampleRate: e.StreamRate, Layout: e.StreamLayout, Format: e.decodeFormat()}
	if sf.SampleRate == 0 {
		sf.SampleRate = p.SampleRate
	}
	if sf.SampleRate == 0 {
		sf.SampleRate = 44100
	}
	if sf.Layout == 0 {
		sf.Layout = p.Layout
	}
	if sf.Layout == 0 {
		sf.Layout = codec.LayoutStereo
	}
	d := &Decoder{engine: e, format: sf, Params: p}
	e.Decoders = append(e.Decoders, d)
	return d, nil
}

// NewEncoder implements [codec.Engine]. Returns NewEncoderError when set.
func (e *Engine) NewEncoder(p codec.EncoderParams) (codec.Encoder, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.NewEncoderError != nil {
		return nil, e.NewEncoderError
	}
	size := e.FrameSizeValue
	if size == 0 {
		size = DefaultFrameSize
	}
	extra, _ := asc.Build(asc.ObjectTypeLC, p.SampleRate, p.Layout)
	enc := &Encoder{engine: e, frameSize: size, extra: extra, Params: p}
	e.Encoders = append(e.Encoders, enc)
	return enc, nil
}

// ─── Decoder ──────────────────────────────────────────────────────────────────

// Decoder is a mock implementation of [codec.Decoder]. Every decoded sample
// carries the value of the first packet byte divided by 256, so tests can tell
// decoded audio from silence.
type Decoder struct {
	engine *Engine
	format codec.StreamFormat

	pending []byte
	hasPkt  bool
	eos     bool

	// Params holds the params passed to NewDecoder.
	Params codec.DecoderParams

	// Packets records every packet submitted, copied.
	Packets [][]byte

	// CallCountReceiveFrame records how many times ReceiveFrame was called.
	CallCountReceiveFrame int

	// Closed reports whether Close was called.
	Closed bool
}

// SendPacket implements [codec.Decoder]. A nil packet signals end of stream.
func (d *Decoder) SendPacket(pkt []byte) error {
	d.engine.mu.Lock()
	defer d.engine.mu.Unlock()
	if d.engine.SendPacketError != nil {
		return d.engine.SendPacketError
	}
	if pkt == nil {
		d.eos = true
		return nil
	}
	if d.eos {
		return codec.ErrEndOfStream
	}
	d.pending = append(d.pending[:0], pkt...)
	d.hasPkt = true
	d.Packets = append(d.Packets, append([]byte(nil), pkt...))
	return nil
}

// ReceiveFrame implements [codec.Decoder].
func (d *Decoder) ReceiveFrame() (*codec.Frame, error) {
	d.engine.mu.Lock()
	defer d.engine.mu.Unlock()
	d.CallCountReceiveFrame++
	if d.engine.ReceiveFrameError != nil {
		return nil, d.engine.ReceiveFrameError
	}
	if !d.hasPkt {
		if d.eos {
			return nil, codec.ErrEndOfStream
		}
		return nil, codec.ErrWouldBlock
	}
	d.hasPkt = false

	samples := 1024
	if d.engine.DecodeSamples != nil {
		samples = d.engine.DecodeSamples(d.pending)
	}
	var level float32
	if len(d.pending) > 0 {
		level = float32(d.pending[0]) / 256
	}
	f := codec.NewFrame(d.format, samples)
	fill(f, level)
	return f, nil
}

// Close implements [codec.Decoder].
func (d *Decoder) Close() error {
	d.engine.mu.Lock()
	defer d.engine.mu.Unlock()
	d.Closed = true
	return nil
}

func fill(f *codec.Frame, level float32) {
	for _, plane := range f.Planes {
		switch f.Format {
		case codec.FormatS16:
			v := codec.FloatToInt16(level)
			for i := 0; i < len(plane)/2; i++ {
				codec.PutInt16(plane, i, v)
			}
		default:
			for i := 0; i < len(plane)/4; i++ {
				codec.PutFloat32(plane, i, level)
			}
		}
	}
}

// ─── Encoder ──────────────────────────────────────────────────────────────────

// Encoder is a mock implementation of [codec.Encoder]. Each submitted frame
// yields one packet: the ASCII tag "MOCK" followed by the frame's sample count
// as a big-endian uint32.
type Encoder struct {
	engine    *Engine
	frameSize int
	extra     []byte
	queue     [][]byte
	eos       bool

	// Params holds the params passed to NewEncoder.
	Params codec.EncoderParams

	// Frames records a deep copy of every submitted frame.
	Frames []*codec.Frame

	// EOSCount records how many end-of-stream signals were submitted.
	EOSCount int

	// Closed reports whether Close was called.
	Closed bool
}

// FrameSize implements [codec.Encoder].
func (e *Encoder) FrameSize() int { return e.frameSize }

// ExtraData implements [codec.Encoder].
func (e *Encoder) ExtraData() []byte { return e.extra }

// SendFrame implements [codec.Encoder]. A nil frame signals end of stream;
// further submissions return [codec.ErrEndOfStream].
func (e *Encoder) SendFrame(f *codec.Frame) error {
	e.engine.mu.Lock()
	defer e.engine.mu.Unlock()
	if e.engine.SendFrameError != nil {
		return e.engine.SendFrameError
	}
	if e.eos {
		return codec.ErrEndOfStream
	}
	if f == nil {
		e.eos = true
		e.EOSCount++
		return nil
	}
	cp := *f
	cp.Planes = make([][]byte, len(f.Planes))
	for i, p := range f.Planes {
		cp.Planes[i] = append([]byte(nil), p...)
	}
	e.Frames = append(e.Frames, &cp)

	pkt := make([]byte, 8)
	copy(pkt, "MOCK")
	binary.BigEndian.PutUint32(pkt[4:], uint32(f.Samples))
	e.queue = append(e.queue, pkt)
	return nil
}

// ReceivePacket implements [codec.Encoder].
func (e *Encoder) ReceivePacket() ([]byte, error) {
	e.engine.mu.Lock()
	defer e.engine.mu.Unlock()
	if e.engine.ReceivePacketError != nil {
		return nil, e.engine.ReceivePacketError
	}
	if len(e.queue) == 0 {
		if e.eos {
			return nil, codec.ErrEndOfStream
		}
		return nil, codec.ErrWouldBlock
	}
	pkt := e.queue[0]
	e.queue = e.queue[1:]
	return pkt, nil
}

// Close implements [codec.Encoder].
func (e *Encoder) Close() error {
	e.engine.mu.Lock()
	defer e.engine.mu.Unlock()
	e.Closed = true
	return nil
}

// SubmittedFrames returns the number of frames submitted so far.
func (e *Encoder) SubmittedFrames() int {
	e.engine.mu.Lock()
	defer e.engine.mu.Unlock()
	return len(e.Frames)
}
