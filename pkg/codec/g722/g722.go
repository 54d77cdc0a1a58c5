// Package g722 implements [codec.Engine] for ITU-T G.722 using the pure Go
// gotranspile/g722 port.
//
// Streams are mono S16 at 16 kHz (wideband) or 8 kHz, coded at 48 kbit/s with
// packed codewords. G.722 has no stream descriptor, so encoder init data is
// empty and decoders take the rate from their params, defaulting to 16 kHz.
package g722

import (
	"fmt"

	g722 "github.com/gotranspile/g722"

	"github.com/MrWong99/framegate/pkg/codec"
)

const (
	// Name is the registry key of the engine.
	Name = "g722"

	frameSizeMs = 20
	defaultRate = 16000
)

// FrameSize returns the number of samples in one 20 ms frame at rate.
func FrameSize(rate int) int { return rate * frameSizeMs / 1000 }

// Engine is the G.722 [codec.Engine]. The zero value is ready to use.
type Engine struct{}

// Name implements [codec.Engine].
func (Engine) Name() string { return Name }

// DecoderFormat implements [codec.Engine].
func (Engine) DecoderFormat() codec.SampleFormat { return codec.FormatS16 }

// EncoderFormats implements [codec.Engine].
func (Engine) EncoderFormats() []codec.SampleFormat {
	return []codec.SampleFormat{codec.FormatS16}
}

func checkStream(rate int, layout codec.ChannelLayout) error {
	if rate != 8000 && rate != 16000 {
		return fmt.Errorf("g722: %w: sample rate %d", codec.ErrUnsupported, rate)
	}
	if layout != codec.LayoutMono {
		return fmt.Errorf("g722: %w: layout %s", codec.ErrUnsupported, layout)
	}
	return nil
}

// NewEncoder implements [codec.Engine]. BitRate and Quality are ignored.
func (Engine) NewEncoder(p codec.EncoderParams) (codec.Encoder, error) {
	if err := checkStream(p.SampleRate, p.Layout); err != nil {
		return nil, err
	}
	if p.Format != codec.FormatS16 {
		return nil, fmt.Errorf("g722: %w: sample format %s", codec.ErrUnsupported, p.Format)
	}
	enc := g722.NewEncoder(g722.Rate48000, g722.FlagPacked)
	if p.SampleRate == 8000 {
		enc = g722.NewEncoder(g722.Rate48000, g722.FlagSampleRate8000|g722.FlagPacked)
	}
	codec.Logger(p.Logger).Debug("g722 encoder created", "sample_rate", p.SampleRate)
	return &encoder{enc: enc, frameSize: FrameSize(p.SampleRate)}, nil
}

// NewDecoder implements [codec.Engine].
func (Engine) NewDecoder(p codec.DecoderParams) (codec.Decoder, error) {
	rate, layout := p.SampleRate, p.Layout
	if rate == 0 {
		rate = defaultRate
	}
	if layout == 0 {
		layout = codec.LayoutMono
	}
	if err := checkStream(rate, layout); err != nil {
		return nil, err
	}
	dec := g722.NewDecoder(g722.Rate48000, g722.FlagPacked)
	if rate == 8000 {
		dec = g722.NewDecoder(g722.Rate48000, g722.FlagSampleRate8000|g722.FlagPacked)
	}
	codec.Logger(p.Logger).Debug("g722 decoder created", "sample_rate", rate)
	return &decoder{dec: dec, rate: rate}, nil
}

// ─── Encoder ──────────────────────────────────────────────────────────────────

type encoder struct {
	enc       *g722.Encoder
	frameSize int
	pcm       []int16
	queue     [][]byte
	eos       bool
}

func (e *encoder) FrameSize() int { return e.frameSize }

func (e *encoder) SendFrame(f *codec.Frame) error {
	if e.eos {
		return codec.ErrEndOfStream
	}
	if f == nil {
		e.eos = true
		return nil
	}
	if f.Format != codec.FormatS16 || f.Layout != codec.LayoutMono || len(f.Planes) != 1 {
		return fmt.Errorf("g722: %w: frame %s", codec.ErrUnsupported, f.StreamFormat())
	}
	if f.Samples > e.frameSize {
		return fmt.Errorf("g722: frame of %d samples exceeds %d", f.Samples, e.frameSize)
	}

	e.pcm = e.pcm[:0]
	for i := range f.Samples {
		e.pcm = append(e.pcm, codec.Int16At(f.Planes[0], i))
	}
	// At most 6 bits per input sample.
	buf := make([]byte, f.Samples)
	n := e.enc.Encode(buf, e.pcm)
	if n > 0 {
		e.queue = append(e.queue, buf[:n])
	}
	return nil
}

func (e *encoder) ReceivePacket() ([]byte, error) {
	if len(e.queue) == 0 {
		if e.eos {
			return nil, codec.ErrEndOfStream
		}
		return nil, codec.ErrWouldBlock
	}
	pkt := e.queue[0]
	e.queue[0] = nil
	e.queue = e.queue[1:]
	return pkt, nil
}

func (*encoder) ExtraData() []byte { return nil }

func (e *encoder) Close() error {
	e.queue = nil
	e.enc = nil
	return nil
}

// ─── Decoder ──────────────────────────────────────────────────────────────────

type decoder struct {
	dec     *g722.Decoder
	rate    int
	pending []byte
	pcm     []int16
	eos     bool
}

func (d *decoder) SendPacket(pkt []byte) error {
	if pkt == nil {
		d.eos = true
		return nil
	}
	if d.eos {
		return codec.ErrEndOfStream
	}
	d.pending = append(d.pending[:0], pkt...)
	return nil
}

func (d *decoder) ReceiveFrame() (*codec.Frame, error) {
	if len(d.pending) == 0 {
		if d.eos {
			return nil, codec.ErrEndOfStream
		}
		return nil, codec.ErrWouldBlock
	}
	// At least 3 bits per output sample.
	if need := len(d.pending)*8/3 + 1; cap(d.pcm) < need {
		d.pcm = make([]int16, need)
	}
	n := d.dec.Decode(d.pcm[:cap(d.pcm)], d.pending)
	d.pending = d.pending[:0]
	return &codec.Frame{
		Planes:     [][]byte{codec.Int16sToBytes(d.pcm[:n])},
		Samples:    n,
		SampleRate: d.rate,
		Layout:     codec.LayoutMono,
		Format:     codec.FormatS16,
	}, nil
}

func (d *decoder) Close() error {
	d.pending = nil
	d.dec = nil
	return nil
}
