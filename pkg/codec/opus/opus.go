// Package opus implements [codec.Engine] on top of libopus via gopus.
//
// Frames are 20 ms of interleaved signed 16-bit PCM. The encoder pads a short
// final frame with silence, since Opus only codes fixed frame durations.
// Encoder init data is an OpusHead identification header (RFC 7845).
package opus

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"

	"layeh.com/gopus"

	"github.com/MrWong99/framegate/pkg/codec"
)

const (
	// Name is the registry key of the engine.
	Name = "opus"

	frameSizeMs = 20

	// maxPacketBytes is the upper bound for a single Opus packet (RFC 6716).
	maxPacketBytes = 4000

	// maxFrameMs is the longest frame duration a decoder must accept.
	maxFrameMs = 120

	// defaultRate and defaultLayout are used by decoders opened without stream
	// parameters.
	defaultRate   = 48000
	defaultLayout = codec.LayoutStereo

	// preSkip is the encoder lookahead at 48 kHz written to OpusHead.
	preSkip = 312
)

// FrameSize returns the number of samples per channel in one 20 ms frame at
// rate.
func FrameSize(rate int) int { return rate * frameSizeMs / 1000 }

func supportedRate(rate int) bool {
	switch rate {
	case 8000, 12000, 16000, 24000, 48000:
		return true
	}
	return false
}

// Engine is the Opus [codec.Engine]. The zero value is ready to use.
type Engine struct {
	// Application selects the encoder tuning. Zero means gopus.Audio.
	Application gopus.Application
}

// Name implements [codec.Engine].
func (*Engine) Name() string { return Name }

// DecoderFormat implements [codec.Engine].
func (*Engine) DecoderFormat() codec.SampleFormat { return codec.FormatS16 }

// EncoderFormats implements [codec.Engine].
func (*Engine) EncoderFormats() []codec.SampleFormat {
	return []codec.SampleFormat{codec.FormatS16}
}

// NewEncoder implements [codec.Engine].
func (e *Engine) NewEncoder(p codec.EncoderParams) (codec.Encoder, error) {
	if !supportedRate(p.SampleRate) {
		return nil, fmt.Errorf("opus: %w: sample rate %d", codec.ErrUnsupported, p.SampleRate)
	}
	if p.Format != codec.FormatS16 {
		return nil, fmt.Errorf("opus: %w: sample format %s", codec.ErrUnsupported, p.Format)
	}
	ch := p.Layout.Channels()
	if ch != 1 && ch != 2 {
		return nil, fmt.Errorf("opus: %w: %d channels", codec.ErrUnsupported, ch)
	}
	app := e.Application
	if app == 0 {
		app = gopus.Audio
	}
	enc, err := gopus.NewEncoder(p.SampleRate, ch, app)
	if err != nil {
		return nil, fmt.Errorf("opus: create encoder: %w", err)
	}
	if p.BitRate > 0 {
		enc.SetBitrate(int(p.BitRate))
	}
	log := codec.Logger(p.Logger)
	log.Debug("opus encoder created", "sample_rate", p.SampleRate, "channels", ch, "bitrate", p.BitRate)
	return &encoder{
		enc:       enc,
		rate:      p.SampleRate,
		channels:  ch,
		frameSize: FrameSize(p.SampleRate),
		log:       log,
	}, nil
}

// NewDecoder implements [codec.Engine]. The output rate and layout come from
// the params, else from an OpusHead in ExtraData, else 48 kHz stereo.
func (*Engine) NewDecoder(p codec.DecoderParams) (codec.Decoder, error) {
	rate, layout := p.SampleRate, p.Layout
	if head, err := ParseHead(p.ExtraData); err == nil {
		if layout == 0 {
			layout = head.Layout
		}
	}
	if rate == 0 {
		rate = defaultRate
	}
	if layout == 0 {
		layout = defaultLayout
	}
	if !supportedRate(rate) {
		return nil, fmt.Errorf("opus: %w: sample rate %d", codec.ErrUnsupported, rate)
	}
	ch := layout.Channels()
	if ch != 1 && ch != 2 {
		return nil, fmt.Errorf("opus: %w: %d channels", codec.ErrUnsupported, ch)
	}
	dec, err := gopus.NewDecoder(rate, ch)
	if err != nil {
		return nil, fmt.Errorf("opus: create decoder: %w", err)
	}
	codec.Logger(p.Logger).Debug("opus decoder created", "sample_rate", rate, "channels", ch)
	return &decoder{
		dec:    dec,
		format: codec.StreamFormat{SampleRate: rate, Layout: layout, Format: codec.FormatS16},
	}, nil
}

// ─── Encoder ──────────────────────────────────────────────────────────────────

// encoder wraps a gopus Opus encoder for one stream. Packets are produced
// synchronously by SendFrame and queued until received.
type encoder struct {
	enc       *gopus.Encoder
	rate      int
	channels  int
	frameSize int
	queue     [][]byte
	eos       bool
	log       *slog.Logger
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
	if f.Format != codec.FormatS16 || f.Layout.Channels() != e.channels || len(f.Planes) != 1 {
		return fmt.Errorf("opus: %w: frame %s", codec.ErrUnsupported, f.StreamFormat())
	}
	if f.Samples > e.frameSize {
		return fmt.Errorf("opus: frame of %d samples exceeds %d", f.Samples, e.frameSize)
	}

	pcm := make([]int16, e.frameSize*e.channels)
	n := f.Samples * e.channels
	for i := range n {
		pcm[i] = codec.Int16At(f.Planes[0], i)
	}
	if f.Samples < e.frameSize {
		e.log.Debug("opus: padding short frame", "samples", f.Samples, "frame_size", e.frameSize)
	}

	pkt, err := e.enc.Encode(pcm, e.frameSize, maxPacketBytes)
	if err != nil {
		return fmt.Errorf("opus: encode: %w", err)
	}
	e.queue = append(e.queue, pkt)
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

func (e *encoder) ExtraData() []byte {
	return Head{Layout: codec.ChannelLayout(e.channels), InputRate: e.rate, PreSkip: preSkip}.Marshal()
}

func (e *encoder) Close() error {
	e.queue = nil
	e.enc = nil
	return nil
}

// ─── Decoder ──────────────────────────────────────────────────────────────────

// decoder wraps a gopus Opus decoder. Each stream gets its own decoder to
// keep decoder state across consecutive packets.
type decoder struct {
	dec     *gopus.Decoder
	format  codec.StreamFormat
	pending []byte
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
	pkt := d.pending
	d.pending = d.pending[:0]

	maxSamples := d.format.SampleRate * maxFrameMs / 1000
	pcm, err := d.dec.Decode(pkt, maxSamples, false)
	if err != nil {
		return nil, fmt.Errorf("opus: decode: %w", err)
	}
	ch := d.format.Layout.Channels()
	return &codec.Frame{
		Planes:     [][]byte{codec.Int16sToBytes(pcm)},
		Samples:    len(pcm) / ch,
		SampleRate: d.format.SampleRate,
		Layout:     d.format.Layout,
		Format:     codec.FormatS16,
	}, nil
}

func (d *decoder) Close() error {
	d.pending = nil
	d.dec = nil
	return nil
}

// ─── OpusHead ─────────────────────────────────────────────────────────────────

// ErrInvalidHead is returned by [ParseHead] for data that is not a mapping
// family 0 OpusHead.
var ErrInvalidHead = errors.New("opus: invalid OpusHead")

const (
	headMagic = "OpusHead"
	headSize  = 19
)

// Head is the OpusHead identification header for mapping family 0.
type Head struct {
	Layout    codec.ChannelLayout
	PreSkip   int
	InputRate int
	Gain      int16
}

// Marshal encodes h as a 19-byte OpusHead.
func (h Head) Marshal() []byte {
	b := make([]byte, headSize)
	copy(b, headMagic)
	b[8] = 1
	b[9] = byte(h.Layout.Channels())
	binary.LittleEndian.PutUint16(b[10:], uint16(h.PreSkip))
	binary.LittleEndian.PutUint32(b[12:], uint32(h.InputRate))
	binary.LittleEndian.PutUint16(b[16:], uint16(h.Gain))
	b[18] = 0
	return b
}

// ParseHead decodes a mapping family 0 OpusHead with one or two channels.
func ParseHead(b []byte) (Head, error) {
	if len(b) < headSize || string(b[:8]) != headMagic {
		return Head{}, ErrInvalidHead
	}
	if b[8]>>4 != 0 {
		return Head{}, fmt.Errorf("%w: version %d", ErrInvalidHead, b[8])
	}
	if b[18] != 0 {
		return Head{}, fmt.Errorf("%w: mapping family %d", ErrInvalidHead, b[18])
	}
	layout, err := codec.LayoutFromChannels(int(b[9]))
	if err != nil {
		return Head{}, fmt.Errorf("%w: %v", ErrInvalidHead, err)
	}
	return Head{
		Layout:    layout,
		PreSkip:   int(binary.LittleEndian.Uint16(b[10:])),
		InputRate: int(binary.LittleEndian.Uint32(b[12:])),
		Gain:      int16(binary.LittleEndian.Uint16(b[16:])),
	}, nil
}
