package opus

import (
	"errors"
	"math"
	"testing"

	"github.com/MrWong99/framegate/pkg/codec"
)

// ─── compile-time interface assertions ───────────────────────────────────────

var _ codec.Engine = (*Engine)(nil)
var _ codec.Encoder = (*encoder)(nil)
var _ codec.Decoder = (*decoder)(nil)

// silenceFrame is a 20 ms CELT fullband silence packet.
var silenceFrame = []byte{0xF8, 0xFF, 0xFE}

// ─── test helpers ─────────────────────────────────────────────────────────────

func sineFrame(rate, channels, samples int) *codec.Frame {
	layout := codec.ChannelLayout(channels)
	f := codec.NewFrame(codec.StreamFormat{SampleRate: rate, Layout: layout, Format: codec.FormatS16}, samples)
	for i := range samples {
		v := codec.FloatToInt16(float32(0.5 * math.Sin(2*math.Pi*440*float64(i)/float64(rate))))
		for c := range channels {
			codec.PutInt16(f.Planes[0], i*channels+c, v)
		}
	}
	return f
}

func newEncoder(t *testing.T, rate, channels int) codec.Encoder {
	t.Helper()
	enc, err := (&Engine{}).NewEncoder(codec.EncoderParams{
		SampleRate: rate,
		Layout:     codec.ChannelLayout(channels),
		Format:     codec.FormatS16,
	})
	if err != nil {
		t.Fatalf("NewEncoder: %v", err)
	}
	t.Cleanup(func() { _ = enc.Close() })
	return enc
}

// ─── Engine tests ─────────────────────────────────────────────────────────────

func TestFrameSize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		rate int
		want int
	}{
		{8000, 160},
		{16000, 320},
		{24000, 480},
		{48000, 960},
	}
	for _, tc := range tests {
		if got := FrameSize(tc.rate); got != tc.want {
			t.Errorf("FrameSize(%d) = %d, want %d", tc.rate, got, tc.want)
		}
	}
}

func TestEngine_Formats(t *testing.T) {
	t.Parallel()

	e := &Engine{}
	if e.Name() != "opus" {
		t.Errorf("Name = %q, want opus", e.Name())
	}
	if e.DecoderFormat() != codec.FormatS16 {
		t.Errorf("DecoderFormat = %s, want s16", e.DecoderFormat())
	}
	if got := e.EncoderFormats(); len(got) != 1 || got[0] != codec.FormatS16 {
		t.Errorf("EncoderFormats = %v, want [s16]", got)
	}
}

func TestEngine_NewEncoderRejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		p    codec.EncoderParams
	}{
		{"rate", codec.EncoderParams{SampleRate: 44100, Layout: codec.LayoutMono, Format: codec.FormatS16}},
		{"format", codec.EncoderParams{SampleRate: 48000, Layout: codec.LayoutMono, Format: codec.FormatFloat}},
		{"channels", codec.EncoderParams{SampleRate: 48000, Layout: 3, Format: codec.FormatS16}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := (&Engine{}).NewEncoder(tc.p)
			if !errors.Is(err, codec.ErrUnsupported) {
				t.Fatalf("err = %v, want ErrUnsupported", err)
			}
		})
	}
}

// ─── Encoder tests ────────────────────────────────────────────────────────────

func TestEncoder_RoundTrip(t *testing.T) {
	t.Parallel()

	enc := newEncoder(t, 48000, 2)
	if enc.FrameSize() != 960 {
		t.Fatalf("FrameSize = %d, want 960", enc.FrameSize())
	}
	if _, err := enc.ReceivePacket(); !errors.Is(err, codec.ErrWouldBlock) {
		t.Fatalf("ReceivePacket before input: err = %v, want ErrWouldBlock", err)
	}

	dec, err := (&Engine{}).NewDecoder(codec.DecoderParams{ExtraData: enc.ExtraData()})
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}
	defer dec.Close()

	for range 3 {
		if err := enc.SendFrame(sineFrame(48000, 2, 960)); err != nil {
			t.Fatalf("SendFrame: %v", err)
		}
		pkt, err := enc.ReceivePacket()
		if err != nil {
			t.Fatalf("ReceivePacket: %v", err)
		}
		if len(pkt) == 0 {
			t.Fatal("empty packet")
		}
		if err := dec.SendPacket(pkt); err != nil {
			t.Fatalf("SendPacket: %v", err)
		}
		f, err := dec.ReceiveFrame()
		if err != nil {
			t.Fatalf("ReceiveFrame: %v", err)
		}
		if f.Samples != 960 || f.Layout != codec.LayoutStereo || f.SampleRate != 48000 {
			t.Fatalf("frame = %d samples %s, want 960 samples 48000Hz stereo s16", f.Samples, f.StreamFormat())
		}
	}
}

func TestEncoder_ShortFinalFrame(t *testing.T) {
	t.Parallel()

	enc := newEncoder(t, 16000, 1)
	if err := enc.SendFrame(sineFrame(16000, 1, 100)); err != nil {
		t.Fatalf("SendFrame: %v", err)
	}
	if err := enc.SendFrame(nil); err != nil {
		t.Fatalf("SendFrame(nil): %v", err)
	}
	if _, err := enc.ReceivePacket(); err != nil {
		t.Fatalf("ReceivePacket: %v", err)
	}
	if _, err := enc.ReceivePacket(); !errors.Is(err, codec.ErrEndOfStream) {
		t.Fatalf("ReceivePacket after drain: err = %v, want ErrEndOfStream", err)
	}
	if err := enc.SendFrame(sineFrame(16000, 1, 320)); !errors.Is(err, codec.ErrEndOfStream) {
		t.Fatalf("SendFrame after EOS: err = %v, want ErrEndOfStream", err)
	}
}

func TestEncoder_RejectsOversizedFrame(t *testing.T) {
	t.Parallel()

	enc := newEncoder(t, 8000, 1)
	if err := enc.SendFrame(sineFrame(8000, 1, 161)); err == nil {
		t.Fatal("expected error for frame longer than 20 ms")
	}
}

// ─── Decoder tests ────────────────────────────────────────────────────────────

func TestDecoder_Defaults(t *testing.T) {
	t.Parallel()

	dec, err := (&Engine{}).NewDecoder(codec.DecoderParams{})
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}
	defer dec.Close()

	if _, err := dec.ReceiveFrame(); !errors.Is(err, codec.ErrWouldBlock) {
		t.Fatalf("ReceiveFrame before input: err = %v, want ErrWouldBlock", err)
	}
	if err := dec.SendPacket(silenceFrame); err != nil {
		t.Fatalf("SendPacket: %v", err)
	}
	f, err := dec.ReceiveFrame()
	if err != nil {
		t.Fatalf("ReceiveFrame: %v", err)
	}
	if f.SampleRate != 48000 || f.Layout != codec.LayoutStereo || f.Samples != 960 {
		t.Errorf("frame = %d samples %s, want 960 samples 48000Hz stereo", f.Samples, f.StreamFormat())
	}
	if len(f.Planes) != 1 || len(f.Planes[0]) != 960*2*2 {
		t.Errorf("plane bytes = %d, want %d", len(f.Planes[0]), 960*2*2)
	}

	if err := dec.SendPacket(nil); err != nil {
		t.Fatalf("SendPacket(nil): %v", err)
	}
	if _, err := dec.ReceiveFrame(); !errors.Is(err, codec.ErrEndOfStream) {
		t.Fatalf("ReceiveFrame after EOS: err = %v, want ErrEndOfStream", err)
	}
}

func TestDecoder_ParamsOverride(t *testing.T) {
	t.Parallel()

	dec, err := (&Engine{}).NewDecoder(codec.DecoderParams{SampleRate: 16000, Layout: codec.LayoutMono})
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}
	defer dec.Close()

	if err := dec.SendPacket(silenceFrame); err != nil {
		t.Fatalf("SendPacket: %v", err)
	}
	f, err := dec.ReceiveFrame()
	if err != nil {
		t.Fatalf("ReceiveFrame: %v", err)
	}
	if f.SampleRate != 16000 || f.Layout != codec.LayoutMono || f.Samples != 320 {
		t.Errorf("frame = %d samples %s, want 320 samples 16000Hz mono", f.Samples, f.StreamFormat())
	}
}

func TestDecoder_RejectsRate(t *testing.T) {
	t.Parallel()

	_, err := (&Engine{}).NewDecoder(codec.DecoderParams{SampleRate: 44100})
	if !errors.Is(err, codec.ErrUnsupported) {
		t.Fatalf("err = %v, want ErrUnsupported", err)
	}
}

// ─── OpusHead tests ───────────────────────────────────────────────────────────

func TestHead(t *testing.T) {
	t.Parallel()

	h := Head{Layout: codec.LayoutMono, PreSkip: 312, InputRate: 16000}
	b := h.Marshal()
	if len(b) != 19 || string(b[:8]) != "OpusHead" || b[8] != 1 || b[9] != 1 {
		t.Fatalf("Marshal = % x", b)
	}
	got, err := ParseHead(b)
	if err != nil {
		t.Fatalf("ParseHead: %v", err)
	}
	if got != h {
		t.Errorf("ParseHead = %+v, want %+v", got, h)
	}

	bad := []struct {
		name string
		b    []byte
	}{
		{"short", b[:10]},
		{"magic", append([]byte("OpusTags"), b[8:]...)},
		{"family", append(append([]byte(nil), b[:18]...), 1)},
		{"channels", append(append(append([]byte(nil), b[:9]...), 3), b[10:]...)},
	}
	for _, tc := range bad {
		if _, err := ParseHead(tc.b); !errors.Is(err, ErrInvalidHead) {
			t.Errorf("%s: err = %v, want ErrInvalidHead", tc.name, err)
		}
	}
}

func TestDecoder_LayoutFromHead(t *testing.T) {
	t.Parallel()

	head := Head{Layout: codec.LayoutMono, PreSkip: 312, InputRate: 48000}.Marshal()
	dec, err := (&Engine{}).NewDecoder(codec.DecoderParams{ExtraData: head})
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}
	defer dec.Close()

	if err := dec.SendPacket(silenceFrame); err != nil {
		t.Fatalf("SendPacket: %v", err)
	}
	f, err := dec.ReceiveFrame()
	if err != nil {
		t.Fatalf("ReceiveFrame: %v", err)
	}
	if f.Layout != codec.LayoutMono {
		t.Errorf("layout = %s, want mono", f.Layout)
	}
}
