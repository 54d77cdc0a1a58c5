package g722

import (
	"errors"
	"math"
	"testing"

	"github.com/MrWong99/framegate/pkg/codec"
)

var _ codec.Engine = Engine{}

func toneFrame(rate, samples int) *codec.Frame {
	f := codec.NewFrame(codec.StreamFormat{SampleRate: rate, Layout: codec.LayoutMono, Format: codec.FormatS16}, samples)
	for i := range samples {
		v := codec.FloatToInt16(float32(0.4 * math.Sin(2*math.Pi*500*float64(i)/float64(rate))))
		codec.PutInt16(f.Planes[0], i, v)
	}
	return f
}

func TestEngine_NewEncoderRejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		p    codec.EncoderParams
	}{
		{"rate", codec.EncoderParams{SampleRate: 48000, Layout: codec.LayoutMono, Format: codec.FormatS16}},
		{"stereo", codec.EncoderParams{SampleRate: 16000, Layout: codec.LayoutStereo, Format: codec.FormatS16}},
		{"format", codec.EncoderParams{SampleRate: 16000, Layout: codec.LayoutMono, Format: codec.FormatFloatPlanar}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := (Engine{}).NewEncoder(tc.p); !errors.Is(err, codec.ErrUnsupported) {
				t.Fatalf("err = %v, want ErrUnsupported", err)
			}
		})
	}
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		rate      int
		frameSize int
		pktBytes  int
	}{
		// 3 bits per sample at 16 kHz, 6 bits per sample at 8 kHz.
		{16000, 320, 120},
		{8000, 160, 120},
	}
	for _, tc := range tests {
		t.Run(codec.StreamFormat{SampleRate: tc.rate, Layout: codec.LayoutMono, Format: codec.FormatS16}.String(), func(t *testing.T) {
			t.Parallel()

			enc, err := (Engine{}).NewEncoder(codec.EncoderParams{
				SampleRate: tc.rate,
				Layout:     codec.LayoutMono,
				Format:     codec.FormatS16,
			})
			if err != nil {
				t.Fatalf("NewEncoder: %v", err)
			}
			defer enc.Close()
			if enc.FrameSize() != tc.frameSize {
				t.Fatalf("FrameSize = %d, want %d", enc.FrameSize(), tc.frameSize)
			}
			if len(enc.ExtraData()) != 0 {
				t.Errorf("ExtraData = % x, want empty", enc.ExtraData())
			}

			dec, err := (Engine{}).NewDecoder(codec.DecoderParams{SampleRate: tc.rate})
			if err != nil {
				t.Fatalf("NewDecoder: %v", err)
			}
			defer dec.Close()

			if err := enc.SendFrame(toneFrame(tc.rate, tc.frameSize)); err != nil {
				t.Fatalf("SendFrame: %v", err)
			}
			pkt, err := enc.ReceivePacket()
			if err != nil {
				t.Fatalf("ReceivePacket: %v", err)
			}
			if len(pkt) != tc.pktBytes {
				t.Errorf("packet = %d bytes, want %d", len(pkt), tc.pktBytes)
			}
			if _, err := enc.ReceivePacket(); !errors.Is(err, codec.ErrWouldBlock) {
				t.Errorf("second ReceivePacket: err = %v, want ErrWouldBlock", err)
			}

			if err := dec.SendPacket(pkt); err != nil {
				t.Fatalf("SendPacket: %v", err)
			}
			f, err := dec.ReceiveFrame()
			if err != nil {
				t.Fatalf("ReceiveFrame: %v", err)
			}
			if f.Samples != tc.frameSize || f.SampleRate != tc.rate || f.Layout != codec.LayoutMono {
				t.Errorf("frame = %d samples %s, want %d samples", f.Samples, f.StreamFormat(), tc.frameSize)
			}
		})
	}
}

func TestEncoder_EndOfStream(t *testing.T) {
	t.Parallel()

	enc, err := (Engine{}).NewEncoder(codec.EncoderParams{SampleRate: 16000, Layout: codec.LayoutMono, Format: codec.FormatS16})
	if err != nil {
		t.Fatalf("NewEncoder: %v", err)
	}
	defer enc.Close()

	if err := enc.SendFrame(toneFrame(16000, 64)); err != nil {
		t.Fatalf("SendFrame: %v", err)
	}
	if err := enc.SendFrame(nil); err != nil {
		t.Fatalf("SendFrame(nil): %v", err)
	}
	if err := enc.SendFrame(toneFrame(16000, 64)); !errors.Is(err, codec.ErrEndOfStream) {
		t.Fatalf("SendFrame after EOS: err = %v, want ErrEndOfStream", err)
	}
	if _, err := enc.ReceivePacket(); err != nil {
		t.Fatalf("ReceivePacket: %v", err)
	}
	if _, err := enc.ReceivePacket(); !errors.Is(err, codec.ErrEndOfStream) {
		t.Fatalf("ReceivePacket after drain: err = %v, want ErrEndOfStream", err)
	}
	if err := enc.SendFrame(toneFrame(16000, 321)); !errors.Is(err, codec.ErrEndOfStream) {
		t.Fatalf("err = %v, want ErrEndOfStream", err)
	}
}

func TestDecoder_Defaults(t *testing.T) {
	t.Parallel()

	dec, err := (Engine{}).NewDecoder(codec.DecoderParams{})
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}
	defer dec.Close()

	if _, err := dec.ReceiveFrame(); !errors.Is(err, codec.ErrWouldBlock) {
		t.Fatalf("err = %v, want ErrWouldBlock", err)
	}
	if err := dec.SendPacket(make([]byte, 120)); err != nil {
		t.Fatalf("SendPacket: %v", err)
	}
	f, err := dec.ReceiveFrame()
	if err != nil {
		t.Fatalf("ReceiveFrame: %v", err)
	}
	if f.SampleRate != 16000 || f.Samples != 320 {
		t.Errorf("frame = %d samples at %d Hz, want 320 at 16000", f.Samples, f.SampleRate)
	}

	if _, err := (Engine{}).NewDecoder(codec.DecoderParams{Layout: codec.LayoutStereo}); !errors.Is(err, codec.ErrUnsupported) {
		t.Errorf("stereo decoder: err = %v, want ErrUnsupported", err)
	}
}
