package session_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/MrWong99/framegate/pkg/codec"
	"github.com/MrWong99/framegate/pkg/codec/mock"
	"github.com/MrWong99/framegate/pkg/session"
)

func openEncoder(t *testing.T, eng *mock.Engine, channels int) *session.EncoderSession {
	t.Helper()
	s, err := session.OpenEncoder(session.EncoderOptions{
		Engine:     eng,
		SampleRate: 44100,
		Channels:   channels,
		Format:     codec.FormatFloatPlanar,
	})
	if err != nil {
		t.Fatalf("OpenEncoder: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// fltp returns planar float planes holding n samples of value v per channel.
func fltp(channels, n int, v float32) [][]byte {
	f := codec.NewFrame(codec.StreamFormat{SampleRate: 44100, Layout: codec.ChannelLayout(channels), Format: codec.FormatFloatPlanar}, n)
	for _, p := range f.Planes {
		for i := range n {
			codec.PutFloat32(p, i, v)
		}
	}
	return f.Planes
}

func TestOpenEncoder_Validation(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		opts session.EncoderOptions
		want error
	}{
		{
			name: "no engine",
			opts: session.EncoderOptions{Channels: 1, Format: codec.FormatFloatPlanar},
			want: session.ErrCodecNotFound,
		},
		{
			name: "three channels",
			opts: session.EncoderOptions{Engine: &mock.Engine{}, Channels: 3, Format: codec.FormatFloatPlanar},
			want: session.ErrOutputChannelsUnsupported,
		},
		{
			name: "format not accepted by engine",
			opts: session.EncoderOptions{Engine: &mock.Engine{}, Channels: 2, Format: codec.FormatS16},
			want: session.ErrOutputFormatUnsupported,
		},
		{
			name: "engine refuses to open",
			opts: session.EncoderOptions{Engine: &mock.Engine{NewEncoderError: errors.New("no such profile")}, Channels: 2, Format: codec.FormatFloatPlanar},
			want: session.ErrCodecOpenFail,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			s, err := session.OpenEncoder(tc.opts)
			if !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
			if s != nil {
				t.Error("session returned alongside error")
			}
		})
	}
}

func TestOpenEncoder_RollbackOnBadFrameSize(t *testing.T) {
	t.Parallel()
	eng := &mock.Engine{FrameSizeValue: -1}
	_, err := session.OpenEncoder(session.EncoderOptions{Engine: eng, SampleRate: 48000, Channels: 1, Format: codec.FormatFloatPlanar})
	if !errors.Is(err, session.ErrCodecOpenFail) {
		t.Fatalf("err = %v, want ErrCodecOpenFail", err)
	}
	if len(eng.Encoders) != 1 || !eng.Encoders[0].Closed {
		t.Error("engine encoder not released on failed open")
	}
}

func TestEncodeSamples_OneFrame(t *testing.T) {
	t.Parallel()
	eng := &mock.Engine{}
	s := openEncoder(t, eng, 1)

	need, err := s.EncodeSamples(fltp(1, 1024, 0.25), 1024)
	if err != nil {
		t.Fatalf("EncodeSamples: %v", err)
	}
	if need != 0 {
		t.Errorf("need = %d, want 0", need)
	}
	if got := eng.Encoders[0].SubmittedFrames(); got != 1 {
		t.Errorf("submitted %d frames, want 1", got)
	}
	if s.Buffered() != 0 {
		t.Errorf("Buffered = %d, want 0", s.Buffered())
	}
}

func TestEncodeSamples_CarriesRemainder(t *testing.T) {
	t.Parallel()
	eng := &mock.Engine{}
	s := openEncoder(t, eng, 1)

	need, err := s.EncodeSamples(fltp(1, 1025, 0.25), 1025)
	if err != nil {
		t.Fatalf("EncodeSamples: %v", err)
	}
	if need != 0 {
		t.Errorf("need = %d, want 0", need)
	}
	if got := eng.Encoders[0].SubmittedFrames(); got != 1 {
		t.Errorf("submitted %d frames, want 1", got)
	}
	if s.Buffered() != 1 {
		t.Errorf("Buffered = %d, want 1", s.Buffered())
	}

	need, err = s.EncodeSamples(fltp(1, 10, 0.25), 10)
	if err != nil {
		t.Fatalf("EncodeSamples: %v", err)
	}
	if need != 1024-11 {
		t.Errorf("need = %d, want %d", need, 1024-11)
	}
}

func TestEncodeSamples_SeveralFramesInOneCall(t *testing.T) {
	t.Parallel()
	eng := &mock.Engine{}
	s := openEncoder(t, eng, 2)

	if _, err := s.EncodeSamples(fltp(2, 3*1024+7, 0.5), 3*1024+7); err != nil {
		t.Fatalf("EncodeSamples: %v", err)
	}
	if got := eng.Encoders[0].SubmittedFrames(); got != 3 {
		t.Errorf("submitted %d frames, want 3", got)
	}
	if s.Buffered() != 7 {
		t.Errorf("Buffered = %d, want 7", s.Buffered())
	}
}

// TestEncodeSamples_RechunkingInvariance splits the same number of samples
// into random runs and checks the frame count and residual only depend on the
// total.
func TestEncodeSamples_RechunkingInvariance(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewPCG(7, 1024))
	for trial := range 25 {
		eng := &mock.Engine{}
		s := openEncoder(t, eng, 2)

		carry := rng.IntN(1024)
		if _, err := s.EncodeSamples(fltp(2, carry, 0.1), carry); err != nil {
			t.Fatalf("trial %d: carry: %v", trial, err)
		}
		total := rng.IntN(6000)
		for fed := 0; fed < total; {
			n := min(rng.IntN(1500)+1, total-fed)
			if _, err := s.EncodeSamples(fltp(2, n, 0.1), n); err != nil {
				t.Fatalf("trial %d: EncodeSamples(%d): %v", trial, n, err)
			}
			fed += n
		}

		if got, want := eng.Encoders[0].SubmittedFrames(), (total+carry)/1024; got != want {
			t.Errorf("trial %d: submitted %d, want %d", trial, got, want)
		}
		if got, want := s.Buffered(), (total+carry)%1024; got != want {
			t.Errorf("trial %d: residual %d, want %d", trial, got, want)
		}
	}
}

func TestEncodeSamples_BadBuffers(t *testing.T) {
	t.Parallel()
	s := openEncoder(t, &mock.Engine{}, 2)

	if _, err := s.EncodeSamples(fltp(1, 16, 0), 16); !errors.Is(err, session.ErrBufferHandleInvalid) {
		t.Errorf("one plane for planar stereo: err = %v, want ErrBufferHandleInvalid", err)
	}
	if _, err := s.EncodeSamples(fltp(2, 8, 0), 16); !errors.Is(err, session.ErrBufferTooSmall) {
		t.Errorf("short planes: err = %v, want ErrBufferTooSmall", err)
	}
	if _, err := s.EncodeSamples(nil, -1); !errors.Is(err, session.ErrBufferHandleInvalid) {
		t.Errorf("negative count: err = %v, want ErrBufferHandleInvalid", err)
	}
}

func TestEncodeSamples_FailedSubmitIsRetried(t *testing.T) {
	t.Parallel()
	eng := &mock.Engine{SendFrameError: errors.New("queue full")}
	s := openEncoder(t, eng, 1)

	_, err := s.EncodeSamples(fltp(1, 1024, 0.5), 1024)
	if !errors.Is(err, session.ErrEncodeFail) {
		t.Fatalf("err = %v, want ErrEncodeFail", err)
	}

	eng.SendFrameError = nil
	need, err := s.EncodeSamples(nil, 0)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if need != 0 {
		t.Errorf("need = %d, want 0 after the retried submission", need)
	}
	if got := eng.Encoders[0].SubmittedFrames(); got != 1 {
		t.Errorf("submitted %d frames, want 1", got)
	}
}

func TestFlushEncoder_ZeroesPartialTail(t *testing.T) {
	t.Parallel()
	eng := &mock.Engine{}
	s := openEncoder(t, eng, 2)

	// The first frame leaves non-zero data in the whole buffer.
	if _, err := s.EncodeSamples(fltp(2, 1024+100, 0.75), 1024+100); err != nil {
		t.Fatalf("EncodeSamples: %v", err)
	}
	if err := s.FlushEncoder(); err != nil {
		t.Fatalf("FlushEncoder: %v", err)
	}

	enc := eng.Encoders[0]
	if len(enc.Frames) != 2 {
		t.Fatalf("submitted %d frames, want 2", len(enc.Frames))
	}
	last := enc.Frames[1]
	if last.Samples != 100 {
		t.Errorf("final frame Samples = %d, want 100", last.Samples)
	}
	for c, plane := range last.Planes {
		if got := codec.Float32At(plane, 99); got != 0.75 {
			t.Errorf("plane %d sample 99 = %v, want 0.75", c, got)
		}
		for i := 100; i < 1024; i++ {
			if got := codec.Float32At(plane, i); got != 0 {
				t.Fatalf("plane %d sample %d = %v, want 0", c, i, got)
			}
		}
	}
	if enc.EOSCount != 1 {
		t.Errorf("EOSCount = %d, want 1", enc.EOSCount)
	}
}

func TestFlushEncoder_EndOfStreamIsSuccess(t *testing.T) {
	t.Parallel()
	s := openEncoder(t, &mock.Engine{}, 1)
	if err := s.FlushEncoder(); err != nil {
		t.Fatalf("first flush: %v", err)
	}
	// The mock reports ErrEndOfStream for a second end-of-stream signal.
	if err := s.FlushEncoder(); err != nil {
		t.Errorf("second flush: %v", err)
	}
}

func TestReceiveEncoded_TwoPhase(t *testing.T) {
	t.Parallel()
	s := openEncoder(t, &mock.Engine{}, 1)

	res, err := s.ReceiveEncoded(nil)
	if err != nil {
		t.Fatalf("query on idle encoder: %v", err)
	}
	if !res.Required() || res.N != 0 {
		t.Fatalf("idle query = %+v, want Required 0", res)
	}

	if _, err := s.EncodeSamples(fltp(1, 1024, 0.5), 1024); err != nil {
		t.Fatalf("EncodeSamples: %v", err)
	}

	res, err = s.ReceiveEncoded(nil)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if !res.Required() || res.N != 8 {
		t.Fatalf("query = %+v, want Required 8", res)
	}
	// Querying again keeps the same packet pending.
	if res, _ = s.ReceiveEncoded(nil); res.N != 8 {
		t.Fatalf("second query = %+v, want Required 8", res)
	}

	small := make([]byte, 4)
	res, err = s.ReceiveEncoded(small)
	if err != nil {
		t.Fatalf("undersized receive: %v", err)
	}
	if !res.Required() || res.N != 8 {
		t.Fatalf("undersized = %+v, want Required 8", res)
	}

	dst := make([]byte, 16)
	res, err = s.ReceiveEncoded(dst)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if res.Required() || res.N != 8 {
		t.Fatalf("receive = %+v, want Produced 8", res)
	}
	if !bytes.Equal(dst[:4], []byte("MOCK")) || binary.BigEndian.Uint32(dst[4:8]) != 1024 {
		t.Errorf("packet = % x", dst[:8])
	}

	// The packet was consumed.
	if res, _ = s.ReceiveEncoded(nil); res.N != 0 {
		t.Errorf("after consume = %+v, want Required 0", res)
	}
}

func TestReceiveEncoded_DrainAfterFlush(t *testing.T) {
	t.Parallel()
	s := openEncoder(t, &mock.Engine{}, 1)
	if _, err := s.EncodeSamples(fltp(1, 2500, 0.5), 2500); err != nil {
		t.Fatalf("EncodeSamples: %v", err)
	}
	if err := s.FlushEncoder(); err != nil {
		t.Fatalf("FlushEncoder: %v", err)
	}

	var sizes []uint32
	buf := make([]byte, 64)
	for {
		res, err := s.ReceiveEncoded(buf)
		if err != nil {
			t.Fatalf("ReceiveEncoded: %v", err)
		}
		if res.N == 0 {
			break
		}
		sizes = append(sizes, binary.BigEndian.Uint32(buf[4:8]))
	}
	want := []uint32{1024, 1024, 452}
	if len(sizes) != len(want) {
		t.Fatalf("drained %v, want %v", sizes, want)
	}
	for i := range want {
		if sizes[i] != want[i] {
			t.Errorf("packet %d declares %d samples, want %d", i, sizes[i], want[i])
		}
	}
}

func TestReceiveEncoded_EngineError(t *testing.T) {
	t.Parallel()
	engineErr := errors.New("bitstream overflow")
	s := openEncoder(t, &mock.Engine{ReceivePacketError: engineErr}, 1)
	_, err := s.ReceiveEncoded(nil)
	if !errors.Is(err, session.ErrEncodeFail) || !errors.Is(err, engineErr) {
		t.Errorf("err = %v, want ErrEncodeFail wrapping the engine error", err)
	}
}

func TestInitData_TwoPhase(t *testing.T) {
	t.Parallel()
	s := openEncoder(t, &mock.Engine{}, 2)

	res, err := s.InitData(nil)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if !res.Required() || res.N != 2 {
		t.Fatalf("query = %+v, want Required 2", res)
	}
	if res, _ = s.InitData(make([]byte, 1)); !res.Required() {
		t.Errorf("undersized = %+v, want Required", res)
	}
	dst := make([]byte, 2)
	res, err = s.InitData(dst)
	if err != nil {
		t.Fatalf("copy: %v", err)
	}
	if res.N != 2 || !bytes.Equal(dst, []byte{0x12, 0x10}) {
		t.Errorf("init data = % x (%+v), want 12 10", dst, res)
	}
	// Not consumed.
	if res, _ = s.InitData(nil); res.N != 2 {
		t.Errorf("second query = %+v, want 2", res)
	}
}

func TestEncoderSession_Close(t *testing.T) {
	t.Parallel()
	eng := &mock.Engine{}
	s, err := session.OpenEncoder(session.EncoderOptions{Engine: eng, SampleRate: 44100, Channels: 1, Format: codec.FormatFloatPlanar})
	if err != nil {
		t.Fatalf("OpenEncoder: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !eng.Encoders[0].Closed {
		t.Error("engine encoder not closed")
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if _, err := s.EncodeSamples(nil, 0); !errors.Is(err, session.ErrInvalidHandle) {
		t.Errorf("EncodeSamples after Close: err = %v, want ErrInvalidHandle", err)
	}
	if _, err := s.ReceiveEncoded(nil); !errors.Is(err, session.ErrInvalidHandle) {
		t.Errorf("ReceiveEncoded after Close: err = %v, want ErrInvalidHandle", err)
	}

	var nilSession *session.EncoderSession
	if err := nilSession.Close(); err != nil {
		t.Errorf("Close on nil session: %v", err)
	}
	if err := nilSession.FlushEncoder(); !errors.Is(err, session.ErrInvalidHandle) {
		t.Errorf("FlushEncoder on nil session: err = %v, want ErrInvalidHandle", err)
	}
	if nilSession.ID() != "" || nilSession.InputFormat() != (codec.StreamFormat{}) ||
		nilSession.FrameSize() != 0 || nilSession.Buffered() != 0 {
		t.Error("accessors on a nil session did not report zero values")
	}
}
