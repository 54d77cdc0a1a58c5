package session

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/MrWong99/framegate/pkg/codec"
	"github.com/MrWong99/framegate/pkg/codec/asc"
)

const kindDecoder = "decoder"

// DecoderOptions configures [OpenDecoder].
type DecoderOptions struct {
	Engine codec.Engine

	// Descriptor is the AudioSpecificConfig of the stream. Required unless
	// DetectStream is set. A copy is passed to the engine as init data.
	Descriptor []byte

	// DetectStream defers converter creation until the first decoded frame
	// reveals the stream's rate and layout. Use it for engines whose streams
	// carry no descriptor.
	DetectStream bool

	// SampleRate is the output rate. 0 keeps the stream's rate.
	SampleRate int

	// Channels is the output channel count, 1 or 2.
	Channels int

	// Format is the output sample format.
	Format codec.SampleFormat

	// Converter creates the output converter. Defaults to [NewResampler].
	Converter ConverterFactory

	Logger   *slog.Logger
	Observer Observer
}

// DecoderSession decodes one access unit at a time into caller buffers.
type DecoderSession struct {
	id      string
	engine  string
	dec     codec.Decoder
	adapter adapter
	newConv ConverterFactory

	log    *slog.Logger
	obs    Observer
	closed bool
}

// OpenDecoder validates opts, opens an engine decoder and, unless
// DetectStream is set, the converter. On failure everything acquired so far is
// released and no session is returned.
func OpenDecoder(opts DecoderOptions) (*DecoderSession, error) {
	const op = "open decoder"
	obs := observerOrNop(opts.Observer)
	s, err := openDecoder(op, opts, obs)
	if err != nil {
		obs.Failed(op, CodeOf(err))
		return nil, err
	}
	obs.SessionOpened(kindDecoder)
	return s, nil
}

func openDecoder(op string, opts DecoderOptions, obs Observer) (*DecoderSession, error) {
	if opts.Engine == nil {
		return nil, newError(op, CodeCodecNotFound, errors.New("no engine"))
	}
	if !opts.Format.IsValid() {
		return nil, newError(op, CodeOutputFormatUnsupported, fmt.Errorf("format %s", opts.Format))
	}
	layout, err := codec.LayoutFromChannels(opts.Channels)
	if err != nil {
		return nil, newError(op, CodeOutputChannelsUnsupported, err)
	}
	if opts.SampleRate < 0 {
		return nil, newError(op, CodeOutputFormatUnsupported, fmt.Errorf("sample rate %d", opts.SampleRate))
	}

	var cfg asc.Config
	if !opts.DetectStream {
		if cfg, err = asc.Parse(opts.Descriptor); err != nil {
			return nil, newError(op, CodeConfigInvalid, err)
		}
	}

	id := uuid.NewString()
	log := codec.Logger(opts.Logger).With("session_id", id, "engine", opts.Engine.Name())
	out := codec.StreamFormat{SampleRate: opts.SampleRate, Layout: layout, Format: opts.Format}
	newConv := opts.Converter
	if newConv == nil {
		newConv = NewResampler
	}

	b := newBuilder(log)
	defer b.rollback()

	dec, err := opts.Engine.NewDecoder(codec.DecoderParams{
		ExtraData:  bytes.Clone(opts.Descriptor),
		SampleRate: cfg.SampleRate,
		Layout:     cfg.Layout,
		Logger:     log,
	})
	if err != nil {
		return nil, newError(op, CodeCodecOpenFail, err)
	}
	b.acquire("decoder", dec.Close)

	s := &DecoderSession{
		id:      id,
		engine:  opts.Engine.Name(),
		dec:     dec,
		newConv: newConv,
		log:     log,
		obs:     obs,
	}
	s.adapter = adapter{out: out, obs: obs}

	if !opts.DetectStream {
		in := codec.StreamFormat{SampleRate: cfg.SampleRate, Layout: cfg.Layout, Format: opts.Engine.DecoderFormat()}
		if err := s.initConverter(in); err != nil {
			return nil, newError(op, CodeConverterInitFail, err)
		}
		b.acquire("converter", s.adapter.conv.Close)
	}

	b.commit()
	log.Debug("decoder session opened",
		"detect_stream", opts.DetectStream,
		"stream_rate", cfg.SampleRate,
		"output", s.adapter.out.String(),
	)
	return s, nil
}

// initConverter creates the converter for frames in format in. An output rate
// of 0 resolves to the stream's rate.
func (s *DecoderSession) initConverter(in codec.StreamFormat) error {
	out := s.adapter.out
	if out.SampleRate == 0 {
		out.SampleRate = in.SampleRate
	}
	conv, err := s.newConv(in, out, s.log)
	if err != nil {
		return err
	}
	s.adapter.conv = conv
	s.adapter.out = out
	return nil
}

// ID returns the session identifier used in log records, or "" for a nil
// session.
func (s *DecoderSession) ID() string {
	if s == nil {
		return ""
	}
	return s.id
}

// OutputFormat returns the format ReceiveDecoded writes. In a stream-detect
// session with no explicit output rate, SampleRate is 0 until the first unit
// has been decoded. A nil session reports the zero format.
func (s *DecoderSession) OutputFormat() codec.StreamFormat {
	if s == nil {
		return codec.StreamFormat{}
	}
	return s.adapter.out
}

// Pending returns the number of decoded samples waiting for ReceiveDecoded.
func (s *DecoderSession) Pending() int {
	if s == nil {
		return 0
	}
	return s.adapter.span.samples
}

func (s *DecoderSession) valid() bool { return s != nil && !s.closed }

// DecodeUnit submits one compressed access unit and keeps the decoded result
// for ReceiveDecoded. declared is the sample count the caller expects the unit
// to produce; a shorter frame is padded with silence up to declared samples.
// A declared count of 0 or less accepts the frame as decoded.
//
// Only one unit may be outstanding: a unit not yet drained through
// ReceiveDecoded is discarded by the next DecodeUnit.
func (s *DecoderSession) DecodeUnit(pkt []byte, declared int) error {
	const op = "decode unit"
	if !s.valid() {
		return newError(op, CodeInvalidHandle, nil)
	}
	if err := s.decodeUnit(op, pkt, declared); err != nil {
		s.obs.Failed(op, CodeOf(err))
		return err
	}
	return nil
}

func (s *DecoderSession) decodeUnit(op string, pkt []byte, declared int) error {
	if len(pkt) == 0 {
		return newError(op, CodeBufferHandleInvalid, errors.New("empty access unit"))
	}
	if declared > MaxDeclaredSamples {
		return newError(op, CodeAllocFail, fmt.Errorf("declared %d samples, limit %d", declared, MaxDeclaredSamples))
	}
	s.adapter.span.release()

	if err := s.dec.SendPacket(pkt); err != nil {
		if benign(err) {
			return nil
		}
		return newError(op, CodeDecodeFail, err)
	}
	f, err := s.dec.ReceiveFrame()
	if err != nil {
		if benign(err) {
			return nil
		}
		return newError(op, CodeDecodeFail, err)
	}

	in := f.StreamFormat()
	if s.adapter.conv == nil {
		if err := s.initConverter(in); err != nil {
			return newError(op, CodeConverterInitFail, err)
		}
		s.log.Debug("converter created from stream", "stream", in.String(), "output", s.adapter.out.String())
	} else if in != s.adapter.conv.Input() {
		return newError(op, CodeDecodeFail, fmt.Errorf("frame format %s, converter expects %s", in, s.adapter.conv.Input()))
	}

	if f.Samples < declared {
		s.adapter.span = padSpan(f, declared)
		s.log.Debug("short frame padded with silence", "decoded", f.Samples, "declared", declared)
		s.obs.UnitDecoded(f.Samples, true)
		return nil
	}
	s.adapter.span = borrowSpan(f)
	s.obs.UnitDecoded(f.Samples, false)
	return nil
}

// ReceiveDecoded converts the pending decoded unit into dst. With a nil dst it
// only reports the converter's estimate for the pending unit. When capacity
// is below that estimate the estimate is reported again and nothing is
// converted. Otherwise the unit is converted, at most capacity samples are
// written, and the unit is consumed.
func (s *DecoderSession) ReceiveDecoded(dst [][]byte, capacity int) (Result, error) {
	const op = "receive decoded"
	if !s.valid() {
		return Result{}, newError(op, CodeInvalidHandle, nil)
	}
	query := dst == nil
	if !query {
		if err := checkPlanes(op, s.adapter.out, dst, capacity); err != nil {
			s.obs.Failed(op, CodeOf(err))
			return Result{}, err
		}
	}
	res, err := tryProduce[[][]byte](&s.adapter, dst, query, capacity)
	if err != nil {
		s.obs.Failed(op, CodeOf(err))
		return Result{}, err
	}
	return res, nil
}

// FlushDecoder drains samples buffered inside the converter into dst. It
// returns 0 when no converter exists yet.
func (s *DecoderSession) FlushDecoder(dst [][]byte, capacity int) (int, error) {
	const op = "flush decoder"
	if !s.valid() {
		return 0, newError(op, CodeInvalidHandle, nil)
	}
	if err := checkPlanes(op, s.adapter.out, dst, capacity); err != nil {
		s.obs.Failed(op, CodeOf(err))
		return 0, err
	}
	n, err := s.adapter.flush(dst, capacity)
	if err != nil {
		s.obs.Failed(op, CodeOf(err))
		return 0, err
	}
	return n, nil
}

// Close releases the converter and the engine decoder. Closing a nil or
// already closed session is a no-op.
func (s *DecoderSession) Close() error {
	if !s.valid() {
		return nil
	}
	s.closed = true
	s.adapter.span.release()

	var errs []error
	if s.adapter.conv != nil {
		if err := s.adapter.conv.Close(); err != nil {
			errs = append(errs, fmt.Errorf("converter: %w", err))
		}
		s.adapter.conv = nil
	}
	if err := s.dec.Close(); err != nil {
		errs = append(errs, fmt.Errorf("decoder: %w", err))
	}
	s.dec = nil
	s.obs.SessionClosed(kindDecoder)
	s.log.Debug("decoder session closed")
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("session: close: %w", err)
	}
	return nil
}

// benign reports whether err is an engine condition that yields no output
// rather than an error.
func benign(err error) bool {
	return errors.Is(err, codec.ErrWouldBlock) || errors.Is(err, codec.ErrEndOfStream)
}
