package session

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/google/uuid"

	"github.com/MrWong99/framegate/pkg/codec"
)

const kindEncoder = "encoder"

// EncoderOptions configures [OpenEncoder].
type EncoderOptions struct {
	Engine codec.Engine

	// SampleRate, Channels and Format describe the raw input. Format must be
	// one of Engine.EncoderFormats().
	SampleRate int
	Channels   int
	Format     codec.SampleFormat

	// BitRate in bits per second; 0 selects the engine default.
	BitRate int64

	// Quality is passed to the engine unchanged; 0 means unset.
	Quality float64

	Logger   *slog.Logger
	Observer Observer
}

// EncoderSession accepts raw samples in runs of any length and hands back
// compressed access units.
type EncoderSession struct {
	id     string
	enc    codec.Encoder
	format codec.StreamFormat
	acc    *accumulator
	pkt    packetSource

	log    *slog.Logger
	obs    Observer
	closed bool
}

// OpenEncoder validates opts and opens an engine encoder. On failure
// everything acquired so far is released and no session is returned.
func OpenEncoder(opts EncoderOptions) (*EncoderSession, error) {
	const op = "open encoder"
	obs := observerOrNop(opts.Observer)
	s, err := openEncoder(op, opts, obs)
	if err != nil {
		obs.Failed(op, CodeOf(err))
		return nil, err
	}
	obs.SessionOpened(kindEncoder)
	return s, nil
}

func openEncoder(op string, opts EncoderOptions, obs Observer) (*EncoderSession, error) {
	if opts.Engine == nil {
		return nil, newError(op, CodeCodecNotFound, errors.New("no engine"))
	}
	layout, err := codec.LayoutFromChannels(opts.Channels)
	if err != nil {
		return nil, newError(op, CodeOutputChannelsUnsupported, err)
	}
	if !slices.Contains(opts.Engine.EncoderFormats(), opts.Format) {
		return nil, newError(op, CodeOutputFormatUnsupported,
			fmt.Errorf("%s does not encode %s", opts.Engine.Name(), opts.Format))
	}

	id := uuid.NewString()
	log := codec.Logger(opts.Logger).With("session_id", id, "engine", opts.Engine.Name())
	sf := codec.StreamFormat{SampleRate: opts.SampleRate, Layout: layout, Format: opts.Format}

	b := newBuilder(log)
	defer b.rollback()

	enc, err := opts.Engine.NewEncoder(codec.EncoderParams{
		SampleRate: opts.SampleRate,
		Layout:     layout,
		Format:     opts.Format,
		BitRate:    opts.BitRate,
		Quality:    opts.Quality,
		Logger:     log,
	})
	if err != nil {
		return nil, newError(op, CodeCodecOpenFail, err)
	}
	b.acquire("encoder", enc.Close)

	if size := enc.FrameSize(); size <= 0 {
		return nil, newError(op, CodeCodecOpenFail, fmt.Errorf("engine frame size %d", size))
	}

	s := &EncoderSession{
		id:     id,
		enc:    enc,
		format: sf,
		acc:    newAccumulator(enc, sf, obs),
		pkt:    packetSource{enc: enc, obs: obs},
		log:    log,
		obs:    obs,
	}
	b.commit()
	log.Debug("encoder session opened", "input", sf.String(), "frame_size", s.acc.size, "bitrate", opts.BitRate)
	return s, nil
}

// ID returns the session identifier used in log records, or "" for a nil
// session.
func (s *EncoderSession) ID() string {
	if s == nil {
		return ""
	}
	return s.id
}

// InputFormat returns the raw format EncodeSamples expects. A nil session
// reports the zero format.
func (s *EncoderSession) InputFormat() codec.StreamFormat {
	if s == nil {
		return codec.StreamFormat{}
	}
	return s.format
}

// FrameSize returns the engine frame length in samples per channel.
func (s *EncoderSession) FrameSize() int {
	if !s.valid() {
		return 0
	}
	return s.acc.size
}

// Buffered returns the number of samples waiting in the pending frame.
func (s *EncoderSession) Buffered() int {
	if !s.valid() {
		return 0
	}
	return s.acc.residual()
}

func (s *EncoderSession) valid() bool { return s != nil && !s.closed }

// EncodeSamples appends count samples from src to the pending frame and
// submits every frame that fills up. It returns 0 when at least one frame was
// submitted, otherwise the number of samples still needed to complete the
// pending frame.
func (s *EncoderSession) EncodeSamples(src [][]byte, count int) (int, error) {
	const op = "encode samples"
	if !s.valid() {
		return 0, newError(op, CodeInvalidHandle, nil)
	}
	if err := checkPlanes(op, s.format, src, count); err != nil {
		s.obs.Failed(op, CodeOf(err))
		return 0, err
	}
	n, err := s.acc.push(src, count)
	if err != nil {
		err = newError(op, CodeEncodeFail, err)
		s.obs.Failed(op, CodeEncodeFail)
		return 0, err
	}
	return n, nil
}

// ReceiveEncoded copies the next compressed unit into dst. With a nil dst it
// pulls the next unit from the engine, if none is pending, and reports its
// size; 0 means nothing is ready. A dst shorter than the pending unit gets the
// size reported again and the unit stays pending.
func (s *EncoderSession) ReceiveEncoded(dst []byte) (Result, error) {
	const op = "receive encoded"
	if !s.valid() {
		return Result{}, newError(op, CodeInvalidHandle, nil)
	}
	res, err := tryProduce[[]byte](&s.pkt, dst, dst == nil, len(dst))
	if err != nil {
		s.obs.Failed(op, CodeOf(err))
		return Result{}, err
	}
	return res, nil
}

// FlushEncoder submits the partial pending frame, zero padded, and signals end
// of stream. Remaining units are then drained with ReceiveEncoded.
func (s *EncoderSession) FlushEncoder() error {
	const op = "flush encoder"
	if !s.valid() {
		return newError(op, CodeInvalidHandle, nil)
	}
	if err := s.acc.flush(); err != nil {
		s.obs.Failed(op, CodeEncodeFail)
		return newError(op, CodeEncodeFail, err)
	}
	return nil
}

// InitData copies the engine's codec initialization data into dst using the
// same two-phase protocol as ReceiveEncoded. It never consumes anything.
func (s *EncoderSession) InitData(dst []byte) (Result, error) {
	const op = "init data"
	if !s.valid() {
		return Result{}, newError(op, CodeInvalidHandle, nil)
	}
	return tryProduce[[]byte](initData(s.enc.ExtraData()), dst, dst == nil, len(dst))
}

// Close releases the engine encoder. Units not yet received are dropped.
// Closing a nil or already closed session is a no-op.
func (s *EncoderSession) Close() error {
	if !s.valid() {
		return nil
	}
	s.closed = true
	s.pkt.pending = nil
	err := s.enc.Close()
	s.enc = nil
	s.obs.SessionClosed(kindEncoder)
	s.log.Debug("encoder session closed")
	if err != nil {
		return fmt.Errorf("session: close: encoder: %w", err)
	}
	return nil
}

// packetSource holds at most one unit pulled from the engine but not yet
// copied out.
type packetSource struct {
	enc     codec.Encoder
	pending []byte
	obs     Observer
}

func (p *packetSource) required() (int, error) {
	if p.pending == nil {
		pkt, err := p.enc.ReceivePacket()
		if err != nil {
			if benign(err) {
				return 0, nil
			}
			return 0, newError("receive encoded", CodeEncodeFail, err)
		}
		if len(pkt) == 0 {
			return 0, nil
		}
		p.pending = pkt
	}
	return len(p.pending), nil
}

func (p *packetSource) produce(dst []byte, _ int) (int, error) {
	if p.pending == nil {
		return 0, nil
	}
	n := copy(dst, p.pending)
	p.pending = nil
	p.obs.PacketProduced(n)
	return n, nil
}

type initData []byte

func (d initData) required() (int, error) { return len(d), nil }

func (d initData) produce(dst []byte, _ int) (int, error) { return copy(dst, d), nil }
