package transcode

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/MrWong99/framegate/internal/config"
	"github.com/MrWong99/framegate/internal/packetio"
	"github.com/MrWong99/framegate/pkg/codec"
	"github.com/MrWong99/framegate/pkg/session"
	"github.com/MrWong99/framegate/pkg/silence"
)

// flushCapacity is the destination size, in samples per channel, used to
// drain converter state at the end of a decode job.
const flushCapacity = 4096

// task is one job in flight.
type task struct {
	job    config.JobConfig
	engine codec.Engine
	format codec.SampleFormat
	obs    session.Observer
	log    *slog.Logger
	rep    *Report

	// silence is created on the first decoded block when the job enables
	// detection, once the output format is known.
	silence *silence.Detector
}

// ─── Encode ───────────────────────────────────────────────────────────────────

func (t *task) encode(ctx context.Context, in io.Reader, out io.Writer) error {
	sess, err := session.OpenEncoder(session.EncoderOptions{
		Engine:     t.engine,
		SampleRate: t.job.SampleRate,
		Channels:   t.job.Channels,
		Format:     t.format,
		BitRate:    t.job.BitRate,
		Logger:     t.log,
		Observer:   t.obs,
	})
	if err != nil {
		return fmt.Errorf("transcode: %w", err)
	}
	defer sess.Close()

	init, err := initData(sess)
	if err != nil {
		return fmt.Errorf("transcode: %w", err)
	}
	var opts []packetio.WriterOption
	if t.job.Compress == config.CompressZstd {
		opts = append(opts, packetio.WithZstd())
	}
	w, err := packetio.NewWriter(out, init, opts...)
	if err != nil {
		return fmt.Errorf("transcode: %w", err)
	}

	sf := sess.InputFormat()
	frameBytes := sf.Stride() * sf.Planes()
	raw := make([]byte, t.job.ChunkSamples*frameBytes)
	d := drainer{sess: sess, w: w, frameSize: sess.FrameSize()}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := readChunk(in, raw)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("transcode: read input: %w", err)
		}
		samples := n / frameBytes
		if samples*frameBytes != n {
			t.log.Warn("input ends inside a sample; trailing bytes dropped", "bytes", n-samples*frameBytes)
		}
		if samples == 0 {
			break
		}
		if _, err := sess.EncodeSamples(splitPlanes(sf, raw, samples), samples); err != nil {
			return fmt.Errorf("transcode: %w", err)
		}
		d.queued += int64(samples)
		t.rep.Samples += int64(samples)
		if err := d.drain(); err != nil {
			return err
		}
	}

	if err := sess.FlushEncoder(); err != nil {
		return fmt.Errorf("transcode: %w", err)
	}
	if err := d.drain(); err != nil {
		return err
	}
	t.rep.Units = w.Count()
	if err := w.Close(); err != nil {
		return fmt.Errorf("transcode: %w", err)
	}
	return nil
}

// initData fetches the encoder init data with the two-phase protocol.
func initData(sess *session.EncoderSession) ([]byte, error) {
	res, err := sess.InitData(nil)
	if err != nil || res.N == 0 {
		return nil, err
	}
	buf := make([]byte, res.N)
	if res, err = sess.InitData(buf); err != nil {
		return nil, err
	}
	return buf[:res.N], nil
}

// drainer moves every ready unit from an encoder session into a packet dump.
// Each unit is recorded with a full frame of samples except the last one,
// which gets whatever remained.
type drainer struct {
	sess      *session.EncoderSession
	w         *packetio.Writer
	frameSize int
	queued    int64
	buf       []byte
}

func (d *drainer) drain() error {
	for {
		res, err := d.sess.ReceiveEncoded(nil)
		if err != nil {
			return fmt.Errorf("transcode: %w", err)
		}
		if res.N == 0 {
			return nil
		}
		if cap(d.buf) < res.N {
			d.buf = make([]byte, res.N)
		}
		res, err = d.sess.ReceiveEncoded(d.buf[:res.N])
		if err != nil {
			return fmt.Errorf("transcode: %w", err)
		}
		samples := int64(d.frameSize)
		if d.queued < samples {
			samples = max(d.queued, 0)
		}
		d.queued -= samples
		if err := d.w.WritePacket(d.buf[:res.N], int(samples)); err != nil {
			return fmt.Errorf("transcode: %w", err)
		}
	}
}

// ─── Decode ───────────────────────────────────────────────────────────────────

func (t *task) decode(ctx context.Context, in io.Reader, out io.Writer) error {
	r, err := packetio.NewReader(in)
	if err != nil {
		return fmt.Errorf("transcode: %w", err)
	}
	defer r.Close()

	desc := r.InitData()
	if t.job.Descriptor != "" {
		if desc, err = config.Descriptor(t.job.Descriptor); err != nil {
			return fmt.Errorf("transcode: %w", err)
		}
	}

	sess, err := session.OpenDecoder(session.DecoderOptions{
		Engine:       t.engine,
		Descriptor:   desc,
		DetectStream: t.job.DetectStream,
		SampleRate:   t.job.SampleRate,
		Channels:     t.job.Channels,
		Format:       t.format,
		Logger:       t.log,
		Observer:     t.obs,
	})
	if err != nil {
		return fmt.Errorf("transcode: %w", err)
	}
	defer sess.Close()

	bw := bufio.NewWriter(out)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		pkt, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("transcode: %w", err)
		}
		t.rep.Units++
		if len(pkt.Data) == 0 {
			continue
		}

		declared := pkt.Samples
		if t.job.DeclaredSamples > 0 {
			declared = t.job.DeclaredSamples
		}
		if err := sess.DecodeUnit(pkt.Data, declared); err != nil {
			return fmt.Errorf("transcode: %w", err)
		}
		if err := t.receive(sess, bw); err != nil {
			return err
		}
	}

	if err := t.flush(sess, bw); err != nil {
		return err
	}
	if t.silence != nil {
		t.silence.Flush()
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("transcode: write output: %w", err)
	}
	return nil
}

// receive converts the pending unit with the two-phase protocol and writes it.
// A unit whose estimate is 0 is still handed over with an empty destination
// so the converter consumes it.
func (t *task) receive(sess *session.DecoderSession, w io.Writer) error {
	res, err := sess.ReceiveDecoded(nil, 0)
	if err != nil {
		return fmt.Errorf("transcode: %w", err)
	}
	if res.N == 0 && sess.Pending() == 0 {
		return nil
	}
	sf := sess.OutputFormat()
	planes := allocPlanes(sf, res.N)
	if res, err = sess.ReceiveDecoded(planes, res.N); err != nil {
		return fmt.Errorf("transcode: %w", err)
	}
	return t.write(w, sf, planes, res.N)
}

// flush drains converter state until it yields nothing.
func (t *task) flush(sess *session.DecoderSession, w io.Writer) error {
	sf := sess.OutputFormat()
	if sf.SampleRate == 0 {
		// Stream-detect session that never decoded a unit.
		return nil
	}
	planes := allocPlanes(sf, flushCapacity)
	for {
		n, err := sess.FlushDecoder(planes, flushCapacity)
		if err != nil {
			return fmt.Errorf("transcode: %w", err)
		}
		if n == 0 {
			return nil
		}
		if err := t.write(w, sf, planes, n); err != nil {
			return err
		}
	}
}

func (t *task) write(w io.Writer, sf codec.StreamFormat, planes [][]byte, n int) error {
	if _, err := w.Write(joinPlanes(sf, planes, n)); err != nil {
		return fmt.Errorf("transcode: write output: %w", err)
	}
	t.rep.Samples += int64(n)
	if t.job.SilenceDB == 0 {
		return nil
	}
	if t.silence == nil {
		d, err := silence.New(sf, t.job.SilenceDB, t.job.SilenceMinDuration, t.onSilence)
		if err != nil {
			return fmt.Errorf("transcode: %w", err)
		}
		t.silence = d
	}
	t.silence.Write(planes, n)
	return nil
}

func (t *task) onSilence(s silence.Span) {
	t.rep.Silences = append(t.rep.Silences, s)
	t.log.Info("silence detected", "start", s.Start, "end", s.End, "duration", s.Duration())
}
