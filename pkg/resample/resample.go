// Package resample converts PCM between sample rates, channel layouts and
// sample formats.
//
// A [Resampler] is stateful: interpolation history and any output that did not
// fit the caller's buffer are carried across calls, so a stream can be fed in
// arbitrary blocks. Create one per stream; a Resampler is not safe for
// concurrent use.
package resample

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/framegate/pkg/codec"
)

// ErrBuffer is returned when a source or destination plane set does not match
// the stream format or is too small for the declared sample count.
var ErrBuffer = errors.New("resample: buffer does not match format")

// Resampler converts one input stream format to one output stream format.
// Conversion order: downmix, resample, upmix, so stereo is never resampled when
// the target is mono.
type Resampler struct {
	in, out codec.StreamFormat

	// work is the channel count interpolation runs on.
	work int

	// pos is the position of the next output sample in input samples scaled
	// by the output rate; inc advances it by one output sample.
	pos    int64
	inc    int64
	den    int64
	hist   []float32
	primed bool

	// pending holds converted samples per output channel that did not fit the
	// last destination buffer.
	pending [][]float32

	log *slog.Logger
}

// New creates a Resampler from in to out. Both formats must have a positive
// sample rate, a mono or stereo layout and a known sample format.
func New(in, out codec.StreamFormat, logger *slog.Logger) (*Resampler, error) {
	if err := validate(in); err != nil {
		return nil, fmt.Errorf("resample: input %s: %w", in, err)
	}
	if err := validate(out); err != nil {
		return nil, fmt.Errorf("resample: output %s: %w", out, err)
	}
	r := &Resampler{
		in:      in,
		out:     out,
		work:    min(in.Layout.Channels(), out.Layout.Channels()),
		inc:     int64(in.SampleRate),
		den:     int64(out.SampleRate),
		pending: make([][]float32, out.Layout.Channels()),
		log:     codec.Logger(logger),
	}
	r.hist = make([]float32, r.work)
	r.log.Debug("resampler created", "from", in.String(), "to", out.String())
	return r, nil
}

func validate(sf codec.StreamFormat) error {
	if sf.SampleRate <= 0 {
		return fmt.Errorf("%w: sample rate %d", codec.ErrUnsupported, sf.SampleRate)
	}
	if _, err := codec.LayoutFromChannels(sf.Layout.Channels()); err != nil {
		return err
	}
	if !sf.Format.IsValid() {
		return fmt.Errorf("%w: sample format %d", codec.ErrUnsupported, int(sf.Format))
	}
	return nil
}

// Input returns the input stream format.
func (r *Resampler) Input() codec.StreamFormat { return r.in }

// Output returns the output stream format.
func (r *Resampler) Output() codec.StreamFormat { return r.out }

// Estimate returns the exact number of output samples the next Convert call
// would produce for inSamples input samples, including previously buffered
// output, given unlimited capacity.
func (r *Resampler) Estimate(inSamples int) int {
	return len(r.pending[0]) + r.count(inSamples)
}

// count returns how many output samples interpolating n new input samples
// yields. It runs the same loop as interpolate so both agree exactly.
func (r *Resampler) count(n int) int {
	if n <= 0 {
		return 0
	}
	if r.passthrough() {
		return n
	}
	p := r.pos
	if !r.primed {
		p = r.den
	}
	limit := int64(n) * r.den
	if p >= limit {
		return 0
	}
	return int((limit - p + r.inc - 1) / r.inc)
}

func (r *Resampler) passthrough() bool {
	return r.in.SampleRate == r.out.SampleRate
}

// Convert consumes inSamples samples from src and writes at most capacity
// samples to dst. Output that does not fit is kept for the next Convert or
// Flush call. It returns the number of samples written.
func (r *Resampler) Convert(dst [][]byte, capacity int, src [][]byte, inSamples int) (int, error) {
	if err := checkPlanes(r.out, dst, capacity); err != nil {
		return 0, fmt.Errorf("resample: destination: %w", err)
	}
	if inSamples > 0 {
		if err := checkPlanes(r.in, src, inSamples); err != nil {
			return 0, fmt.Errorf("resample: source: %w", err)
		}
		chans := r.mix(decode(r.in, src, inSamples))
		r.push(r.interpolate(chans))
	}
	return r.deliver(dst, capacity), nil
}

// Flush writes buffered output plus the interpolation tail to dst and resets
// the interpolation state, so the Resampler can start a new stream.
func (r *Resampler) Flush(dst [][]byte, capacity int) (int, error) {
	if err := checkPlanes(r.out, dst, capacity); err != nil {
		return 0, fmt.Errorf("resample: destination: %w", err)
	}
	if r.primed && !r.passthrough() {
		tail := make([][]float32, r.work)
		for p := r.pos; p < r.den; p += r.inc {
			for c := range tail {
				tail[c] = append(tail[c], r.hist[c])
			}
		}
		r.push(tail)
	}
	r.primed = false
	r.pos = 0
	return r.deliver(dst, capacity), nil
}

// Pending returns the number of converted samples waiting to be delivered.
func (r *Resampler) Pending() int { return len(r.pending[0]) }

// Close releases buffered output.
func (r *Resampler) Close() error {
	for i := range r.pending {
		r.pending[i] = nil
	}
	return nil
}

// mix downmixes stereo to mono when the output is mono.
func (r *Resampler) mix(chans [][]float32) [][]float32 {
	if len(chans) == 2 && r.work == 1 {
		mono := make([]float32, len(chans[0]))
		for i := range mono {
			mono[i] = (chans[0][i] + chans[1][i]) / 2
		}
		return [][]float32{mono}
	}
	return chans
}

// interpolate resamples chans with linear interpolation. Sample position 0 is
// the last sample of the previous block; positions 1..n are the new samples.
func (r *Resampler) interpolate(chans [][]float32) [][]float32 {
	n := len(chans[0])
	if r.passthrough() {
		return chans
	}
	if !r.primed {
		for c := range r.hist {
			r.hist[c] = chans[c][0]
		}
		r.pos = r.den
		r.primed = true
	}
	at := func(c, i int) float32 {
		if i == 0 {
			return r.hist[c]
		}
		return chans[c][i-1]
	}

	out := make([][]float32, r.work)
	limit := int64(n) * r.den
	p := r.pos
	for ; p < limit; p += r.inc {
		idx := int(p / r.den)
		frac := float32(p%r.den) / float32(r.den)
		for c := range out {
			s0 := at(c, idx)
			s1 := at(c, idx+1)
			out[c] = append(out[c], s0*(1-frac)+s1*frac)
		}
	}
	r.pos = p - limit
	for c := range r.hist {
		r.hist[c] = chans[c][n-1]
	}
	return out
}

// push appends work channels to pending, upmixing mono to stereo.
func (r *Resampler) push(work [][]float32) {
	if len(work) == 0 {
		return
	}
	for c := range r.pending {
		src := work[min(c, len(work)-1)]
		r.pending[c] = append(r.pending[c], src...)
	}
}

func (r *Resampler) deliver(dst [][]byte, capacity int) int {
	n := min(len(r.pending[0]), capacity)
	if n == 0 {
		return 0
	}
	encode(r.out, dst, r.pending, n)
	for c := range r.pending {
		r.pending[c] = r.pending[c][n:]
		if len(r.pending[c]) == 0 {
			r.pending[c] = nil
		}
	}
	return n
}

func checkPlanes(sf codec.StreamFormat, planes [][]byte, samples int) error {
	if samples < 0 {
		return fmt.Errorf("%w: negative sample count %d", ErrBuffer, samples)
	}
	if samples == 0 {
		return nil
	}
	if len(planes) != sf.Planes() {
		return fmt.Errorf("%w: %d planes, want %d", ErrBuffer, len(planes), sf.Planes())
	}
	need := samples * sf.Stride()
	for i, p := range planes {
		if len(p) < need {
			return fmt.Errorf("%w: plane %d has %d bytes, want %d", ErrBuffer, i, len(p), need)
		}
	}
	return nil
}

// decode unpacks n samples of src into one float slice per channel.
func decode(sf codec.StreamFormat, src [][]byte, n int) [][]float32 {
	ch := sf.Layout.Channels()
	out := make([][]float32, ch)
	for c := range out {
		out[c] = make([]float32, n)
	}
	switch sf.Format {
	case codec.FormatS16:
		for i := range n {
			for c := range ch {
				out[c][i] = codec.Int16ToFloat(codec.Int16At(src[0], i*ch+c))
			}
		}
	case codec.FormatFloat:
		for i := range n {
			for c := range ch {
				out[c][i] = codec.Float32At(src[0], i*ch+c)
			}
		}
	case codec.FormatFloatPlanar:
		for c := range ch {
			for i := range n {
				out[c][i] = codec.Float32At(src[c], i)
			}
		}
	}
	return out
}

// encode packs the first n samples of chans into dst.
func encode(sf codec.StreamFormat, dst [][]byte, chans [][]float32, n int) {
	ch := sf.Layout.Channels()
	switch sf.Format {
	case codec.FormatS16:
		for i := range n {
			for c := range ch {
				codec.PutInt16(dst[0], i*ch+c, codec.FloatToInt16(chans[c][i]))
			}
		}
	case codec.FormatFloat:
		for i := range n {
			for c := range ch {
				codec.PutFloat32(dst[0], i*ch+c, chans[c][i])
			}
		}
	case codec.FormatFloatPlanar:
		for c := range ch {
			for i := range n {
				codec.PutFloat32(dst[c], i, chans[c][i])
			}
		}
	}
}
