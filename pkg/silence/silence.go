// Package silence finds stretches of near-silent PCM in a decoded stream.
//
// A sample frame (one sample of every channel) is silent when the magnitude
// of every channel is below the threshold amplitude 10^(dB/20) relative to
// full scale. A run of silent frames is reported as a [Span] once it is
// longer than the minimum duration.
package silence

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/MrWong99/framegate/pkg/codec"
)

// MinThresholdDB is the quietest accepted threshold.
const MinThresholdDB = -150

// ErrInvalid is returned by [New] for unusable parameters.
var ErrInvalid = errors.New("silence: invalid parameters")

// Span is one detected silence, as offsets from the start of the stream.
type Span struct {
	Start time.Duration
	End   time.Duration
}

// Duration returns the length of the span.
func (s Span) Duration() time.Duration { return s.End - s.Start }

func (s Span) String() string { return fmt.Sprintf("%s-%s", s.Start, s.End) }

// Detector consumes PCM blocks in stream order. It is not safe for concurrent
// use.
type Detector struct {
	sf        codec.StreamFormat
	amplitude float32
	minFrames int64
	onSpan    func(Span)

	frame    int64 // frames seen so far
	runStart int64
	runLen   int64
	spans    []Span
}

// New returns a Detector for PCM in sf. thresholdDB must lie in
// [MinThresholdDB, 0); minDuration must not be negative. onSpan, when not
// nil, is called for every span as soon as it ends.
func New(sf codec.StreamFormat, thresholdDB float64, minDuration time.Duration, onSpan func(Span)) (*Detector, error) {
	if sf.SampleRate <= 0 || !sf.Format.IsValid() {
		return nil, fmt.Errorf("%w: format %s", ErrInvalid, sf)
	}
	if _, err := codec.LayoutFromChannels(sf.Layout.Channels()); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if thresholdDB >= 0 || thresholdDB < MinThresholdDB || math.IsNaN(thresholdDB) {
		return nil, fmt.Errorf("%w: threshold %g dB", ErrInvalid, thresholdDB)
	}
	if minDuration < 0 {
		return nil, fmt.Errorf("%w: minimum duration %s", ErrInvalid, minDuration)
	}
	return &Detector{
		sf:        sf,
		amplitude: float32(math.Pow(10, thresholdDB/20)),
		minFrames: int64(math.Round(float64(sf.SampleRate) * minDuration.Seconds())),
		onSpan:    onSpan,
	}, nil
}

// Write scans the first n frames of planes, laid out as the Detector's
// format.
func (d *Detector) Write(planes [][]byte, n int) {
	for i := range n {
		if d.silent(planes, i) {
			if d.runLen == 0 {
				d.runStart = d.frame
			}
			d.runLen++
		} else if d.runLen > 0 {
			d.closeRun()
		}
		d.frame++
	}
}

// Flush ends the stream, reporting a trailing silence.
func (d *Detector) Flush() {
	if d.runLen > 0 {
		d.closeRun()
	}
}

// Spans returns the spans reported so far.
func (d *Detector) Spans() []Span { return d.spans }

func (d *Detector) closeRun() {
	start, length := d.runStart, d.runLen
	d.runLen = 0
	if length <= d.minFrames {
		return
	}
	s := Span{Start: d.offset(start), End: d.offset(start + length)}
	d.spans = append(d.spans, s)
	if d.onSpan != nil {
		d.onSpan(s)
	}
}

func (d *Detector) offset(frames int64) time.Duration {
	rate := int64(d.sf.SampleRate)
	return time.Duration(frames/rate)*time.Second + time.Duration(frames%rate)*time.Second/time.Duration(rate)
}

func (d *Detector) silent(planes [][]byte, i int) bool {
	ch := d.sf.Layout.Channels()
	for c := range ch {
		var v float32
		switch d.sf.Format {
		case codec.FormatS16:
			v = codec.Int16ToFloat(codec.Int16At(planes[0], i*ch+c))
		case codec.FormatFloat:
			v = codec.Float32At(planes[0], i*ch+c)
		case codec.FormatFloatPlanar:
			v = codec.Float32At(planes[c], i)
		}
		if v >= d.amplitude || v <= -d.amplitude {
			return false
		}
	}
	return true
}
