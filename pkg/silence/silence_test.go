package silence_test

import (
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/framegate/pkg/codec"
	"github.com/MrWong99/framegate/pkg/silence"
)

// segment is a run of frames at a constant amplitude.
type segment struct {
	frames int
	level  float32
}

// render lays segments out as planes of sf.
func render(sf codec.StreamFormat, segs []segment) ([][]byte, int) {
	total := 0
	for _, s := range segs {
		total += s.frames
	}
	f := codec.NewFrame(sf, total)
	ch := sf.Layout.Channels()
	i := 0
	for _, s := range segs {
		for range s.frames {
			for c := range ch {
				switch sf.Format {
				case codec.FormatS16:
					codec.PutInt16(f.Planes[0], i*ch+c, codec.FloatToInt16(s.level))
				case codec.FormatFloat:
					codec.PutFloat32(f.Planes[0], i*ch+c, s.level)
				case codec.FormatFloatPlanar:
					codec.PutFloat32(f.Planes[c], i, s.level)
				}
			}
			i++
		}
	}
	return f.Planes, total
}

func TestNew_Invalid(t *testing.T) {
	t.Parallel()

	good := codec.StreamFormat{SampleRate: 8000, Layout: codec.LayoutMono, Format: codec.FormatS16}
	tests := []struct {
		name   string
		sf     codec.StreamFormat
		db     float64
		minDur time.Duration
	}{
		{name: "zero rate", sf: codec.StreamFormat{Layout: codec.LayoutMono, Format: codec.FormatS16}, db: -50},
		{name: "bad format", sf: codec.StreamFormat{SampleRate: 8000, Layout: codec.LayoutMono}, db: -50},
		{name: "bad layout", sf: codec.StreamFormat{SampleRate: 8000, Layout: 6, Format: codec.FormatS16}, db: -50},
		{name: "zero threshold", sf: good, db: 0},
		{name: "positive threshold", sf: good, db: 3},
		{name: "too quiet", sf: good, db: -151},
		{name: "negative duration", sf: good, db: -50, minDur: -time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := silence.New(tt.sf, tt.db, tt.minDur, nil); !errors.Is(err, silence.ErrInvalid) {
				t.Errorf("New() error = %v, want ErrInvalid", err)
			}
		})
	}
}

func TestDetector(t *testing.T) {
	t.Parallel()

	ms := time.Millisecond
	tests := []struct {
		name   string
		sf     codec.StreamFormat
		db     float64
		minDur time.Duration
		segs   []segment
		want   []silence.Span
	}{
		{
			name:   "gap in tone",
			sf:     codec.StreamFormat{SampleRate: 1000, Layout: codec.LayoutMono, Format: codec.FormatS16},
			db:     -40,
			minDur: 100 * ms,
			segs:   []segment{{200, 0.5}, {300, 0}, {100, 0.5}},
			want:   []silence.Span{{Start: 200 * ms, End: 500 * ms}},
		},
		{
			name:   "short gap ignored",
			sf:     codec.StreamFormat{SampleRate: 1000, Layout: codec.LayoutMono, Format: codec.FormatFloat},
			db:     -40,
			minDur: 100 * ms,
			segs:   []segment{{200, 0.5}, {100, 0}, {200, 0.5}},
		},
		{
			name:   "leading and trailing",
			sf:     codec.StreamFormat{SampleRate: 1000, Layout: codec.LayoutStereo, Format: codec.FormatFloatPlanar},
			db:     -40,
			minDur: 50 * ms,
			segs:   []segment{{100, 0.001}, {100, 0.5}, {250, 0}},
			want:   []silence.Span{{Start: 0, End: 100 * ms}, {Start: 200 * ms, End: 450 * ms}},
		},
		{
			name:   "level above threshold",
			sf:     codec.StreamFormat{SampleRate: 1000, Layout: codec.LayoutStereo, Format: codec.FormatFloat},
			db:     -60,
			minDur: 10 * ms,
			segs:   []segment{{500, 0.01}},
		},
		{
			name: "zero minimum keeps one frame",
			sf:   codec.StreamFormat{SampleRate: 1000, Layout: codec.LayoutMono, Format: codec.FormatS16},
			db:   -20,
			segs: []segment{{10, 0.9}, {1, 0}, {10, 0.9}},
			want: []silence.Span{{Start: 10 * ms, End: 11 * ms}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var got []silence.Span
			d, err := silence.New(tt.sf, tt.db, tt.minDur, func(s silence.Span) { got = append(got, s) })
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			planes, n := render(tt.sf, tt.segs)
			// Feed in uneven blocks so runs cross Write boundaries.
			stride := tt.sf.Stride()
			for off := 0; off < n; {
				k := min(37, n-off)
				block := make([][]byte, len(planes))
				for p := range planes {
					block[p] = planes[p][off*stride : (off+k)*stride]
				}
				d.Write(block, k)
				off += k
			}
			d.Flush()

			if !slices.Equal(got, tt.want) {
				t.Errorf("callback spans = %v, want %v", got, tt.want)
			}
			if !slices.Equal(d.Spans(), tt.want) {
				t.Errorf("Spans() = %v, want %v", d.Spans(), tt.want)
			}
		})
	}
}

func TestSpan_Duration(t *testing.T) {
	t.Parallel()
	s := silence.Span{Start: 1500 * time.Millisecond, End: 4 * time.Second}
	if got := s.Duration(); got != 2500*time.Millisecond {
		t.Errorf("Duration() = %s, want 2.5s", got)
	}
}
