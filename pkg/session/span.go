package session

import "github.com/MrWong99/framegate/pkg/codec"

// MaxDeclaredSamples caps the sample count a caller may declare for one
// decoded unit. Larger declarations fail with [CodeAllocFail].
const MaxDeclaredSamples = 1 << 20

type spanKind int

const (
	spanEmpty spanKind = iota

	// spanBorrowed aliases the engine's frame planes. Valid until the next call
	// on the engine decoder.
	spanBorrowed

	// spanOwned is a silence buffer padded to the declared length.
	spanOwned
)

// span is the decoded output waiting to be converted.
type span struct {
	kind    spanKind
	planes  [][]byte
	samples int
}

func borrowSpan(f *codec.Frame) span {
	return span{kind: spanBorrowed, planes: f.Planes, samples: f.Samples}
}

// padSpan copies f to the front of a zeroed buffer of declared samples.
func padSpan(f *codec.Frame, declared int) span {
	stride := f.StreamFormat().Stride()
	planes := make([][]byte, len(f.Planes))
	for i, p := range f.Planes {
		planes[i] = make([]byte, declared*stride)
		copy(planes[i], p[:f.Samples*stride])
	}
	return span{kind: spanOwned, planes: planes, samples: declared}
}

func (s *span) empty() bool { return s.kind == spanEmpty || s.samples == 0 }

// release drops the span. An owned buffer is cleared first so it cannot be
// read through a stale reference.
func (s *span) release() {
	switch s.kind {
	case spanOwned:
		for i := range s.planes {
			s.planes[i] = nil
		}
	case spanBorrowed, spanEmpty:
	}
	*s = span{}
}
