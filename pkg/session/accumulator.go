package session

import (
	"errors"

	"github.com/MrWong99/framegate/pkg/codec"
)

// accumulator gathers caller sample runs into engine-sized frames.
type accumulator struct {
	enc    codec.Encoder
	frame  *codec.Frame
	size   int
	stride int

	// cursor is the fill position in samples. It equals size only while a
	// full frame is waiting to be resubmitted after a failed SendFrame.
	cursor int

	obs Observer
}

func newAccumulator(enc codec.Encoder, sf codec.StreamFormat, obs Observer) *accumulator {
	size := enc.FrameSize()
	return &accumulator{
		enc:    enc,
		frame:  codec.NewFrame(sf, size),
		size:   size,
		stride: sf.Stride(),
		obs:    obs,
	}
}

// push copies count samples from src into the pending frame, submitting every
// frame that fills up. It returns 0 when at least one frame was submitted
// during the call, otherwise the number of samples still needed to complete
// the pending frame.
//
// When a submission fails the full frame is kept and retried first by the
// next push or flush; input after the failed frame is discarded.
func (a *accumulator) push(src [][]byte, count int) (int, error) {
	submitted := false
	if a.cursor == a.size {
		if err := a.submit(); err != nil {
			return 0, err
		}
		submitted = true
	}
	for off := 0; off < count; {
		n := min(count-off, a.size-a.cursor)
		for p, plane := range a.frame.Planes {
			copy(plane[a.cursor*a.stride:], src[p][off*a.stride:(off+n)*a.stride])
		}
		a.cursor += n
		off += n
		if a.cursor == a.size {
			if err := a.submit(); err != nil {
				return 0, err
			}
			submitted = true
		}
	}
	if submitted {
		return 0, nil
	}
	return a.size - a.cursor, nil
}

// flush submits the partial frame, if any, with its unused tail zeroed and
// then signals end of stream.
func (a *accumulator) flush() error {
	if a.cursor > 0 {
		for _, plane := range a.frame.Planes {
			clear(plane[a.cursor*a.stride:])
		}
		if err := a.submit(); err != nil {
			return err
		}
	}
	if err := a.enc.SendFrame(nil); err != nil && !errors.Is(err, codec.ErrEndOfStream) {
		return err
	}
	return nil
}

// submit sends the first cursor samples of the pending frame and rewinds.
func (a *accumulator) submit() error {
	a.frame.Samples = a.cursor
	err := a.enc.SendFrame(a.frame)
	a.frame.Samples = a.size
	if err != nil {
		return err
	}
	a.obs.FrameSubmitted(a.cursor)
	a.cursor = 0
	return nil
}

// residual returns the number of samples waiting in the pending frame.
func (a *accumulator) residual() int { return a.cursor }
