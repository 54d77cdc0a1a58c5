package session

import "github.com/MrWong99/framegate/pkg/codec"

// adapter feeds the decoded span through the converter into caller buffers.
// conv stays nil in stream-detect sessions until the first frame arrives.
type adapter struct {
	span span
	conv Converter
	out  codec.StreamFormat
	obs  Observer
}

func (a *adapter) required() (int, error) {
	if a.conv == nil || a.span.empty() {
		return 0, nil
	}
	return a.conv.Estimate(a.span.samples), nil
}

// produce converts the span into dst and releases it, so a repeated call
// converts nothing. A span whose estimate is 0 still goes through the
// converter, which keeps its interpolation state and may emit the samples
// later.
func (a *adapter) produce(dst [][]byte, capacity int) (int, error) {
	if a.conv == nil || a.span.empty() {
		return 0, nil
	}
	defer a.span.release()
	n, err := a.conv.Convert(dst, capacity, a.span.planes, a.span.samples)
	if err != nil {
		return 0, newError("receive decoded", CodeDecodeFail, err)
	}
	a.obs.SamplesConverted(n)
	return n, nil
}

// flush drains samples buffered inside the converter.
func (a *adapter) flush(dst [][]byte, capacity int) (int, error) {
	if a.conv == nil {
		return 0, nil
	}
	n, err := a.conv.Flush(dst, capacity)
	if err != nil {
		return 0, newError("flush decoder", CodeDecodeFail, err)
	}
	a.obs.SamplesConverted(n)
	return n, nil
}

// checkPlanes validates a caller destination for capacity samples of sf.
func checkPlanes(op string, sf codec.StreamFormat, planes [][]byte, capacity int) error {
	if capacity < 0 {
		return newError(op, CodeBufferHandleInvalid, nil)
	}
	if capacity == 0 {
		return nil
	}
	if len(planes) != sf.Planes() {
		return newError(op, CodeBufferHandleInvalid, nil)
	}
	need := capacity * sf.Stride()
	for _, p := range planes {
		if p == nil {
			return newError(op, CodeBufferHandleInvalid, nil)
		}
		if len(p) < need {
			return newError(op, CodeBufferTooSmall, nil)
		}
	}
	return nil
}
