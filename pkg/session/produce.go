package session

// Outcome tells a two-phase call's caller how to read [Result.N].
type Outcome int

const (
	// OutcomeRequired means nothing was produced; N is the capacity the next
	// call needs. N may be 0 when nothing is ready.
	OutcomeRequired Outcome = iota + 1

	// OutcomeProduced means N units were written to the destination.
	OutcomeProduced
)

func (o Outcome) String() string {
	switch o {
	case OutcomeRequired:
		return "required"
	case OutcomeProduced:
		return "produced"
	}
	return "unknown"
}

// Result is the answer of a two-phase "query size, then fill" call. Units are
// bytes for compressed data and samples per channel for PCM.
type Result struct {
	Outcome Outcome
	N       int
}

// Required reports whether the call only reported a size.
func (r Result) Required() bool { return r.Outcome == OutcomeRequired }

// producer is one source behind a two-phase call. required may prepare the
// next item (e.g. pull a packet from the engine) but must not consume it.
// produce decides what a fill consumes: it is called whenever capacity covers
// required, including a requirement of 0, and must return 0 when nothing is
// pending.
type producer[D any] interface {
	required() (int, error)
	produce(dst D, capacity int) (int, error)
}

// tryProduce runs the two-phase protocol against p: a query or a destination
// smaller than required reports the requirement and consumes nothing.
func tryProduce[D any](p producer[D], dst D, query bool, capacity int) (Result, error) {
	need, err := p.required()
	if err != nil {
		return Result{}, err
	}
	if query || capacity < need {
		return Result{Outcome: OutcomeRequired, N: need}, nil
	}
	n, err := p.produce(dst, capacity)
	if err != nil {
		return Result{}, err
	}
	return Result{Outcome: OutcomeProduced, N: n}, nil
}
