package session

// Observer receives session events for metrics. Implementations must be safe
// for concurrent use when shared between sessions.
type Observer interface {
	SessionOpened(kind string)
	SessionClosed(kind string)
	FrameSubmitted(samples int)
	PacketProduced(bytes int)
	UnitDecoded(samples int, padded bool)
	SamplesConverted(samples int)
	Failed(op string, code Code)
}

type nopObserver struct{}

func (nopObserver) SessionOpened(string)  {}
func (nopObserver) SessionClosed(string)  {}
func (nopObserver) FrameSubmitted(int)    {}
func (nopObserver) PacketProduced(int)    {}
func (nopObserver) UnitDecoded(int, bool) {}
func (nopObserver) SamplesConverted(int)  {}
func (nopObserver) Failed(string, Code)   {}

func observerOrNop(o Observer) Observer {
	if o == nil {
		return nopObserver{}
	}
	return o
}
