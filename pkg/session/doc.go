// Package session adapts arbitrarily chunked audio to codec engines that only
// accept fixed units.
//
// An [EncoderSession] gathers caller sample runs of any length into
// engine-sized frames and hands compressed units back through a two-phase
// "query size, then fill" call. A [DecoderSession] submits one access unit at a
// time, pads short decoded frames with silence up to the length the caller
// declared, and converts the result to the requested output format.
//
// Typical decode loop:
//
//	s, err := session.OpenDecoder(session.DecoderOptions{
//		Engine:     eng,
//		Descriptor: []byte{0x12, 0x10},
//		Channels:   2,
//		Format:     codec.FormatS16,
//	})
//	...
//	defer s.Close()
//	for unit := range units {
//		if err := s.DecodeUnit(unit, 1024); err != nil { ... }
//		res, _ := s.ReceiveDecoded(nil, 0)
//		dst := codec.NewFrame(s.OutputFormat(), res.N)
//		res, err = s.ReceiveDecoded(dst.Planes, res.N)
//		...
//	}
//
// Sessions are not safe for concurrent use. Independent sessions share no
// state and may run on separate goroutines. Close must not be called while
// another call on the same session is in flight.
package session
