// Package packetio reads and writes packet dumps: a small record file that
// carries compressed access units between framegate runs.
//
// Layout (all integers big-endian):
//
//	magic "FGPK" | version u8 | flags u8 | init length u16 | init data
//	record*: length u32 | samples u32 | payload
//
// With [FlagZstd] set the record stream following the header is a single
// zstd frame. The header itself is never compressed so a reader can tell the
// engine init data apart without decompressing.
package packetio

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/klauspost/compress/zstd"
)

const (
	magic   = "FGPK"
	version = 1

	// FlagZstd marks a zstd-compressed record stream.
	FlagZstd byte = 1 << 0

	// MaxPacketSize bounds a single record payload.
	MaxPacketSize = 1 << 24
)

var (
	// ErrBadMagic is returned by [NewReader] for input that is not a packet dump.
	ErrBadMagic = errors.New("packetio: not a packet dump")

	// ErrVersion is returned by [NewReader] for an unknown dump version.
	ErrVersion = errors.New("packetio: unsupported version")

	// ErrTruncated is returned when input ends inside a header or record.
	ErrTruncated = errors.New("packetio: truncated input")

	// ErrTooLarge is returned for records above [MaxPacketSize] and init data
	// that does not fit the header.
	ErrTooLarge = errors.New("packetio: record too large")
)

// Packet is one record of a dump.
type Packet struct {
	Data []byte

	// Samples is the number of samples per channel the unit decodes to, as
	// reported when it was written. 0 means unknown.
	Samples int
}

// ─── Writer ───────────────────────────────────────────────────────────────────

// Writer appends packets to a dump. It is not safe for concurrent use.
type Writer struct {
	buf   *bufio.Writer
	zw    *zstd.Encoder
	dst   io.Writer
	count int
	hdr   [8]byte
}

// WriterOption configures a [Writer].
type WriterOption func(*writerOptions)

type writerOptions struct {
	compress bool
	level    zstd.EncoderLevel
}

// WithZstd compresses the record stream.
func WithZstd() WriterOption {
	return func(o *writerOptions) { o.compress = true }
}

// WithZstdLevel compresses the record stream at level.
func WithZstdLevel(level zstd.EncoderLevel) WriterOption {
	return func(o *writerOptions) {
		o.compress = true
		o.level = level
	}
}

// NewWriter writes the dump header carrying init to w and returns a writer
// for the records. Close must be called to flush the dump; it does not close w.
func NewWriter(w io.Writer, init []byte, opts ...WriterOption) (*Writer, error) {
	o := writerOptions{level: zstd.SpeedBetterCompression}
	for _, opt := range opts {
		opt(&o)
	}
	if len(init) > math.MaxUint16 {
		return nil, fmt.Errorf("%w: init data of %d bytes", ErrTooLarge, len(init))
	}

	bw := bufio.NewWriter(w)
	var flags byte
	if o.compress {
		flags |= FlagZstd
	}
	hdr := make([]byte, 0, 8+len(init))
	hdr = append(hdr, magic...)
	hdr = append(hdr, version, flags)
	hdr = binary.BigEndian.AppendUint16(hdr, uint16(len(init)))
	hdr = append(hdr, init...)
	if _, err := bw.Write(hdr); err != nil {
		return nil, fmt.Errorf("packetio: write header: %w", err)
	}

	pw := &Writer{buf: bw, dst: bw}
	if o.compress {
		zw, err := zstd.NewWriter(bw, zstd.WithEncoderLevel(o.level))
		if err != nil {
			return nil, fmt.Errorf("packetio: zstd writer: %w", err)
		}
		pw.zw = zw
		pw.dst = zw
	}
	return pw, nil
}

// WritePacket appends one record.
func (w *Writer) WritePacket(pkt []byte, samples int) error {
	if len(pkt) > MaxPacketSize {
		return fmt.Errorf("%w: %d bytes", ErrTooLarge, len(pkt))
	}
	if samples < 0 || int64(samples) > math.MaxUint32 {
		return fmt.Errorf("packetio: sample count %d out of range", samples)
	}
	binary.BigEndian.PutUint32(w.hdr[0:], uint32(len(pkt)))
	binary.BigEndian.PutUint32(w.hdr[4:], uint32(samples))
	if _, err := w.dst.Write(w.hdr[:]); err != nil {
		return fmt.Errorf("packetio: write record: %w", err)
	}
	if _, err := w.dst.Write(pkt); err != nil {
		return fmt.Errorf("packetio: write record: %w", err)
	}
	w.count++
	return nil
}

// Count returns the number of records written.
func (w *Writer) Count() int { return w.count }

// Close finishes the zstd frame, if any, and flushes buffered output.
func (w *Writer) Close() error {
	if w.zw != nil {
		if err := w.zw.Close(); err != nil {
			return fmt.Errorf("packetio: close zstd: %w", err)
		}
		w.zw = nil
	}
	if err := w.buf.Flush(); err != nil {
		return fmt.Errorf("packetio: flush: %w", err)
	}
	return nil
}

// ─── Reader ───────────────────────────────────────────────────────────────────

// Reader iterates over the records of a dump. It is not safe for concurrent
// use.
type Reader struct {
	src   io.Reader
	zr    *zstd.Decoder
	init  []byte
	flags byte
	hdr   [8]byte
}

// NewReader reads the dump header from r. Close must be called to release the
// zstd decoder of compressed dumps; it does not close r.
func NewReader(r io.Reader) (*Reader, error) {
	br := bufio.NewReader(r)
	var hdr [8]byte
	if _, err := io.ReadFull(br, hdr[:]); err != nil {
		return nil, readErr("header", err)
	}
	if string(hdr[:4]) != magic {
		return nil, ErrBadMagic
	}
	if hdr[4] != version {
		return nil, fmt.Errorf("%w: %d", ErrVersion, hdr[4])
	}
	init := make([]byte, binary.BigEndian.Uint16(hdr[6:]))
	if _, err := io.ReadFull(br, init); err != nil {
		return nil, readErr("init data", err)
	}

	pr := &Reader{src: br, init: init, flags: hdr[5]}
	if pr.flags&FlagZstd != 0 {
		zr, err := zstd.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("packetio: zstd reader: %w", err)
		}
		pr.zr = zr
		pr.src = zr
	}
	return pr, nil
}

// InitData returns the engine init data stored in the header.
func (r *Reader) InitData() []byte { return r.init }

// Compressed reports whether the record stream is zstd compressed.
func (r *Reader) Compressed() bool { return r.flags&FlagZstd != 0 }

// Next returns the next record. It returns io.EOF after the last record and
// [ErrTruncated] when the input ends inside a record.
func (r *Reader) Next() (Packet, error) {
	n, err := io.ReadFull(r.src, r.hdr[:])
	if err != nil {
		if n == 0 && errors.Is(err, io.EOF) {
			return Packet{}, io.EOF
		}
		return Packet{}, readErr("record", err)
	}
	size := binary.BigEndian.Uint32(r.hdr[0:])
	if size > MaxPacketSize {
		return Packet{}, fmt.Errorf("%w: %d bytes", ErrTooLarge, size)
	}
	data := make([]byte, size)
	if _, err := io.ReadFull(r.src, data); err != nil {
		return Packet{}, readErr("record", err)
	}
	return Packet{Data: data, Samples: int(binary.BigEndian.Uint32(r.hdr[4:]))}, nil
}

// Close releases the zstd decoder.
func (r *Reader) Close() error {
	if r.zr != nil {
		r.zr.Close()
		r.zr = nil
	}
	return nil
}

func readErr(what string, err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %s", ErrTruncated, what)
	}
	return fmt.Errorf("packetio: read %s: %w", what, err)
}
