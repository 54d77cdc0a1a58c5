package codec

import (
	"encoding/binary"
	"math"
)

// Int16sToBytes converts a slice of int16 PCM samples to little-endian bytes.
func Int16sToBytes(pcm []int16) []byte {
	b := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		b[i*2] = byte(s)
		b[i*2+1] = byte(s >> 8)
	}
	return b
}

// BytesToInt16s converts little-endian bytes to a slice of int16 PCM samples.
// A trailing odd byte is ignored.
func BytesToInt16s(b []byte) []int16 {
	pcm := make([]int16, len(b)/2)
	for i := range pcm {
		pcm[i] = int16(b[i*2]) | int16(b[i*2+1])<<8
	}
	return pcm
}

// Float32At reads the i-th little-endian float32 from b.
func Float32At(b []byte, i int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
}

// PutFloat32 writes v as the i-th little-endian float32 of b.
func PutFloat32(b []byte, i int, v float32) {
	binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(v))
}

// Int16At reads the i-th little-endian int16 from b.
func Int16At(b []byte, i int) int16 {
	return int16(binary.LittleEndian.Uint16(b[i*2:]))
}

// PutInt16 writes v as the i-th little-endian int16 of b.
func PutInt16(b []byte, i int, v int16) {
	binary.LittleEndian.PutUint16(b[i*2:], uint16(v))
}

// FloatToInt16 converts a normalised float sample to int16, clamping to the
// int16 range.
func FloatToInt16(v float32) int16 {
	s := v * 32768
	if s > 32767 {
		return 32767
	}
	if s < -32768 {
		return -32768
	}
	return int16(s)
}

// Int16ToFloat converts an int16 sample to a normalised float.
func Int16ToFloat(v int16) float32 {
	return float32(v) / 32768
}
