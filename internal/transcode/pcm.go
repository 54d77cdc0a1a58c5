package transcode

import "github.com/MrWong99/framegate/pkg/codec"

// Raw PCM files are always interleaved. Planar formats are split per channel
// on the way in and merged on the way out.

func allocPlanes(sf codec.StreamFormat, samples int) [][]byte {
	planes := make([][]byte, sf.Planes())
	for i := range planes {
		planes[i] = make([]byte, samples*sf.Stride())
	}
	return planes
}

// splitPlanes returns n samples of interleaved raw in the plane layout of sf.
// Interleaved formats alias raw.
func splitPlanes(sf codec.StreamFormat, raw []byte, n int) [][]byte {
	if !sf.Format.IsPlanar() {
		return [][]byte{raw[:n*sf.Stride()]}
	}
	ch, bps := sf.Layout.Channels(), sf.Format.BytesPerSample()
	planes := allocPlanes(sf, n)
	for i := range n {
		for c := range ch {
			off := (i*ch + c) * bps
			copy(planes[c][i*bps:], raw[off:off+bps])
		}
	}
	return planes
}

// joinPlanes returns n samples of planes as interleaved bytes.
func joinPlanes(sf codec.StreamFormat, planes [][]byte, n int) []byte {
	if !sf.Format.IsPlanar() {
		return planes[0][:n*sf.Stride()]
	}
	ch, bps := sf.Layout.Channels(), sf.Format.BytesPerSample()
	raw := make([]byte, n*ch*bps)
	for i := range n {
		for c := range ch {
			off := (i*ch + c) * bps
			copy(raw[off:off+bps], planes[c][i*bps:(i+1)*bps])
		}
	}
	return raw
}
