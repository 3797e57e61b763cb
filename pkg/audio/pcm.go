package audio

import "math"

// RMS computes the root mean square amplitude of little-endian PCM16 bytes
// in raw sample units (0..32767). A trailing odd byte is ignored.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum2 float64
	for i := 0; i < n; i++ {
		s := int16(uint16(pcm[i*2]) | uint16(pcm[i*2+1])<<8)
		f := float64(s)
		sum2 += f * f
	}
	return math.Sqrt(sum2 / float64(n))
}

// Upsample2x doubles the sample rate of little-endian PCM16 bytes by linear
// interpolation. Telephony audio arrives at 8kHz; batch STT models want 16kHz.
func Upsample2x(pcm []byte) []byte {
	n := len(pcm) / 2
	if n == 0 {
		return nil
	}
	out := make([]byte, n*4)
	prev := int16(uint16(pcm[0]) | uint16(pcm[1])<<8)
	for i := 0; i < n; i++ {
		cur := int16(uint16(pcm[i*2]) | uint16(pcm[i*2+1])<<8)
		mid := int16((int32(prev) + int32(cur)) / 2)
		out[i*4] = byte(mid)
		out[i*4+1] = byte(mid >> 8)
		out[i*4+2] = byte(cur)
		out[i*4+3] = byte(cur >> 8)
		prev = cur
	}
	return out
}
