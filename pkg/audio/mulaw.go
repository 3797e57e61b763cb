// Package audio holds the small PCM toolbox the pipeline needs: G.711
// mu-law decode, naive resampling, energy measurement, and a WAV container
// writer for batch transcription uploads.
package audio

// DecodeMuLawSample expands one G.711 mu-law byte to a linear PCM16 sample.
func DecodeMuLawSample(u byte) int16 {
	u = ^u
	sign := u & 0x80
	exp := (u >> 4) & 0x07
	mant := u & 0x0F
	value := (int(mant) << 3) + 0x84
	value <<= uint(exp)
	value -= 0x84
	if sign != 0 {
		return int16(-value)
	}
	return int16(value)
}

// DecodeMuLaw expands a mu-law payload into little-endian PCM16 bytes.
func DecodeMuLaw(payload []byte) []byte {
	out := make([]byte, len(payload)*2)
	for i, b := range payload {
		s := DecodeMuLawSample(b)
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

// MuLawSilence is the mu-law encoding of a zero-amplitude sample.
const MuLawSilence = 0xFF

// SilenceFrames returns n mu-law frames of frameLen silent bytes each.
// Used as the last-resort synthesized audio when every TTS vendor is down.
func SilenceFrames(n, frameLen int) [][]byte {
	frames := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		buf := make([]byte, frameLen)
		for j := range buf {
			buf[j] = MuLawSilence
		}
		frames = append(frames, buf)
	}
	return frames
}
