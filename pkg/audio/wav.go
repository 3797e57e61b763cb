package audio

import (
	"bytes"
	"encoding/binary"
)

// WrapWAV wraps raw little-endian PCM16 data in a minimal RIFF/WAVE
// container (format 1, 16-bit).
func WrapWAV(pcm []byte, sampleRate, channels int) []byte {
	dataSize := uint32(len(pcm))
	byteRate := uint32(sampleRate * channels * 2)
	blockAlign := uint16(channels * 2)

	var buf bytes.Buffer
	buf.Grow(44 + len(pcm))
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36)+dataSize)
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1))
	binary.Write(&buf, binary.LittleEndian, uint16(channels))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, byteRate)
	binary.Write(&buf, binary.LittleEndian, blockAlign)
	binary.Write(&buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, dataSize)
	buf.Write(pcm)
	return buf.Bytes()
}

// MuLawToWAV decodes an 8kHz mu-law payload, upsamples it to 16kHz mono
// PCM16, and wraps it in a WAV container ready for upload.
func MuLawToWAV(payload []byte) []byte {
	pcm := Upsample2x(DecodeMuLaw(payload))
	return WrapWAV(pcm, 16000, 1)
}

// Linear16ToWAV upsamples an 8kHz PCM16 payload to 16kHz mono and wraps
// it in a WAV container ready for upload.
func Linear16ToWAV(payload []byte) []byte {
	return WrapWAV(Upsample2x(payload), 16000, 1)
}
