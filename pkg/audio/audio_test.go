package audio

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestDecodeMuLawSilence(t *testing.T) {
	s := DecodeMuLawSample(MuLawSilence)
	if s != 0 {
		t.Fatalf("silence decoded to %d", s)
	}
}

func TestDecodeMuLawSignsAndMagnitude(t *testing.T) {
	// 0x00 is the most negative codeword, 0x80 the most positive.
	neg := DecodeMuLawSample(0x00)
	pos := DecodeMuLawSample(0x80)
	if neg >= 0 || pos <= 0 {
		t.Fatalf("signs wrong: neg=%d pos=%d", neg, pos)
	}
	if neg != -pos {
		t.Fatalf("magnitude asymmetric: neg=%d pos=%d", neg, pos)
	}
}

func TestDecodeMuLawLength(t *testing.T) {
	out := DecodeMuLaw([]byte{0xFF, 0x00, 0x80})
	if len(out) != 6 {
		t.Fatalf("len = %d", len(out))
	}
}

func TestRMS(t *testing.T) {
	silent := make([]byte, 320)
	if got := RMS(silent); got != 0 {
		t.Fatalf("silent RMS = %f", got)
	}
	loud := make([]byte, 320)
	for i := 0; i < len(loud); i += 2 {
		binary.LittleEndian.PutUint16(loud[i:], uint16(int16(16000)))
	}
	got := RMS(loud)
	if got < 15999 || got > 16001 {
		t.Fatalf("loud RMS = %f", got)
	}
	if RMS(nil) != 0 {
		t.Fatalf("empty RMS not zero")
	}
}

func TestUpsample2xDoublesSamples(t *testing.T) {
	in := make([]byte, 8)
	binary.LittleEndian.PutUint16(in[0:], uint16(int16(100)))
	binary.LittleEndian.PutUint16(in[2:], uint16(int16(200)))
	binary.LittleEndian.PutUint16(in[4:], uint16(int16(300)))
	binary.LittleEndian.PutUint16(in[6:], uint16(int16(400)))
	out := Upsample2x(in)
	if len(out) != 16 {
		t.Fatalf("len = %d", len(out))
	}
	// Interpolated sample between 100 and 200 is 150.
	mid := int16(binary.LittleEndian.Uint16(out[4:]))
	if mid != 150 {
		t.Fatalf("mid = %d", mid)
	}
}

func TestWrapWAVHeader(t *testing.T) {
	pcm := make([]byte, 320)
	wav := WrapWAV(pcm, 16000, 1)
	if len(wav) != 44+320 {
		t.Fatalf("len = %d", len(wav))
	}
	if !bytes.Equal(wav[0:4], []byte("RIFF")) || !bytes.Equal(wav[8:12], []byte("WAVE")) {
		t.Fatalf("bad container magic")
	}
	if rate := binary.LittleEndian.Uint32(wav[24:]); rate != 16000 {
		t.Fatalf("rate = %d", rate)
	}
	if bits := binary.LittleEndian.Uint16(wav[34:]); bits != 16 {
		t.Fatalf("bits = %d", bits)
	}
	if size := binary.LittleEndian.Uint32(wav[40:]); size != 320 {
		t.Fatalf("data size = %d", size)
	}
}

func TestMuLawToWAV(t *testing.T) {
	wav := MuLawToWAV(make([]byte, 160))
	// 160 mu-law samples become 320 PCM16 samples at 16kHz.
	if size := binary.LittleEndian.Uint32(wav[40:]); size != 640 {
		t.Fatalf("data size = %d", size)
	}
}

func TestLinear16ToWAV(t *testing.T) {
	wav := Linear16ToWAV(make([]byte, 320))
	// 160 PCM16 samples become 320 samples at 16kHz.
	if size := binary.LittleEndian.Uint32(wav[40:]); size != 640 {
		t.Fatalf("data size = %d", size)
	}
	if rate := binary.LittleEndian.Uint32(wav[24:]); rate != 16000 {
		t.Fatalf("rate = %d", rate)
	}
}

func TestSilenceFrames(t *testing.T) {
	frames := SilenceFrames(3, 160)
	if len(frames) != 3 || len(frames[0]) != 160 {
		t.Fatalf("shape wrong: %d x %d", len(frames), len(frames[0]))
	}
	if frames[1][0] != MuLawSilence {
		t.Fatalf("not silence")
	}
}
