package audio

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestEncodeWAVHeader(t *testing.T) {
	pcm := make([]byte, 3200)
	for i := 0; i < len(pcm)/2; i++ {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(i*10-8000)))
	}

	out, err := EncodeWAV(pcm, 16000, 1)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}
	if !IsWAV(out) {
		t.Fatal("Expected RIFF/WAVE header")
	}
	if len(out) != 44+len(pcm) {
		t.Errorf("Expected %d bytes, got %d", 44+len(pcm), len(out))
	}
	if rate := binary.LittleEndian.Uint32(out[24:28]); rate != 16000 {
		t.Errorf("Expected sample rate 16000 in header, got %d", rate)
	}

	decoded, rate, err := DecodeWAV(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("DecodeWAV failed: %v", err)
	}
	if rate != 16000 {
		t.Errorf("Expected decoded rate 16000, got %d", rate)
	}
	if !bytes.Equal(decoded, pcm) {
		t.Error("Expected decoded PCM to match input")
	}
}

func TestDecodeWAVRejectsRawPCM(t *testing.T) {
	if _, _, err := DecodeWAV(bytes.NewReader(make([]byte, 512))); err == nil {
		t.Error("Expected error for headerless input")
	}
	if IsWAV([]byte("RIFF")) {
		t.Error("Expected short input not to be detected as wav")
	}
}
