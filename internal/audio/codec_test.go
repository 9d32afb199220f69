package audio

import (
	"encoding/binary"
	"testing"
)

func TestEncodeMulaw_KnownValues(t *testing.T) {
	tests := []struct {
		sample   int16
		expected byte
	}{
		{0, 0xFF},
		{32767, 0x80},
		{-32768, 0x00},
	}

	for _, tt := range tests {
		got := EncodeMulaw([]int16{tt.sample})[0]
		if got != tt.expected {
			t.Errorf("EncodeMulaw(%d): Expected 0x%02X, got 0x%02X", tt.sample, tt.expected, got)
		}
	}
}

func TestDecodeMulaw_KnownValues(t *testing.T) {
	decoded := DecodeMulaw([]byte{0xFF, 0x80, 0x00})
	expected := []int16{0, 32124, -32124}
	for i := range expected {
		if decoded[i] != expected[i] {
			t.Errorf("index %d: Expected %d, got %d", i, expected[i], decoded[i])
		}
	}
}

func TestMulaw_RoundTripWithinQuantization(t *testing.T) {
	for _, s := range []int16{-30000, -5000, -100, 0, 100, 1000, 5000, 30000} {
		got := DecodeMulaw(EncodeMulaw([]int16{s}))[0]
		diff := int(got) - int(s)
		if diff < 0 {
			diff = -diff
		}
		// decoding truncates to the bottom of a segment step, at most 1/16 of the magnitude
		mag := int(s)
		if mag < 0 {
			mag = -mag
		}
		limit := mag/16 + 8
		if diff > limit {
			t.Errorf("sample %d: round trip gave %d (diff %d > %d)", s, got, diff, limit)
		}
	}
}

func TestSamplesFromPCM16(t *testing.T) {
	pcm := make([]byte, 4)
	binary.LittleEndian.PutUint16(pcm[0:], uint16(1000))
	neg := int16(-1000)
	binary.LittleEndian.PutUint16(pcm[2:], uint16(neg))

	samples, err := SamplesFromPCM16(pcm)
	if err != nil {
		t.Fatalf("SamplesFromPCM16 failed: %v", err)
	}
	if samples[0] != 1000 || samples[1] != -1000 {
		t.Errorf("Expected [1000 -1000], got %v", samples)
	}

	if _, err := SamplesFromPCM16([]byte{1, 2, 3}); err == nil {
		t.Error("Expected error for odd-length payload")
	}
}

func TestResample(t *testing.T) {
	samples := make([]int16, 2400) // 100ms at 24kHz
	for i := range samples {
		samples[i] = int16(i % 1000)
	}

	out := Resample(samples, 24000, 8000)
	if len(out) != 800 {
		t.Errorf("Expected 800 samples, got %d", len(out))
	}
	if same := Resample(samples, 8000, 8000); len(same) != len(samples) {
		t.Errorf("Expected passthrough for equal rates, got %d samples", len(same))
	}
}

func TestPCM16ToMulaw(t *testing.T) {
	pcm := make([]byte, 1600) // 800 samples at 16kHz
	out, err := PCM16ToMulaw(pcm, 16000)
	if err != nil {
		t.Fatalf("PCM16ToMulaw failed: %v", err)
	}
	if len(out) != 400 {
		t.Errorf("Expected 400 mu-law bytes, got %d", len(out))
	}
	for i, b := range out {
		if b != 0xFF {
			t.Fatalf("index %d: Expected silence 0xFF, got 0x%02X", i, b)
		}
	}
}
