// Package audio holds the G.711 mu-law codec used on the Twilio media stream
// and the WAV sink that records outbound call audio.
package audio

import (
	"encoding/binary"
	"fmt"
)

// TwilioSampleRate is the only rate Twilio media streams carry.
const TwilioSampleRate = 8000

const (
	mulawBias = 0x84
	mulawClip = 32635
)

// EncodeMulaw converts 16-bit linear samples to G.711 mu-law bytes.
func EncodeMulaw(samples []int16) []byte {
	out := make([]byte, len(samples))
	for i, s := range samples {
		out[i] = encodeMulawSample(s)
	}
	return out
}

// DecodeMulaw converts G.711 mu-law bytes to 16-bit linear samples.
func DecodeMulaw(data []byte) []int16 {
	out := make([]int16, len(data))
	for i, b := range data {
		out[i] = decodeMulawSample(b)
	}
	return out
}

func encodeMulawSample(s int16) byte {
	sample := int32(s)
	var sign byte
	if sample < 0 {
		sample = -sample
		sign = 0x80
	}
	if sample > mulawClip {
		sample = mulawClip
	}
	sample += mulawBias

	exponent := byte(7)
	for mask := int32(0x4000); sample&mask == 0 && exponent > 0; mask >>= 1 {
		exponent--
	}
	mantissa := byte(sample>>(exponent+3)) & 0x0F
	return ^(sign | exponent<<4 | mantissa)
}

func decodeMulawSample(b byte) int16 {
	b = ^b
	exponent := (b >> 4) & 0x07
	mantissa := int32(b & 0x0F)
	sample := ((mantissa << 3) + mulawBias) << exponent
	sample -= mulawBias
	if b&0x80 != 0 {
		return int16(-sample)
	}
	return int16(sample)
}

// SamplesFromPCM16 reads little-endian signed 16-bit PCM.
func SamplesFromPCM16(pcm []byte) ([]int16, error) {
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("pcm16 payload has odd length %d", len(pcm))
	}
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return samples, nil
}

// Resample converts between sample rates with linear interpolation.
// Speech at telephone bandwidth does not need a better filter.
func Resample(samples []int16, fromRate, toRate int) []int16 {
	if fromRate == toRate || len(samples) == 0 || fromRate <= 0 || toRate <= 0 {
		return samples
	}

	outLen := int(int64(len(samples)) * int64(toRate) / int64(fromRate))
	out := make([]int16, outLen)
	step := float64(fromRate) / float64(toRate)
	last := len(samples) - 1
	for i := range out {
		pos := float64(i) * step
		idx := int(pos)
		if idx >= last {
			out[i] = samples[last]
			continue
		}
		frac := pos - float64(idx)
		out[i] = int16(float64(samples[idx])*(1-frac) + float64(samples[idx+1])*frac)
	}
	return out
}

// PCM16ToMulaw converts little-endian PCM at sampleRate into 8 kHz mu-law
// ready for a Twilio media frame.
func PCM16ToMulaw(pcm []byte, sampleRate int) ([]byte, error) {
	samples, err := SamplesFromPCM16(pcm)
	if err != nil {
		return nil, err
	}
	return EncodeMulaw(Resample(samples, sampleRate, TwilioSampleRate)), nil
}
