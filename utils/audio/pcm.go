// Package audio converts between the float32 samples used by the platform
// audio devices and the signed 16-bit little-endian PCM carried on the wire.
package audio

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// SampleRate is the protocol sample rate. Capture, playback and the remote
// peer must all agree on it; there is no negotiation.
const SampleRate = 24000

// Channels is fixed to mono in both directions.
const Channels = 1

const (
	pcmMax = 32767
	pcmMin = -32768

	pcmScale       = 32768.0
	bytesPerSample = 2
)

// EncodePCM16 maps each sample s to clamp(round(s*32768), -32768, 32767).
// Out of range input is clamped, never wrapped.
func EncodePCM16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		v := math.Round(float64(s) * pcmScale)
		switch {
		case v > pcmMax:
			v = pcmMax
		case v < pcmMin:
			v = pcmMin
		case math.IsNaN(v):
			v = 0
		}
		out[i] = int16(v)
	}
	return out
}

// DecodePCM16 maps each sample v to v/32768.
func DecodePCM16(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, v := range samples {
		out[i] = float32(v) / pcmScale
	}
	return out
}

// PCM16ToBytes packs samples little-endian.
func PCM16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*bytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*bytesPerSample:], uint16(s))
	}
	return out
}

// BytesToPCM16 unpacks little-endian samples. The buffer length must be
// even; a trailing odd byte is ignored.
func BytesToPCM16(data []byte) []int16 {
	out := make([]int16, len(data)/bytesPerSample)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(data[i*bytesPerSample:]))
	}
	return out
}

// EncodeFrame turns a captured float frame into a wire-ready binary payload.
func EncodeFrame(samples []float32) []byte {
	return PCM16ToBytes(EncodePCM16(samples))
}

// DecodeFrame turns an inbound binary payload into float samples for output.
func DecodeFrame(data []byte) []float32 {
	return DecodePCM16(BytesToPCM16(data))
}

// ValidatePCMData checks that pcm holds whole PCM16 sample frames for
// numChannels interleaved channels.
func ValidatePCMData(pcm []byte, numChannels int) error {
	if numChannels <= 0 {
		return fmt.Errorf("audio: invalid channel count %d", numChannels)
	}
	if frame := bytesPerSample * numChannels; len(pcm)%frame != 0 {
		return fmt.Errorf("audio: %d bytes is not a whole number of %d-byte frames", len(pcm), frame)
	}
	return nil
}

// FrameDuration is the playback length of a mono PCM16 buffer.
func FrameDuration(numBytes, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	samples := numBytes / bytesPerSample
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}
