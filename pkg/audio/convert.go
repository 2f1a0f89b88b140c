// Package audio provides pure conversion helpers for the Voxlingo audio path:
// interleaved little-endian PCM16 ↔ normalized float32 samples, raw bytes ↔
// base64 for wire transport, and linear-interpolation resampling.
//
// All functions are stateless and safe for concurrent use.
package audio

import (
	"encoding/base64"
	"fmt"
	"math"
)

// DecodeBase64 decodes a standard base64 string into raw bytes.
func DecodeBase64(s string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("audio: decode base64: %w", err)
	}
	return data, nil
}

// EncodeBase64 encodes raw bytes as a standard base64 string.
func EncodeBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// Int16BytesToFloat32 converts interleaved little-endian PCM16 bytes into
// normalized float32 samples in [-1, 1]. A trailing odd byte is dropped.
func Int16BytesToFloat32(pcm []byte) []float32 {
	samples := make([]float32, 0, len(pcm)/2)
	for i := 0; i+1 < len(pcm); i += 2 {
		s := int16(pcm[i]) | int16(pcm[i+1])<<8
		samples = append(samples, float32(s)/32768.0)
	}
	return samples
}

// Float32ToInt16Bytes converts normalized float32 samples in [-1, 1] into
// interleaved little-endian PCM16 bytes. Samples outside the valid range are
// clamped rather than wrapped.
func Float32ToInt16Bytes(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, f := range samples {
		if f > 1 {
			f = 1
		} else if f < -1 {
			f = -1
		}
		s := int16(f * 32767)
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

// Float32ToBytes serialises float32 samples as little-endian IEEE-754 bytes,
// the layout browser clients decode with Float32Array.
func Float32ToBytes(samples []float32) []byte {
	out := make([]byte, len(samples)*4)
	for i, f := range samples {
		bits := math.Float32bits(f)
		out[i*4] = byte(bits)
		out[i*4+1] = byte(bits >> 8)
		out[i*4+2] = byte(bits >> 16)
		out[i*4+3] = byte(bits >> 24)
	}
	return out
}

// BytesToFloat32 deserialises little-endian IEEE-754 bytes into float32
// samples. Trailing bytes that do not form a full sample are dropped.
func BytesToFloat32(data []byte) []float32 {
	samples := make([]float32, 0, len(data)/4)
	for i := 0; i+3 < len(data); i += 4 {
		bits := uint32(data[i]) | uint32(data[i+1])<<8 | uint32(data[i+2])<<16 | uint32(data[i+3])<<24
		samples = append(samples, math.Float32frombits(bits))
	}
	return samples
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using
// linear interpolation. The input must be little-endian int16 samples. If
// srcRate == dstRate, the input is returned unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 {
		return pcm
	}
	if srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]byte, dstSamples*2)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstSamples {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := int16(pcm[srcIdx*2]) | int16(pcm[srcIdx*2+1])<<8
		var s1 int16
		if srcIdx+1 < srcSamples {
			s1 = int16(pcm[(srcIdx+1)*2]) | int16(pcm[(srcIdx+1)*2+1])<<8
		} else {
			s1 = s0
		}

		interpolated := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		out[i*2] = byte(interpolated)
		out[i*2+1] = byte(interpolated >> 8)
	}
	return out
}
