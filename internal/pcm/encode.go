// Package pcm converts floating-point audio samples into 16-bit PCM.
package pcm

import "encoding/binary"

// Encode converts float samples into packed little-endian 16-bit PCM.
// Samples outside [-1, 1] are clamped. Negative samples scale by 32768 and
// non-negative samples by 32767 so both ends of the signed range are
// reachable.
func Encode(samples []float32) []byte {
	return Append(make([]byte, 0, len(samples)*2), samples)
}

// Append encodes samples onto dst, reusing its capacity.
func Append(dst []byte, samples []float32) []byte {
	for _, s := range samples {
		dst = binary.LittleEndian.AppendUint16(dst, uint16(Sample(s)))
	}
	return dst
}

// Sample converts a single float sample to its 16-bit value.
func Sample(s float32) int16 {
	if s > 1 {
		s = 1
	}
	if s < -1 {
		s = -1
	}
	if s < 0 {
		return int16(s * 32768)
	}
	return int16(s * 32767)
}
