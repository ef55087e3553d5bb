package audio

import (
	"context"
	"math"
)

// G.711 telephony audio is always 8 kHz mono.
const g711Rate = 8000

var ulawTable [256]int16
var alawTable [256]int16

func init() {
	for i := range 256 {
		ulawTable[i] = expandULaw(byte(i))
		alawTable[i] = expandALaw(byte(i))
	}
}

func decodeULawBytes(_ context.Context, data []byte, _ int) ([]float32, int, error) {
	samples := make([]float32, len(data))
	for i, b := range data {
		samples[i] = float32(ulawTable[b]) / math.MaxInt16
	}
	return samples, g711Rate, nil
}

func decodeALawBytes(_ context.Context, data []byte, _ int) ([]float32, int, error) {
	samples := make([]float32, len(data))
	for i, b := range data {
		samples[i] = float32(alawTable[b]) / math.MaxInt16
	}
	return samples, g711Rate, nil
}

func expandULaw(b byte) int16 {
	b = ^b
	sign := int16(1)
	if b&0x80 != 0 {
		sign = -1
		b &= 0x7F
	}
	exponent := int16((b >> 4) & 0x07)
	mantissa := int16(b & 0x0F)
	sample := (mantissa<<3 + 0x84) << exponent
	sample -= 0x84
	return sign * sample
}

func expandALaw(b byte) int16 {
	b ^= 0x55
	sign := int16(1)
	if b&0x80 == 0 {
		sign = -1
	}
	b &= 0x7F
	exponent := int16((b >> 4) & 0x07)
	mantissa := int16(b & 0x0F)
	if exponent == 0 {
		return sign * (mantissa<<4 + 8)
	}
	return sign * ((mantissa<<4 + 0x108) << (exponent - 1))
}
