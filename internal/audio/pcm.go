package audio

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
)

func decodeRawPCM(_ context.Context, data []byte, hintRate int) ([]float32, int, error) {
	if len(data)%2 != 0 {
		return nil, 0, fmt.Errorf("pcm16 payload has odd length %d", len(data))
	}
	return pcm16ToFloat(data), hintRate, nil
}

func pcm16ToFloat(data []byte) []float32 {
	n := len(data) / 2
	samples := make([]float32, n)
	for i := range n {
		s := int16(binary.LittleEndian.Uint16(data[i*2:]))
		samples[i] = float32(s) / math.MaxInt16
	}
	return samples
}

// SamplesToPCM16 renders samples as headerless little-endian pcm16, the wire
// form audio_chunk payloads use. Values outside [-1, 1] are clipped.
func SamplesToPCM16(samples []float32) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(int16(s*math.MaxInt16)))
	}
	return buf
}
