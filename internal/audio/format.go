package audio

import (
	"context"
	"fmt"
	"strings"
)

// Format identifies the encoding of audio bytes arriving over the wire.
type Format string

const (
	FormatPCM16 Format = "pcm16"
	FormatWAV   Format = "wav"
	FormatULaw  Format = "ulaw"
	FormatALaw  Format = "alaw"
	FormatWebM  Format = "webm"
	FormatOgg   Format = "ogg"
)

// DefaultSampleRate is the rate assumed for raw PCM when the client does not
// negotiate one, and the rate container formats are decoded to.
const DefaultSampleRate = 16000

// decodeFunc converts encoded bytes to float32 PCM in [-1, 1] and reports the
// sample rate of the result. hintRate is the client-negotiated rate; formats
// with a fixed or self-described rate ignore it.
type decodeFunc func(ctx context.Context, data []byte, hintRate int) ([]float32, int, error)

var decoders = map[Format]decodeFunc{
	FormatPCM16: decodeRawPCM,
	FormatWAV:   decodeWAVBytes,
	FormatULaw:  decodeULawBytes,
	FormatALaw:  decodeALawBytes,
	FormatWebM:  ffmpegDecoder("webm"),
	FormatOgg:   ffmpegDecoder("ogg"),
}

// ParseFormat normalizes a client-supplied format name. MIME-style names
// ("audio/webm;codecs=opus") are accepted since browser recorders report
// those. Unknown names are an error so the session can reject them at
// negotiation time.
func ParseFormat(name string) (Format, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	if i := strings.IndexByte(n, ';'); i >= 0 {
		n = strings.TrimSpace(n[:i])
	}
	n = strings.TrimPrefix(n, "audio/")
	n = strings.TrimPrefix(n, "x-")
	switch n {
	case "", "pcm", "pcm16", "s16le", "linear16":
		return FormatPCM16, nil
	case "wav", "wave":
		return FormatWAV, nil
	case "ulaw", "mulaw", "g711_ulaw":
		return FormatULaw, nil
	case "alaw", "g711_alaw":
		return FormatALaw, nil
	case "webm":
		return FormatWebM, nil
	case "ogg", "oga", "opus":
		return FormatOgg, nil
	}
	return "", fmt.Errorf("unsupported audio format: %q", name)
}

// Supported lists the format names accepted by ParseFormat, for handshake payloads.
func Supported() []string {
	return []string{"pcm16", "wav", "ulaw", "alaw", "webm", "ogg"}
}

// Decode converts encoded audio bytes to float32 PCM samples normalized to
// [-1, 1]. Returns samples and their sample rate.
func Decode(ctx context.Context, data []byte, format Format, hintRate int) ([]float32, int, error) {
	dec, ok := decoders[format]
	if !ok {
		return nil, 0, fmt.Errorf("unsupported audio format: %q", format)
	}
	if hintRate <= 0 {
		hintRate = DefaultSampleRate
	}
	return dec(ctx, data, hintRate)
}

// Duration reports the play time in seconds of n samples at the given rate.
func Duration(n, sampleRate int) float64 {
	if sampleRate <= 0 {
		return 0
	}
	return float64(n) / float64(sampleRate)
}

// DownmixStereo averages interleaved stereo samples to mono. Inputs with an
// odd length drop the trailing sample.
func DownmixStereo(samples []float32) []float32 {
	out := make([]float32, len(samples)/2)
	for i := range out {
		out[i] = (samples[i*2] + samples[i*2+1]) / 2
	}
	return out
}
