package audio

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// ffmpegDecoder returns a decoder that pipes a container stream (webm, ogg)
// through ffmpeg to mono 16 kHz s16le. Browser MediaRecorder streams are only
// decodable from the start of the stream, which matches the append-only buffer
// model: every decode sees the stream from byte zero.
func ffmpegDecoder(container string) decodeFunc {
	return func(ctx context.Context, data []byte, _ int) ([]float32, int, error) {
		raw, err := runFFmpeg(ctx, container, data, DefaultSampleRate)
		if err != nil {
			return nil, 0, err
		}
		return pcm16ToFloat(raw), DefaultSampleRate, nil
	}
}

// ffmpeg -f <container> -i pipe:0 -ac 1 -ar <rate> -f s16le pipe:1
func runFFmpeg(ctx context.Context, container string, data []byte, rate int) ([]byte, error) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, fmt.Errorf("ffmpeg not available: %w", err)
	}

	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-hide_banner", "-loglevel", "error",
		"-f", container, "-i", "pipe:0",
		"-ac", "1", "-ar", strconv.Itoa(rate),
		"-f", "s16le",
		"pipe:1",
	)
	cmd.Stdin = bytes.NewReader(data)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail != "" {
			return nil, fmt.Errorf("ffmpeg: %w: %s", err, detail)
		}
		return nil, fmt.Errorf("ffmpeg: %w", err)
	}
	return stdout.Bytes(), nil
}
