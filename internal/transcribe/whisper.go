package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/Branis333/brainink-speech/internal/audio"
	"github.com/Branis333/brainink-speech/internal/metrics"
)

// WhisperClient sends audio as multipart WAV to a whisper-server /inference
// endpoint and parses the verbose response, including per-segment confidence.
type WhisperClient struct {
	url    string
	client *http.Client
}

// NewWhisperClient creates a client for whisper-server (whisper.cpp).
func NewWhisperClient(url string, poolSize int) *WhisperClient {
	return &WhisperClient{
		url:    url,
		client: NewPooledHTTPClient(poolSize, 60*time.Second),
	}
}

// Warmup sends a tiny silent clip to verify the server is responsive and the
// model is loaded.
func (c *WhisperClient) Warmup(ctx context.Context) error {
	silence := make([]float32, audio.DefaultSampleRate) // 1 second
	body, contentType, err := buildMultipartAudio(silence, "", "")
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, "POST", c.url+"/inference", body)
	if err != nil {
		return fmt.Errorf("create warmup request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("whisper warmup: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("whisper warmup status %d", resp.StatusCode)
	}
	return nil
}

// Transcribe sends 16kHz mono samples and returns the transcription, or nil
// when the server heard nothing.
func (c *WhisperClient) Transcribe(ctx context.Context, samples []float32, language, prior string) (*Result, error) {
	start := time.Now()

	body, contentType, err := buildMultipartAudio(samples, language, prior)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.url+"/inference", body)
	if err != nil {
		return nil, fmt.Errorf("create whisper request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.client.Do(req)
	if err != nil {
		metrics.Errors.WithLabelValues("engine", "http").Inc()
		return nil, fmt.Errorf("whisper request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		metrics.Errors.WithLabelValues("engine", "status").Inc()
		return nil, fmt.Errorf("whisper status %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed whisperResponse
	if err = json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		metrics.Errors.WithLabelValues("engine", "decode").Inc()
		return nil, fmt.Errorf("decode whisper response: %w", err)
	}

	metrics.EngineDuration.WithLabelValues("whisper").Observe(time.Since(start).Seconds())

	return &Result{
		Text:            parsed.Text,
		Language:        parsed.Language,
		DurationSeconds: parsed.Duration,
		Confidence:      parsed.confidence(),
	}, nil
}

type whisperResponse struct {
	Text     string  `json:"text"`
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
	Segments []struct {
		Text       string  `json:"text"`
		AvgLogprob float64 `json:"avg_logprob"`
	} `json:"segments"`
}

// confidence averages exp(avg_logprob) over segments, clamped to [0, 1].
// Zero when the server returned no segment detail.
func (r *whisperResponse) confidence() float64 {
	if len(r.Segments) == 0 {
		return 0
	}
	var sum float64
	for _, seg := range r.Segments {
		sum += math.Exp(seg.AvgLogprob)
	}
	conf := sum / float64(len(r.Segments))
	return max(0, min(1, conf))
}

func buildMultipartAudio(samples []float32, language, prior string) (*bytes.Buffer, string, error) {
	wavData := audio.SamplesToWAV(samples, audio.DefaultSampleRate)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if _, err = part.Write(wavData); err != nil {
		return nil, "", fmt.Errorf("write wav data: %w", err)
	}

	if err = writer.WriteField("response_format", "verbose_json"); err != nil {
		return nil, "", fmt.Errorf("write form field: %w", err)
	}
	if language != "" {
		if err = writer.WriteField("language", language); err != nil {
			return nil, "", fmt.Errorf("write form field: %w", err)
		}
	}
	if prior != "" {
		if err = writer.WriteField("prompt", prior); err != nil {
			return nil, "", fmt.Errorf("write form field: %w", err)
		}
	}

	if err = writer.Close(); err != nil {
		return nil, "", fmt.Errorf("close writer: %w", err)
	}
	return &body, writer.FormDataContentType(), nil
}
