package transcribe

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/Branis333/brainink-speech/internal/audio"
	"github.com/Branis333/brainink-speech/internal/metrics"
)

// OpenAIClient transcribes through the hosted audio transcriptions API. Used
// as the cloud alternative to a self-hosted whisper-server; both sit behind
// the same Engine interface.
type OpenAIClient struct {
	client openai.Client
	model  openai.AudioModel
}

// NewOpenAIClient creates a cloud transcription client. baseURL is optional
// and overrides the API endpoint for compatible gateways. model defaults to
// whisper-1.
func NewOpenAIClient(apiKey, baseURL, model string, poolSize int) *OpenAIClient {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(NewPooledHTTPClient(poolSize, 60*time.Second)),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	m := openai.AudioModelWhisper1
	if model != "" {
		m = openai.AudioModel(model)
	}
	return &OpenAIClient{
		client: openai.NewClient(opts...),
		model:  m,
	}
}

// Transcribe sends 16kHz mono samples as a WAV render. The hosted API does
// not report per-segment confidence, so Confidence stays zero.
func (c *OpenAIClient) Transcribe(ctx context.Context, samples []float32, language, prior string) (*Result, error) {
	start := time.Now()
	wavData := audio.SamplesToWAV(samples, audio.DefaultSampleRate)

	params := openai.AudioTranscriptionNewParams{
		File:  openai.File(bytes.NewReader(wavData), "audio.wav", "audio/wav"),
		Model: c.model,
	}
	if language != "" {
		params.Language = openai.String(language)
	}
	if prior != "" {
		params.Prompt = openai.String(prior)
	}

	resp, err := c.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		metrics.Errors.WithLabelValues("engine", "http").Inc()
		return nil, fmt.Errorf("openai transcription: %w", err)
	}

	metrics.EngineDuration.WithLabelValues("openai").Observe(time.Since(start).Seconds())

	return &Result{
		Text:     resp.Text,
		Language: language,
	}, nil
}
