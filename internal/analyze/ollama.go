package analyze

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Branis333/brainink-speech/internal/metrics"
	"github.com/Branis333/brainink-speech/internal/prompts"
	"github.com/Branis333/brainink-speech/internal/transcribe"
)

// OllamaClient summarizes sessions through a local Ollama server.
type OllamaClient struct {
	url       string
	model     string
	maxTokens int
	client    *http.Client
}

// NewOllamaClient creates an Ollama /api/chat client.
func NewOllamaClient(url, model string, maxTokens, poolSize int) *OllamaClient {
	return &OllamaClient{
		url:       url,
		model:     model,
		maxTokens: maxTokens,
		client:    transcribe.NewPooledHTTPClient(poolSize, 120*time.Second),
	}
}

// Summarize sends the transcript to Ollama and assembles the streamed reply.
func (c *OllamaClient) Summarize(ctx context.Context, req Request) (*Summary, error) {
	user := prompts.Summary(req.Language, req.Speakers, req.Segments, req.DurationSeconds, req.FullText)
	reqBody := ollamaRequest{
		Model:  c.model,
		Stream: true,
		Options: ollamaOptions{
			NumPredict: c.maxTokens,
		},
		Messages: []ollamaMessage{
			{Role: "system", Content: prompts.SummarySystem},
			{Role: "user", Content: user},
		},
	}
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal ollama request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.url+"/api/chat", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("create ollama request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		metrics.Errors.WithLabelValues("analyze", "http").Inc()
		return nil, fmt.Errorf("ollama request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.Errors.WithLabelValues("analyze", "status").Inc()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("ollama status %d: %s", resp.StatusCode, body)
	}

	text, err := consumeChatStream(resp.Body)
	if err != nil {
		return nil, err
	}
	sum := parseSummary(text)
	return &sum, nil
}

// consumeChatStream accumulates message content from an Ollama streaming
// response. Thinking tokens from reasoning models are dropped so they never
// leak into the summary.
func consumeChatStream(body io.Reader) (string, error) {
	var buf strings.Builder
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var chunk ollamaStreamChunk
		if json.Unmarshal(scanner.Bytes(), &chunk) != nil {
			continue
		}
		if chunk.Done {
			break
		}
		buf.WriteString(chunk.Message.Content)
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("ollama stream: %w", err)
	}
	return buf.String(), nil
}

type ollamaRequest struct {
	Model    string          `json:"model"`
	Stream   bool            `json:"stream"`
	Messages []ollamaMessage `json:"messages"`
	Options  ollamaOptions   `json:"options"`
}

type ollamaMessage struct {
	Role     string `json:"role"`
	Content  string `json:"content"`
	Thinking string `json:"thinking,omitempty"`
}

type ollamaOptions struct {
	NumPredict int `json:"num_predict"`
}

type ollamaStreamChunk struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
}
