package transcribe

import (
	"context"
	"fmt"

	"github.com/Branis333/brainink-speech/internal/audio"
)

// Result is a usable transcription of an audio buffer. Engines and the
// adapter return nil (with a nil error) when the audio produced nothing
// usable; that outcome is ordinary, not exceptional.
type Result struct {
	Text            string  `json:"text"`
	Language        string  `json:"language,omitempty"`
	DurationSeconds float64 `json:"duration_seconds"`
	Confidence      float64 `json:"confidence,omitempty"`
}

// Engine transcribes 16 kHz mono samples. language is empty for
// auto-detection; prior is recent transcript text used to bias decoding.
type Engine interface {
	Transcribe(ctx context.Context, samples []float32, language, prior string) (*Result, error)
}

// Request is one adapter dispatch: the session's full audio buffer plus the
// context the engine call needs.
type Request struct {
	Engine     string
	Data       []byte
	Format     audio.Format
	SampleRate int
	Channels   int
	Language   string
	PriorText  string
}

// Router dispatches to a backend by engine name with a fallback default.
type Router[T any] struct {
	backends map[string]T
	fallback string
}

// NewRouter creates a router over the given backends. Unknown engine names
// route to the fallback.
func NewRouter[T any](backends map[string]T, fallback string) *Router[T] {
	return &Router[T]{backends: backends, fallback: fallback}
}

// Route returns the backend for engine, falling back to the default.
func (r *Router[T]) Route(engine string) (T, error) {
	if backend, ok := r.backends[engine]; ok {
		return backend, nil
	}
	if backend, ok := r.backends[r.fallback]; ok {
		return backend, nil
	}
	var zero T
	return zero, fmt.Errorf("no backend for engine %q", engine)
}

// Has reports whether engine has a registered backend.
func (r *Router[T]) Has(engine string) bool {
	_, ok := r.backends[engine]
	return ok
}

// Engines returns the names of all registered backends.
func (r *Router[T]) Engines() []string {
	names := make([]string, 0, len(r.backends))
	for k := range r.backends {
		names = append(names, k)
	}
	return names
}
