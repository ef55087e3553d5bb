package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Tuning holds the pipeline knobs that shape segmentation, dispatch cadence
// and transcript hygiene. Service-level settings (ports, URLs, pool sizes)
// stay in the binary's env config; this file is for the numbers operators
// adjust per deployment.
type Tuning struct {
	Chunks   ChunkTuning    `yaml:"chunks"`
	Dispatch DispatchTuning `yaml:"dispatch"`
	Segments SegmentTuning  `yaml:"segments"`
	Text     TextTuning     `yaml:"text"`
}

// ChunkTuning controls per-chunk admission into the session buffer.
type ChunkTuning struct {
	// Chunks smaller than this are counted but not buffered.
	MinBytes int `yaml:"min_bytes"`
}

// DispatchTuning controls when the accumulated buffer is sent for transcription.
type DispatchTuning struct {
	// Dispatch on every Nth processed chunk.
	EveryChunks int `yaml:"every_chunks"`
	// Also dispatch when this many bytes arrived since the last dispatch.
	MinBytes int `yaml:"min_bytes"`
	// Decoded audio shorter than this is skipped without calling an engine.
	MinAudioSeconds float64 `yaml:"min_audio_seconds"`
	// Trailing characters of session text passed to the engine as prior context.
	PriorTextChars int `yaml:"prior_text_chars"`
}

// SegmentTuning controls when an open segment is sealed.
type SegmentTuning struct {
	MaxSeconds        float64  `yaml:"max_seconds"`
	MinSeconds        float64  `yaml:"min_seconds"`
	MinWords          int      `yaml:"min_words"`
	MarkerWindowChars int      `yaml:"marker_window_chars"`
	DiscourseMarkers  []string `yaml:"discourse_markers"`
}

// TextTuning controls transcript hygiene.
type TextTuning struct {
	// Transcriptions equal to a stoplist entry (case-insensitive, trailing
	// punctuation ignored) are dropped as recognizer artifacts.
	Stoplist []string `yaml:"stoplist"`
}

// Default returns a Tuning with the values the pipeline was calibrated with.
func Default() *Tuning {
	return &Tuning{
		Chunks: ChunkTuning{
			MinBytes: 1000,
		},
		Dispatch: DispatchTuning{
			EveryChunks:     3,
			MinBytes:        32768,
			MinAudioSeconds: 0.5,
			PriorTextChars:  200,
		},
		Segments: SegmentTuning{
			MaxSeconds:        120,
			MinSeconds:        30,
			MinWords:          50,
			MarkerWindowChars: 100,
			DiscourseMarkers: []string{
				"however",
				"therefore",
				"moving on",
				"next topic",
				"in conclusion",
				"let's discuss",
				"now let's",
				"to summarize",
				"finally",
				"first",
				"second",
				"third",
			},
		},
		Text: TextTuning{
			Stoplist: []string{
				"thank you",
				"thanks for watching",
				"you",
				"bye",
				"[music]",
				"[applause]",
				"[blank_audio]",
			},
		},
	}
}

// Load reads and parses a YAML tuning file. Missing fields keep their
// defaults. An empty path returns the defaults unchanged.
func Load(path string) (*Tuning, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading tuning file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing tuning file: %w", err)
	}
	return cfg, nil
}

// Validate checks the tuning for values the pipeline cannot run with.
func (t *Tuning) Validate() error {
	if t.Chunks.MinBytes < 0 {
		return fmt.Errorf("chunks.min_bytes must be >= 0")
	}
	if t.Dispatch.EveryChunks <= 0 {
		return fmt.Errorf("dispatch.every_chunks must be > 0")
	}
	if t.Dispatch.MinBytes <= 0 {
		return fmt.Errorf("dispatch.min_bytes must be > 0")
	}
	if t.Dispatch.MinAudioSeconds < 0.3 || t.Dispatch.MinAudioSeconds > 1.0 {
		return fmt.Errorf("dispatch.min_audio_seconds must be between 0.3 and 1.0, got %g", t.Dispatch.MinAudioSeconds)
	}
	if t.Dispatch.PriorTextChars < 0 {
		return fmt.Errorf("dispatch.prior_text_chars must be >= 0")
	}
	if t.Segments.MaxSeconds <= 0 {
		return fmt.Errorf("segments.max_seconds must be > 0")
	}
	if t.Segments.MinSeconds <= 0 || t.Segments.MinSeconds > t.Segments.MaxSeconds {
		return fmt.Errorf("segments.min_seconds must be > 0 and <= segments.max_seconds")
	}
	if t.Segments.MinWords < 0 {
		return fmt.Errorf("segments.min_words must be >= 0")
	}
	if t.Segments.MarkerWindowChars <= 0 {
		return fmt.Errorf("segments.marker_window_chars must be > 0")
	}
	return nil
}
