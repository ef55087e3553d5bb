package main

import (
	"strings"
	"time"

	"github.com/Branis333/brainink-speech/internal/config"
	"github.com/Branis333/brainink-speech/internal/env"
)

type appConfig struct {
	port string

	whisperURL        string
	whisperControlURL string
	openaiAPIKey      string
	openaiBaseURL     string
	openaiModel       string
	noiseURL          string

	defaultEngine      string
	defaultLanguage    string
	supportedLanguages []string

	asrPoolSize   int
	maxConcurrent int
	sessionTTL    time.Duration
	sweepInterval time.Duration

	archiveDSN string

	analyzeEngine    string
	analyzeModel     string
	analyzeMaxTokens int
	analyzeTimeout   time.Duration
	ollamaURL        string
	ollamaModel      string
	llmPoolSize      int

	tuning *config.Tuning
}

// loadConfig reads the environment and the optional tuning file. Scalar
// tuning knobs resolve env over file over defaults.
func loadConfig() (appConfig, error) {
	tuning, err := config.Load(env.Str("SPEECH_TUNING_FILE", ""))
	if err != nil {
		return appConfig{}, err
	}
	tuning.Chunks.MinBytes = env.Int("MIN_CHUNK_BYTES", tuning.Chunks.MinBytes)
	tuning.Dispatch.EveryChunks = env.Int("DISPATCH_EVERY_CHUNKS", tuning.Dispatch.EveryChunks)
	tuning.Dispatch.MinBytes = env.Int("DISPATCH_MIN_BYTES", tuning.Dispatch.MinBytes)
	tuning.Dispatch.MinAudioSeconds = env.Float("MIN_AUDIO_SECONDS", tuning.Dispatch.MinAudioSeconds)
	tuning.Dispatch.PriorTextChars = env.Int("PRIOR_TEXT_CHARS", tuning.Dispatch.PriorTextChars)
	tuning.Segments.MaxSeconds = env.Float("SEGMENT_MAX_SECONDS", tuning.Segments.MaxSeconds)
	tuning.Segments.MinSeconds = env.Float("SEGMENT_MIN_SECONDS", tuning.Segments.MinSeconds)
	tuning.Segments.MinWords = env.Int("SEGMENT_MIN_WORDS", tuning.Segments.MinWords)
	if err := tuning.Validate(); err != nil {
		return appConfig{}, err
	}

	return appConfig{
		port: env.Str("SPEECHD_PORT", "8100"),

		whisperURL:        env.Str("WHISPER_SERVER_URL", "http://localhost:8178"),
		whisperControlURL: env.Str("WHISPER_CONTROL_URL", ""),
		openaiAPIKey:      env.Str("OPENAI_API_KEY", ""),
		openaiBaseURL:     env.Str("OPENAI_BASE_URL", ""),
		openaiModel:       env.Str("OPENAI_STT_MODEL", ""),
		noiseURL:          env.Str("NOISE_URL", ""),

		defaultEngine:      env.Str("DEFAULT_ENGINE", "whisper"),
		defaultLanguage:    env.Str("DEFAULT_LANGUAGE", ""),
		supportedLanguages: splitCSV(env.Str("SUPPORTED_LANGUAGES", "en,es,fr,de,it,pt,nl,ja,ko,zh")),

		asrPoolSize:   env.Int("ASR_POOL_SIZE", 50),
		maxConcurrent: env.Int("MAX_CONCURRENT_SESSIONS", 100),
		sessionTTL:    env.Duration("SESSION_TTL", 5*time.Minute),
		sweepInterval: env.Duration("SWEEP_INTERVAL", 30*time.Second),

		archiveDSN: env.Str("ARCHIVE_DSN", ""),

		analyzeEngine:    env.Str("ANALYZE_ENGINE", ""),
		analyzeModel:     env.Str("ANALYZE_MODEL", "gpt-4o-mini"),
		analyzeMaxTokens: env.Int("ANALYZE_MAX_TOKENS", 512),
		analyzeTimeout:   env.Duration("ANALYZE_TIMEOUT", 2*time.Minute),
		ollamaURL:        env.Str("OLLAMA_URL", "http://localhost:11434"),
		ollamaModel:      env.Str("OLLAMA_MODEL", "llama3.2:3b"),
		llmPoolSize:      env.Int("LLM_POOL_SIZE", 10),

		tuning: tuning,
	}, nil
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
