package transcribe

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/Branis333/brainink-speech/internal/audio"
	"github.com/Branis333/brainink-speech/internal/metrics"
)

// Adapter fronts the transcription engines with the contract the session
// loop relies on: decode whatever arrived, resample to the engine rate, skip
// buffers too short to transcribe, and swallow expected failures. A nil
// result with a nil error means "nothing usable this time"; the session goes
// on. Errors are reserved for configuration problems.
type Adapter struct {
	router          *Router[Engine]
	noise           *NoiseClient
	minAudioSeconds float64
	priorChars      int
}

// AdapterConfig wires the adapter. Noise is optional.
type AdapterConfig struct {
	Backends        map[string]Engine
	Fallback        string
	Noise           *NoiseClient
	MinAudioSeconds float64
	PriorTextChars  int
}

func NewAdapter(cfg AdapterConfig) *Adapter {
	return &Adapter{
		router:          NewRouter(cfg.Backends, cfg.Fallback),
		noise:           cfg.Noise,
		minAudioSeconds: cfg.MinAudioSeconds,
		priorChars:      cfg.PriorTextChars,
	}
}

// Engines returns the registered backend names.
func (a *Adapter) Engines() []string {
	return a.router.Engines()
}

// Has reports whether an engine name is registered.
func (a *Adapter) Has(engine string) bool {
	return a.router.Has(engine)
}

// Transcribe runs one dispatch over the session's full audio buffer.
func (a *Adapter) Transcribe(ctx context.Context, req Request) (*Result, error) {
	backend, err := a.router.Route(req.Engine)
	if err != nil {
		return nil, err
	}

	samples, ok := a.prepare(ctx, req)
	if !ok {
		metrics.SilentDispatches.Inc()
		return nil, nil
	}

	prior := priorTail(req.PriorText, a.priorChars)
	res, err := backend.Transcribe(ctx, samples, req.Language, prior)
	if err != nil {
		// Engine trouble does not kill a session; the next dispatch retries
		// over the full buffer anyway.
		slog.Warn("transcription failed", "engine", req.Engine, "error", err)
		metrics.SilentDispatches.Inc()
		return nil, nil
	}
	if res == nil || strings.TrimSpace(res.Text) == "" {
		metrics.SilentDispatches.Inc()
		return nil, nil
	}

	res.Text = strings.TrimSpace(res.Text)
	if res.DurationSeconds == 0 {
		res.DurationSeconds = audio.Duration(len(samples), audio.DefaultSampleRate)
	}
	return res, nil
}

// prepare decodes, downmixes and resamples the buffer to 16 kHz mono, then
// applies the minimum-duration gate and optional denoising. ok is false when
// the buffer produced nothing worth sending to an engine.
func (a *Adapter) prepare(ctx context.Context, req Request) (samples []float32, ok bool) {
	start := time.Now()

	samples, rate, err := audio.Decode(ctx, req.Data, req.Format, req.SampleRate)
	if err != nil {
		slog.Debug("undecodable audio buffer", "format", req.Format, "bytes", len(req.Data), "error", err)
		metrics.Errors.WithLabelValues("decode", "format").Inc()
		return nil, false
	}
	if req.Channels == 2 && req.Format == audio.FormatPCM16 {
		samples = audio.DownmixStereo(samples)
	}
	samples = audio.Resample(samples, rate, audio.DefaultSampleRate)
	metrics.StageDuration.WithLabelValues("decode").Observe(time.Since(start).Seconds())

	if d := audio.Duration(len(samples), audio.DefaultSampleRate); d < a.minAudioSeconds {
		slog.Debug("buffer below minimum duration", "seconds", d)
		return nil, false
	}

	if a.noise != nil {
		cleaned, err := a.noise.Denoise(ctx, samples)
		if err != nil {
			slog.Warn("denoise failed, using raw audio", "error", err)
		} else {
			samples = cleaned
		}
	}
	return samples, true
}

// priorTail returns the trailing maxChars of text, cut at a word boundary,
// for use as an engine prompt.
func priorTail(text string, maxChars int) string {
	if maxChars <= 0 || len(text) <= maxChars {
		return text
	}
	cut := text[len(text)-maxChars:]
	if text[len(text)-maxChars-1] == ' ' {
		return cut
	}
	if i := strings.IndexByte(cut, ' '); i >= 0 && i+1 < len(cut) {
		return cut[i+1:]
	}
	return cut
}
