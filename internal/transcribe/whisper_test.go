package transcribe

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func fakeWhisperServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestWhisperClientTranscribe(t *testing.T) {
	var gotFormat, gotLanguage, gotPrompt, gotFilename string
	var gotWAVHeader string

	srv := fakeWhisperServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/inference" {
			t.Errorf("path = %q, want /inference", r.URL.Path)
		}
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		gotFormat = r.FormValue("response_format")
		gotLanguage = r.FormValue("language")
		gotPrompt = r.FormValue("prompt")

		file, hdr, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		defer file.Close()
		gotFilename = hdr.Filename
		head := make([]byte, 4)
		file.Read(head)
		gotWAVHeader = string(head)

		fmt.Fprint(w, `{
			"text": " Hello world.",
			"language": "en",
			"duration": 2.5,
			"segments": [
				{"text": " Hello", "avg_logprob": -0.1},
				{"text": " world.", "avg_logprob": -0.3}
			]
		}`)
	})

	c := NewWhisperClient(srv.URL, 4)
	res, err := c.Transcribe(context.Background(), make([]float32, 16000), "en", "prior context")
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}

	if gotFormat != "verbose_json" {
		t.Errorf("response_format = %q, want verbose_json", gotFormat)
	}
	if gotLanguage != "en" {
		t.Errorf("language field = %q, want en", gotLanguage)
	}
	if gotPrompt != "prior context" {
		t.Errorf("prompt field = %q, want %q", gotPrompt, "prior context")
	}
	if gotFilename != "audio.wav" {
		t.Errorf("filename = %q, want audio.wav", gotFilename)
	}
	if gotWAVHeader != "RIFF" {
		t.Errorf("uploaded file header = %q, want RIFF", gotWAVHeader)
	}

	if res.Text != " Hello world." {
		t.Errorf("text = %q, want raw server text", res.Text)
	}
	if res.Language != "en" {
		t.Errorf("language = %q, want en", res.Language)
	}
	if res.DurationSeconds != 2.5 {
		t.Errorf("duration = %g, want 2.5", res.DurationSeconds)
	}
	wantConf := (math.Exp(-0.1) + math.Exp(-0.3)) / 2
	if math.Abs(res.Confidence-wantConf) > 1e-9 {
		t.Errorf("confidence = %g, want %g", res.Confidence, wantConf)
	}
}

func TestWhisperClientOmitsEmptyFields(t *testing.T) {
	srv := fakeWhisperServer(t, func(w http.ResponseWriter, r *http.Request) {
		r.ParseMultipartForm(32 << 20)
		if _, ok := r.MultipartForm.Value["language"]; ok {
			t.Error("language field sent despite being empty")
		}
		if _, ok := r.MultipartForm.Value["prompt"]; ok {
			t.Error("prompt field sent despite being empty")
		}
		fmt.Fprint(w, `{"text": "ok"}`)
	})

	c := NewWhisperClient(srv.URL, 4)
	res, err := c.Transcribe(context.Background(), make([]float32, 16000), "", "")
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if res.Confidence != 0 {
		t.Errorf("confidence without segments = %g, want 0", res.Confidence)
	}
}

func TestWhisperClientServerError(t *testing.T) {
	srv := fakeWhisperServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	})

	c := NewWhisperClient(srv.URL, 4)
	_, err := c.Transcribe(context.Background(), make([]float32, 16000), "", "")
	if err == nil {
		t.Fatal("expected error for 500 response")
	}
	if !strings.Contains(err.Error(), "500") {
		t.Errorf("error should carry the status code: %v", err)
	}
}

func TestWhisperClientWarmup(t *testing.T) {
	var warmed bool
	srv := fakeWhisperServer(t, func(w http.ResponseWriter, r *http.Request) {
		warmed = true
		fmt.Fprint(w, `{"text": ""}`)
	})

	c := NewWhisperClient(srv.URL, 4)
	if err := c.Warmup(context.Background()); err != nil {
		t.Fatalf("warmup: %v", err)
	}
	if !warmed {
		t.Error("warmup never reached the server")
	}

	down := NewWhisperClient("http://127.0.0.1:1", 4)
	if err := down.Warmup(context.Background()); err == nil {
		t.Error("warmup against a dead server should fail")
	}
}
