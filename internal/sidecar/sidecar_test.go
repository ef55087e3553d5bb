package sidecar

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// fakeControl is a minimal stand-in for a whisper-control style server.
type fakeControl struct {
	mu      sync.Mutex
	running bool
	hits    []string
}

func (f *fakeControl) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hits = append(f.hits, r.Method+" "+r.URL.Path)
	switch r.URL.Path {
	case "/start":
		f.running = true
		w.WriteHeader(http.StatusOK)
	case "/stop":
		f.running = false
		w.WriteHeader(http.StatusOK)
	case "/status":
		json.NewEncoder(w).Encode(map[string]bool{"running": f.running})
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeControl) paths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.hits...)
}

func TestManagerStartStop(t *testing.T) {
	ctl := &fakeControl{}
	srv := httptest.NewServer(ctl)
	defer srv.Close()

	m := NewManager(map[string]Service{
		"whisper": {Kind: "stt", ControlURL: srv.URL},
	})

	if err := m.Start(context.Background(), "whisper"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := m.Stop(context.Background(), "whisper"); err != nil {
		t.Fatalf("stop: %v", err)
	}
	want := []string{"POST /start", "POST /stop"}
	got := ctl.paths()
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("control calls = %v, want %v", got, want)
	}

	if err := m.Start(context.Background(), "ghost"); err == nil {
		t.Error("start of an unregistered service did not fail")
	}
}

func TestManagerStartErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no binary", http.StatusInternalServerError)
	}))
	defer srv.Close()

	m := NewManager(map[string]Service{"whisper": {ControlURL: srv.URL}})
	if err := m.Start(context.Background(), "whisper"); err == nil {
		t.Error("expected an error for a 500 from the control server")
	}
}

func TestManagerStatusMapping(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer failing.Close()

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	down.Close() // keep the URL but refuse connections

	newControl := func(running bool) *httptest.Server {
		return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]bool{"running": running})
		}))
	}
	stopped := newControl(false)
	defer stopped.Close()
	running := newControl(true)
	defer running.Close()

	tests := []struct {
		name string
		svc  Service
		want Status
	}{
		{"control reports stopped", Service{ControlURL: stopped.URL}, StatusStopped},
		{"running without health url", Service{ControlURL: running.URL}, StatusRunning},
		{"running and health passes", Service{ControlURL: running.URL, HealthURL: healthy.URL}, StatusHealthy},
		{"running but health fails", Service{ControlURL: running.URL, HealthURL: failing.URL}, StatusRunning},
		{"control unreachable", Service{ControlURL: down.URL}, StatusUnknown},
	}
	for _, tt := range tests {
		m := NewManager(map[string]Service{"svc": tt.svc})
		info, err := m.Status(context.Background(), "svc")
		if err != nil {
			t.Errorf("%s: %v", tt.name, err)
			continue
		}
		if info.Status != tt.want {
			t.Errorf("%s: status = %q, want %q", tt.name, info.Status, tt.want)
		}
	}
}

func TestStatusAllStableOrder(t *testing.T) {
	ctl := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]bool{"running": true})
	}))
	defer ctl.Close()

	m := NewManager(map[string]Service{
		"whisper": {Kind: "stt", ControlURL: ctl.URL},
		"denoise": {Kind: "noise", ControlURL: ctl.URL},
	})
	infos := m.StatusAll(context.Background())
	if len(infos) != 2 {
		t.Fatalf("got %d infos, want 2", len(infos))
	}
	if infos[0].Name != "denoise" || infos[1].Name != "whisper" {
		t.Errorf("order = %s, %s; want denoise, whisper", infos[0].Name, infos[1].Name)
	}
	if infos[0].Status != StatusRunning {
		t.Errorf("status = %q, want running", infos[0].Status)
	}
}
