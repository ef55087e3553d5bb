package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Branis333/brainink-speech/internal/archive"
	"github.com/Branis333/brainink-speech/internal/session"
	"github.com/Branis333/brainink-speech/internal/sidecar"
	"github.com/Branis333/brainink-speech/internal/transcribe"
)

// defaultArchivePageSize is how many archived sessions are returned when the
// caller omits the ?limit= query parameter.
const defaultArchivePageSize = 20

type deps struct {
	cfg       appConfig
	adapter   *transcribe.Adapter
	store     *session.Store
	archive   *archive.Store
	svcMgr    *sidecar.Manager
	monitor   *monitorHub
	wsHandler http.Handler
}

// registerRoutes wires all HTTP endpoints to the shared mux.
func registerRoutes(mux *http.ServeMux, d deps) {
	mux.Handle("/ws/transcribe", d.wsHandler)
	mux.HandleFunc("GET /health", d.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /api/engines", d.handleEngines)
	mux.HandleFunc("GET /api/sessions", d.handleSessions)
	mux.HandleFunc("GET /api/sessions/stream", d.handleSessionStream)
	mux.HandleFunc("GET /api/sessions/{id}", d.handleSession)
	mux.HandleFunc("GET /api/sessions/{id}/segments", d.handleSessionSegments)
	mux.HandleFunc("GET /api/sessions/{id}/transcript", d.handleSessionTranscript)
	mux.HandleFunc("GET /api/archive/sessions", d.handleArchiveList)
	mux.HandleFunc("GET /api/archive/sessions/{id}", d.handleArchiveSession)
	mux.HandleFunc("GET /api/archive/sessions/{id}/summary", d.handleArchiveSummary)
	mux.HandleFunc("GET /api/services", d.handleServices)
	mux.HandleFunc("POST /api/services/{name}/start", d.handleServiceStart)
	mux.HandleFunc("POST /api/services/{name}/stop", d.handleServiceStop)
	mux.HandleFunc("GET /api/services/{name}/status", d.handleServiceStatus)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func (d deps) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"status":          "ok",
		"active_sessions": d.store.Len(),
	})
}

func (d deps) handleEngines(w http.ResponseWriter, r *http.Request) {
	engines := d.adapter.Engines()
	sort.Strings(engines)
	writeJSON(w, map[string]any{
		"engines":             engines,
		"default":             d.cfg.defaultEngine,
		"supported_languages": d.cfg.supportedLanguages,
	})
}

func (d deps) handleSessions(w http.ResponseWriter, r *http.Request) {
	snaps := d.store.Snapshots()
	writeJSON(w, map[string]any{"sessions": snaps, "total": len(snaps)})
}

func (d deps) handleSession(w http.ResponseWriter, r *http.Request) {
	st, ok := d.store.Get(r.PathValue("id"))
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	writeJSON(w, st.Snapshot())
}

func (d deps) handleSessionSegments(w http.ResponseWriter, r *http.Request) {
	st, ok := d.store.Get(r.PathValue("id"))
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]any{
		"session_id":             st.ID(),
		"segments":               st.CompletedSegments(),
		"current_segment":        st.SegmentNumber(),
		"current_transcriptions": st.History(),
	})
}

func (d deps) handleSessionTranscript(w http.ResponseWriter, r *http.Request) {
	st, ok := d.store.Get(r.PathValue("id"))
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]any{
		"session_id": st.ID(),
		"language":   st.Language(),
		"text":       st.FullText(),
	})
}

// handleSessionStream feeds session lifecycle events to SSE subscribers.
func (d deps) handleSessionStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	flusher.Flush()

	ch := d.monitor.subscribe()
	defer d.monitor.unsubscribe(ch)
	slog.Info("session stream client connected", "remote", r.RemoteAddr)

	for {
		select {
		case <-r.Context().Done():
			slog.Info("session stream client disconnected", "remote", r.RemoteAddr)
			return
		case msg := <-ch:
			fmt.Fprintf(w, "data: %s\n\n", msg)
			flusher.Flush()
		}
	}
}

func (d deps) handleArchiveList(w http.ResponseWriter, r *http.Request) {
	if d.archive == nil {
		http.Error(w, "archive disabled", http.StatusNotFound)
		return
	}
	limit := queryInt(r, "limit", defaultArchivePageSize)
	offset := queryInt(r, "offset", 0)
	sessions, total, err := d.archive.ListSessions(limit, offset)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"sessions": sessions, "total": total})
}

func (d deps) handleArchiveSession(w http.ResponseWriter, r *http.Request) {
	if d.archive == nil {
		http.Error(w, "archive disabled", http.StatusNotFound)
		return
	}
	sess, segments, err := d.archive.GetSession(r.PathValue("id"))
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	resp := map[string]any{"session": sess, "segments": segments}
	if sum, err := d.archive.GetSummary(sess.ID); err == nil {
		resp["summary"] = sum
	}
	writeJSON(w, resp)
}

func (d deps) handleArchiveSummary(w http.ResponseWriter, r *http.Request) {
	if d.archive == nil {
		http.Error(w, "archive disabled", http.StatusNotFound)
		return
	}
	sum, err := d.archive.GetSummary(r.PathValue("id"))
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeJSON(w, sum)
}

func (d deps) handleServices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, d.svcMgr.StatusAll(r.Context()))
}

func (d deps) handleServiceStart(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	slog.Info("service start requested", "name", name)
	if err := d.svcMgr.Start(r.Context(), name); err != nil {
		slog.Error("service start failed", "name", name, "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	slog.Info("service started", "name", name)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"status": "starting"})
}

func (d deps) handleServiceStop(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	slog.Info("service stop requested", "name", name)
	if err := d.svcMgr.Stop(r.Context(), name); err != nil {
		slog.Error("service stop failed", "name", name, "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	slog.Info("service stopped", "name", name)
	writeJSON(w, map[string]string{"status": "stopped"})
}

func (d deps) handleServiceStatus(w http.ResponseWriter, r *http.Request) {
	info, err := d.svcMgr.Status(r.Context(), r.PathValue("name"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, info)
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
