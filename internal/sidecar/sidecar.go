// Package sidecar controls the lifecycle of locally managed speech services,
// typically a whisper-server instance behind its HTTP control endpoint. The
// transcription path never depends on it; it exists for the operational API.
package sidecar

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"
)

// Status is the lifecycle state of a managed service.
type Status string

const (
	// StatusStopped means the control endpoint reports no process.
	StatusStopped Status = "stopped"
	// StatusRunning means the process is up but not confirmed healthy.
	StatusRunning Status = "running"
	// StatusHealthy means the process is up and its health probe passed.
	StatusHealthy Status = "healthy"
	// StatusUnknown means the control endpoint itself is unreachable.
	StatusUnknown Status = "unknown"
)

// Service describes one managed sidecar: where to reach its control server
// and, optionally, a health URL on the service itself.
type Service struct {
	Kind       string
	ControlURL string
	HealthURL  string
}

// Info is the reported state of a managed service.
type Info struct {
	Name   string `json:"name"`
	Kind   string `json:"kind,omitempty"`
	Status Status `json:"status"`
}

// Manager starts, stops and inspects whitelisted sidecar services through
// their HTTP control servers. Only registered names can be controlled.
type Manager struct {
	client   *http.Client
	services map[string]Service
}

// NewManager creates a manager over a whitelist of services.
func NewManager(services map[string]Service) *Manager {
	return &Manager{
		client:   &http.Client{Timeout: 10 * time.Second},
		services: services,
	}
}

// Names returns the registered service names in stable order.
func (m *Manager) Names() []string {
	names := make([]string, 0, len(m.services))
	for name := range m.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (m *Manager) lookup(name string) (Service, error) {
	svc, ok := m.services[name]
	if !ok {
		return Service{}, fmt.Errorf("service %q not registered", name)
	}
	if svc.ControlURL == "" {
		return Service{}, fmt.Errorf("service %q has no control url", name)
	}
	return svc, nil
}

// Start launches a service through its control server.
func (m *Manager) Start(ctx context.Context, name string) error {
	return m.control(ctx, name, "start")
}

// Stop terminates a service through its control server.
func (m *Manager) Stop(ctx context.Context, name string) error {
	return m.control(ctx, name, "stop")
}

func (m *Manager) control(ctx context.Context, name, action string) error {
	svc, err := m.lookup(name)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, svc.ControlURL+"/"+action, nil)
	if err != nil {
		return err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", action, name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: control server returned %d", action, name, resp.StatusCode)
	}
	return nil
}

// Status reports a service's lifecycle state. An unreachable control server
// yields StatusUnknown rather than an error; the operational API keeps
// listing the service either way.
func (m *Manager) Status(ctx context.Context, name string) (Info, error) {
	svc, err := m.lookup(name)
	if err != nil {
		return Info{}, err
	}
	info := Info{Name: name, Kind: svc.Kind, Status: StatusUnknown}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, svc.ControlURL+"/status", nil)
	if err != nil {
		return info, nil
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return info, nil
	}
	defer resp.Body.Close()

	var state struct {
		Running bool `json:"running"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil || !state.Running {
		info.Status = StatusStopped
		return info, nil
	}

	info.Status = StatusRunning
	if svc.HealthURL != "" && m.healthy(ctx, svc.HealthURL) {
		info.Status = StatusHealthy
	}
	return info, nil
}

// StatusAll reports every registered service in name order.
func (m *Manager) StatusAll(ctx context.Context) []Info {
	infos := make([]Info, 0, len(m.services))
	for _, name := range m.Names() {
		info, err := m.Status(ctx, name)
		if err != nil {
			info = Info{Name: name, Status: StatusUnknown}
		}
		infos = append(infos, info)
	}
	return infos
}

func (m *Manager) healthy(ctx context.Context, url string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
