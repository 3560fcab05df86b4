package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/daikin-cloud-core/internal/cloud"
	"github.com/nerrad567/daikin-cloud-core/internal/engine"
	"github.com/nerrad567/daikin-cloud-core/internal/infrastructure/config"
	"github.com/nerrad567/daikin-cloud-core/internal/infrastructure/logging"
	"github.com/nerrad567/daikin-cloud-core/internal/unit"
)

// apiDispatcher is a scriptable Dispatcher mock.
type apiDispatcher struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (d *apiDispatcher) dispatch(call, unitID string) (*unit.Command, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, call)
	if d.err != nil {
		return nil, d.err
	}
	return &unit.Command{ID: "cmd-1", UnitID: unitID}, nil
}

func (d *apiDispatcher) SetPower(_ context.Context, unitID string, _ bool) (*unit.Command, error) {
	return d.dispatch("power", unitID)
}

func (d *apiDispatcher) SetMode(_ context.Context, unitID string, _ unit.Mode) (*unit.Command, error) {
	return d.dispatch("mode", unitID)
}

func (d *apiDispatcher) SetTargetTemperature(_ context.Context, unitID string, _ float64) (*unit.Command, error) {
	return d.dispatch("temperature", unitID)
}

func (d *apiDispatcher) SetFanSpeed(_ context.Context, unitID string, _ unit.FanSpeed) (*unit.Command, error) {
	return d.dispatch("fan", unitID)
}

type apiSynchronizer struct {
	mu          sync.Mutex
	refreshed   int
	discoverErr error
}

func (s *apiSynchronizer) Refresh() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshed++
}

func (s *apiSynchronizer) Rediscover(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.discoverErr
}

type apiSessions struct{ unstable bool }

func (s *apiSessions) Unstable() bool { return s.unstable }

func testLogger() *logging.Logger {
	return logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stderr"}, "test")
}

func testConfig() *config.Config {
	return &config.Config{
		API: config.APIConfig{Host: "127.0.0.1", Port: 0},
	}
}

func newTestServer(t *testing.T) (*Server, *unit.Registry, *apiDispatcher, *apiSynchronizer) {
	t.Helper()

	registry := unit.NewRegistry(3)
	registry.ReplaceCatalog([]unit.Unit{
		{ID: "1", Name: "Living Room", Capabilities: unit.DefaultCapabilities()},
	})

	dispatcher := &apiDispatcher{}
	synchronizer := &apiSynchronizer{}

	s, err := New(Deps{
		Config:       testConfig(),
		Logger:       testLogger(),
		Registry:     registry,
		Dispatcher:   dispatcher,
		Synchronizer: synchronizer,
		Sessions:     &apiSessions{},
		Version:      "test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return s, registry, dispatcher, synchronizer
}

func doRequest(s *Server, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	s.buildRouter().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var resp errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding error body %q: %v", rec.Body.String(), err)
	}
	return resp
}

func TestServer_RequiredDeps(t *testing.T) {
	base := Deps{Config: testConfig(), Logger: testLogger(), Registry: unit.NewRegistry(3)}

	tests := []struct {
		name   string
		mutate func(*Deps)
	}{
		{"missing config", func(d *Deps) { d.Config = nil }},
		{"missing logger", func(d *Deps) { d.Logger = nil }},
		{"missing registry", func(d *Deps) { d.Registry = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := base
			tt.mutate(&deps)
			if _, err := New(deps); err == nil {
				t.Error("New() should fail")
			}
		})
	}

	if _, err := New(base); err != nil {
		t.Errorf("New() with required deps error = %v", err)
	}
}

func TestServer_Health(t *testing.T) {
	s, _, _, _ := newTestServer(t)

	rec := doRequest(s, http.MethodGet, "/api/v1/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp healthResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Status != "ok" || resp.Version != "test" {
		t.Errorf("health = %+v", resp)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID header missing from response")
	}
}

func TestServer_RequestIDHonoured(t *testing.T) {
	s, _, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "trace-me")
	rec := httptest.NewRecorder()
	s.buildRouter().ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-ID"); got != "trace-me" {
		t.Errorf("X-Request-ID = %q, want trace-me", got)
	}
}

func TestServer_ListAndGetUnits(t *testing.T) {
	s, _, _, _ := newTestServer(t)

	rec := doRequest(s, http.MethodGet, "/api/v1/units/", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var snaps []unit.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snaps); err != nil {
		t.Fatalf("decoding list: %v", err)
	}
	if len(snaps) != 1 || snaps[0].Unit.ID != "1" {
		t.Errorf("list = %+v", snaps)
	}

	rec = doRequest(s, http.MethodGet, "/api/v1/units/1/", "")
	if rec.Code != http.StatusOK {
		t.Errorf("get status = %d", rec.Code)
	}

	rec = doRequest(s, http.MethodGet, "/api/v1/units/nope/", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown unit status = %d, want 404", rec.Code)
	}
	if resp := decodeError(t, rec); resp.Code != ErrCodeNotFound {
		t.Errorf("code = %q, want %q", resp.Code, ErrCodeNotFound)
	}
}

func TestServer_Commands(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		body     string
		wantCall string
	}{
		{"power", "/api/v1/units/1/power", `{"on":true}`, "power"},
		{"mode", "/api/v1/units/1/mode", `{"mode":"cool"}`, "mode"},
		{"temperature", "/api/v1/units/1/temperature", `{"target_temp_c":21.5}`, "temperature"},
		{"fan", "/api/v1/units/1/fan", `{"fan_speed":"auto"}`, "fan"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _, dispatcher, _ := newTestServer(t)

			rec := doRequest(s, http.MethodPost, tt.path, tt.body)
			if rec.Code != http.StatusAccepted {
				t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
			}

			var resp commandResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decoding response: %v", err)
			}
			if resp.Command == nil || resp.Command.ID != "cmd-1" {
				t.Errorf("command = %+v", resp.Command)
			}

			dispatcher.mu.Lock()
			defer dispatcher.mu.Unlock()
			if len(dispatcher.calls) != 1 || dispatcher.calls[0] != tt.wantCall {
				t.Errorf("calls = %v, want [%s]", dispatcher.calls, tt.wantCall)
			}
		})
	}
}

func TestServer_CommandValidation(t *testing.T) {
	tests := []struct {
		name string
		path string
		body string
	}{
		{"power missing field", "/api/v1/units/1/power", `{}`},
		{"power malformed json", "/api/v1/units/1/power", `{"on":`},
		{"mode unknown", "/api/v1/units/1/mode", `{"mode":"heat_pump_overdrive"}`},
		{"mode missing", "/api/v1/units/1/mode", `{}`},
		{"temperature missing field", "/api/v1/units/1/temperature", `{}`},
		{"fan unknown speed", "/api/v1/units/1/fan", `{"fan_speed":"ludicrous"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _, dispatcher, _ := newTestServer(t)

			rec := doRequest(s, http.MethodPost, tt.path, tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			if resp := decodeError(t, rec); resp.Code != ErrCodeBadRequest {
				t.Errorf("code = %q", resp.Code)
			}

			dispatcher.mu.Lock()
			defer dispatcher.mu.Unlock()
			if len(dispatcher.calls) != 0 {
				t.Errorf("dispatcher called for invalid request: %v", dispatcher.calls)
			}
		})
	}
}

func TestServer_DomainErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"unknown unit", unit.ErrUnknownUnit, http.StatusNotFound, ErrCodeNotFound},
		{"invalid command", unit.ErrInvalidCommand, http.StatusBadRequest, ErrCodeBadRequest},
		{"unsupported", unit.ErrUnsupportedOperation, http.StatusUnprocessableEntity, ErrCodeUnsupported},
		{"in flight", unit.ErrCommandInFlight, http.StatusConflict, ErrCodeConflict},
		{"session unstable", cloud.ErrSessionUnstable, http.StatusServiceUnavailable, ErrCodeSessionUnstable},
		{"not configured", cloud.ErrNotConfigured, http.StatusServiceUnavailable, ErrCodeNotConfigured},
		{"submission failed", engine.ErrCommandSubmissionFailed, http.StatusBadGateway, ErrCodeCloudUnavailable},
		{"unauthorized", cloud.ErrUnauthorized, http.StatusBadGateway, ErrCodeCloudUnavailable},
		{"rejected", cloud.ErrCommandRejected, http.StatusBadGateway, ErrCodeCloudUnavailable},
		{"unexpected", errors.New("disk on fire"), http.StatusInternalServerError, ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _, dispatcher, _ := newTestServer(t)
			dispatcher.err = tt.err

			rec := doRequest(s, http.MethodPost, "/api/v1/units/1/power", `{"on":true}`)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if resp := decodeError(t, rec); resp.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", resp.Code, tt.wantCode)
			}
		})
	}
}

func TestServer_NilDispatcher(t *testing.T) {
	s, err := New(Deps{
		Config:   testConfig(),
		Logger:   testLogger(),
		Registry: unit.NewRegistry(3),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	for _, path := range []string{
		"/api/v1/units/1/power",
		"/api/v1/units/1/mode",
		"/api/v1/units/1/temperature",
		"/api/v1/units/1/fan",
	} {
		rec := doRequest(s, http.MethodPost, path, `{"on":true}`)
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("POST %s status = %d, want 503", path, rec.Code)
		}
	}

	// Synchronizer-backed endpoints degrade the same way.
	if rec := doRequest(s, http.MethodPost, "/api/v1/refresh", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("refresh status = %d, want 503", rec.Code)
	}
	if rec := doRequest(s, http.MethodPost, "/api/v1/discover", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("discover status = %d, want 503", rec.Code)
	}
}

func TestServer_Refresh(t *testing.T) {
	s, _, _, synchronizer := newTestServer(t)

	rec := doRequest(s, http.MethodPost, "/api/v1/refresh", "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}

	synchronizer.mu.Lock()
	defer synchronizer.mu.Unlock()
	if synchronizer.refreshed != 1 {
		t.Errorf("refreshed = %d, want 1", synchronizer.refreshed)
	}
}

func TestServer_Discover(t *testing.T) {
	s, _, _, synchronizer := newTestServer(t)

	rec := doRequest(s, http.MethodPost, "/api/v1/discover", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var snaps []unit.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snaps); err != nil {
		t.Fatalf("decoding discover response: %v", err)
	}
	if len(snaps) != 1 {
		t.Errorf("units = %d, want 1", len(snaps))
	}

	t.Run("failure maps to bad gateway", func(t *testing.T) {
		synchronizer.mu.Lock()
		synchronizer.discoverErr = cloud.ErrDiscoveryFailed
		synchronizer.mu.Unlock()

		rec := doRequest(s, http.MethodPost, "/api/v1/discover", "")
		if rec.Code != http.StatusBadGateway {
			t.Fatalf("status = %d, want 502", rec.Code)
		}
		if resp := decodeError(t, rec); resp.Code != ErrCodeCloudUnavailable {
			t.Errorf("code = %q", resp.Code)
		}
	})
}

func TestServer_SystemStatus(t *testing.T) {
	registry := unit.NewRegistry(3)
	registry.ReplaceCatalog([]unit.Unit{
		{ID: "1", Capabilities: unit.DefaultCapabilities()},
		{ID: "2", Capabilities: unit.DefaultCapabilities()},
	})

	s, err := New(Deps{
		Config:   testConfig(),
		Logger:   testLogger(),
		Registry: registry,
		Sessions: &apiSessions{unstable: true},
		Version:  "1.2.3",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	s.started = time.Now().Add(-time.Minute)

	rec := doRequest(s, http.MethodGet, "/api/v1/system/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp systemStatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding status: %v", err)
	}
	if resp.Version != "1.2.3" || resp.Units != 2 || !resp.SessionUnstable {
		t.Errorf("status = %+v", resp)
	}
	if resp.UptimeSeconds < 59 {
		t.Errorf("UptimeSeconds = %d", resp.UptimeSeconds)
	}
}

func TestServer_RecoversFromPanic(t *testing.T) {
	s, _, _, _ := newTestServer(t)

	router := s.buildRouter().(interface {
		Get(pattern string, h http.HandlerFunc)
		ServeHTTP(http.ResponseWriter, *http.Request)
	})
	router.Get("/boom", func(http.ResponseWriter, *http.Request) {
		panic("handler bug")
	})

	req := httptest.NewRequest(http.MethodGet, "/boom", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}
