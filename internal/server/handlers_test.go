package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/careflow/akimon/internal/config"
	"github.com/careflow/akimon/internal/metrics"
)

func newTestCollector() *metrics.Collector {
	return metrics.NewCollector(metrics.NewRegistry())
}

func TestHandlerStats(t *testing.T) {
	c := newTestCollector()
	defer c.Close()
	c.SetPhase(metrics.PhaseListening)
	c.MessageReceived()
	c.BloodTest(103.5)

	h := &handlers{collector: c}
	req := httptest.NewRequest("GET", "/api/v1/stats", nil)
	rec := httptest.NewRecorder()

	h.stats(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status code = %d, want 200", rec.Code)
	}

	ct := rec.Header().Get("Content-Type")
	if ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var snap metrics.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if snap.Phase != metrics.PhaseListening {
		t.Errorf("Phase = %q, want %q", snap.Phase, metrics.PhaseListening)
	}
	if snap.Messages != 1 {
		t.Errorf("Messages = %d, want 1", snap.Messages)
	}
	if snap.BloodTestAverage != 103.5 {
		t.Errorf("BloodTestAverage = %v, want 103.5", snap.BloodTestAverage)
	}
}

func TestHandlerConfig(t *testing.T) {
	c := newTestCollector()
	defer c.Close()

	cfg := config.Defaults()
	h := &handlers{collector: c, cfg: &cfg}
	req := httptest.NewRequest("GET", "/api/v1/config", nil)
	rec := httptest.NewRecorder()

	h.configHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status code = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), cfg.MLLP.Address) {
		t.Error("response should contain the MLLP address")
	}
}

func TestHandlerConfigNil(t *testing.T) {
	c := newTestCollector()
	defer c.Close()

	h := &handlers{collector: c, cfg: nil}
	req := httptest.NewRequest("GET", "/api/v1/config", nil)
	rec := httptest.NewRecorder()

	h.configHandler(rec, req)

	if !strings.Contains(rec.Body.String(), "no config available") {
		t.Error("expected 'no config available' error message")
	}
}

func TestHandlerLogs(t *testing.T) {
	c := newTestCollector()
	defer c.Close()

	c.AddLog(metrics.LogEntry{Level: "info", Message: "test log"})

	h := &handlers{collector: c}
	req := httptest.NewRequest("GET", "/api/v1/logs", nil)
	rec := httptest.NewRecorder()

	h.logs(rec, req)

	var logs []metrics.LogEntry
	if err := json.Unmarshal(rec.Body.Bytes(), &logs); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("expected 1 log, got %d", len(logs))
	}
	if logs[0].Message != "test log" {
		t.Errorf("log message = %q, want 'test log'", logs[0].Message)
	}
}

func TestHandlerCORS(t *testing.T) {
	c := newTestCollector()
	defer c.Close()

	h := &handlers{collector: c}
	req := httptest.NewRequest("GET", "/api/v1/stats", nil)
	rec := httptest.NewRecorder()

	h.stats(rec, req)

	cors := rec.Header().Get("Access-Control-Allow-Origin")
	if cors != "*" {
		t.Errorf("CORS header = %q, want *", cors)
	}
}
