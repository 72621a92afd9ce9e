package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"execution-core/internal/events"
	"execution-core/internal/microrisk"
	"execution-core/internal/monitor"
	"execution-core/internal/safety"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	shadows := microrisk.NewShadowManager(time.Second)
	engine := microrisk.NewEngine(microrisk.DefaultEngineConfig(), shadows, microrisk.NewPriceBook(100, 0.05), nil, nil, nil, nil, nil)
	metrics := monitor.NewSystemMetrics()
	alerts := monitor.NewRecorder(32, metrics)
	dispatcher := events.NewDispatcher(events.DefaultConfig())

	return NewServer(nil, safety.NewManager(), dispatcher, engine, nil, metrics, alerts,
		SystemMeta{DryRun: true, Symbols: []string{"AAPL"}, Version: "test"})
}

func doRequest(t *testing.T, s *Server, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.Router.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)
	w := doRequest(t, s, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestStatusEndpoint(t *testing.T) {
	s := newTestServer(t)
	w := doRequest(t, s, http.MethodGet, "/api/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"meta", "safety", "degradation", "risk_cycles", "metrics"} {
		if _, ok := resp[key]; !ok {
			t.Fatalf("status response missing %q: %v", key, resp)
		}
	}
	if resp["degradation"] != "NORMAL" {
		t.Fatalf("degradation = %v", resp["degradation"])
	}
}

func TestShadowsEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.Engine.Shadows().AddPosition(microrisk.MainPosition{
		Symbol: "AAPL", Qty: 100, AvgEntry: 150, Strategy: microrisk.StrategyScalp, EntryTime: time.Now(),
	}, time.Now())

	w := doRequest(t, s, http.MethodGet, "/api/shadows", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		Shadows []shadowView `json:"shadows"`
		Count   int          `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Count != 1 || resp.Shadows[0].Symbol != "AAPL" || resp.Shadows[0].Qty != 100 {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestRecentAlertsEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.Alerts.Notify("FS104", "kill switch engaged")
	s.Alerts.Notify("GR074", "partial exit failed")

	w := doRequest(t, s, http.MethodGet, "/api/alerts/recent?limit=1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		Alerts []monitor.AlertRecord `json:"alerts"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp.Alerts) != 1 || resp.Alerts[0].Code != "GR074" {
		t.Fatalf("alerts = %+v, want the newest only", resp.Alerts)
	}
}

func TestQueuesEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.Dispatcher.Dispatch(context.Background(), events.New(events.TypePriceTick, nil))

	w := doRequest(t, s, http.MethodGet, "/api/queues", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		Queues map[string]events.QueueStats `json:"queues"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp.Queues) != 4 {
		t.Fatalf("queues = %+v, want all four tiers", resp.Queues)
	}
	if resp.Queues["P1"].Size != 1 {
		t.Fatalf("P1 size = %d, want the dispatched tick", resp.Queues["P1"].Size)
	}
}

func TestRecoveryEndpoint(t *testing.T) {
	s := newTestServer(t)

	// Drive safety to LOCKDOWN with two consecutive fail-safes.
	s.Safety.ApplyFailSafe("FS090") // FAIL
	s.Safety.ApplyFailSafe("FS090") // LOCKDOWN

	body, _ := json.Marshal(recoveryRequest{OperatorApproved: false})
	w := doRequest(t, s, http.MethodPost, "/api/safety/recover", body)
	if w.Code != http.StatusConflict {
		t.Fatalf("unapproved recovery from lockdown: status = %d, want 409", w.Code)
	}

	body, _ = json.Marshal(recoveryRequest{OperatorApproved: true})
	w = doRequest(t, s, http.MethodPost, "/api/safety/recover", body)
	if w.Code != http.StatusOK {
		t.Fatalf("approved recovery: status = %d, body = %s", w.Code, w.Body.String())
	}
	if got := s.Safety.Level(); got != safety.LevelNormal {
		t.Fatalf("level after recovery = %v, want NORMAL", got)
	}
}

func TestSubmitOrder(t *testing.T) {
	s := newTestServer(t)

	body, _ := json.Marshal(orderRequest{Symbol: "AAPL", Side: "BUY", Qty: 100, Price: 100.5})
	w := doRequest(t, s, http.MethodPost, "/api/orders", body)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	// The signal sits in P2 until a consumer drains it.
	if got := s.Dispatcher.Stats()["P2"].Size; got != 1 {
		t.Fatalf("P2 size = %d, want 1", got)
	}
}

func TestSubmitOrderValidation(t *testing.T) {
	s := newTestServer(t)
	w := doRequest(t, s, http.MethodPost, "/api/orders", []byte(`{"side":"BUY"}`))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestFeedbackEndpointsUnavailableWithoutBackends(t *testing.T) {
	s := newTestServer(t)
	if w := doRequest(t, s, http.MethodGet, "/api/feedback/AAPL/summary", nil); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("summary status = %d, want 503", w.Code)
	}
	if w := doRequest(t, s, http.MethodGet, "/api/feedback/AAPL/recent", nil); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("recent status = %d, want 503", w.Code)
	}
}
