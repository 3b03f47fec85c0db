package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"Go2NetFlow/internal/engine/impl/flow"
	"Go2NetFlow/internal/engine/impl/flow/statistic"
	"Go2NetFlow/internal/model"
	"Go2NetFlow/internal/query"

	"github.com/prometheus/client_golang/prometheus"
)

func newTestServer(t *testing.T, q query.Querier) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(NewRouter(q, prometheus.NewRegistry()))
	t.Cleanup(server.Close)
	return server
}

func tableQuerier(t *testing.T) query.Querier {
	t.Helper()
	table := flow.NewTable(statistic.RecordConfig{ActivityTimeout: 5 * time.Second}, 0)
	client, server := net.ParseIP("2001:db8::1"), net.ParseIP("2001:db8::2")
	observations := []model.Observation{
		{FiveTuple: model.FiveTuple{SrcIP: client, DstIP: server, SrcPort: 5000, DstPort: 443, Protocol: 6}, Packet: model.NewPacket(100, model.Timestamp{Secs: 1}, 0, 34525, 0), SNI: "example.com"},
		{FiveTuple: model.FiveTuple{SrcIP: server, DstIP: client, SrcPort: 443, DstPort: 5000, Protocol: 6}, Packet: model.NewPacket(900, model.Timestamp{Secs: 2}, 0, 34525, 1)},
	}
	for _, obs := range observations {
		if _, err := table.Ingest(obs); err != nil {
			t.Fatalf("Failed to ingest: %v", err)
		}
	}
	return query.NewTableQuerier(table)
}

func get(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s failed: %v", url, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response body: %v", err)
	}
	return resp, body
}

func TestHandlers(t *testing.T) {
	server := newTestServer(t, tableQuerier(t))

	// 1. List flows
	resp, body := get(t, server.URL+"/api/v1/flows")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", resp.StatusCode, body)
	}
	var reports []flow.Report
	if err := json.Unmarshal(body, &reports); err != nil {
		t.Fatalf("Failed to decode flows: %v", err)
	}
	if len(reports) != 1 || reports[0].SNI != "example.com" {
		t.Errorf("Unexpected flows %+v", reports)
	}

	// 2. Look a flow up in the reverse orientation
	resp, body = get(t, server.URL+"/api/v1/flows/6/2001:db8::2/443/2001:db8::1/5000")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", resp.StatusCode, body)
	}
	var report flow.Report
	if err := json.Unmarshal(body, &report); err != nil {
		t.Fatalf("Failed to decode flow: %v", err)
	}
	if report.SrcPort != 5000 || report.ForwardBytes != 100 || report.BackwardBytes != 900 || !report.Bidirectional {
		t.Errorf("Unexpected flow %+v", report)
	}

	// 3. Summary
	resp, body = get(t, server.URL+"/api/v1/summary")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", resp.StatusCode, body)
	}
	var summary query.Summary
	if err := json.Unmarshal(body, &summary); err != nil {
		t.Fatalf("Failed to decode summary: %v", err)
	}
	if summary != (query.Summary{Flows: 1, Packets: 2, Bytes: 1000, Bidirectional: 1}) {
		t.Errorf("Unexpected summary %+v", summary)
	}

	// 4. Metrics count the requests above
	resp, body = get(t, server.URL+"/metrics")
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `flow_api_requests_total{code="200",route="flows"} 1`) {
		t.Errorf("Expected request counters in the metrics output, got %d:\n%s", resp.StatusCode, body)
	}
}

func TestHandlers_Errors(t *testing.T) {
	server := newTestServer(t, tableQuerier(t))

	tests := []struct {
		name string
		path string
		code int
	}{
		{"unknown flow", "/api/v1/flows/6/10.0.0.1/1/10.0.0.2/2", http.StatusNotFound},
		{"bad protocol", "/api/v1/flows/tcp/10.0.0.1/1/10.0.0.2/2", http.StatusBadRequest},
		{"bad port", "/api/v1/flows/6/10.0.0.1/70000/10.0.0.2/2", http.StatusBadRequest},
		{"bad address", "/api/v1/flows/6/example.com/1/10.0.0.2/2", http.StatusBadRequest},
		{"unknown route", "/api/v2/flows", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := get(t, server.URL+tt.path)
			if resp.StatusCode != tt.code {
				t.Errorf("Expected %d, got %d: %s", tt.code, resp.StatusCode, body)
			}
		})
	}

	resp, err := http.Post(server.URL+"/api/v1/flows", "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405 for POST, got %d", resp.StatusCode)
	}
}

// failingQuerier fails every query.
type failingQuerier struct{}

var errBackend = errors.New("backend unavailable")

func (failingQuerier) Flows(context.Context) ([]flow.Report, error) { return nil, errBackend }
func (failingQuerier) Flow(context.Context, statistic.Key) (flow.Report, bool, error) {
	return flow.Report{}, false, errBackend
}
func (failingQuerier) Summary(context.Context) (query.Summary, error) { return query.Summary{}, errBackend }

func TestHandlers_BackendFailure(t *testing.T) {
	server := newTestServer(t, failingQuerier{})
	for _, path := range []string{"/api/v1/flows", "/api/v1/flows/6/10.0.0.1/1/10.0.0.2/2", "/api/v1/summary"} {
		resp, body := get(t, server.URL+path)
		if resp.StatusCode != http.StatusInternalServerError || !strings.Contains(string(body), errBackend.Error()) {
			t.Errorf("%s: expected 500 with the backend error, got %d: %s", path, resp.StatusCode, body)
		}
	}
}
