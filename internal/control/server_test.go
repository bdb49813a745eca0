package control

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tcynic/resonant-pipeline/internal/core/config"
	"github.com/tcynic/resonant-pipeline/internal/core/domain"
)

func testConfig() *config.AppConfig {
	return &config.AppConfig{
		Server: config.ServerConfig{Port: 0, GRPCPort: 0},
		Pipeline: config.PipelineConfig{
			MaxQueueSize:               100,
			MaxConcurrentProcessing:    10,
			PollInterval:               config.Duration(time.Second),
			FallbackEnabled:            true,
			BreakerFailureThreshold:    5,
			BreakerMonitoringWindow:    config.Duration(5 * time.Minute),
			BreakerCooldown:            config.Duration(time.Minute),
			BreakerHalfOpenMaxAttempts: 3,
		},
	}
}

func newTestServer(t *testing.T, cfg *config.AppConfig) (*Service, *httptest.Server) {
	t.Helper()
	svc, err := NewService(cfg)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	ts := httptest.NewServer(svc.server.server.Handler)
	t.Cleanup(ts.Close)
	return svc, ts
}

func postJSON(t *testing.T, url string, body any, headers map[string]string) *http.Response {
	t.Helper()
	raw, _ := json.Marshal(body)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

func TestSubmit_Accepted(t *testing.T) {
	svc, ts := newTestServer(t, testConfig())

	resp := postJSON(t, ts.URL+"/v1/analysis",
		submitRequest{EntryID: "e1", OwnerID: "o1", Priority: "high"}, nil)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	var body submitResponse
	json.NewDecoder(resp.Body).Decode(&body)
	if !body.Accepted || body.TaskID == "" {
		t.Fatalf("expected accepted submission, got %+v", body)
	}
	if body.QueuePosition != 1 {
		t.Errorf("queue position = %d, want 1", body.QueuePosition)
	}

	task, err := svc.tasks.Get(context.Background(), body.TaskID)
	if err != nil {
		t.Fatalf("task not persisted: %v", err)
	}
	if task.Priority != domain.PriorityHigh || task.Status != domain.TaskStatusQueued {
		t.Errorf("task = %+v, want queued high priority", task)
	}
}

func TestSubmit_ValidationErrors(t *testing.T) {
	_, ts := newTestServer(t, testConfig())

	cases := []struct {
		name string
		req  submitRequest
	}{
		{"missing entry", submitRequest{OwnerID: "o1"}},
		{"missing owner", submitRequest{EntryID: "e1"}},
		{"bad priority", submitRequest{EntryID: "e1", OwnerID: "o1", Priority: "asap"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := postJSON(t, ts.URL+"/v1/analysis", tc.req, nil)
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
		})
	}
}

func TestSubmit_RejectedAtCapacity(t *testing.T) {
	cfg := testConfig()
	cfg.Pipeline.MaxQueueSize = 2
	svc, ts := newTestServer(t, cfg)

	// Saturate the queue directly.
	for _, id := range []string{"a", "b"} {
		svc.tasks.Create(context.Background(), &domain.AnalysisTask{
			ID: id, EntryID: "e-" + id, OwnerID: "o1",
			Priority: domain.PriorityNormal, Status: domain.TaskStatusQueued,
			QueuedAt: time.Now(),
		})
	}

	resp := postJSON(t, ts.URL+"/v1/analysis",
		submitRequest{EntryID: "e3", OwnerID: "o1", Priority: "normal"}, nil)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", resp.StatusCode)
	}
	var body submitResponse
	json.NewDecoder(resp.Body).Decode(&body)
	if body.Accepted {
		t.Error("expected rejection")
	}
	if body.RetryAfterSecs <= 0 {
		t.Error("rejection must carry a retry-after hint")
	}
}

func TestSubmit_RejectedOverQuota(t *testing.T) {
	cfg := testConfig()
	cfg.Budget.DailyQuota = 1
	svc, ts := newTestServer(t, cfg)

	svc.budget.RecordCall("o1")

	resp := postJSON(t, ts.URL+"/v1/analysis",
		submitRequest{EntryID: "e1", OwnerID: "o1"}, nil)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429 over quota", resp.StatusCode)
	}
	var body submitResponse
	json.NewDecoder(resp.Body).Decode(&body)
	if body.RetryAfterSecs <= 0 {
		t.Error("quota rejection must carry a retry-after hint")
	}

	// Other owners keep their own quota.
	resp2 := postJSON(t, ts.URL+"/v1/analysis",
		submitRequest{EntryID: "e1", OwnerID: "o2"}, nil)
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusAccepted {
		t.Errorf("status = %d, want 202 for a different owner", resp2.StatusCode)
	}
}

func TestSubmit_AuthRequired(t *testing.T) {
	cfg := testConfig()
	cfg.Server.APIKey = "secret"
	_, ts := newTestServer(t, cfg)

	resp := postJSON(t, ts.URL+"/v1/analysis",
		submitRequest{EntryID: "e1", OwnerID: "o1"}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 without token", resp.StatusCode)
	}

	resp = postJSON(t, ts.URL+"/v1/analysis",
		submitRequest{EntryID: "e1", OwnerID: "o1"},
		map[string]string{"Authorization": "Bearer secret"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202 with token", resp.StatusCode)
	}
}

func TestTaskStatus_Lookup(t *testing.T) {
	svc, ts := newTestServer(t, testConfig())

	svc.tasks.Create(context.Background(), &domain.AnalysisTask{
		ID: "t1", EntryID: "e1", OwnerID: "o1",
		Priority: domain.PriorityNormal, Status: domain.TaskStatusQueued,
		QueuedAt: time.Now(),
	})

	resp, err := http.Get(ts.URL + "/v1/analysis/t1")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	resp2, _ := http.Get(ts.URL + "/v1/analysis/missing")
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404 for unknown task", resp2.StatusCode)
	}
}

func TestDeadLetter_ListAndRecover(t *testing.T) {
	svc, ts := newTestServer(t, testConfig())
	ctx := context.Background()

	now := time.Now().UTC()
	svc.tasks.Create(ctx, &domain.AnalysisTask{
		ID: "t1", EntryID: "e1", OwnerID: "o1",
		Priority: domain.PriorityNormal, Status: domain.TaskStatusFailed,
		QueuedAt: now.Add(-time.Hour), Attempt: 5,
		DeadLetter:         true,
		DeadLetterCategory: domain.EscalationMaxRetries,
		DeadLetterReason:   "timeout calling completion service",
	})

	resp, err := http.Get(ts.URL + "/v1/deadletter?owner_id=o1")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	var list struct {
		Count int `json:"count"`
	}
	json.NewDecoder(resp.Body).Decode(&list)
	if list.Count != 1 {
		t.Fatalf("dead letter count = %d, want 1", list.Count)
	}

	resp2 := postJSON(t, ts.URL+"/v1/deadletter/recover",
		recoverRequest{TaskIDs: []string{"t1"}, NewPriority: "high"}, nil)
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("recover status = %d, want 200", resp2.StatusCode)
	}

	task, _ := svc.tasks.Get(ctx, "t1")
	if task.DeadLetter || task.Status != domain.TaskStatusQueued || task.Attempt != 0 {
		t.Errorf("recovered task = %+v, want reset queued task", task)
	}
}

func TestHealth_Endpoint(t *testing.T) {
	_, ts := newTestServer(t, testConfig())

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body map[string]string
	json.NewDecoder(resp.Body).Decode(&body)
	if body["status"] != "healthy" {
		t.Errorf("status = %q, want healthy", body["status"])
	}
}
