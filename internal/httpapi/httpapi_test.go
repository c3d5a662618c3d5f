package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/agentloom/agentloom/internal/executor"
	"github.com/agentloom/agentloom/internal/history"
	"github.com/agentloom/agentloom/internal/jobs"
	"github.com/agentloom/agentloom/internal/queue"
	"github.com/agentloom/agentloom/internal/schedule"
	"github.com/agentloom/agentloom/internal/workspace"
)

func setupServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()

	if err := workspace.Init(dir, "worker", "echo", "you are a test agent"); err != nil {
		t.Fatalf("workspace.Init() error = %v", err)
	}

	hist, err := history.Open(dir)
	if err != nil {
		t.Fatalf("history.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = hist.Close() })

	q := queue.New()
	registry := jobs.NewRegistry()

	loop, err := executor.New(dir, q, registry, hist, "")
	if err != nil {
		t.Fatalf("executor.New() error = %v", err)
	}

	store := schedule.OpenStore(dir)
	scheduler := schedule.NewRunner(store, q)

	return &Server{
		WorkspaceDir: dir,
		Queue:        q,
		Jobs:         registry,
		Loop:         loop,
		History:      hist,
		Scheduler:    scheduler,
	}
}

func doRequest(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandlePostMessage_Success(t *testing.T) {
	s := setupServer(t)
	rec := doRequest(t, s.Handler(), http.MethodPost, "/message", postMessageRequest{
		Content: "hello",
		Source:  "test:1",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp["messageId"] == "" {
		t.Error("expected non-empty messageId")
	}
	if s.Queue.Len() != 1 {
		t.Errorf("expected 1 queued message, got %d", s.Queue.Len())
	}
}

func TestHandlePostMessage_MissingContent(t *testing.T) {
	s := setupServer(t)
	rec := doRequest(t, s.Handler(), http.MethodPost, "/message", postMessageRequest{Source: "test:1"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandlePostMessage_DefaultsSource(t *testing.T) {
	s := setupServer(t)
	rec := doRequest(t, s.Handler(), http.MethodPost, "/message", postMessageRequest{Content: "hi"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	messages := s.Queue.Drain()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}
	if messages[0].Source == "" {
		t.Error("expected a default source to be assigned")
	}
}

func TestHandlePostMessage_InvalidJSON(t *testing.T) {
	s := setupServer(t)
	req := httptest.NewRequest(http.MethodPost, "/message", bytes.NewReader([]byte("not json")))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleStatus(t *testing.T) {
	s := setupServer(t)
	rec := doRequest(t, s.Handler(), http.MethodGet, "/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp["status"] != "waiting" {
		t.Errorf("status = %v, want waiting", resp["status"])
	}
	if resp["provider"] != "echo" {
		t.Errorf("provider = %v, want echo", resp["provider"])
	}
}

func TestHandleRepairSignal(t *testing.T) {
	s := setupServer(t)
	rec := doRequest(t, s.Handler(), http.MethodPost, "/repair-signal", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestHandleListOutbox_Empty(t *testing.T) {
	s := setupServer(t)
	rec := doRequest(t, s.Handler(), http.MethodGet, "/outbox", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if rec.Body.String() == "null\n" {
		return
	}
	var messages []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &messages); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if len(messages) != 0 {
		t.Errorf("expected empty outbox, got %d", len(messages))
	}
}

func TestHandleDeleteOutbox_NotFound(t *testing.T) {
	s := setupServer(t)
	rec := doRequest(t, s.Handler(), http.MethodDelete, "/outbox/does-not-exist", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestHandleListHistory_Empty(t *testing.T) {
	s := setupServer(t)
	rec := doRequest(t, s.Handler(), http.MethodGet, "/history", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Total  int   `json:"total"`
		Rounds []any `json:"rounds"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Total != 0 || len(resp.Rounds) != 0 {
		t.Errorf("expected empty history, got %+v", resp)
	}
}

func TestHandleGetHistory_NotFound(t *testing.T) {
	s := setupServer(t)
	rec := doRequest(t, s.Handler(), http.MethodGet, "/history/0", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestHandleGetHistory_InvalidRound(t *testing.T) {
	s := setupServer(t)
	rec := doRequest(t, s.Handler(), http.MethodGet, "/history/not-a-number", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleListSchedules_Empty(t *testing.T) {
	s := setupServer(t)
	rec := doRequest(t, s.Handler(), http.MethodGet, "/schedules", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var schedules []schedule.Schedule
	if err := json.Unmarshal(rec.Body.Bytes(), &schedules); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if len(schedules) != 0 {
		t.Errorf("expected no schedules, got %d", len(schedules))
	}
}

func TestHandleListSchedules_NilScheduler(t *testing.T) {
	s := setupServer(t)
	s.Scheduler = nil
	rec := doRequest(t, s.Handler(), http.MethodGet, "/schedules", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestHandleCreateSchedule_Success(t *testing.T) {
	s := setupServer(t)
	rec := doRequest(t, s.Handler(), http.MethodPost, "/schedules", createScheduleRequest{
		Name:      "daily digest",
		CronExpr:  "0 9 * * *",
		Prompt:    "summarize the outbox",
		OverlapBehavior: schedule.OverlapSkip,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var sched schedule.Schedule
	if err := json.Unmarshal(rec.Body.Bytes(), &sched); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if sched.ID == "" || sched.Name != "daily digest" {
		t.Errorf("unexpected schedule: %+v", sched)
	}
}

func TestHandleCreateSchedule_InvalidCron(t *testing.T) {
	s := setupServer(t)
	rec := doRequest(t, s.Handler(), http.MethodPost, "/schedules", createScheduleRequest{
		Name:     "bad",
		CronExpr: "not a cron",
		Prompt:   "does not matter",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400, body = %s", rec.Code, rec.Body.String())
	}
}

func TestHandleCreateSchedule_NilScheduler(t *testing.T) {
	s := setupServer(t)
	s.Scheduler = nil
	rec := doRequest(t, s.Handler(), http.MethodPost, "/schedules", createScheduleRequest{
		Name:     "x",
		CronExpr: "0 9 * * *",
		Prompt:   "x",
	})
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestHandleDeleteSchedule_NotFound(t *testing.T) {
	s := setupServer(t)
	rec := doRequest(t, s.Handler(), http.MethodDelete, "/schedules/does-not-exist", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestHandleDeleteSchedule_Success(t *testing.T) {
	s := setupServer(t)
	created, err := s.Scheduler.Store().Create("digest", "0 9 * * *", "prompt", "", schedule.OverlapSkip)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	rec := doRequest(t, s.Handler(), http.MethodDelete, "/schedules/"+created.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}
