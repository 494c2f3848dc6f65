package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newCacheHandler(t *testing.T) (*testEnv, *CacheHandler) {
	t.Helper()
	env := newTestEnv(t, false)
	env.addPhoto("a", testFace(0.1, 40))
	env.addPhoto("b", testFace(0.2, 40))
	return env, NewCacheHandler(env.cache, NewJobManager(), quietLogger())
}

// waitForJob polls until the job reaches a terminal state.
func waitForJob(t *testing.T, job *CacheJob) JobView {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if isJobTerminal(job.GetStatus()) {
			return job.View()
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s did not finish, status %s", job.ID, job.GetStatus())
	return JobView{}
}

func startJob(t *testing.T, h *CacheHandler, handle http.HandlerFunc, path string) (*httptest.ResponseRecorder, JobView) {
	t.Helper()
	recorder := httptest.NewRecorder()
	handle(recorder, httptest.NewRequest(http.MethodPost, path, nil))
	var view JobView
	parseJSONResponse(t, recorder, &view)
	return recorder, view
}

func TestCacheHandler_SyncJob(t *testing.T) {
	env, h := newCacheHandler(t)

	recorder, view := startJob(t, h, h.Sync, "/api/v1/cache/sync")
	assertStatusCode(t, recorder, http.StatusAccepted)
	if view.Kind != JobKindSync || view.ID == "" {
		t.Errorf("job = %+v", view)
	}

	done := waitForJob(t, h.jobManager.GetJob(view.ID))
	if done.Status != JobStatusCompleted || done.Progress != 100 {
		t.Fatalf("job = %+v; want completed", done)
	}
	if done.Result == nil || done.Result.Added != 2 {
		t.Errorf("Result = %+v; want 2 added", done.Result)
	}

	stats := httptest.NewRecorder()
	h.Stats(stats, httptest.NewRequest(http.MethodGet, "/api/v1/cache", nil))
	var body map[string]any
	parseJSONResponse(t, stats, &body)
	if body["records"] != float64(2) || body["faces"] != float64(2) {
		t.Errorf("stats = %v; want 2 records and 2 faces", body)
	}
	if env.store.SaveCount() != 1 {
		t.Errorf("store saved %d times; want 1", env.store.SaveCount())
	}
}

func TestCacheHandler_JoinRunningJob(t *testing.T) {
	env, h := newCacheHandler(t)
	env.extractor.Gate = make(chan struct{})
	env.extractor.Started = make(chan string, 10)

	_, first := startJob(t, h, h.Sync, "/api/v1/cache/sync")
	<-env.extractor.Started

	recorder, second := startJob(t, h, h.Sync, "/api/v1/cache/sync")
	assertStatusCode(t, recorder, http.StatusOK)
	if second.ID != first.ID {
		t.Errorf("second sync got job %s; want to join %s", second.ID, first.ID)
	}

	recorder, rescan := startJob(t, h, h.Rescan, "/api/v1/cache/rescan")
	assertStatusCode(t, recorder, http.StatusAccepted)
	if rescan.ID == first.ID || rescan.Kind != JobKindRescan {
		t.Errorf("rescan = %+v; want a new rescan job", rescan)
	}

	// A sync requested during a rescan joins the rescan.
	_, third := startJob(t, h, h.Sync, "/api/v1/cache/sync")
	if third.ID != rescan.ID {
		t.Errorf("sync during rescan got job %s; want %s", third.ID, rescan.ID)
	}

	close(env.extractor.Gate)
	if v := waitForJob(t, h.jobManager.GetJob(first.ID)); v.Status != JobStatusCompleted {
		t.Errorf("sync job = %s; want completed", v.Status)
	}
	v := waitForJob(t, h.jobManager.GetJob(rescan.ID))
	if v.Status != JobStatusCompleted || v.Result == nil || !v.Result.Forced {
		t.Errorf("rescan job = %+v; want completed forced run", v)
	}

	list := httptest.NewRecorder()
	h.Jobs(list, httptest.NewRequest(http.MethodGet, "/api/v1/cache/jobs", nil))
	var jobs []JobView
	parseJSONResponse(t, list, &jobs)
	if len(jobs) != 2 {
		t.Errorf("got %d jobs; want 2", len(jobs))
	}
}

func TestCacheHandler_Cancel(t *testing.T) {
	env, h := newCacheHandler(t)
	env.extractor.Gate = make(chan struct{})
	defer close(env.extractor.Gate)
	env.extractor.Started = make(chan string, 10)

	_, view := startJob(t, h, h.Sync, "/api/v1/cache/sync")
	<-env.extractor.Started

	recorder := httptest.NewRecorder()
	req := requestWithChiParams(httptest.NewRequest(http.MethodDelete, "/api/v1/cache/jobs/"+view.ID, nil),
		map[string]string{"jobId": view.ID})
	h.Cancel(recorder, req)
	assertStatusCode(t, recorder, http.StatusOK)

	job := h.jobManager.GetJob(view.ID)
	if got := waitForJob(t, job); got.Status != JobStatusCancelled {
		t.Errorf("status = %s; want cancelled", got.Status)
	}
	deadline := time.Now().Add(5 * time.Second)
	for env.cache.Stats().Syncing && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if env.cache.Stats().Records != 0 {
		t.Error("cancelled sync committed records")
	}
}

func TestCacheHandler_UnknownJob(t *testing.T) {
	_, h := newCacheHandler(t)

	for name, handle := range map[string]http.HandlerFunc{"status": h.Status, "cancel": h.Cancel, "events": h.Events} {
		t.Run(name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			req := requestWithChiParams(httptest.NewRequest(http.MethodGet, "/api/v1/cache/jobs/nope", nil),
				map[string]string{"jobId": "nope"})
			handle(recorder, req)
			assertStatusCode(t, recorder, http.StatusNotFound)
			assertJSONError(t, recorder, "job not found")
		})
	}
}

func TestCacheHandler_EventsOfFinishedJob(t *testing.T) {
	_, h := newCacheHandler(t)
	_, view := startJob(t, h, h.Sync, "/api/v1/cache/sync")
	waitForJob(t, h.jobManager.GetJob(view.ID))

	recorder := httptest.NewRecorder()
	req := requestWithChiParams(httptest.NewRequest(http.MethodGet, "/api/v1/cache/jobs/"+view.ID+"/events", nil),
		map[string]string{"jobId": view.ID})
	h.Events(recorder, req)

	assertContentType(t, recorder, "text/event-stream")
	body := recorder.Body.String()
	if !strings.HasPrefix(body, "event: status\ndata: ") {
		t.Errorf("unexpected stream start: %q", body)
	}
	if !strings.Contains(body, `"status":"completed"`) {
		t.Errorf("stream does not carry the completed state: %q", body)
	}
}

func TestCacheHandler_JobCancelledBeforeItRuns(t *testing.T) {
	env, h := newCacheHandler(t)

	ctx, cancel := context.WithCancel(context.Background())
	job, created := h.jobManager.StartJob(JobKindSync, cancel)
	if !created {
		t.Fatal("StartJob did not create a job")
	}
	job.Cancel()
	h.runJob(ctx, job)

	if got := job.GetStatus(); got != JobStatusCancelled {
		t.Errorf("status after run = %s; want cancelled", got)
	}
	if env.extractor.TotalCalls() != 0 {
		t.Errorf("extractor called %d times; want 0", env.extractor.TotalCalls())
	}

	recorder, next := startJob(t, h, h.Sync, "/api/v1/cache/sync")
	assertStatusCode(t, recorder, http.StatusAccepted)
	if next.ID == job.ID {
		t.Fatal("next sync joined the cancelled job")
	}
	if v := waitForJob(t, h.jobManager.GetJob(next.ID)); v.Status != JobStatusCompleted {
		t.Errorf("next sync = %s; want completed", v.Status)
	}
}

func TestCacheHandler_CancelledJobIsTerminalAfterSyncReturns(t *testing.T) {
	env, h := newCacheHandler(t)
	env.extractor.Gate = make(chan struct{})
	env.extractor.Started = make(chan string, 10)

	ctx, cancel := context.WithCancel(context.Background())
	job, _ := h.jobManager.StartJob(JobKindSync, cancel)
	done := make(chan struct{})
	go func() {
		h.runJob(ctx, job)
		close(done)
	}()
	<-env.extractor.Started

	// Cancelling the context directly, not through the job.
	cancel()
	close(env.extractor.Gate)
	<-done

	if got := job.GetStatus(); got != JobStatusCancelled {
		t.Errorf("status = %s; want cancelled", got)
	}
}

func TestJobManager_PrunesExpiredJobs(t *testing.T) {
	m := NewJobManager()
	m.retention = time.Minute

	old, _ := m.StartJob(JobKindSync, func() {})
	old.finish(JobStatusCompleted, nil)
	recent, _ := m.StartJob(JobKindSync, func() {})
	recent.finish(JobStatusFailed, nil)

	old.mu.Lock()
	past := time.Now().Add(-2 * time.Minute)
	old.CompletedAt = &past
	old.mu.Unlock()

	current, _ := m.StartJob(JobKindRescan, func() {})

	if m.GetJob(old.ID) != nil {
		t.Error("expired job still retained")
	}
	if m.GetJob(recent.ID) == nil {
		t.Error("recent job pruned")
	}
	if m.GetJob(current.ID) == nil {
		t.Error("new job missing")
	}
	if got := len(m.ListJobs()); got != 2 {
		t.Errorf("ListJobs returned %d jobs; want 2", got)
	}
}
