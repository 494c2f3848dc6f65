package handlers

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kozaktomas/face-finder/internal/constants"
	"github.com/kozaktomas/face-finder/internal/fingerprint"
)

// JobStatus represents the status of an async job.
type JobStatus string

// JobStatus constants define the lifecycle states of an async job.
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// JobKind is the cache operation a job runs.
type JobKind string

const (
	JobKindSync   JobKind = "sync"
	JobKindRescan JobKind = "rescan"
)

// CacheJob is an async sync or rescan of the fingerprint cache.
type CacheJob struct {
	EventBroadcaster

	ID          string
	Kind        JobKind
	Status      JobStatus
	Phase       fingerprint.Phase
	Done        int
	Total       int
	Error       string
	Warning     string
	StartedAt   time.Time
	CompletedAt *time.Time
	Result      *fingerprint.SyncReport
}

// JobView is the JSON form of a CacheJob.
type JobView struct {
	ID          string                  `json:"id"`
	Kind        JobKind                 `json:"kind"`
	Status      JobStatus               `json:"status"`
	Phase       fingerprint.Phase       `json:"phase,omitempty"`
	Done        int                     `json:"done"`
	Total       int                     `json:"total"`
	Progress    int                     `json:"progress"`
	Error       string                  `json:"error,omitempty"`
	Warning     string                  `json:"warning,omitempty"`
	StartedAt   time.Time               `json:"started_at"`
	CompletedAt *time.Time              `json:"completed_at,omitempty"`
	Result      *fingerprint.SyncReport `json:"result,omitempty"`
}

// View returns a consistent copy of the job state.
func (j *CacheJob) View() JobView {
	j.mu.RLock()
	defer j.mu.RUnlock()
	v := JobView{
		ID:          j.ID,
		Kind:        j.Kind,
		Status:      j.Status,
		Phase:       j.Phase,
		Done:        j.Done,
		Total:       j.Total,
		Error:       j.Error,
		Warning:     j.Warning,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
		Result:      j.Result,
	}
	switch {
	case j.Status == JobStatusCompleted:
		v.Progress = 100
	case j.Total > 0:
		v.Progress = j.Done * 100 / j.Total
	}
	return v
}

// GetStatus returns the current job status (implements SSEJob).
func (j *CacheJob) GetStatus() JobStatus {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status
}

// Cancel cancels the job unless it already finished.
func (j *CacheJob) Cancel() {
	j.mu.Lock()
	if isJobTerminal(j.Status) {
		j.mu.Unlock()
		return
	}
	j.Status = JobStatusCancelled
	now := time.Now()
	j.CompletedAt = &now
	j.mu.Unlock()
	j.EventBroadcaster.Cancel()
}

// finish moves the job to a terminal status. It reports false when the job
// was already cancelled.
func (j *CacheJob) finish(status JobStatus, update func(*CacheJob)) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if isJobTerminal(j.Status) {
		return false
	}
	now := time.Now()
	j.Status = status
	j.CompletedAt = &now
	if update != nil {
		update(j)
	}
	return true
}

// JobEvent represents an event from a job.
type JobEvent struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// EventBroadcaster provides listener management and event broadcasting for async jobs.
// Embed this in job structs to get AddListener, RemoveListener, and SendEvent methods.
type EventBroadcaster struct {
	cancel    context.CancelFunc
	listeners []chan JobEvent
	mu        sync.RWMutex
}

// AddListener adds an event listener.
func (b *EventBroadcaster) AddListener() chan JobEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan JobEvent, constants.EventChannelBuffer)
	b.listeners = append(b.listeners, ch)
	return ch
}

// RemoveListener removes an event listener.
func (b *EventBroadcaster) RemoveListener(ch chan JobEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, listener := range b.listeners {
		if listener == ch {
			b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
			close(ch)
			return
		}
	}
}

// SendEvent sends an event to all listeners.
func (b *EventBroadcaster) SendEvent(event JobEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, listener := range b.listeners {
		select {
		case listener <- event:
		default:
			// Listener buffer full, skip.
		}
	}
}

// Cancel cancels the job via context and sends a cancelled event.
func (b *EventBroadcaster) Cancel() {
	if b.cancel != nil {
		b.cancel()
	}
	b.SendEvent(JobEvent{Type: "cancelled", Message: "Job cancelled by user"})
}

// SSEJob is the interface required by streamSSEEvents to stream job events via SSE.
type SSEJob interface {
	AddListener() chan JobEvent
	RemoveListener(ch chan JobEvent)
	GetStatus() JobStatus
}

// JobManager manages async jobs. Finished jobs are dropped once they are
// older than the retention window.
type JobManager struct {
	jobs      map[string]*CacheJob
	active    *CacheJob
	retention time.Duration
	mu        sync.RWMutex
}

// NewJobManager creates a new job manager.
func NewJobManager() *JobManager {
	return &JobManager{
		jobs:      make(map[string]*CacheJob),
		retention: constants.JobRetention,
	}
}

// pruneLocked drops finished jobs completed before the retention window.
// The caller holds m.mu.
func (m *JobManager) pruneLocked(now time.Time) {
	for id, job := range m.jobs {
		if job == m.active {
			continue
		}
		job.mu.RLock()
		expired := isJobTerminal(job.Status) && job.CompletedAt != nil && now.Sub(*job.CompletedAt) > m.retention
		job.mu.RUnlock()
		if expired {
			delete(m.jobs, id)
		}
	}
}

// StartJob returns the running job when it already covers kind, otherwise it
// registers a new pending job. A rescan is never covered by a running sync.
// The returned bool reports whether the job is new.
func (m *JobManager) StartJob(kind JobKind, cancel context.CancelFunc) (*CacheJob, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pruneLocked(time.Now())

	if a := m.active; a != nil && !isJobTerminal(a.GetStatus()) {
		if a.Kind == JobKindRescan || kind == JobKindSync {
			return a, false
		}
	}

	job := &CacheJob{
		ID:        uuid.New().String(),
		Kind:      kind,
		Status:    JobStatusPending,
		StartedAt: time.Now(),
	}
	job.cancel = cancel
	m.jobs[job.ID] = job
	m.active = job
	return job, true
}

// GetJob retrieves a job by ID.
func (m *JobManager) GetJob(id string) *CacheJob {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.jobs[id]
}

// ListJobs returns all retained jobs, newest first.
func (m *JobManager) ListJobs() []*CacheJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pruneLocked(time.Now())
	jobs := make([]*CacheJob, 0, len(m.jobs))
	for _, job := range m.jobs {
		jobs = append(jobs, job)
	}
	slices.SortFunc(jobs, func(a, b *CacheJob) int {
		return b.StartedAt.Compare(a.StartedAt)
	})
	return jobs
}
