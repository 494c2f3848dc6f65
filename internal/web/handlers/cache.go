package handlers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/kozaktomas/face-finder/internal/fingerprint"
)

// CacheHandler handles fingerprint cache endpoints
type CacheHandler struct {
	cache      *fingerprint.Cache
	jobManager *JobManager
	log        logrus.FieldLogger
}

// NewCacheHandler creates a new cache handler
func NewCacheHandler(cache *fingerprint.Cache, jm *JobManager, log logrus.FieldLogger) *CacheHandler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &CacheHandler{
		cache:      cache,
		jobManager: jm,
		log:        log,
	}
}

// Stats returns the committed cache statistics
func (h *CacheHandler) Stats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.cache.Stats())
}

// Sync starts an incremental sync, or joins the running one
func (h *CacheHandler) Sync(w http.ResponseWriter, r *http.Request) {
	h.start(w, JobKindSync)
}

// Rescan starts a full rebuild
func (h *CacheHandler) Rescan(w http.ResponseWriter, r *http.Request) {
	h.start(w, JobKindRescan)
}

func (h *CacheHandler) start(w http.ResponseWriter, kind JobKind) {
	job, created := h.Start(kind)
	status := http.StatusOK
	if created {
		status = http.StatusAccepted
	}
	respondJSON(w, status, job.View())
}

// Start runs a cache job of the given kind in the background. When a running
// job already covers kind, that job is returned and the bool is false.
func (h *CacheHandler) Start(kind JobKind) (*CacheJob, bool) {
	// The job outlives the request.
	ctx, cancel := context.WithCancel(context.Background())
	job, created := h.jobManager.StartJob(kind, cancel)
	if !created {
		cancel()
		return job, false
	}
	go h.runJob(ctx, job)
	return job, true
}

// Jobs lists all cache jobs
func (h *CacheHandler) Jobs(w http.ResponseWriter, r *http.Request) {
	jobs := h.jobManager.ListJobs()
	views := make([]JobView, len(jobs))
	for i, job := range jobs {
		views[i] = job.View()
	}
	respondJSON(w, http.StatusOK, views)
}

// Status returns the status of a cache job
func (h *CacheHandler) Status(w http.ResponseWriter, r *http.Request) {
	job := h.jobManager.GetJob(chi.URLParam(r, "jobId"))
	if job == nil {
		respondError(w, http.StatusNotFound, "job not found")
		return
	}
	respondJSON(w, http.StatusOK, job.View())
}

// Events streams job events via SSE
func (h *CacheHandler) Events(w http.ResponseWriter, r *http.Request) {
	streamSSEEvents(w, r,
		func(id string) SSEJob {
			job := h.jobManager.GetJob(id)
			if job == nil {
				return nil
			}
			return job
		},
		func(job SSEJob) any {
			return job.(*CacheJob).View()
		},
	)
}

// Cancel cancels a cache job
func (h *CacheHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	job := h.jobManager.GetJob(chi.URLParam(r, "jobId"))
	if job == nil {
		respondError(w, http.StatusNotFound, "job not found")
		return
	}

	job.Cancel()
	respondJSON(w, http.StatusOK, map[string]bool{"cancelled": true})
}

// runJob runs the sync or rescan in the background
func (h *CacheHandler) runJob(ctx context.Context, job *CacheJob) {
	defer job.cancel()
	log := h.log.WithFields(logrus.Fields{"job": job.ID, "kind": job.Kind})

	job.mu.Lock()
	if isJobTerminal(job.Status) {
		job.mu.Unlock()
		log.Info("cache job cancelled before it started")
		return
	}
	job.Status = JobStatusRunning
	job.mu.Unlock()
	job.SendEvent(JobEvent{Type: "started", Message: fmt.Sprintf("Cache %s started", job.Kind)})

	progress := func(ev fingerprint.ProgressEvent) {
		job.mu.Lock()
		job.Phase = ev.Phase
		job.Done = ev.Done
		job.Total = ev.Total
		job.mu.Unlock()
		job.SendEvent(JobEvent{Type: "progress", Data: ev})
	}

	var (
		report *fingerprint.SyncReport
		err    error
	)
	if job.Kind == JobKindRescan {
		report, err = h.cache.ForceRebuild(ctx, progress)
	} else {
		report, err = h.cache.Sync(ctx, progress)
	}

	if err != nil {
		if ctx.Err() != nil {
			job.finish(JobStatusCancelled, nil)
			log.Info("cache job cancelled")
			return
		}
		log.WithError(err).Error("cache job failed")
		if job.finish(JobStatusFailed, func(j *CacheJob) { j.Error = err.Error() }) {
			job.SendEvent(JobEvent{Type: "job_error", Message: err.Error()})
		}
		return
	}

	var warning string
	if report.PersistErr != nil {
		warning = report.PersistErr.Error()
		log.WithError(report.PersistErr).Warn("cache committed in memory but not saved")
	}
	if job.finish(JobStatusCompleted, func(j *CacheJob) {
		j.Result = report
		j.Warning = warning
	}) {
		log.WithFields(logrus.Fields{
			"added":   report.Added,
			"updated": report.Updated,
			"removed": report.Removed,
			"failed":  report.Failed,
		}).Info("cache job completed")
		job.SendEvent(JobEvent{Type: "completed", Message: warning, Data: report})
	}
}
