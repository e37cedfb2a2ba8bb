package api

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/FocuswithJustin/voc2coco/core/convert"
	"github.com/FocuswithJustin/voc2coco/core/errors"
	"github.com/FocuswithJustin/voc2coco/core/ledger"
	"github.com/FocuswithJustin/voc2coco/internal/cache"
	"github.com/FocuswithJustin/voc2coco/internal/logging"
)

// JobStatus represents the current state of a job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

func (s JobStatus) terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// JobResult summarizes a completed conversion.
type JobResult struct {
	Images      int       `json:"images"`
	Annotations int       `json:"annotations"`
	Categories  int       `json:"categories"`
	Digest      string    `json:"digest"`
	Size        int64     `json:"size"`
	Skipped     []Warning `json:"skipped,omitempty"`
}

// Job represents an asynchronous conversion job.
type Job struct {
	ID          string     `json:"id"`
	Status      JobStatus  `json:"status"`
	Progress    int        `json:"progress"` // 0-100
	Documents   int        `json:"documents"`
	Processed   int        `json:"processed"`
	Policy      string     `json:"policy"`
	Result      *JobResult `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
	ErrorCode   string     `json:"error_code,omitempty"`
	CreatedAt   string     `json:"created_at"`
	UpdatedAt   string     `json:"updated_at"`
	CompletedAt string     `json:"completed_at,omitempty"`

	created time.Time
	ctx     context.Context
	cancel  context.CancelFunc
	request *conversionRequest
}

// DefaultResultTTL is how long a completed job's document stays downloadable.
const DefaultResultTTL = time.Hour

// JobStore manages conversion jobs in memory. Result documents are held in
// a TTL cache and dropped once they expire; the job record itself remains.
type JobStore struct {
	jobs    map[string]*Job
	results *cache.TTLCache[string, []byte]
	mu      sync.RWMutex
}

// NewJobStore creates a new job store. A resultTTL of zero selects
// DefaultResultTTL.
func NewJobStore(resultTTL time.Duration) *JobStore {
	if resultTTL <= 0 {
		resultTTL = DefaultResultTTL
	}
	return &JobStore{
		jobs:    make(map[string]*Job),
		results: cache.New[string, []byte](resultTTL),
	}
}

var (
	globalJobStore = NewJobStore(DefaultResultTTL)

	// jobLedger records finished jobs when the server runs with a jobs database.
	jobLedger *ledger.Ledger
)

func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// Create registers a pending job for req.
func (s *JobStore) Create(req *conversionRequest) *Job {
	if n := s.results.Sweep(); n > 0 {
		logging.Debug("expired job results", "count", n)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	now := time.Now()

	job := &Job{
		ID:        uuid.New().String(),
		Status:    JobStatusPending,
		Documents: len(req.Sources),
		Policy:    req.Policy.String(),
		CreatedAt: timestamp(now),
		UpdatedAt: timestamp(now),
		created:   now,
		ctx:       ctx,
		cancel:    cancel,
		request:   req,
	}

	s.jobs[job.ID] = job
	return job
}

// Get returns a snapshot of the job.
func (s *JobStore) Get(id string) (Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, exists := s.jobs[id]
	if !exists {
		return Job{}, false
	}
	return *job, true
}

// Result returns the serialized document of a completed job. The data is
// nil for a completed job whose result has expired.
func (s *JobStore) Result(id string) ([]byte, JobStatus, bool) {
	s.mu.RLock()
	job, exists := s.jobs[id]
	var status JobStatus
	if exists {
		status = job.Status
	}
	s.mu.RUnlock()

	if !exists {
		return nil, "", false
	}
	if status != JobStatusCompleted {
		return nil, status, true
	}
	data, _ := s.results.Get(id)
	return data, status, true
}

// List returns snapshots of all jobs, oldest first.
func (s *JobStore) List() []Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, *job)
	}
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].created.Equal(jobs[j].created) {
			return jobs[i].ID < jobs[j].ID
		}
		return jobs[i].created.Before(jobs[j].created)
	})
	return jobs
}

// Cancel cancels a pending or running job.
func (s *JobStore) Cancel(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[id]
	if !exists {
		return errors.NewNotFound("job", id)
	}
	if job.Status.terminal() {
		return errors.NewValidation("status", "job cannot be cancelled (status: "+string(job.Status)+")")
	}

	job.cancel()
	now := time.Now()
	job.Status = JobStatusCancelled
	job.UpdatedAt = timestamp(now)
	job.CompletedAt = timestamp(now)
	return nil
}

// Delete removes a finished job and its result.
func (s *JobStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[id]
	if !exists {
		return errors.NewNotFound("job", id)
	}
	job.cancel()
	delete(s.jobs, id)
	s.results.Delete(id)
	return nil
}

func (s *JobStore) markRunning(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job, ok := s.jobs[id]; ok && job.Status == JobStatusPending {
		job.Status = JobStatusRunning
		job.UpdatedAt = timestamp(time.Now())
	}
}

func (s *JobStore) progress(id string, p convert.Progress) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok || job.Status.terminal() {
		return
	}
	job.Processed = p.Index
	if p.Total > 0 {
		job.Progress = p.Index * 100 / p.Total
	}
	job.UpdatedAt = timestamp(time.Now())
}

// finish stores the outcome of a run. A job cancelled while running stays
// cancelled. The returned snapshot is false when the job was deleted.
func (s *JobStore) finish(id string, res *conversionResult, err error) (Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return Job{}, false
	}
	job.request = nil
	now := time.Now()

	switch {
	case job.Status == JobStatusCancelled:
	case err != nil && job.ctx.Err() != nil:
		job.Status = JobStatusCancelled
	case err != nil:
		job.Status = JobStatusFailed
		job.Error = err.Error()
		job.ErrorCode = errors.Code(err)
	default:
		doc := res.Report.Document
		job.Status = JobStatusCompleted
		job.Progress = 100
		s.results.Set(id, res.Data)
		job.Result = &JobResult{
			Images:      len(doc.Images),
			Annotations: len(doc.Annotations),
			Categories:  len(doc.Categories),
			Digest:      "blake3=" + res.Digest.BLAKE3,
			Size:        res.Digest.Size,
			Skipped:     warningsFor(res.Report.Skipped),
		}
	}
	job.UpdatedAt = timestamp(now)
	if job.CompletedAt == "" {
		job.CompletedAt = timestamp(now)
	}
	job.cancel()
	return *job, true
}

// runJob executes a conversion job in a goroutine. done, when non-nil, is
// closed once the job has been finished and recorded.
func runJob(store *JobStore, job *Job, done chan<- struct{}) {
	req := job.request
	go func() {
		if done != nil {
			defer close(done)
		}
		store.markRunning(job.ID)

		res, err := runConversion(job.ctx, req, job.ID, func(p convert.Progress) {
			store.progress(job.ID, p)
		})

		if snap, ok := store.finish(job.ID, res, err); ok {
			recordJob(snap)
		}
	}()
}

// recordJob appends a finished job to the ledger, if one is configured.
func recordJob(job Job) {
	if jobLedger == nil {
		return
	}
	entry := ledger.Entry{
		ID:         job.ID,
		Status:     string(job.Status),
		Documents:  job.Documents,
		Error:      job.Error,
		CreatedAt:  job.created,
		FinishedAt: time.Now(),
	}
	if job.Result != nil {
		entry.Images = job.Result.Images
		entry.Annotations = job.Result.Annotations
		entry.Skipped = len(job.Result.Skipped)
		entry.Digest = job.Result.Digest
	}
	if err := jobLedger.Record(context.Background(), entry); err != nil {
		logging.Error("failed to record job", "job_id", job.ID, "error", err)
	}
}

// JobListing is the GET /jobs response.
type JobListing struct {
	Jobs    []Job          `json:"jobs"`
	History []ledger.Entry `json:"history,omitempty"`
}

// historyLimit bounds the ledger entries returned by GET /jobs.
const historyLimit = 100

// handleJobs handles GET /jobs (list) and POST /jobs (create).
func handleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		listJobsHandler(w, r)
	case http.MethodPost:
		createJobHandler(w, r)
	default:
		respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Only GET and POST are allowed")
	}
}

func listJobsHandler(w http.ResponseWriter, r *http.Request) {
	listing := JobListing{Jobs: globalJobStore.List()}
	if jobLedger != nil {
		history, err := jobLedger.List(r.Context(), historyLimit)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "LEDGER_ERROR", err.Error())
			return
		}
		listing.History = history
	}
	respondList(w, http.StatusOK, listing, len(listing.Jobs))
}

func createJobHandler(w http.ResponseWriter, r *http.Request) {
	req, err := parseConversionForm(w, r)
	if err != nil {
		respondRequestError(w, err)
		return
	}

	store := globalJobStore
	job := store.Create(req)
	snap, _ := store.Get(job.ID)
	runJob(store, job, nil)

	w.Header().Set("Location", "/jobs/"+job.ID)
	respond(w, http.StatusAccepted, snap)
}

// handleJobByID handles GET /jobs/{id}, GET /jobs/{id}/result and
// DELETE /jobs/{id}.
func handleJobByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/jobs/")
	id, sub, _ := strings.Cut(rest, "/")
	if id == "" {
		respondError(w, http.StatusBadRequest, "MISSING_ID", "Job ID is required")
		return
	}

	switch {
	case sub == "result" && r.Method == http.MethodGet:
		jobResultHandler(w, r, id)
	case sub != "":
		respondError(w, http.StatusNotFound, "NOT_FOUND", "Endpoint not found")
	case r.Method == http.MethodGet:
		getJobHandler(w, r, id)
	case r.Method == http.MethodDelete:
		deleteJobHandler(w, r, id)
	default:
		respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Only GET and DELETE are allowed")
	}
}

func getJobHandler(w http.ResponseWriter, r *http.Request, id string) {
	if job, exists := globalJobStore.Get(id); exists {
		respond(w, http.StatusOK, job)
		return
	}
	if jobLedger != nil {
		if entry, err := jobLedger.Get(r.Context(), id); err == nil {
			respond(w, http.StatusOK, entry)
			return
		}
	}
	respondError(w, http.StatusNotFound, "NOT_FOUND", "Job not found")
}

func jobResultHandler(w http.ResponseWriter, r *http.Request, id string) {
	data, status, exists := globalJobStore.Result(id)
	if !exists {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "Job not found")
		return
	}
	if status != JobStatusCompleted {
		respondError(w, http.StatusConflict, "JOB_NOT_READY", "Job status is "+string(status))
		return
	}
	if data == nil {
		respondError(w, http.StatusGone, "RESULT_EXPIRED", "Job result is no longer available")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="`+resultFilename+`"`)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// deleteJobHandler cancels a job that is still running and removes one
// that has finished.
func deleteJobHandler(w http.ResponseWriter, r *http.Request, id string) {
	job, exists := globalJobStore.Get(id)
	if !exists {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "Job not found")
		return
	}

	if job.Status.terminal() {
		if err := globalJobStore.Delete(id); err != nil {
			respondError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
			return
		}
		respond(w, http.StatusOK, map[string]string{"message": "Job removed"})
		return
	}

	if err := globalJobStore.Cancel(id); err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			respondError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
			return
		}
		respondError(w, http.StatusConflict, "CANCEL_FAILED", err.Error())
		return
	}
	respond(w, http.StatusOK, map[string]string{"message": "Job cancelled"})
}
