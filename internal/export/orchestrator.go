// Package export runs single and bulk export jobs against the backend. Jobs are
// an independent state machine: preparing, generating, downloading, then
// completed or error. Terminal jobs stay visible for a display window.
package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/scribehub/recordcache/internal/errors"
	"github.com/scribehub/recordcache/internal/model"
	"github.com/scribehub/recordcache/internal/platform"
	"github.com/scribehub/recordcache/internal/progress"
)

// ErrJobActive is returned when a record already has an export in progress.
var ErrJobActive = errors.New("export already in progress for record")

// Backend produces the exported document.
type Backend interface {
	Export(ctx context.Context, recordID string, opts Options) ([]byte, error)
}

// Config tunes the orchestrator.
type Config struct {
	BulkDelay     time.Duration
	DisplayWindow time.Duration
}

// DefaultConfig returns the default export configuration.
func DefaultConfig() Config {
	return Config{
		BulkDelay:     500 * time.Millisecond,
		DisplayWindow: 3 * time.Second,
	}
}

// Orchestrator owns every export job.
type Orchestrator struct {
	backend  Backend
	saver    platform.Saver
	sched    platform.Scheduler
	progress *progress.Broadcaster
	cfg      Config
	now      func() time.Time
	logger   *slog.Logger

	mu     sync.Mutex
	jobs   map[string]*Job
	clears map[string]platform.Task
	done   chan struct{}
	closed bool
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock replaces time.Now for job timestamps and file names.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// NewOrchestrator creates an export orchestrator.
func NewOrchestrator(
	backend Backend,
	saver platform.Saver,
	sched platform.Scheduler,
	broadcaster *progress.Broadcaster,
	cfg Config,
	opts ...Option,
) *Orchestrator {
	if cfg.BulkDelay < 0 {
		cfg.BulkDelay = 0
	}
	if cfg.DisplayWindow <= 0 {
		cfg.DisplayWindow = DefaultConfig().DisplayWindow
	}

	o := &Orchestrator{
		backend:  backend,
		saver:    saver,
		sched:    sched,
		progress: broadcaster,
		cfg:      cfg,
		now:      time.Now,
		logger:   slog.Default(),
		jobs:     make(map[string]*Job),
		clears:   make(map[string]platform.Task),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With("component", "export-orchestrator")
	return o
}

// Validate checks a request without contacting the backend.
func Validate(req Request) error {
	if err := model.Validate(req); err != nil {
		return err
	}
	if !Supports(req.Kind, req.Options.Format) {
		return apperrors.NewValidationError("format",
			fmt.Sprintf("%s export is not supported for %s records", req.Options.Format, req.Kind))
	}
	return nil
}

// Export runs one export to completion. An unsupported format for the
// record kind fails before any backend call and creates no job.
func (o *Orchestrator) Export(ctx context.Context, req Request) (Job, error) {
	return o.export(ctx, req, "")
}

// ExportBulk exports every request sequentially with a fixed delay between
// records. A failed record does not stop the batch. The batch runs to the end
// even if ctx is cancelled. A record listed more than once is exported once,
// so Errors holds exactly one entry per failed record.
func (o *Orchestrator) ExportBulk(ctx context.Context, reqs []Request) BulkResult {
	ctx = context.WithoutCancel(ctx)
	reqs = uniqueRecords(reqs)

	res := BulkResult{
		BatchID: "bulk-" + uuid.NewString(),
		Total:   len(reqs),
		Errors:  make(map[string]string),
	}

	o.progress.Publish(progress.Update{JobID: res.BatchID, Status: string(StatusGenerating)})
	tracker := o.progress.CreateTracker(res.BatchID, 0, 100)

	for i, req := range reqs {
		if i > 0 && !o.pause(o.cfg.BulkDelay) {
			res.Failed += len(reqs) - i
			for _, rest := range reqs[i:] {
				res.Errors[rest.RecordID] = apperrors.ErrClosed.Error()
			}
			break
		}

		if _, err := o.export(ctx, req, res.BatchID); err != nil {
			res.Failed++
			res.Errors[req.RecordID] = err.Error()
		} else {
			res.Completed++
		}
		tracker.Update(string(StatusGenerating), i+1, len(reqs))
	}

	res.Status = StatusCompleted
	if res.Failed > 0 {
		res.Status = StatusError
	}
	if len(res.Errors) == 0 {
		res.Errors = nil
	}

	o.progress.Publish(progress.Update{
		JobID:      res.BatchID,
		Status:     string(res.Status),
		Percentage: 100,
		Terminal:   true,
	})
	o.scheduleClear(res.BatchID, nil)

	o.logger.Info("Bulk export finished",
		"batch_id", res.BatchID,
		"completed", res.Completed,
		"failed", res.Failed,
		"total", res.Total)
	return res
}

// Job returns the job of a record.
func (o *Orchestrator) Job(recordID string) (Job, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	j, ok := o.jobs[recordID]
	if !ok {
		return Job{}, false
	}
	return *j, true
}

// Jobs returns every job still displayed.
func (o *Orchestrator) Jobs() []Job {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]Job, 0, len(o.jobs))
	for _, j := range o.jobs {
		out = append(out, *j)
	}
	return out
}

// Close stops pending bulk delays and display window timers.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return
	}
	o.closed = true
	close(o.done)
	for id, task := range o.clears {
		task.Cancel()
		delete(o.clears, id)
	}
}

func (o *Orchestrator) export(ctx context.Context, req Request, batchID string) (Job, error) {
	if err := Validate(req); err != nil {
		return Job{}, err
	}

	job, err := o.begin(req, batchID)
	if err != nil {
		return Job{}, err
	}

	o.transition(job, StatusGenerating, "")
	data, err := o.backend.Export(ctx, req.RecordID, req.Options)
	if err != nil {
		return o.fail(job, req, err)
	}

	o.transition(job, StatusDownloading, "")
	filename := Filename(req.Kind, req.RecordID, req.Options.Format, o.now())
	if err := o.saver.Save(ctx, data, filename); err != nil {
		return o.fail(job, req, err)
	}

	final := o.transition(job, StatusCompleted, filename)
	o.logger.Info("Export completed",
		"record_id", req.RecordID,
		"format", req.Options.Format,
		"filename", filename)
	return final, nil
}

// begin registers a job in the preparing state. A terminal job of the same
// record that is still displayed is replaced.
func (o *Orchestrator) begin(req Request, batchID string) (*Job, error) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil, apperrors.ErrClosed
	}
	if prev, ok := o.jobs[req.RecordID]; ok && !prev.Status.Terminal() {
		o.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrJobActive, req.RecordID)
	}
	if task, ok := o.clears[req.RecordID]; ok {
		task.Cancel()
		delete(o.clears, req.RecordID)
	}

	now := o.now()
	job := &Job{
		ID:        req.RecordID,
		RecordID:  req.RecordID,
		Kind:      req.Kind,
		Format:    req.Options.Format,
		BatchID:   batchID,
		Status:    StatusPreparing,
		Progress:  stepProgress[StatusPreparing],
		StartedAt: now,
		UpdatedAt: now,
	}
	o.jobs[req.RecordID] = job
	snapshot := *job
	o.mu.Unlock()

	o.progress.Clear(job.ID)
	o.publish(snapshot)
	return job, nil
}

func (o *Orchestrator) transition(job *Job, status Status, filename string) Job {
	o.mu.Lock()
	job.Status = status
	job.Progress = max(job.Progress, stepProgress[status])
	if filename != "" {
		job.Filename = filename
	}
	job.UpdatedAt = o.now()
	snapshot := *job
	o.mu.Unlock()

	o.publish(snapshot)
	if status.Terminal() {
		o.scheduleClear(job.ID, job)
	}
	return snapshot
}

func (o *Orchestrator) fail(job *Job, req Request, cause error) (Job, error) {
	err := apperrors.NewExportError(req.RecordID, string(req.Options.Format), cause)

	o.mu.Lock()
	job.Status = StatusError
	job.Error = err.Error()
	job.UpdatedAt = o.now()
	snapshot := *job
	o.mu.Unlock()

	o.publish(snapshot)
	o.scheduleClear(job.ID, job)

	o.logger.Error("Export failed",
		"record_id", req.RecordID,
		"format", req.Options.Format,
		"error", cause)
	return snapshot, err
}

func (o *Orchestrator) publish(j Job) {
	o.progress.Publish(progress.Update{
		JobID:      j.ID,
		Status:     string(j.Status),
		Percentage: j.Progress,
		Error:      j.Error,
		Terminal:   j.Status.Terminal(),
		Timestamp:  j.UpdatedAt,
	})
}

// scheduleClear removes a terminal job after the display window. A nil job
// only clears broadcaster state.
func (o *Orchestrator) scheduleClear(id string, job *Job) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}

	var task platform.Task
	task = o.sched.Schedule(func() {
		o.mu.Lock()
		if o.clears[id] != task {
			o.mu.Unlock()
			return
		}
		delete(o.clears, id)
		if job != nil && o.jobs[id] == job {
			delete(o.jobs, id)
		}
		o.mu.Unlock()

		o.progress.Clear(id)
	}, o.cfg.DisplayWindow)
	o.clears[id] = task
}

// pause waits between bulk records. It returns false if the orchestrator was
// closed meanwhile.
func (o *Orchestrator) pause(d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-o.done:
		return false
	}
}

// uniqueRecords keeps the first request of every record id.
func uniqueRecords(reqs []Request) []Request {
	seen := make(map[string]bool, len(reqs))
	out := make([]Request, 0, len(reqs))
	for _, req := range reqs {
		if seen[req.RecordID] {
			continue
		}
		seen[req.RecordID] = true
		out = append(out, req)
	}
	return out
}
