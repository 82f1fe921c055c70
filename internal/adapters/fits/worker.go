package fits

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"cellfit/internal/blob"
	"cellfit/internal/fitstore"
)

// JobStatus describes the lifecycle stage of an ingest job.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// DefaultQueueSize bounds the number of jobs waiting for the worker.
const DefaultQueueSize = 32

// DefaultRetention bounds the number of finished jobs kept for Get.
const DefaultRetention = 1024

// ErrQueueFull is returned by Enqueue when no queue slot is free.
var ErrQueueFull = errors.New("ingest queue full")

// ErrStopped is returned by Enqueue once Stop has been called.
var ErrStopped = errors.New("ingest worker stopped")

// Artifact describes one rendered export stored in the blob store.
type Artifact struct {
	Key         string    `json:"key"`
	Format      Format    `json:"format"`
	ContentType string    `json:"content_type"`
	SizeBytes   int64     `json:"size_bytes"`
	ETag        string    `json:"etag,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Job tracks an ingest request and the artifacts it produced.
type Job struct {
	ID          string     `json:"id"`
	Key         string     `json:"key"`
	Formats     []Format   `json:"formats"`
	Status      JobStatus  `json:"status"`
	Error       string     `json:"error,omitempty"`
	RecordID    string     `json:"record_id,omitempty"`
	Artifacts   []Artifact `json:"artifacts,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func (j *Job) copy() Job {
	out := *j
	out.Formats = append([]Format(nil), j.Formats...)
	out.Artifacts = append([]Artifact(nil), j.Artifacts...)
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		out.CompletedAt = &t
	}
	return out
}

// IngestInput is an enqueue request for the worker.
type IngestInput struct {
	Key     string
	Formats []Format
}

// Ingester turns a stored fit document into a record.
type Ingester interface {
	Ingest(ctx context.Context, key string) (fitstore.Record, error)
}

// Scheduler queues ingest requests and exposes their status.
type Scheduler interface {
	Enqueue(ctx context.Context, input IngestInput) (Job, error)
	Get(id string) (Job, bool)
}

// AuditLogger records job audit entries.
type AuditLogger interface {
	Record(ctx context.Context, entry AuditEntry)
}

// AuditEntry captures one job status change.
type AuditEntry struct {
	ID         string         `json:"id"`
	Action     string         `json:"action"`
	JobID      string         `json:"job_id"`
	Key        string         `json:"key"`
	Status     JobStatus      `json:"status"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

const auditAction = "fit_ingest"

// WorkerOption customises a Worker.
type WorkerOption func(*Worker)

// WithQueueSize sets the queue capacity. Non-positive sizes are ignored.
func WithQueueSize(n int) WorkerOption {
	return func(w *Worker) {
		if n > 0 {
			w.queueSize = n
		}
	}
}

// WithRetention sets how many finished jobs stay visible to Get. The oldest
// finished job is forgotten first. Non-positive values are ignored.
func WithRetention(n int) WorkerOption {
	return func(w *Worker) {
		if n > 0 {
			w.retention = n
		}
	}
}

// WithAudit sets the audit sink.
func WithAudit(a AuditLogger) WorkerOption {
	return func(w *Worker) { w.audit = a }
}

// Worker runs ingests asynchronously on a single goroutine and stores the
// rendered exports of each resulting record.
type Worker struct {
	ingester  Ingester
	blobs     blob.Store
	audit     AuditLogger
	queueSize int
	retention int
	now       func() time.Time

	queue    chan string
	mu       sync.RWMutex
	jobs     map[string]*Job
	finished []string
	stopped  bool
	done     chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWorker constructs a worker. blobs may be nil, in which case jobs only
// ingest and no artifacts are written.
func NewWorker(ing Ingester, blobs blob.Store, opts ...WorkerOption) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		ingester:  ing,
		blobs:     blobs,
		queueSize: DefaultQueueSize,
		retention: DefaultRetention,
		now:       func() time.Time { return time.Now().UTC() },
		jobs:      make(map[string]*Job),
		done:      make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.queue = make(chan string, w.queueSize)
	return w
}

// Start begins processing queued jobs.
func (w *Worker) Start() {
	w.wg.Add(1)
	go w.loop()
}

// Stop refuses new jobs, waits for queued ones to finish and halts the
// worker. If ctx expires first the job in flight is cancelled.
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.stopped {
		w.stopped = true
		close(w.done)
	}
	w.mu.Unlock()
	finished := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(finished)
	}()
	defer w.cancel()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			for {
				select {
				case id := <-w.queue:
					w.process(id)
				default:
					return
				}
			}
		case id := <-w.queue:
			w.process(id)
		}
	}
}

// Enqueue schedules an ingest job and returns the queued snapshot.
func (w *Worker) Enqueue(ctx context.Context, input IngestInput) (Job, error) {
	if w.ingester == nil {
		return Job{}, fmt.Errorf("ingester not configured")
	}
	key := strings.TrimSpace(input.Key)
	if key == "" {
		return Job{}, fmt.Errorf("blob key required")
	}
	formats := input.Formats
	if len(formats) == 0 {
		formats = DefaultFormats
	}
	uniq := make([]Format, 0, len(formats))
	seen := make(map[Format]struct{}, len(formats))
	for _, f := range formats {
		parsed, err := ParseFormat(string(f))
		if err != nil {
			return Job{}, err
		}
		if _, dup := seen[parsed]; dup {
			continue
		}
		seen[parsed] = struct{}{}
		uniq = append(uniq, parsed)
	}

	now := w.now()
	job := &Job{ID: uuid.NewString(), Key: key, Formats: uniq, Status: JobStatusQueued, CreatedAt: now, UpdatedAt: now}

	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return Job{}, ErrStopped
	}
	select {
	case w.queue <- job.ID:
	default:
		w.mu.Unlock()
		return Job{}, ErrQueueFull
	}
	w.jobs[job.ID] = job
	snapshot := job.copy()
	w.mu.Unlock()

	w.record(ctx, snapshot, nil)
	return snapshot, nil
}

// Get returns a snapshot of the job.
func (w *Worker) Get(id string) (Job, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	job, ok := w.jobs[id]
	if !ok {
		return Job{}, false
	}
	return job.copy(), true
}

func (w *Worker) process(id string) {
	job, ok := w.update(id, func(j *Job) { j.Status = JobStatusRunning })
	if !ok {
		return
	}
	w.record(w.ctx, job, nil)

	rec, err := w.ingester.Ingest(w.ctx, job.Key)
	if err != nil {
		w.fail(id, fmt.Sprintf("ingest failed: %v", err))
		return
	}
	artifacts := make([]Artifact, 0, len(job.Formats))
	if w.blobs != nil {
		for _, format := range job.Formats {
			art, err := w.store(rec, format)
			if err != nil {
				w.fail(id, err.Error())
				return
			}
			artifacts = append(artifacts, art)
		}
	}
	job, _ = w.update(id, func(j *Job) {
		now := w.now()
		j.Status = JobStatusSucceeded
		j.Error = ""
		j.RecordID = rec.ID
		j.Artifacts = artifacts
		j.CompletedAt = &now
	})
	w.record(w.ctx, job, map[string]any{"record_id": rec.ID, "artifacts": len(artifacts)})
}

// store renders rec and writes it under its artifact key. Artifacts are
// immutable: an export already present for the record is reused.
func (w *Worker) store(rec fitstore.Record, format Format) (Artifact, error) {
	key := ArtifactKey(rec.ID, format)
	payload, err := Render(rec, format)
	if err != nil {
		return Artifact{}, fmt.Errorf("render %s: %w", format, err)
	}
	info, err := w.blobs.Put(w.ctx, key, bytes.NewReader(payload), blob.PutOptions{
		ContentType: format.ContentType(),
		Metadata:    map[string]string{"record-id": rec.ID, "digest": rec.Digest},
	})
	if errors.Is(err, blob.ErrExists) {
		info, err = w.blobs.Head(w.ctx, key)
	}
	if err != nil {
		return Artifact{}, fmt.Errorf("store artifact %s: %w", key, err)
	}
	art := Artifact{Key: key, Format: format, ContentType: info.ContentType, SizeBytes: info.Size, ETag: info.ETag, CreatedAt: info.LastModified}
	if art.ContentType == "" {
		art.ContentType = format.ContentType()
	}
	if art.CreatedAt.IsZero() {
		art.CreatedAt = w.now()
	}
	return art, nil
}

func (w *Worker) fail(id, reason string) {
	job, ok := w.update(id, func(j *Job) {
		now := w.now()
		j.Status = JobStatusFailed
		j.Error = reason
		j.CompletedAt = &now
	})
	if ok {
		w.record(w.ctx, job, map[string]any{"error": reason})
	}
}

func (w *Worker) update(id string, fn func(*Job)) (Job, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	job, ok := w.jobs[id]
	if !ok {
		return Job{}, false
	}
	done := job.CompletedAt != nil
	fn(job)
	job.UpdatedAt = w.now()
	if !done && job.CompletedAt != nil {
		w.retire(id)
	}
	return job.copy(), true
}

// retire marks id finished and evicts the oldest finished jobs beyond the
// retention limit. Callers hold w.mu.
func (w *Worker) retire(id string) {
	w.finished = append(w.finished, id)
	for len(w.finished) > w.retention {
		delete(w.jobs, w.finished[0])
		w.finished = w.finished[1:]
	}
}

func (w *Worker) record(ctx context.Context, job Job, metadata map[string]any) {
	if w.audit == nil {
		return
	}
	w.audit.Record(ctx, AuditEntry{
		ID:         uuid.NewString(),
		Action:     auditAction,
		JobID:      job.ID,
		Key:        job.Key,
		Status:     job.Status,
		Metadata:   metadata,
		OccurredAt: w.now(),
	})
}

// MemoryAuditLog captures audit entries in memory.
type MemoryAuditLog struct {
	mu      sync.Mutex
	entries []AuditEntry
}

// Record stores an audit entry.
func (l *MemoryAuditLog) Record(_ context.Context, entry AuditEntry) {
	l.mu.Lock()
	l.entries = append(l.entries, entry)
	l.mu.Unlock()
}

// Entries returns a copy of the recorded entries.
func (l *MemoryAuditLog) Entries() []AuditEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]AuditEntry, len(l.entries))
	copy(out, l.entries)
	return out
}
