// Package reconcile walks the registration ledger against a replica store
// and reports (or repairs) drift between the two. Walks run as resumable
// jobs: a queued job is checkpointed as it progresses and either succeeds
// or is parked failed with a retry hint.
package reconcile

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type JobMode string

const (
	// JobModeAudit only reports drift.
	JobModeAudit JobMode = "audit"
	// JobModeRepair overwrites replica entries with the authoritative ones.
	JobModeRepair JobMode = "repair"
)

type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// Job is one reconciliation walk. Checkpoint holds the hex identity of the
// last ledger entry processed so a resumed job skips what it already saw.
type Job struct {
	ID            string
	Mode          JobMode
	Status        JobStatus
	Checkpoint    string
	Drift         int
	Attempts      int
	NextAttemptAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
	Metadata      map[string]any
}

type JobStore interface {
	Create(ctx context.Context, job Job) (Job, error)
	Get(ctx context.Context, id string) (Job, error)
	Update(ctx context.Context, job Job) (Job, error)
}

type Orchestrator struct {
	Jobs JobStore
	Now  func() time.Time
}

func NewOrchestrator(jobs JobStore) *Orchestrator {
	return &Orchestrator{
		Jobs: jobs,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (o *Orchestrator) StartAudit(ctx context.Context, metadata map[string]any) (Job, error) {
	return o.start(ctx, Job{Mode: JobModeAudit, Status: JobStatusQueued}, metadata)
}

func (o *Orchestrator) StartRepair(ctx context.Context, metadata map[string]any) (Job, error) {
	return o.start(ctx, Job{Mode: JobModeRepair, Status: JobStatusQueued}, metadata)
}

// Resume re-queues a failed job. Succeeded jobs are left alone.
func (o *Orchestrator) Resume(ctx context.Context, jobID string) error {
	if o == nil || o.Jobs == nil {
		return fmt.Errorf("reconcile: orchestrator requires a job store")
	}
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return fmt.Errorf("reconcile: job id is required")
	}
	job, err := o.Jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}

	switch job.Status {
	case JobStatusFailed:
		job.Status = JobStatusQueued
	case JobStatusSucceeded:
		return nil
	}
	job.Attempts++
	job.UpdatedAt = o.now()
	_, err = o.Jobs.Update(ctx, job)
	return err
}

func (o *Orchestrator) SaveCheckpoint(
	ctx context.Context,
	jobID string,
	checkpoint string,
	drift int,
	metadata map[string]any,
) (Job, error) {
	if o == nil || o.Jobs == nil {
		return Job{}, fmt.Errorf("reconcile: orchestrator requires a job store")
	}
	job, err := o.Jobs.Get(ctx, strings.TrimSpace(jobID))
	if err != nil {
		return Job{}, err
	}
	job.Checkpoint = strings.TrimSpace(checkpoint)
	job.Status = JobStatusRunning
	job.Drift = drift
	job.UpdatedAt = o.now()
	job.Metadata = mergeAnyMap(job.Metadata, metadata)
	return o.Jobs.Update(ctx, job)
}

func (o *Orchestrator) Complete(
	ctx context.Context,
	jobID string,
	checkpoint string,
	drift int,
	metadata map[string]any,
) (Job, error) {
	job, err := o.SaveCheckpoint(ctx, jobID, checkpoint, drift, metadata)
	if err != nil {
		return Job{}, err
	}
	job.Status = JobStatusSucceeded
	job.UpdatedAt = o.now()
	return o.Jobs.Update(ctx, job)
}

func (o *Orchestrator) Fail(
	ctx context.Context,
	jobID string,
	cause error,
	nextAttemptAt *time.Time,
) (Job, error) {
	if o == nil || o.Jobs == nil {
		return Job{}, fmt.Errorf("reconcile: orchestrator requires a job store")
	}
	job, err := o.Jobs.Get(ctx, strings.TrimSpace(jobID))
	if err != nil {
		return Job{}, err
	}
	job.Status = JobStatusFailed
	job.Attempts++
	job.UpdatedAt = o.now()
	job.Metadata = mergeAnyMap(job.Metadata, map[string]any{
		"last_error": strings.TrimSpace(fmt.Sprint(cause)),
	})
	if nextAttemptAt != nil {
		value := nextAttemptAt.UTC()
		job.NextAttemptAt = &value
	}
	return o.Jobs.Update(ctx, job)
}

func (o *Orchestrator) start(ctx context.Context, job Job, metadata map[string]any) (Job, error) {
	if o == nil || o.Jobs == nil {
		return Job{}, fmt.Errorf("reconcile: orchestrator requires a job store")
	}
	now := o.now()
	job.ID = uuid.NewString()
	job.Attempts = 0
	job.CreatedAt = now
	job.UpdatedAt = now
	job.Metadata = mergeAnyMap(job.Metadata, metadata)
	return o.Jobs.Create(ctx, job)
}

func (o *Orchestrator) now() time.Time {
	if o != nil && o.Now != nil {
		return o.Now().UTC()
	}
	return time.Now().UTC()
}

func mergeAnyMap(left map[string]any, right map[string]any) map[string]any {
	if len(left) == 0 && len(right) == 0 {
		return map[string]any{}
	}
	merged := map[string]any{}
	for key, value := range left {
		merged[key] = value
	}
	for key, value := range right {
		merged[key] = value
	}
	return merged
}

// MemoryJobStore keeps jobs in process memory. Suited to tests and
// single-node deployments.
type MemoryJobStore struct {
	mu   sync.Mutex
	jobs map[string]Job
}

func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{jobs: map[string]Job{}}
}

func (s *MemoryJobStore) Create(_ context.Context, job Job) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return Job{}, fmt.Errorf("reconcile: job %s already exists", job.ID)
	}
	s.jobs[job.ID] = job
	return job, nil
}

func (s *MemoryJobStore) Get(_ context.Context, id string) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[strings.TrimSpace(id)]
	if !ok {
		return Job{}, fmt.Errorf("reconcile: job %s not found", id)
	}
	return job, nil
}

func (s *MemoryJobStore) Update(_ context.Context, job Job) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; !ok {
		return Job{}, fmt.Errorf("reconcile: job %s not found", job.ID)
	}
	s.jobs[job.ID] = job
	return job, nil
}

var _ JobStore = (*MemoryJobStore)(nil)
