package server

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cwbudde/wolfefit/internal/config"
	"github.com/google/uuid"
)

// JobState represents the current state of a job
type JobState string

const (
	StatePending   JobState = "pending"
	StateRunning   JobState = "running"
	StateCompleted JobState = "completed"
	StateFailed    JobState = "failed"
	StateCancelled JobState = "cancelled"
)

// ErrJobNotFound is returned for unknown job IDs.
var ErrJobNotFound = errors.New("job not found")

// ErrJobNotRunning is returned when cancelling a job that is not running.
var ErrJobNotRunning = errors.New("job is not running")

// Job represents an optimization job
type Job struct {
	ID           string           `json:"id"`
	State        JobState         `json:"state"`
	Config       config.RunConfig `json:"config"`
	BestParams   []float64        `json:"bestParams,omitempty"`
	BestValue    float64          `json:"bestValue"`
	InitialValue float64          `json:"initialValue"`
	Iterations   int              `json:"iterations"`
	FuncEvals    int              `json:"funcEvals"`
	GradEvals    int              `json:"gradEvals"`
	Reason       string           `json:"reason,omitempty"`
	StartTime    time.Time        `json:"startTime"`
	EndTime      *time.Time       `json:"endTime,omitempty"`
	Error        string           `json:"error,omitempty"`

	cancel context.CancelFunc
}

// snapshot copies the job so it can be read without the manager lock.
func (j *Job) snapshot() Job {
	c := *j
	c.BestParams = append([]float64(nil), j.BestParams...)
	if j.EndTime != nil {
		end := *j.EndTime
		c.EndTime = &end
	}
	c.cancel = nil
	return c
}

// JobManager manages the lifecycle of jobs
type JobManager struct {
	mu          sync.RWMutex
	jobs        map[string]*Job
	broadcaster *EventBroadcaster
}

// NewJobManager creates a new JobManager
func NewJobManager() *JobManager {
	return &JobManager{
		jobs:        make(map[string]*Job),
		broadcaster: NewEventBroadcaster(),
	}
}

// CreateJob registers a pending job with a fresh ID.
func (jm *JobManager) CreateJob(cfg config.RunConfig) Job {
	job, _ := jm.AddJob(uuid.New().String(), cfg)
	return job
}

// AddJob registers a pending job under a known ID, replacing a finished
// job with the same ID. It fails while that job is still active.
func (jm *JobManager) AddJob(id string, cfg config.RunConfig) (Job, error) {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	if old, ok := jm.jobs[id]; ok && (old.State == StatePending || old.State == StateRunning) {
		return Job{}, fmt.Errorf("job %s is %s", id, old.State)
	}

	job := &Job{
		ID:        id,
		State:     StatePending,
		Config:    cfg,
		StartTime: time.Now(),
	}
	jm.jobs[id] = job
	return job.snapshot(), nil
}

// GetJob returns a copy of the job with the given ID.
func (jm *JobManager) GetJob(id string) (Job, bool) {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	job, exists := jm.jobs[id]
	if !exists {
		return Job{}, false
	}
	return job.snapshot(), true
}

// ListJobs returns copies of all jobs, oldest first.
func (jm *JobManager) ListJobs() []Job {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	jobs := make([]Job, 0, len(jm.jobs))
	for _, job := range jm.jobs {
		jobs = append(jobs, job.snapshot())
	}
	sort.SliceStable(jobs, func(i, j int) bool {
		return jobs[i].StartTime.Before(jobs[j].StartTime)
	})
	return jobs
}

// UpdateJob atomically updates a job using the provided function
func (jm *JobManager) UpdateJob(id string, updateFn func(*Job)) error {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	job, exists := jm.jobs[id]
	if !exists {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}

	updateFn(job)
	return nil
}

// GetRunningJobs returns all jobs currently in the running state
func (jm *JobManager) GetRunningJobs() []Job {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	runningJobs := make([]Job, 0)
	for _, job := range jm.jobs {
		if job.State == StateRunning {
			runningJobs = append(runningJobs, job.snapshot())
		}
	}
	return runningJobs
}

// CancelJob stops a running job. The job saves a checkpoint and ends in
// the cancelled state.
func (jm *JobManager) CancelJob(id string) error {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	job, exists := jm.jobs[id]
	if !exists {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if job.State != StateRunning || job.cancel == nil {
		return fmt.Errorf("%w: %s is %s", ErrJobNotRunning, id, job.State)
	}
	job.cancel()
	return nil
}
