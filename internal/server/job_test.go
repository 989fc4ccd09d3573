package server

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cwbudde/wolfefit/internal/config"
)

func TestJobManager_CreateJob(t *testing.T) {
	jm := NewJobManager()

	cfg := config.Default()
	cfg.Sources = 7
	job := jm.CreateJob(cfg)

	if job.ID == "" {
		t.Error("Job ID should not be empty")
	}
	if job.State != StatePending {
		t.Errorf("Initial state should be pending, got %s", job.State)
	}
	if job.Config.Sources != 7 {
		t.Errorf("Config not set correctly")
	}
	if job.StartTime.IsZero() {
		t.Error("StartTime should be set")
	}
}

func TestJobManager_GetJob(t *testing.T) {
	jm := NewJobManager()

	job := jm.CreateJob(config.Default())

	retrieved, exists := jm.GetJob(job.ID)
	if !exists {
		t.Fatal("Job should exist")
	}
	if retrieved.ID != job.ID {
		t.Error("Retrieved wrong job")
	}

	_, exists = jm.GetJob("nonexistent")
	if exists {
		t.Error("Should not find nonexistent job")
	}
}

func TestJobManager_GetJobReturnsCopy(t *testing.T) {
	jm := NewJobManager()
	job := jm.CreateJob(config.Default())
	jm.UpdateJob(job.ID, func(j *Job) { j.BestParams = []float64{1, 2, 3} })

	snapshot, _ := jm.GetJob(job.ID)
	snapshot.BestParams[0] = 99
	snapshot.State = StateFailed

	again, _ := jm.GetJob(job.ID)
	if again.BestParams[0] != 1 || again.State != StatePending {
		t.Errorf("Mutating a snapshot changed the job: %+v", again)
	}
}

func TestJobManager_ListJobs(t *testing.T) {
	jm := NewJobManager()

	if len(jm.ListJobs()) != 0 {
		t.Error("Should start with no jobs")
	}

	first := jm.CreateJob(config.Default())
	time.Sleep(2 * time.Millisecond)
	second := jm.CreateJob(config.Default())

	jobs := jm.ListJobs()
	if len(jobs) != 2 {
		t.Fatalf("Expected 2 jobs, got %d", len(jobs))
	}
	if jobs[0].ID != first.ID || jobs[1].ID != second.ID {
		t.Error("Jobs should be listed oldest first")
	}
}

func TestJobManager_UpdateJob(t *testing.T) {
	jm := NewJobManager()

	job := jm.CreateJob(config.Default())

	err := jm.UpdateJob(job.ID, func(j *Job) {
		j.State = StateRunning
		j.Iterations = 10
		j.BestValue = -123.45
	})
	if err != nil {
		t.Errorf("Update should succeed: %v", err)
	}

	updated, _ := jm.GetJob(job.ID)
	if updated.State != StateRunning {
		t.Error("State should be updated")
	}
	if updated.Iterations != 10 {
		t.Error("Iterations should be updated")
	}
	if updated.BestValue != -123.45 {
		t.Error("BestValue should be updated")
	}
	if len(jm.GetRunningJobs()) != 1 {
		t.Error("Job should be listed as running")
	}

	err = jm.UpdateJob("nonexistent", func(j *Job) {})
	if !errors.Is(err, ErrJobNotFound) {
		t.Errorf("Update of nonexistent job should fail with ErrJobNotFound, got %v", err)
	}
}

func TestJobManager_AddJob(t *testing.T) {
	jm := NewJobManager()

	if _, err := jm.AddJob("fixed", config.Default()); err != nil {
		t.Fatalf("AddJob failed: %v", err)
	}
	if _, err := jm.AddJob("fixed", config.Default()); err == nil {
		t.Error("AddJob should refuse to replace a pending job")
	}

	jm.UpdateJob("fixed", func(j *Job) { j.State = StateCompleted; j.Iterations = 5 })
	job, err := jm.AddJob("fixed", config.Default())
	if err != nil {
		t.Fatalf("AddJob should replace a finished job: %v", err)
	}
	if job.State != StatePending || job.Iterations != 0 {
		t.Errorf("Replaced job should start fresh, got %+v", job)
	}
}

func TestJobManager_CancelJob(t *testing.T) {
	jm := NewJobManager()
	job := jm.CreateJob(config.Default())

	if err := jm.CancelJob("nonexistent"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("Expected ErrJobNotFound, got %v", err)
	}
	if err := jm.CancelJob(job.ID); !errors.Is(err, ErrJobNotRunning) {
		t.Errorf("Expected ErrJobNotRunning for pending job, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	jm.UpdateJob(job.ID, func(j *Job) {
		j.State = StateRunning
		j.cancel = cancel
	})
	if err := jm.CancelJob(job.ID); err != nil {
		t.Fatalf("CancelJob failed: %v", err)
	}
	if ctx.Err() == nil {
		t.Error("Job context should be cancelled")
	}
}

func TestJobManager_ThreadSafety(t *testing.T) {
	jm := NewJobManager()

	job := jm.CreateJob(config.Default())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func(iteration int) {
			defer wg.Done()
			jm.UpdateJob(job.ID, func(j *Job) {
				j.Iterations = iteration
				j.BestParams = append(j.BestParams, float64(iteration))
			})
		}(i)
		go func() {
			defer wg.Done()
			jm.GetJob(job.ID)
			jm.ListJobs()
		}()
	}
	wg.Wait()

	final, exists := jm.GetJob(job.ID)
	if !exists {
		t.Fatal("Job should still exist after concurrent updates")
	}
	if len(final.BestParams) != 10 {
		t.Errorf("Expected 10 appended params, got %d", len(final.BestParams))
	}
}
