package server

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cwbudde/wolfefit/internal/runner"
	"github.com/cwbudde/wolfefit/internal/store"
)

// runJob executes a registered job, mirroring its progress into the job
// manager and the event broadcaster. Cancelling ctx, or the job through
// the manager, stops the run after it saves a checkpoint.
func runJob(ctx context.Context, jm *JobManager, r *runner.Runner) error {
	jobID := r.ID()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	err := jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateRunning
		j.cancel = cancel
	})
	if err != nil {
		return err
	}
	jm.broadcaster.Broadcast(ProgressEvent{JobID: jobID, State: StateRunning, Timestamp: time.Now()})

	r.OnProgress(func(p runner.Progress) {
		jm.UpdateJob(jobID, func(j *Job) {
			j.Iterations = p.Iteration
			j.FuncEvals = p.FuncEvals
			j.GradEvals = p.GradEvals
			j.InitialValue = p.InitialValue
			j.BestValue = p.BestValue
			j.BestParams = p.BestParams
		})
		jm.broadcaster.Broadcast(ProgressEvent{
			JobID:     jobID,
			State:     StateRunning,
			Iteration: p.Iteration,
			Restart:   p.Restart,
			Source:    p.Source,
			Value:     p.Value,
			BestValue: p.BestValue,
			GradNorm:  p.GradNorm,
			Timestamp: p.Timestamp,
		})
	})

	cp, err := r.Run(ctx)

	state := StateCompleted
	switch {
	case cp == nil:
		markJobFailed(jm, jobID, err)
		return err
	case errors.Is(err, context.Canceled):
		state = StateCancelled
	case err != nil:
		state = StateFailed
	}
	finishJob(jm, jobID, state, cp, err)

	if state == StateCompleted {
		slog.Info("Job completed", "job_id", jobID, "iterations", cp.Iteration, "value", cp.BestValue)
		return nil
	}
	return err
}

// finishJob records the final checkpoint of a job and notifies listeners.
func finishJob(jm *JobManager, jobID string, state JobState, cp *store.Checkpoint, err error) {
	endTime := time.Now()
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = state
		j.BestParams = cp.BestParams
		j.BestValue = cp.BestValue
		j.InitialValue = cp.InitialValue
		j.Iterations = cp.Iteration
		j.FuncEvals = cp.FuncEvals
		j.GradEvals = cp.GradEvals
		j.Reason = cp.Reason
		j.EndTime = &endTime
		j.cancel = nil
		if state == StateFailed && err != nil {
			j.Error = err.Error()
		}
	})
	switch state {
	case StateCancelled:
		slog.Info("Job cancelled", "job_id", jobID, "iteration", cp.Iteration)
	case StateFailed:
		slog.Error("Job failed", "job_id", jobID, "error", err)
	}

	jm.broadcaster.Broadcast(ProgressEvent{
		JobID:     jobID,
		State:     state,
		Iteration: cp.Iteration,
		Source:    -1,
		Value:     cp.BestValue,
		BestValue: cp.BestValue,
		Timestamp: endTime,
	})
}

// markJobFailed marks a job as failed with an error message
func markJobFailed(jm *JobManager, jobID string, err error) {
	endTime := time.Now()
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateFailed
		j.Error = err.Error()
		j.EndTime = &endTime
		j.cancel = nil
	})
	jm.broadcaster.Broadcast(ProgressEvent{JobID: jobID, State: StateFailed, Timestamp: endTime})
	slog.Error("Job failed", "job_id", jobID, "error", err)
}
