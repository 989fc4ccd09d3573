// Package runner executes optimisation jobs and persists their progress.
//
// A job writes one trace entry per accepted ascent step and a checkpoint
// of the best point every CheckpointEvery iterations, so an interrupted
// job can continue from where it stopped.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cwbudde/wolfefit/internal/config"
	"github.com/cwbudde/wolfefit/internal/opt"
	"github.com/cwbudde/wolfefit/internal/problem"
	"github.com/cwbudde/wolfefit/internal/store"
)

// Progress is reported after every recorded iteration.
type Progress struct {
	store.TraceEntry
	InitialValue float64
	BestValue    float64
	BestParams   []float64
}

// ProgressFunc receives progress updates. It runs on the optimisation
// goroutine and must not block.
type ProgressFunc func(Progress)

// counters carried over from earlier runs of a job.
type counters struct {
	iterations int
	funcEvals  int
	gradEvals  int
}

// Runner runs one job.
type Runner struct {
	id    string
	cfg   config.RunConfig
	obj   problem.Objective
	store *store.FSStore

	resumed    bool
	base       counters
	onProgress ProgressFunc

	mu        sync.Mutex
	trace     *store.TraceWriter
	initial   float64
	best      []float64
	bestValue float64
}

// New builds the configured problem for a job.
func New(st *store.FSStore, jobID string, cfg config.RunConfig) (*Runner, error) {
	obj, err := problem.Lookup(cfg.Problem, cfg.Sources, cfg.Seed)
	if err != nil {
		return nil, err
	}
	return &Runner{id: jobID, cfg: cfg, obj: obj, store: st}, nil
}

// ID returns the job ID.
func (r *Runner) ID() string { return r.id }

// Config returns the run configuration.
func (r *Runner) Config() config.RunConfig { return r.cfg }

// Objective returns the problem being optimised.
func (r *Runner) Objective() problem.Objective { return r.obj }

// Store returns the store the job persists to.
func (r *Runner) Store() *store.FSStore { return r.store }

// OnProgress registers fn to receive progress updates.
func (r *Runner) OnProgress(fn ProgressFunc) { r.onProgress = fn }

// ResumeFrom continues the job from a saved checkpoint. The trace is
// appended to and iteration numbers keep counting.
func (r *Runner) ResumeFrom(cp *store.Checkpoint) error {
	if want := r.obj.Layout().Size(r.obj.Sources()); len(cp.BestParams) != want {
		return fmt.Errorf("checkpoint has %d parameters, problem needs %d", len(cp.BestParams), want)
	}
	r.resumed = true
	r.base = counters{iterations: cp.Iteration, funcEvals: cp.FuncEvals, gradEvals: cp.GradEvals}
	r.initial = cp.InitialValue
	r.best = append([]float64(nil), cp.BestParams...)
	r.bestValue = cp.BestValue
	return nil
}

// Run optimises until the ascent stops or ctx is cancelled and saves a
// final checkpoint. A cancelled run still returns its checkpoint together
// with the context error.
func (r *Runner) Run(ctx context.Context) (*store.Checkpoint, error) {
	if !r.resumed {
		start := r.obj.Start()
		sf, err := r.obj.Evaluate(start)
		if err != nil {
			return nil, fmt.Errorf("evaluate start: %w", err)
		}
		r.initial, r.best, r.bestValue = sf.Value, start, sf.Value
	}

	trace, err := store.NewTraceWriter(r.store.BaseDir(), r.id, r.resumed)
	if err != nil {
		return nil, err
	}
	r.trace = trace
	defer func() {
		if err := trace.Close(); err != nil {
			slog.Error("Failed to close trace", "job_id", r.id, "error", err)
		}
	}()

	ascent, err := opt.NewAscent(r.cfg.Config, r.record)
	if err != nil {
		return nil, err
	}

	slog.Info("Starting job",
		"job_id", r.id,
		"problem", r.cfg.Problem,
		"sources", r.cfg.Sources,
		"mode", r.cfg.Mode,
		"restarts", r.cfg.Restarts,
		"resumed", r.resumed,
	)
	begin := time.Now()

	start := append([]float64(nil), r.best...)
	var res *opt.Result
	var runErr error
	switch {
	case r.cfg.Mode == config.ModeSequential:
		res, runErr = opt.OptimizeSequential(ctx, r.obj, ascent, start, r.cfg.Passes)
	case r.cfg.Restarts > 1:
		res, runErr = opt.MultiStart(ctx, r.obj, ascent, start, r.cfg.MultiStart())
	default:
		res, runErr = opt.OptimizeJoint(ctx, r.obj, ascent, start)
	}
	if res == nil {
		return nil, runErr
	}

	cp := r.finalCheckpoint(res)
	if err := r.store.SaveCheckpoint(r.id, cp); err != nil {
		return nil, fmt.Errorf("save final checkpoint: %w", err)
	}

	slog.Info("Job complete",
		"job_id", r.id,
		"elapsed", time.Since(begin),
		"reason", cp.Reason,
		"iterations", cp.Iteration,
		"initial_value", cp.InitialValue,
		"value", cp.BestValue,
	)
	return cp, runErr
}

// record writes one trace entry and saves a periodic checkpoint of the best
// point seen so far.
func (r *Runner) record(it opt.Iteration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	index := r.base.iterations + it.Index
	entry := store.TraceEntry{
		Iteration: index,
		Restart:   it.Restart,
		Source:    it.Source,
		Value:     it.Value,
		Step:      it.Step,
		FuncEvals: r.base.funcEvals + it.FuncEvals,
		GradEvals: r.base.gradEvals + it.GradEvals,
		GradNorm:  it.GradNorm,
		Status:    it.Status.String(),
		Timestamp: time.Now(),
	}
	if err := r.trace.Write(entry); err != nil {
		return err
	}

	if it.Value > r.bestValue {
		r.bestValue = it.Value
		r.best = append([]float64(nil), it.Params...)
	}
	if r.onProgress != nil {
		r.onProgress(Progress{
			TraceEntry:   entry,
			InitialValue: r.initial,
			BestValue:    r.bestValue,
			BestParams:   append([]float64(nil), r.best...),
		})
	}

	if r.cfg.CheckpointEvery == 0 || index%r.cfg.CheckpointEvery != 0 {
		return nil
	}
	if err := r.trace.Flush(); err != nil {
		return err
	}
	cp := store.NewCheckpoint(r.id, r.best, r.bestValue, r.initial, index, r.cfg)
	cp.FuncEvals = entry.FuncEvals
	cp.GradEvals = entry.GradEvals
	return r.store.SaveCheckpoint(r.id, cp)
}

func (r *Runner) finalCheckpoint(res *opt.Result) *store.Checkpoint {
	r.mu.Lock()
	defer r.mu.Unlock()

	params, value := res.Params, res.Value
	if r.bestValue > value {
		params, value = r.best, r.bestValue
	}
	cp := store.NewCheckpoint(r.id, params, value, r.initial, r.base.iterations+res.Iterations, r.cfg)
	cp.FuncEvals = r.base.funcEvals + res.FuncEvals
	cp.GradEvals = r.base.gradEvals + res.GradEvals
	cp.Reason = string(res.Reason)
	return cp
}

// Resume loads the checkpoint of a job and returns a runner that continues
// it. adjust may change the saved configuration; the problem, its size and
// seed, and the mode must stay as saved.
func Resume(st *store.FSStore, jobID string, adjust func(*config.RunConfig) error) (*Runner, error) {
	cp, err := st.LoadCheckpoint(jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	cfg := cp.Config
	if adjust != nil {
		if err := adjust(&cfg); err != nil {
			return nil, err
		}
	}
	cfg.DataDir = st.BaseDir()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cp.IsCompatible(cfg); err != nil {
		return nil, fmt.Errorf("cannot resume %s: %w", jobID, err)
	}

	r, err := New(st, jobID, cfg)
	if err != nil {
		return nil, err
	}
	if err := r.ResumeFrom(cp); err != nil {
		return nil, err
	}

	slog.Info("Resuming job", "job_id", jobID, "iteration", cp.Iteration, "value", cp.BestValue, "reason", cp.Reason)
	return r, nil
}
