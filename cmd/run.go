package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/cwbudde/wolfefit/internal/config"
	"github.com/cwbudde/wolfefit/internal/opt"
	"github.com/cwbudde/wolfefit/internal/problem"
	"github.com/cwbudde/wolfefit/internal/runner"
	"github.com/cwbudde/wolfefit/internal/store"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// runOptions are the command-line overrides of a run configuration. Only
// flags that were set on the command line replace configured values.
type runOptions struct {
	configPath string
	problem    string
	sources    int
	seed       int64
	mode       string
	method     string
	iters      int
	restarts   int
	passes     int
	warmStart  bool
	dataDir    string
}

var runOpts runOptions

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run an optimization",
	Long: `Maximizes a built-in objective with a Newton or gradient ascent under a
strong Wolfe line search. Progress is written to a trace and periodic
checkpoints under the data directory, so interrupted runs can be resumed.`,
	RunE: runOptimization,
}

func init() {
	runOpts.register(runCmd.Flags())
	rootCmd.AddCommand(runCmd)
}

func (o *runOptions) register(fs *pflag.FlagSet) {
	def := config.Default()
	fs.StringVar(&o.configPath, "config", "", "YAML config file")
	fs.StringVar(&o.problem, "problem", def.Problem, fmt.Sprintf("Problem to optimize %v", problem.Names()))
	fs.IntVar(&o.sources, "sources", def.Sources, "Number of sources (dimension for rosenbrock)")
	fs.Int64Var(&o.seed, "seed", def.Seed, "Random seed")
	fs.StringVar(&o.mode, "mode", def.Mode, "Optimization mode: joint, sequential")
	fs.StringVar(&o.method, "method", string(def.Method), "Ascent direction: newton, gradient")
	fs.IntVar(&o.iters, "iters", def.MaxIters, "Max iterations per ascent")
	fs.IntVar(&o.restarts, "restarts", def.Restarts, "Concurrent restarts (joint mode)")
	fs.IntVar(&o.passes, "passes", def.Passes, "Sweeps over all sources (sequential mode)")
	fs.BoolVar(&o.warmStart, "warm-start", def.WarmStart.Enabled, "Run a mayfly search before the ascent")
	fs.StringVar(&o.dataDir, "data-dir", def.DataDir, "Base directory for traces and checkpoints")
}

// load reads the config file, if any, and applies the changed flags.
func (o *runOptions) load(fs *pflag.FlagSet) (*config.RunConfig, error) {
	cfg := config.Default()
	if o.configPath != "" {
		loaded, err := config.Load(o.configPath)
		if err != nil {
			return nil, err
		}
		cfg = *loaded
	}
	o.apply(&cfg, fs)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (o *runOptions) apply(cfg *config.RunConfig, fs *pflag.FlagSet) {
	if fs.Changed("problem") {
		cfg.Problem = o.problem
	}
	if fs.Changed("sources") {
		cfg.Sources = o.sources
	}
	if fs.Changed("seed") {
		cfg.Seed = o.seed
	}
	if fs.Changed("mode") {
		cfg.Mode = o.mode
	}
	if fs.Changed("method") {
		cfg.Method = opt.Method(o.method)
	}
	if fs.Changed("iters") {
		cfg.MaxIters = o.iters
	}
	if fs.Changed("restarts") {
		cfg.Restarts = o.restarts
	}
	if fs.Changed("passes") {
		cfg.Passes = o.passes
	}
	if fs.Changed("warm-start") {
		cfg.WarmStart.Enabled = o.warmStart
	}
	if fs.Changed("data-dir") {
		cfg.DataDir = o.dataDir
	}
}

func runOptimization(cmd *cobra.Command, args []string) error {
	cfg, err := runOpts.load(cmd.Flags())
	if err != nil {
		return err
	}

	st, err := store.NewFSStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("failed to create checkpoint store: %w", err)
	}
	r, err := runner.New(st, uuid.New().String(), *cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cp, err := r.Run(ctx)
	return report(os.Stdout, r, cp, err)
}

// report prints the outcome of a job. An interrupted job is not an error
// once its checkpoint is saved.
func report(w io.Writer, r *runner.Runner, cp *store.Checkpoint, err error) error {
	if cp == nil {
		return err
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	fmt.Fprintf(w, "Job %s: %s after %d iterations (value %.6g -> %.6g)\n",
		cp.JobID, cp.Reason, cp.Iteration, cp.InitialValue, cp.BestValue)
	printParams(w, r.Objective().Layout().PerSource, cp.BestParams)
	if err != nil {
		fmt.Fprintf(w, "Interrupted; continue with: wolfefit resume %s --data-dir %s\n", cp.JobID, r.Store().BaseDir())
	}
	return nil
}

// printParams prints one row per source.
func printParams(w io.Writer, perSource int, params []float64) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprint(tw, "SOURCE")
	for k := 0; k < perSource; k++ {
		fmt.Fprintf(tw, "\tP%d", k)
	}
	fmt.Fprintln(tw)
	for s := 0; s*perSource < len(params); s++ {
		fmt.Fprintf(tw, "%d", s)
		for _, p := range params[s*perSource : (s+1)*perSource] {
			fmt.Fprintf(tw, "\t%.6g", p)
		}
		fmt.Fprintln(tw)
	}
	tw.Flush()
}
