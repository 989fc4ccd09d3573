package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cwbudde/wolfefit/internal/config"
	"github.com/cwbudde/wolfefit/internal/opt"
	"github.com/cwbudde/wolfefit/internal/runner"
	"github.com/cwbudde/wolfefit/internal/store"
	"github.com/spf13/cobra"
)

var (
	resumeDataDir    string
	resumeConfigPath string
	resumeIters      int
	resumeMethod     string
)

var resumeCmd = &cobra.Command{
	Use:   "resume [job-id]",
	Short: "Resume a job from its checkpoint",
	Long: `Continues a job from the best point of its last checkpoint. The trace is
appended to and iteration numbers keep counting. Ascent settings may be
changed with --config, --iters or --method; the problem, its size and seed,
and the mode must match the checkpoint.`,
	Args: cobra.ExactArgs(1),
	RunE: runResume,
}

func init() {
	resumeCmd.Flags().StringVar(&resumeDataDir, "data-dir", "./data", "Base directory for checkpoint storage")
	resumeCmd.Flags().StringVar(&resumeConfigPath, "config", "", "YAML config file replacing the saved configuration")
	resumeCmd.Flags().IntVar(&resumeIters, "iters", 0, "Max iterations per ascent (0 = keep saved value)")
	resumeCmd.Flags().StringVar(&resumeMethod, "method", "", "Ascent direction: newton, gradient (empty = keep saved value)")
	rootCmd.AddCommand(resumeCmd)
}

func runResume(cmd *cobra.Command, args []string) error {
	st, err := store.NewFSStore(resumeDataDir)
	if err != nil {
		return fmt.Errorf("failed to create checkpoint store: %w", err)
	}
	r, err := prepareResume(st, args[0], resumeConfigPath, resumeIters, resumeMethod)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cp, err := r.Run(ctx)
	return report(os.Stdout, r, cp, err)
}

// prepareResume applies the resume flags to the saved configuration.
func prepareResume(st *store.FSStore, jobID, configPath string, iters int, method string) (*runner.Runner, error) {
	return runner.Resume(st, jobID, func(cfg *config.RunConfig) error {
		if configPath != "" {
			loaded, err := config.Load(configPath)
			if err != nil {
				return err
			}
			*cfg = *loaded
		}
		if iters > 0 {
			cfg.MaxIters = iters
		}
		if method != "" {
			cfg.Method = opt.Method(method)
		}
		return nil
	})
}
