package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/cwbudde/wolfefit/internal/store"
	"github.com/spf13/cobra"
)

var (
	statusDataDir string
	statusTail    int
	serverURL     string
)

var statusCmd = &cobra.Command{
	Use:   "status [job-id]",
	Short: "Show job status",
	Long: `Shows the status of jobs in the data directory, or of the jobs held
by a running server when --server is given.
If no job-id is provided, lists all jobs.
If job-id is provided, shows the checkpoint and the latest trace entries.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusDataDir, "data-dir", "./data", "Base directory for checkpoint storage")
	statusCmd.Flags().IntVar(&statusTail, "tail", 10, "Number of trace entries to show")
	statusCmd.Flags().StringVar(&serverURL, "server", "", "Query a server instead of the data directory (e.g. http://localhost:8080)")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	if serverURL != "" {
		base := strings.TrimRight(serverURL, "/")
		if len(args) == 0 {
			return listJobs(os.Stdout, base+"/api/v1/jobs")
		}
		return getJobStatus(os.Stdout, fmt.Sprintf("%s/api/v1/jobs/%s/status", base, args[0]), args[0])
	}

	st, err := store.NewFSStore(statusDataDir)
	if err != nil {
		return fmt.Errorf("failed to create checkpoint store: %w", err)
	}

	if len(args) == 0 {
		infos, err := st.ListCheckpoints()
		if err != nil {
			return fmt.Errorf("failed to list checkpoints: %w", err)
		}
		if len(infos) == 0 {
			fmt.Println("No jobs found.")
			return nil
		}
		printCheckpointTable(os.Stdout, statusDataDir, infos)
		return nil
	}

	return printJobStatus(os.Stdout, st, args[0], statusTail)
}

func printJobStatus(w io.Writer, st *store.FSStore, jobID string, tail int) error {
	cp, err := st.LoadCheckpoint(jobID)
	if err != nil {
		return fmt.Errorf("failed to load checkpoint: %w", err)
	}

	reason := cp.Reason
	if reason == "" {
		reason = "running"
	}
	fmt.Fprintf(w, "Job:        %s\n", cp.JobID)
	fmt.Fprintf(w, "Problem:    %s (%d sources, seed %d)\n", cp.Config.Problem, cp.Config.Sources, cp.Config.Seed)
	fmt.Fprintf(w, "Mode:       %s, %s ascent\n", cp.Config.Mode, cp.Config.Method)
	fmt.Fprintf(w, "State:      %s\n", reason)
	fmt.Fprintf(w, "Iteration:  %d (%d function, %d gradient evaluations)\n", cp.Iteration, cp.FuncEvals, cp.GradEvals)
	fmt.Fprintf(w, "Value:      %.6g -> %.6g\n", cp.InitialValue, cp.BestValue)
	fmt.Fprintf(w, "Updated:    %s\n", cp.Timestamp.Format("2006-01-02 15:04:05"))

	entries, err := store.ReadTail(st.BaseDir(), jobID, tail)
	if err != nil {
		return fmt.Errorf("failed to read trace: %w", err)
	}
	if len(entries) == 0 {
		return nil
	}

	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ITER\tRESTART\tSOURCE\tVALUE\tSTEP\tGRAD NORM\tSTATUS")
	for _, e := range entries {
		source := "all"
		if e.Source >= 0 {
			source = fmt.Sprintf("%d", e.Source)
		}
		fmt.Fprintf(tw, "%d\t%d\t%s\t%.6g\t%.3g\t%.3g\t%s\n",
			e.Iteration, e.Restart, source, e.Value, e.Step, e.GradNorm, e.Status)
	}
	return tw.Flush()
}

// remoteJob holds the fields of a server job that status prints.
type remoteJob struct {
	ID     string `json:"id"`
	State  string `json:"state"`
	Config struct {
		Problem  string `json:"problem"`
		Sources  int    `json:"sources"`
		Mode     string `json:"mode"`
		Method   string `json:"method"`
		MaxIters int    `json:"maxIters"`
	} `json:"config"`
	BestValue    float64 `json:"bestValue"`
	InitialValue float64 `json:"initialValue"`
	Iterations   int     `json:"iterations"`
	Reason       string  `json:"reason"`
	Elapsed      float64 `json:"elapsed"`
	Error        string  `json:"error"`
}

func getJSON(url string, v any) (int, error) {
	resp, err := http.Get(url)
	if err != nil {
		return 0, fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, fmt.Errorf("server returned error: %s", strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
	}
	return resp.StatusCode, nil
}

func listJobs(w io.Writer, url string) error {
	var jobs []remoteJob
	if _, err := getJSON(url, &jobs); err != nil {
		return err
	}

	if len(jobs) == 0 {
		fmt.Fprintln(w, "No jobs found.")
		return nil
	}

	fmt.Fprintf(w, "Found %d job(s):\n\n", len(jobs))
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "JOB ID\tSTATE\tPROBLEM\tSOURCES\tMODE\tITERATION\tBEST VALUE")
	for _, job := range jobs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%d\t%.6g\n",
			job.ID, job.State, job.Config.Problem, job.Config.Sources, job.Config.Mode, job.Iterations, job.BestValue)
	}
	return tw.Flush()
}

func getJobStatus(w io.Writer, url, jobID string) error {
	var job remoteJob
	code, err := getJSON(url, &job)
	if code == http.StatusNotFound {
		return fmt.Errorf("job not found: %s", jobID)
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "Job:        %s\n", job.ID)
	fmt.Fprintf(w, "State:      %s\n", job.State)
	fmt.Fprintf(w, "Problem:    %s (%d sources)\n", job.Config.Problem, job.Config.Sources)
	fmt.Fprintf(w, "Mode:       %s, %s ascent, max %d iterations\n", job.Config.Mode, job.Config.Method, job.Config.MaxIters)
	fmt.Fprintf(w, "Iteration:  %d\n", job.Iterations)
	fmt.Fprintf(w, "Value:      %.6g -> %.6g\n", job.InitialValue, job.BestValue)
	elapsed := time.Duration(job.Elapsed * float64(time.Second))
	fmt.Fprintf(w, "Elapsed:    %s\n", elapsed.Round(time.Millisecond))
	if job.Reason != "" {
		fmt.Fprintf(w, "Stopped:    %s\n", job.Reason)
	}
	if job.Error != "" {
		fmt.Fprintf(w, "\nError: %s\n", job.Error)
	}
	return nil
}
