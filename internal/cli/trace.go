package cli

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/labsai/EDDI-integration-tests/internal/config"
	"github.com/labsai/EDDI-integration-tests/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	RunID    string
	Limit    int
}

// RunSummary is one run in the run list.
type RunSummary struct {
	ID         string     `json:"id"`
	Scenario   string     `json:"scenario"`
	BaseURL    string     `json:"base_url"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Verdict    string     `json:"verdict"`
	Errors     []string   `json:"errors,omitempty"`
}

// ExchangeRecord is one exchange of a run.
type ExchangeRecord struct {
	Seq        int64  `json:"seq"`
	Step       string `json:"step"`
	Method     string `json:"method"`
	Path       string `json:"path"`
	Status     int    `json:"status"`
	Location   string `json:"location,omitempty"`
	DurationMS int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// TraceResult holds one run and its exchanges.
type TraceResult struct {
	Run       RunSummary       `json:"run"`
	Exchanges []ExchangeRecord `json:"exchanges"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Inspect the run log",
		Long: `List the runs recorded in a run log, or show every HTTP exchange of
one run in the order it was sent.

Examples:
  eddi-conform trace --db runs.db
  eddi-conform trace --db runs.db --run 01926f3c-7b1e-7c3a-9d4e-2f1a0b3c4d5e
  eddi-conform trace --db runs.db --run 01926f3c-7b1e-7c3a-9d4e-2f1a0b3c4d5e --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.bind(config.KeyDatabase, cmd.Flags().Lookup("db")); err != nil {
				return WrapExitError(ExitCommandError, "invalid flags", err)
			}
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to the SQLite run log")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "run id to show (default: list runs)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "maximum number of runs to list (0 lists all)")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	formatter := opts.formatter(cmd)

	cfg, err := opts.LoadConfig()
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeConfig, "cannot load config", err)
	}
	path := cfg.EDDI.Database
	if path == "" {
		return formatter.Fail(ExitCommandError, ErrCodeRunLog, "no run log given (use --db or eddi.database)", nil)
	}
	if _, err := os.Stat(path); err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeRunLog, fmt.Sprintf("run log not found: %s", path), err)
	}

	st, err := store.Open(path)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeRunLog, "failed to open run log", err)
	}
	defer st.Close()

	if opts.RunID == "" {
		runs, err := st.ListRuns(ctx, opts.Limit)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeRunLog, "failed to list runs", err)
		}
		summaries := make([]RunSummary, len(runs))
		for i, run := range runs {
			summaries[i] = summarize(run)
		}
		if formatter.JSON() {
			return formatter.Success(summaries)
		}
		outputRunsText(formatter, summaries)
		return nil
	}

	run, err := st.ReadRun(ctx, opts.RunID)
	if errors.Is(err, store.ErrRunNotFound) {
		return formatter.Fail(ExitCommandError, ErrCodeRunLog, fmt.Sprintf("run not found: %s", opts.RunID), err)
	}
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeRunLog, "failed to read run", err)
	}
	exchanges, err := st.ReadExchanges(ctx, opts.RunID)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeRunLog, "failed to read exchanges", err)
	}

	result := TraceResult{Run: summarize(run), Exchanges: make([]ExchangeRecord, len(exchanges))}
	for i, ex := range exchanges {
		result.Exchanges[i] = ExchangeRecord{
			Seq:        ex.Seq,
			Step:       ex.Step,
			Method:     ex.Method,
			Path:       ex.Path,
			Status:     ex.Status,
			Location:   ex.Location,
			DurationMS: ex.Duration.Milliseconds(),
			Error:      ex.Error,
		}
	}

	if formatter.JSON() {
		return formatter.Encode(CLIResponse{Status: "ok", Data: result, TraceID: run.ID})
	}
	outputTraceText(formatter, result)
	return nil
}

func summarize(run store.Run) RunSummary {
	return RunSummary{
		ID:         run.ID,
		Scenario:   run.Scenario,
		BaseURL:    run.BaseURL,
		StartedAt:  run.StartedAt.UTC(),
		FinishedAt: run.FinishedAt,
		Verdict:    verdict(run.Pass),
		Errors:     run.Errors,
	}
}

// verdict renders the tri-state pass column of a run.
func verdict(pass *bool) string {
	switch {
	case pass == nil:
		return "running"
	case *pass:
		return "pass"
	default:
		return "fail"
	}
}

func outputRunsText(f *OutputFormatter, runs []RunSummary) {
	if len(runs) == 0 {
		fmt.Fprintln(f.Writer, "No runs recorded.")
		return
	}
	rows := make([]table.Row, len(runs))
	for i, r := range runs {
		rows[i] = table.Row{r.ID, r.Scenario, r.StartedAt.Format(time.RFC3339), r.Verdict, len(r.Errors)}
	}
	f.Table(table.Row{"Run", "Scenario", "Started", "Verdict", "Errors"}, rows)
}

func outputTraceText(f *OutputFormatter, result TraceResult) {
	w := f.Writer
	fmt.Fprintf(w, "Run %s: %s against %s\n", result.Run.ID, result.Run.Scenario, result.Run.BaseURL)
	fmt.Fprintf(w, "Verdict: %s\n", result.Run.Verdict)
	for _, e := range result.Run.Errors {
		fmt.Fprintf(w, "  %s\n", e)
	}
	fmt.Fprintln(w)

	if len(result.Exchanges) == 0 {
		fmt.Fprintln(w, "(no exchanges)")
		return
	}
	rows := make([]table.Row, len(result.Exchanges))
	for i, ex := range result.Exchanges {
		status := fmt.Sprint(ex.Status)
		if ex.Error != "" {
			status = ex.Error
		}
		rows[i] = table.Row{ex.Seq, ex.Step, ex.Method, ex.Path, status, fmt.Sprintf("%dms", ex.DurationMS)}
	}
	f.Table(table.Row{"Seq", "Step", "Method", "Path", "Status", "Duration"}, rows)
}
