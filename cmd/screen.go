package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/screener/internal/screening"
	"github.com/spigell/screener/internal/storage/postgres"
)

const (
	PromptYes  = "Yes"
	PromptNo   = "No"
	PromptBack = "back"

	jobPickerLimit = 50
)

var errAborted = errors.New("aborted")

var screenCmd = &cobra.Command{
	Use:   "screen [job-id]",
	Short: "Screen the applications of a job now, regardless of its deadline",
	Long: `Screen scores every pending application of a job, stores the breakdown and
the rationale and moves each application to shortlisted or reviewed.
Without a job id an interactive picker lists the latest jobs.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		screen(cmd, args)
	},
}

func init() {
	rootCmd.AddCommand(screenCmd)

	screenCmd.Flags().BoolP("yes", "y", false, "do not ask for confirmation")
	screenCmd.Flags().Bool("rescreen", false, "also re-score reviewed and shortlisted applications")
	screenCmd.Flags().Bool("async", false, "hand the job to the worker queue instead of screening here")
	screenCmd.Flags().StringP("output", "o", outputText, "result format: text, json or yaml")
}

func screen(cmd *cobra.Command, args []string) {
	logger, config := setup()
	ctx := context.Background()

	yes, _ := cmd.Flags().GetBool("yes")
	rescreen, _ := cmd.Flags().GetBool("rescreen")
	async, _ := cmd.Flags().GetBool("async")
	output, _ := cmd.Flags().GetString("output")
	if err := validOutput(output); err != nil {
		logger.Fatal("invalid flags", zap.Error(err))
	}

	comps, err := buildComponents(ctx, config, logger, buildOptions{queue: async})
	if err != nil {
		logger.Fatal("building components", zap.Error(err))
	}
	defer comps.Close()

	var jobID int64
	if len(args) == 1 {
		if jobID, err = parseID(args[0], "job"); err != nil {
			logger.Fatal("parsing arguments", zap.Error(err))
		}
	} else {
		jobID, err = pickJob(ctx, comps.store)
		if errors.Is(err, errAborted) {
			logger.Info("exiting", zap.String("reason", "no job selected"))
			return
		}
		if err != nil {
			logger.Fatal("selecting a job", zap.Error(err))
		}
	}

	if !yes {
		if err := confirm(fmt.Sprintf("Screen job %d now?", jobID)); err != nil {
			logger.Info("exiting", zap.String("reason", "got no from prompt"))
			return
		}
	}

	summary, err := comps.orchestrator.ScreenJob(ctx, jobID, screening.ScreenOptions{
		Rescreen: rescreen,
		Async:    async,
	})
	if err != nil {
		logger.Fatal("screening failed", zap.Int64("job_id", jobID), zap.Error(err))
	}

	if output != outputText {
		if err := printResult(os.Stdout, output, summary); err != nil {
			logger.Fatal("printing the result", zap.Error(err))
		}
		return
	}
	reportSummary(logger, summary, async)
}

func reportSummary(logger *zap.Logger, summary *screening.RunSummary, async bool) {
	if summary.Skipped != "" {
		logger.Info("job skipped", zap.Int64("job_id", summary.JobID), zap.String("reason", summary.Skipped))
		return
	}
	if async {
		logger.Info("job handed to the workers", zap.Int64("job_id", summary.JobID), zap.String("run_id", summary.RunID))
		return
	}

	for _, o := range summary.Outcomes {
		if o.Skipped != "" {
			logger.Info("application skipped", zap.Int64("application_id", o.ApplicationID), zap.String("reason", o.Skipped))
			continue
		}
		fields := []zap.Field{
			zap.Int64("application_id", o.ApplicationID),
			zap.String("status", string(o.Status)),
			zap.String("rationale", string(o.RationaleKind)),
		}
		if o.Breakdown != nil {
			fields = append(fields, zap.String("scores", o.Breakdown.String()))
		}
		logger.Info("application screened", fields...)
	}
	for _, f := range summary.Failures {
		logger.Warn("application failed", zap.Int64("application_id", f.ApplicationID), zap.String("error", f.Error))
	}

	logger.Info("screening finished",
		zap.Int64("job_id", summary.JobID),
		zap.String("run_id", summary.RunID),
		zap.Int("applications", summary.Applications),
		zap.Int("screened", len(summary.Outcomes)),
		zap.Int("failed", len(summary.Failures)),
	)
}

// pickJob lets the user choose one of the latest jobs.
func pickJob(ctx context.Context, store *postgres.Store) (int64, error) {
	jobs, err := store.ListJobs(ctx, jobPickerLimit)
	if err != nil {
		return 0, err
	}
	if len(jobs) == 0 {
		return 0, errors.New("there are no jobs to screen")
	}

	items := make([]string, 0, len(jobs)+1)
	for _, j := range jobs {
		items = append(items, jobLabel(j))
	}

	jobPrompt := promptui.Select{
		Label: "Choose a job and press ENTER",
		Items: append(items, PromptBack),
		Size:  10,
	}
	idx, selected, err := jobPrompt.Run()
	if err != nil {
		return 0, err
	}
	if selected == PromptBack {
		return 0, errAborted
	}
	return jobs[idx].ID, nil
}

func jobLabel(j postgres.JobOverview) string {
	deadline := "no deadline"
	if j.Deadline != nil {
		deadline = "deadline " + j.Deadline.Format("2006-01-02 15:04")
	}
	return fmt.Sprintf("%d %s / %d of %d pending / %s",
		j.ID, strings.TrimSpace(j.Title), j.Pending, j.Applications, deadline)
}

func confirm(label string) error {
	prompt := promptui.Select{
		Label: label,
		Items: []string{PromptYes, PromptNo},
	}
	_, answer, err := prompt.Run()
	if err != nil {
		return err
	}
	if answer != PromptYes {
		return errAborted
	}
	return nil
}
