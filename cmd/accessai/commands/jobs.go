package commands

import (
	"fmt"
	"strconv"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/robertclapp/accessai-sub004/am"
	"github.com/robertclapp/accessai-sub004/errors"
	"github.com/robertclapp/accessai-sub004/pulse/schedule"
	"github.com/robertclapp/accessai-sub004/sym"
)

// JobsCmd groups the scheduled job admin commands
var JobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: sym.Scheduler + " Inspect, trigger and toggle scheduled jobs",
	Long: sym.Scheduler + ` jobs — scheduled job administration

Jobs are registered by the program itself; they cannot be created or deleted here.

Examples:
  accessai jobs status
  accessai jobs run experiments.autocomplete
  accessai jobs disable ledger.cleanup
  accessai jobs history --job experiments.autocomplete --status failure
  accessai jobs stats --since 24h`,
}

var jobsStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the job registry",
	RunE:  runJobsStatus,
}

var jobsRunCmd = &cobra.Command{
	Use:   "run <job-id>",
	Short: "Run a job now and wait for it",
	Long: `Run a job now and wait for it to finish.

Disabled jobs can be run manually. A job that is already running is not
started twice: the trigger is recorded as skipped.`,
	Args: cobra.ExactArgs(1),
	RunE: runJobsRun,
}

var jobsEnableCmd = &cobra.Command{
	Use:   "enable <job-id>",
	Short: "Enable scheduling for a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setJobEnabled(cmd, args[0], true)
	},
}

var jobsDisableCmd = &cobra.Command{
	Use:   "disable <job-id>",
	Short: "Disable scheduling for a job (a run in flight is not interrupted)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setJobEnabled(cmd, args[0], false)
	},
}

var jobsHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "Show execution records, newest first",
	RunE:  runJobsHistory,
}

var jobsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show run statistics",
	RunE:  runJobsStats,
}

func init() {
	jobsStatusCmd.Flags().Bool("json", false, "Output as JSON")

	jobsEnableCmd.Flags().Bool("no-config", false, "Only update the database, not the config override")
	jobsDisableCmd.Flags().Bool("no-config", false, "Only update the database, not the config override")

	jobsHistoryCmd.Flags().String("job", "", "Filter by job id")
	jobsHistoryCmd.Flags().String("status", "", "Filter by status: running, success, failure, skipped")
	jobsHistoryCmd.Flags().Int("limit", schedule.DefaultHistoryLimit, "Maximum records to show")
	jobsHistoryCmd.Flags().Int("offset", 0, "Records to skip")
	jobsHistoryCmd.Flags().Bool("json", false, "Output as JSON")

	jobsStatsCmd.Flags().String("job", "", "Limit to one job id")
	jobsStatsCmd.Flags().Duration("since", 0, "Only count runs started within this window, e.g. 24h")
	jobsStatsCmd.Flags().Bool("json", false, "Output as JSON")

	JobsCmd.AddCommand(jobsStatusCmd, jobsRunCmd, jobsEnableCmd, jobsDisableCmd, jobsHistoryCmd, jobsStatsCmd)
}

func runJobsStatus(cmd *cobra.Command, args []string) error {
	return withApp(cmd.Context(), func(a *app) error {
		status := a.scheduler.Status()
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return printJSON(status)
		}

		rows := make([][]string, 0, len(status))
		for _, st := range status {
			enabled := pterm.Green("yes")
			if !st.Enabled {
				enabled = pterm.Yellow("no")
			}
			rows = append(rows, []string{
				st.ID, st.Name, st.Schedule, enabled,
				formatTime(st.LastRunAt), formatTime(st.NextRunAt),
			})
		}
		return renderTable([]string{"ID", "Name", "Schedule", "Enabled", "Last run", "Next run"}, rows)
	})
}

func runJobsRun(cmd *cobra.Command, args []string) error {
	return withApp(cmd.Context(), func(a *app) error {
		spinner, _ := pterm.DefaultSpinner.Start(fmt.Sprintf("Running %s", args[0]))

		out, err := a.scheduler.RunManually(cmd.Context(), args[0])
		if err != nil {
			spinner.Fail(err.Error())
			return err
		}

		exec := out.Execution
		switch {
		case out.Skipped:
			spinner.Warning(fmt.Sprintf("%s skipped: already running", args[0]))
			return nil
		case out.Err != nil:
			spinner.Fail(fmt.Sprintf("%s failed after %s: %s", args[0], formatDurationMs(exec.DurationMs), formatOptional(exec.ErrorMessage)))
			return errors.Wrapf(out.Err, "job %s failed", args[0])
		default:
			spinner.Success(fmt.Sprintf("%s finished in %s: %s", args[0], formatDurationMs(exec.DurationMs), formatOptional(exec.ResultSummary)))
			return nil
		}
	})
}

func setJobEnabled(cmd *cobra.Command, jobID string, enabled bool) error {
	return withApp(cmd.Context(), func(a *app) error {
		if err := a.scheduler.SetEnabled(cmd.Context(), jobID, enabled); err != nil {
			return err
		}

		// A config override would win over the database flag at the next start,
		// and a running serve picks the change up through its config watcher.
		if noConfig, _ := cmd.Flags().GetBool("no-config"); !noConfig {
			path := am.FindConfigFile()
			if path == "" {
				path = am.UserConfigPath()
			}
			if err := am.SetJobOverride(path, jobID, &enabled, ""); err != nil {
				return errors.Wrap(err, "job toggled in the database but the config override was not written")
			}
			pterm.Info.Printfln("Override written to %s", path)
		}

		state := "disabled"
		if enabled {
			state = "enabled"
		}
		pterm.Success.Printfln("%s %s", jobID, state)
		return nil
	})
}

func runJobsHistory(cmd *cobra.Command, args []string) error {
	filter := schedule.HistoryFilter{}
	filter.JobID, _ = cmd.Flags().GetString("job")
	filter.Limit, _ = cmd.Flags().GetInt("limit")
	filter.Offset, _ = cmd.Flags().GetInt("offset")
	if s, _ := cmd.Flags().GetString("status"); s != "" {
		filter.Status = schedule.ExecutionStatus(s)
		if !filter.Status.IsValid() {
			return errors.NewInvalidRequestError("unknown execution status %q", s)
		}
	}

	return withApp(cmd.Context(), func(a *app) error {
		records, total, err := a.scheduler.History(cmd.Context(), filter)
		if err != nil {
			return err
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return printJSON(map[string]interface{}{"total": total, "executions": records})
		}

		rows := make([][]string, 0, len(records))
		for _, r := range records {
			detail := formatOptional(r.ResultSummary)
			if r.ErrorMessage != nil {
				detail = pterm.Red(*r.ErrorMessage)
			}
			rows = append(rows, []string{
				r.StartedAt.Local().Format("2006-01-02 15:04:05"),
				r.JobID,
				statusCell(string(r.Status)),
				formatDurationMs(r.DurationMs),
				fmt.Sprintf("%d/%d/%d", r.ItemsProcessed, r.ItemsSuccessful, r.ItemsFailed),
				detail,
			})
		}
		if err := renderTable([]string{"Started", "Job", "Status", "Duration", "Items p/s/f", "Result"}, rows); err != nil {
			return err
		}
		fmt.Printf("%d of %d records\n", len(records), total)
		return nil
	})
}

func runJobsStats(cmd *cobra.Command, args []string) error {
	filter := schedule.StatsFilter{}
	filter.JobID, _ = cmd.Flags().GetString("job")
	if since, _ := cmd.Flags().GetDuration("since"); since > 0 {
		from := time.Now().Add(-since)
		filter.Since = &from
	}

	return withApp(cmd.Context(), func(a *app) error {
		stats, err := a.scheduler.Stats(cmd.Context(), filter)
		if err != nil {
			return err
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return printJSON(stats)
		}

		scope := "all jobs"
		if filter.JobID != "" {
			scope = filter.JobID
		}
		fmt.Printf("%s Run statistics for %s\n", sym.Scheduler, scope)
		return renderTable([]string{"Metric", "Value"}, [][]string{
			{"Total runs", strconv.Itoa(stats.TotalRuns)},
			{"Succeeded", strconv.Itoa(stats.SuccessCount)},
			{"Failed", strconv.Itoa(stats.FailureCount)},
			{"Skipped triggers", strconv.Itoa(stats.SkippedCount)},
			{"Success rate", fmt.Sprintf("%.1f%%", stats.SuccessRate)},
			{"Average duration", (time.Duration(stats.AvgDurationMs) * time.Millisecond).String()},
			{"Last run", formatTime(stats.LastRunAt)},
		})
	})
}
