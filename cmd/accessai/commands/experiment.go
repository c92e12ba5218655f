package commands

import (
	"fmt"
	"strconv"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/robertclapp/accessai-sub004/errors"
	"github.com/robertclapp/accessai-sub004/experiment"
	"github.com/robertclapp/accessai-sub004/sym"
)

// ExperimentCmd groups experiment administration
var ExperimentCmd = &cobra.Command{
	Use:     "experiment",
	Aliases: []string{"exp"},
	Short:   sym.Experiment + " Manage subject-line experiments",
	Long: sym.Experiment + ` experiment — A/B test administration

An experiment starts as a draft, gets two or more variants, and is started.
While running only variant counters change. The experiments.autocomplete job
completes it once a variant wins at the experiment's confidence level.

Examples:
  accessai experiment create --name "March newsletter" --confidence 95 --min-sample 200
  accessai experiment add-variant <id> --label A --subject "Spring is here"
  accessai experiment add-variant <id> --label B --subject "Your spring picks" --weight 2
  accessai experiment start <id>
  accessai experiment record <variant-id> --sent 100 --opened 23
  accessai experiment evaluate <id>`,
}

var expCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a draft experiment",
	RunE:  runExpCreate,
}

var expAddVariantCmd = &cobra.Command{
	Use:   "add-variant <experiment-id>",
	Short: "Add a variant to a draft experiment",
	Args:  cobra.ExactArgs(1),
	RunE:  runExpAddVariant,
}

var expStartCmd = &cobra.Command{
	Use:   "start <experiment-id>",
	Short: "Start a draft experiment with at least two variants",
	Args:  cobra.ExactArgs(1),
	RunE:  runExpStart,
}

var expCancelCmd = &cobra.Command{
	Use:   "cancel <experiment-id>",
	Short: "Cancel a running experiment",
	Args:  cobra.ExactArgs(1),
	RunE:  runExpCancel,
}

var expShowCmd = &cobra.Command{
	Use:   "show <experiment-id>",
	Short: "Show an experiment and its variants",
	Args:  cobra.ExactArgs(1),
	RunE:  runExpShow,
}

var expListCmd = &cobra.Command{
	Use:   "list",
	Short: "List experiments",
	RunE:  runExpList,
}

var expRecordCmd = &cobra.Command{
	Use:   "record <variant-id>",
	Short: "Record sends, opens and clicks for a variant of a running experiment",
	Args:  cobra.ExactArgs(1),
	RunE:  runExpRecord,
}

var expAssignCmd = &cobra.Command{
	Use:   "assign <experiment-id>",
	Short: "Pick a variant for one recipient, weighted by variant weight",
	Args:  cobra.ExactArgs(1),
	RunE:  runExpAssign,
}

var expEvaluateCmd = &cobra.Command{
	Use:   "evaluate <experiment-id>",
	Short: "Run the decision engine without changing the experiment",
	Args:  cobra.ExactArgs(1),
	RunE:  runExpEvaluate,
}

func init() {
	expCreateCmd.Flags().String("name", "", "Experiment name (required)")
	expCreateCmd.Flags().Int("confidence", 0, "Confidence level in percent, 80-99 (default from config)")
	expCreateCmd.Flags().Int("min-sample", 0, "Minimum sends per variant before deciding (default from config)")
	expCreateCmd.Flags().String("template", "email", "Template type")
	expCreateCmd.MarkFlagRequired("name")

	expAddVariantCmd.Flags().String("label", "", "Variant label (required)")
	expAddVariantCmd.Flags().String("subject", "", "Subject line")
	expAddVariantCmd.Flags().Float64("weight", 1, "Relative send weight")
	expAddVariantCmd.MarkFlagRequired("label")

	expListCmd.Flags().String("status", "", "Filter by status: draft, running, completed, cancelled")
	expListCmd.Flags().Bool("json", false, "Output as JSON")
	expShowCmd.Flags().Bool("json", false, "Output as JSON")

	expRecordCmd.Flags().Int("sent", 0, "Sends to add")
	expRecordCmd.Flags().Int("opened", 0, "Opens to add")
	expRecordCmd.Flags().Int("clicked", 0, "Clicks to add")

	ExperimentCmd.AddCommand(expCreateCmd, expAddVariantCmd, expStartCmd, expCancelCmd,
		expShowCmd, expListCmd, expRecordCmd, expAssignCmd, expEvaluateCmd)
}

func runExpCreate(cmd *cobra.Command, args []string) error {
	var p experiment.CreateParams
	p.Name, _ = cmd.Flags().GetString("name")
	p.ConfidenceLevel, _ = cmd.Flags().GetInt("confidence")
	p.MinSampleSize, _ = cmd.Flags().GetInt("min-sample")
	p.TemplateType, _ = cmd.Flags().GetString("template")

	return withApp(cmd.Context(), func(a *app) error {
		exp, err := a.service.CreateExperiment(cmd.Context(), p)
		if err != nil {
			return withHints(err)
		}
		pterm.Success.Printfln("Created experiment %s (%d%% confidence, %d sends per variant)",
			exp.ID, exp.ConfidenceLevel, exp.MinSampleSize)
		return nil
	})
}

func runExpAddVariant(cmd *cobra.Command, args []string) error {
	var p experiment.VariantParams
	p.Label, _ = cmd.Flags().GetString("label")
	p.Subject, _ = cmd.Flags().GetString("subject")
	p.Weight, _ = cmd.Flags().GetFloat64("weight")

	return withApp(cmd.Context(), func(a *app) error {
		v, err := a.service.AddVariant(cmd.Context(), args[0], p)
		if err != nil {
			return withHints(err)
		}
		pterm.Success.Printfln("Added variant %s (%s) at position %d", v.ID, v.Label, v.Position)
		return nil
	})
}

func runExpStart(cmd *cobra.Command, args []string) error {
	return withApp(cmd.Context(), func(a *app) error {
		exp, err := a.service.StartExperiment(cmd.Context(), args[0])
		if err != nil {
			return withHints(err)
		}
		pterm.Success.Printfln("Started %q with %d variants", exp.Name, len(exp.Variants))
		return nil
	})
}

func runExpCancel(cmd *cobra.Command, args []string) error {
	return withApp(cmd.Context(), func(a *app) error {
		res, err := a.service.CancelExperiment(cmd.Context(), args[0])
		if err != nil {
			return withHints(err)
		}
		if !res.Applied {
			pterm.Warning.Printfln("Experiment already %s, nothing cancelled", res.Status)
			return nil
		}
		pterm.Success.Printfln("Experiment %s cancelled", args[0])
		return nil
	})
}

func runExpShow(cmd *cobra.Command, args []string) error {
	return withApp(cmd.Context(), func(a *app) error {
		exp, err := a.service.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return printJSON(exp)
		}

		fmt.Printf("%s %s  %s\n", sym.Experiment, pterm.Bold.Sprint(exp.Name), statusCell(string(exp.Status)))
		fmt.Printf("  ID:          %s\n", exp.ID)
		fmt.Printf("  Template:    %s\n", exp.TemplateType)
		fmt.Printf("  Confidence:  %d%%\n", exp.ConfidenceLevel)
		fmt.Printf("  Min sample:  %d per variant\n", exp.MinSampleSize)
		fmt.Printf("  Total sent:  %d\n", exp.TotalSent())
		fmt.Printf("  Created:     %s\n", formatTime(&exp.CreatedAt))
		fmt.Printf("  Started:     %s\n", formatTime(exp.StartedAt))
		fmt.Printf("  Completed:   %s\n\n", formatTime(exp.CompletedAt))

		rows := make([][]string, 0, len(exp.Variants))
		for _, v := range exp.Variants {
			label := v.Label
			if exp.WinningVariantID != nil && *exp.WinningVariantID == v.ID {
				label = pterm.Green(sym.Completed + " " + v.Label)
			}
			rows = append(rows, []string{
				v.ID, label, v.Subject,
				strconv.FormatFloat(v.Weight, 'g', -1, 64),
				strconv.Itoa(v.SentCount), strconv.Itoa(v.OpenedCount), strconv.Itoa(v.ClickedCount),
				fmt.Sprintf("%.2f%%", v.OpenRate()*100),
				fmt.Sprintf("%.2f%%", v.ClickRate()*100),
			})
		}
		return renderTable([]string{"Variant", "Label", "Subject", "Weight", "Sent", "Opened", "Clicked", "Open rate", "Click rate"}, rows)
	})
}

func runExpList(cmd *cobra.Command, args []string) error {
	var status experiment.Status
	if s, _ := cmd.Flags().GetString("status"); s != "" {
		st, err := experiment.ParseStatus(s)
		if err != nil {
			return err
		}
		status = st
	}

	return withApp(cmd.Context(), func(a *app) error {
		exps, err := a.service.List(cmd.Context(), status)
		if err != nil {
			return err
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return printJSON(exps)
		}

		rows := make([][]string, 0, len(exps))
		for _, e := range exps {
			rows = append(rows, []string{
				e.ID, e.Name, statusCell(string(e.Status)),
				strconv.Itoa(len(e.Variants)), strconv.Itoa(e.TotalSent()),
				fmt.Sprintf("%d%%", e.ConfidenceLevel),
				formatTime(&e.CreatedAt),
			})
		}
		return renderTable([]string{"ID", "Name", "Status", "Variants", "Sent", "Confidence", "Created"}, rows)
	})
}

func runExpRecord(cmd *cobra.Command, args []string) error {
	sent, _ := cmd.Flags().GetInt("sent")
	opened, _ := cmd.Flags().GetInt("opened")
	clicked, _ := cmd.Flags().GetInt("clicked")
	if sent == 0 && opened == 0 && clicked == 0 {
		return errors.NewInvalidRequestError("nothing to record, pass --sent, --opened or --clicked")
	}

	return withApp(cmd.Context(), func(a *app) error {
		// One update keeps opened <= sent checks on the combined totals
		if err := a.experiments.IncrementVariantCounters(cmd.Context(), args[0], sent, opened, clicked); err != nil {
			return withHints(err)
		}
		pterm.Success.Printfln("Recorded +%d sent, +%d opened, +%d clicked", sent, opened, clicked)
		return nil
	})
}

func runExpAssign(cmd *cobra.Command, args []string) error {
	return withApp(cmd.Context(), func(a *app) error {
		v, err := a.service.AssignVariant(cmd.Context(), args[0])
		if err != nil {
			return withHints(err)
		}
		fmt.Printf("%s\t%s\t%s\n", v.ID, v.Label, v.Subject)
		return nil
	})
}

func runExpEvaluate(cmd *cobra.Command, args []string) error {
	return withApp(cmd.Context(), func(a *app) error {
		exp, verdict, err := a.service.Evaluate(cmd.Context(), args[0])
		if err != nil {
			return withHints(err)
		}

		fmt.Printf("%s %s (%s, %d%% confidence, critical z %.3f)\n",
			sym.Experiment, exp.Name, exp.Status, exp.ConfidenceLevel, verdict.CriticalZ)
		if verdict.Kind == experiment.VerdictWinner {
			pterm.Success.Printfln("Winner: %s, z = %.3f, +%.2f pp open rate", verdict.WinnerLabel, verdict.Z, verdict.RateDifference)
			if exp.Status == experiment.StatusRunning {
				pterm.Info.Println("The experiments.autocomplete job will complete it on its next run")
			}
			return nil
		}
		pterm.Info.Printfln("Continue: %s", verdict.Reason)
		return nil
	})
}

// withHints appends cockroachdb error hints so the CLI user sees them
func withHints(err error) error {
	hints := errors.GetAllHints(err)
	if len(hints) == 0 {
		return err
	}
	for _, h := range hints {
		pterm.Info.Println(h)
	}
	return err
}
