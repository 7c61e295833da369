package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"devtoolkit/internal/page"
)

var exportOut string

var learnCmd = &cobra.Command{
	Use:   "learn",
	Short: "Follow a learning roadmap",
}

// withLearn opens the roadmap after any sign-in reconciliation so edits
// apply on top of the account's plan.
func withLearn(run func(ctx context.Context, cmd *cobra.Command, l *page.Learn, args []string) error) func(*cobra.Command, []string) error {
	return withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
		a.loadCatalog(ctx)
		l := page.NewLearn(a.env())
		defer l.Close()
		l.Settle()
		return run(ctx, cmd, l, args)
	})
}

var learnShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the current roadmap",
	Args:  cobra.NoArgs,
	RunE: withLearn(func(ctx context.Context, cmd *cobra.Command, l *page.Learn, args []string) error {
		printPlan(cmd.OutOrStdout(), l)
		return nil
	}),
}

var learnLevelCmd = &cobra.Command{
	Use:   "level <Beginner|Intermediate|Advanced>",
	Short: "Switch roadmap level; progress starts over",
	Args:  cobra.ExactArgs(1),
	RunE: withLearn(func(ctx context.Context, cmd *cobra.Command, l *page.Learn, args []string) error {
		level, err := page.ParseLevel(args[0])
		if err != nil {
			return err
		}
		if _, err := l.SetLevel(ctx, level); err != nil {
			return err
		}
		printPlan(cmd.OutOrStdout(), l)
		return nil
	}),
}

var learnToggleCmd = &cobra.Command{
	Use:   "toggle <module-id>",
	Short: "Mark a module done or not done",
	Args:  cobra.ExactArgs(1),
	RunE: withLearn(func(ctx context.Context, cmd *cobra.Command, l *page.Learn, args []string) error {
		if _, err := l.Toggle(ctx, args[0]); err != nil {
			return err
		}
		printPlan(cmd.OutOrStdout(), l)
		return nil
	}),
}

var learnResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear progress for the current level",
	Args:  cobra.NoArgs,
	RunE: withLearn(func(ctx context.Context, cmd *cobra.Command, l *page.Learn, args []string) error {
		l.Reset(ctx)
		printPlan(cmd.OutOrStdout(), l)
		return nil
	}),
}

var learnExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the roadmap as text",
	Args:  cobra.NoArgs,
	RunE: withLearn(func(ctx context.Context, cmd *cobra.Command, l *page.Learn, args []string) error {
		return writeDownload(cmd, l.Export(), exportOut)
	}),
}

var learnSaveCmd = &cobra.Command{
	Use:   "save",
	Short: "Save the roadmap to your account",
	Args:  cobra.NoArgs,
	RunE: withLearn(func(ctx context.Context, cmd *cobra.Command, l *page.Learn, args []string) error {
		if err := l.SaveToAccount(ctx); err != nil {
			return fmt.Errorf("save roadmap: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Roadmap saved to your account")
		return nil
	}),
}

func init() {
	learnExportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "Write to this file instead of stdout")
	learnCmd.AddCommand(learnShowCmd, learnLevelCmd, learnToggleCmd, learnResetCmd, learnExportCmd, learnSaveCmd)
}

func printPlan(w io.Writer, l *page.Learn) {
	plan, progress := l.Plan(), l.Progress()
	fmt.Fprintf(w, "%s roadmap: %d/%d done (%d%%)\n\n", plan.Level, progress.Done, progress.Total, progress.Percent)
	for _, m := range l.Modules() {
		fmt.Fprintf(w, "%s %-12s %s\n", checkbox(m.Done), m.ID, m.Title)
		if m.Blurb != "" {
			fmt.Fprintf(w, "    %s\n", m.Blurb)
		}
		if len(m.Resources) > 0 {
			titles := make([]string, 0, len(m.Resources))
			for _, t := range m.Resources {
				titles = append(titles, t.Title)
			}
			fmt.Fprintf(w, "    Resources: %s\n", strings.Join(titles, ", "))
		}
	}
}

func checkbox(done bool) string {
	if done {
		return "[x]"
	}
	return "[ ]"
}
