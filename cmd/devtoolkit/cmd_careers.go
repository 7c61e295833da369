package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"devtoolkit/internal/page"
	"devtoolkit/internal/syncstore"
)

var (
	appInput       page.ApplicationInput
	searchLocation string
	exportAppsOut  string
)

var careersCmd = &cobra.Command{
	Use:   "careers",
	Short: "Track job readiness and applications",
}

func withCareers(run func(ctx context.Context, cmd *cobra.Command, c *page.Careers, args []string) error) func(*cobra.Command, []string) error {
	return withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
		c := page.NewCareers(a.env())
		defer c.Close()
		c.Settle()
		return run(ctx, cmd, c, args)
	})
}

var skillsCmd = &cobra.Command{
	Use:   "skills",
	Short: "Show the readiness checklist",
	Args:  cobra.NoArgs,
	RunE: withCareers(func(ctx context.Context, cmd *cobra.Command, c *page.Careers, args []string) error {
		printSkills(cmd.OutOrStdout(), c)
		return nil
	}),
}

var checkCmd = &cobra.Command{
	Use:   "check <number>",
	Short: "Tick or untick a checklist item",
	Args:  cobra.ExactArgs(1),
	RunE: withCareers(func(ctx context.Context, cmd *cobra.Command, c *page.Careers, args []string) error {
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid item number %q", args[0])
		}
		// Items are numbered from 1 on screen.
		if err := c.ToggleSkill(ctx, n-1); err != nil {
			return err
		}
		printSkills(cmd.OutOrStdout(), c)
		return nil
	}),
}

var resetSkillsCmd = &cobra.Command{
	Use:   "reset-skills",
	Short: "Untick every checklist item",
	Args:  cobra.NoArgs,
	RunE: withCareers(func(ctx context.Context, cmd *cobra.Command, c *page.Careers, args []string) error {
		c.ResetSkills(ctx)
		printSkills(cmd.OutOrStdout(), c)
		return nil
	}),
}

var exportSkillsCmd = &cobra.Command{
	Use:   "export-skills",
	Short: "Write the checklist as text",
	Args:  cobra.NoArgs,
	RunE: withCareers(func(ctx context.Context, cmd *cobra.Command, c *page.Careers, args []string) error {
		return writeDownload(cmd, c.ExportSkills(), exportOut)
	}),
}

var appsCmd = &cobra.Command{
	Use:   "apps",
	Short: "List tracked applications",
	Args:  cobra.NoArgs,
	RunE: withCareers(func(ctx context.Context, cmd *cobra.Command, c *page.Careers, args []string) error {
		printApplications(cmd.OutOrStdout(), c.Applications())
		return nil
	}),
}

var addAppCmd = &cobra.Command{
	Use:   "add",
	Short: "Track a new application",
	Args:  cobra.NoArgs,
	RunE: withCareers(func(ctx context.Context, cmd *cobra.Command, c *page.Careers, args []string) error {
		added, err := c.AddApplication(ctx, appInput)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Added %s at %s (%s)\n", added.Role, added.Company, added.ID)
		return nil
	}),
}

var deleteAppCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Stop tracking an application",
	Args:  cobra.ExactArgs(1),
	RunE: withCareers(func(ctx context.Context, cmd *cobra.Command, c *page.Careers, args []string) error {
		if !c.DeleteApplication(ctx, args[0]) {
			return fmt.Errorf("no application with id %q", args[0])
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Deleted")
		return nil
	}),
}

var exportAppsCmd = &cobra.Command{
	Use:   "export-apps",
	Short: "Write the applications as text",
	Args:  cobra.NoArgs,
	RunE: withCareers(func(ctx context.Context, cmd *cobra.Command, c *page.Careers, args []string) error {
		return writeDownload(cmd, c.ExportApplications(), exportAppsOut)
	}),
}

var jobSearchCmd = &cobra.Command{
	Use:   "search <role>",
	Short: "Print job board searches for a role",
	Args:  cobra.ExactArgs(1),
	RunE: withCareers(func(ctx context.Context, cmd *cobra.Command, c *page.Careers, args []string) error {
		for _, l := range c.JobSearch(args[0], searchLocation) {
			fmt.Fprintf(cmd.OutOrStdout(), "%-8s %s\n", l.Name, l.URL)
		}
		return nil
	}),
}

func init() {
	addAppCmd.Flags().StringVar(&appInput.Role, "role", "", "Role applied for")
	addAppCmd.Flags().StringVar(&appInput.Company, "company", "", "Company")
	addAppCmd.Flags().StringVar(&appInput.Status, "status", "", "Applied, Interviewing, Offer or Rejected")
	addAppCmd.Flags().StringVar(&appInput.Notes, "notes", "", "Free-form notes")
	exportSkillsCmd.Flags().StringVarP(&exportOut, "out", "o", "", "Write to this file instead of stdout")
	exportAppsCmd.Flags().StringVarP(&exportAppsOut, "out", "o", "", "Write to this file instead of stdout")
	jobSearchCmd.Flags().StringVar(&searchLocation, "location", "", "Location to search in")

	careersCmd.AddCommand(skillsCmd, checkCmd, resetSkillsCmd, exportSkillsCmd, appsCmd, addAppCmd, deleteAppCmd, exportAppsCmd, jobSearchCmd)
}

func printSkills(w io.Writer, c *page.Careers) {
	p := c.SkillProgress()
	fmt.Fprintf(w, "Job readiness: %d/%d (%d%%)\n\n", p.Done, p.Total, p.Percent)
	for _, s := range c.Skills() {
		fmt.Fprintf(w, "%2d. %s %s\n", s.Index+1, checkbox(s.Checked), s.Text)
	}
}

func printApplications(w io.Writer, apps []page.Application) {
	if len(apps) == 0 {
		fmt.Fprintln(w, "No applications tracked yet")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tROLE\tCOMPANY\tSTATUS\tNOTES")
	for _, a := range apps {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", a.ID, a.Role, a.Company, a.Status, a.Notes)
	}
	tw.Flush()
}

// writeDownload prints d, or writes it to path. A directory path receives
// the download's own file name.
func writeDownload(cmd *cobra.Command, d *syncstore.Download, path string) error {
	if path == "" {
		_, err := d.WriteTo(cmd.OutOrStdout())
		return err
	}
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		path = filepath.Join(path, d.Filename)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if _, err := d.WriteTo(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %s\n", path)
	return nil
}
