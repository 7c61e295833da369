package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"devtoolkit/internal/page"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Reconcile local progress with your account",
	Args:  cobra.NoArgs,
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
		if !a.watcher.Current().SignedIn() {
			return page.ErrSignInRequired
		}

		env := a.env()
		learn := page.NewLearn(env)
		defer learn.Close()
		careers := page.NewCareers(env)
		defer careers.Close()

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			if err := learn.Sync(gctx); err != nil {
				return fmt.Errorf("roadmap: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			if err := careers.Sync(gctx); err != nil {
				return fmt.Errorf("careers: %w", err)
			}
			return nil
		})
		if err := g.Wait(); err != nil {
			return err
		}

		lp, sp := learn.Progress(), careers.SkillProgress()
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Roadmap: %s, %d/%d done\n", learn.Plan().Level, lp.Done, lp.Total)
		fmt.Fprintf(out, "Job readiness: %d/%d\n", sp.Done, sp.Total)
		fmt.Fprintf(out, "Applications: %d\n", len(careers.Applications()))
		return nil
	}),
}
