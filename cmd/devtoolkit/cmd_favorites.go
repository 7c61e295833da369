package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"devtoolkit/internal/catalog"
	"devtoolkit/internal/page"
)

var favoritesCmd = &cobra.Command{
	Use:   "favorites",
	Short: "Manage favorite tools",
}

var favoritesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List your favorites",
	Args:  cobra.NoArgs,
	RunE: withTools(func(ctx context.Context, cmd *cobra.Command, t *page.Tools, f *page.Favorites, a *app, args []string) error {
		if !a.watcher.Current().SignedIn() {
			return page.ErrSignInRequired
		}
		snap := f.Snapshot()
		if snap.Err != nil {
			return snap.Err
		}
		if len(snap.Items) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No favorites yet")
			return nil
		}
		for _, it := range snap.Items {
			fmt.Fprintf(cmd.OutOrStdout(), "%-20s %s\n", it.ID, it.Fields.Title)
		}
		return nil
	}),
}

var favoritesToggleCmd = &cobra.Command{
	Use:   "toggle <tool-id>",
	Short: "Add or remove a favorite",
	Args:  cobra.ExactArgs(1),
	RunE: withTools(func(ctx context.Context, cmd *cobra.Command, t *page.Tools, f *page.Favorites, a *app, args []string) error {
		tool, ok := a.catalog.Lookup(args[0])
		if !ok {
			// Tools dropped from the catalog can still be unfavorited.
			if f.IsFavorite(args[0]) {
				if err := f.Remove(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %s from favorites\n", args[0])
				return nil
			}
			return fmt.Errorf("%w: %s", catalog.ErrUnknownTool, args[0])
		}
		on, err := f.Toggle(ctx, tool)
		if err != nil {
			return err
		}
		if on {
			fmt.Fprintf(cmd.OutOrStdout(), "Added %s to favorites\n", tool.Title)
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s from favorites\n", tool.Title)
		}
		return nil
	}),
}

func init() {
	favoritesCmd.AddCommand(favoritesListCmd, favoritesToggleCmd)
}
