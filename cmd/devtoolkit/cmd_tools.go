package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"devtoolkit/internal/catalog"
	"devtoolkit/internal/page"
)

var (
	toolQuery        page.ToolQuery
	compareFavorites bool
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "Browse and compare developer tools",
}

// withTools opens the catalog and, for a signed-in user, waits for the
// first favorites snapshot so favorite marks are accurate.
func withTools(run func(ctx context.Context, cmd *cobra.Command, t *page.Tools, f *page.Favorites, a *app, args []string) error) func(*cobra.Command, []string) error {
	return withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
		a.loadCatalog(ctx)
		env := a.env()
		favs := page.NewFavorites(env)
		defer favs.Close()
		if _, err := favs.WaitSnapshot(ctx); err != nil {
			return err
		}
		return run(ctx, cmd, page.NewTools(env, favs), favs, a, args)
	})
}

var toolsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tools, optionally filtered",
	Args:  cobra.NoArgs,
	RunE: withTools(func(ctx context.Context, cmd *cobra.Command, t *page.Tools, f *page.Favorites, a *app, args []string) error {
		views, err := t.List(toolQuery)
		if err != nil {
			return err
		}
		printTools(cmd.OutOrStdout(), views)
		return nil
	}),
}

var toolsCategoriesCmd = &cobra.Command{
	Use:   "categories",
	Short: "List tool categories",
	Args:  cobra.NoArgs,
	RunE: withTools(func(ctx context.Context, cmd *cobra.Command, t *page.Tools, f *page.Favorites, a *app, args []string) error {
		for _, c := range t.Categories() {
			fmt.Fprintln(cmd.OutOrStdout(), c)
		}
		return nil
	}),
}

var toolsPickCmd = &cobra.Command{
	Use:   "pick <query>",
	Short: "Find tools to add to a comparison",
	Args:  cobra.MinimumNArgs(1),
	RunE: withTools(func(ctx context.Context, cmd *cobra.Command, t *page.Tools, f *page.Favorites, a *app, args []string) error {
		for _, tool := range t.Picker(strings.Join(args, " ")) {
			fmt.Fprintf(cmd.OutOrStdout(), "%-20s %s\n", tool.ID, tool.Title)
		}
		return nil
	}),
}

var toolsCompareCmd = &cobra.Command{
	Use:   "compare [tool-id...]",
	Short: "Compare tools side by side",
	RunE: withTools(func(ctx context.Context, cmd *cobra.Command, t *page.Tools, f *page.Favorites, a *app, args []string) error {
		var (
			cmp catalog.Comparison
			err error
		)
		if compareFavorites {
			cmp, err = t.CompareFavorites()
		} else {
			if len(args) == 0 {
				return fmt.Errorf("name up to %d tools to compare, or pass --favorites", catalog.MaxCompare)
			}
			cmp, err = t.Compare(args)
		}
		if err != nil {
			return err
		}
		printComparison(cmd.OutOrStdout(), cmp)
		return nil
	}),
}

func init() {
	toolsListCmd.Flags().StringVar(&toolQuery.Category, "category", "", "Only this category")
	toolsListCmd.Flags().StringVar(&toolQuery.Level, "level", "", "Only this level")
	toolsListCmd.Flags().StringVar(&toolQuery.Price, "price", "", "Only this pricing")
	toolsListCmd.Flags().StringVarP(&toolQuery.Query, "query", "q", "", "Match title, blurb or provider")
	toolsListCmd.Flags().BoolVar(&toolQuery.FavoritesOnly, "favorites", false, "Only favorites (requires sign-in)")
	toolsCompareCmd.Flags().BoolVar(&compareFavorites, "favorites", false, "Compare your favorites")

	toolsCmd.AddCommand(toolsListCmd, toolsCategoriesCmd, toolsPickCmd, toolsCompareCmd)
}

func printTools(w io.Writer, views []page.ToolView) {
	if len(views) == 0 {
		fmt.Fprintln(w, "No tools match")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\tID\tTITLE\tCATEGORY\tLEVEL\tPRICE")
	for _, v := range views {
		star := ""
		if v.Favorited {
			star = "*"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", star, v.ID, v.Title, v.Category, v.Level, v.Price)
	}
	tw.Flush()
}

func printComparison(w io.Writer, cmp catalog.Comparison) {
	if len(cmp.Tools) == 0 {
		fmt.Fprintln(w, "Nothing to compare")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TOOL\tPROVIDER\tCATEGORY\tLEVEL\tPRICE\tURL")
	for _, t := range cmp.Tools {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", t.Title, t.Provider, t.Category, t.Level, t.Price, t.URL)
	}
	tw.Flush()

	if len(cmp.Differences) > 0 {
		fmt.Fprintln(w)
		for _, d := range cmp.Differences {
			fmt.Fprintf(w, "- %s\n", d)
		}
	}
}
