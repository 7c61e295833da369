package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"devtoolkit/internal/page"
)

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Show your profile and saved items",
}

var accountShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the profile with favorites, suggestions and messages",
	Args:  cobra.NoArgs,
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
		acct := page.NewAccount(a.env(), nil)
		defer acct.Close()

		v, err := acct.WaitReady(ctx)
		if err != nil {
			return err
		}
		if !v.Profile.SignedIn {
			return page.ErrSignInRequired
		}
		printAccount(cmd.OutOrStdout(), v)
		return v.Err
	}),
}

var accountRenameCmd = &cobra.Command{
	Use:   "rename <display name>",
	Short: "Change your display name",
	Args:  cobra.MinimumNArgs(1),
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
		name := strings.TrimSpace(strings.Join(args, " "))
		if name == "" {
			return &page.UserError{Code: "invalid-input", Message: "Please enter your name."}
		}
		u, err := a.identity.UpdateDisplayName(ctx, name)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Display name is now %s\n", u.DisplayName)
		return nil
	}),
}

var accountSignOutCmd = &cobra.Command{
	Use:   "signout",
	Short: "Sign out of this profile",
	Args:  cobra.NoArgs,
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
		acct := page.NewAccount(a.env(), nil)
		defer acct.Close()
		if err := acct.SignOut(ctx); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
		return nil
	}),
}

func init() {
	accountCmd.AddCommand(accountShowCmd, accountRenameCmd, accountSignOutCmd)
}

func printAccount(w io.Writer, v page.AccountView) {
	fmt.Fprintf(w, "%s <%s>\n", v.Profile.Name, v.Profile.Email)
	for _, section := range []struct {
		title string
		items []string
	}{
		{"Favorites", v.Favorites},
		{"Suggestions", v.Suggestions},
		{"Messages", v.Contacts},
	} {
		fmt.Fprintf(w, "\n%s (%d)\n", section.title, len(section.items))
		for _, it := range section.items {
			fmt.Fprintf(w, "  - %s\n", it)
		}
	}
}
