package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"devtoolkit/internal/page"
)

var (
	authEmail    string
	authPassword string
	authName     string
	resetToken   string
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Sign in, sign up and manage the session",
}

var signInCmd = &cobra.Command{
	Use:   "signin",
	Short: "Sign in with email and password",
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
		password, err := secret(cmd, authPassword, "Password: ")
		if err != nil {
			return err
		}
		u, err := page.NewAuth(a.env()).SignIn(ctx, authEmail, password)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s\n", displayName(u.DisplayName, u.Email))
		return nil
	}),
}

var signUpCmd = &cobra.Command{
	Use:   "signup",
	Short: "Create an account and sign in",
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
		password, err := secret(cmd, authPassword, "Password: ")
		if err != nil {
			return err
		}
		u, err := page.NewAuth(a.env()).SignUp(ctx, authName, authEmail, password)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Welcome, %s\n", displayName(u.DisplayName, u.Email))
		return nil
	}),
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Email a password reset link",
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
		msg, err := page.NewAuth(a.env()).ResetPassword(ctx, authEmail)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), msg)
		return nil
	}),
}

var confirmResetCmd = &cobra.Command{
	Use:   "confirm-reset",
	Short: "Set a new password with the token from the reset email",
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
		if resetToken == "" {
			return errors.New("--token is required")
		}
		password, err := secret(cmd, authPassword, "New password: ")
		if err != nil {
			return err
		}
		if err := a.identity.ConfirmPasswordReset(ctx, resetToken, password); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Password updated. You can sign in now.")
		return nil
	}),
}

var signOutCmd = &cobra.Command{
	Use:   "signout",
	Short: "Sign out of this profile",
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
		if err := page.NewAuth(a.env()).SignOut(ctx); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
		return nil
	}),
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the signed-in user",
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
		s := a.watcher.Current()
		if !s.SignedIn() {
			fmt.Fprintln(cmd.OutOrStdout(), "Not signed in")
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s <%s>\n", displayName(s.User.DisplayName, s.User.Email), s.User.Email)
		return nil
	}),
}

func init() {
	for _, c := range []*cobra.Command{signInCmd, signUpCmd, resetCmd} {
		c.Flags().StringVar(&authEmail, "email", "", "Account email")
	}
	for _, c := range []*cobra.Command{signInCmd, signUpCmd, confirmResetCmd} {
		c.Flags().StringVar(&authPassword, "password", "", "Password (read from stdin when omitted)")
	}
	signUpCmd.Flags().StringVar(&authName, "name", "", "Display name")
	confirmResetCmd.Flags().StringVar(&resetToken, "token", "", "Reset token from the email")

	authCmd.AddCommand(signInCmd, signUpCmd, resetCmd, confirmResetCmd, signOutCmd, whoamiCmd)
}

// secret returns the flag value, or one line read from the command's input.
func secret(cmd *cobra.Command, flagValue, prompt string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	fmt.Fprint(cmd.ErrOrStderr(), prompt)
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func displayName(name, email string) string {
	if name != "" {
		return name
	}
	if email != "" {
		return email
	}
	return "Account"
}
