package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"devtoolkit/internal/page"
)

var (
	contactInput    page.ContactInput
	suggestionInput page.SuggestionInput
)

var contactCmd = &cobra.Command{
	Use:   "contact",
	Short: "Send a message to the DevToolkit team",
	Args:  cobra.NoArgs,
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
		r, err := page.NewForms(a.env()).SubmitContact(ctx, contactInput)
		if err != nil {
			return err
		}
		printReceipt(cmd.OutOrStdout(), "Message", r)
		return nil
	}),
}

var suggestCmd = &cobra.Command{
	Use:   "suggest",
	Short: "Suggest a tool for the catalog",
	Args:  cobra.NoArgs,
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
		r, err := page.NewForms(a.env()).SubmitSuggestion(ctx, suggestionInput)
		if err != nil {
			return err
		}
		printReceipt(cmd.OutOrStdout(), "Suggestion", r)
		return nil
	}),
}

func init() {
	contactCmd.Flags().StringVar(&contactInput.Name, "name", "", "Your name")
	contactCmd.Flags().StringVar(&contactInput.Email, "email", "", "Reply address")
	contactCmd.Flags().StringVarP(&contactInput.Message, "message", "m", "", "Message")

	suggestCmd.Flags().StringVar(&suggestionInput.Title, "title", "", "Tool name")
	suggestCmd.Flags().StringVar(&suggestionInput.URL, "url", "", "Tool homepage")
	suggestCmd.Flags().StringVar(&suggestionInput.Category, "category", "", "Catalog category")
	suggestCmd.Flags().StringVar(&suggestionInput.Level, "level", "", "Beginner, Intermediate or Advanced")
	suggestCmd.Flags().StringVarP(&suggestionInput.Message, "message", "m", "", "Why it belongs in the catalog")
}

func printReceipt(w io.Writer, what string, r page.Receipt) {
	if r.Saved {
		fmt.Fprintf(w, "%s sent and saved to your account (%s)\n", what, r.ID)
		return
	}
	fmt.Fprintf(w, "%s sent (%s)\n", what, r.ID)
}
