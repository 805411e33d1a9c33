package cmd

import (
	"strings"

	"github.com/spf13/cobra"
)

var searchOutput *OutputFlags

var searchCmd = &cobra.Command{
	Use:   "search KEYWORD",
	Short: "Look a keyword up in the help content",
	Long: `Search plugin names, commands, descriptions and category names and print
the ranked matches. Nothing is rendered.

Examples:
  helpdeck search 运势
  helpdeck search sign in --format json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

func init() {
	rootCmd.AddCommand(searchCmd)
	searchOutput = AddOutputFlags(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	out, err := a.service.Lookup(cmd.Context(), strings.Join(args, " "))
	if err != nil {
		return err
	}
	return searchOutput.Print(cmd.OutOrStdout(), out, out.Text)
}
