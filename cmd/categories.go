package cmd

import (
	"github.com/spf13/cobra"
)

var categoriesOutput *OutputFlags

var categoriesCmd = &cobra.Command{
	Use:     "categories",
	Aliases: []string{"cat"},
	Short:   "List the help categories",
	RunE:    runCategories,
}

func init() {
	rootCmd.AddCommand(categoriesCmd)
	categoriesOutput = AddOutputFlags(categoriesCmd)
}

func runCategories(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	names := a.service.Categories()
	if names == nil {
		names = []string{}
	}
	return categoriesOutput.Print(cmd.OutOrStdout(),
		map[string][]string{"categories": names},
		a.service.CategoryList)
}
