package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/helpdeck/internal/cache"
	"github.com/conneroisu/helpdeck/internal/store"
	"github.com/conneroisu/helpdeck/internal/validation"
)

var (
	renderQuery  string
	renderOutput string
)

var renderCmd = &cobra.Command{
	Use:     "render",
	Aliases: []string{"r"},
	Short:   "Render the help menu or a search result to a file",
	Long: `Render the full help menu, or the result card for a keyword, and write
it to a file. Without --output the file is named after the artifact key.

Examples:
  helpdeck render                           # Full menu
  helpdeck render -o menu.png               # Full menu to menu.png
  helpdeck render --query 运势 -o hit.png    # Search result
  helpdeck render --renderer markup -o -    # HTML to stdout`,
	RunE: runRender,
}

func init() {
	rootCmd.AddCommand(renderCmd)

	renderCmd.Flags().StringVarP(&renderQuery, "query", "q", "", "Render the search result for this keyword")
	renderCmd.Flags().StringVarP(&renderOutput, "output", "o", "", "Output file, - for stdout")
	renderCmd.Flags().String("renderer", "", "Renderer kind (exec, markup)")

	_ = viper.BindPFlag("renderer.kind", renderCmd.Flags().Lookup("renderer"))
}

func runRender(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	var artifact *cache.Artifact
	if renderQuery != "" {
		out, err := a.service.Search(cmd.Context(), renderQuery)
		if err != nil {
			return err
		}
		if out.NotFound {
			fmt.Fprintln(cmd.OutOrStdout(), out.Text())
			return nil
		}
		artifact = out.Artifact
	} else {
		artifact, err = a.service.FullMenu(cmd.Context())
		if err != nil {
			return err
		}
	}

	return writeArtifact(cmd, artifact, renderOutput)
}

// writeArtifact writes a to path, to stdout for "-", or to a file named
// after the key when path is empty.
func writeArtifact(cmd *cobra.Command, a *cache.Artifact, path string) error {
	if path == "-" {
		_, err := cmd.OutOrStdout().Write(a.Data)
		return err
	}
	if path == "" {
		path = "help_" + a.Key.Short() + store.Extension(a.ContentType)
	}
	if err := validation.ValidatePath(path); err != nil {
		return fmt.Errorf("invalid output path: %w", err)
	}
	if err := os.WriteFile(path, a.Data, 0o644); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%d bytes, %s)\n", path, a.Size, a.ContentType)
	return nil
}
