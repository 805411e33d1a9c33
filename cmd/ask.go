package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/conneroisu/helpdeck/internal/trigger"
)

var askOutput string

var askCmd = &cobra.Command{
	Use:   "ask TEXT",
	Short: "Answer a chat line the way the bot would",
	Long: `Route a chat line through the trigger words and print the reply. Rendered
replies are written to a file.

Examples:
  helpdeck ask help
  helpdeck ask "帮助 签到" -o reply.png
  helpdeck ask 分类`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	rootCmd.AddCommand(askCmd)
	askCmd.Flags().StringVarP(&askOutput, "output", "o", "", "Where to write a rendered reply, - for stdout")
}

func runAsk(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	reply, err := trigger.NewRouter(a.service).Handle(cmd.Context(), strings.Join(args, " "))
	if err != nil {
		return err
	}
	if reply == nil {
		fmt.Fprintln(cmd.OutOrStdout(), "(no reply: not a help request)")
		return nil
	}
	if reply.Text != "" {
		fmt.Fprintln(cmd.OutOrStdout(), strings.TrimRight(reply.Text, "\n"))
	}
	if reply.Artifact != nil {
		return writeArtifact(cmd, reply.Artifact, askOutput)
	}
	return nil
}
