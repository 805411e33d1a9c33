package cmd

import (
	"context"
	stderrors "errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/helpdeck/internal/config"
	"github.com/conneroisu/helpdeck/internal/content"
	"github.com/conneroisu/helpdeck/internal/logging"
)

var validateOutput *OutputFlags

// validateCmd represents the validate command.
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration and the help content file",
	Long: `Validate the configuration (.helpdeck.yml, HELPDECK_* variables and
flags) and parse the help content file. Problems are reported with
suggestions; the command fails when any error is found.

Examples:
  helpdeck validate
  helpdeck validate --content menus/help.yaml --format json`,
	RunE: runValidateCommand,
}

func init() {
	rootCmd.AddCommand(validateCmd)
	validateOutput = AddOutputFlags(validateCmd)
}

// ValidationReport is the outcome of helpdeck validate.
type ValidationReport struct {
	Valid      bool     `json:"valid" yaml:"valid"`
	Errors     []string `json:"errors,omitempty" yaml:"errors,omitempty"`
	Warnings   []string `json:"warnings,omitempty" yaml:"warnings,omitempty"`
	Content    string   `json:"content" yaml:"content"`
	Origin     string   `json:"origin,omitempty" yaml:"origin,omitempty"`
	Digest     string   `json:"digest,omitempty" yaml:"digest,omitempty"`
	Categories int      `json:"categories" yaml:"categories"`
	Plugins    int      `json:"plugins" yaml:"plugins"`

	configReport string
}

func runValidateCommand(cmd *cobra.Command, args []string) error {
	report := buildValidationReport(cmd.Context(), viper.GetViper())
	if err := validateOutput.Print(cmd.OutOrStdout(), report, report.text); err != nil {
		return err
	}
	if !report.Valid {
		return fmt.Errorf("validation failed with %d errors", len(report.Errors))
	}
	return nil
}

// buildValidationReport collects every problem instead of stopping at the
// first one.
func buildValidationReport(ctx context.Context, v *viper.Viper) *ValidationReport {
	report := &ValidationReport{Valid: true}

	cfg, err := config.Decode(v)
	if err != nil {
		report.addError(fmt.Sprintf("config: %v", err))
		cfg = config.Default()
	}

	result := config.Validate(cfg)
	for _, e := range result.Errors {
		report.addError(fmt.Sprintf("%s: %s", e.Field, e.Message))
	}
	if result.HasWarnings() {
		for _, w := range result.Warnings {
			report.Warnings = append(report.Warnings, fmt.Sprintf("%s: %s", w.Field, w.Message))
		}
	}
	report.configReport = result.String()

	report.Content = cfg.Content.Path
	m, err := content.NewFileSource(cfg.Content.Path, logging.Discard()).Load(ctx)
	if stderrors.Is(err, fs.ErrNotExist) {
		m, err = content.Default()
	}
	if err != nil {
		report.addError(fmt.Sprintf("content: %v", err))
		return report
	}
	report.Origin = m.Origin()
	report.Digest = m.Digest().String()
	report.Categories = m.NumCategories()
	report.Plugins = m.NumPlugins()
	if m.Origin() == content.OriginEmbedded {
		report.Warnings = append(report.Warnings,
			fmt.Sprintf("content: %s not found, the built-in content is served and written there on start", cfg.Content.Path))
	}
	return report
}

func (r *ValidationReport) addError(msg string) {
	r.Valid = false
	r.Errors = append(r.Errors, msg)
}

func (r *ValidationReport) text() string {
	var b strings.Builder
	b.WriteString(r.configReport)
	for _, e := range r.Errors {
		if strings.HasPrefix(e, "content: ") || strings.HasPrefix(e, "config: ") {
			fmt.Fprintf(&b, "❌ %s\n", e)
		}
	}
	if r.Digest != "" {
		fmt.Fprintf(&b, "📄 %s: %d categories, %d plugins\n", r.Origin, r.Categories, r.Plugins)
	}
	if r.Valid {
		b.WriteString("✅ Configuration and content are valid\n")
	}
	return b.String()
}
