package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/helpdeck/internal/config"
	"github.com/conneroisu/helpdeck/internal/content"
	"github.com/conneroisu/helpdeck/internal/validation"
)

// DefaultConfigFile is written by init and read when --config is not set.
const DefaultConfigFile = ".helpdeck.yml"

var (
	initForce    bool
	initNoConfig bool
)

var initCmd = &cobra.Command{
	Use:     "init [content-file]",
	Aliases: []string{"i"},
	Short:   "Write a starter help content file and configuration",
	Long: `Write the built-in help content to a file you can edit, plus a
.helpdeck.yml with every setting at its default. The content format follows
the file extension: .toml (default) or .yaml/.yml.

Examples:
  helpdeck init                       # help_config.toml and .helpdeck.yml
  helpdeck init menus/help.yaml       # YAML content
  helpdeck init --force               # Overwrite existing files`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)

	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite existing files")
	initCmd.Flags().BoolVar(&initNoConfig, "no-config", false, "Don't write "+DefaultConfigFile)
}

func runInit(cmd *cobra.Command, args []string) error {
	path := config.DefaultContentPath
	if len(args) > 0 {
		path = args[0]
	}
	if err := validation.ValidatePath(path); err != nil {
		return fmt.Errorf("invalid content path: %w", err)
	}

	if err := writeContent(path, initForce); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✅ Wrote help content to %s\n", path)

	if initNoConfig {
		return nil
	}

	cfg := config.Default()
	cfg.Content.Path = path
	if err := writeConfig(DefaultConfigFile, cfg, initForce); err != nil {
		if errors.Is(err, fs.ErrExist) {
			fmt.Fprintf(cmd.OutOrStdout(), "ℹ️  %s already exists, left unchanged\n", DefaultConfigFile)
			return nil
		}
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✅ Wrote configuration to %s\n", DefaultConfigFile)
	return nil
}

func writeContent(path string, force bool) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return content.WriteDefault(path, force)
	case ".yaml", ".yml":
		m, err := content.Default()
		if err != nil {
			return err
		}
		data, err := yaml.Marshal(m.ToDocument())
		if err != nil {
			return err
		}
		return writeNew(path, data, force)
	default:
		return fmt.Errorf("init writes .toml or .yaml content, got %q", filepath.Ext(path))
	}
}

func writeConfig(path string, cfg *config.Config, force bool) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	header := []byte("# helpdeck configuration. Every key can be overridden with HELPDECK_<SECTION>_<KEY>.\n")
	return writeNew(path, append(header, data...), force)
}

func writeNew(path string, data []byte, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s: %w", path, fs.ErrExist)
		}
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}
