package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/helpdeck/internal/config"
)

// ConfigFileEnv names a configuration file when --config is not given.
const ConfigFileEnv = "HELPDECK_CONFIG_FILE"

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "helpdeck",
	Short: "Render and serve chat bot help menus",
	Long: `Helpdeck turns a help content file (categories, plugins, commands and a
theme) into rendered help menus for a chat bot, and answers keyword searches
with rendered result cards.

Rendered menus are cached by content fingerprint, so a menu is rendered once
per content version no matter how many users ask for it at the same time.

Quick Start:
  helpdeck init                   Write help_config.toml and .helpdeck.yml
  helpdeck validate               Check configuration and content
  helpdeck render -o menu.png     Render the full menu
  helpdeck serve                  Serve menus over HTTP`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .helpdeck.yml, can also use "+ConfigFileEnv+" env var)")
	rootCmd.PersistentFlags().String("content", "", "help content file (default "+config.DefaultContentPath+")")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "", "log format (text, json)")

	_ = viper.BindPFlag("content.path", rootCmd.PersistentFlags().Lookup("content"))
	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))
}

// initConfig locates the configuration file.
//
// Priority (highest to lowest):
//  1. --config flag
//  2. HELPDECK_CONFIG_FILE environment variable
//  3. .helpdeck.yml in the current directory
//
// A missing file is not an error; defaults and HELPDECK_* variables apply.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if envConfigFile := os.Getenv(ConfigFileEnv); envConfigFile != "" {
		viper.SetConfigFile(envConfigFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".helpdeck")
	}

	config.ConfigureEnv(viper.GetViper())

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}
