// Package cmd implements the settingsd command line interface.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/AstroMined/settings-extension-sub002/internal/config"
	"github.com/AstroMined/settings-extension-sub002/internal/version"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:           "settingsd",
	Short:         "Persistent settings store with cross-context synchronization",
	Long:          "Persistent settings store with cross-context synchronization.\n\nRun `settingsd serve` to start the authority daemon; the other subcommands\ntalk to a running authority.",
	SilenceUsage:  true,
	SilenceErrors: false,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.Version = version.String()
	rootCmd.CompletionOptions.HiddenDefaultCmd = true
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $XDG_CONFIG_HOME/settingsd/config.toml)")
}

func loadConfig() (config.Config, error) {
	return config.Load(cfgFile)
}
