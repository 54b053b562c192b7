package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AstroMined/settings-extension-sub002/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the settingsd version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("settingsd v%s\n", version.String())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
