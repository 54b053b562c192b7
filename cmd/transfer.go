package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AstroMined/settings-extension-sub002/internal/client"
)

var exportCmd = &cobra.Command{
	Use:   "export [file]",
	Short: "Export all settings to a file (stdout by default)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *client.Client) error {
			file, err := c.Export(ctx)
			if err != nil {
				return err
			}
			data, err := json.MarshalIndent(file, "", "  ")
			if err != nil {
				return err
			}
			if len(args) == 0 {
				fmt.Println(string(data))
				return nil
			}
			if err := os.WriteFile(args[0], data, 0644); err != nil {
				return fmt.Errorf("failed to write export file: %w", err)
			}
			fmt.Printf("exported %d settings to %s\n", len(file.Settings), args[0])
			return nil
		})
	},
}

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import settings from an export file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read import file: %w", err)
		}
		return withClient(func(ctx context.Context, c *client.Client) error {
			if err := c.Import(ctx, data); err != nil {
				return err
			}
			fmt.Println("settings imported")
			return nil
		})
	},
}

var resetForce bool

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset all settings to schema defaults",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !resetForce && !confirm("Reset all settings to defaults? [y/N] ") {
			fmt.Println("aborted")
			return nil
		}
		return withClient(func(ctx context.Context, c *client.Client) error {
			if err := c.Reset(ctx); err != nil {
				return err
			}
			fmt.Println("settings reset to defaults")
			return nil
		})
	},
}

func confirm(prompt string) bool {
	fmt.Print(prompt)
	reader := bufio.NewReader(os.Stdin)
	answer, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}

func init() {
	resetCmd.Flags().BoolVar(&resetForce, "force", false, "reset without confirmation")
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(resetCmd)
}
