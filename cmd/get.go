package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AstroMined/settings-extension-sub002/internal/client"
)

var getCmd = &cobra.Command{
	Use:   "get <key> [key...]",
	Short: "Read one or more settings",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *client.Client) error {
			if len(args) == 1 {
				value, err := c.Get(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(value)
			}
			values, err := c.GetMany(ctx, args)
			if err != nil {
				return err
			}
			return printJSON(values)
		})
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Show all settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *client.Client) error {
			settings, err := c.GetAll(ctx)
			if err != nil {
				return err
			}
			return printJSON(settings)
		})
	},
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func init() {
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(listCmd)
}
