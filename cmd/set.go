package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AstroMined/settings-extension-sub002/internal/client"
)

var setCmd = &cobra.Command{
	Use:   "set <key> <value> [key value...]",
	Short: "Update one or more settings",
	Long: `Update one or more settings.

Values are parsed as JSON; anything that does not parse is treated as a
plain string, so both 'set refresh_interval 90' and 'set api_key abc123'
work.`,
	Args: func(cmd *cobra.Command, args []string) error {
		if len(args) < 2 || len(args)%2 != 0 {
			return fmt.Errorf("expected key/value pairs")
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		updates := make(map[string]any, len(args)/2)
		for i := 0; i+1 < len(args); i += 2 {
			updates[args[i]] = parseValue(args[i+1])
		}
		return withClient(func(ctx context.Context, c *client.Client) error {
			if err := c.SetMany(ctx, updates); err != nil {
				return err
			}
			fmt.Printf("updated %d setting(s)\n", len(updates))
			return nil
		})
	},
}

// parseValue interprets raw as JSON when possible, plain string otherwise.
func parseValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return v
	}
	return raw
}

func init() {
	rootCmd.AddCommand(setCmd)
}
