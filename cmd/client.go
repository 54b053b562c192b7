package cmd

import (
	"context"
	"time"

	"github.com/AstroMined/settings-extension-sub002/internal/client"
	"github.com/AstroMined/settings-extension-sub002/internal/logging"
)

const requestTimeout = 10 * time.Second

// withClient dials the authority, runs fn with a request-scoped context and
// closes the connection.
func withClient(fn func(ctx context.Context, c *client.Client) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	c, err := client.Dial(ctx, cfg.ListenAddr, nil, logging.Nop())
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(ctx, c)
}
