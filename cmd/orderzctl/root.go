package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/matt-riley/orderz/internal/logging"
)

type rootOptions struct {
	databaseURL string
	logLevel    string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "orderzctl",
		Short:         "Manage orderz catalogs and orders",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.PersistentFlags().StringVar(&opts.databaseURL, "database-url", os.Getenv("DATABASE_URL"), "PostgreSQL connection string")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "debug, info, warn or error")

	cmd.AddCommand(
		newMigrateCmd(opts),
		newSeedCmd(opts),
		newPriceCmd(opts),
	)
	return cmd
}

func (o *rootOptions) logger(cmd *cobra.Command) *slog.Logger {
	return logging.NewWithWriter(o.logLevel, cmd.ErrOrStderr(), logging.WithFormat(logging.FormatText))
}

func (o *rootOptions) connect(ctx context.Context) (*pgxpool.Pool, error) {
	if strings.TrimSpace(o.databaseURL) == "" {
		return nil, errors.New("--database-url or DATABASE_URL is required")
	}
	pool, err := pgxpool.New(ctx, o.databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return pool, nil
}

// parseInstantFlag parses an optional RFC 3339 flag value.
func parseInstantFlag(name, value string) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	at, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return nil, fmt.Errorf("--%s: want RFC 3339: %w", name, err)
	}
	return &at, nil
}
