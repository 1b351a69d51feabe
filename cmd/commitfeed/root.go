package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/AntonStoeckl/optimistic-eventstore-go/eventstore/postgresengine"
)

// rootOptions holds the flags shared by all commands.
type rootOptions struct {
	configPath string
	dsn        string
	format     string
	verbose    bool

	config Config
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "commitfeed",
		Short: "Follow the commit feed of a PostgreSQL event store",
		Long: `commitfeed reads the commits of a PostgreSQL event store in checkpoint order
and keeps polling for new ones.

Settings come from an optional YAML file (--config), COMMITFEED_DSN overrides the
configured DSN and command line flags override both.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.resolve(cmd)
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to a YAML config file")
	cmd.PersistentFlags().StringVar(&opts.dsn, "dsn", "", "PostgreSQL connection string")
	cmd.PersistentFlags().StringVar(&opts.format, "format", formatText, "output format (text|json)")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log at debug level")

	cmd.AddCommand(newTailCommand(opts))
	cmd.AddCommand(newHeadCommand(opts))
	cmd.AddCommand(newSchemaCommand(opts))

	return cmd
}

// resolve loads the config file and applies the flags that were set explicitly.
func (o *rootOptions) resolve(cmd *cobra.Command) error {
	cfg, err := loadConfig(o.configPath)
	if err != nil {
		return err
	}

	flags := cmd.Flags()

	if flags.Changed("dsn") {
		cfg.Database.DSN = o.dsn
	}

	if flags.Changed("format") {
		cfg.Output.Format = o.format
	}

	if flags.Changed("verbose") {
		cfg.Output.Verbose = o.verbose
	}

	o.config = cfg

	return nil
}

func (o *rootOptions) logger(cmd *cobra.Command) *slog.Logger {
	level := slog.LevelInfo
	if o.config.Output.Verbose {
		level = slog.LevelDebug
	}

	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}

// openEngine connects to the configured database and, if set, its replica.
// The returned func closes the pools.
func (o *rootOptions) openEngine(ctx context.Context, logger *slog.Logger) (*postgresengine.Engine, func(), error) {
	db := o.config.Database

	options := []postgresengine.Option{
		postgresengine.WithCommitsTableName(db.CommitsTable),
		postgresengine.WithSnapshotsTableName(db.SnapshotsTable),
		postgresengine.WithPageSize(db.PageSize),
		postgresengine.WithLogger(logger),
	}

	primary, err := pgxpool.New(ctx, db.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}

	if db.ReplicaDSN == "" {
		engine, engineErr := postgresengine.NewEngineFromPGXPool(primary, options...)
		if engineErr != nil {
			primary.Close()
			return nil, nil, engineErr
		}

		return engine, primary.Close, nil
	}

	replica, err := pgxpool.New(ctx, db.ReplicaDSN)
	if err != nil {
		primary.Close()
		return nil, nil, fmt.Errorf("connect to replica: %w", err)
	}

	closePools := func() {
		replica.Close()
		primary.Close()
	}

	engine, err := postgresengine.NewEngineFromPGXPoolWithReplica(primary, replica, options...)
	if err != nil {
		closePools()
		return nil, nil, err
	}

	return engine, closePools, nil
}

func newHeadCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "head",
		Short: "Print the latest assigned checkpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := opts.config.Validate(); err != nil {
				return err
			}

			ctx := cmd.Context()

			engine, closeDB, err := opts.openEngine(ctx, opts.logger(cmd))
			if err != nil {
				return err
			}
			defer closeDB()

			head, err := engine.GetCheckpoint(ctx, "")
			if err != nil {
				return err
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), head.Value())

			return err
		},
	}
}

func newSchemaCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Create the commits and snapshots tables if they do not exist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := opts.config.Validate(); err != nil {
				return err
			}

			ctx := cmd.Context()
			logger := opts.logger(cmd)

			engine, closeDB, err := opts.openEngine(ctx, logger)
			if err != nil {
				return err
			}
			defer closeDB()

			if err = engine.Ping(ctx); err != nil {
				return err
			}

			return engine.CreateSchema(ctx)
		},
	}
}

// isShutdown reports whether err only reflects the feed being stopped.
func isShutdown(err error) bool {
	return errors.Is(err, context.Canceled)
}
