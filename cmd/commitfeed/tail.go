package main

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/spf13/cobra"

	"github.com/AntonStoeckl/optimistic-eventstore-go/eventstore"
	"github.com/AntonStoeckl/optimistic-eventstore-go/eventstore/pollingclient"
)

const (
	logMsgFeedStarted = "commit feed started"
	logMsgFeedStopped = "commit feed stopped, resume with --from"
	logAttrBucket     = "bucket"
	logAttrFrom       = "from"
	logAttrCheckpoint = "checkpoint"
)

type tailOptions struct {
	*rootOptions
	once bool
}

func newTailCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &tailOptions{rootOptions: rootOpts}

	var (
		bucket string
		from   string
	)

	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Print commits in checkpoint order and follow new ones",
		Long: `Print all commits after a checkpoint in checkpoint order, then keep polling
for new commits until interrupted. On exit the last printed checkpoint is logged,
pass it to --from to resume.

Example:
  commitfeed tail --dsn postgres://localhost:5432/eventstore --bucket orders
  commitfeed tail --config commitfeed.yaml --from 1042 --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			flags := cmd.Flags()

			if flags.Changed("bucket") {
				opts.config.Feed.Bucket = bucket
			}

			if flags.Changed("from") {
				opts.config.Feed.From = from
			}

			if flags.Changed("interval") {
				opts.config.Feed.Interval, _ = flags.GetDuration("interval")
			}

			if flags.Changed("buffer") {
				opts.config.Feed.Buffer, _ = flags.GetInt("buffer")
			}

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

			_, err = runFeed(ctx, engine, opts.config, opts.once, cmd.OutOrStdout(), logger)

			return err
		},
	}

	cmd.Flags().StringVarP(&bucket, "bucket", "b", "", "only follow this bucket")
	cmd.Flags().StringVar(&from, "from", "", "checkpoint to resume after")
	cmd.Flags().Duration("interval", defaultInterval, "polling interval")
	cmd.Flags().Int("buffer", defaultBuffer, "number of commits buffered between polling and printing")
	cmd.Flags().BoolVar(&opts.once, "once", false, "print the commits available now and exit")

	return cmd
}

// runFeed prints the commits of persistence after cfg.Feed.From until ctx is done, or after the
// first poll when once is set. It returns the checkpoint of the last printed commit.
func runFeed(
	ctx context.Context,
	persistence eventstore.Persistence,
	cfg Config,
	once bool,
	out io.Writer,
	logger *slog.Logger,
) (string, error) {

	client, err := pollingclient.NewPollingClient(persistence,
		pollingclient.WithInterval(cfg.Feed.Interval),
		pollingclient.WithLogger(logger),
	)
	if err != nil {
		return "", err
	}

	observer := client.ObserveFrom(cfg.Feed.From)
	if cfg.Feed.Bucket != "" {
		observer = client.ObserveFromBucket(cfg.Feed.Bucket, cfg.Feed.From)
	}
	defer func() { _ = observer.Close() }()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	subscription := observer.Subscribe(cfg.Feed.Buffer)
	printer := newCommitPrinter(out, cfg.Output.Format)

	var (
		wg       sync.WaitGroup
		printErr error
	)

	wg.Add(1)

	go func() {
		defer wg.Done()

		for commit := range subscription.Commits() {
			if printErr = printer.Print(commit); printErr != nil {
				subscription.Unsubscribe()
				cancel()

				return
			}
		}
	}()

	logger.Info(logMsgFeedStarted, logAttrBucket, cfg.Feed.Bucket, logAttrFrom, cfg.Feed.From)

	if err = observer.Start(ctx); err == nil && !once {
		<-ctx.Done()
	}

	_ = observer.Close()
	wg.Wait()

	checkpoint := observer.Checkpoint()
	logger.Info(logMsgFeedStopped, logAttrCheckpoint, checkpoint)

	switch {
	case printErr != nil:
		return checkpoint, printErr
	case err != nil && !isShutdown(err):
		return checkpoint, err
	default:
		return checkpoint, nil
	}
}
