package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/MapcreatorIO/api-wrapper-sub000/internal/constants"
	"github.com/MapcreatorIO/api-wrapper-sub000/pkg/apiclient"
	"github.com/MapcreatorIO/api-wrapper-sub000/pkg/invalidate"
	"github.com/MapcreatorIO/api-wrapper-sub000/pkg/listing"
)

// NewWatchCommand creates the watch command.
func NewWatchCommand() *cobra.Command {
	var (
		flags      queryFlags
		pages      int
		interval   time.Duration
		iterations int
		columns    []string
	)

	cmd := &cobra.Command{
		Use:   "watch ROUTE",
		Short: "Keep a listing up to date",
		Long: `Load the first pages of a listing and print the merged rows whenever they
change. The listing is refreshed every interval, and cache invalidations from
other processes are applied when a NATS URL is configured.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			route := strings.TrimSpace(args[0])
			if route == "" {
				return constants.ErrRouteRequired
			}

			if interval <= 0 {
				return constants.ErrInvalidInterval
			}

			client, config, err := newClientFromConfig()
			if err != nil {
				return err
			}

			defer func() { _ = client.Close() }()

			if config.NATSURL != "" {
				conn, err := enableInvalidation(client, config)
				if err != nil {
					return err
				}

				defer func() { _ = conn.Close() }()
			}

			query, err := flags.build(cmd, client.Defaults())
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			return runWatch(ctx, cmd.OutOrStdout(), client.Listing(route, query), watchOptions{
				pages:      pages,
				interval:   interval,
				iterations: iterations,
				columns:    columns,
			})
		},
	}

	flags.register(cmd, false)
	cmd.Flags().IntVar(&pages, "pages", 1, "number of pages to load")
	cmd.Flags().DurationVar(&interval, "interval", constants.DefaultCacheTTL, "refresh interval")
	cmd.Flags().IntVar(&iterations, "iterations", 0, "stop after this many refreshes (0 runs until interrupted)")
	cmd.Flags().StringSliceVar(&columns, "columns", nil, "comma separated columns for table output")

	return cmd
}

type watchOptions struct {
	pages      int
	interval   time.Duration
	iterations int
	columns    []string
}

func runWatch(ctx context.Context, out io.Writer, view *apiclient.View, opts watchOptions) error {
	defer view.Close()

	format, err := outputFormat(out)
	if err != nil {
		return err
	}

	show := func(rows []*listing.Resource) {
		_, _ = fmt.Fprintf(out, "--- %s: %d rows\n", time.Now().Format(time.RFC3339), len(rows))

		if format == constants.FormatTable {
			_ = renderResources(out, rows, opts.columns)

			return
		}

		_ = writeStructured(out, format, rows)
	}

	for page := 1; page <= max(opts.pages, 1); page++ {
		err := view.Get(ctx, page)
		if err != nil {
			return err
		}

		if !view.HasNext() {
			break
		}
	}

	show(view.Rows())

	// Subscribe after the initial load so rows are printed once per change.
	view.OnRebuild(show)

	ticker := time.NewTicker(opts.interval)
	defer ticker.Stop()

	for refreshed := 0; opts.iterations == 0 || refreshed < opts.iterations; refreshed++ {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		err := view.Refresh(ctx, false)
		if err != nil && !errors.Is(err, listing.ErrFetchCancelled) {
			return err
		}
	}

	return nil
}

func enableInvalidation(client *apiclient.Client, config *Config) (*invalidate.NATSConn, error) {
	conn, err := invalidate.Connect(config.NATSURL)
	if err != nil {
		return nil, err
	}

	var opts []invalidate.Option
	if config.InvalidationSubject != "" {
		opts = append(opts, invalidate.WithSubject(config.InvalidationSubject))
	}

	err = client.EnableInvalidation(conn, opts...)
	if err != nil {
		_ = conn.Close()

		return nil, err
	}

	return conn, nil
}
