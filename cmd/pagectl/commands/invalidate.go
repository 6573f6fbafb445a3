package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MapcreatorIO/api-wrapper-sub000/pkg/invalidate"
	"github.com/MapcreatorIO/api-wrapper-sub000/pkg/listing"
)

// NewInvalidateCommand creates the invalidate command.
func NewInvalidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "invalidate [ROUTE...]",
		Short: "Tell running clients to drop cached pages",
		Long: `Publish a cache invalidation on the configured NATS subject. Running
clients drop their cached pages for the given routes, or for every route
when none are given.`,
		Example: `  pagectl invalidate /v1/maps
  pagectl invalidate --nats-url nats://localhost:4222`,
		RunE: func(cmd *cobra.Command, args []string) error {
			config := loadConfig()

			if config.NATSURL == "" {
				return ErrNATSURLRequired
			}

			conn, err := invalidate.Connect(config.NATSURL)
			if err != nil {
				return err
			}

			defer func() { _ = conn.Close() }()

			var opts []invalidate.Option
			if config.InvalidationSubject != "" {
				opts = append(opts, invalidate.WithSubject(config.InvalidationSubject))
			}

			cache := listing.NewPageCache[*listing.Resource]()
			defer cache.Close()

			inv, err := invalidate.New(conn, cache, opts...)
			if err != nil {
				return err
			}

			defer func() { _ = inv.Close() }()

			err = inv.Invalidate(args...)
			if err != nil {
				return err
			}

			target := "all routes"
			if len(args) > 0 {
				target = fmt.Sprintf("%d route(s)", len(args))
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Invalidated %s on %s\n", target, inv.Subject())

			return nil
		},
	}
}
