package cli

import (
	"log/slog"

	"github.com/spf13/cobra"
)

// NewRetireCommand retires an identity.
//
// Retirement is keyed by identity only and cannot be routed by a
// service-derived shard key. With --service the sweep targets the shard
// owning that family; without it, every configured physical database is
// swept.
func NewRetireCommand(opts *RootOptions) *cobra.Command {
	var service string

	cmd := &cobra.Command{
		Use:   "retire <email>",
		Short: "Permanently retire an identity's bindings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			email := args[0]

			dir, err := openDirectory(opts)
			if err != nil {
				return err
			}
			defer dir.Close()

			if service != "" {
				db, err := dir.Shard(service)
				if err != nil {
					return err
				}
				if err := dir.RetireUser(cmd.Context(), db, email); err != nil {
					return err
				}
				slog.Info("identity retired", "service", service)
				return nil
			}

			for _, db := range dir.Shards() {
				if err := dir.RetireUser(cmd.Context(), db, email); err != nil {
					return err
				}
			}
			slog.Info("identity retired on all shards",
				"shards", len(dir.Shards()))
			return nil
		},
	}

	cmd.Flags().StringVar(&service, "service", "", "retire only on the shard owning this service")

	return cmd
}
