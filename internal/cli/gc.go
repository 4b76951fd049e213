package cli

import (
	"log/slog"
	"time"

	"github.com/spf13/cobra"
)

// NewGCCommand garbage-collects superseded user records for a service.
func NewGCCommand(opts *RootOptions) *cobra.Command {
	var (
		grace  time.Duration
		limit  int
		dryRun bool
	)

	cmd := &cobra.Command{
		Use:   "gc <service>",
		Short: "Delete user records superseded before the grace period",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			service := args[0]

			dir, err := openDirectory(opts)
			if err != nil {
				return err
			}
			defer dir.Close()

			records, err := dir.GetOldUserRecords(cmd.Context(), service, grace, limit)
			if err != nil {
				return err
			}
			slog.Info("superseded records found",
				"service", service, "count", len(records))

			if dryRun {
				return nil
			}

			deleted := 0
			for _, rec := range records {
				if err := dir.DeleteUserRecord(cmd.Context(), service, rec.UID); err != nil {
					slog.Error("delete failed",
						"service", service, "uid", rec.UID, "error", err)
					return err
				}
				deleted++
			}
			slog.Info("garbage collection done",
				"service", service, "deleted", deleted)
			return nil
		},
	}

	cmd.Flags().DurationVar(&grace, "grace", -1, "grace period (negative: one week default)")
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum records per run")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "list without deleting")

	return cmd
}
