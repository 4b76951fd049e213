package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
)

// NewAddServiceCommand registers a service name and URL pattern.
func NewAddServiceCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "add-service <service> <pattern>",
		Short: "Register a service and its URL pattern",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := openDirectory(opts)
			if err != nil {
				return err
			}
			defer dir.Close()

			id, err := dir.AddService(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			slog.Info("service registered", "service", args[0], "id", id)
			fmt.Fprintf(cmd.OutOrStdout(), "%d\n", id)
			return nil
		},
	}
}
