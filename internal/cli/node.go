package cli

import (
	"log/slog"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/mozilla-services/wimms/internal/store"
)

// NewAddNodeCommand registers a backend node for a service.
func NewAddNodeCommand(opts *RootOptions) *cobra.Command {
	var (
		available   int
		currentLoad int
		downed      bool
		backoff     bool
	)

	cmd := &cobra.Command{
		Use:   "add-node <service> <node> <capacity>",
		Short: "Register a backend node with its hard capacity",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			capacity, err := strconv.Atoi(args[2])
			if err != nil || capacity < 0 {
				return &badCapacityError{raw: args[2]}
			}

			dir, err := openDirectory(opts)
			if err != nil {
				return err
			}
			defer dir.Close()

			nodeOpts := &store.NodeOptions{
				CurrentLoad: currentLoad,
				Downed:      downed,
				Backoff:     backoff,
			}
			if cmd.Flags().Changed("available") {
				nodeOpts.Available = &available
			}

			if err := dir.AddNode(cmd.Context(), args[0], args[1], capacity, nodeOpts); err != nil {
				return err
			}
			slog.Info("node registered",
				"service", args[0], "node", args[1], "capacity", capacity)
			return nil
		},
	}

	cmd.Flags().IntVar(&available, "available", 0, "initial available slots (default: capacity)")
	cmd.Flags().IntVar(&currentLoad, "current-load", 0, "initial load")
	cmd.Flags().BoolVar(&downed, "downed", false, "register the node as downed")
	cmd.Flags().BoolVar(&backoff, "backoff", false, "register the node as backing off")

	return cmd
}

type badCapacityError struct {
	raw string
}

func (e *badCapacityError) Error() string {
	return "capacity must be a non-negative integer, got " + strconv.Quote(e.raw)
}
