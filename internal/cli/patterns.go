package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewPatternsCommand lists every service URL pattern across all shards.
func NewPatternsCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "patterns",
		Short: "List service URL patterns from every shard",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := openDirectory(opts)
			if err != nil {
				return err
			}
			defer dir.Close()

			patterns, err := dir.GetPatterns(cmd.Context())
			if err != nil {
				return err
			}
			for _, p := range patterns {
				fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\t%s\n", p.ID, p.Service, p.Pattern)
			}
			return nil
		},
	}
}
