// Package cli implements the wimms administrative command line:
// service and node registration, pattern listing, garbage collection
// and identity retirement against one or many physical databases.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	_ "github.com/go-sql-driver/mysql"
	"github.com/spf13/cobra"

	"github.com/mozilla-services/wimms/internal/config"
	"github.com/mozilla-services/wimms/internal/sharded"
	"github.com/mozilla-services/wimms/internal/store"
)

// RootOptions holds global flags shared by all commands.
type RootOptions struct {
	// Config is the path to a YAML configuration file.
	Config string

	// Databases is the compact spec: a single connection URI or
	// comma-separated "service;uri" pairs. Ignored when Config is set.
	Databases string

	// CreateTables provisions tables before running the command.
	CreateTables bool

	// Verbose switches logging to debug level.
	Verbose bool
}

// NewRootCommand creates the root command for the wimms CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "wimms",
		Short: "wimms - node-assignment directory administration",
		Long: "Administer the node-assignment directory: register services and\n" +
			"nodes, list URL patterns, garbage-collect superseded user records\n" +
			"and retire identities.",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelInfo
			if opts.Verbose {
				level = slog.LevelDebug
			}
			handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
				Level: level,
			})
			slog.SetDefault(slog.New(handler))
		},
	}

	cmd.PersistentFlags().StringVar(&opts.Config, "config", "", "path to YAML configuration file")
	cmd.PersistentFlags().StringVar(&opts.Databases, "databases", "", "connection URI or service;uri,... shard spec")
	cmd.PersistentFlags().BoolVar(&opts.CreateTables, "create-tables", false, "provision tables before running")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")

	cmd.AddCommand(NewAddServiceCommand(opts))
	cmd.AddCommand(NewAddNodeCommand(opts))
	cmd.AddCommand(NewPatternsCommand(opts))
	cmd.AddCommand(NewGCCommand(opts))
	cmd.AddCommand(NewRetireCommand(opts))

	return cmd
}

// openDirectory opens every configured physical database and wires the
// sharded routing layer over them.
func openDirectory(opts *RootOptions) (*sharded.Store, error) {
	var (
		cfg *config.Config
		err error
	)
	switch {
	case opts.Config != "":
		cfg, err = config.Load(opts.Config)
		if err != nil {
			return nil, err
		}
	case opts.Databases != "":
		cfg = &config.Config{}
		cfg.Databases, err = config.ParseShardSpec(opts.Databases)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("no databases configured: pass --config or --databases")
	}

	if opts.CreateTables {
		cfg.CreateTables = true
	}

	var shards []sharded.ShardConfig
	for _, db := range cfg.Databases {
		sc, err := cfg.StoreConfig(db)
		if err != nil {
			closeShards(shards)
			return nil, err
		}
		st, err := store.Open(sc)
		if err != nil {
			closeShards(shards)
			return nil, fmt.Errorf("open shard %q: %w", db.Service, err)
		}
		slog.Debug("shard opened", "service", db.Service, "dialect", st.Dialect())
		shards = append(shards, sharded.ShardConfig{Service: db.Service, Store: st})
	}

	dir, err := sharded.New(shards)
	if err != nil {
		closeShards(shards)
		return nil, err
	}
	return dir, nil
}

func closeShards(shards []sharded.ShardConfig) {
	for _, sc := range shards {
		if err := sc.Store.Close(); err != nil {
			slog.Error("error closing shard", "service", sc.Service, "error", err)
		}
	}
}
