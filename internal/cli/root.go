// Package cli implements syncctl, the operator command line for the sync service.
package cli

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"stocksync/internal/app"
	"stocksync/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"

	// Load reads configuration; tests replace it.
	Load func() (*config.Config, error)
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for syncctl.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{Load: config.Load}

	cmd := &cobra.Command{
		Use:   "syncctl",
		Short: "Operate the inventory sync service",
		Long:  "Maintenance commands for the multi-replica inventory sync service: migrations, replica registry, catalog sync, bulk push, ledger cleanup and conflicts.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewReplicasCommand(opts))
	cmd.AddCommand(NewCatalogSyncCommand(opts))
	cmd.AddCommand(NewBulkPushCommand(opts))
	cmd.AddCommand(NewCleanupCommand(opts))
	cmd.AddCommand(NewConflictsCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// open loads configuration and wires the service. Logs go to stderr so
// JSON output stays parseable.
func (o *RootOptions) open(cmd *cobra.Command) (*app.App, error) {
	load := o.Load
	if load == nil {
		load = config.Load
	}
	cfg, err := load()
	if err != nil {
		return nil, &ExitError{Code: ExitCommandError, Message: "failed to load configuration", Err: err}
	}
	app.ConfigureLogging(cfg.App)
	log.SetOutput(cmd.ErrOrStderr())
	if !o.Verbose && !cfg.App.Debug {
		log.SetLevel(log.WarnLevel)
	}

	a, err := app.New(cfg)
	if err != nil {
		return nil, &ExitError{Code: ExitFailure, Message: "failed to initialize", Err: err}
	}
	return a, nil
}
