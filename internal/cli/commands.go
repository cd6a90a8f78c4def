package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"stocksync/internal/app"
	"stocksync/internal/service"
)

type runFunc func(ctx context.Context, a *app.App, out *OutputFormatter) error

// run opens the service, runs fn and reports failures through the formatter.
func (o *RootOptions) run(cmd *cobra.Command, fn runFunc) error {
	out := o.formatter(cmd)
	a, err := o.open(cmd)
	if err != nil {
		return out.Fail(asExitError("failed to open service", err))
	}
	defer a.Close()

	if err := fn(cmd.Context(), a, out); err != nil {
		return out.Fail(asExitError("command failed", err))
	}
	return nil
}

func asExitError(message string, err error) *ExitError {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr
	}
	return WrapExitError(message, err)
}

// NewMigrateCommand creates the migrate command. Opening the store applies
// the schema, so this reports the resulting table counts.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the central store schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.run(cmd, func(ctx context.Context, a *app.App, out *OutputFormatter) error {
				stats, err := a.Store.GetStats(ctx)
				if err != nil {
					return err
				}
				return out.Success(stats, func(w io.Writer) {
					fmt.Fprintf(w, "schema up to date (%s)\n", stats["dialect"])
					keys := make([]string, 0, len(stats))
					for k := range stats {
						if k != "dialect" {
							keys = append(keys, k)
						}
					}
					sort.Strings(keys)
					for _, k := range keys {
						fmt.Fprintf(w, "  %-24s %v\n", k, stats[k])
					}
				})
			})
		},
	}
}

// NewCatalogSyncCommand creates the catalog-sync command.
func NewCatalogSyncCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "catalog-sync <domain>",
		Short: "Import a replica's full catalog and stock levels",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.run(cmd, func(ctx context.Context, a *app.App, out *OutputFormatter) error {
				out.VerboseLog("syncing catalog of %s", args[0])
				res, err := a.Engine.CatalogSync(ctx, args[0])
				if err != nil {
					return err
				}
				return out.Success(res, func(w io.Writer) {
					fmt.Fprintf(w, "%s: %d variants, %d new products, %d location rows, %d skipped\n",
						res.Replica, res.Variants, res.Created, res.Rows, res.Skipped)
				})
			})
		},
	}
}

// NewBulkPushCommand creates the bulk-push command.
func NewBulkPushCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "bulk-push <domain>",
		Short: "Push central quantities of every mapped product to a replica",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.run(cmd, func(ctx context.Context, a *app.App, out *OutputFormatter) error {
				res, err := a.Engine.BulkPush(ctx, args[0])
				if err != nil {
					return err
				}
				if err := out.Success(res, func(w io.Writer) {
					fmt.Fprintf(w, "%s: %d products in %d batches, %d failed, %d skipped\n",
						res.Replica, res.Products, res.Batches, res.Failed, res.Skipped)
				}); err != nil {
					return err
				}
				if res.Failed > 0 {
					return &ExitError{Code: ExitFailure, Message: fmt.Sprintf("%d products failed to push", res.Failed)}
				}
				return nil
			})
		},
	}
}

// NewCleanupCommand creates the cleanup command.
func NewCleanupCommand(rootOpts *RootOptions) *cobra.Command {
	var retention time.Duration
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete processed ledger entries past retention",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.run(cmd, func(ctx context.Context, a *app.App, out *OutputFormatter) error {
				r := retention
				if r <= 0 {
					r = a.Config.Sync.LedgerRetention
				}
				n, err := a.Ledger.Cleanup(ctx, r)
				if err != nil {
					return err
				}
				return out.Success(map[string]any{"deleted": n, "retention": r.String()}, func(w io.Writer) {
					fmt.Fprintf(w, "deleted %d ledger entries older than %s\n", n, r)
				})
			})
		},
	}
	cmd.Flags().DurationVar(&retention, "retention", 0, "retention window (default SYNC_LEDGER_RETENTION)")
	return cmd
}

// NewConflictsCommand creates the conflicts command group.
func NewConflictsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "conflicts",
		Short: "Inspect and resolve inventory conflicts",
	}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List pending conflicts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.run(cmd, func(ctx context.Context, a *app.App, out *OutputFormatter) error {
				conflicts, err := a.Engine.Conflicts().Pending(ctx, limit)
				if err != nil {
					return err
				}
				return out.Success(conflicts, func(w io.Writer) {
					if len(conflicts) == 0 {
						fmt.Fprintln(w, "no pending conflicts")
						return
					}
					for _, c := range conflicts {
						fmt.Fprintf(w, "#%d product=%d replica=%d %s central=%d store=%d detected=%s\n",
							c.ID, c.ProductID, c.ReplicaID, c.Type, c.CentralValue, c.StoreValue,
							c.CreatedAt.Format(time.RFC3339))
					}
				})
			})
		},
	}
	list.Flags().IntVar(&limit, "limit", 50, "maximum conflicts to list")

	var actor string
	resolve := &cobra.Command{
		Use:   "resolve <id> <strategy>",
		Short: "Resolve a conflict (USE_LOWEST, USE_HIGHEST, USE_DATABASE, USE_STORE, AVERAGE)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.run(cmd, func(ctx context.Context, a *app.App, out *OutputFormatter) error {
				id, err := service.ParseID(args[0])
				if err != nil {
					return &ExitError{Code: ExitCommandError, Message: "invalid conflict id", Err: err}
				}
				c, err := a.Engine.Conflicts().Resolve(ctx, id, strings.ToUpper(args[1]), actor)
				if err != nil {
					return err
				}
				return out.Success(c, func(w io.Writer) {
					fmt.Fprintf(w, "conflict #%d resolved with %s\n", c.ID, c.Strategy)
				})
			})
		},
	}
	resolve.Flags().StringVar(&actor, "actor", "syncctl", "name recorded as the resolver")

	cmd.AddCommand(list, resolve)
	return cmd
}
