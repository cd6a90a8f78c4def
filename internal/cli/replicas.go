package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"stocksync/internal/app"
	"stocksync/internal/model"
)

// ReplicaFile is the YAML document read by `replicas import`.
//
//	replicas:
//	  - domain: alpha.myshopify.com
//	    credential_ref: shpat_xxx
//	    sync_enabled: false
type ReplicaFile struct {
	Replicas []ReplicaEntry `yaml:"replicas"`
}

// ReplicaEntry describes one replica. Active and SyncEnabled default to true.
type ReplicaEntry struct {
	Domain        string `yaml:"domain"`
	CredentialRef string `yaml:"credential_ref"`
	Active        *bool  `yaml:"active"`
	SyncEnabled   *bool  `yaml:"sync_enabled"`
}

// ParseReplicaFile decodes and validates a replica file. Unknown keys are rejected.
func ParseReplicaFile(r io.Reader) (*ReplicaFile, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f ReplicaFile
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse replica file: %w", err)
	}

	seen := make(map[string]bool, len(f.Replicas))
	for i, e := range f.Replicas {
		domain := strings.ToLower(strings.TrimSpace(e.Domain))
		if domain == "" {
			return nil, fmt.Errorf("replica %d: domain is required", i+1)
		}
		if seen[domain] {
			return nil, fmt.Errorf("replica %d: duplicate domain %s", i+1, domain)
		}
		seen[domain] = true
		f.Replicas[i].Domain = domain
	}
	return &f, nil
}

func (e ReplicaEntry) replica() *model.StoreReplica {
	r := &model.StoreReplica{
		Domain:        e.Domain,
		CredentialRef: e.CredentialRef,
		Active:        true,
		SyncEnabled:   true,
	}
	if e.Active != nil {
		r.Active = *e.Active
	}
	if e.SyncEnabled != nil {
		r.SyncEnabled = *e.SyncEnabled
	}
	return r
}

// NewReplicasCommand creates the replicas command group.
func NewReplicasCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replicas",
		Short: "Manage the replica registry",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List registered replicas",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.run(cmd, func(ctx context.Context, a *app.App, out *OutputFormatter) error {
				replicas, err := a.Engine.Replicas(ctx)
				if err != nil {
					return err
				}
				return out.Success(replicas, func(w io.Writer) {
					for _, r := range replicas {
						fmt.Fprintf(w, "%-4d %-40s active=%t sync=%t\n", r.ID, r.Domain, r.Active, r.SyncEnabled)
					}
				})
			})
		},
	}

	importCmd := &cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Register or update replicas from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fh, err := os.Open(args[0])
			if err != nil {
				return rootOpts.formatter(cmd).Fail(&ExitError{Code: ExitCommandError, Message: "failed to open replica file", Err: err})
			}
			defer fh.Close()
			file, err := ParseReplicaFile(fh)
			if err != nil {
				return rootOpts.formatter(cmd).Fail(&ExitError{Code: ExitCommandError, Message: "invalid replica file", Err: err})
			}

			return rootOpts.run(cmd, func(ctx context.Context, a *app.App, out *OutputFormatter) error {
				imported := make([]model.StoreReplica, 0, len(file.Replicas))
				for _, e := range file.Replicas {
					r, err := a.Store.UpsertReplica(ctx, e.replica())
					if err != nil {
						return err
					}
					// Credentials may have changed with the import.
					a.Engine.Credentials().Forget(ctx, r.Domain)
					out.VerboseLog("imported %s", r.Domain)
					imported = append(imported, *r)
				}
				return out.Success(imported, func(w io.Writer) {
					fmt.Fprintf(w, "imported %d replicas\n", len(imported))
				})
			})
		},
	}

	toggle := func(use, short string, enabled bool) *cobra.Command {
		return &cobra.Command{
			Use:   use + " <domain>",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return rootOpts.run(cmd, func(ctx context.Context, a *app.App, out *OutputFormatter) error {
					r, err := a.Engine.SetReplicaSync(ctx, args[0], enabled)
					if err != nil {
						return err
					}
					return out.Success(r, func(w io.Writer) {
						fmt.Fprintf(w, "%s: active=%t sync=%t\n", r.Domain, r.Active, r.SyncEnabled)
					})
				})
			},
		}
	}

	cmd.AddCommand(list, importCmd,
		toggle("enable", "Resume propagation to a replica", true),
		toggle("disable", "Pause propagation to a replica", false))
	return cmd
}
