package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/KafClaw/roadmap/internal/artifact"
	"github.com/KafClaw/roadmap/internal/fault"
	"github.com/KafClaw/roadmap/internal/reconcile"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Reconcile tracked files, functions and call edges with a source tree or manifest",
	Args:  cobra.NoArgs,
	RunE:  runSync,
}

func init() {
	syncCmd.Flags().String("manifest", "", "YAML or JSON artifact manifest")
	syncCmd.Flags().String("dir", "", "Source tree to scan (default paths.workspace)")
	syncCmd.Flags().String("orphans", "", "soft or hard (default sync.orphanPolicy)")
	syncCmd.Flags().Bool("dry-run", false, "Show the diff without writing")
	syncCmd.Flags().String("export", "", "Also write the scanned artifacts to this manifest file")
	rootCmd.AddCommand(syncCmd)
}

type syncResult struct {
	Diff   reconcile.Diff    `json:"diff"`
	Report *reconcile.Report `json:"report"`
}

func runSync(cmd *cobra.Command, args []string) error {
	manifest, _ := cmd.Flags().GetString("manifest")
	dir, _ := cmd.Flags().GetString("dir")
	orphans, _ := cmd.Flags().GetString("orphans")
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	export, _ := cmd.Flags().GetString("export")
	manifest, dir = strings.TrimSpace(manifest), strings.TrimSpace(dir)
	if manifest != "" && dir != "" {
		return fault.New(fault.InvalidArgument, "use either --manifest or --dir, not both")
	}

	return withApp(cmd, func(ctx context.Context, a *app) error {
		fromConfig := orphans == ""
		if fromConfig {
			orphans = a.cfg.Sync.OrphanPolicy
		}
		policy, err := reconcile.ParseOrphanPolicy(orphans)
		if err != nil {
			return err
		}

		var arts []reconcile.Artifact
		switch {
		case manifest != "":
			if arts, err = artifact.LoadManifest(manifest); err != nil {
				return fault.Wrap(fault.InvalidArgument, err, "bad manifest")
			}
		default:
			if dir == "" {
				dir = a.cfg.Paths.Workspace
			}
			if dir == "" {
				return fault.New(fault.InvalidArgument, "nothing to sync: pass --manifest or --dir, or set paths.workspace")
			}
			arts, err = artifact.Scan(dir, artifact.ScanOptions{
				Extensions: a.cfg.Sync.Extensions,
				SkipDirs:   a.cfg.Sync.SkipDirs,
			})
			if err != nil {
				return err
			}
		}
		if export != "" {
			if err := artifact.SaveManifest(export, arts); err != nil {
				return err
			}
		}
		a.log.Info("sync starting", "artifacts", len(arts), "orphans", string(policy), "dry_run", dryRun)

		diff, rep, err := a.engine.Run(ctx, arts, reconcile.RunOptions{Orphans: policy, DryRun: dryRun, OrphansFromConfig: fromConfig})
		if err != nil {
			return err
		}
		return emit(cmd.OutOrStdout(), syncResult{Diff: diff, Report: rep}, func(w io.Writer) {
			printSync(w, diff, rep)
		})
	})
}

func printSync(w io.Writer, d reconcile.Diff, rep *reconcile.Report) {
	if rep.DryRun {
		printHeader(w, "Sync preview (nothing written)")
	} else {
		printHeader(w, "Sync applied")
	}
	for _, c := range d.Changes {
		fmt.Fprintf(w, "  %-8s %s  (%d function ops, %d edge ops)\n", c.Kind, c.Path, len(c.Functions), len(c.Edges))
	}
	if d.Empty() {
		fmt.Fprintln(w, "  no changes")
	}
	for _, warn := range rep.Warnings {
		fmt.Fprintf(w, "  %s %s\n", severityStyle("warning"), warn)
	}
	fmt.Fprintln(w, rep.Summary())
}
