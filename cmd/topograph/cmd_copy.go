package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/persistorai/topograph/internal/graph"
	"github.com/persistorai/topograph/internal/models"
)

func newCopyCmd() *cobra.Command {
	var (
		to     target
		dryRun bool
	)

	cmd := &cobra.Command{
		Use:   "copy",
		Short: "Copy the topology graph into another, empty store",
		Long: `Copy every element and planet with their properties and relationships from
the configured store into the store named by the --to-* flags, e.g. to move
a SQLite working graph into PostgreSQL. The copy is one transaction on the
target and refuses a target that already holds elements.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			from := configuredTarget()

			to.MaxConns = cfg.DBMaxConns
			if from == to {
				return fmt.Errorf("source and target are the same store")
			}

			src, err := openStore(ctx, from)
			if err != nil {
				return fmt.Errorf("opening source %s: %w", from, err)
			}
			defer src.Close()

			dst, err := openStore(ctx, to)
			if err != nil {
				return fmt.Errorf("opening target %s: %w", to, err)
			}
			defer dst.Close()

			r, err := graph.Copy(ctx, src, dst, []string{models.LabelElement, models.LabelPlanet}, dryRun, log)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()

			if flagFmt == "json" {
				return formatJSON(out, r)
			}

			prefix := ""
			if dryRun {
				prefix = "(dry run) "
			}

			fmt.Fprintf(out, "%s%s -> %s: %d nodes, %d relationships read\n", prefix, from, to, r.NodesRead, r.RelsRead)

			if !dryRun {
				fmt.Fprintf(out, "copied %d nodes (%d verified), %d relationships\n", r.NodesCopied, r.NodesVerified, r.RelsCopied)
			}

			if len(r.RelsSkipped) > 0 {
				rows := make([][]string, 0, len(r.RelsSkipped))
				for _, s := range r.RelsSkipped {
					rows = append(rows, []string{s.Type, s.Start, s.End, s.Reason})
				}

				formatTable(out, []string{"TYPE", "START", "END", "REASON"}, rows)
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&to.Backend, "to-backend", "", "Target backend: postgres|sqlite|memory")
	cmd.Flags().StringVar(&to.DatabaseURL, "to-url", "", "Target PostgreSQL URL")
	cmd.Flags().StringVar(&to.SQLitePath, "to-path", "", "Target SQLite file")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Read the source without writing the target")
	_ = cmd.MarkFlagRequired("to-backend")

	return cmd
}
