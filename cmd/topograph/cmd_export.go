package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/persistorai/topograph/internal/lineage"
	"github.com/persistorai/topograph/internal/models"
)

func newExportCmd() *cobra.Command {
	var (
		order      string
		leaf       string
		outputPath string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export lineage snapshots as CSV",
		Long: `Walk every leaf element up its PARENT and link relationships and write one
CSV row per lineage. Rows sort by the --order element types; a missing
element sorts first. The header row uses loader tokens, so the file can be
loaded back with 'topograph load'.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			ordering, err := parseOrdering(order)
			if err != nil {
				return err
			}

			var pred lineage.LeafPredicate

			if leaf != "" {
				key, err := models.ParseElementKey(leaf)
				if err != nil {
					return fmt.Errorf("--leaf: %w", err)
				}

				pred = lineage.OfType(key)
			}

			svc, st, err := newService(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			snap, err := svc.ExportSnapshot(ctx, ordering, pred)
			if err != nil {
				return err
			}

			var out io.Writer = cmd.OutOrStdout()

			if outputPath != "-" {
				f, err := os.OpenFile(outputPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600) //nolint:gosec // operator-supplied path.
				if err != nil {
					return fmt.Errorf("creating export file: %w", err)
				}
				defer f.Close()

				out = f
			}

			if err := writeSnapshot(out, snap); err != nil {
				return err
			}

			if outputPath != "-" {
				fmt.Fprintf(cmd.ErrOrStderr(), "Exported %d lineages to %s\n", len(snap.Rows), outputPath)
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&order, "order", "", "Comma-separated element types rows sort by, e.g. cluster:site,neType:cpe")
	cmd.Flags().StringVar(&leaf, "leaf", "", "Start lineages from elements of this type (default: elements without children)")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "-", "Output file path (- for stdout)")
	_ = cmd.MarkFlagRequired("order")

	return cmd
}

// parseOrdering parses a comma-separated list of element-type keys.
func parseOrdering(s string) (lineage.Ordering, error) {
	var o lineage.Ordering

	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		key, err := models.ParseElementKey(part)
		if err != nil {
			return nil, fmt.Errorf("--order: %w", err)
		}

		o = append(o, key)
	}

	if len(o) == 0 {
		return nil, fmt.Errorf("--order: at least one element type is required")
	}

	return o, nil
}
