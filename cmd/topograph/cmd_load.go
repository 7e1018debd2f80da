package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/persistorai/topograph/internal/loader"
)

func newLoadCmd() *cobra.Command {
	return newBatchCmd("load <file.csv>", "Upsert the elements of a CSV batch", false)
}

func newDeleteCmd() *cobra.Command {
	return newBatchCmd("delete <file.csv>", "Delete the elements a CSV batch identifies", true)
}

func newBatchCmd(use, short string, deleteMode bool) *cobra.Command {
	var (
		abortOnError bool
		actor        string
	)

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Long: short + `.

The first row holds header tokens (e.g. neType:cpe.tag, neType:cpe.site).
The batch runs in one transaction; use - to read stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			in, err := openInput(args[0])
			if err != nil {
				return err
			}
			defer in.Close()

			headers, rows, err := readBatch(in)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}

			svc, st, err := newService(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			opts := loader.Options{
				Delete:       deleteMode,
				AbortOnError: abortOnError || cfg.AbortOnError,
				Actor:        cfg.LoadActor,
			}

			if actor != "" {
				opts.Actor = actor
			}

			res, err := svc.LoadBatch(ctx, headers, rows, opts)
			if err != nil {
				return err
			}

			if err := printLoadResult(cmd.OutOrStdout(), flagFmt, summarise(len(rows), res)); err != nil {
				return err
			}

			if n := len(res.ErrorLines); n > 0 {
				return fmt.Errorf("%d row(s) failed", n)
			}

			return nil
		},
	}

	cmd.Flags().BoolVar(&abortOnError, "abort-on-error", false, "Roll back the batch on the first row error (env: ABORT_ON_ERROR)")
	cmd.Flags().StringVar(&actor, "actor", "", "Actor recorded in audit properties (env: LOAD_ACTOR)")

	return cmd
}
