package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/persistorai/topograph/internal/schema"
)

func newSchemaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Inspect and update the schema template",
	}

	cmd.AddCommand(newSchemaShowCmd())
	cmd.AddCommand(newSchemaApplyCmd())

	return cmd
}

func newSchemaShowCmd() *cobra.Command {
	var asYAML bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the realm trees and counters of the schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := schema.LoadFile(cfg.SchemaPath)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()

			switch {
			case asYAML:
				data, err := yaml.Marshal(s.Spec())
				if err != nil {
					return fmt.Errorf("encoding schema: %w", err)
				}

				_, err = out.Write(data)

				return err
			case flagFmt == "json":
				return formatJSON(out, s.Spec())
			}

			fmt.Fprintf(out, "schema version %d\n", s.Version())

			for _, line := range s.Describe() {
				fmt.Fprintln(out, line)
			}

			return nil
		},
	}

	cmd.Flags().BoolVar(&asYAML, "yaml", false, "Print the schema template file form")

	return cmd
}

func newSchemaApplyCmd() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "apply <updates.yaml>",
		Short: "Append or delete counters and save the new schema version",
		Long: `Apply a YAML list of counter updates to the schema template, in order.
Each entry has op (append|delete), realm, template, path and either counter
(append) or counterId (delete); append may add attributes for new path nodes.
Nothing is saved when any update fails.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("reading updates: %w", err)
			}

			updates, err := schema.ParseUpdates(raw)
			if err != nil {
				return err
			}

			s, err := schema.LoadFile(cfg.SchemaPath)
			if err != nil {
				return err
			}

			for _, u := range updates {
				next, err := schema.Apply(s, u)
				if err != nil {
					return fmt.Errorf("%s: %w", schema.Describe(u), err)
				}

				log.WithField("version", next.Version()).Info(schema.Describe(u))
				s = next
			}

			if dryRun {
				fmt.Fprintf(cmd.OutOrStdout(), "(dry run) %d updates valid, schema would be version %d\n", len(updates), s.Version())
				return nil
			}

			if err := s.WriteFile(cfg.SchemaPath); err != nil {
				return fmt.Errorf("saving schema: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "applied %d updates, schema version %d\n", len(updates), s.Version())

			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Validate the updates without saving")

	return cmd
}
