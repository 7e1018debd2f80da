package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/persistorai/topograph/internal/config"
	"github.com/persistorai/topograph/internal/db"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending store migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			t := configuredTarget()

			if t.Backend == config.BackendMemory {
				fmt.Fprintln(cmd.OutOrStdout(), "memory backend has nothing to migrate")
				return nil
			}

			st, err := openStore(cmd.Context(), t)
			if err != nil {
				return fmt.Errorf("migrating %s: %w", t, err)
			}
			defer st.Close()

			version, err := db.SchemaVersion(t.Backend)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s store at schema version %d\n", t, version)

			return nil
		},
	}
}
