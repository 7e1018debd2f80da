// Command topograph loads network inventory CSV batches into a topology
// graph, exports lineage snapshots and maintains the schema template.
package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/persistorai/topograph/internal/config"
	"github.com/persistorai/topograph/internal/logging"
)

// Build-time variables set via ldflags.
var (
	commit    = ""
	buildDate = ""
)

var (
	cfg     *config.Config
	log     *logrus.Logger
	flagFmt string
	// flagSchema overrides SCHEMA_PATH.
	flagSchema string

	metricsSrv *http.Server
)

func versionString() string {
	if commit != "" && buildDate != "" {
		return fmt.Sprintf("topograph version %s (commit: %s, built: %s)", config.Version, commit, buildDate)
	}

	return fmt.Sprintf("topograph version %s", config.Version)
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "topograph",
		Short:        "Schema-driven network topology loader and exporter",
		Version:      versionString(),
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			return stopMetrics(cmd.Context())
		},
	}
	root.SetVersionTemplate("{{.Version}}\n")

	root.PersistentFlags().StringVar(&flagFmt, "format", "table", "Output format: table|json")
	root.PersistentFlags().StringVar(&flagSchema, "schema", "", "Schema template file (env: SCHEMA_PATH)")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		// No configuration needed.
		PersistentPreRunE:  func(*cobra.Command, []string) error { return nil },
		PersistentPostRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), versionString())
		},
	}

	root.AddCommand(versionCmd)
	root.AddCommand(newMigrateCmd())
	root.AddCommand(newLoadCmd())
	root.AddCommand(newDeleteCmd())
	root.AddCommand(newExportCmd())
	root.AddCommand(newSchemaCmd())
	root.AddCommand(newCopyCmd())

	return root
}

// setup loads the configuration, builds the logger and starts the metrics
// listener when METRICS_ADDR is set.
func setup(cmd *cobra.Command) error {
	// cobra checks required flags after the persistent hooks; report a
	// missing flag before touching config or the metrics listener.
	if err := cmd.ValidateRequiredFlags(); err != nil {
		return err
	}

	c, err := config.Load()
	if err != nil {
		return err
	}

	if flagSchema != "" {
		c.SchemaPath = flagSchema
	}

	if flagFmt != "table" && flagFmt != "json" {
		return fmt.Errorf("--format must be table or json, got %q", flagFmt)
	}

	l, err := logging.New(cmd.ErrOrStderr(), c.LogLevel, c.LogFormat)
	if err != nil {
		return err
	}

	cfg, log = c, l

	return startMetrics(c.MetricsAddr)
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
