package cli

import (
	"github.com/spf13/cobra"

	"github.com/reconcilr-io/reconcilr/internal/logging"
)

var (
	flagFile      string
	flagLogLevel  string
	flagLogFormat string
)

var rootCmd = &cobra.Command{
	Use:   "reconcilr",
	Short: "Declarative resource lifecycle reconciliation",
	Long: `Reconcilr converges external resources onto a declared deployment file.

It compares the deployment against the persisted state snapshot, plans the
minimal set of create/update/replace/delete operations, and applies them
through idempotent provider controllers.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Init(flagLogLevel, flagLogFormat)
	},
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagFile, "file", "f", "reconcilr.yaml", "Deployment file")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&flagLogFormat, "log-format", "text", "Log format (text, json)")

	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(previewCmd)
	rootCmd.AddCommand(upCmd)
	rootCmd.AddCommand(destroyCmd)
	rootCmd.AddCommand(versionCmd)
}
