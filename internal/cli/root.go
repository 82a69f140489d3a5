package cli

import (
	"github.com/spf13/cobra"

	"github.com/stratus-io/stratus/internal/logging"
)

var (
	flagConfig      string
	flagState       string
	flagBackend     string
	flagBucket      string
	flagKey         string
	flagLockTable   string
	flagRegion      string
	flagParallelism int
	flagLogLevel    string
)

var rootCmd = &cobra.Command{
	Use:   "stratus",
	Short: "Dependency-aware infrastructure convergence",
	Long: `Stratus converges declared cloud resources against their remote state.

It resolves inter-resource references into a dependency graph, applies
independent resources in parallel, retries transient cloud API failures,
and isolates failures so unrelated resources still converge.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Init(flagLogLevel)
	},
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "stratus.json", "Path to the resource declaration file")
	rootCmd.PersistentFlags().StringVar(&flagState, "state", ".stratus/state.json", "Path to the local state file")
	rootCmd.PersistentFlags().StringVar(&flagBackend, "backend", "local", "State backend (local or s3)")
	rootCmd.PersistentFlags().StringVar(&flagBucket, "backend-bucket", "", "S3 bucket for remote state")
	rootCmd.PersistentFlags().StringVar(&flagKey, "backend-key", "stratus/state.json", "S3 object key for remote state")
	rootCmd.PersistentFlags().StringVar(&flagLockTable, "backend-lock-table", "", "DynamoDB table for state locking")
	rootCmd.PersistentFlags().StringVar(&flagRegion, "region", "", "AWS region override")
	rootCmd.PersistentFlags().IntVar(&flagParallelism, "parallelism", 0, "Maximum concurrent resource operations (0 uses the default)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(destroyCmd)
	rootCmd.AddCommand(graphCmd)
	rootCmd.AddCommand(stateCmd)
	rootCmd.AddCommand(versionCmd)
}
