package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Global flags
	verbose   bool
	workspace string
	actor     string
	sessionID string
	timeout   time.Duration

	// Logger for the command layer; the internals use the categorized
	// file logger instead.
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "synapse",
	Short: "synapse - a conversational brain with durable memory",
	Long: `synapse is a conversational agent core: every turn is resolved through
a streaming tool loop, archived into a synchronized record + semantic
store pair, and recalled in later turns by similarity search.

Run without arguments to start the interactive chat.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config := zap.NewProductionConfig()
		if verbose {
			config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = config.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChat()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", ".", "workspace root (holds .synapse/)")
	rootCmd.PersistentFlags().StringVar(&actor, "actor", "", "actor id for this invocation (default: primary operator)")
	rootCmd.PersistentFlags().StringVar(&sessionID, "session", "cli", "session id to converse in")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Minute, "per-turn timeout")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(memoryCmd)
	rootCmd.AddCommand(reindexCmd)
	rootCmd.AddCommand(saveStateCmd)
	rootCmd.AddCommand(loadStateCmd)

	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsTruncateCmd)
	memoryCmd.AddCommand(memorySearchCmd)
	memoryCmd.AddCommand(memorySaveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
