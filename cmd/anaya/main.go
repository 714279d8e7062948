// Command anaya runs the Anaya companion: an interactive terminal
// conversation, a WebSocket front end, and a knowledge-base ingest
// tool, all wired from one YAML config.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Global flags
	verbose bool
	cfgPath string

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "anaya",
	Short: "Anaya - an emotionally intelligent mental wellness companion",
	Long: `Anaya holds supportive, structured conversations: every message is
screened for crisis language first, then planned, answered by a small
set of specialists, and remembered across sessions.

Run without arguments to start an interactive conversation.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Conversations share the terminal with the user, so they get
		// a silent logger unless verbose logging is asked for.
		if isChat(cmd) && !verbose {
			logger = zap.NewNop()
			return nil
		}

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
		// Default behavior: talk.
		return runChat(cmd, args)
	},
}

func isChat(cmd *cobra.Command) bool {
	return cmd.Name() == "chat" || cmd.Name() == "anaya"
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "anaya.yaml", "Path to the YAML config file")

	// Chat flags
	chatCmd.Flags().StringVarP(&chatUser, "user", "u", "local", "User the conversation belongs to")

	// Add commands to root
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(ingestCmd)
}

func main() {
	// Pick up ANTHROPIC_API_KEY and friends from a local .env when
	// present; system env vars still win.
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
