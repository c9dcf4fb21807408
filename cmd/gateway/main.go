// Command gateway runs the agent gateway and supervisor server, or one of
// its operational subcommands (migrate, policy-lint). Grounded on the
// teacher's cmd/tarsy/main.go flag/flow shape, restructured into cobra
// subcommands the way cuemby-warren's cmd/warren organizes server/ops
// commands under one root binary.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Agent Gateway & Supervisor",
	Long: `gateway runs the session gateway, task router, worker supervisor,
and cluster coordinator described by the agent gateway specification:
policy-gated tool dispatch, capability tokens, LLM failover, and
multi-node leader election over a shared PostgreSQL database.`,
}

func init() {
	rootCmd.PersistentFlags().String("config-dir", getEnv("CONFIG_DIR", "./deploy/config"), "Path to configuration directory")
	rootCmd.PersistentFlags().String("log-level", getEnv("LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(policyLintCmd)
}

func initLogging() {
	level := parseLogLevel(mustFlagString(rootCmd, "log-level"))
	asJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if asJSON {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func parseLogLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}

func mustFlagString(cmd *cobra.Command, name string) string {
	v, _ := cmd.PersistentFlags().GetString(name)
	return v
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
