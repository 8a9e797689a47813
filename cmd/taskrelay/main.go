package main

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	flagLogLevel  string
	flagLogFormat string
)

func main() {
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", envOr("TASKRELAY_LOG_LEVEL", "info"), "zerolog level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&flagLogFormat, "log-format", envOr("TASKRELAY_LOG_FORMAT", "text"), "log output: json or text")

	rootCmd.PersistentPreRunE = setupLogging

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(tailCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("taskrelay failed")
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "taskrelay",
	Short:         "Run browser automation workers and relay their logs",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Run: func(cmd *cobra.Command, _ []string) {
		out := cmd.OutOrStdout()
		info, ok := debug.ReadBuildInfo()
		if !ok {
			fmt.Fprintln(out, "taskrelay: version info not available")
			return
		}

		fmt.Fprintf(out, "taskrelay: %s\n", info.Main.Version)
		fmt.Fprintf(out, "go:        %s\n", info.GoVersion)
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				fmt.Fprintf(out, "commit:    %s\n", s.Value)
			case "vcs.time":
				fmt.Fprintf(out, "date:      %s\n", s.Value)
			case "vcs.modified":
				fmt.Fprintf(out, "dirty:     %s\n", s.Value)
			}
		}
	},
}

// setupLogging configures the global zerolog logger. Logs go to stderr so
// record output of run and tail stays clean on stdout.
func setupLogging(_ *cobra.Command, _ []string) error {
	level, err := zerolog.ParseLevel(flagLogLevel)
	if err != nil {
		return fmt.Errorf("invalid --log-level %q: %w", flagLogLevel, err)
	}
	zerolog.SetGlobalLevel(level)

	switch flagLogFormat {
	case "text":
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	case "json":
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	default:
		return fmt.Errorf("invalid --log-format %q: want json or text", flagLogFormat)
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
