package main

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func main() {
	// Configure logger
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	if err := newRootCmd().Execute(); err != nil {
		log.Error().Err(err).Msg("livesync failed")
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "livesync",
		Short:         "Real-time call and assignment sync for the call-center console",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.String("port", "", "HTTP port for the dashboard surface (PORT)")
	flags.String("log-level", "", "log level (LOG_LEVEL)")
	flags.String("orchestrator-url", "", "voice orchestrator websocket URL (VOICE_ORCHESTRATOR_URL)")
	flags.String("api-url", "", "backend API base URL (API_BASE_URL)")
	flags.String("hospital", "", "hospital the console is bound to (HOSPITAL_ID)")

	root.AddCommand(newServeCmd(), newWatchCmd())
	return root
}

// setLogLevel applies the configured level globally, falling back to info
func setLogLevel(name string) {
	level, err := zerolog.ParseLevel(name)
	if err != nil || name == "" {
		log.Warn().Str("level", name).Msg("invalid log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}
