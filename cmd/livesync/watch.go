package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/dennisdiepolder/monti/livesync/internal/aggregator"
	"github.com/dennisdiepolder/monti/livesync/internal/auth"
	"github.com/dennisdiepolder/monti/livesync/internal/config"
	"github.com/dennisdiepolder/monti/livesync/internal/event"
	"github.com/dennisdiepolder/monti/livesync/internal/transport"
	"github.com/dennisdiepolder/monti/livesync/internal/types"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Connect to the voice orchestrator and log every event",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}
			setLogLevel(cfg.LogLevel)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return watch(ctx, cfg)
		},
	}
}

func watch(ctx context.Context, cfg *config.Config) error {
	logger := log.Logger.With().Str("component", "watch").Logger()

	var tokens auth.TokenSource
	if cfg.APIToken != "" {
		tokens = auth.StaticToken(cfg.APIToken)
	}

	router := event.NewRouter(log.Logger)
	counter := aggregator.NewLiveCounter(log.Logger)
	counter.Attach(router)
	counter.OnChange(func(n int) {
		logger.Info().Int("live_calls", n).Msg("live count changed")
	})

	router.OnTypes(types.InboundEventTypes, func(evt types.Event) error {
		e := logger.Info().Str("type", string(evt.Type))
		if len(evt.Payload) > 0 {
			e = e.RawJSON("payload", evt.Payload)
		}
		e.Msg("event")
		return nil
	})

	link := transport.New(transport.Options{
		URL: cfg.OrchestratorURL,
		Backoff: transport.Backoff{
			Base:        cfg.ReconnectBaseDelay,
			Max:         cfg.ReconnectMaxDelay,
			MaxAttempts: cfg.MaxReconnectAttempts,
		},
		Tokens: tokens,
	}, router, log.Logger)

	link.Connect(ctx)
	<-ctx.Done()
	link.Disconnect()

	status := link.Status()
	logger.Info().Str("state", status.State).Int("live_calls", counter.Count()).Msg("watch stopped")
	return nil
}
