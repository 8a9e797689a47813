package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	v1 "github.com/gosuda/taskrelay/internal/api/v1"
	"github.com/gosuda/taskrelay/internal/api/ws"
	"github.com/gosuda/taskrelay/internal/automation"
	"github.com/gosuda/taskrelay/internal/config"
	"github.com/gosuda/taskrelay/internal/docparse"
	"github.com/gosuda/taskrelay/internal/launcher"
	"github.com/gosuda/taskrelay/internal/messenger/slack"
	"github.com/gosuda/taskrelay/internal/notify"
	"github.com/gosuda/taskrelay/internal/server"
	"github.com/gosuda/taskrelay/internal/session"
	redisstore "github.com/gosuda/taskrelay/internal/store/redis"
	"github.com/gosuda/taskrelay/internal/stream"
)

const (
	shutdownTimeout      = 15 * time.Second
	mirrorPublishTimeout = 2 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and worker launcher",
	RunE:  doServe,
}

// workerLauncher is a launcher that owns running workers until shutdown.
type workerLauncher interface {
	launcher.Launcher
	Shutdown(ctx context.Context) error
}

func doServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if !cmd.Flags().Changed("log-level") && os.Getenv("TASKRELAY_LOG_LEVEL") == "" {
		flagLogLevel = cfg.Log.Level
	}
	if !cmd.Flags().Changed("log-format") && os.Getenv("TASKRELAY_LOG_FORMAT") == "" {
		flagLogFormat = cfg.Log.Format
	}
	if err := setupLogging(cmd, nil); err != nil {
		return err
	}

	// Graceful shutdown on SIGINT / SIGTERM.
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store := session.NewStore()
	reaper := session.NewReaper(store, cfg.Session.MaxLifetime, cfg.Session.Grace)
	defer reaper.Stop()

	publisher := stream.NewPublisher(store, reaper, stream.Options{
		PollInterval: cfg.Session.PollInterval,
		MaxDuration:  cfg.Session.MaxLifetime,
	})

	deps := server.Deps{Streams: publisher}

	if cfg.RedisEnabled() {
		pubsub, redisErr := redisstore.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if redisErr != nil {
			return redisErr
		}
		defer pubsub.Close()

		mirror := redisstore.NewMirror(pubsub, mirrorPublishTimeout)
		store.OnAppend(mirror.OnAppend)
		reaper.OnAbandon(mirror.OnAbandon)
		deps.Relay = ws.ChannelSubscriber(pubsub)
		deps.Checks = map[string]server.Pinger{"redis": pubsub}
		log.Info().Str("addr", cfg.Redis.Addr).Msg("redis mirror enabled")
	}

	if cfg.SlackEnabled() {
		messengers := notify.NewRegistry()
		messengers.Register(slack.NewSlackMessenger(slack.NewClient(cfg.Slack.BotToken)))

		notifier := notify.New(messengers, store, []notify.Target{{Platform: "slack", ChannelID: cfg.Slack.ChannelID}})
		store.OnAppend(notifier.OnAppend)
		reaper.OnAbandon(notifier.OnAbandon)
		defer notifier.Wait()
		log.Info().Strs("platforms", messengers.Platforms()).Str("channel", cfg.Slack.ChannelID).Msg("outcome notifications enabled")
	}

	workers, err := newLauncher(cfg, store)
	if err != nil {
		return err
	}

	registry := automation.NewRegistry()
	automation.RegisterBuiltins(registry)
	deps.Automations = automation.NewOrchestrator(registry, store, reaper, workers, automation.Config{
		Interpreter: cfg.Worker.Python,
		ScriptDir:   cfg.Worker.ScriptDir,
		WorkDir:     cfg.Worker.WorkDir,
		Credentials: automation.Credentials{LawmaticsPassword: cfg.Worker.LawmaticsPassword},
	})

	if cfg.Anthropic.APIKey != "" {
		parser, parseErr := docparse.NewFromAPIKey(cfg.Anthropic.APIKey, cfg.Anthropic.Model)
		if parseErr != nil {
			return parseErr
		}
		deps.Documents = v1.DocumentParser(parser)
	}

	srv := server.New(ctx, cfg, deps)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()

		return errors.Join(
			srv.Shutdown(shutdownCtx),
			workers.Shutdown(shutdownCtx),
		)
	})

	if err := g.Wait(); err != nil {
		return err
	}

	log.Info().Msg("stopped")
	return nil
}

func newLauncher(cfg *config.Config, store *session.Store) (workerLauncher, error) {
	switch cfg.Worker.Launcher {
	case config.LauncherDocker:
		scriptDir, err := filepath.Abs(cfg.Worker.ScriptDir)
		if err != nil {
			return nil, fmt.Errorf("resolve script dir: %w", err)
		}
		cfg.Worker.ScriptDir = scriptDir

		dockerClient, err := launcher.NewDockerClient(cfg.Docker.Host)
		if err != nil {
			return nil, err
		}
		dl, err := launcher.NewDockerLauncher(dockerClient, store, launcher.DockerOptions{
			Image:       cfg.Docker.Image,
			CPULimit:    cfg.Docker.CPULimit,
			MemLimit:    cfg.Docker.MemLimit,
			NetworkMode: cfg.Docker.NetworkMode,
			ScriptDir:   scriptDir,
		})
		if err != nil {
			_ = dockerClient.Close()
			return nil, err
		}
		log.Info().Str("image", cfg.Docker.Image).Msg("docker launcher enabled")
		return dl, nil
	default:
		return launcher.NewProcessLauncher(store, cfg.Worker.StopGrace), nil
	}
}
