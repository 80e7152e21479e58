package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/MrWong99/podbot/internal/app"
	"github.com/MrWong99/podbot/internal/config"
	discordbot "github.com/MrWong99/podbot/internal/discord"
	"github.com/MrWong99/podbot/internal/health"
	"github.com/MrWong99/podbot/internal/observe"
	"github.com/MrWong99/podbot/pkg/audio"
)

const (
	readyTimeout    = 30 * time.Second
	shutdownTimeout = 15 * time.Second
)

func newRecordCommand(ctx *commandContext) *cobra.Command {
	var channel string

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Join a voice channel and capture every speaker until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := config.ValidateRecording(cfg); err != nil {
				return err
			}
			return runRecord(cmd.Context(), ctx, cfg, channel, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&channel, "channel", "", "Voice channel ID to record")
	_ = cmd.MarkFlagRequired("channel")
	return cmd
}

func runRecord(parent context.Context, cc *commandContext, cfg *config.Config, channel string, out io.Writer) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	stopTelemetry, err := startTelemetry(ctx, cfg, "record", prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}
	defer stopTelemetry()

	if err := os.MkdirAll(cfg.Capture.Directory, 0o755); err != nil {
		return fmt.Errorf("create capture directory: %w", err)
	}

	// ── Config watcher ────────────────────────────────────────────────────────
	if cc.configPath != "" {
		w, err := config.NewWatcher(cc.configPath, func(d config.ConfigDiff, _ *config.Config) {
			if d.LogLevelChanged {
				cc.level.Set(slogLevel(d.NewLogLevel))
				slog.Info("log level changed", "level", d.NewLogLevel)
			}
			if len(d.RestartRequired) > 0 {
				slog.Warn("config changes take effect on the next recording", "fields", d.RestartRequired)
			}
		})
		if err != nil {
			slog.Warn("config watcher disabled", "err", err)
		} else {
			go w.Run(ctx)
		}
	}

	// ── Discord ───────────────────────────────────────────────────────────────
	bot, err := discordbot.New(ctx, discordbot.Config{
		Token:   cfg.Discord.Token,
		GuildID: cfg.Discord.GuildID,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := bot.Close(); err != nil {
			slog.Warn("discord bot close error", "err", err)
		}
	}()
	readyCtx, cancel := context.WithTimeout(ctx, readyTimeout)
	err = bot.WaitReady(readyCtx)
	cancel()
	if err != nil {
		return err
	}

	// ── Health and metrics endpoint ───────────────────────────────────────────
	if cfg.Server.ListenAddr != "" {
		srv := newObservabilityServer(cfg, bot.Ready)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("observability server error", "err", err)
			}
		}()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
		slog.Info("observability endpoint listening", "addr", cfg.Server.ListenAddr)
	}

	// ── Recording ─────────────────────────────────────────────────────────────
	rec := app.NewRecorder(app.RecorderConfig{
		Joiner: app.JoinFunc(func(ctx context.Context, channelID string) (audio.Source, error) {
			r, err := bot.Join(ctx, channelID)
			if err != nil {
				return nil, err
			}
			return r, nil
		}),
		Directory: cfg.Capture.Directory,
		Reconnect: app.ReconnectPolicy{
			MaxRetries: cfg.Capture.Reconnect.MaxRetries,
			Backoff:    cfg.Capture.Reconnect.Backoff,
			MaxBackoff: cfg.Capture.Reconnect.MaxBackoff,
		},
	})
	sess, err := rec.Start(ctx, channel)
	if err != nil {
		return err
	}
	slog.Info("recording, press Ctrl+C to stop", "channel", channel)

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received, stopping")
	case <-rec.Done():
		slog.Warn("voice connection lost and could not be rejoined, stopping")
	}

	stopCtx, cancelStop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelStop()
	if err := rec.Stop(stopCtx); err != nil {
		return err
	}
	fmt.Fprintf(out, "Recorded session %s\nProcess it with: podbot process %s\n", sess.Dir, sess.Dir)
	return nil
}

// newObservabilityServer serves /healthz, /readyz and /metrics.
func newObservabilityServer(cfg *config.Config, discordReady func() bool) *http.Server {
	mux := http.NewServeMux()
	health.New(
		health.Ready("discord", discordReady),
		health.WritableDir("capture_dir", cfg.Capture.Directory),
		health.Binary(cfg.Reassembly.FFmpegPath),
	).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	return &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           observe.Middleware(observe.DefaultMetrics())(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
}
