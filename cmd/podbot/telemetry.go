package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/MrWong99/podbot/internal/config"
	"github.com/MrWong99/podbot/internal/observe"
)

// startTelemetry installs the global meter and tracer providers for one
// command. reg receives the Prometheus collector; only record serves it.
// The returned stop flushes pending spans.
func startTelemetry(ctx context.Context, cfg *config.Config, command string, reg prometheus.Registerer) (stop func(), err error) {
	shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version,
		Command:        command,
		OTLPEndpoint:   cfg.Server.OTLPEndpoint,
		OTLPInsecure:   cfg.Server.OTLPInsecure,
		SampleRate:     cfg.Server.TraceSampleRate,
		Registerer:     reg,
	})
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	return func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}, nil
}
