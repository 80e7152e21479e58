package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/podbot/internal/observe"
	"github.com/MrWong99/podbot/pkg/audio"
)

// Default reconnection parameters.
const (
	defaultMaxRetries = 10
	defaultBackoff    = 1 * time.Second
	defaultMaxBackoff = 30 * time.Second
)

// errReconnectDisabled is returned by [rejoin] when the policy disables
// reconnection.
var errReconnectDisabled = errors.New("app: reconnection disabled")

// ReconnectPolicy controls how a dropped voice connection is rejoined.
type ReconnectPolicy struct {
	// MaxRetries is the maximum number of rejoin attempts before the
	// recording ends. Defaults to 10 if zero; negative disables rejoining.
	MaxRetries int

	// Backoff is the initial wait between attempts. Doubles each attempt up
	// to MaxBackoff. Defaults to 1s if zero.
	Backoff time.Duration

	// MaxBackoff is the upper limit on the wait. Defaults to 30s if zero.
	MaxBackoff time.Duration
}

func (p ReconnectPolicy) withDefaults() ReconnectPolicy {
	if p.MaxRetries == 0 {
		p.MaxRetries = defaultMaxRetries
	}
	if p.Backoff <= 0 {
		p.Backoff = defaultBackoff
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = defaultMaxBackoff
	}
	if p.MaxBackoff < p.Backoff {
		p.MaxBackoff = p.Backoff
	}
	return p
}

// rejoin joins channelID again with exponential backoff. Every attempt,
// the first included, waits out the current backoff so that a connection
// dropping right after each join cannot spin. It returns the new source, or
// an error once the retries are exhausted or ctx is done.
func rejoin(ctx context.Context, j Joiner, channelID string, p ReconnectPolicy, m *observe.Metrics) (audio.Source, error) {
	if p.MaxRetries < 0 {
		return nil, errReconnectDisabled
	}
	currentBackoff := p.Backoff

	var lastErr error
	for attempt := 1; attempt <= p.MaxRetries; attempt++ {
		t := time.NewTimer(currentBackoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}

		slog.Info("attempting rejoin",
			"channel_id", channelID,
			"attempt", attempt,
			"max_retries", p.MaxRetries,
		)

		src, err := j.Join(ctx, channelID)
		if err == nil {
			m.RecordReconnect(ctx, observe.StatusOK)
			slog.Info("rejoin successful", "channel_id", channelID, "attempt", attempt)
			return src, nil
		}
		lastErr = err
		m.RecordReconnect(ctx, observe.StatusError)

		slog.Warn("rejoin attempt failed",
			"channel_id", channelID,
			"attempt", attempt,
			"err", err,
		)

		currentBackoff *= 2
		if currentBackoff > p.MaxBackoff {
			currentBackoff = p.MaxBackoff
		}
	}
	return nil, fmt.Errorf("app: rejoin %s failed after %d attempts: %w", channelID, p.MaxRetries, lastErr)
}
