package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/MrWong99/podbot/internal/capturelog"
	"github.com/MrWong99/podbot/internal/observe"
	"github.com/MrWong99/podbot/internal/session"
	"github.com/MrWong99/podbot/pkg/audio"
)

// Joiner connects to a voice channel.
type Joiner interface {
	Join(ctx context.Context, channelID string) (audio.Source, error)
}

// JoinFunc adapts a function to [Joiner].
type JoinFunc func(ctx context.Context, channelID string) (audio.Source, error)

// Join implements [Joiner].
func (f JoinFunc) Join(ctx context.Context, channelID string) (audio.Source, error) {
	return f(ctx, channelID)
}

// RecordingInfo holds metadata about the active recording.
type RecordingInfo struct {
	Session   session.Session
	StartedAt time.Time
}

// Recorder manages the lifecycle of a live capture. Only one recording can
// be active at a time. All exported methods are safe for concurrent use.
type Recorder struct {
	mu       sync.Mutex
	active   bool
	info     RecordingInfo
	src      audio.Source
	logs     *capturelog.Recorder
	unlock   func() error
	done     chan struct{}
	cancel   context.CancelFunc
	stopping bool

	joiner    Joiner
	root      string
	reconnect ReconnectPolicy
	metrics   *observe.Metrics
	now       func() time.Time
}

// RecorderConfig holds all dependencies for a [Recorder].
type RecorderConfig struct {
	// Joiner connects to the voice channel.
	Joiner Joiner

	// Directory is the root under which session directories are created.
	Directory string

	// Reconnect controls rejoining after the voice connection drops.
	Reconnect ReconnectPolicy

	// Metrics receives capture metrics. Default: [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// Now stamps the session start. Default: time.Now.
	Now func() time.Time
}

// NewRecorder creates a Recorder with the given dependencies.
func NewRecorder(cfg RecorderConfig) *Recorder {
	r := &Recorder{
		joiner:    cfg.Joiner,
		root:      cfg.Directory,
		reconnect: cfg.Reconnect.withDefaults(),
		metrics:   cfg.Metrics,
		now:       cfg.Now,
	}
	if r.metrics == nil {
		r.metrics = observe.DefaultMetrics()
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

// Start creates a session directory for channelID, joins the channel and
// begins writing capture logs. The session starts before the join so that
// no fragment can precede it, and stays locked until [Recorder.Stop] so that
// it cannot be processed while logs are still being written.
func (r *Recorder) Start(ctx context.Context, channelID string) (session.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active {
		return session.Session{}, fmt.Errorf("app: already recording session %s", r.info.Session.Name())
	}

	startedAt := r.now()
	sess, err := session.New(r.root, channelID, startedAt)
	if err != nil {
		return session.Session{}, err
	}

	unlock, err := sess.Lock()
	if err != nil {
		_ = os.RemoveAll(sess.Dir)
		return session.Session{}, err
	}

	src, err := r.joiner.Join(ctx, channelID)
	if err != nil {
		_ = unlock()
		_ = os.RemoveAll(sess.Dir)
		return session.Session{}, fmt.Errorf("app: join channel %s: %w", channelID, err)
	}

	logs := capturelog.NewRecorder(sess.Dir)
	logs.OnOpen = func(l *capturelog.Log) {
		r.metrics.RecordCaptureOpened(context.Background(), l.Speaker())
		slog.Debug("fragment opened", "speaker", l.Speaker(), "file", filepath.Base(l.Path()))
	}
	logs.OnClose = func(l *capturelog.Log) {
		r.metrics.RecordCaptureClosed(context.Background())
		slog.Debug("fragment closed", "speaker", l.Speaker(), "file", filepath.Base(l.Path()), "frames", l.Frames())
	}

	r.active = true
	r.info = RecordingInfo{Session: sess, StartedAt: startedAt}
	r.src = src
	r.logs = logs
	r.unlock = unlock
	r.done = make(chan struct{})
	runCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	go r.pump(runCtx, channelID, src, logs, r.done)

	slog.Info("recording started", "session", sess.Name(), "dir", sess.Dir)
	return sess, nil
}

// pump routes frames into capture logs. When the source ends before ctx is
// cancelled the connection was lost: open fragments are closed so that no
// fragment spans the outage, and the channel is joined again.
func (r *Recorder) pump(ctx context.Context, channelID string, src audio.Source, logs *capturelog.Recorder, done chan struct{}) {
	defer close(done)
	for {
		if !drain(src, logs) || ctx.Err() != nil {
			return
		}

		slog.Warn("voice connection lost", "channel_id", channelID)
		if err := logs.Flush(); err != nil {
			if errors.Is(err, capturelog.ErrClosed) {
				return
			}
			slog.Warn("failed to close fragments after disconnect", "err", err)
		}
		_ = src.Close()

		next, err := rejoin(ctx, r.joiner, channelID, r.reconnect, r.metrics)
		if err != nil {
			if ctx.Err() == nil {
				slog.Error("recording ended after connection loss", "channel_id", channelID, "err", err)
			}
			return
		}

		r.mu.Lock()
		if ctx.Err() != nil {
			r.mu.Unlock()
			_ = next.Close()
			drain(next, logs)
			return
		}
		r.src = next
		r.mu.Unlock()
		src = next
	}
}

// drain copies frames from src into logs until src ends. It reports false
// when logs was closed underneath it.
func drain(src audio.Source, logs *capturelog.Recorder) bool {
	for f := range src.Frames() {
		if err := logs.HandleFrame(f.Speaker, f.Data, f.CapturedAt); err != nil {
			if errors.Is(err, capturelog.ErrClosed) {
				return false
			}
			slog.Warn("failed to capture frame", "speaker", f.Speaker, "err", err)
		}
	}
	return true
}

// Done returns a channel closed when the recording stops delivering frames,
// either after Stop or because the connection dropped and could not be
// rejoined. It returns nil when no recording is active.
func (r *Recorder) Done() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active {
		return nil
	}
	return r.done
}

// Stop leaves the channel and closes every open capture log. ctx bounds the
// wait for in-flight frames.
func (r *Recorder) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.active || r.stopping {
		r.mu.Unlock()
		return errors.New("app: no active recording")
	}
	r.stopping = true
	r.cancel()
	src, logs, unlock, done := r.src, r.logs, r.unlock, r.done
	r.mu.Unlock()

	var errs []error
	if err := src.Close(); err != nil {
		errs = append(errs, fmt.Errorf("app: leave channel: %w", err))
	}
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("app: wait for capture: %w", ctx.Err()))
	}
	if err := logs.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := unlock(); err != nil {
		errs = append(errs, fmt.Errorf("app: release session: %w", err))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	slog.Info("recording stopped",
		"session", r.info.Session.Name(),
		"duration", r.now().Sub(r.info.StartedAt).Round(time.Second),
	)
	r.active = false
	r.stopping = false
	r.src = nil
	r.logs = nil
	r.unlock = nil
	r.cancel = nil
	return errors.Join(errs...)
}

// IsActive reports whether a recording is running.
func (r *Recorder) IsActive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Info returns metadata about the active recording.
func (r *Recorder) Info() RecordingInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.info
}
