package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"

	"github.com/MrWong99/podbot/internal/app"
	"github.com/MrWong99/podbot/internal/config"
	"github.com/MrWong99/podbot/internal/ffmpeg"
	"github.com/MrWong99/podbot/internal/reassembly"
	"github.com/MrWong99/podbot/internal/session"
)

// ─── test helpers ─────────────────────────────────────────────────────────────

func writeConfig(t *testing.T, root string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "podbot.yaml")
	body := "server:\n  log_level: warn\ncapture:\n  directory: " + root + "\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func makeSession(t *testing.T, root, name string, files ...string) string {
	t.Helper()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	for _, f := range files {
		if err := os.WriteFile(filepath.Join(dir, f), []byte(",01"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

// restoreTelemetry puts back the global providers a command installs.
func restoreTelemetry(t *testing.T) {
	t.Helper()
	mp, tp, prop := otel.GetMeterProvider(), otel.GetTracerProvider(), otel.GetTextMapPropagator()
	t.Cleanup(func() {
		otel.SetMeterProvider(mp)
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(prop)
	})
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// ─── logging ──────────────────────────────────────────────────────────────────

func TestSlogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   config.LogLevel
		want slog.Level
	}{
		{config.LogDebug, slog.LevelDebug},
		{config.LogInfo, slog.LevelInfo},
		{config.LogWarn, slog.LevelWarn},
		{config.LogError, slog.LevelError},
		{"", slog.LevelInfo},
	}
	for _, tc := range tests {
		if got := slogLevel(tc.in); got != tc.want {
			t.Errorf("slogLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestNewLogger_JSONWhenNotTerminal(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	var lvl slog.LevelVar
	lvl.Set(slog.LevelWarn)
	l := newLogger(&buf, &lvl)

	l.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("info logged at warn level: %q", buf.String())
	}
	lvl.Set(slog.LevelInfo)
	l.Info("shown", "speaker", "111")
	if !strings.HasPrefix(buf.String(), "{") || !strings.Contains(buf.String(), `"speaker":"111"`) {
		t.Errorf("output = %q, want JSON", buf.String())
	}
}

// ─── rendering ────────────────────────────────────────────────────────────────

func TestRenderTable(t *testing.T) {
	t.Parallel()

	if got := renderTable(nil, nil, nil); got != "" {
		t.Errorf("renderTable(nil) = %q", got)
	}
	out := renderTable([]string{"Speaker", "Passes"}, [][]string{{"111", "2"}, {"222"}}, []columnAlignment{alignLeft, alignRight})
	for _, want := range []string{"Speaker", "Passes", "111", "222"} {
		if !strings.Contains(out, want) {
			t.Errorf("table missing %q:\n%s", want, out)
		}
	}
}

func TestFormatSamples(t *testing.T) {
	t.Parallel()

	if got := formatSamples(72000, 48000); got != "1.5s" {
		t.Errorf("formatSamples = %q, want 1.5s", got)
	}
	if got := formatSamples(10, 0); got != "-" {
		t.Errorf("formatSamples with zero rate = %q", got)
	}
}

func TestPrintReport(t *testing.T) {
	t.Parallel()

	rep := &app.Report{
		RunID:   "run-1",
		Session: session.Session{ChannelID: "555", StartMs: 1000},
		Speakers: []app.SpeakerResult{
			{Speaker: "111", Track: reassembly.Track{Path: "/s/111-1000.wav", Fragments: 3, Samples: 96000, Passes: 1}},
			{Speaker: "222", Err: reassembly.ErrNegativeOffset},
		},
		Mix: "/s/mix-1000.wav",
	}
	var buf bytes.Buffer
	printReport(&buf, config.Default(), rep)
	out := buf.String()
	for _, want := range []string{"555-1000", "run-1", "111-1000.wav", "2s", "failed:", "Mix: /s/mix-1000.wav"} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}
}

// ─── telemetry ────────────────────────────────────────────────────────────────

func TestStartTelemetry(t *testing.T) {
	restoreTelemetry(t)

	for _, command := range []string{"record", "process"} {
		stop, err := startTelemetry(context.Background(), config.Default(), command, prometheus.NewRegistry())
		if err != nil {
			t.Fatalf("startTelemetry(%s): %v", command, err)
		}
		stop()
	}
}

// ─── sessions ─────────────────────────────────────────────────────────────────

func TestListSessions(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	makeSession(t, root, "555-1000000", "111-1000100.opus_string", "222-1000200.opus_string")
	makeSession(t, root, "555-2000000", "111-2000100.opus_string", "mix-2000000.wav")
	makeSession(t, root, "not-a-session")

	var buf bytes.Buffer
	if err := listSessions(&buf, root); err != nil {
		t.Fatalf("listSessions: %v", err)
	}
	out := buf.String()
	newer, older := strings.Index(out, "555-2000000"), strings.Index(out, "555-1000000")
	if newer < 0 || older < 0 || newer > older {
		t.Errorf("sessions not listed newest first:\n%s", out)
	}
	if strings.Contains(out, "not-a-session") {
		t.Errorf("foreign directory listed:\n%s", out)
	}
	if !strings.Contains(out, "yes") {
		t.Errorf("processed session not marked:\n%s", out)
	}
}

func TestListSessions_Empty(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	root := t.TempDir()
	if err := listSessions(&buf, root); err != nil {
		t.Fatalf("listSessions: %v", err)
	}
	if !strings.Contains(buf.String(), "No sessions") {
		t.Errorf("output = %q", buf.String())
	}
}

// ─── commands ─────────────────────────────────────────────────────────────────

func TestSessionsCommand(t *testing.T) {
	root := t.TempDir()
	makeSession(t, root, "555-1000000", "111-1000100.opus_string")

	out, err := execute(t, "--config", writeConfig(t, root), "sessions")
	if err != nil {
		t.Fatalf("sessions: %v", err)
	}
	if !strings.Contains(out, "555-1000000") {
		t.Errorf("output = %q", out)
	}
}

func TestProcessCommand_RejectsUnknownFormat(t *testing.T) {
	root := t.TempDir()
	dir := makeSession(t, root, "555-1000000", "111-1000100.opus_string")

	_, err := execute(t, "--config", writeConfig(t, root), "process", "--format", "ogg", dir)
	if !errors.Is(err, ffmpeg.ErrUnsupportedFormat) {
		t.Errorf("err = %v, want ErrUnsupportedFormat", err)
	}
}

func TestProcessCommand_NoSessions(t *testing.T) {
	root := t.TempDir()

	_, err := execute(t, "--config", writeConfig(t, root), "process")
	if !errors.Is(err, session.ErrNoSessions) {
		t.Errorf("err = %v, want ErrNoSessions", err)
	}
}

func TestProcessCommand_SessionBeingRecorded(t *testing.T) {
	restoreTelemetry(t)
	root := t.TempDir()
	dir := makeSession(t, root, "555-1000000", "111-1000100.opus_string")
	sess, err := session.Parse(dir)
	if err != nil {
		t.Fatal(err)
	}
	unlock, err := sess.Lock()
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = unlock() }()

	_, err = execute(t, "--config", writeConfig(t, root), "process")
	if !errors.Is(err, session.ErrLocked) {
		t.Errorf("err = %v, want ErrLocked", err)
	}
}

func TestRecordCommand_RequiresCredentials(t *testing.T) {
	t.Setenv(config.TokenEnv, "")
	root := t.TempDir()

	_, err := execute(t, "--config", writeConfig(t, root), "record", "--channel", "555")
	if err == nil || !strings.Contains(err.Error(), "discord.token") {
		t.Errorf("err = %v, want missing token error", err)
	}
}

func TestMissingExplicitConfig(t *testing.T) {
	_, err := execute(t, "--config", filepath.Join(t.TempDir(), "absent.yaml"), "sessions")
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("err = %v, want ErrNotExist", err)
	}
}
