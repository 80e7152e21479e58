package main

import (
	"fmt"
	"io"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/MrWong99/podbot/internal/app"
	"github.com/MrWong99/podbot/internal/config"
	"github.com/MrWong99/podbot/internal/decode"
	"github.com/MrWong99/podbot/internal/ffmpeg"
	"github.com/MrWong99/podbot/internal/session"
)

func newProcessCommand(ctx *commandContext) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "process [session-dir]",
		Short: "Assemble per-speaker tracks and the mix of a recorded session",
		Long: "Decodes every capture log of the session, aligns each speaker's fragments on the " +
			"session timeline and exports one track per speaker plus a mix. Without an argument " +
			"the newest session under capture.directory is processed.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			var opts []app.Option
			if format != "" {
				f := ffmpeg.OutputFormat(format)
				if err := f.Validate(); err != nil {
					return err
				}
				opts = append(opts, app.WithOutputFormat(f))
			}
			dir, err := sessionDir(cfg, args)
			if err != nil {
				return err
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			// Processing exports spans only; its metrics are never scraped.
			stopTelemetry, err := startTelemetry(runCtx, cfg, "process", prometheus.NewRegistry())
			if err != nil {
				return err
			}
			defer stopTelemetry()

			rep, err := app.NewProcessor(cfg, opts...).Process(runCtx, dir)
			if rep != nil {
				printReport(cmd.OutOrStdout(), cfg, rep)
			}
			return err
		},
	}
	cmd.Flags().StringVar(&format, "format", "", "Output encoding: pcm, wav, flac or mp3 (default from config)")
	return cmd
}

func newDecodeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "decode [session-dir]",
		Short: "Decode the capture logs of a session to raw PCM",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			dir, err := sessionDir(cfg, args)
			if err != nil {
				return err
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			results, err := app.NewProcessor(cfg).Decode(runCtx, dir)
			if err != nil {
				return err
			}
			printDecodeResults(cmd.OutOrStdout(), cfg, results)
			return nil
		},
	}
}

// sessionDir returns the session named in args or the newest one.
func sessionDir(cfg *config.Config, args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	s, err := session.Latest(cfg.Capture.Directory)
	if err != nil {
		return "", err
	}
	return s.Dir, nil
}

func printReport(w io.Writer, cfg *config.Config, rep *app.Report) {
	rows := make([][]string, 0, len(rep.Speakers))
	for _, s := range rep.Speakers {
		if s.Err != nil {
			rows = append(rows, []string{s.Speaker, "-", "-", "-", "-", "failed: " + s.Err.Error()})
			continue
		}
		rows = append(rows, []string{
			s.Speaker,
			strconv.Itoa(s.Track.Fragments),
			formatSamples(s.Track.Samples, cfg.Audio.SampleRate),
			strconv.FormatInt(s.Track.Dropped, 10),
			strconv.Itoa(s.Track.Passes),
			filepath.Base(s.Track.Path),
		})
	}
	fmt.Fprintf(w, "Session %s (run %s)\n", rep.Session.Name(), rep.RunID)
	fmt.Fprintln(w, renderTable(
		[]string{"Speaker", "Fragments", "Length", "Dropped", "Passes", "Output"},
		rows,
		[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight, alignLeft},
	))
	switch {
	case rep.Mix != "":
		fmt.Fprintf(w, "Mix: %s\n", rep.Mix)
	case rep.MixErr != nil:
		fmt.Fprintf(w, "Mix failed: %v\n", rep.MixErr)
	}
}

func printDecodeResults(w io.Writer, cfg *config.Config, results []decode.Result) {
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		rows = append(rows, []string{
			filepath.Base(r.Output),
			strconv.FormatInt(r.Frames, 10),
			strconv.FormatInt(r.Recovered, 10),
			strconv.FormatInt(r.Dropped, 10),
			formatSamples(r.Samples, cfg.Audio.SampleRate),
		})
	}
	fmt.Fprintln(w, renderTable(
		[]string{"File", "Frames", "Recovered", "Dropped", "Length"},
		rows,
		[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight},
	))
}

func formatSamples(samples int64, rate int) string {
	if rate <= 0 {
		return "-"
	}
	d := time.Duration(samples) * time.Second / time.Duration(rate)
	return d.Round(time.Millisecond).String()
}
