// Package app wires the podbot subsystems into the two things the binary
// does: record a voice channel and process a recorded session.
//
// [Processor] owns the offline pipeline. Process locks a session directory,
// assembles one track per speaker with bounded concurrency and mixes the
// finished tracks. [Recorder] owns a live capture: it joins a channel and
// routes received frames into capture logs until stopped.
//
// For testing, inject doubles via functional options (WithRunner,
// WithMetrics, WithFrameDecoder). When an option is not provided, real
// implementations are created from the config.
package app

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/podbot/internal/config"
	"github.com/MrWong99/podbot/internal/decode"
	"github.com/MrWong99/podbot/internal/ffmpeg"
	"github.com/MrWong99/podbot/internal/mixdown"
	"github.com/MrWong99/podbot/internal/observe"
	"github.com/MrWong99/podbot/internal/reassembly"
	"github.com/MrWong99/podbot/internal/session"
	"github.com/MrWong99/podbot/pkg/audio/opus"
)

// Processor reassembles recorded sessions. It is safe to call Process for
// different sessions concurrently; the same session is guarded by its lock.
type Processor struct {
	cfg     *config.Config
	format  ffmpeg.OutputFormat
	runner  ffmpeg.Runner
	metrics *observe.Metrics

	newFrameDecoder func(opus.Format) (opus.FrameDecoder, error)
}

// Option is a functional option for [NewProcessor].
type Option func(*Processor)

// WithRunner injects the ffmpeg runner instead of running the configured
// binary.
func WithRunner(r ffmpeg.Runner) Option {
	return func(p *Processor) { p.runner = r }
}

// WithMetrics injects the metric instruments instead of the global ones.
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Processor) { p.metrics = m }
}

// WithFrameDecoder injects the per-log Opus decoder factory.
func WithFrameDecoder(fn func(opus.Format) (opus.FrameDecoder, error)) Option {
	return func(p *Processor) { p.newFrameDecoder = fn }
}

// WithOutputFormat overrides reassembly.output_format.
func WithOutputFormat(f ffmpeg.OutputFormat) Option {
	return func(p *Processor) { p.format = f }
}

// NewProcessor creates a Processor for cfg. cfg must have passed
// [config.Validate].
func NewProcessor(cfg *config.Config, opts ...Option) *Processor {
	p := &Processor{
		cfg:    cfg,
		format: cfg.Reassembly.OutputFormat,
	}
	for _, o := range opts {
		o(p)
	}
	if p.runner == nil {
		p.runner = ffmpeg.ExecRunner{
			Binary:      cfg.Reassembly.FFmpegPath,
			GracePeriod: cfg.Reassembly.GracePeriod,
		}
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	return p
}

// SpeakerResult is the outcome of one speaker pipeline.
type SpeakerResult struct {
	Speaker string

	// Track is the finished track; zero when Err is set.
	Track reassembly.Track

	// Err is why the speaker produced no track.
	Err error

	// Duration is the wall time of the pipeline.
	Duration time.Duration
}

// Report summarises one Process run.
type Report struct {
	// RunID identifies the run in logs.
	RunID string

	Session session.Session
	Format  ffmpeg.OutputFormat

	// Speakers holds one result per speaker, sorted by speaker ID. Speakers
	// rejected while scanning are included with their error.
	Speakers []SpeakerResult

	// Mix is the mix file; empty when the mixdown was disabled or failed.
	Mix string

	// MixErr is why no mix was written despite the mixdown being enabled.
	MixErr error

	Duration time.Duration
}

// Outputs returns every audio file the run produced: the tracks in speaker
// order followed by the mix.
func (r *Report) Outputs() []string {
	var out []string
	for _, s := range r.Speakers {
		if s.Err == nil {
			out = append(out, s.Track.Path)
		}
	}
	if r.Mix != "" {
		out = append(out, r.Mix)
	}
	return out
}

// Failed returns the speakers that produced no track.
func (r *Report) Failed() []SpeakerResult {
	var failed []SpeakerResult
	for _, s := range r.Speakers {
		if s.Err != nil {
			failed = append(failed, s)
		}
	}
	return failed
}

// Process reassembles the session in dir. A failing speaker does not affect
// the others; its error is recorded in the report. Process returns an error
// only when the session cannot be processed at all, when every speaker
// failed or when ctx was cancelled. The report is non-nil whenever
// speakers were attempted.
func (p *Processor) Process(ctx context.Context, dir string) (*Report, error) {
	start := time.Now()
	if err := p.format.Validate(); err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	sess, err := session.Parse(dir)
	if err != nil {
		return nil, err
	}
	unlock, err := sess.Lock()
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := unlock(); err != nil {
			slog.Warn("failed to release session lock", "session", sess.Name(), "err", err)
		}
	}()

	inv, err := sess.Scan()
	if err != nil {
		return nil, err
	}
	if len(inv.Fragments) == 0 && len(inv.Rejected) == 0 {
		return nil, fmt.Errorf("app: session %s holds no capture logs", sess.Name())
	}

	rep := &Report{RunID: uuid.NewString(), Session: sess, Format: p.format}
	log := slog.With("run", rep.RunID, "session", sess.Name())
	log.Info("processing session",
		"speakers", len(inv.Fragments),
		"rejected", len(inv.Rejected),
		"format", p.format,
	)

	for speaker, rerr := range inv.Rejected {
		log.Error("speaker rejected", "speaker", speaker, "err", rerr)
		p.metrics.RecordSpeaker(ctx, observe.StatusError, 0)
		rep.Speakers = append(rep.Speakers, SpeakerResult{Speaker: speaker, Err: rerr})
	}

	dec := p.decoder()
	speakers := inv.Speakers()
	results := make([]SpeakerResult, len(speakers))

	var g errgroup.Group
	g.SetLimit(max(p.cfg.Reassembly.Concurrency, 1))
	for i, speaker := range speakers {
		g.Go(func() error {
			results[i] = p.assemble(ctx, sess, speaker, inv.Fragments[speaker], dec)
			return nil
		})
	}
	_ = g.Wait()

	rep.Speakers = append(rep.Speakers, results...)
	slices.SortFunc(rep.Speakers, func(a, b SpeakerResult) int {
		return cmp.Compare(a.Speaker, b.Speaker)
	})

	if err := ctx.Err(); err != nil {
		rep.Duration = time.Since(start)
		return rep, fmt.Errorf("app: session %s interrupted: %w", sess.Name(), err)
	}

	var tracks []string
	var errs []error
	for _, s := range rep.Speakers {
		if s.Err != nil {
			errs = append(errs, fmt.Errorf("speaker %s: %w", s.Speaker, s.Err))
			continue
		}
		tracks = append(tracks, s.Track.Path)
	}
	if len(tracks) == 0 {
		rep.Duration = time.Since(start)
		return rep, fmt.Errorf("app: session %s: no speaker produced a track: %w", sess.Name(), errors.Join(errs...))
	}

	if p.cfg.MixdownEnabled() {
		rep.Mix, rep.MixErr = p.mix(ctx, sess, tracks)
		if rep.MixErr != nil {
			log.Error("mixdown failed", "err", rep.MixErr)
		} else {
			log.Info("mix written", "file", rep.Mix, "tracks", len(tracks))
		}
	}

	rep.Duration = time.Since(start)
	log.Info("session processed",
		"tracks", len(tracks),
		"failed", len(errs),
		"duration", rep.Duration.Round(time.Millisecond),
	)
	return rep, nil
}

// Decode decodes every capture log of the session in dir to raw PCM without
// assembling tracks. The decoded files are kept.
func (p *Processor) Decode(ctx context.Context, dir string) ([]decode.Result, error) {
	sess, err := session.Parse(dir)
	if err != nil {
		return nil, err
	}
	unlock, err := sess.Lock()
	if err != nil {
		return nil, err
	}
	defer func() { _ = unlock() }()

	dec := p.decoder()
	dec.OnResult = func(r decode.Result) {
		p.metrics.RecordFrames(ctx, r.Speaker, r.Frames, r.Recovered, r.Dropped)
	}
	return dec.Dir(ctx, sess.Dir)
}

func (p *Processor) decoder() *decode.Decoder {
	return &decode.Decoder{
		Format:          config.AudioFormat(p.cfg),
		Fallbacks:       config.Fallbacks(p.cfg),
		NewFrameDecoder: p.newFrameDecoder,
		Concurrency:     p.cfg.Reassembly.Concurrency,
	}
}

// assemble runs the pipeline of one speaker inside its own span.
func (p *Processor) assemble(ctx context.Context, sess session.Session, speaker string, frags []reassembly.Fragment, dec *decode.Decoder) SpeakerResult {
	start := time.Now()
	ctx, span, log := observe.StartSpeakerSpan(ctx, "reassembly.speaker", sess.Name(), speaker)
	defer span.End()

	tr, err := reassembly.NewSpeaker(speaker, frags).Assemble(ctx, reassembly.Options{
		SessionStartMs:   sess.StartMs,
		Dir:              sess.Dir,
		Decoder:          dec,
		Runner:           p.runner,
		Binary:           p.cfg.Reassembly.FFmpegPath,
		OutputFormat:     p.format,
		MaxCommandLength: p.cfg.Reassembly.MaxCommandLength,
		KeepIntermediate: p.cfg.Reassembly.KeepIntermediate,
		OnDecoded: func(r decode.Result) {
			p.metrics.RecordFrames(ctx, speaker, r.Frames, r.Recovered, r.Dropped)
		},
		OnPass: func(r ffmpeg.PassResult) {
			p.metrics.RecordPass(ctx, observe.Status(r.Err), r.Duration)
		},
		Logger: log,
	})
	d := time.Since(start)
	p.metrics.RecordSpeaker(ctx, observe.Status(err), d)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Error("speaker pipeline failed", "err", err)
		return SpeakerResult{Speaker: speaker, Err: err, Duration: d}
	}
	log.Info("track written",
		"file", tr.Path,
		"fragments", tr.Fragments,
		"dropped_frames", tr.Dropped,
		"passes", tr.Passes,
		"duration", d.Round(time.Millisecond),
	)
	return SpeakerResult{Speaker: speaker, Track: tr, Duration: d}
}

func (p *Processor) mix(ctx context.Context, sess session.Session, tracks []string) (string, error) {
	ctx, span := observe.StartSpan(ctx, "mixdown")
	defer span.End()

	f := config.AudioFormat(p.cfg)
	out, err := mixdown.Merge(ctx, p.runner, mixdown.Request{
		Tracks:           tracks,
		Dir:              sess.Dir,
		SessionStartMs:   sess.StartMs,
		Format:           p.format,
		Mode:             p.cfg.Mixdown.Mode,
		Raw:              ffmpeg.RawFormat{SampleRate: f.SampleRate, Channels: f.Channels},
		Binary:           p.cfg.Reassembly.FFmpegPath,
		MaxCommandLength: p.cfg.Reassembly.MaxCommandLength,
	}, func(r ffmpeg.PassResult) {
		p.metrics.RecordPass(ctx, observe.Status(r.Err), r.Duration)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return out, err
}
