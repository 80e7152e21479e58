package reassembly

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"

	"github.com/MrWong99/podbot/internal/decode"
	"github.com/MrWong99/podbot/internal/ffmpeg"
)

// Options configures one speaker pipeline.
type Options struct {
	// SessionStartMs is the session start; it names the track.
	SessionStartMs int64

	// Dir receives the track and all intermediate files.
	Dir string

	// Decoder turns capture logs into raw PCM. Its Format is also the layout
	// handed to ffmpeg.
	Decoder *decode.Decoder

	// Runner executes ffmpeg passes.
	Runner ffmpeg.Runner

	// Binary is the ffmpeg executable name used for command length checks.
	Binary string

	// OutputFormat is the encoding of the track.
	OutputFormat ffmpeg.OutputFormat

	// MaxCommandLength caps each pass; zero selects the default.
	MaxCommandLength int

	// KeepIntermediate keeps the decoded fragments after the track is built.
	KeepIntermediate bool

	// OnDecoded, when set, is called after each fragment is decoded.
	OnDecoded func(decode.Result)

	// OnPass, when set, is called after each ffmpeg pass.
	OnPass func(ffmpeg.PassResult)

	// Logger receives progress; nil uses slog.Default.
	Logger *slog.Logger
}

// Track is the finished, timeline-aligned audio of one speaker.
type Track struct {
	Speaker string

	// Path is the encoded track.
	Path string

	// Fragments is the number of fragments stitched together.
	Fragments int

	// Samples is the track length in samples per channel.
	Samples int64

	// Dropped is the number of frames that could not be decoded.
	Dropped int64

	// Passes is the number of ffmpeg invocations used.
	Passes int
}

// Speaker holds the pipeline state of one speaker: its fragments, its
// synchronizer and every intermediate file it created.
type Speaker struct {
	ID        string
	Fragments []Fragment

	sync  *Synchronizer
	temps []string
}

// NewSpeaker returns the pipeline state for id over frags. frags is copied.
func NewSpeaker(id string, frags []Fragment) *Speaker {
	return &Speaker{ID: id, Fragments: append([]Fragment(nil), frags...)}
}

// TrackPath returns the path of the speaker's finished track.
func TrackPath(dir, speaker string, sessionStartMs int64, f ffmpeg.OutputFormat) string {
	return filepath.Join(dir, speaker+"-"+strconv.FormatInt(sessionStartMs, 10)+f.Extension())
}

// Assemble decodes, synchronizes and concatenates the speaker's fragments
// into one track. Intermediate files are removed on every path out of
// Assemble; on failure no track is left behind either.
func (s *Speaker) Assemble(ctx context.Context, opts Options) (tr Track, err error) {
	if err := opts.OutputFormat.Validate(); err != nil {
		return Track{}, err
	}
	if opts.Decoder == nil || opts.Runner == nil {
		return Track{}, errors.New("reassembly: decoder and runner are required")
	}
	if len(s.Fragments) == 0 {
		return Track{}, fmt.Errorf("reassembly: speaker %s has no fragments", s.ID)
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	defer func() {
		if cerr := s.cleanup(); cerr != nil {
			log.Warn("failed to remove intermediate files", "err", cerr)
		}
	}()

	tr = Track{Speaker: s.ID, Fragments: len(s.Fragments)}
	for i := range s.Fragments {
		f := &s.Fragments[i]
		res, err := opts.Decoder.File(ctx, f.Log)
		if err != nil {
			return Track{}, err
		}
		if !opts.KeepIntermediate {
			s.temps = append(s.temps, res.Output)
		}
		f.Name = res.Output
		f.SampleCount = res.Samples
		tr.Dropped += res.Dropped
		if opts.OnDecoded != nil {
			opts.OnDecoded(res)
		}
	}

	rate := opts.Decoder.Format.SampleRate
	if s.sync == nil {
		s.sync = NewSynchronizer(rate)
	}
	if err := s.sync.Synchronize(s.Fragments); err != nil {
		return Track{}, err
	}

	channels := opts.Decoder.Format.Channels
	inputs := make([]ffmpeg.Input, len(s.Fragments))
	for i, f := range s.Fragments {
		inputs[i] = Input(f, channels)
		if f.Overrun() {
			log.Warn("fragment longer than its slot, trimming",
				"file", filepath.Base(f.Name), "samples", f.SampleCount, "slot", f.TotalSampleLength)
		}
	}
	tr.Samples = s.Length()

	base := s.ID + "-" + strconv.FormatInt(opts.SessionStartMs, 10)
	out := TrackPath(opts.Dir, s.ID, opts.SessionStartMs, opts.OutputFormat)
	passes, err := ffmpeg.Plan(ffmpeg.PlanRequest{
		Binary: opts.Binary,
		Inputs: inputs,
		Raw:    ffmpeg.RawFormat{SampleRate: rate, Channels: channels},
		Output: ffmpeg.Output{Path: out, Format: opts.OutputFormat},
		TempPath: func(n int) string {
			return filepath.Join(opts.Dir, base+"-tmp-"+strconv.Itoa(n)+".raw_pcm")
		},
		MaxCommandLength: opts.MaxCommandLength,
	})
	if err != nil {
		return Track{}, fmt.Errorf("reassembly: speaker %s: %w", s.ID, err)
	}
	for _, p := range passes {
		if p.Output.Temp {
			s.temps = append(s.temps, p.Output.Path)
		}
	}
	tr.Passes = len(passes)
	log.Info("concatenating fragments", "fragments", len(inputs), "passes", len(passes), "output", filepath.Base(out))

	if err := ffmpeg.Execute(ctx, opts.Runner, passes, opts.OnPass); err != nil {
		return Track{}, fmt.Errorf("reassembly: speaker %s: %w", s.ID, err)
	}
	tr.Path = out
	return tr, nil
}

// Input converts a synchronized fragment into an ffmpeg input. The length is
// fixed first (trim or pad), then the delay is prepended.
func Input(f Fragment, channels int) ffmpeg.Input {
	in := ffmpeg.Input{Path: f.Name}
	switch {
	case f.Overrun():
		in.Filters = append(in.Filters, ffmpeg.Trim(f.TotalSampleLength))
	case f.Pad() > 0:
		in.Filters = append(in.Filters, ffmpeg.Pad(f.TotalSampleLength))
	}
	if f.Delay > 0 {
		in.Filters = append(in.Filters, ffmpeg.Delay(f.Delay, channels))
	}
	return in
}

// Length returns the synchronized track length in samples per channel.
func (s *Speaker) Length() int64 {
	if len(s.Fragments) == 0 {
		return 0
	}
	n := s.Fragments[0].Delay
	for _, f := range s.Fragments {
		if f.Padded {
			n += f.TotalSampleLength
		} else {
			n += f.SampleCount
		}
	}
	return n
}

// LeftOver returns the fractional samples the synchronizer could not place.
func (s *Speaker) LeftOver() float64 {
	if s.sync == nil {
		return 0
	}
	return s.sync.LeftOver()
}

func (s *Speaker) cleanup() error {
	var errs []error
	for _, p := range s.temps {
		errs = append(errs, ffmpeg.Remove(p))
	}
	s.temps = nil
	return errors.Join(errs...)
}
