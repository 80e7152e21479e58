// Package mixdown combines the per-speaker tracks of a session into a single
// export file.
package mixdown

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/podbot/internal/ffmpeg"
)

// ErrInvalidMode is returned for modes other than [ModeMix] and [ModeMerge].
var ErrInvalidMode = errors.New("mixdown: invalid mode")

// maxFLACChannels is the channel limit of the FLAC format.
const maxFLACChannels = 8

// Mode selects how tracks are combined.
type Mode string

const (
	// ModeMix sums all tracks into one stereo stream.
	ModeMix Mode = "mix"

	// ModeMerge keeps every track on its own channel pair.
	ModeMerge Mode = "merge"
)

// IsValid reports whether m is a recognised mode.
func (m Mode) IsValid() bool {
	switch m {
	case ModeMix, ModeMerge:
		return true
	}
	return false
}

// Request describes one mixdown.
type Request struct {
	// Tracks are the per-speaker tracks, all encoded as Format.
	Tracks []string

	// Dir receives the output file.
	Dir string

	// SessionStartMs names the output "mix-<startMs><ext>".
	SessionStartMs int64

	// Format is the encoding of the tracks and of the output.
	Format ffmpeg.OutputFormat

	// Mode selects mixing or merging.
	Mode Mode

	// Raw is the layout of the tracks; needed to read raw PCM tracks and to
	// size merged output.
	Raw ffmpeg.RawFormat

	// Binary is the ffmpeg executable name used for command length checks.
	Binary string

	// MaxCommandLength caps the command; zero selects the default.
	MaxCommandLength int
}

// Validate checks the request without touching the filesystem.
func (r Request) Validate() error {
	var errs []error
	if len(r.Tracks) == 0 {
		errs = append(errs, errors.New("mixdown: no tracks"))
	}
	if err := r.Format.Validate(); err != nil {
		errs = append(errs, err)
	}
	if !r.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("%w: %q (valid: mix, merge)", ErrInvalidMode, string(r.Mode)))
	}
	if r.Mode == ModeMerge && r.Format == ffmpeg.FormatMP3 && len(r.Tracks) > 1 {
		errs = append(errs, fmt.Errorf("%w: mp3 cannot hold %d channels; use mix mode", ffmpeg.ErrUnsupportedFormat, len(r.Tracks)*r.Raw.Channels))
	}
	if r.Mode == ModeMerge && r.Format == ffmpeg.FormatFLAC && len(r.Tracks)*r.Raw.Channels > maxFLACChannels {
		errs = append(errs, fmt.Errorf("%w: flac holds at most %d channels, merge needs %d", ffmpeg.ErrUnsupportedFormat, maxFLACChannels, len(r.Tracks)*r.Raw.Channels))
	}
	if r.Raw.SampleRate <= 0 || r.Raw.Channels <= 0 {
		errs = append(errs, fmt.Errorf("mixdown: invalid raw layout %d Hz / %d ch", r.Raw.SampleRate, r.Raw.Channels))
	}
	return errors.Join(errs...)
}

// OutputPath returns the path of the mix file.
func (r Request) OutputPath() string {
	return filepath.Join(r.Dir, "mix-"+strconv.FormatInt(r.SessionStartMs, 10)+r.Format.Extension())
}

// FilterGraph returns the -filter_complex value combining all tracks.
func (r Request) FilterGraph() string {
	n := len(r.Tracks)
	if n == 1 {
		return "[0]anull[a]"
	}
	var b strings.Builder
	for i := range n {
		b.WriteString("[" + strconv.Itoa(i) + "]")
	}
	switch r.Mode {
	case ModeMerge:
		b.WriteString("amerge=inputs=" + strconv.Itoa(n) + "[a]")
	default:
		b.WriteString("amix=inputs=" + strconv.Itoa(n) + ":duration=longest:normalize=0[a]")
	}
	return b.String()
}

// Args returns the full ffmpeg argument list.
func (r Request) Args() ([]string, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	out := r.Raw
	if r.Mode == ModeMerge {
		out.Channels *= len(r.Tracks)
	}
	outArgs, err := ffmpeg.OutputArgs(r.Format, out, r.OutputPath())
	if err != nil {
		return nil, err
	}
	args := []string{"-hide_banner", "-nostdin", "-y"}
	for _, t := range r.Tracks {
		if r.Format == ffmpeg.FormatPCM {
			args = append(args, r.Raw.InputArgs()...)
		}
		args = append(args, "-i", t)
	}
	args = append(args, "-filter_complex", r.FilterGraph(), "-map", "[a]")
	return append(args, outArgs...), nil
}

// Merge validates req and runs one ffmpeg invocation producing the mix. It
// returns the path of the written file. A session with a single track still
// produces a mix file so every run has the same outputs.
func Merge(ctx context.Context, runner ffmpeg.Runner, req Request, observe func(ffmpeg.PassResult)) (string, error) {
	args, err := req.Args()
	if err != nil {
		return "", err
	}
	limit := req.MaxCommandLength
	if limit <= 0 {
		limit = ffmpeg.DefaultMaxCommandLength
	}
	binary := req.Binary
	if binary == "" {
		binary = "ffmpeg"
	}
	if n := len(ffmpeg.CommandLine(binary, args)); n > limit {
		return "", fmt.Errorf("%w: mixdown of %d tracks needs %d characters, limit %d", ffmpeg.ErrCommandTooLong, len(req.Tracks), n, limit)
	}

	start := time.Now()
	err = runner.Run(ctx, args)
	if observe != nil {
		observe(ffmpeg.PassResult{Duration: time.Since(start), Err: err})
	}
	if err != nil {
		return "", errors.Join(fmt.Errorf("mixdown: %w", err), ffmpeg.Remove(req.OutputPath()))
	}
	return req.OutputPath(), nil
}
