// Package ffmpeg plans and runs the external ffmpeg invocations that stitch
// and mix reassembled audio.
//
// Planning is pure: [Plan] turns an ordered list of filtered inputs into one
// or more [Pass] values, each a complete ffmpeg argument list whose textual
// command stays under a character limit. Running is separate: a [Runner]
// executes one pass at a time, and [Execute] chains passes and removes every
// intermediate file once it is no longer referenced.
package ffmpeg

import (
	"errors"
	"fmt"
	"strconv"
)

// ErrUnsupportedFormat is returned for output formats outside the closed set.
var ErrUnsupportedFormat = errors.New("ffmpeg: unsupported output format")

// OutputFormat selects the encoding of a final artifact.
type OutputFormat string

const (
	// FormatPCM is headerless s16le PCM at the session's rate and layout.
	FormatPCM OutputFormat = "pcm"

	// FormatWAV is PCM in a RIFF/WAVE container.
	FormatWAV OutputFormat = "wav"

	// FormatFLAC is lossless FLAC.
	FormatFLAC OutputFormat = "flac"

	// FormatMP3 is lossy MPEG-1 Layer III.
	FormatMP3 OutputFormat = "mp3"
)

// OutputFormats lists every supported format.
var OutputFormats = []OutputFormat{FormatPCM, FormatWAV, FormatFLAC, FormatMP3}

// IsValid reports whether f is a recognised output format.
func (f OutputFormat) IsValid() bool {
	switch f {
	case FormatPCM, FormatWAV, FormatFLAC, FormatMP3:
		return true
	}
	return false
}

// Validate returns an error wrapping [ErrUnsupportedFormat] when f is not
// recognised.
func (f OutputFormat) Validate() error {
	if !f.IsValid() {
		return fmt.Errorf("%w: %q (valid: pcm, wav, flac, mp3)", ErrUnsupportedFormat, string(f))
	}
	return nil
}

// Extension returns the file extension for f, including the leading dot.
func (f OutputFormat) Extension() string {
	switch f {
	case FormatPCM:
		return ".pcm"
	case FormatWAV:
		return ".wav"
	case FormatFLAC:
		return ".flac"
	case FormatMP3:
		return ".mp3"
	}
	return ""
}

// RawFormat describes headerless s16le PCM.
type RawFormat struct {
	SampleRate int
	Channels   int
}

// InputArgs returns the demuxer options that must precede "-i" for a raw
// PCM input.
func (r RawFormat) InputArgs() []string {
	return []string{"-f", "s16le", "-ar", strconv.Itoa(r.SampleRate), "-ac", strconv.Itoa(r.Channels)}
}

// OutputArgs returns the encoder options and target path for f. Raw output
// carries the same layout as raw input.
func OutputArgs(f OutputFormat, raw RawFormat, path string) ([]string, error) {
	switch f {
	case FormatPCM:
		return append(raw.InputArgs(), path), nil
	case FormatWAV:
		return []string{"-c:a", "pcm_s16le", "-f", "wav", path}, nil
	case FormatFLAC:
		return []string{"-c:a", "flac", "-f", "flac", path}, nil
	case FormatMP3:
		return []string{"-c:a", "libmp3lame", "-q:a", "2", "-f", "mp3", path}, nil
	}
	return nil, f.Validate()
}
