// Package capturelog persists compressed voice frames as append-only text
// logs and replays them in arrival order.
//
// A capture log holds one fragment: a contiguous run of frames from one
// speaker. Its content is a sequence of hex-encoded frames, each preceded by
// a comma and with no trailing delimiter:
//
//	,f8fffe01...,0a9c...,77ab...
//
// The leading comma lets a writer append a frame with a single write without
// touching earlier content. Log files are named
// "<speakerID>-<timestampMs><ext>", where timestampMs is the wall-clock time
// of the fragment's first frame.
package capturelog

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// File extensions used throughout a session directory.
const (
	// CaptureExt marks a capture log of hex-encoded Opus frames.
	CaptureExt = ".opus_string"

	// RawExt marks a fragment decoded to s16le PCM.
	RawExt = ".raw_pcm"
)

// ErrInvalidName is returned by [ParseName] for file names that do not follow
// the "<speakerID>-<timestampMs>" convention.
var ErrInvalidName = errors.New("capturelog: invalid fragment name")

// Name returns the file name for the fragment of speaker starting at tsMs.
func Name(speaker string, tsMs int64, ext string) string {
	return speaker + "-" + strconv.FormatInt(tsMs, 10) + ext
}

// ParseName extracts the speaker ID and timestamp from a fragment file name.
// Any directory and extension are ignored.
func ParseName(name string) (speaker string, tsMs int64, err error) {
	base := filepath.Base(name)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	speaker, ts, ok := strings.Cut(base, "-")
	if !ok || speaker == "" {
		return "", 0, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	tsMs, err = strconv.ParseInt(ts, 10, 64)
	if err != nil || tsMs < 0 {
		return "", 0, fmt.Errorf("%w: %q: bad timestamp", ErrInvalidName, name)
	}
	return speaker, tsMs, nil
}
