package capturelog

import (
	"bufio"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

// ReadStats summarises one replay of a capture log.
type ReadStats struct {
	// Frames is the number of frames handed to the callback.
	Frames int

	// Malformed counts complete tokens that were not valid hex.
	Malformed int

	// Truncated is true when an incomplete trailing token was discarded.
	Truncated bool
}

// ReadFrames streams a capture log from r and calls fn with every frame in
// original order. Tokens are delimited by commas; empty tokens are skipped.
//
// The token after the last comma has no terminating delimiter. It is handed
// to fn only when it is well-formed hex; otherwise it is treated as a frame
// cut off mid-write and discarded. Complete tokens that are not valid hex are
// skipped and counted. An error returned by fn aborts the replay.
func ReadFrames(r io.Reader, fn func(frame []byte) error) (ReadStats, error) {
	var stats ReadStats
	br := bufio.NewReaderSize(r, 64*1024)
	for {
		tok, err := br.ReadString(',')
		atEOF := errors.Is(err, io.EOF)
		if err != nil && !atEOF {
			return stats, fmt.Errorf("capturelog: read: %w", err)
		}

		complete := !atEOF
		if complete {
			tok = tok[:len(tok)-1]
		}
		if tok != "" {
			frame, derr := hex.DecodeString(tok)
			switch {
			case derr != nil && complete:
				stats.Malformed++
			case derr != nil:
				stats.Truncated = true
			default:
				stats.Frames++
				if ferr := fn(frame); ferr != nil {
					return stats, ferr
				}
			}
		}

		if atEOF {
			return stats, nil
		}
	}
}
