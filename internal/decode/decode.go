// Package decode replays capture logs through the frame codec adapter and
// writes each fragment as raw s16le PCM next to its log.
package decode

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/podbot/internal/capturelog"
	"github.com/MrWong99/podbot/pkg/audio/opus"
)

// ctxCheckEvery is how many frames are decoded between context checks.
const ctxCheckEvery = 256

// Result describes one decoded capture log.
type Result struct {
	// Log is the capture log that was read.
	Log string

	// Output is the raw PCM file written.
	Output string

	// Speaker and TimestampMs are parsed from the log file name.
	Speaker     string
	TimestampMs int64

	// Frames, Recovered and Dropped are the adapter counters for this log.
	Frames    int64
	Recovered int64
	Dropped   int64

	// Malformed counts log tokens that were not valid hex.
	Malformed int

	// Truncated is set when an unterminated trailing frame was discarded.
	Truncated bool

	// Samples is the decoded length in samples per channel.
	Samples int64
}

// File decodes the capture log at logPath with a and writes
// "<speaker>-<ts>.raw_pcm" into the same directory. Undecodable frames are
// logged and skipped; they never fail the file. On error the partial output
// is removed.
func File(ctx context.Context, logPath string, a *opus.Adapter, f opus.Format) (res Result, err error) {
	speaker, ts, err := capturelog.ParseName(logPath)
	if err != nil {
		return Result{}, err
	}
	res = Result{
		Log:         logPath,
		Output:      filepath.Join(filepath.Dir(logPath), capturelog.Name(speaker, ts, capturelog.RawExt)),
		Speaker:     speaker,
		TimestampMs: ts,
	}
	log := slog.With("file", filepath.Base(logPath), "speaker", speaker)

	in, err := os.Open(logPath)
	if err != nil {
		return res, fmt.Errorf("decode: open log: %w", err)
	}
	defer in.Close()

	out, err := os.Create(res.Output)
	if err != nil {
		return res, fmt.Errorf("decode: create output: %w", err)
	}
	defer func() {
		if cerr := out.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("decode: close output: %w", cerr)
		}
		if err != nil {
			_ = os.Remove(res.Output)
		}
	}()

	w := bufio.NewWriterSize(out, 64*1024)
	var written int64
	n := 0
	stats, err := capturelog.ReadFrames(in, func(frame []byte) error {
		if n++; n%ctxCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		pcm, derr := a.Decode(frame)
		if derr != nil {
			log.Warn("dropping undecodable frame", "frame", n, "err", derr)
			return nil
		}
		written += int64(len(pcm))
		_, werr := w.Write(pcm)
		return werr
	})
	if err != nil {
		return res, fmt.Errorf("decode: %s: %w", filepath.Base(logPath), err)
	}
	if err := w.Flush(); err != nil {
		return res, fmt.Errorf("decode: write output: %w", err)
	}

	st := a.Stats()
	res.Frames = st.Decoded
	res.Recovered = st.Recovered
	res.Dropped = st.Dropped
	res.Malformed = stats.Malformed
	res.Truncated = stats.Truncated
	res.Samples = written / int64(f.BytesPerSample())
	if stats.Malformed > 0 {
		log.Warn("skipped malformed tokens", "count", stats.Malformed)
	}
	if stats.Truncated {
		log.Warn("discarded truncated trailing frame")
	}
	return res, nil
}

// Decoder decodes whole session directories.
type Decoder struct {
	// Format is the PCM layout produced by the decoder.
	Format opus.Format

	// Fallbacks is handed to every adapter; nil selects the defaults.
	Fallbacks []opus.Fallback

	// NewFrameDecoder creates the primary decoder for one log. A fresh
	// decoder is created per log because Opus decoding is stateful.
	// Default: [opus.NewDecoder].
	NewFrameDecoder func(opus.Format) (opus.FrameDecoder, error)

	// Concurrency bounds how many logs are decoded at once. Default: 4.
	Concurrency int

	// OnResult, when set, is called after every successfully decoded log.
	// It may be called from several goroutines at once.
	OnResult func(Result)
}

// File decodes a single capture log with a fresh adapter.
func (d *Decoder) File(ctx context.Context, logPath string) (Result, error) {
	newDec := d.NewFrameDecoder
	if newDec == nil {
		newDec = opus.NewDecoder
	}
	dec, err := newDec(d.Format)
	if err != nil {
		return Result{}, err
	}
	return File(ctx, logPath, opus.NewAdapter(dec, d.Fallbacks), d.Format)
}

// Files decodes logs concurrently and returns results in the order of logs.
// The first failure cancels the remaining work.
func (d *Decoder) Files(ctx context.Context, logs []string) ([]Result, error) {
	results := make([]Result, len(logs))
	limit := d.Concurrency
	if limit <= 0 {
		limit = 4
	}
	var done atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, p := range logs {
		g.Go(func() error {
			r, err := d.File(gctx, p)
			if err != nil {
				return err
			}
			results[i] = r
			if d.OnResult != nil {
				d.OnResult(r)
			}
			slog.Info("decoded capture log",
				"file", filepath.Base(p),
				"completed", fmt.Sprintf("%d/%d", done.Add(1), len(logs)),
			)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Dir decodes every capture log in dir.
func (d *Decoder) Dir(ctx context.Context, dir string) ([]Result, error) {
	logs, err := Logs(dir)
	if err != nil {
		return nil, err
	}
	if len(logs) == 0 {
		return nil, nil
	}
	slog.Info("decoding capture logs", "dir", dir, "count", len(logs))
	return d.Files(ctx, logs)
}

// Logs returns the capture logs in dir sorted by name. Files with the
// capture extension but an unparsable name are skipped with a warning.
func Logs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("decode: read dir: %w", err)
	}
	var logs []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), capturelog.CaptureExt) {
			continue
		}
		if _, _, err := capturelog.ParseName(e.Name()); err != nil {
			slog.Warn("skipping capture log with invalid name", "file", e.Name(), "err", err)
			continue
		}
		logs = append(logs, filepath.Join(dir, e.Name()))
	}
	return logs, nil
}
