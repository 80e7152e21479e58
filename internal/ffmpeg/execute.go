package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"
)

// PassResult describes one finished (or failed) pass.
type PassResult struct {
	Index    int
	Pass     Pass
	Duration time.Duration
	Err      error
}

// Execute runs passes in order, waiting for each to exit before starting the
// next. A temporary input is removed as soon as the pass that reads it has
// finished. When a pass fails, its temporary inputs and its (partial) output
// are removed and the remaining passes are skipped. observe, when non-nil,
// is called after every attempted pass.
func Execute(ctx context.Context, r Runner, passes []Pass, observe func(PassResult)) error {
	for i, p := range passes {
		err := ctx.Err()
		var elapsed time.Duration
		if err == nil {
			var args []string
			args, err = p.Args()
			if err == nil {
				start := time.Now()
				err = r.Run(ctx, args)
				elapsed = time.Since(start)
			}
		}
		if observe != nil {
			observe(PassResult{Index: i, Pass: p, Duration: elapsed, Err: err})
		}

		cleanupErr := removeTempInputs(p)
		if err != nil {
			return errors.Join(
				fmt.Errorf("ffmpeg: pass %d/%d: %w", i+1, len(passes), err),
				cleanupErr,
				Remove(p.Output.Path),
			)
		}
		if cleanupErr != nil {
			return cleanupErr
		}
	}
	return nil
}

func removeTempInputs(p Pass) error {
	var errs []error
	for _, in := range p.Inputs {
		if in.Temp {
			errs = append(errs, Remove(in.Path))
		}
	}
	return errors.Join(errs...)
}

// Remove deletes path. A missing file is not an error.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("ffmpeg: remove %q: %w", path, err)
	}
	return nil
}
