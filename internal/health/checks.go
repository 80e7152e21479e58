package health

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
)

// Binary reports whether the executable name resolves on PATH (or as a path).
func Binary(name string) Checker {
	return Checker{
		Name: name,
		Check: func(context.Context) error {
			if _, err := exec.LookPath(name); err != nil {
				return fmt.Errorf("%s not found: %w", name, err)
			}
			return nil
		},
	}
}

// WritableDir reports whether a file can be created inside dir.
func WritableDir(name, dir string) Checker {
	return Checker{
		Name: name,
		Check: func(context.Context) error {
			f, err := os.CreateTemp(dir, ".probe-*")
			if err != nil {
				return err
			}
			path := f.Name()
			return errors.Join(f.Close(), os.Remove(path))
		},
	}
}

// Ready reports the state of a component exposing a boolean readiness flag.
func Ready(name string, ready func() bool) Checker {
	return Checker{
		Name: name,
		Check: func(context.Context) error {
			if !ready() {
				return errors.New("not ready")
			}
			return nil
		},
	}
}
