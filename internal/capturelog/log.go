package capturelog

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ErrClosed is returned when appending to a closed [Log] or [Recorder].
var ErrClosed = errors.New("capturelog: closed")

// Log is an open capture log for one fragment. It is safe for concurrent use.
type Log struct {
	speaker string
	start   time.Time
	path    string

	mu     sync.Mutex
	file   *os.File
	frames int
	buf    []byte
}

// Create opens a new capture log in dir for the fragment of speaker whose
// first frame arrived at start.
func Create(dir, speaker string, start time.Time) (*Log, error) {
	path := filepath.Join(dir, Name(speaker, start.UnixMilli(), CaptureExt))
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("capturelog: create %q: %w", path, err)
	}
	return &Log{speaker: speaker, start: start, path: path, file: f}, nil
}

// Append writes frame as ",<hex>" in a single write call.
func (l *Log) Append(frame []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return ErrClosed
	}
	need := 1 + hex.EncodedLen(len(frame))
	if cap(l.buf) < need {
		l.buf = make([]byte, need)
	}
	buf := l.buf[:need]
	buf[0] = ','
	hex.Encode(buf[1:], frame)
	if _, err := l.file.Write(buf); err != nil {
		return fmt.Errorf("capturelog: append %q: %w", l.path, err)
	}
	l.frames++
	return nil
}

// Close flushes and closes the log. Subsequent calls return nil.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	err := l.file.Sync()
	if cerr := l.file.Close(); err == nil {
		err = cerr
	}
	l.file = nil
	return err
}

// Path returns the log's file path.
func (l *Log) Path() string { return l.path }

// Speaker returns the speaker the log belongs to.
func (l *Log) Speaker() string { return l.speaker }

// Start returns the arrival time of the fragment's first frame.
func (l *Log) Start() time.Time { return l.start }

// Frames returns the number of frames appended so far.
func (l *Log) Frames() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.frames
}
