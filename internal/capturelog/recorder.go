package capturelog

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/MrWong99/podbot/pkg/audio/opus"
)

// State is the capture state of a single speaker.
type State int

const (
	// StateIdle means no fragment is open for the speaker.
	StateIdle State = iota

	// StateCapturing means frames are being appended to an open fragment.
	StateCapturing
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCapturing:
		return "capturing"
	default:
		return "unknown"
	}
}

// maxCreateRetries bounds how often a fragment start is nudged forward by a
// millisecond when a log with the same name already exists.
const maxCreateRetries = 5

// speakerState is the per-speaker state machine. log is non-nil exactly when
// the speaker is capturing.
type speakerState struct {
	mu  sync.Mutex
	log *Log
}

// Recorder routes frames of all speakers in a session into capture logs.
//
// Each speaker is an independent two-state machine driven only by received
// frames:
//
//   - Idle + speech frame     → open a new log at the frame's time, append, Capturing
//   - Idle + sentinel         → discard (trailing silence of a finished burst)
//   - Capturing + speech      → append
//   - Capturing + sentinel    → close the log, Idle
//
// The sentinel itself is never persisted. Recorder is safe for concurrent
// use; frames of different speakers never contend on the same lock.
type Recorder struct {
	dir string

	mu       sync.Mutex
	speakers map[string]*speakerState
	closed   bool

	// OnOpen, when set, is called after a fragment log was created.
	OnOpen func(*Log)

	// OnClose, when set, is called after a fragment log was closed.
	OnClose func(*Log)
}

// NewRecorder creates a Recorder writing logs into dir. The directory must
// already exist.
func NewRecorder(dir string) *Recorder {
	return &Recorder{
		dir:      dir,
		speakers: make(map[string]*speakerState),
	}
}

// State returns the current state of speaker.
func (r *Recorder) State(speaker string) State {
	st := r.lookup(speaker, false)
	if st == nil {
		return StateIdle
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.log != nil {
		return StateCapturing
	}
	return StateIdle
}

// HandleFrame feeds one received frame of speaker into its state machine.
func (r *Recorder) HandleFrame(speaker string, frame []byte, at time.Time) error {
	st := r.lookup(speaker, true)
	if st == nil {
		return ErrClosed
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if opus.IsSilence(frame) {
		if st.log == nil {
			return nil
		}
		return r.closeLocked(st)
	}

	if st.log == nil {
		l, err := r.create(speaker, at)
		if err != nil {
			return err
		}
		st.log = l
		if r.OnOpen != nil {
			r.OnOpen(l)
		}
	}
	return st.log.Append(frame)
}

// Close closes every open log and rejects further frames. It is safe to call
// more than once.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()
	return r.closeAll()
}

// Flush closes every open log and returns all speakers to Idle while the
// recorder keeps accepting frames. The next speech frame of a speaker opens
// a new fragment stamped with its own receive time.
func (r *Recorder) Flush() error {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return ErrClosed
	}
	return r.closeAll()
}

func (r *Recorder) closeAll() error {
	r.mu.Lock()
	states := make([]*speakerState, 0, len(r.speakers))
	for _, st := range r.speakers {
		states = append(states, st)
	}
	r.mu.Unlock()

	var errs []error
	for _, st := range states {
		st.mu.Lock()
		if st.log != nil {
			if err := r.closeLocked(st); err != nil {
				errs = append(errs, err)
			}
		}
		st.mu.Unlock()
	}
	return errors.Join(errs...)
}

// lookup returns the state for speaker, creating it when create is set. It
// returns nil once the recorder is closed.
func (r *Recorder) lookup(speaker string, create bool) *speakerState {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	st, ok := r.speakers[speaker]
	if !ok && create {
		st = &speakerState{}
		r.speakers[speaker] = st
	}
	return st
}

// closeLocked closes the speaker's open log. Must be called with st.mu held.
func (r *Recorder) closeLocked(st *speakerState) error {
	l := st.log
	st.log = nil
	if err := l.Close(); err != nil {
		return fmt.Errorf("capturelog: close fragment: %w", err)
	}
	if r.OnClose != nil {
		r.OnClose(l)
	}
	return nil
}

func (r *Recorder) create(speaker string, at time.Time) (*Log, error) {
	var err error
	for i := range maxCreateRetries {
		var l *Log
		l, err = Create(r.dir, speaker, at.Add(time.Duration(i)*time.Millisecond))
		if err == nil {
			return l, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, err
		}
		slog.Debug("capturelog: fragment name taken, nudging start", "speaker", speaker, "attempt", i+1)
	}
	return nil, err
}
