// Package session manages recording session directories.
//
// A session directory is named "<channelID>-<startMs>" after the voice
// channel and the Unix millisecond time recording started. It holds the
// capture logs of every speaker, the decoded fragments and, after
// processing, the per-speaker tracks and the mix.
package session

import (
	"cmp"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"github.com/MrWong99/podbot/internal/capturelog"
	"github.com/MrWong99/podbot/internal/reassembly"
)

// lockName is the lock file inside a session directory.
const lockName = ".podbot.lock"

var (
	// ErrInvalidName is returned for directory names that are not
	// "<channelID>-<startMs>".
	ErrInvalidName = errors.New("session: invalid session directory name")

	// ErrLocked is returned by [Session.Lock] when another process holds the
	// session.
	ErrLocked = errors.New("session: locked by another process")

	// ErrNoSessions is returned by [Latest] when root holds no session.
	ErrNoSessions = errors.New("session: no sessions found")
)

// Session is one recording session on disk.
type Session struct {
	// ChannelID is the voice channel that was recorded.
	ChannelID string

	// StartMs is the Unix millisecond time recording started. Every fragment
	// offset is relative to it.
	StartMs int64

	// Dir is the session directory.
	Dir string
}

// Name returns the directory name of s.
func (s Session) Name() string {
	return s.ChannelID + "-" + strconv.FormatInt(s.StartMs, 10)
}

// Start returns the recording start as a time.
func (s Session) Start() time.Time {
	return time.UnixMilli(s.StartMs)
}

// Parse interprets dir as a session directory. Only the base name is
// inspected; dir does not have to exist.
func Parse(dir string) (Session, error) {
	base := filepath.Base(filepath.Clean(dir))
	channel, ts, ok := strings.Cut(base, "-")
	if !ok || channel == "" {
		return Session{}, fmt.Errorf("%w: %q", ErrInvalidName, base)
	}
	startMs, err := strconv.ParseInt(ts, 10, 64)
	if err != nil || startMs < 0 {
		return Session{}, fmt.Errorf("%w: %q: bad start time", ErrInvalidName, base)
	}
	return Session{ChannelID: channel, StartMs: startMs, Dir: dir}, nil
}

// New creates the directory for a session of channel starting at at under
// root. root is created when missing.
func New(root, channel string, at time.Time) (Session, error) {
	if channel == "" || strings.Contains(channel, "-") {
		return Session{}, fmt.Errorf("%w: channel %q", ErrInvalidName, channel)
	}
	s := Session{ChannelID: channel, StartMs: at.UnixMilli()}
	s.Dir = filepath.Join(root, s.Name())
	if err := os.MkdirAll(root, 0o755); err != nil {
		return Session{}, fmt.Errorf("session: create root: %w", err)
	}
	if err := os.Mkdir(s.Dir, 0o755); err != nil {
		return Session{}, fmt.Errorf("session: create: %w", err)
	}
	return s, nil
}

// List returns every session directory under root, newest first. Entries
// that do not parse as sessions are ignored.
func List(root string) ([]Session, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("session: list: %w", err)
	}
	var sessions []Session
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		s, err := Parse(filepath.Join(root, e.Name()))
		if err != nil {
			continue
		}
		sessions = append(sessions, s)
	}
	slices.SortFunc(sessions, func(a, b Session) int {
		if c := cmp.Compare(b.StartMs, a.StartMs); c != 0 {
			return c
		}
		return cmp.Compare(a.ChannelID, b.ChannelID)
	})
	return sessions, nil
}

// Latest returns the most recently started session under root.
func Latest(root string) (Session, error) {
	sessions, err := List(root)
	if err != nil {
		return Session{}, err
	}
	if len(sessions) == 0 {
		return Session{}, fmt.Errorf("%w in %s", ErrNoSessions, root)
	}
	return sessions[0], nil
}

// Lock takes an exclusive, non-blocking lock on the session. A recorder holds
// it while capturing and a processor while reassembling, so neither runs on
// a session the other is using. The returned function releases the lock;
// the lock file stays in place so that every holder locks the same inode.
func (s Session) Lock() (unlock func() error, err error) {
	l := flock.New(filepath.Join(s.Dir, lockName))
	ok, err := l.TryLock()
	if err != nil {
		return nil, fmt.Errorf("session: acquire lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLocked, s.Dir)
	}
	return l.Unlock, nil
}

// Inventory is the result of scanning a session for capture logs.
type Inventory struct {
	// Fragments holds the fragments of every speaker in capture order.
	// SampleCount is zero until the fragments are decoded.
	Fragments map[string][]reassembly.Fragment

	// Rejected holds speakers whose fragments cannot be placed on the
	// session timeline.
	Rejected map[string]error
}

// Speakers returns the speakers with usable fragments, sorted.
func (inv Inventory) Speakers() []string {
	speakers := make([]string, 0, len(inv.Fragments))
	for sp := range inv.Fragments {
		speakers = append(speakers, sp)
	}
	slices.Sort(speakers)
	return speakers
}

// Scan groups the capture logs of s by speaker and computes each fragment's
// offset from the session start. A speaker with any fragment starting before
// the session is rejected as a whole.
func (s Session) Scan() (Inventory, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		return Inventory{}, fmt.Errorf("session: scan: %w", err)
	}
	inv := Inventory{
		Fragments: make(map[string][]reassembly.Fragment),
		Rejected:  make(map[string]error),
	}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != capturelog.CaptureExt {
			continue
		}
		speaker, ts, err := capturelog.ParseName(e.Name())
		if err != nil {
			continue
		}
		if _, rejected := inv.Rejected[speaker]; rejected {
			continue
		}
		f := reassembly.Fragment{
			Name:        filepath.Join(s.Dir, capturelog.Name(speaker, ts, capturelog.RawExt)),
			Log:         filepath.Join(s.Dir, e.Name()),
			Speaker:     speaker,
			TimestampMs: ts,
			OffsetMs:    ts - s.StartMs,
		}
		if f.OffsetMs < 0 {
			inv.Rejected[speaker] = fmt.Errorf("%w: %s is %d ms before the session start",
				reassembly.ErrNegativeOffset, e.Name(), -f.OffsetMs)
			delete(inv.Fragments, speaker)
			continue
		}
		inv.Fragments[speaker] = append(inv.Fragments[speaker], f)
	}
	for _, frags := range inv.Fragments {
		slices.SortStableFunc(frags, func(a, b reassembly.Fragment) int {
			return cmp.Compare(a.OffsetMs, b.OffsetMs)
		})
	}
	return inv, nil
}
