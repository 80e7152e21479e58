package audio

import "time"

// Frame is one compressed audio packet received from a single speaker.
// Frames are the unit the capture layer persists; they are never decoded
// while a session is live.
type Frame struct {
	// Speaker is the platform user ID the packet belongs to.
	Speaker string

	// Data is the opaque compressed payload (an Opus packet for Discord).
	Data []byte

	// CapturedAt is the wall-clock time the packet was received.
	CapturedAt time.Time
}
