// Package audio defines the transport-neutral types shared by live capture
// and offline reassembly.
//
// A [Source] delivers compressed [Frame] values for every speaker on a voice
// channel through a single channel. Platform adapters (see audio/discord)
// implement Source; the capture layer consumes it without knowing which
// platform produced the frames.
package audio

// Source is an active receive-only voice connection.
//
// Implementations must be safe for concurrent use.
type Source interface {
	// Frames returns the channel that delivers received frames in arrival
	// order. The channel is closed when the source is closed or the
	// underlying connection terminates.
	Frames() <-chan Frame

	// Close tears down the connection. It is safe to call more than once;
	// subsequent calls are no-ops and return nil.
	Close() error
}
