// Package opus decodes individually captured Opus frames into interleaved
// signed 16-bit little-endian PCM.
//
// Frames arrive one at a time from a capture log, so each [Adapter] wraps a
// stateful decoder that must be fed the frames of exactly one fragment in
// their original order. When a frame cannot be decoded as-is the adapter
// tries its configured [Fallback] rewrites before giving up on the frame.
package opus

import (
	"bytes"
	"errors"
	"fmt"
	"sync/atomic"

	"layeh.com/gopus"
)

// ErrUndecodable is returned by [Adapter.Decode] when the primary attempt and
// every fallback failed. The frame should be dropped by the caller.
var ErrUndecodable = errors.New("opus: frame undecodable")

// SilenceFrame is the comfort-noise packet Discord sends after a speaker stops
// talking. It marks the end of a speaking burst.
var SilenceFrame = []byte{0xF8, 0xFF, 0xFE}

// IsSilence reports whether frame is the reserved end-of-burst sentinel.
func IsSilence(frame []byte) bool {
	return bytes.Equal(frame, SilenceFrame)
}

// Format is the sample layout negotiated once per capture session. Every
// frame decoded within a session must use the same Format.
type Format struct {
	// SampleRate in Hz.
	SampleRate int

	// Channels is the interleaved channel count.
	Channels int

	// FrameSize is the maximum number of samples per channel a single
	// decode call may produce.
	FrameSize int
}

// DiscordFormat is the layout of Discord voice: 48 kHz stereo, with room for
// 40 ms frames per decode call.
var DiscordFormat = Format{SampleRate: 48000, Channels: 2, FrameSize: 1920}

// Validate reports whether f describes a layout libopus can decode.
func (f Format) Validate() error {
	switch f.SampleRate {
	case 8000, 12000, 16000, 24000, 48000:
	default:
		return fmt.Errorf("opus: unsupported sample rate %d", f.SampleRate)
	}
	if f.Channels != 1 && f.Channels != 2 {
		return fmt.Errorf("opus: unsupported channel count %d", f.Channels)
	}
	if f.FrameSize <= 0 {
		return fmt.Errorf("opus: frame size must be positive, got %d", f.FrameSize)
	}
	return nil
}

// BytesPerSample is the size of one interleaved sample frame (all channels)
// in the decoded s16le output.
func (f Format) BytesPerSample() int {
	return 2 * f.Channels
}

// FrameDecoder decodes one Opus packet into interleaved int16 samples.
type FrameDecoder interface {
	Decode(frame []byte) ([]int16, error)
}

// gopusDecoder wraps a gopus decoder for a single fragment.
type gopusDecoder struct {
	dec       *gopus.Decoder
	frameSize int
}

// NewDecoder creates a libopus-backed [FrameDecoder] for the given format.
func NewDecoder(f Format) (FrameDecoder, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	dec, err := gopus.NewDecoder(f.SampleRate, f.Channels)
	if err != nil {
		return nil, fmt.Errorf("opus: create decoder: %w", err)
	}
	return &gopusDecoder{dec: dec, frameSize: f.FrameSize}, nil
}

func (d *gopusDecoder) Decode(frame []byte) ([]int16, error) {
	pcm, err := d.dec.Decode(frame, d.frameSize, false)
	if err != nil {
		return nil, fmt.Errorf("opus: decode: %w", err)
	}
	return pcm, nil
}

// Fallback rewrites a frame that failed to decode. It returns false when the
// rewrite does not apply to frame.
type Fallback func(frame []byte) ([]byte, bool)

// StripHeader returns a [Fallback] that drops the first n bytes of a frame.
// Some captured frames carry an extra header the decoder does not expect.
// This is an empirical compatibility shim, not a documented frame layout.
func StripHeader(n int) Fallback {
	return func(frame []byte) ([]byte, bool) {
		if len(frame) <= n {
			return nil, false
		}
		return frame[n:], true
	}
}

// DefaultFallbacks is the fallback chain used when none is supplied.
func DefaultFallbacks() []Fallback {
	return []Fallback{StripHeader(8)}
}

// Stats counts decode outcomes for one adapter.
type Stats struct {
	Decoded   int64
	Recovered int64
	Dropped   int64
}

// Adapter decodes frames with a primary decoder and an ordered list of
// fallbacks. An Adapter is bound to one fragment and is not safe for
// concurrent Decode calls; Stats may be read concurrently.
type Adapter struct {
	dec       FrameDecoder
	fallbacks []Fallback

	decoded   atomic.Int64
	recovered atomic.Int64
	dropped   atomic.Int64
}

// NewAdapter wraps dec. A nil fallbacks slice selects [DefaultFallbacks]; an
// empty non-nil slice disables fallback decoding.
func NewAdapter(dec FrameDecoder, fallbacks []Fallback) *Adapter {
	if fallbacks == nil {
		fallbacks = DefaultFallbacks()
	}
	return &Adapter{dec: dec, fallbacks: fallbacks}
}

// Decode decodes frame into s16le PCM bytes. It returns an error wrapping
// [ErrUndecodable] when the frame has to be dropped.
func (a *Adapter) Decode(frame []byte) ([]byte, error) {
	pcm, err := a.dec.Decode(frame)
	if err == nil {
		a.decoded.Add(1)
		return int16sToBytes(pcm), nil
	}
	errs := []error{err}
	for _, fb := range a.fallbacks {
		rewritten, ok := fb(frame)
		if !ok {
			continue
		}
		pcm, ferr := a.dec.Decode(rewritten)
		if ferr == nil {
			a.decoded.Add(1)
			a.recovered.Add(1)
			return int16sToBytes(pcm), nil
		}
		errs = append(errs, ferr)
	}
	a.dropped.Add(1)
	return nil, fmt.Errorf("%w: %w", ErrUndecodable, errors.Join(errs...))
}

// Stats returns a snapshot of the decode counters.
func (a *Adapter) Stats() Stats {
	return Stats{
		Decoded:   a.decoded.Load(),
		Recovered: a.recovered.Load(),
		Dropped:   a.dropped.Load(),
	}
}

// int16sToBytes converts a slice of int16 PCM samples to little-endian bytes.
func int16sToBytes(pcm []int16) []byte {
	b := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		b[i*2] = byte(s)
		b[i*2+1] = byte(s >> 8)
	}
	return b
}
