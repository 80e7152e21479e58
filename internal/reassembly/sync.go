// Package reassembly turns one speaker's discontinuous capture fragments into
// a single continuous track aligned to the session timeline.
//
// The [Synchronizer] computes, for every fragment, how much silence must be
// prepended (delay, first fragment only) or appended (pad, every fragment but
// the last) so that fragment i+1 starts exactly where its capture timestamp
// says it should. [Speaker] drives the whole per-speaker pipeline: decode,
// synchronize, plan transcode passes, run them and clean up.
package reassembly

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
)

// milli is the number of fractional units per sample kept by the
// synchronizer. Offsets are integral milliseconds, so rate×ms/1000 is always
// an exact multiple of 1/1000 sample.
const milli = 1000

// ErrNegativeOffset is returned when a fragment starts before its session.
var ErrNegativeOffset = errors.New("reassembly: fragment starts before session")

// Fragment is one contiguous run of captured audio for a speaker.
type Fragment struct {
	// Name is the path of the fragment's decoded raw PCM file.
	Name string

	// Log is the path of the capture log the fragment is decoded from.
	Log string

	// Speaker is the speaker ID the fragment belongs to.
	Speaker string

	// TimestampMs is the absolute capture time of the first frame.
	TimestampMs int64

	// OffsetMs is TimestampMs relative to the session start.
	OffsetMs int64

	// SampleCount is the decoded length in samples per channel.
	SampleCount int64

	// Delay is the number of silent samples to prepend. Only the first
	// fragment of a speaker has a non-zero delay.
	Delay int64

	// TotalSampleLength is the length in samples the fragment must have
	// after padding. Only meaningful when Padded is set.
	TotalSampleLength int64

	// Padded is set on every fragment except the last one.
	Padded bool
}

// Pad returns the number of silent samples appended to reach
// TotalSampleLength. It is zero for unpadded or over-long fragments.
func (f Fragment) Pad() int64 {
	if !f.Padded || f.SampleCount >= f.TotalSampleLength {
		return 0
	}
	return f.TotalSampleLength - f.SampleCount
}

// Overrun reports whether the decoded audio is longer than the slot the
// timeline leaves for it, so the tail has to be cut.
func (f Fragment) Overrun() bool {
	return f.Padded && f.SampleCount > f.TotalSampleLength
}

// Synchronizer aligns the fragments of one speaker onto the session timeline.
// A Synchronizer carries the fractional samples left over from rounding and
// must not be shared between speakers.
type Synchronizer struct {
	// Rate is the output sample rate in Hz.
	Rate int

	// leftover is the accumulated fractional sample count in 1/milli units.
	// It stays in [0, milli).
	leftover int64
}

// NewSynchronizer returns a Synchronizer for the given sample rate.
func NewSynchronizer(rate int) *Synchronizer {
	return &Synchronizer{Rate: rate}
}

// LeftOver returns the fractional samples not yet assigned to any fragment.
// The value is always in [0, 1).
func (s *Synchronizer) LeftOver() float64 {
	return float64(s.leftover) / milli
}

// Synchronize sorts frags by offset and fills in Delay, TotalSampleLength and
// Padded.
//
// The ideal gap between fragment i and i+1 is Rate×Δms/1000 samples, which is
// generally fractional. The whole part becomes fragment i's target length and
// the remainder is accumulated; whenever the accumulator holds a whole sample
// it is moved into the current fragment. The start of every fragment therefore
// never deviates more than one sample from its ideal position, however many
// fragments follow.
func (s *Synchronizer) Synchronize(frags []Fragment) error {
	if s.Rate <= 0 {
		return fmt.Errorf("reassembly: invalid sample rate %d", s.Rate)
	}
	if len(frags) == 0 {
		return nil
	}
	for _, f := range frags {
		if f.OffsetMs < 0 {
			return fmt.Errorf("%w: %s at %d ms", ErrNegativeOffset, f.Name, f.OffsetMs)
		}
	}
	slices.SortStableFunc(frags, func(a, b Fragment) int {
		return cmp.Compare(a.OffsetMs, b.OffsetMs)
	})

	s.leftover = 0
	for i := range frags {
		frags[i].Delay = 0
		frags[i].TotalSampleLength = 0
		frags[i].Padded = false
	}

	frags[0].Delay = s.take(frags[0].OffsetMs)
	for i := 0; i < len(frags)-1; i++ {
		frags[i].TotalSampleLength = s.take(frags[i+1].OffsetMs - frags[i].OffsetMs)
		frags[i].Padded = true
	}
	return nil
}

// take converts a duration in milliseconds to whole samples, banking the
// fractional remainder and paying out whole samples from the bank.
func (s *Synchronizer) take(ms int64) int64 {
	exact := int64(s.Rate) * ms
	samples := exact / milli
	s.leftover += exact % milli
	if s.leftover >= milli {
		whole := s.leftover / milli
		s.leftover -= whole * milli
		samples += whole
	}
	return samples
}
