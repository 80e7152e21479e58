package reassembly

import (
	"errors"
	"math/rand/v2"
	"testing"
)

// startSample returns where fragment k begins on the reassembled timeline:
// the first fragment's delay plus the padded length of every earlier one.
func startSample(frags []Fragment, k int) int64 {
	pos := frags[0].Delay
	for i := 0; i < k; i++ {
		pos += frags[i].TotalSampleLength
	}
	return pos
}

func TestSynchronize_ExactPadTarget(t *testing.T) {
	t.Parallel()

	frags := []Fragment{
		{Name: "b", OffsetMs: 1500, SampleCount: 10},
		{Name: "a", OffsetMs: 0, SampleCount: 24000}, // 500 ms at 48 kHz
	}
	s := NewSynchronizer(48000)
	if err := s.Synchronize(frags); err != nil {
		t.Fatalf("Synchronize: %v", err)
	}
	if frags[0].Name != "a" {
		t.Fatalf("fragments not sorted by offset: first = %q", frags[0].Name)
	}
	if got := frags[0].TotalSampleLength; got != 72000 {
		t.Errorf("pad target = %d, want exactly 72000", got)
	}
	if got := frags[0].Pad(); got != 48000 {
		t.Errorf("Pad() = %d, want 48000", got)
	}
	if frags[0].Delay != 0 {
		t.Errorf("Delay = %d, want 0", frags[0].Delay)
	}
	if frags[1].Padded || frags[1].TotalSampleLength != 0 {
		t.Errorf("last fragment must not be padded: %+v", frags[1])
	}
	if s.LeftOver() != 0 {
		t.Errorf("LeftOver = %v, want 0", s.LeftOver())
	}
}

func TestSynchronize_FirstFragmentDelay(t *testing.T) {
	t.Parallel()

	frags := []Fragment{{OffsetMs: 2500}, {OffsetMs: 4000}}
	if err := NewSynchronizer(48000).Synchronize(frags); err != nil {
		t.Fatalf("Synchronize: %v", err)
	}
	if frags[0].Delay != 120000 {
		t.Errorf("Delay = %d, want 120000", frags[0].Delay)
	}
	if frags[1].Delay != 0 {
		t.Errorf("second fragment Delay = %d, want 0", frags[1].Delay)
	}
}

func TestSynchronize_CarriesFractionalSamples(t *testing.T) {
	t.Parallel()

	// At 44.1 kHz one millisecond is 44.1 samples: nine 1 ms gaps bank
	// 0.9 samples, the tenth pays out a whole one.
	frags := make([]Fragment, 11)
	for i := range frags {
		frags[i].OffsetMs = int64(i)
	}
	s := NewSynchronizer(44100)
	if err := s.Synchronize(frags); err != nil {
		t.Fatalf("Synchronize: %v", err)
	}
	for i := 0; i < 9; i++ {
		if frags[i].TotalSampleLength != 44 {
			t.Errorf("fragment %d target = %d, want 44", i, frags[i].TotalSampleLength)
		}
	}
	if frags[9].TotalSampleLength != 45 {
		t.Errorf("fragment 9 target = %d, want 45", frags[9].TotalSampleLength)
	}
	if got := startSample(frags, 10); got != 441 {
		t.Errorf("start of fragment 10 = %d, want 441", got)
	}
}

func TestSynchronize_DriftFree(t *testing.T) {
	t.Parallel()

	rates := []int{8000, 22050, 44100, 48000, 96000}
	rng := rand.New(rand.NewPCG(1, 2))
	for _, rate := range rates {
		for trial := 0; trial < 50; trial++ {
			n := 2 + rng.IntN(400)
			frags := make([]Fragment, n)
			var off int64
			for i := range frags {
				off += int64(rng.IntN(5000))
				frags[i] = Fragment{OffsetMs: off, SampleCount: int64(rng.IntN(rate))}
			}
			rng.Shuffle(n, func(i, j int) { frags[i], frags[j] = frags[j], frags[i] })

			s := NewSynchronizer(rate)
			if err := s.Synchronize(frags); err != nil {
				t.Fatalf("Synchronize: %v", err)
			}
			if lo := s.LeftOver(); lo < 0 || lo >= 1 {
				t.Fatalf("rate %d: LeftOver = %v, want in [0,1)", rate, lo)
			}
			for k := range frags {
				// ideal start in thousandths of a sample
				ideal := int64(rate) * frags[k].OffsetMs
				got := startSample(frags, k) * 1000
				if got > ideal || ideal-got >= 1000 {
					t.Fatalf("rate %d fragment %d: start %d/1000 samples, ideal %d/1000", rate, k, got, ideal)
				}
			}
		}
	}
}

func TestSynchronize_Overrun(t *testing.T) {
	t.Parallel()

	frags := []Fragment{
		{OffsetMs: 0, SampleCount: 50000},
		{OffsetMs: 1000, SampleCount: 10},
	}
	if err := NewSynchronizer(48000).Synchronize(frags); err != nil {
		t.Fatalf("Synchronize: %v", err)
	}
	if !frags[0].Overrun() {
		t.Error("expected overrun for 50000 samples in a 48000 sample slot")
	}
	if frags[0].Pad() != 0 {
		t.Errorf("Pad() = %d, want 0", frags[0].Pad())
	}
}

func TestSynchronize_Errors(t *testing.T) {
	t.Parallel()

	if err := NewSynchronizer(0).Synchronize([]Fragment{{}}); err == nil {
		t.Error("expected error for zero sample rate")
	}
	err := NewSynchronizer(48000).Synchronize([]Fragment{{OffsetMs: -1}})
	if !errors.Is(err, ErrNegativeOffset) {
		t.Errorf("err = %v, want ErrNegativeOffset", err)
	}
	if err := NewSynchronizer(48000).Synchronize(nil); err != nil {
		t.Errorf("empty fragment list: %v", err)
	}
}
