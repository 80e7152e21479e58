package observe

import (
	"context"
	"errors"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

// sumFor returns the value of the data point carrying key=value, or -1.
func sumFor(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not a sum", name)
	}
	for _, dp := range sum.DataPoints {
		if key == "" {
			return dp.Value
		}
		for _, kv := range dp.Attributes.ToSlice() {
			if string(kv.Key) == key && kv.Value.AsString() == value {
				return dp.Value
			}
		}
	}
	return -1
}

func TestRecordFrames(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordFrames(ctx, "111", 100, 3, 2)
	m.RecordFrames(ctx, "111", 50, 0, 0)
	m.RecordFrames(ctx, "222", 7, 0, 1)

	rm := collect(t, reader)
	tests := []struct {
		name    string
		speaker string
		want    int64
	}{
		{"podbot.frames.decoded", "111", 150},
		{"podbot.frames.decoded", "222", 7},
		{"podbot.frames.recovered", "111", 3},
		{"podbot.frames.dropped", "111", 2},
		{"podbot.frames.dropped", "222", 1},
	}
	for _, tc := range tests {
		t.Run(tc.name+"/"+tc.speaker, func(t *testing.T) {
			if got := sumFor(t, rm, tc.name, "speaker", tc.speaker); got != tc.want {
				t.Errorf("value = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestRecordPass(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordPass(ctx, StatusOK, 2*time.Second)
	m.RecordPass(ctx, StatusOK, 3*time.Second)
	m.RecordPass(ctx, Status(errors.New("exit 1")), time.Second)

	rm := collect(t, reader)
	if got := sumFor(t, rm, "podbot.passes", "status", StatusOK); got != 2 {
		t.Errorf("ok passes = %d, want 2", got)
	}
	if got := sumFor(t, rm, "podbot.passes", "status", StatusError); got != 1 {
		t.Errorf("failed passes = %d, want 1", got)
	}

	met := findMetric(rm, "podbot.pass.duration")
	if met == nil {
		t.Fatal("podbot.pass.duration not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("podbot.pass.duration is not a histogram")
	}
	var count uint64
	for _, dp := range hist.DataPoints {
		count += dp.Count
	}
	if count != 3 {
		t.Errorf("sample count = %d, want 3", count)
	}
}

func TestRecordSpeaker(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordSpeaker(ctx, StatusOK, time.Minute)
	m.RecordSpeaker(ctx, StatusError, time.Second)
	m.RecordSpeaker(ctx, StatusError, time.Second)

	rm := collect(t, reader)
	if got := sumFor(t, rm, "podbot.speakers.failed", "", ""); got != 2 {
		t.Errorf("speakers failed = %d, want 2", got)
	}
	if findMetric(rm, "podbot.speaker.duration") == nil {
		t.Error("podbot.speaker.duration not found")
	}
}

func TestCaptureInstruments(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	// UpDownCounters are additive: two opens and one close leave 1 active.
	m.RecordCaptureOpened(ctx, "111")
	m.RecordCaptureOpened(ctx, "111")
	m.RecordCaptureClosed(ctx)

	rm := collect(t, reader)
	if got := sumFor(t, rm, "podbot.fragments.opened", "speaker", "111"); got != 2 {
		t.Errorf("fragments opened = %d, want 2", got)
	}
	if got := sumFor(t, rm, "podbot.active_captures", "", ""); got != 1 {
		t.Errorf("active captures = %d, want 1", got)
	}
}

func TestStatus(t *testing.T) {
	if got := Status(nil); got != StatusOK {
		t.Errorf("Status(nil) = %q", got)
	}
	if got := Status(errors.New("x")); got != StatusError {
		t.Errorf("Status(err) = %q", got)
	}
}

func TestRecordReconnect(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordReconnect(ctx, StatusError)
	m.RecordReconnect(ctx, StatusError)
	m.RecordReconnect(ctx, StatusOK)

	met := findMetric(collect(t, reader), "podbot.reconnects")
	if met == nil {
		t.Fatal("metric not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric is %T, want Sum[int64]", met.Data)
	}
	got := map[string]int64{}
	for _, dp := range sum.DataPoints {
		v, _ := dp.Attributes.Value("status")
		got[v.AsString()] = dp.Value
	}
	if got[StatusOK] != 1 || got[StatusError] != 2 {
		t.Errorf("reconnects by status = %v", got)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	// DefaultMetrics uses the global OTel provider so we just check
	// that repeated calls return the same pointer.
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}
