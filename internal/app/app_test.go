package app_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/podbot/internal/config"
	"github.com/MrWong99/podbot/internal/ffmpeg"
	"github.com/MrWong99/podbot/internal/observe"
	"github.com/MrWong99/podbot/pkg/audio/opus"
)

// ─── test helpers ─────────────────────────────────────────────────────────────

// fakeRunner creates each output file instead of running ffmpeg.
type fakeRunner struct {
	mu     sync.Mutex
	calls  [][]string
	failIf func(output string) bool
}

func (f *fakeRunner) Run(_ context.Context, args []string) error {
	out := args[len(args)-1]
	f.mu.Lock()
	f.calls = append(f.calls, args)
	f.mu.Unlock()
	if f.failIf != nil && f.failIf(filepath.Base(out)) {
		return errors.New("exit status 1")
	}
	return os.WriteFile(out, []byte("audio"), 0o644)
}

func (f *fakeRunner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// stubDecoder decodes any frame to 20 ms of stereo silence.
type stubDecoder struct{}

func (stubDecoder) Decode([]byte) ([]int16, error) { return make([]int16, 2*960), nil }

func stubFrameDecoder(opus.Format) (opus.FrameDecoder, error) { return stubDecoder{}, nil }

const sessionStart = 1_000_000

// newSession creates "chan-<sessionStart>" under a temp root and writes a
// ten-frame capture log per (speaker, timestamp) pair.
func newSession(t *testing.T, logs map[string][]int64) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "555-"+strconv.Itoa(sessionStart))
	if err := os.Mkdir(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	body := []byte(strings.Repeat(",01aa", 10))
	for speaker, stamps := range logs {
		for _, ts := range stamps {
			name := speaker + "-" + strconv.FormatInt(ts, 10) + ".opus_string"
			if err := os.WriteFile(filepath.Join(dir, name), body, 0o644); err != nil {
				t.Fatal(err)
			}
		}
	}
	return dir
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Reassembly.OutputFormat = ffmpeg.FormatWAV
	return cfg
}

func newTestMetrics(t *testing.T) (*observe.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// counter returns the summed value of an int64 counter across data points.
func counter(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("metric %q is not an int64 sum", name)
			}
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	return 0
}

func exists(t *testing.T, path string) bool {
	t.Helper()
	_, err := os.Stat(path)
	return err == nil
}
