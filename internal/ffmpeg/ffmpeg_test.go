package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
)

// ─── test helpers ─────────────────────────────────────────────────────────────

var discordRaw = RawFormat{SampleRate: 48000, Channels: 2}

// fakeRunner records invocations and creates the output file (the last
// argument). failAt makes the n-th call (1-based) fail.
type fakeRunner struct {
	mu     sync.Mutex
	calls  [][]string
	failAt int
}

func (f *fakeRunner) Run(_ context.Context, args []string) error {
	f.mu.Lock()
	f.calls = append(f.calls, args)
	n := len(f.calls)
	f.mu.Unlock()

	out := args[len(args)-1]
	if err := os.WriteFile(out, []byte("partial"), 0o644); err != nil {
		return err
	}
	if n == f.failAt {
		return &ExitError{Args: args, ExitCode: 1, Stderr: "boom", Err: errors.New("exit status 1")}
	}
	return nil
}

func makeInputs(dir string, n int) []Input {
	inputs := make([]Input, n)
	for i := range inputs {
		inputs[i] = Input{Path: filepath.Join(dir, fmt.Sprintf("123456789012345678-%013d.raw_pcm", 1700000000000+i))}
		if i < n-1 {
			inputs[i].Filters = []string{Pad(int64(48000 + i))}
		}
	}
	inputs[0].Filters = append(inputs[0].Filters, Delay(96000, 2))
	return inputs
}

func planRequest(dir string, inputs []Input, limit int) PlanRequest {
	return PlanRequest{
		Binary: "ffmpeg",
		Inputs: inputs,
		Raw:    discordRaw,
		Output: Output{Path: filepath.Join(dir, "spk-1700000000000.wav"), Format: FormatWAV},
		TempPath: func(n int) string {
			return filepath.Join(dir, fmt.Sprintf("spk-1700000000000-tmp-%d.raw_pcm", n))
		},
		MaxCommandLength: limit,
	}
}

// flatten expands every temporary input into the inputs of the pass that
// produced it, yielding the order of source inputs in the final output.
func flatten(passes []Pass) []string {
	produced := map[string][]string{}
	var last []string
	for _, p := range passes {
		var seq []string
		for _, in := range p.Inputs {
			if in.Temp {
				seq = append(seq, produced[in.Path]...)
			} else {
				seq = append(seq, in.Path)
			}
		}
		produced[p.Output.Path] = seq
		last = seq
	}
	return last
}

// ─── filters / graph ──────────────────────────────────────────────────────────

func TestFilterGraph(t *testing.T) {
	t.Parallel()

	p := Pass{
		Inputs: []Input{
			{Path: "a", Filters: []string{Pad(72000), Delay(2400, 2)}},
			{Path: "b"},
		},
		Raw: discordRaw,
	}
	want := "[0]apad=whole_len=72000,adelay=2400S|2400S[l0]; [l0][1]concat=n=2:v=0:a=1[a]"
	if got := p.FilterGraph(); got != want {
		t.Errorf("FilterGraph =\n %q\nwant\n %q", got, want)
	}

	plain := Pass{Inputs: []Input{{Path: "x"}}, Raw: discordRaw}
	if got := plain.FilterGraph(); got != "[0]concat=n=1:v=0:a=1[a]" {
		t.Errorf("FilterGraph(plain) = %q", got)
	}
}

func TestPassArgs(t *testing.T) {
	t.Parallel()

	p := Pass{
		Inputs: []Input{{Path: "in.raw_pcm", Filters: []string{Trim(10)}}},
		Output: Output{Path: "out.pcm", Format: FormatPCM},
		Raw:    discordRaw,
	}
	args, err := p.Args()
	if err != nil {
		t.Fatalf("Args: %v", err)
	}
	want := []string{
		"-hide_banner", "-nostdin", "-y",
		"-f", "s16le", "-ar", "48000", "-ac", "2", "-i", "in.raw_pcm",
		"-filter_complex", "[0]atrim=end_sample=10[l0]; [l0]concat=n=1:v=0:a=1[a]",
		"-map", "[a]",
		"-f", "s16le", "-ar", "48000", "-ac", "2", "out.pcm",
	}
	if !slices.Equal(args, want) {
		t.Errorf("Args =\n %q\nwant\n %q", args, want)
	}
}

func TestCommandLine_Quotes(t *testing.T) {
	t.Parallel()

	got := CommandLine("ffmpeg", []string{"-i", "my file.raw", "-map", "[a]"})
	want := `ffmpeg -i "my file.raw" -map "[a]"`
	if got != want {
		t.Errorf("CommandLine = %q, want %q", got, want)
	}
}

func TestOutputFormat_Validate(t *testing.T) {
	t.Parallel()

	for _, f := range OutputFormats {
		if err := f.Validate(); err != nil {
			t.Errorf("%s: %v", f, err)
		}
		if f.Extension() == "" {
			t.Errorf("%s: empty extension", f)
		}
	}
	if err := OutputFormat("ogg").Validate(); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("Validate(ogg) = %v, want ErrUnsupportedFormat", err)
	}
}

// ─── Plan ─────────────────────────────────────────────────────────────────────

func TestPlan_SinglePassWhenUnderLimit(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	inputs := makeInputs(dir, 5)
	passes, err := Plan(planRequest(dir, inputs, 100000))
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(passes) != 1 {
		t.Fatalf("got %d passes, want 1", len(passes))
	}
	if passes[0].Output.Temp || passes[0].Output.Format != FormatWAV {
		t.Errorf("single pass must write the final output: %+v", passes[0].Output)
	}
	if len(passes[0].Inputs) != 5 {
		t.Errorf("pass has %d inputs, want 5", len(passes[0].Inputs))
	}
}

func TestPlan_SplitsAndPreservesOrder(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	inputs := makeInputs(dir, 120)
	const limit = 2000
	req := planRequest(dir, inputs, limit)

	unlimited, err := Plan(planRequest(dir, inputs, 1<<30))
	if err != nil {
		t.Fatalf("Plan(unlimited): %v", err)
	}
	if len(unlimited) != 1 {
		t.Fatalf("unlimited plan has %d passes, want 1", len(unlimited))
	}
	args, _ := unlimited[0].Args()
	if n := len(CommandLine("ffmpeg", args)); n <= limit {
		t.Fatalf("test setup: single pass is only %d characters", n)
	}

	passes, err := Plan(req)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(passes) < 2 {
		t.Fatalf("got %d passes, want >= 2", len(passes))
	}
	for i, p := range passes {
		args, err := p.Args()
		if err != nil {
			t.Fatalf("pass %d Args: %v", i, err)
		}
		if n := len(CommandLine("ffmpeg", args)); n > limit {
			t.Errorf("pass %d command is %d characters, limit %d", i, n, limit)
		}
		last := i == len(passes)-1
		if p.Output.Temp == last {
			t.Errorf("pass %d: Output.Temp = %v", i, p.Output.Temp)
		}
		if i > 0 {
			if !p.Inputs[0].Temp || p.Inputs[0].Path != passes[i-1].Output.Path {
				t.Errorf("pass %d input #0 = %+v, want previous temp output %q", i, p.Inputs[0], passes[i-1].Output.Path)
			}
			if len(p.Inputs[0].Filters) != 0 {
				t.Errorf("pass %d: temp input must not be filtered", i)
			}
		}
	}
	if got, want := flatten(passes), flatten(unlimited); !slices.Equal(got, want) {
		t.Errorf("concatenation order differs from single pass:\n got %v\nwant %v", got, want)
	}
}

func TestPlan_FilterOrderPadThenDelay(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	passes, err := Plan(planRequest(dir, makeInputs(dir, 2), 0))
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	g := passes[0].FilterGraph()
	if strings.Index(g, "apad") > strings.Index(g, "adelay") {
		t.Errorf("pad must precede delay in %q", g)
	}
}

func TestPlan_Errors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if _, err := Plan(planRequest(dir, makeInputs(dir, 3), 50)); !errors.Is(err, ErrCommandTooLong) {
		t.Errorf("tiny limit: err = %v, want ErrCommandTooLong", err)
	}
	req := planRequest(dir, makeInputs(dir, 3), 0)
	req.Output.Format = "opus"
	if _, err := Plan(req); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("bad format: err = %v, want ErrUnsupportedFormat", err)
	}
	if _, err := Plan(planRequest(dir, nil, 0)); err == nil {
		t.Error("expected error for empty input list")
	}
}

// ─── Execute ──────────────────────────────────────────────────────────────────

func TestExecute_RemovesTempFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	passes, err := Plan(planRequest(dir, makeInputs(dir, 120), 2000))
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	r := &fakeRunner{}
	var observed []int
	if err := Execute(context.Background(), r, passes, func(pr PassResult) { observed = append(observed, pr.Index) }); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(r.calls) != len(passes) || len(observed) != len(passes) {
		t.Fatalf("ran %d passes (observed %d), want %d", len(r.calls), len(observed), len(passes))
	}
	tmps, _ := filepath.Glob(filepath.Join(dir, "*-tmp-*"))
	if len(tmps) != 0 {
		t.Errorf("temporary files left behind: %v", tmps)
	}
	if _, err := os.Stat(passes[len(passes)-1].Output.Path); err != nil {
		t.Errorf("final output missing: %v", err)
	}
}

func TestExecute_FailureCleansUp(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	passes, err := Plan(planRequest(dir, makeInputs(dir, 120), 2000))
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(passes) < 3 {
		t.Fatalf("test setup: need >= 3 passes, got %d", len(passes))
	}
	r := &fakeRunner{failAt: 2}
	err = Execute(context.Background(), r, passes, nil)
	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("err = %v, want *ExitError", err)
	}
	if !strings.Contains(err.Error(), "boom") {
		t.Errorf("error does not carry stderr: %v", err)
	}
	if len(r.calls) != 2 {
		t.Errorf("ran %d passes after failure, want 2", len(r.calls))
	}
	leftovers, _ := filepath.Glob(filepath.Join(dir, "spk-*"))
	if len(leftovers) != 0 {
		t.Errorf("files left behind after failure: %v", leftovers)
	}
}

func TestExecute_CancelledContext(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	passes, _ := Plan(planRequest(dir, makeInputs(dir, 2), 0))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := &fakeRunner{}
	if err := Execute(ctx, r, passes, nil); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if len(r.calls) != 0 {
		t.Errorf("runner called %d times on cancelled context", len(r.calls))
	}
}

// ─── ExecRunner ───────────────────────────────────────────────────────────────

func TestExecRunner_NonZeroExit(t *testing.T) {
	t.Parallel()

	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	r := ExecRunner{Binary: sh}
	err = r.Run(context.Background(), []string{"-c", "echo broken graph >&2; exit 3"})
	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("err = %v, want *ExitError", err)
	}
	if exitErr.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", exitErr.ExitCode)
	}
	if exitErr.Stderr != "broken graph" {
		t.Errorf("Stderr = %q, want %q", exitErr.Stderr, "broken graph")
	}
	if err := r.Run(context.Background(), []string{"-c", "exit 0"}); err != nil {
		t.Errorf("Run(exit 0) = %v", err)
	}
}

func TestTailBuffer(t *testing.T) {
	t.Parallel()

	var tb tailBuffer
	tb.Write([]byte(strings.Repeat("a", maxStderr)))
	tb.Write([]byte("end"))
	s := tb.String()
	if len(s) != maxStderr || !strings.HasSuffix(s, "end") {
		t.Errorf("tail buffer kept %d bytes, suffix %q", len(s), s[len(s)-3:])
	}
}
