package ffmpeg

import (
	"strconv"
	"strings"
)

// Input is one audio input of a pass together with the filters applied to it
// before concatenation.
type Input struct {
	// Path is the file read by ffmpeg.
	Path string

	// Filters is the ordered filter chain for this input, e.g.
	// ["apad=whole_len=72000", "adelay=2400S|2400S"].
	Filters []string

	// Temp marks an intermediate file produced by an earlier pass.
	Temp bool
}

// Output is the destination of a pass.
type Output struct {
	// Path is the file written by ffmpeg, including its extension.
	Path string

	// Format is the encoding written to Path.
	Format OutputFormat

	// Temp marks an intermediate file consumed by a later pass.
	Temp bool
}

// Pass is one ffmpeg invocation: read every input as raw PCM, apply its
// filters, concatenate all inputs in order and write the result to Output.
type Pass struct {
	Inputs []Input
	Output Output
	Raw    RawFormat
}

// Pad returns the filter that extends a stream with silence to exactly n
// samples in total.
func Pad(n int64) string {
	return "apad=whole_len=" + strconv.FormatInt(n, 10)
}

// Trim returns the filter that cuts a stream after n samples.
func Trim(n int64) string {
	return "atrim=end_sample=" + strconv.FormatInt(n, 10)
}

// Delay returns the filter that prepends n samples of silence to each of
// channels channels.
func Delay(n int64, channels int) string {
	d := strconv.FormatInt(n, 10) + "S"
	parts := make([]string, max(channels, 1))
	for i := range parts {
		parts[i] = d
	}
	return "adelay=" + strings.Join(parts, "|")
}

// FilterGraph returns the -filter_complex value for the pass.
func (p Pass) FilterGraph() string {
	var chains []string
	var labels strings.Builder
	for i, in := range p.Inputs {
		idx := strconv.Itoa(i)
		if len(in.Filters) > 0 {
			chains = append(chains, "["+idx+"]"+strings.Join(in.Filters, ",")+"[l"+idx+"]")
			labels.WriteString("[l" + idx + "]")
		} else {
			labels.WriteString("[" + idx + "]")
		}
	}
	concat := labels.String() + "concat=n=" + strconv.Itoa(len(p.Inputs)) + ":v=0:a=1[a]"
	if len(chains) == 0 {
		return concat
	}
	return strings.Join(chains, "; ") + "; " + concat
}

// Args returns the complete ffmpeg argument list, excluding the binary.
func (p Pass) Args() ([]string, error) {
	out, err := OutputArgs(p.Output.Format, p.Raw, p.Output.Path)
	if err != nil {
		return nil, err
	}
	args := []string{"-hide_banner", "-nostdin", "-y"}
	for _, in := range p.Inputs {
		args = append(args, p.Raw.InputArgs()...)
		args = append(args, "-i", in.Path)
	}
	args = append(args, "-filter_complex", p.FilterGraph(), "-map", "[a]")
	return append(args, out...), nil
}

// CommandLine renders binary and args as the shell command text the
// invocation corresponds to. Its length is what the command limit bounds.
func CommandLine(binary string, args []string) string {
	var b strings.Builder
	b.WriteString(shellQuote(binary))
	for _, a := range args {
		b.WriteByte(' ')
		b.WriteString(shellQuote(a))
	}
	return b.String()
}

// shellQuote wraps s in double quotes when it contains anything outside a
// conservative set of shell-safe characters.
func shellQuote(s string) string {
	if s == "" {
		return `""`
	}
	safe := true
	for _, r := range s {
		if !isShellSafe(r) {
			safe = false
			break
		}
	}
	if safe {
		return s
	}
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, `$`, `\$`, "`", "\\`")
	return `"` + r.Replace(s) + `"`
}

func isShellSafe(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	}
	return strings.ContainsRune("-_./:=,+@%", r)
}
