package ffmpeg

import (
	"errors"
	"fmt"
)

// DefaultMaxCommandLength is the command text limit applied when a
// [PlanRequest] does not set one.
const DefaultMaxCommandLength = 8000

// ErrCommandTooLong is returned when a single input cannot be added to a pass
// without the command exceeding the limit, so no amount of splitting helps.
var ErrCommandTooLong = errors.New("ffmpeg: command exceeds length limit")

// PlanRequest describes the concatenation of one speaker's inputs.
type PlanRequest struct {
	// Binary is the ffmpeg executable; it counts towards the command length.
	Binary string

	// Inputs are concatenated in order.
	Inputs []Input

	// Raw is the layout of every input and of intermediate outputs.
	Raw RawFormat

	// Output is the final artifact.
	Output Output

	// TempPath names the intermediate output of pass n (0-based). Paths must
	// be unique per speaker so concurrent speakers never collide.
	TempPath func(n int) string

	// MaxCommandLength caps the command text of every pass, in characters.
	MaxCommandLength int
}

// Plan splits the concatenation into sequential passes.
//
// Inputs are added to the current pass one at a time. Before an input would
// push the command text over the limit, the pass is closed against a
// temporary raw output and a new pass starts whose input #0 is that
// temporary file; the input that did not fit is offered again. Only the last
// pass writes req.Output. Every pass consumes at least one new input, so the
// number of passes is bounded by the number of inputs. The audio order of the
// final output equals that of a single unlimited pass.
func Plan(req PlanRequest) ([]Pass, error) {
	if len(req.Inputs) == 0 {
		return nil, errors.New("ffmpeg: plan: no inputs")
	}
	if err := req.Output.Format.Validate(); err != nil {
		return nil, err
	}
	if req.TempPath == nil {
		return nil, errors.New("ffmpeg: plan: TempPath is required")
	}
	limit := req.MaxCommandLength
	if limit <= 0 {
		limit = DefaultMaxCommandLength
	}
	binary := req.Binary
	if binary == "" {
		binary = "ffmpeg"
	}

	var (
		passes []Pass
		cur    []Input
		fresh  int
	)
	for i := 0; i < len(req.Inputs); {
		candidate := append(append([]Input(nil), cur...), req.Inputs[i])
		n, err := commandLength(binary, req, candidate, len(passes))
		if err != nil {
			return nil, err
		}
		if n <= limit {
			cur = candidate
			fresh++
			i++
			continue
		}
		if fresh == 0 {
			return nil, fmt.Errorf("%w: input %q needs %d characters, limit %d", ErrCommandTooLong, req.Inputs[i].Path, n, limit)
		}
		tmp := Output{Path: req.TempPath(len(passes)), Format: FormatPCM, Temp: true}
		passes = append(passes, Pass{Inputs: cur, Output: tmp, Raw: req.Raw})
		cur = []Input{{Path: tmp.Path, Temp: true}}
		fresh = 0
	}
	passes = append(passes, Pass{Inputs: cur, Output: req.Output, Raw: req.Raw})
	return passes, nil
}

// commandLength measures the longer of the two commands inputs could end up
// in: closed against the next temporary file, or as the final pass.
func commandLength(binary string, req PlanRequest, inputs []Input, passIndex int) (int, error) {
	longest := 0
	for _, out := range []Output{
		{Path: req.TempPath(passIndex), Format: FormatPCM, Temp: true},
		req.Output,
	} {
		args, err := Pass{Inputs: inputs, Output: out, Raw: req.Raw}.Args()
		if err != nil {
			return 0, err
		}
		longest = max(longest, len(CommandLine(binary, args)))
	}
	return longest, nil
}
