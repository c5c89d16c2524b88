// Package decoder turns per-timestep class scores into text.
//
// Only greedy best-path decoding is implemented. The decoding method is an
// explicit tagged choice so a configured-but-unimplemented strategy fails
// loudly instead of silently falling back to greedy.
package decoder

import (
	"errors"
	"fmt"
)

// Method selects a decoding strategy.
type Method int

const (
	// Greedy takes the per-timestep argmax and collapses adjacent repeats.
	Greedy Method = iota
	// Beam is prefix beam search. Recognized in configuration but not
	// implemented.
	Beam
)

// ErrUnsupportedMethod is returned when a recognized decoding method has no
// implementation.
var ErrUnsupportedMethod = errors.New("decoder: unsupported decoding method")

// ParseMethod maps a configuration string to a Method.
func ParseMethod(s string) (Method, error) {
	switch s {
	case "greedy":
		return Greedy, nil
	case "beam":
		return Beam, nil
	default:
		return 0, fmt.Errorf("decoder: unknown decoding method %q", s)
	}
}

func (m Method) String() string {
	switch m {
	case Greedy:
		return "greedy"
	case Beam:
		return "beam"
	default:
		return fmt.Sprintf("Method(%d)", int(m))
	}
}

// TextDecoder maps collapsed label sequences to text. Implemented by
// transcription.Encoder.
type TextDecoder interface {
	Decode(ids []int) string
}

// Decoder decodes batched per-timestep scores into strings.
type Decoder struct {
	method Method
	enc    TextDecoder
}

// New returns a Decoder for the given method, or ErrUnsupportedMethod if
// the method is recognized but not implemented.
func New(method Method, enc TextDecoder) (*Decoder, error) {
	if method != Greedy {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMethod, method)
	}
	return &Decoder{method: method, enc: enc}, nil
}

// Method reports the decoding strategy in use.
func (d *Decoder) Method() Method { return d.method }

// Decode decodes a flat (T, N, C) score tensor into one string per batch
// element, order preserved. Scores may be raw logits or log-probabilities;
// only the per-timestep argmax matters.
func (d *Decoder) Decode(scores []float64, timeSteps, batch, classes int) []string {
	out := make([]string, batch)
	for n := 0; n < batch; n++ {
		raw := make([]int, timeSteps)
		for t := 0; t < timeSteps; t++ {
			off := (t*batch + n) * classes
			best := 0
			for k := 1; k < classes; k++ {
				if scores[off+k] > scores[off+best] {
					best = k
				}
			}
			raw[t] = best
		}
		out[n] = d.enc.Decode(Collapse(raw))
	}
	return out
}

// Collapse merges adjacent repeated indices into a single emission.
// Non-adjacent repeats are preserved; collapsing is idempotent.
func Collapse(raw []int) []int {
	if len(raw) == 0 {
		return nil
	}
	out := []int{raw[0]}
	for _, id := range raw[1:] {
		if id == out[len(out)-1] {
			continue
		}
		out = append(out, id)
	}
	return out
}
