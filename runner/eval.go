package runner

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/stat"

	"github.com/lebefriedlich/computer-vision/ctc"
	"github.com/lebefriedlich/computer-vision/dataset"
	"github.com/lebefriedlich/computer-vision/internal/mathutil"
)

// ErrTargetLengthMismatch reports an inconsistency between a batch's label
// rows and its declared label lengths. Labels and lengths come from the same
// dataset pass, so a mismatch means corrupted batch assembly and evaluation
// cannot be trusted.
var ErrTargetLengthMismatch = errors.New("flattened target length does not match the sum of target lengths")

// flattenTargets clamps each declared label length to the padded label
// width, concatenates the label rows up to their clamped lengths, and
// verifies the result against the length sum.
func flattenTargets(labels [][]int, lengths []int, width int) ([]int, []int, error) {
	clamped := make([]int, len(lengths))
	total := 0
	for i, l := range lengths {
		if l > width {
			l = width
		}
		clamped[i] = l
		total += l
	}

	flat := make([]int, 0, total)
	for i, row := range labels {
		l := clamped[i]
		if l > len(row) {
			l = len(row)
		}
		flat = append(flat, row[:l]...)
	}
	if len(flat) != total {
		return nil, nil, fmt.Errorf("%w: got %d, want %d", ErrTargetLengthMismatch, len(flat), total)
	}
	return flat, clamped, nil
}

// Validate computes the mean CTC loss over the evaluation split without
// touching gradients and logs the result.
func (r *Runner) Validate() (float64, error) {
	r.model.SetTraining(false)
	loss := ctc.NewLoss(true)

	losses := make([]float64, 0, r.evalLoader.Len())
	it := r.evalLoader.Iter()
	defer it.Close()
	for {
		batch, err := it.Next()
		if err != nil {
			return 0, err
		}
		if batch == nil {
			break
		}

		targets, targetLens, err := flattenTargets(batch.Labels, batch.LabelLengths, batch.LabelWidth)
		if err != nil {
			return 0, err
		}

		n := len(batch.Labels)
		out := r.model.Forward(batch.Images)
		t, c := out.T, out.C

		logProbs := make([]float64, len(out.Logits))
		copy(logProbs, out.Logits)
		mathutil.LogSoftmaxRows(logProbs, n*t, c)

		batchLoss, _, err := loss.Forward(
			permuteNTC(logProbs, n, t, c),
			t, n, c,
			targets, fullLengths(n, t), targetLens,
		)
		if err != nil {
			return 0, err
		}
		losses = append(losses, batchLoss)
	}

	mean := stat.Mean(losses, nil)
	r.info.Printf("validation loss: %g", mean)
	r.evalLog.Printf("%g", mean)
	return mean, nil
}

// decodeBatch runs the model on one batch and decodes the raw class scores
// into text, one string per example.
func (r *Runner) decodeBatch(batch *dataset.Batch) []string {
	out := r.model.Forward(batch.Images)
	n := len(batch.Labels)
	return r.dec.Decode(permuteNTC(out.Logits, n, out.T, out.C), out.T, n, out.C)
}
