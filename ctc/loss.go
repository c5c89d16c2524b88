// Package ctc implements the connectionist temporal classification loss:
// the negative log probability of an unsegmented target label sequence
// summed over all valid frame-to-label alignments.
//
// All recursions run in the log domain using the same conventions as
// internal/mathutil (LogZero as log(0), LogAdd for summation).
package ctc

import (
	"fmt"
	"math"

	"github.com/lebefriedlich/computer-vision/internal/mathutil"
	"github.com/lebefriedlich/computer-vision/transcription"
)

// Loss computes the CTC loss and its gradient w.r.t. per-timestep
// log-probabilities. Class transcription.BlankClass is the blank.
type Loss struct {
	// ZeroInfinity maps samples with no valid alignment (for example a
	// target longer than the input allows) to zero loss and zero gradient
	// instead of +Inf, so a single impossible sample cannot destabilize a
	// gradient step.
	ZeroInfinity bool
}

// NewLoss returns a Loss with the given zero-infinity behavior.
func NewLoss(zeroInfinity bool) *Loss {
	return &Loss{ZeroInfinity: zeroInfinity}
}

// Forward computes the batch loss and gradient.
//
// logProbs is flat (T, N, C): logProbs[(t*batch+n)*classes+k] is the
// log-probability of class k for batch element n at timestep t.
// targets holds the unpadded label sequences of all batch elements
// concatenated; targetLengths[n] gives each sequence's length and
// inputLengths[n] the number of valid timesteps (≤ timeSteps).
//
// The returned loss follows the "mean" reduction convention: each sample's
// negative log-likelihood is divided by its target length (minimum 1), then
// averaged over the batch. grad has the same (T, N, C) layout as logProbs
// and is the gradient of that reduced loss w.r.t. the log-probabilities.
func (l *Loss) Forward(logProbs []float64, timeSteps, batch, classes int,
	targets []int, inputLengths, targetLengths []int) (float64, []float64, error) {

	if len(inputLengths) != batch || len(targetLengths) != batch {
		return 0, nil, fmt.Errorf("ctc: got %d input and %d target lengths for batch %d",
			len(inputLengths), len(targetLengths), batch)
	}
	totalTargets := 0
	for _, tl := range targetLengths {
		totalTargets += tl
	}
	if totalTargets != len(targets) {
		return 0, nil, fmt.Errorf("ctc: flattened target length %d != sum of target lengths %d",
			len(targets), totalTargets)
	}
	if len(logProbs) != timeSteps*batch*classes {
		return 0, nil, fmt.Errorf("ctc: logProbs length %d != %d*%d*%d",
			len(logProbs), timeSteps, batch, classes)
	}

	grad := make([]float64, len(logProbs))
	total := 0.0
	targetOff := 0

	for n := 0; n < batch; n++ {
		T := inputLengths[n]
		L := targetLengths[n]
		if T > timeSteps {
			return 0, nil, fmt.Errorf("ctc: input length %d exceeds %d timesteps", T, timeSteps)
		}
		target := targets[targetOff : targetOff+L]
		targetOff += L

		nll, ok := l.sample(logProbs, grad, timeSteps, batch, classes, n, T, target)
		if !ok {
			if !l.ZeroInfinity {
				return math.Inf(1), grad, nil
			}
			continue
		}
		tl := L
		if tl < 1 {
			tl = 1
		}
		total += nll / float64(tl)
		// Scale this sample's gradient by the same reduction factors.
		scale := 1.0 / (float64(tl) * float64(batch))
		for t := 0; t < T; t++ {
			off := (t*batch + n) * classes
			for k := 0; k < classes; k++ {
				grad[off+k] *= scale
			}
		}
	}

	return total / float64(batch), grad, nil
}

// sample runs the alpha/beta recursion for one batch element and writes the
// unscaled gradient of its negative log-likelihood into grad. Returns the
// negative log-likelihood and whether any valid alignment exists.
func (l *Loss) sample(logProbs, grad []float64, timeSteps, batch, classes, n, T int, target []int) (float64, bool) {
	S := 2*len(target) + 1
	if T == 0 {
		return 0, len(target) == 0
	}

	// ext(s): blank at even s, target label at odd s.
	ext := func(s int) int {
		if s%2 == 0 {
			return transcription.BlankClass
		}
		return target[(s-1)/2]
	}
	lp := func(t, k int) float64 {
		return logProbs[(t*batch+n)*classes+k]
	}

	alpha := mathutil.NewMatFill(T, S, mathutil.LogZero)
	beta := mathutil.NewMatFill(T, S, mathutil.LogZero)

	// Forward variable: paths may start with the leading blank or the
	// first label.
	alpha[0][0] = lp(0, ext(0))
	if S > 1 {
		alpha[0][1] = lp(0, ext(1))
	}
	for t := 1; t < T; t++ {
		for s := 0; s < S; s++ {
			sum := alpha[t-1][s]
			if s >= 1 {
				sum = mathutil.LogAdd(sum, alpha[t-1][s-1])
			}
			// Skip transition over a blank is allowed only between
			// distinct labels.
			if s >= 2 && ext(s) != transcription.BlankClass && ext(s) != ext(s-2) {
				sum = mathutil.LogAdd(sum, alpha[t-1][s-2])
			}
			if sum > mathutil.LogZero+1 {
				alpha[t][s] = sum + lp(t, ext(s))
			}
		}
	}

	// Total likelihood: paths end in the final label or the trailing blank.
	logZ := alpha[T-1][S-1]
	if S > 1 {
		logZ = mathutil.LogAdd(logZ, alpha[T-1][S-2])
	}
	if logZ <= mathutil.LogZero+1 {
		return 0, false
	}

	// Backward variable, symmetric to alpha.
	beta[T-1][S-1] = lp(T-1, ext(S-1))
	if S > 1 {
		beta[T-1][S-2] = lp(T-1, ext(S-2))
	}
	for t := T - 2; t >= 0; t-- {
		for s := S - 1; s >= 0; s-- {
			sum := beta[t+1][s]
			if s+1 < S {
				sum = mathutil.LogAdd(sum, beta[t+1][s+1])
			}
			if s+2 < S && ext(s+2) != transcription.BlankClass && ext(s+2) != ext(s) {
				sum = mathutil.LogAdd(sum, beta[t+1][s+2])
			}
			if sum > mathutil.LogZero+1 {
				beta[t][s] = sum + lp(t, ext(s))
			}
		}
	}

	// Gradient w.r.t. log-probabilities:
	// d(-logZ)/dl(t,k) = -exp(logadd_{s: ext(s)=k}(alpha[t][s]+beta[t][s]-lp(t,k)) - logZ)
	occ := make([]float64, classes)
	for t := 0; t < T; t++ {
		mathutil.FillVec(occ, mathutil.LogZero)
		for s := 0; s < S; s++ {
			if alpha[t][s] <= mathutil.LogZero+1 || beta[t][s] <= mathutil.LogZero+1 {
				continue
			}
			k := ext(s)
			occ[k] = mathutil.LogAdd(occ[k], alpha[t][s]+beta[t][s]-lp(t, k))
		}
		off := (t*batch + n) * classes
		for k := 0; k < classes; k++ {
			if occ[k] > mathutil.LogZero+1 {
				grad[off+k] = -math.Exp(occ[k] - logZ)
			}
		}
	}

	return -logZ, true
}
