package mathutil

import "math"

// LogZero represents log(0), used as negative infinity in log-domain arithmetic.
const LogZero = -1e30

// LogAdd returns log(exp(a) + exp(b)) in a numerically stable way.
// Uses threshold-based early exit to skip expensive exp/log1p when the
// smaller value contributes less than float64 precision (exp(-36) ≈ 2.3e-16).
func LogAdd(a, b float64) float64 {
	if a > b {
		if b == LogZero {
			return a
		}
		d := b - a
		if d < -36.0 {
			return a
		}
		return a + math.Log1p(math.Exp(d))
	}
	if a == LogZero {
		return b
	}
	d := a - b
	if d < -36.0 {
		return b
	}
	return b + math.Log1p(math.Exp(d))
}

// LogSoftmaxRows applies log-softmax in place to each row of a flat
// row-major [rows × cols] matrix.
func LogSoftmaxRows(z []float64, rows, cols int) {
	for i := 0; i < rows; i++ {
		off := i * cols
		maxVal := math.Inf(-1)
		for j := 0; j < cols; j++ {
			if z[off+j] > maxVal {
				maxVal = z[off+j]
			}
		}
		sumExp := 0.0
		for j := 0; j < cols; j++ {
			sumExp += math.Exp(z[off+j] - maxVal)
		}
		logSumExp := maxVal + math.Log(sumExp)
		for j := 0; j < cols; j++ {
			z[off+j] -= logSumExp
		}
	}
}

// LogSoftmaxBackwardRows converts a gradient w.r.t. log-softmax outputs into
// a gradient w.r.t. the pre-softmax logits, row by row:
// dz_j = g_j - exp(l_j) * Σ_k g_k, where l_j is the log-softmax output.
// logProbs and grad are flat row-major [rows × cols]; grad is overwritten.
func LogSoftmaxBackwardRows(grad, logProbs []float64, rows, cols int) {
	for i := 0; i < rows; i++ {
		off := i * cols
		gSum := 0.0
		for j := 0; j < cols; j++ {
			gSum += grad[off+j]
		}
		for j := 0; j < cols; j++ {
			grad[off+j] -= math.Exp(logProbs[off+j]) * gSum
		}
	}
}
