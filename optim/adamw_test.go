package optim

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lebefriedlich/computer-vision/model"
)

func singleParam(data, grad []float64) []model.Param {
	return []model.Param{{Name: "p", Data: data, Grad: grad}}
}

func TestAdamW_FirstStepDirection(t *testing.T) {
	data := []float64{1.0}
	grad := []float64{0.5}
	o := NewAdamW(singleParam(data, grad), 0.1)
	o.WeightDecay = 0

	o.Step()
	// After bias correction the first step moves by ~lr against the
	// gradient sign regardless of magnitude.
	want := 1.0 - 0.1*0.5/(0.5+o.Epsilon)
	assert.InDelta(t, want, data[0], 1e-9)
}

func TestAdamW_WeightDecayShrinksWithoutGradient(t *testing.T) {
	data := []float64{2.0}
	grad := []float64{0.0}
	o := NewAdamW(singleParam(data, grad), 0.1)

	o.Step()
	assert.InDelta(t, 2.0-0.1*0.01*2.0, data[0], 1e-12,
		"decay must apply even with zero gradient")
}

func TestAdamW_ZeroGrad(t *testing.T) {
	grad := []float64{1, -2, 3}
	o := NewAdamW(singleParam(make([]float64, 3), grad), 0.1)

	o.ZeroGrad()
	assert.Equal(t, []float64{0, 0, 0}, grad)
}

func TestClipGradNorm_AboveThreshold(t *testing.T) {
	grad := []float64{3, 4} // norm 5
	o := NewAdamW(singleParam(make([]float64, 2), grad), 0.1)

	o.ClipGradNorm(1.0)
	norm := math.Hypot(grad[0], grad[1])
	require.InDelta(t, 1.0, norm, 1e-9)
	assert.InDelta(t, 3.0/5.0, grad[0], 1e-9)
}

func TestClipGradNorm_BelowThresholdUntouched(t *testing.T) {
	grad := []float64{0.3, 0.4}
	o := NewAdamW(singleParam(make([]float64, 2), grad), 0.1)

	o.ClipGradNorm(1.0)
	assert.Equal(t, []float64{0.3, 0.4}, grad)
}

func TestClipGradNorm_DisabledForNonPositive(t *testing.T) {
	grad := []float64{30, 40}
	o := NewAdamW(singleParam(make([]float64, 2), grad), 0.1)

	o.ClipGradNorm(0)
	assert.Equal(t, []float64{30, 40}, grad)
}

func TestAdamW_ConvergesOnQuadratic(t *testing.T) {
	// Minimize f(x) = (x-3)^2 with analytic gradient.
	data := []float64{0}
	grad := []float64{0}
	o := NewAdamW(singleParam(data, grad), 0.1)
	o.WeightDecay = 0

	for i := 0; i < 500; i++ {
		grad[0] = 2 * (data[0] - 3)
		o.Step()
		o.ZeroGrad()
	}
	assert.InDelta(t, 3.0, data[0], 0.05)
}
