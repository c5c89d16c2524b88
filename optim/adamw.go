// Package optim implements the parameter update step for training.
package optim

import (
	"math"

	"github.com/lebefriedlich/computer-vision/model"
)

// Optimizer is the update interface the training loop drives. Gradients are
// accumulated by the model; Step consumes them and ZeroGrad clears them.
type Optimizer interface {
	Step()
	ZeroGrad()
	ClipGradNorm(maxNorm float64)
}

// AdamW applies Adam with decoupled weight decay.
type AdamW struct {
	LR          float64
	Beta1       float64
	Beta2       float64
	Epsilon     float64
	WeightDecay float64

	params []model.Param
	m, v   [][]float64 // per-parameter first/second moment
	t      int         // step counter
}

// NewAdamW binds an optimizer to the given parameters at learning rate lr,
// with the usual defaults for the remaining hyperparameters.
func NewAdamW(params []model.Param, lr float64) *AdamW {
	o := &AdamW{
		LR:          lr,
		Beta1:       0.9,
		Beta2:       0.999,
		Epsilon:     1e-8,
		WeightDecay: 0.01,
		params:      params,
		m:           make([][]float64, len(params)),
		v:           make([][]float64, len(params)),
	}
	for i, p := range params {
		o.m[i] = make([]float64, len(p.Data))
		o.v[i] = make([]float64, len(p.Data))
	}
	return o
}

// Step applies one AdamW update using the gradients currently accumulated
// on the parameters.
func (o *AdamW) Step() {
	o.t++
	bc1 := 1.0 - math.Pow(o.Beta1, float64(o.t))
	bc2 := 1.0 - math.Pow(o.Beta2, float64(o.t))

	for i, p := range o.params {
		m, v := o.m[i], o.v[i]
		for j := range p.Data {
			g := p.Grad[j]
			m[j] = o.Beta1*m[j] + (1-o.Beta1)*g
			v[j] = o.Beta2*v[j] + (1-o.Beta2)*g*g
			mHat := m[j] / bc1
			vHat := v[j] / bc2
			// Decoupled weight decay: applied to the parameter directly,
			// not folded into the gradient.
			p.Data[j] -= o.LR * (mHat/(math.Sqrt(vHat)+o.Epsilon) + o.WeightDecay*p.Data[j])
		}
	}
}

// ZeroGrad clears all accumulated gradients.
func (o *AdamW) ZeroGrad() {
	for _, p := range o.params {
		for j := range p.Grad {
			p.Grad[j] = 0
		}
	}
}

// ClipGradNorm rescales all gradients so their global L2 norm does not
// exceed maxNorm. A non-positive maxNorm is a no-op.
func (o *AdamW) ClipGradNorm(maxNorm float64) {
	if maxNorm <= 0 {
		return
	}
	sq := 0.0
	for _, p := range o.params {
		for _, g := range p.Grad {
			sq += g * g
		}
	}
	norm := math.Sqrt(sq)
	if norm <= maxNorm {
		return
	}
	scale := maxNorm / (norm + 1e-12)
	for _, p := range o.params {
		for j := range p.Grad {
			p.Grad[j] *= scale
		}
	}
}
