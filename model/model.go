// Package model implements the line-image recognition network: a
// fully-connected network applied per image column with a symmetric context
// window, producing one class-score vector per column. The column axis is
// the CTC time axis.
package model

import (
	"math"
	"math/rand"

	"github.com/lebefriedlich/computer-vision/internal/blas"
)

// Config holds the network architecture hyperparameters.
type Config struct {
	InputHeight  int     // padded image height (pixels per column)
	HiddenDim    int     // units per hidden layer
	HiddenLayers int     // number of hidden layers
	ContextLen   int     // columns on each side of the current column
	Dropout      float64 // inverted dropout rate for hidden layers (0 = disabled)
}

// DefaultConfig returns the architecture used when the configuration file
// does not override it.
func DefaultConfig(inputHeight int) Config {
	return Config{
		InputHeight:  inputHeight,
		HiddenDim:    256,
		HiddenLayers: 2,
		ContextLen:   3,
	}
}

// Layer holds weights, biases and their gradient accumulators for one
// fully-connected layer. W is [OutDim × InDim] row-major.
type Layer struct {
	W, B         []float64
	GradW, GradB []float64
	InDim        int
	OutDim       int
}

// Model is the recognition network. Layers[0..n-2] are hidden layers with
// ReLU; the last layer emits raw class logits (the caller applies
// log-softmax).
type Model struct {
	Layers     []Layer
	InputDim   int // InputHeight * (2*ContextLen + 1)
	NumClasses int
	Height     int
	ContextLen int
	Dropout    float64

	training bool
	rng      *rand.Rand
	cache    *fwdCache
}

// fwdCache holds the intermediates of the last training-mode forward pass.
type fwdCache struct {
	rows  int         // batch * timeSteps
	x     []float64   // [rows × InputDim] framed input
	z     [][]float64 // pre-activations per layer
	a     [][]float64 // post-activations per hidden layer
	masks [][]float64 // dropout masks per hidden layer (nil if disabled)
}

// New creates a Model with Xavier-initialized weights for numClasses output
// classes (including the CTC blank).
func New(cfg Config, numClasses int) *Model {
	inputDim := cfg.InputHeight * (2*cfg.ContextLen + 1)
	rng := rand.New(rand.NewSource(rand.Int63()))

	layers := make([]Layer, cfg.HiddenLayers+1)
	prevDim := inputDim
	for i := 0; i < cfg.HiddenLayers; i++ {
		layers[i] = newLayer(rng, prevDim, cfg.HiddenDim)
		prevDim = cfg.HiddenDim
	}
	layers[cfg.HiddenLayers] = newLayer(rng, prevDim, numClasses)

	return &Model{
		Layers:     layers,
		InputDim:   inputDim,
		NumClasses: numClasses,
		Height:     cfg.InputHeight,
		ContextLen: cfg.ContextLen,
		Dropout:    cfg.Dropout,
		rng:        rng,
	}
}

func newLayer(rng *rand.Rand, inDim, outDim int) Layer {
	l := Layer{
		W:     make([]float64, outDim*inDim),
		B:     make([]float64, outDim),
		GradW: make([]float64, outDim*inDim),
		GradB: make([]float64, outDim),
		InDim: inDim, OutDim: outDim,
	}
	scale := math.Sqrt(2.0 / float64(inDim+outDim))
	for i := range l.W {
		l.W[i] = rng.NormFloat64() * scale
	}
	return l
}

// SetTraining toggles training mode (dropout active, forward caches kept).
func (m *Model) SetTraining(training bool) {
	m.training = training
	if !training {
		m.cache = nil
	}
}

// Training reports whether the model is in training mode.
func (m *Model) Training() bool { return m.training }

// Output is a forward-pass result: raw logits in flat (N, T, C) layout,
// rows ordered n*T+t.
type Output struct {
	Logits []float64
	N, T, C int
}

// frames builds the [rows × InputDim] input matrix from column-major line
// images. Context columns beyond the image edge replicate the edge column.
func (m *Model) frames(images [][]float64) ([]float64, int) {
	n := len(images)
	width := len(images[0]) / m.Height
	h := m.Height
	win := 2*m.ContextLen + 1

	x := make([]float64, n*width*m.InputDim)
	for i, img := range images {
		for t := 0; t < width; t++ {
			off := (i*width + t) * m.InputDim
			for w := 0; w < win; w++ {
				src := t - m.ContextLen + w
				if src < 0 {
					src = 0
				} else if src >= width {
					src = width - 1
				}
				copy(x[off+w*h:off+(w+1)*h], img[src*h:(src+1)*h])
			}
		}
	}
	return x, width
}

// Forward runs the network over a batch of equally-sized column-major line
// images. In training mode the pass caches intermediates for Backward and
// applies dropout; in evaluation mode it allocates only the output.
func (m *Model) Forward(images [][]float64) *Output {
	n := len(images)
	x, width := m.frames(images)
	rows := n * width
	nLayers := len(m.Layers)

	var cache *fwdCache
	if m.training {
		cache = &fwdCache{rows: rows, x: x}
		cache.z = make([][]float64, nLayers)
		cache.a = make([][]float64, nLayers-1)
		if m.Dropout > 0 {
			cache.masks = make([][]float64, nLayers-1)
		}
	}

	prevAct := x
	prevDim := m.InputDim
	var logits []float64

	for i := range m.Layers {
		layer := &m.Layers[i]
		z := make([]float64, rows*layer.OutDim)
		blas.Dgemm(false, true, rows, layer.OutDim, prevDim,
			1.0, prevAct, prevDim, layer.W, prevDim, 0.0, z, layer.OutDim)
		addBias(z, layer.B, rows, layer.OutDim)

		if i < nLayers-1 {
			a := make([]float64, len(z))
			for j, v := range z {
				if v > 0 {
					a[j] = v
				}
			}
			if m.training && m.Dropout > 0 {
				mask := make([]float64, len(a))
				scale := 1.0 / (1.0 - m.Dropout)
				for j := range a {
					if m.rng.Float64() < m.Dropout {
						a[j] = 0
					} else {
						mask[j] = scale
						a[j] *= scale
					}
				}
				cache.masks[i] = mask
			}
			if cache != nil {
				cache.z[i] = z
				cache.a[i] = a
			}
			prevAct = a
			prevDim = layer.OutDim
		} else {
			if cache != nil {
				cache.z[i] = z
			}
			logits = z
		}
	}

	m.cache = cache
	return &Output{Logits: logits, N: n, T: width, C: m.NumClasses}
}

func addBias(z, bias []float64, rows, cols int) {
	for i := 0; i < rows; i++ {
		off := i * cols
		for j := 0; j < cols; j++ {
			z[off+j] += bias[j]
		}
	}
}

// Backward propagates a gradient w.r.t. the logits (same flat (N, T, C)
// layout as Output.Logits) and accumulates parameter gradients, so repeated
// calls between optimizer steps accumulate. Requires a preceding
// training-mode Forward.
func (m *Model) Backward(dLogits []float64) {
	cache := m.cache
	if cache == nil {
		panic("model: Backward without a training-mode Forward")
	}
	rows := cache.rows
	nLayers := len(m.Layers)

	dz := dLogits
	for i := nLayers - 1; i >= 0; i-- {
		layer := &m.Layers[i]

		inputToLayer := cache.x
		inputDim := m.InputDim
		if i > 0 {
			inputToLayer = cache.a[i-1]
			inputDim = m.Layers[i-1].OutDim
		}

		// GradW += dz^T @ input; GradB += column sums of dz.
		blas.Dgemm(true, false, layer.OutDim, inputDim, rows,
			1.0, dz, layer.OutDim, inputToLayer, inputDim,
			1.0, layer.GradW, inputDim)
		for r := 0; r < rows; r++ {
			off := r * layer.OutDim
			for j := 0; j < layer.OutDim; j++ {
				layer.GradB[j] += dz[off+j]
			}
		}

		if i == 0 {
			break
		}

		prevDim := m.Layers[i-1].OutDim
		da := make([]float64, rows*prevDim)
		blas.Dgemm(false, false, rows, prevDim, layer.OutDim,
			1.0, dz, layer.OutDim, layer.W, prevDim, 0.0, da, prevDim)

		if cache.masks != nil && cache.masks[i-1] != nil {
			for j := range da {
				da[j] *= cache.masks[i-1][j]
			}
		}
		// ReLU derivative on the previous pre-activation.
		for j := range da {
			if cache.z[i-1][j] <= 0 {
				da[j] = 0
			}
		}
		dz = da
	}
}

// ZeroGrad clears all accumulated parameter gradients.
func (m *Model) ZeroGrad() {
	for i := range m.Layers {
		clear(m.Layers[i].GradW)
		clear(m.Layers[i].GradB)
	}
}
