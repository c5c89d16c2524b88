// Package runner orchestrates training, validation, decoding and
// evaluation of the line recognition model. It owns no learning mathematics
// itself: the model, CTC loss, dataset, decoder and metrics packages are
// collaborators wired together here.
package runner

import (
	"fmt"
	"math"
	"path/filepath"

	"github.com/lebefriedlich/computer-vision/config"
	"github.com/lebefriedlich/computer-vision/ctc"
	"github.com/lebefriedlich/computer-vision/dataset"
	"github.com/lebefriedlich/computer-vision/decoder"
	"github.com/lebefriedlich/computer-vision/model"
	"github.com/lebefriedlich/computer-vision/optim"
	"github.com/lebefriedlich/computer-vision/runlog"
	"github.com/lebefriedlich/computer-vision/transcription"
)

// EvalMode selects what the evaluation loader serves and whether a trained
// checkpoint is loaded at construction.
type EvalMode int

const (
	// EvalNone trains from scratch; the evaluation loader serves the
	// validation split for in-training validation.
	EvalNone EvalMode = iota
	// EvalValidation loads the test checkpoint and evaluates on the
	// validation split.
	EvalValidation
	// EvalTest loads the test checkpoint and evaluates on the test split.
	EvalTest
)

// Runner drives the train/validate/test loops.
type Runner struct {
	cfg         *config.Configuration
	outFileName string

	enc       *transcription.Encoder
	model     *model.Model
	loss      *ctc.Loss
	optimiser optim.Optimizer
	dec       *decoder.Decoder

	trainLoader *dataset.Loader
	evalLoader  *dataset.Loader

	logs    *runlog.Set
	info    *runlog.Channel
	evalLog *runlog.Channel

	bestValLoss      float64
	bestValLossEpoch int
}

// New builds a Runner: encoder, model (with checkpoint applied when mode is
// not EvalNone), data loaders, a fresh zero-infinity CTC loss, an AdamW
// optimizer, and the decoding strategy. outFileName names the JSON report
// Test writes under cfg.OutDir.
func New(cfg *config.Configuration, mode EvalMode, outFileName string, logs *runlog.Set) (*Runner, error) {
	enc, err := transcription.NewEncoder(cfg.Alphabet)
	if err != nil {
		return nil, fmt.Errorf("build transcription encoder: %w", err)
	}

	m := model.New(model.Config{
		InputHeight:  cfg.PadHeight,
		HiddenDim:    cfg.HiddenDim,
		HiddenLayers: cfg.HiddenLayers,
		ContextLen:   cfg.ContextLen,
		Dropout:      cfg.Dropout,
	}, enc.AlphabetSize())

	if mode != EvalNone {
		if err := m.LoadStateFile(filepath.Join(cfg.OutDir, cfg.TestModelFileName)); err != nil {
			return nil, err
		}
	}

	// A single prefetch goroutine keeps image decoding off the training
	// path; debugging runs fetch synchronously.
	workers := 1
	if cfg.Debug {
		workers = 0
	}

	geom := cfg.Geometry()
	trainSet, err := dataset.Load(cfg.DataDir, dataset.Train, cfg.Fold, cfg.DataMode, enc, geom)
	if err != nil {
		return nil, fmt.Errorf("load training split: %w", err)
	}

	evalSplit := dataset.Validation
	if mode == EvalTest {
		evalSplit = dataset.Test
	}
	evalSet, err := dataset.Load(cfg.DataDir, evalSplit, cfg.Fold, cfg.ValidationDataMode, enc, geom)
	if err != nil {
		return nil, fmt.Errorf("load %s split: %w", evalSplit, err)
	}

	dec, err := decoder.New(cfg.DecodingMethod, enc)
	if err != nil {
		return nil, err
	}

	evalChannel := "validation"
	switch mode {
	case EvalValidation:
		evalChannel = "eval_test"
	case EvalTest:
		evalChannel = "test"
	}

	return &Runner{
		cfg:              cfg,
		outFileName:      outFileName,
		enc:              enc,
		model:            m,
		loss:             ctc.NewLoss(true),
		optimiser:        optim.NewAdamW(m.Parameters(), cfg.LearningRate),
		dec:              dec,
		trainLoader:      dataset.NewLoader(trainSet, cfg.BatchSize, true, workers),
		evalLoader:       dataset.NewLoader(evalSet, cfg.BatchSize, false, workers),
		logs:             logs,
		info:             logs.Channel(runlog.InfoChannel),
		evalLog:          logs.Channel(evalChannel),
		bestValLoss:      math.Inf(1),
		bestValLossEpoch: 0,
	}, nil
}

// BestValidation reports the best validation loss seen and its epoch.
func (r *Runner) BestValidation() (float64, int) {
	return r.bestValLoss, r.bestValLossEpoch
}

// recordValidation folds one validation result into the best-loss tracking
// and reports whether it improved on the previous best.
func (r *Runner) recordValidation(epoch int, valLoss float64) bool {
	if valLoss < r.bestValLoss {
		r.bestValLoss = valLoss
		r.bestValLossEpoch = epoch
		return true
	}
	return false
}

// shouldStopEarly reports whether training should stop after the given
// epoch: patience configured, warmup passed, and no improvement for at
// least the patience window.
func (r *Runner) shouldStopEarly(epoch int) bool {
	patience := r.cfg.EarlyStoppingEpochCount
	if patience <= 0 || epoch <= r.cfg.Warmup {
		return false
	}
	return epoch-r.bestValLossEpoch >= patience
}

// permuteNTC reorders a flat (N,T,C) tensor into (T,N,C) layout.
func permuteNTC(src []float64, n, t, c int) []float64 {
	dst := make([]float64, len(src))
	for i := 0; i < n; i++ {
		for ts := 0; ts < t; ts++ {
			copy(dst[(ts*n+i)*c:(ts*n+i+1)*c], src[(i*t+ts)*c:(i*t+ts+1)*c])
		}
	}
	return dst
}

// permuteTNC reorders a flat (T,N,C) tensor back into (N,T,C) layout.
func permuteTNC(src []float64, t, n, c int) []float64 {
	dst := make([]float64, len(src))
	for ts := 0; ts < t; ts++ {
		for i := 0; i < n; i++ {
			copy(dst[(i*t+ts)*c:(i*t+ts+1)*c], src[(ts*n+i)*c:(ts*n+i+1)*c])
		}
	}
	return dst
}

// fullLengths returns a length vector with every entry set to t: no
// intra-batch width mask is tracked, every example spans all frames.
func fullLengths(n, t int) []int {
	lengths := make([]int, n)
	for i := range lengths {
		lengths[i] = t
	}
	return lengths
}
