package runner

import (
	"fmt"
	"path/filepath"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/lebefriedlich/computer-vision/dataset"
	"github.com/lebefriedlich/computer-vision/internal/mathutil"
)

// gradAccumWindow is the number of consecutive batches whose gradients are
// accumulated before an optimizer step when training with batch size 1.
const gradAccumWindow = 5

// stepBoundary reports whether an optimizer step happens after the batch at
// batchID (zero-based) out of numBatches, under the accumulation rule used
// for batch size 1: step on every gradAccumWindow-th batch and on the final
// batch of the epoch.
func stepBoundary(batchID, numBatches int) bool {
	return batchID%gradAccumWindow == gradAccumWindow-1 || batchID == numBatches-1
}

// Train runs the full training loop: per-epoch CTC loss over the training
// split, periodic checkpointing, periodic validation with best-checkpoint
// tracking, and optional early stopping.
func (r *Runner) Train() error {
	for epoch := 1; epoch <= r.cfg.Epochs; epoch++ {
		start := time.Now()
		meanLoss, err := r.trainEpoch()
		if err != nil {
			return fmt.Errorf("epoch %d: %w", epoch, err)
		}

		r.logs.Channel("train").Printf("%d,%g", epoch, meanLoss)
		r.info.Printf("[%d/%d] - loss: %g, time: %s", epoch, r.cfg.Epochs, meanLoss, time.Since(start).Round(time.Millisecond))

		if r.cfg.ModelSaveEpoch > 0 && epoch%r.cfg.ModelSaveEpoch == 0 {
			path := filepath.Join(r.cfg.OutDir, fmt.Sprintf("epoch_%d.gob", epoch))
			if err := r.model.SaveWrappedFile(path, epoch, r.bestValLoss); err != nil {
				return fmt.Errorf("save epoch checkpoint: %w", err)
			}
		}

		if r.cfg.ValidationEpoch > 0 && epoch%r.cfg.ValidationEpoch == 0 {
			valLoss, err := r.Validate()
			if err != nil {
				return fmt.Errorf("epoch %d validation: %w", epoch, err)
			}
			if r.recordValidation(epoch, valLoss) {
				path := filepath.Join(r.cfg.OutDir, r.cfg.TestModelFileName)
				if err := r.model.SaveWrappedFile(path, epoch, r.bestValLoss); err != nil {
					return fmt.Errorf("save best checkpoint: %w", err)
				}
			}
		}

		// Checked every epoch, not just on validation epochs: with no
		// improvement recorded, the patience window counts from epoch 0.
		if r.shouldStopEarly(epoch) {
			r.info.Printf("early stopping after epoch %d, no improvement since epoch %d", epoch, r.bestValLossEpoch)
			break
		}
	}

	r.info.Printf("best validation loss %g at epoch %d", r.bestValLoss, r.bestValLossEpoch)
	return nil
}

func (r *Runner) trainEpoch() (float64, error) {
	r.model.SetTraining(true)

	numBatches := r.trainLoader.Len()
	losses := make([]float64, 0, numBatches)

	it := r.trainLoader.Iter()
	defer it.Close()
	for batchID := 0; ; batchID++ {
		batch, err := it.Next()
		if err != nil {
			return 0, err
		}
		if batch == nil {
			break
		}

		loss, err := r.trainBatch(batch)
		if err != nil {
			return 0, err
		}
		losses = append(losses, loss)

		// With batch size 1 the gradients of several batches are
		// accumulated before each step; larger batches step every time.
		if r.cfg.BatchSize > 1 || stepBoundary(batchID, numBatches) {
			r.optimiser.ClipGradNorm(r.cfg.ClipNorm)
			r.optimiser.Step()
			r.optimiser.ZeroGrad()
		}
	}

	return stat.Mean(losses, nil), nil
}

// trainBatch runs forward, CTC loss and backward for one batch and leaves
// the accumulated gradients on the model parameters.
func (r *Runner) trainBatch(batch *dataset.Batch) (float64, error) {
	n := len(batch.Labels)
	targets := make([]int, 0, n*batch.LabelWidth)
	for i, row := range batch.Labels {
		targets = append(targets, row[:batch.LabelLengths[i]]...)
	}

	out := r.model.Forward(batch.Images)
	t, c := out.T, out.C

	logProbs := make([]float64, len(out.Logits))
	copy(logProbs, out.Logits)
	mathutil.LogSoftmaxRows(logProbs, n*t, c)

	loss, gradTNC, err := r.loss.Forward(
		permuteNTC(logProbs, n, t, c),
		t, n, c,
		targets, fullLengths(n, t), batch.LabelLengths,
	)
	if err != nil {
		return 0, err
	}

	grad := permuteTNC(gradTNC, t, n, c)
	mathutil.LogSoftmaxBackwardRows(grad, logProbs, n*t, c)
	r.model.Backward(grad)

	return loss, nil
}
