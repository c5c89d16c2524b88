package model

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"encoding/gob"
)

// Param is one named parameter tensor with its gradient accumulator.
type Param struct {
	Name string
	Data []float64
	Grad []float64
}

// Parameters returns all trainable parameters in a stable order. The slices
// alias the model's storage.
func (m *Model) Parameters() []Param {
	params := make([]Param, 0, 2*len(m.Layers))
	for i := range m.Layers {
		l := &m.Layers[i]
		params = append(params,
			Param{Name: fmt.Sprintf("layer%d.weight", i), Data: l.W, Grad: l.GradW},
			Param{Name: fmt.Sprintf("layer%d.bias", i), Data: l.B, Grad: l.GradB},
		)
	}
	return params
}

// StateDict returns a copy of all parameter tensors keyed by name.
func (m *Model) StateDict() map[string][]float64 {
	state := make(map[string][]float64, 2*len(m.Layers))
	for _, p := range m.Parameters() {
		state[p.Name] = append([]float64(nil), p.Data...)
	}
	return state
}

// wrappedState is the checkpoint wrapper format: the state dict plus
// training metadata. Externally produced checkpoints may use it; plain
// training saves write the flat format.
type wrappedState struct {
	ModelStateDict map[string][]float64
	Epoch          int
	BestValLoss    float64
}

// SaveState writes the model's parameters to w as a flat gob-encoded
// name-to-tensor map.
func (m *Model) SaveState(w io.Writer) error {
	return gob.NewEncoder(w).Encode(m.StateDict())
}

// SaveStateFile writes the flat state dict to path.
func (m *Model) SaveStateFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create checkpoint: %w", err)
	}
	defer f.Close()
	if err := m.SaveState(f); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// SaveWrappedFile writes the model's state dict to path together with the
// epoch and best validation loss at save time.
func (m *Model) SaveWrappedFile(path string, epoch int, bestValLoss float64) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create checkpoint: %w", err)
	}
	defer f.Close()
	if err := SaveWrapped(f, m.StateDict(), epoch, bestValLoss); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// LoadState reads a checkpoint from r and applies it to the model.
// Both formats are accepted: a flat name-to-tensor map, or a wrapper whose
// ModelStateDict field holds such a map. A missing parameter or a length
// mismatch is an error; all shapes are validated before any parameter is
// overwritten.
func (m *Model) LoadState(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	var state map[string][]float64

	var wrapped wrappedState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&wrapped); err == nil && wrapped.ModelStateDict != nil {
		state = wrapped.ModelStateDict
	} else {
		var flat map[string][]float64
		if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&flat); err != nil {
			return fmt.Errorf("decode checkpoint: %w", err)
		}
		state = flat
	}

	return m.applyState(state)
}

// LoadStateFile reads and applies a checkpoint file.
func (m *Model) LoadStateFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open checkpoint: %w", err)
	}
	defer f.Close()
	if err := m.LoadState(f); err != nil {
		return fmt.Errorf("load checkpoint %s: %w", path, err)
	}
	return nil
}

func (m *Model) applyState(state map[string][]float64) error {
	params := m.Parameters()
	// Validate shapes before mutating anything.
	for _, p := range params {
		tensor, ok := state[p.Name]
		if !ok {
			return fmt.Errorf("checkpoint missing parameter %q", p.Name)
		}
		if len(tensor) != len(p.Data) {
			return fmt.Errorf("parameter %q has %d values, model expects %d",
				p.Name, len(tensor), len(p.Data))
		}
	}
	for _, p := range params {
		copy(p.Data, state[p.Name])
	}
	return nil
}

// SaveWrapped writes the wrapper checkpoint format with training metadata.
func SaveWrapped(w io.Writer, state map[string][]float64, epoch int, bestValLoss float64) error {
	return gob.NewEncoder(w).Encode(wrappedState{
		ModelStateDict: state,
		Epoch:          epoch,
		BestValLoss:    bestValLoss,
	})
}
