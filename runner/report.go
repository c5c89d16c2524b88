package runner

import (
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/lebefriedlich/computer-vision/metrics"
)

// Transliteration is one decoded example in the evaluation report.
type Transliteration struct {
	Greedy          string `json:"greedy"`
	Expected        string `json:"expected"`
	ExpectedEncoded string `json:"expected_encoded"`
	ImageName       string `json:"image_name"`
}

// Test decodes the evaluation split, scores the decoded text against both
// the original transcriptions and their encoder-normalized forms, logs the
// error rates, and writes the transliteration records as a JSON array to
// the runner's output file.
func (r *Runner) Test() error {
	r.model.SetTraining(false)

	var decoded, expected, names []string
	it := r.evalLoader.Iter()
	defer it.Close()
	for {
		batch, err := it.Next()
		if err != nil {
			return err
		}
		if batch == nil {
			break
		}
		decoded = append(decoded, r.decodeBatch(batch)...)
		expected = append(expected, batch.Plaintext...)
		names = append(names, batch.ImageNames...)
	}

	n := len(decoded)
	if len(expected) < n {
		n = len(expected)
	}

	encoded := make([]string, n)
	records := make([]Transliteration, n)
	for i := 0; i < n; i++ {
		encoded[i] = r.enc.Replace(expected[i])
		records[i] = Transliteration{
			Greedy:          decoded[i],
			Expected:        expected[i],
			ExpectedEncoded: encoded[i],
			ImageName:       names[i],
		}
	}

	cer := errorRate(metrics.NewCharErrorRate(), decoded[:n], expected[:n])
	wer := errorRate(metrics.NewWordErrorRate(), decoded[:n], expected[:n])
	cerEncoded := errorRate(metrics.NewCharErrorRate(), decoded[:n], encoded)
	werEncoded := errorRate(metrics.NewWordErrorRate(), decoded[:n], encoded)

	r.info.Printf("cer: %g, wer: %g", cer, wer)
	r.info.Printf("cer encoded: %g, wer encoded: %g", cerEncoded, werEncoded)
	r.logs.Channel("test").Printf("cer=%g wer=%g cer_encoded=%g wer_encoded=%g", cer, wer, cerEncoded, werEncoded)

	return r.writeReport(records)
}

func errorRate(m *metrics.ErrorRate, decoded, expected []string) float64 {
	m.UpdateAll(decoded, expected)
	return m.Compute()
}

// writeReport serializes the records as an indented JSON array, non-ASCII
// text kept literal.
func (r *Runner) writeReport(records []Transliteration) error {
	path := filepath.Join(r.cfg.OutDir, r.outFileName)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(records); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

// ExtractScores runs the model over the evaluation split and writes each
// example's per-timestep class score matrix to
// <outDir>/scores/<image name without extension>.gob as a [][]float64 with
// one row per timestep.
func (r *Runner) ExtractScores() error {
	r.model.SetTraining(false)

	scoresDir := filepath.Join(r.cfg.OutDir, "scores")
	if err := os.MkdirAll(scoresDir, 0o755); err != nil {
		return fmt.Errorf("create scores directory: %w", err)
	}

	it := r.evalLoader.Iter()
	defer it.Close()
	for {
		batch, err := it.Next()
		if err != nil {
			return err
		}
		if batch == nil {
			return nil
		}

		out := r.model.Forward(batch.Images)
		for i, name := range batch.ImageNames {
			scores := make([][]float64, out.T)
			for t := 0; t < out.T; t++ {
				row := make([]float64, out.C)
				copy(row, out.Logits[(i*out.T+t)*out.C:(i*out.T+t+1)*out.C])
				scores[t] = row
			}

			base := filepath.Base(name)
			base = strings.TrimSuffix(base, filepath.Ext(base))
			if err := writeScores(filepath.Join(scoresDir, base+".gob"), scores); err != nil {
				return err
			}
		}
	}
}

func writeScores(path string, scores [][]float64) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create score file: %w", err)
	}
	defer f.Close()

	if err := gob.NewEncoder(f).Encode(scores); err != nil {
		return fmt.Errorf("encode scores %s: %w", filepath.Base(path), err)
	}
	return nil
}
