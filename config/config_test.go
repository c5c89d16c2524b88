package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lebefriedlich/computer-vision/dataset"
	"github.com/lebefriedlich/computer-vision/decoder"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.cfg")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const baseConfig = `
dataDir = /data/lines
alphabet = abc
outDir = /tmp/out

[experiment]
batchSize = 1
epochs = 50
learningRate = 0.001
clipNorm = 5
validationEpoch = 2
earlyStoppingEpochCount = 10
warmup = 5
dataMode = mixed
validationDataMode = normalized
decodingMethod = greedy
`

func TestLoad_SectionWithDefaults(t *testing.T) {
	path := writeConfig(t, baseConfig)

	c, err := Load(path, "experiment")
	require.NoError(t, err)

	// Section values
	assert.Equal(t, 1, c.BatchSize)
	assert.Equal(t, 50, c.Epochs)
	assert.Equal(t, 0.001, c.LearningRate)
	assert.Equal(t, 5.0, c.ClipNorm)
	assert.Equal(t, 2, c.ValidationEpoch)
	assert.Equal(t, 10, c.EarlyStoppingEpochCount)
	assert.Equal(t, 5, c.Warmup)
	assert.Equal(t, dataset.Mixed, c.DataMode)
	assert.Equal(t, dataset.Normalized, c.ValidationDataMode)
	assert.Equal(t, decoder.Greedy, c.DecodingMethod)

	// Inherited from DEFAULT
	assert.Equal(t, "/data/lines", c.DataDir)
	assert.Equal(t, "abc", c.Alphabet)
	assert.Equal(t, "/tmp/out", c.OutDir)

	// Built-in defaults
	assert.Equal(t, "cpu", c.Device)
	assert.Equal(t, 32, c.PadHeight)
	assert.Equal(t, 64, c.PadWidth)
	assert.Equal(t, "best_val_loss.gob", c.TestModelFileName)
}

func TestLoad_UnsupportedDevice(t *testing.T) {
	path := writeConfig(t, "dataDir = /d\nalphabet = ab\ndevice = cuda\n")
	_, err := Load(path, "DEFAULT")
	assert.ErrorContains(t, err, "only cpu")
}

func TestLoad_MissingRequired(t *testing.T) {
	path := writeConfig(t, "alphabet = ab\n")
	_, err := Load(path, "DEFAULT")
	assert.ErrorContains(t, err, "dataDir")

	path = writeConfig(t, "dataDir = /d\n")
	_, err = Load(path, "DEFAULT")
	assert.ErrorContains(t, err, "alphabet")
}

func TestLoad_UnknownEnums(t *testing.T) {
	path := writeConfig(t, "dataDir = /d\nalphabet = ab\ndecodingMethod = viterbi\n")
	_, err := Load(path, "DEFAULT")
	assert.Error(t, err)

	path = writeConfig(t, "dataDir = /d\nalphabet = ab\ndataMode = bogus\n")
	_, err = Load(path, "DEFAULT")
	assert.Error(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.cfg"), "DEFAULT")
	assert.Error(t, err)
}

func TestGeometry(t *testing.T) {
	path := writeConfig(t, "dataDir = /d\nalphabet = ab\npadHeight = 48\npadWidth = 512\npadValue = 0\n")
	c, err := Load(path, "DEFAULT")
	require.NoError(t, err)

	g := c.Geometry()
	assert.Equal(t, dataset.Geometry{Height: 48, Width: 512, PadValue: 0}, g)
}
