// Package config loads the immutable run configuration from an ini-style
// file with named sections; keys missing from the selected section fall
// back to the DEFAULT section.
package config

import (
	"fmt"

	"gopkg.in/ini.v1"

	"github.com/lebefriedlich/computer-vision/dataset"
	"github.com/lebefriedlich/computer-vision/decoder"
)

// Configuration holds all run parameters. Loaded once at startup and never
// mutated afterwards, except for ValidationDataMode which the CLI swaps
// between evaluation passes.
type Configuration struct {
	Device string // only "cpu" is supported

	// Training
	BatchSize               int
	Epochs                  int
	LearningRate            float64
	ClipNorm                float64 // gradient-norm clip, 0 disables
	ModelSaveEpoch          int     // checkpoint cadence in epochs, 0 disables
	ValidationEpoch         int     // validation cadence in epochs, 0 disables
	EarlyStoppingEpochCount int     // patience in epochs, 0 disables
	Warmup                  int     // epochs before early stopping may trigger

	// Data
	DataDir            string
	DataMode           dataset.DataMode
	ValidationDataMode dataset.DataMode
	Fold               int
	Alphabet           string

	// Image geometry
	PadHeight int
	PadWidth  int
	PadValue  float64

	// Model architecture
	HiddenDim    int
	HiddenLayers int
	ContextLen   int
	Dropout      float64

	// Decoding and output
	DecodingMethod    decoder.Method
	OutDir            string
	TestModelFileName string

	// Debug disables data-loader prefetching.
	Debug bool
}

// Load reads the given section of an ini-style configuration file.
func Load(path, section string) (*Configuration, error) {
	file, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	sec := file.Section(section)
	def := file.Section(ini.DefaultSection)

	key := func(name string) *ini.Key {
		if sec.HasKey(name) {
			return sec.Key(name)
		}
		return def.Key(name)
	}

	c := &Configuration{
		Device:                  key("device").MustString("cpu"),
		BatchSize:               key("batchSize").MustInt(8),
		Epochs:                  key("epochs").MustInt(100),
		LearningRate:            key("learningRate").MustFloat64(0.0003),
		ClipNorm:                key("clipNorm").MustFloat64(0),
		ModelSaveEpoch:          key("modelSaveEpoch").MustInt(0),
		ValidationEpoch:         key("validationEpoch").MustInt(1),
		EarlyStoppingEpochCount: key("earlyStoppingEpochCount").MustInt(0),
		Warmup:                  key("warmup").MustInt(0),
		DataDir:                 key("dataDir").String(),
		Fold:                    key("fold").MustInt(0),
		Alphabet:                key("alphabet").String(),
		PadHeight:               key("padHeight").MustInt(32),
		PadWidth:                key("padWidth").MustInt(64),
		PadValue:                key("padValue").MustFloat64(255),
		HiddenDim:               key("hiddenDim").MustInt(256),
		HiddenLayers:            key("hiddenLayers").MustInt(2),
		ContextLen:              key("contextLen").MustInt(3),
		Dropout:                 key("dropout").MustFloat64(0),
		OutDir:                  key("outDir").MustString("out"),
		TestModelFileName:       key("testModelFileName").MustString("best_val_loss.gob"),
		Debug:                   key("debug").MustBool(false),
	}

	if c.Device != "cpu" {
		return nil, fmt.Errorf("unsupported device %q (only cpu is implemented)", c.Device)
	}
	if c.DataDir == "" {
		return nil, fmt.Errorf("config %s [%s]: dataDir is required", path, section)
	}
	if c.Alphabet == "" {
		return nil, fmt.Errorf("config %s [%s]: alphabet is required", path, section)
	}
	if c.BatchSize < 1 {
		return nil, fmt.Errorf("batchSize must be positive, got %d", c.BatchSize)
	}
	if c.Epochs < 1 {
		return nil, fmt.Errorf("epochs must be positive, got %d", c.Epochs)
	}
	if c.LearningRate <= 0 {
		return nil, fmt.Errorf("learningRate must be positive, got %g", c.LearningRate)
	}
	if c.PadHeight < 1 || c.PadWidth < 1 {
		return nil, fmt.Errorf("pad geometry must be positive, got %dx%d", c.PadHeight, c.PadWidth)
	}

	c.DecodingMethod, err = decoder.ParseMethod(key("decodingMethod").MustString("greedy"))
	if err != nil {
		return nil, err
	}
	c.DataMode, err = dataset.ParseDataMode(key("dataMode").MustString("original"))
	if err != nil {
		return nil, err
	}
	c.ValidationDataMode, err = dataset.ParseDataMode(key("validationDataMode").MustString("original"))
	if err != nil {
		return nil, err
	}

	return c, nil
}

// Geometry returns the padded image shape shared by all batches.
func (c *Configuration) Geometry() dataset.Geometry {
	return dataset.Geometry{Height: c.PadHeight, Width: c.PadWidth, PadValue: c.PadValue}
}
