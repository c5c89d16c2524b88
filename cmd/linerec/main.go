package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/lebefriedlich/computer-vision/config"
	"github.com/lebefriedlich/computer-vision/dataset"
	"github.com/lebefriedlich/computer-vision/runlog"
	"github.com/lebefriedlich/computer-vision/runner"
)

func main() {
	cfgPath := flag.String("file", "config.cfg", "path to configuration file")
	section := flag.String("section", "DEFAULT", "configuration section to use")
	testOnly := flag.Bool("test", false, "skip training and evaluate the saved model on the test split")
	flag.Parse()

	cfg, err := config.Load(*cfgPath, *section)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load configuration: %v\n", err)
		os.Exit(1)
	}
	if err := os.MkdirAll(cfg.OutDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "create output directory: %v\n", err)
		os.Exit(1)
	}

	if *testOnly {
		if err := evaluate(cfg, runner.EvalTest, "test.json", runlog.InfoChannel, "test"); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := trainAndEvaluate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

// trainAndEvaluate is the full pipeline: train with in-training validation,
// then score the best checkpoint on the validation split and finally on the
// test split with mixed transcriptions.
func trainAndEvaluate(cfg *config.Configuration) error {
	logs, err := runlog.Init(cfg.OutDir, runlog.InfoChannel, "train", "validation")
	if err != nil {
		return err
	}
	r, err := runner.New(cfg, runner.EvalNone, "", logs)
	if err != nil {
		logs.Close()
		return err
	}
	if err := r.Train(); err != nil {
		logs.Close()
		return err
	}
	if err := logs.Close(); err != nil {
		return err
	}

	if err := evaluate(cfg, runner.EvalValidation, "validation_results.json", runlog.InfoChannel, "eval_test"); err != nil {
		return err
	}

	cfg.ValidationDataMode = dataset.Mixed
	return evaluate(cfg, runner.EvalTest, "test_results.json", runlog.InfoChannel, "test")
}

func evaluate(cfg *config.Configuration, mode runner.EvalMode, outFileName string, channels ...string) error {
	logs, err := runlog.Init(cfg.OutDir, channels...)
	if err != nil {
		return err
	}
	defer logs.Close()

	r, err := runner.New(cfg, mode, outFileName, logs)
	if err != nil {
		return err
	}
	return r.Test()
}
