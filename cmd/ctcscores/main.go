package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/lebefriedlich/computer-vision/config"
	"github.com/lebefriedlich/computer-vision/runlog"
	"github.com/lebefriedlich/computer-vision/runner"
)

func main() {
	cfgPath := flag.String("file", "config.cfg", "path to configuration file")
	section := flag.String("section", "DEFAULT", "configuration section to use")
	split := flag.String("split", "test", "split to export scores for (validation or test)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath, *section)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load configuration: %v\n", err)
		os.Exit(1)
	}

	mode := runner.EvalTest
	switch *split {
	case "test":
	case "validation":
		mode = runner.EvalValidation
	default:
		fmt.Fprintf(os.Stderr, "unknown split %q\n", *split)
		os.Exit(1)
	}

	logs, err := runlog.Init(cfg.OutDir, runlog.InfoChannel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logging: %v\n", err)
		os.Exit(1)
	}
	defer logs.Close()

	r, err := runner.New(cfg, mode, "", logs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	if err := r.ExtractScores(); err != nil {
		fmt.Fprintf(os.Stderr, "extract scores: %v\n", err)
		os.Exit(1)
	}
}
