// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"github.com/gomlx/transinr/pkg/config"
	"github.com/gomlx/transinr/pkg/multiview"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// loadExperiment reads the --config file (or the default experiment) and applies the dataset flags.
func loadExperiment(cmd *cobra.Command) (*config.Experiment, error) {
	exp := config.Default()
	if flagConfig != "" {
		var err error
		exp, err = config.Load(flagConfig)
		if err != nil {
			return nil, err
		}
	}
	flags := cmd.Flags()
	if flags.Changed("data") {
		exp.Dataset.Root = flagData
	}
	if flags.Changed("format") {
		exp.Dataset.Format = flagFormat
	}
	if flags.Changed("split") {
		exp.Dataset.Split = flagSplit
	}
	if exp.Dataset.Root == "" {
		return nil, errors.New("dataset root not set, use --data or the dataset.root field of --config")
	}
	return exp, nil
}

// newAssembler creates the episode assembler of the experiment. edit, if given, can change the
// dataset configuration before the assembler is created.
func newAssembler(exp *config.Experiment, edit func(cfg *multiview.Config)) (*multiview.Assembler, error) {
	cfg, err := exp.Dataset.MultiviewConfig()
	if err != nil {
		return nil, err
	}
	if edit != nil {
		edit(&cfg)
		if err = cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return multiview.NewAssembler(exp.Dataset.Root, cfg)
}
