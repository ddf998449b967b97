// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// transinr inspects multi-view scene datasets and runs the weight-token hypernetwork over them.
//
// Subcommands:
//
//   - catalog: categories and number of scenes of a split.
//   - sample: assembles one episode and prints its views and tensors.
//   - check: assembles every scene of a split, reporting the ones that fail.
//   - hypernet: runs one forward pass of the hypernetwork over a batch of episodes.
//
// The dataset is configured with an optional YAML experiment file (--config), overridden by the
// --data, --format and --split flags.
package main

import (
	"flag"
	"os"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"
)

var (
	flagConfig string
	flagData   string
	flagFormat string
	flagSplit  string
)

var rootCmd = &cobra.Command{
	Use:   "transinr",
	Short: "Multi-view scene datasets and weight-token hypernetworks",
	Long: `transinr reads calibrated multi-view scene datasets (ShapeNet and DTU-like calibration conventions),
assembles support/query episodes from them and generates implicit field weights with a weight-token
hypernetwork.`,
	SilenceUsage: true,
}

func init() {
	goFlags := flag.NewFlagSet("klog", flag.ExitOnError)
	klog.InitFlags(goFlags)
	rootCmd.PersistentFlags().AddGoFlagSet(goFlags)

	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "YAML experiment file. Flags override its values.")
	rootCmd.PersistentFlags().StringVar(&flagData, "data", "", "Root directory of the dataset.")
	rootCmd.PersistentFlags().StringVar(&flagFormat, "format", "", `Calibration format: "shapenet" or "dtu_like".`)
	rootCmd.PersistentFlags().StringVar(&flagSplit, "split", "", `Split: "train", "val" or "test".`)

	rootCmd.AddCommand(catalogCmd, sampleCmd, checkCmd, hypernetCmd)
}

func main() {
	defer klog.Flush()
	if err := rootCmd.Execute(); err != nil {
		klog.Errorf("%+v", err)
		klog.Flush()
		os.Exit(1)
	}
}
