// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"math/rand"
	"slices"

	"github.com/charmbracelet/lipgloss"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/transinr/pkg/multiview"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/exp/maps"
)

var (
	flagSampleIndex   int
	flagSampleSeed    int64
	flagSampleSupport []int
	flagSampleQuery   []int
)

var sampleCmd = &cobra.Command{
	Use:   "sample",
	Short: "Assemble one episode and print its views and tensors",
	Long: `Assemble one episode and print its views and tensors.

By default views are drawn randomly (with --seed) as during training. With --support (and optionally
--query) exactly the given views are used, with no color augmentation.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		exp, err := loadExperiment(cmd)
		if err != nil {
			return err
		}
		assembler, err := newAssembler(exp, nil)
		if err != nil {
			return err
		}
		var episode *multiview.Episode
		if len(flagSampleSupport) > 0 {
			scene, err := assembler.Catalog().Scene(flagSampleIndex)
			if err != nil {
				return err
			}
			episode, err = assembler.Select(scene, flagSampleSupport, flagSampleQuery)
			if err != nil {
				return err
			}
		} else {
			if len(flagSampleQuery) > 0 {
				return errors.New("--query requires --support")
			}
			episode, err = assembler.Get(flagSampleIndex, rand.New(rand.NewSource(flagSampleSeed)))
			if err != nil {
				return err
			}
		}
		defer episode.FinalizeAll()
		printEpisode(episode)
		return nil
	},
}

func init() {
	sampleCmd.Flags().IntVar(&flagSampleIndex, "index", 0, "Index of the scene in the catalog.")
	sampleCmd.Flags().Int64Var(&flagSampleSeed, "seed", 0, "Seed for the random draw of views.")
	sampleCmd.Flags().IntSliceVar(&flagSampleSupport, "support", nil, "Explicit support views.")
	sampleCmd.Flags().IntSliceVar(&flagSampleQuery, "query", nil, "Explicit query views, used with --support.")
}

func printEpisode(episode *multiview.Episode) {
	fmt.Println(titleStyle.Render(fmt.Sprintf("Scene %s (%s)", episode.Scene, episode.Scene.Root)))

	info := newTable([]string{"Field", "Value"}, lipgloss.Left)
	info.Add(false, "support views", fmt.Sprint(episode.SupportViews))
	info.Add(false, "query views", fmt.Sprint(episode.QueryViews))
	info.Add(false, "focal", fmt.Sprintf("%.4g, %.4g", episode.Focal[0], episode.Focal[1]))
	if episode.HasPrincipal {
		info.Add(false, "principal", fmt.Sprintf("%.4g, %.4g", episode.Principal[0], episode.Principal[1]))
	}
	info.Add(false, "near / far", fmt.Sprintf("%g / %g", episode.Near, episode.Far))
	if episode.HasCategory {
		info.Add(false, "category", fmt.Sprint(episode.Category))
	}
	if episode.Jitter != nil {
		j := episode.Jitter
		info.Add(false, "color jitter", fmt.Sprintf("hue=%.3f saturation=%.3f brightness=%.3f contrast=%.3f",
			j.Hue, j.Saturation, j.Brightness, j.Contrast))
	}
	fmt.Println(info.Render())

	record := episode.Record()
	tensorsTable := newTable([]string{"Key", "Shape"}, lipgloss.Left)
	for _, key := range slices.Sorted(maps.Keys(record)) {
		switch value := record[key].(type) {
		case *tensors.Tensor:
			if value == nil {
				tensorsTable.Add(false, key, "-")
			} else {
				tensorsTable.Add(false, key, value.Shape().String())
			}
		default:
			tensorsTable.Add(false, key, fmt.Sprint(value))
		}
	}
	if episode.SupportMasks != nil {
		tensorsTable.Add(false, "support_masks", episode.SupportMasks.Shape().String())
		tensorsTable.Add(false, "support_bboxes", episode.SupportBBoxes.Shape().String())
	}
	fmt.Println(tensorsTable.Render())
}
