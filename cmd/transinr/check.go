// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"math/rand"
	"runtime"
	"slices"
	"strconv"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/transinr/pkg/catalog"
	"github.com/gomlx/transinr/pkg/multiview"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
)

var (
	flagCheckWorkers int
	flagCheckSeed    int64
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Assemble an episode of every scene of a split, reporting the scenes that fail",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		exp, err := loadExperiment(cmd)
		if err != nil {
			return err
		}
		assembler, err := newAssembler(exp, nil)
		if err != nil {
			return err
		}
		failures, err := checkScenes(cmd.Context(), assembler, flagCheckWorkers, flagCheckSeed, true)
		if err != nil {
			return err
		}
		numScenes := assembler.Catalog().NumScenes()
		if len(failures) == 0 {
			fmt.Printf("All %s scenes assembled successfully.\n", humanize.Comma(int64(numScenes)))
			return nil
		}
		fmt.Println(failuresTable(failures).Render())
		return errors.Errorf("%d out of %d scenes failed", len(failures), numScenes)
	},
}

func init() {
	checkCmd.Flags().IntVar(&flagCheckWorkers, "workers", runtime.NumCPU(), "Number of scenes assembled in parallel.")
	checkCmd.Flags().Int64Var(&flagCheckSeed, "seed", 0, "Seed for the random draw of views.")
}

// sceneFailure is a scene that could not be assembled.
type sceneFailure struct {
	index int
	scene catalog.Scene
	err   error
}

// checkScenes assembles one episode of each distinct scene of the catalog, with at most workers
// scenes in parallel. Integrity errors are returned as failures; err is only set if the check was
// interrupted.
func checkScenes(ctx context.Context, assembler *multiview.Assembler, workers int, seed int64,
	showProgress bool) (failures []sceneFailure, err error) {
	scenes := assembler.Catalog().Scenes()
	var bar *progressbar.ProgressBar
	if showProgress {
		bar = progressbar.Default(int64(len(scenes)), "checking scenes")
	}

	var mu sync.Mutex
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(max(workers, 1))
	for index, scene := range scenes {
		g.Go(func() error {
			if gCtx.Err() != nil {
				return gCtx.Err()
			}
			episode, err := assembler.Assemble(scene, rand.New(rand.NewSource(seed+int64(index))))
			if err == nil {
				episode.FinalizeAll()
			} else {
				klog.V(1).Infof("scene %s failed: %v", scene, err)
			}
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = append(failures, sceneFailure{index: index, scene: scene, err: err})
			}
			if bar != nil {
				_ = bar.Add(1)
			}
			return nil
		})
	}
	err = g.Wait()
	if bar != nil {
		_ = bar.Finish()
	}
	slices.SortFunc(failures, func(a, b sceneFailure) int { return a.index - b.index })
	return failures, err
}

func failuresTable(failures []sceneFailure) *table {
	t := newTable([]string{"Index", "Scene", "View", "Error"}, lipgloss.Right, lipgloss.Left, lipgloss.Right,
		lipgloss.Left)
	for _, f := range failures {
		view := "-"
		var sceneErr *multiview.SceneError
		if errors.As(f.err, &sceneErr) && sceneErr.View != multiview.NoView {
			view = strconv.Itoa(sceneErr.View)
		}
		t.Add(true, strconv.Itoa(f.index), f.scene.String(), view, f.err.Error())
	}
	return t
}
