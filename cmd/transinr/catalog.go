// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/transinr/pkg/catalog"
	"github.com/spf13/cobra"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "List the categories and number of scenes of a split",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		exp, err := loadExperiment(cmd)
		if err != nil {
			return err
		}
		cfg, err := exp.Dataset.MultiviewConfig()
		if err != nil {
			return err
		}
		cat, err := catalog.New(exp.Dataset.Root, cfg.Split, cfg.ListPrefix, cfg.Repeat)
		if err != nil {
			return err
		}
		fmt.Println(titleStyle.Render(fmt.Sprintf("%s: split %q, format %s", cat.Root(), cat.Split(), cfg.Format)))
		fmt.Println(catalogTable(cat).Render())
		return nil
	},
}

// catalogTable lists the categories of the catalog with their ids and number of scenes.
func catalogTable(cat *catalog.Catalog) *table {
	t := newTable([]string{"Category", "Id", "Scenes"}, lipgloss.Left, lipgloss.Right)
	counts := cat.CountByCategory()
	var total int
	for id, category := range cat.Categories() {
		t.Add(counts[id] == 0, category, strconv.Itoa(id), humanize.Comma(int64(counts[id])))
		total += counts[id]
	}
	t.Add(false, "Total", "", humanize.Comma(int64(total)))
	if cat.Repeat() > 1 {
		t.Add(false, fmt.Sprintf("Length (repeat=%d)", cat.Repeat()), "", humanize.Comma(int64(cat.Len())))
	}
	return t
}
