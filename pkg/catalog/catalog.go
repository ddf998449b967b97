// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package catalog enumerates the scenes of a multi-view dataset.
//
// The dataset root holds one sub-directory per category. Each category directory holds one
// sub-directory per scene, plus split list files named "<prefix>train.lst", "<prefix>val.lst" and
// "<prefix>test.lst", listing (one per line) the scene directories belonging to each split.
package catalog

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Split of the dataset.
type Split string

const (
	Train      Split = "train"
	Validation Split = "val"
	Test       Split = "test"
)

// ParseSplit converts a split name ("train", "val" or "test") to a Split.
func ParseSplit(name string) (Split, error) {
	switch s := Split(strings.ToLower(strings.TrimSpace(name))); s {
	case Train, Validation, Test:
		return s, nil
	case "validation":
		return Validation, nil
	}
	return "", errors.Errorf("invalid split %q, valid values are %q, %q and %q", name, Train, Validation, Test)
}

// String implements fmt.Stringer.
func (s Split) String() string { return string(s) }

// ListFileName returns the name of the list file for the split, given the list prefix.
func (s Split) ListFileName(prefix string) string { return prefix + string(s) + ".lst" }

// Scene is identified by its category and root directory.
type Scene struct {
	Category   string
	CategoryID int
	Root       string
}

// String implements fmt.Stringer.
func (s Scene) String() string { return fmt.Sprintf("%s/%s", s.Category, filepath.Base(s.Root)) }

// Catalog is the read-only list of scenes of one split. It is safe for concurrent use.
type Catalog struct {
	root       string
	split      Split
	categories []string
	categoryID map[string]int
	scenes     []Scene
	repeat     int
}

// New builds the catalog of the given split under root.
//
// Categories are the immediate sub-directories of root, sorted by name and numbered from 0.
// Categories without the split list file are skipped. repeat multiplies the length of the catalog,
// it must be >= 1.
func New(root string, split Split, listPrefix string, repeat int) (*Catalog, error) {
	if repeat < 1 {
		return nil, errors.Errorf("catalog repeat must be >= 1, got %d", repeat)
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list categories in %q", root)
	}
	c := &Catalog{
		root:       root,
		split:      split,
		categoryID: make(map[string]int),
		repeat:     repeat,
	}
	for _, entry := range entries {
		if entry.IsDir() {
			c.categories = append(c.categories, entry.Name())
		}
	}
	slices.Sort(c.categories)
	for id, category := range c.categories {
		c.categoryID[category] = id
	}

	for id, category := range c.categories {
		categoryDir := filepath.Join(root, category)
		listPath := filepath.Join(categoryDir, split.ListFileName(listPrefix))
		names, err := readList(listPath)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				klog.Warningf("Category %q has no list file %q, skipping", category, filepath.Base(listPath))
				continue
			}
			return nil, err
		}
		for _, name := range names {
			c.scenes = append(c.scenes, Scene{
				Category:   category,
				CategoryID: id,
				Root:       filepath.Join(categoryDir, name),
			})
		}
	}
	return c, nil
}

// readList returns the non-empty, trimmed lines of a list file.
func readList(listPath string) ([]string, error) {
	f, err := os.Open(listPath)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	var names []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		names = append(names, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "failed to read list file %q", listPath)
	}
	return names, nil
}

// Root directory of the dataset.
func (c *Catalog) Root() string { return c.root }

// Split of the catalog.
func (c *Catalog) Split() Split { return c.split }

// Categories returns the sorted category names; the position is the category id.
func (c *Catalog) Categories() []string { return slices.Clone(c.categories) }

// CategoryID returns the id of the category, or false if it doesn't exist.
func (c *Catalog) CategoryID(category string) (int, bool) {
	id, found := c.categoryID[category]
	return id, found
}

// NumScenes returns the number of distinct scenes, not counting repeats.
func (c *Catalog) NumScenes() int { return len(c.scenes) }

// Repeat multiplier of the catalog length.
func (c *Catalog) Repeat() int { return c.repeat }

// Len returns NumScenes * Repeat.
func (c *Catalog) Len() int { return len(c.scenes) * c.repeat }

// Scene returns the scene for the given index. Indices past NumScenes wrap around, so
// any index in [0, Len()) is valid.
func (c *Catalog) Scene(index int) (Scene, error) {
	if len(c.scenes) == 0 {
		return Scene{}, errors.Errorf("catalog %q split %q has no scenes", c.root, c.split)
	}
	if index < 0 {
		return Scene{}, errors.Errorf("invalid negative scene index %d", index)
	}
	return c.scenes[index%len(c.scenes)], nil
}

// Scenes returns a copy of the distinct scenes, in catalog order.
func (c *Catalog) Scenes() []Scene { return slices.Clone(c.scenes) }

// CountByCategory returns the number of scenes per category, indexed by category id.
func (c *Catalog) CountByCategory() []int {
	counts := make([]int, len(c.categories))
	for _, s := range c.scenes {
		counts[s.CategoryID]++
	}
	return counts
}
