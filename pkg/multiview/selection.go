// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package multiview

import (
	"math/rand"
	"slices"

	"github.com/pkg/errors"
)

// candidatePool returns the view indices that can be drawn from a scene with numViews views:
// all of them in order, or a random subset of maxImages if there are more, narrowed by viewRange.
func candidatePool(rng *rand.Rand, numViews, maxImages int, viewRange []int) []int {
	var pool []int
	if numViews <= maxImages {
		pool = make([]int, numViews)
		for ii := range pool {
			pool[ii] = ii
		}
	} else {
		pool = rng.Perm(numViews)[:maxImages]
	}
	if len(viewRange) == 2 {
		start, end := sliceBounds(viewRange[0], viewRange[1], len(pool))
		pool = pool[start:end]
	}
	return pool
}

// sliceBounds normalizes [start, end) with Python slice semantics: negative values count from the end
// and out-of-range values are clamped.
func sliceBounds(start, end, n int) (int, int) {
	norm := func(v int) int {
		if v < 0 {
			v += n
		}
		return min(max(v, 0), n)
	}
	start, end = norm(start), norm(end)
	if end < start {
		end = start
	}
	return start, end
}

// drawWithoutReplacement draws k distinct elements of pool in random order.
func drawWithoutReplacement(rng *rand.Rand, pool []int, k int) ([]int, error) {
	if k > len(pool) {
		return nil, errors.Wrapf(ErrInsufficientViews, "requested %d views from a pool of %d", k, len(pool))
	}
	perm := rng.Perm(len(pool))
	out := make([]int, k)
	for ii := range k {
		out[ii] = pool[perm[ii]]
	}
	return out, nil
}

// selectViews picks numSupport+numQuery views of a scene with numViews views. The first numSupport
// returned indices are the support views.
//
// With a supportList, the support views are fixed and only the numQuery views are drawn, from the
// candidates not in the supportList.
func selectViews(rng *rand.Rand, numViews int, cfg *Config) ([]int, error) {
	for _, view := range cfg.SupportList {
		if view >= numViews {
			return nil, errors.Wrapf(ErrInsufficientViews, "support view %d requested, but scene has %d views",
				view, numViews)
		}
	}
	pool := candidatePool(rng, numViews, cfg.MaxImages, cfg.ViewRange)
	if cfg.SupportList == nil {
		return drawWithoutReplacement(rng, pool, cfg.NumSupport+cfg.NumQuery)
	}
	rest := slices.DeleteFunc(slices.Clone(pool), func(v int) bool { return slices.Contains(cfg.SupportList, v) })
	query, err := drawWithoutReplacement(rng, rest, cfg.NumQuery)
	if err != nil {
		return nil, err
	}
	return append(slices.Clone(cfg.SupportList), query...), nil
}
