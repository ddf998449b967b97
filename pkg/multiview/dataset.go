// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package multiview

import (
	"io"
	"math/rand"
	"sync"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/pkg/errors"
)

// Dataset implements train.Dataset over the episodes of an Assembler.
//
// Yield returns the Dataset itself as spec, Episode.Inputs as inputs and Episode.Labels as labels.
// Use YieldEpisode to also get the episode metadata.
// It is safe for concurrent use, so it can be wrapped with datasets.Parallel.
type Dataset struct {
	name      string
	assembler *Assembler
	infinite  bool
	shuffle   bool

	mu      sync.Mutex
	order   []int
	next    int
	seedRng *rand.Rand
}

var _ train.Dataset = (*Dataset)(nil)

// NewDataset creates a Dataset that yields one episode per catalog index, in order.
// The random draws of each episode are derived from Config.Seed.
func NewDataset(name string, assembler *Assembler) (*Dataset, error) {
	if assembler.cfg.NumQuery < 1 {
		return nil, errors.Errorf("multiview.Dataset requires NumQuery >= 1, got %d", assembler.cfg.NumQuery)
	}
	ds := &Dataset{name: name, assembler: assembler}
	ds.Reset()
	return ds, nil
}

// Infinite makes the dataset loop over the catalog indefinitely, instead of returning io.EOF at the
// end of an epoch.
func (ds *Dataset) Infinite(infinite bool) *Dataset {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.infinite = infinite
	return ds
}

// Shuffle makes the dataset visit the catalog indices in a random order, drawn again at every epoch.
func (ds *Dataset) Shuffle() *Dataset {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.shuffle = true
	ds.lockedNewEpoch()
	return ds
}

// Name implements train.Dataset.
func (ds *Dataset) Name() string { return ds.name }

// Reset implements train.Dataset. It restarts the epoch and the random draws from Config.Seed.
func (ds *Dataset) Reset() {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.seedRng = rand.New(rand.NewSource(ds.assembler.cfg.Seed))
	ds.lockedNewEpoch()
}

func (ds *Dataset) lockedNewEpoch() {
	ds.next = 0
	n := ds.assembler.Len()
	if ds.shuffle {
		ds.order = ds.seedRng.Perm(n)
		return
	}
	ds.order = make([]int, n)
	for ii := range ds.order {
		ds.order[ii] = ii
	}
}

// Yield implements train.Dataset. The spec is always the Dataset, so train.Trainer reuses the same
// computation graph for every episode.
func (ds *Dataset) Yield() (spec any, inputs, labels []*tensors.Tensor, err error) {
	episode, err := ds.YieldEpisode()
	if err != nil {
		return nil, nil, nil, err
	}
	return ds, episode.Inputs(), episode.Labels(), nil
}

// YieldEpisode assembles the next episode, following the same order and random draws as Yield.
func (ds *Dataset) YieldEpisode() (*Episode, error) {
	ds.mu.Lock()
	if len(ds.order) == 0 {
		ds.mu.Unlock()
		return nil, errors.Errorf("dataset %q is empty", ds.name)
	}
	if ds.next >= len(ds.order) {
		if !ds.infinite {
			ds.mu.Unlock()
			return nil, io.EOF
		}
		ds.lockedNewEpoch()
	}
	index := ds.order[ds.next]
	ds.next++
	rng := rand.New(rand.NewSource(ds.seedRng.Int63()))
	ds.mu.Unlock()

	return ds.assembler.Get(index, rng)
}
