// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package multiview

import (
	"slices"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/tensors/images"
	"github.com/gomlx/transinr/pkg/calib"
	"github.com/gomlx/transinr/pkg/catalog"
	"github.com/pkg/errors"
)

// Config of an Assembler. Create it with DefaultConfig and change the fields as needed.
type Config struct {
	// Format of the calibration archives.
	Format calib.Format

	// Split to read from the catalog.
	Split catalog.Split

	// ListPrefix of the split list files: "<ListPrefix><split>.lst".
	ListPrefix string

	// MaxImages caps the candidate pool of views of a scene. If a scene has more views, a random
	// subset of MaxImages views is used.
	MaxImages int

	// ScaleFocal indicates focal lengths in the archive are normalized to a 2-unit image span.
	ScaleFocal bool

	// Near and Far depth bounds returned with each episode.
	Near, Far float64

	// ColorJitter enables the color augmentation, with one set of factors per episode.
	ColorJitter bool

	// NumSupport and NumQuery are the number of views in each set of an episode.
	NumSupport, NumQuery int

	// SupportList, if set, fixes the support views. Its length must be NumSupport.
	SupportList []int

	// Repeat multiplies the length of the catalog.
	Repeat int

	// ViewRange, if set, is a [start, end) slice applied to the candidate pool before drawing views.
	// Negative values count from the end, as in Python slices.
	ViewRange []int

	// ReturnCategory includes the category id in the episodes.
	ReturnCategory bool

	// ImageSize, if set, is the [height, width] all images are resized to.
	ImageSize []int

	// ChannelsAxis of the image and mask tensors. Defaults to images.ChannelsFirst.
	ChannelsAxis images.ChannelsAxisConfig

	// DType of the floating point tensors: Float32 (default) or Float64.
	DType dtypes.DType

	// Seed used by Dataset to derive the random draws of each episode.
	Seed int64
}

// DefaultMaxImages is used when there is no cap on the number of views.
const DefaultMaxImages = 100000

// DefaultConfig returns the configuration used for each calibration format and split.
func DefaultConfig(format calib.Format, split catalog.Split) Config {
	cfg := Config{
		Format:       format,
		Split:        split,
		ListPrefix:   "softras_",
		MaxImages:    DefaultMaxImages,
		ScaleFocal:   true,
		Near:         1.2,
		Far:          4.0,
		NumSupport:   1,
		NumQuery:     1,
		Repeat:       1,
		ChannelsAxis: images.ChannelsFirst,
		DType:        dtypes.Float32,
	}
	if format == calib.DTULike {
		cfg.ListPrefix = "new_"
		if split != catalog.Test {
			cfg.MaxImages = 49
		}
		cfg.ScaleFocal = false
		cfg.Near, cfg.Far = 0.1, 5.0
		cfg.ColorJitter = split == catalog.Train
	}
	return cfg
}

// Validate checks the configuration is consistent.
func (cfg *Config) Validate() error {
	if _, err := calib.NewResolver(cfg.Format, calib.Options{}); err != nil {
		return err
	}
	if _, err := catalog.ParseSplit(string(cfg.Split)); err != nil {
		return err
	}
	if cfg.NumSupport < 1 || cfg.NumQuery < 0 {
		return errors.Errorf("invalid NumSupport=%d / NumQuery=%d: at least one support view is required",
			cfg.NumSupport, cfg.NumQuery)
	}
	if cfg.SupportList != nil {
		if len(cfg.SupportList) != cfg.NumSupport {
			return errors.Errorf("SupportList %v has %d views, but NumSupport=%d", cfg.SupportList,
				len(cfg.SupportList), cfg.NumSupport)
		}
		if slices.ContainsFunc(cfg.SupportList, func(v int) bool { return v < 0 }) {
			return errors.Errorf("SupportList %v has negative view indices", cfg.SupportList)
		}
		sorted := slices.Clone(cfg.SupportList)
		slices.Sort(sorted)
		if len(slices.Compact(sorted)) != len(cfg.SupportList) {
			return errors.Errorf("SupportList %v has repeated views", cfg.SupportList)
		}
	}
	if cfg.MaxImages < 1 {
		return errors.Errorf("MaxImages must be >= 1, got %d", cfg.MaxImages)
	}
	if cfg.Repeat < 1 {
		return errors.Errorf("Repeat must be >= 1, got %d", cfg.Repeat)
	}
	if cfg.ViewRange != nil && len(cfg.ViewRange) != 2 {
		return errors.Errorf("ViewRange must be [start, end), got %v", cfg.ViewRange)
	}
	if cfg.ImageSize != nil && (len(cfg.ImageSize) != 2 || cfg.ImageSize[0] <= 0 || cfg.ImageSize[1] <= 0) {
		return errors.Errorf("ImageSize must be [height, width] with positive values, got %v", cfg.ImageSize)
	}
	if cfg.ChannelsAxis != images.ChannelsFirst && cfg.ChannelsAxis != images.ChannelsLast {
		return errors.Errorf("invalid ChannelsAxis %d", cfg.ChannelsAxis)
	}
	if cfg.DType != dtypes.Float32 && cfg.DType != dtypes.Float64 {
		return errors.Errorf("DType must be Float32 or Float64, got %s", cfg.DType)
	}
	return nil
}
