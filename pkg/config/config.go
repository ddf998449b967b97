// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package config loads experiment configurations from YAML files.
//
// An experiment has a dataset section, mapped onto multiview.Config, and a model section, with the shape
// of the reference field network and the hyperparameters set in the context.Context. Example:
//
//	dataset:
//	  root: /data/shapenet/cars
//	  format: shapenet
//	  split: train
//	  num_support: 2
//	  num_query: 1
//	  image_size: [128, 128]
//	model:
//	  field_hidden_dims: [64, 64]
//	  params:
//	    hypernet_dim: 128
//	    hypernet_num_groups: 32
package config

import (
	"os"
	"path/filepath"
	"slices"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/tensors/images"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/transinr/pkg/calib"
	"github.com/gomlx/transinr/pkg/catalog"
	"github.com/gomlx/transinr/pkg/multiview"
	"github.com/pkg/errors"
	"golang.org/x/exp/maps"
	"gopkg.in/yaml.v3"
)

// Experiment holds the configuration of one experiment.
type Experiment struct {
	Dataset Dataset `yaml:"dataset"`
	Model   Model   `yaml:"model"`
}

// Dataset section. Unset (nil) fields keep the defaults of multiview.DefaultConfig for the format and split.
type Dataset struct {
	Root   string `yaml:"root"`
	Format string `yaml:"format"`
	Split  string `yaml:"split"`

	ListPrefix     *string  `yaml:"list_prefix,omitempty"`
	MaxImages      *int     `yaml:"max_images,omitempty"`
	ScaleFocal     *bool    `yaml:"scale_focal,omitempty"`
	Near           *float64 `yaml:"near,omitempty"`
	Far            *float64 `yaml:"far,omitempty"`
	ColorJitter    *bool    `yaml:"color_jitter,omitempty"`
	NumSupport     *int     `yaml:"num_support,omitempty"`
	NumQuery       *int     `yaml:"num_query,omitempty"`
	SupportList    []int    `yaml:"support_list,omitempty"`
	Repeat         *int     `yaml:"repeat,omitempty"`
	ViewRange      []int    `yaml:"view_range,omitempty"`
	ReturnCategory bool     `yaml:"return_category,omitempty"`
	ImageSize      []int    `yaml:"image_size,omitempty"`
	ChannelsLast   bool     `yaml:"channels_last,omitempty"`
	DType          string   `yaml:"dtype,omitempty"`
	Seed           int64    `yaml:"seed,omitempty"`
}

// Model section.
type Model struct {
	FieldInputDim   int   `yaml:"field_input_dim"`
	FieldHiddenDims []int `yaml:"field_hidden_dims"`
	FieldOutputDim  int   `yaml:"field_output_dim"`

	// Params are set as hyperparameters in the context, see hypernet.ParamDim, encoders.ParamDepth, etc.
	Params map[string]any `yaml:"params,omitempty"`
}

// Default returns an experiment over a ShapeNet training split, with a small field network.
func Default() *Experiment {
	return &Experiment{
		Dataset: Dataset{
			Format: string(calib.ShapeNet),
			Split:  string(catalog.Train),
		},
		Model: Model{
			FieldInputDim:   3,
			FieldHiddenDims: []int{64, 64},
			FieldOutputDim:  4,
		},
	}
}

// Load reads the experiment from a YAML file. Fields not in the file keep the values of Default.
func Load(filePath string) (*Experiment, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read experiment configuration")
	}
	return Parse(data)
}

// Parse the YAML contents of an experiment file.
func Parse(data []byte) (*Experiment, error) {
	exp := Default()
	if err := yaml.Unmarshal(data, exp); err != nil {
		return nil, errors.Wrapf(err, "failed to parse experiment configuration")
	}
	if exp.Model.FieldInputDim < 1 || exp.Model.FieldOutputDim < 1 {
		return nil, errors.Errorf("field_input_dim (%d) and field_output_dim (%d) must be >= 1",
			exp.Model.FieldInputDim, exp.Model.FieldOutputDim)
	}
	return exp, nil
}

// Save writes the experiment as YAML, creating the directory if needed.
func (exp *Experiment) Save(filePath string) error {
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return errors.Wrapf(err, "failed to create directory for %q", filePath)
	}
	data, err := yaml.Marshal(exp)
	if err != nil {
		return errors.Wrapf(err, "failed to marshal experiment configuration")
	}
	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return errors.Wrapf(err, "failed to write experiment configuration")
	}
	return nil
}

// MultiviewConfig builds the validated multiview.Config of the dataset section.
func (d *Dataset) MultiviewConfig() (multiview.Config, error) {
	format, err := calib.ParseFormat(d.Format)
	if err != nil {
		return multiview.Config{}, err
	}
	split, err := catalog.ParseSplit(d.Split)
	if err != nil {
		return multiview.Config{}, err
	}
	cfg := multiview.DefaultConfig(format, split)
	setIf(&cfg.ListPrefix, d.ListPrefix)
	setIf(&cfg.MaxImages, d.MaxImages)
	setIf(&cfg.ScaleFocal, d.ScaleFocal)
	setIf(&cfg.Near, d.Near)
	setIf(&cfg.Far, d.Far)
	setIf(&cfg.ColorJitter, d.ColorJitter)
	setIf(&cfg.NumSupport, d.NumSupport)
	setIf(&cfg.NumQuery, d.NumQuery)
	setIf(&cfg.Repeat, d.Repeat)
	cfg.SupportList = slices.Clone(d.SupportList)
	cfg.ViewRange = slices.Clone(d.ViewRange)
	cfg.ImageSize = slices.Clone(d.ImageSize)
	cfg.ReturnCategory = d.ReturnCategory
	cfg.Seed = d.Seed
	if d.ChannelsLast {
		cfg.ChannelsAxis = images.ChannelsLast
	}
	if d.DType != "" {
		cfg.DType, err = dtypes.DTypeString(d.DType)
		if err != nil {
			return multiview.Config{}, errors.Wrapf(err, "invalid dataset dtype %q", d.DType)
		}
	}
	if err := cfg.Validate(); err != nil {
		return multiview.Config{}, errors.WithMessagef(err, "invalid dataset configuration")
	}
	return cfg, nil
}

func setIf[T any](field *T, value *T) {
	if value != nil {
		*field = *value
	}
}

// ApplyParams sets the model hyperparameters in the context, in sorted key order.
func (m *Model) ApplyParams(ctx *context.Context) {
	for _, key := range slices.Sorted(maps.Keys(m.Params)) {
		ctx.SetParam(key, m.Params[key])
	}
}
