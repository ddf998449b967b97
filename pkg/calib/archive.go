// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package calib

import (
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/core/tensors/numpy"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Archive holds the calibration matrices of one scene, keyed by name (see WorldMatKey and friends).
//
// It is read-only after creation, so it can be shared across goroutines.
type Archive struct {
	path    string
	entries map[string]*tensors.Tensor
}

// LoadArchive reads a scene calibration archive (a NumPy `.npz` file, usually named cameras.npz).
//
// There is no caching: each call parses the file again.
func LoadArchive(filePath string) (*Archive, error) {
	entries, err := numpy.FromNpzFile(filePath)
	if err != nil {
		return nil, errors.WithMessagef(err, "while loading calibration archive")
	}
	return &Archive{path: filePath, entries: entries}, nil
}

// NewArchive creates an Archive from tensors already in memory. Used mostly for testing.
func NewArchive(entries map[string]*tensors.Tensor) *Archive {
	return &Archive{path: "<memory>", entries: entries}
}

// Path of the file the archive was loaded from.
func (ar *Archive) Path() string { return ar.path }

// Len returns the number of entries in the archive.
func (ar *Archive) Len() int { return len(ar.entries) }

// Has returns whether key is present.
func (ar *Archive) Has(key string) bool {
	_, found := ar.entries[key]
	return found
}

// Matrix returns the entry key as a dense matrix.
// If the key is missing it returns an error wrapping ErrMissingCalibration.
func (ar *Archive) Matrix(key string) (*mat.Dense, error) {
	m, found, err := ar.OptionalMatrix(key)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errors.Wrapf(ErrMissingCalibration, "key %q not in %q", key, ar.path)
	}
	return m, nil
}

// OptionalMatrix returns the entry key as a dense matrix, or found=false if it is not present.
func (ar *Archive) OptionalMatrix(key string) (m *mat.Dense, found bool, err error) {
	t, found := ar.entries[key]
	if !found {
		return nil, false, nil
	}
	m, err = tensorToDense(t)
	if err != nil {
		return nil, true, errors.WithMessagef(err, "entry %q of %q", key, ar.path)
	}
	return m, true, nil
}

// tensorToDense converts a rank-2 float tensor to a gonum matrix.
func tensorToDense(t *tensors.Tensor) (*mat.Dense, error) {
	shape := t.Shape()
	if shape.Rank() != 2 {
		return nil, errors.Errorf("calibration matrices must be rank-2, got shape %s", shape)
	}
	rows, cols := shape.Dimensions[0], shape.Dimensions[1]
	var data []float64
	switch t.DType() {
	case dtypes.Float64:
		data = tensors.MustCopyFlatData[float64](t)
	case dtypes.Float32:
		flat := tensors.MustCopyFlatData[float32](t)
		data = make([]float64, len(flat))
		for ii, v := range flat {
			data[ii] = float64(v)
		}
	default:
		return nil, errors.Errorf("calibration matrices must be float32 or float64, got %s", t.DType())
	}
	return mat.NewDense(rows, cols, data), nil
}
