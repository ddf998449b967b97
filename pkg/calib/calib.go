// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package calib resolves the raw camera records of a multi-view scene into normalized camera poses
// and intrinsics.
//
// Two calibration conventions are supported, each implemented by its own Resolver:
//
//   - ShapeNet: paired extrinsic (world_mat / world_mat_inv) and intrinsic (camera_mat) matrices, with
//     an isotropic focal length shared by every view of the scene.
//   - DTULike: one 3x4 projection matrix per view (world_mat), decomposed into intrinsics, rotation and
//     camera center, optionally normalized by a per-view scale_mat. Intrinsics are averaged over the
//     views of a scene.
//
// Both resolvers output poses (camera-to-world, 4x4) in the same right-handed frame, obtained by
// multiplying the raw pose by fixed, format-dependent axis-correction matrices.
package calib

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Format tags the calibration convention used by a dataset.
type Format string

const (
	// ShapeNet convention: extrinsic/intrinsic matrix pairs, focal length normalized to a 2-unit image span.
	ShapeNet Format = "shapenet"

	// DTULike convention: 3x4 projection matrices plus optional scene normalization matrices.
	DTULike Format = "dtu_like"
)

// ParseFormat converts the name of a calibration convention to a Format.
// "dtu" is accepted as an alias of DTULike.
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case string(ShapeNet):
		return ShapeNet, nil
	case string(DTULike), "dtu":
		return DTULike, nil
	}
	return "", errors.Errorf("unknown calibration format %q, valid values are %q and %q", name, ShapeNet, DTULike)
}

// String implements fmt.Stringer.
func (f Format) String() string { return string(f) }

var (
	// ErrMissingCalibration is returned when a requested view has no projection/extrinsic entry in the
	// calibration archive.
	ErrMissingCalibration = errors.New("missing calibration entry")

	// ErrFocalMismatch is returned when the focal lengths of a view (x vs y) or of different views of
	// the same scene disagree beyond tolerance.
	ErrFocalMismatch = errors.New("focal length mismatch")

	// ErrDegenerateCamera is returned when a projection or extrinsic matrix can't be inverted.
	ErrDegenerateCamera = errors.New("degenerate camera matrix")
)

const (
	// FocalAxisTolerance is the maximum difference between the x and y focal lengths of a ShapeNet view.
	FocalAxisTolerance = 1e-9

	// FocalSceneTolerance is the maximum difference between the focal lengths of two views of the same
	// ShapeNet scene.
	FocalSceneTolerance = 1e-5
)

// Archive keys, indexed by the view number.

// WorldMatKey returns the key of the projection (DTULike) or extrinsic (ShapeNet) matrix of a view.
func WorldMatKey(view int) string { return fmt.Sprintf("world_mat_%d", view) }

// WorldMatInvKey returns the key of the optional precomputed inverse of the world matrix of a view.
func WorldMatInvKey(view int) string { return fmt.Sprintf("world_mat_inv_%d", view) }

// CameraMatKey returns the key of the intrinsic matrix of a view.
func CameraMatKey(view int) string { return fmt.Sprintf("camera_mat_%d", view) }

// ScaleMatKey returns the key of the optional scene-normalization matrix of a view.
func ScaleMatKey(view int) string { return fmt.Sprintf("scale_mat_%d", view) }
