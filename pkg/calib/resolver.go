// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package calib

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// ImageSize in pixels of the view being resolved.
type ImageSize struct {
	Width, Height int
}

// Options shared by the resolvers.
type Options struct {
	// ScaleFocal indicates the calibration expresses focal lengths (and principal points) for an image
	// spanning 2 units ([-1, 1]). If set they are converted to pixels using the half image width/height.
	ScaleFocal bool
}

// View is the resolved calibration of a single view.
type View struct {
	// Index of the view in the scene (the number in the archive keys).
	Index int

	// Pose is the 4x4 camera-to-world matrix in the canonical axis convention.
	Pose *mat.Dense

	// Focal lengths (x, y) in pixels.
	Focal [2]float64

	// Principal point (x, y) in pixels. Only set if HasPrincipal.
	Principal    [2]float64
	HasPrincipal bool
}

// Intrinsics of a whole scene, after folding the estimates of all its views.
type Intrinsics struct {
	Focal        [2]float64
	Principal    [2]float64
	HasPrincipal bool
}

// Resolver converts raw calibration records of one convention into View objects.
//
// Implementations are stateless and safe for concurrent use.
type Resolver interface {
	// Format handled by the resolver.
	Format() Format

	// Resolve the calibration of one view. size is the size of the decoded image of the view.
	Resolve(archive *Archive, view int, size ImageSize) (*View, error)

	// WorldTransform and CameraTransform are the fixed axis-correction matrices applied as
	// WorldTransform·pose·CameraTransform.
	WorldTransform() *mat.Dense
	CameraTransform() *mat.Dense

	// NewFold returns a fresh accumulator to combine the per-view intrinsics of a scene.
	NewFold() Fold
}

// Fold accumulates per-view intrinsics of one scene into scene-level Intrinsics.
type Fold interface {
	// Add the estimate of one view. It may fail if the view is inconsistent with the previous ones.
	Add(v *View) error

	// Intrinsics returns the folded intrinsics. It fails if no view was added.
	Intrinsics() (Intrinsics, error)
}

// NewResolver returns the Resolver for the given format.
func NewResolver(format Format, opts Options) (Resolver, error) {
	switch format {
	case ShapeNet:
		return &shapeNetResolver{opts: opts}, nil
	case DTULike:
		return &dtuResolver{opts: opts}, nil
	}
	return nil, errors.Errorf("no calibration resolver for format %q", format)
}

// focalScale returns the factors to convert normalized focal/principal values to pixels.
func focalScale(opts Options, size ImageSize) (xScale, yScale, delta float64) {
	if !opts.ScaleFocal {
		return 1, 1, 0
	}
	return float64(size.Width) / 2, float64(size.Height) / 2, 1
}

var (
	flipYZ = mat.NewDense(4, 4, []float64{
		1, 0, 0, 0,
		0, -1, 0, 0,
		0, 0, -1, 0,
		0, 0, 0, 1,
	})
	swapYZ = mat.NewDense(4, 4, []float64{
		1, 0, 0, 0,
		0, 0, -1, 0,
		0, 1, 0, 0,
		0, 0, 0, 1,
	})
)

// shapeNetResolver uses world_mat_inv as the pose if present (otherwise it inverts world_mat) and reads
// an isotropic focal length from camera_mat.
type shapeNetResolver struct {
	opts Options
}

func (r *shapeNetResolver) Format() Format              { return ShapeNet }
func (r *shapeNetResolver) WorldTransform() *mat.Dense  { return swapYZ }
func (r *shapeNetResolver) CameraTransform() *mat.Dense { return flipYZ }
func (r *shapeNetResolver) NewFold() Fold               { return &sharedFocalFold{} }

// Resolve implements Resolver.
func (r *shapeNetResolver) Resolve(archive *Archive, view int, size ImageSize) (*View, error) {
	pose, found, err := archive.OptionalMatrix(WorldMatInvKey(view))
	if err != nil {
		return nil, err
	}
	if found {
		pose, err = padTo4x4(pose)
		if err != nil {
			return nil, errors.WithMessagef(err, "view %d", view)
		}
	} else {
		worldMat, err := archive.Matrix(WorldMatKey(view))
		if err != nil {
			return nil, err
		}
		worldMat, err = padTo4x4(worldMat)
		if err != nil {
			return nil, errors.WithMessagef(err, "view %d", view)
		}
		pose = mat.NewDense(4, 4, nil)
		if invErr := pose.Inverse(worldMat); invErr != nil {
			return nil, errors.Wrapf(ErrDegenerateCamera, "view %d: world matrix not invertible: %v", view, invErr)
		}
	}

	intrinsic, err := archive.Matrix(CameraMatKey(view))
	if err != nil {
		return nil, err
	}
	fx, fy := intrinsic.At(0, 0), intrinsic.At(1, 1)
	if math.Abs(fx-fy) >= FocalAxisTolerance {
		return nil, errors.Wrapf(ErrFocalMismatch, "view %d: focal x=%g and y=%g differ", view, fx, fy)
	}
	xScale, _, _ := focalScale(r.opts, size)
	fx *= xScale
	return &View{
		Index: view,
		Pose:  correctAxes(swapYZ, pose, flipYZ),
		Focal: [2]float64{fx, fx},
	}, nil
}

// dtuResolver decomposes projection matrices.
type dtuResolver struct {
	opts Options
}

func (r *dtuResolver) Format() Format              { return DTULike }
func (r *dtuResolver) WorldTransform() *mat.Dense  { return flipYZ }
func (r *dtuResolver) CameraTransform() *mat.Dense { return flipYZ }
func (r *dtuResolver) NewFold() Fold               { return &averageFold{} }

// Resolve implements Resolver.
func (r *dtuResolver) Resolve(archive *Archive, view int, size ImageSize) (*View, error) {
	projection, err := archive.Matrix(WorldMatKey(view))
	if err != nil {
		return nil, err
	}
	k, rot, center, err := DecomposeProjection(projection)
	if err != nil {
		return nil, errors.WithMessagef(err, "view %d", view)
	}
	k.Scale(1/k.At(2, 2), k)

	pose := identity4()
	pose.Slice(0, 3, 0, 3).(*mat.Dense).Copy(rot.T())
	for ii := range 3 {
		pose.Set(ii, 3, center[ii])
	}

	scaleMat, found, err := archive.OptionalMatrix(ScaleMatKey(view))
	if err != nil {
		return nil, err
	}
	if found {
		// Scene normalization: translation then per-axis scale, on the camera position only.
		for ii := range 3 {
			pose.Set(ii, 3, (pose.At(ii, 3)-scaleMat.At(ii, 3))/scaleMat.At(ii, ii))
		}
	}

	xScale, yScale, delta := focalScale(r.opts, size)
	return &View{
		Index: view,
		Pose:  correctAxes(flipYZ, pose, flipYZ),
		Focal: [2]float64{k.At(0, 0) * xScale, k.At(1, 1) * yScale},
		Principal: [2]float64{
			(k.At(0, 2) + delta) * xScale,
			(k.At(1, 2) + delta) * yScale,
		},
		HasPrincipal: true,
	}, nil
}
