// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package calib

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
)

// averageFold averages focal lengths and principal points over all views.
type averageFold struct {
	count              int
	sumFocal, sumPrinc [2]float64
}

var _ Fold = (*averageFold)(nil)

// Add implements Fold.
func (f *averageFold) Add(v *View) error {
	f.count++
	for axis := range 2 {
		f.sumFocal[axis] += v.Focal[axis]
		f.sumPrinc[axis] += v.Principal[axis]
	}
	return nil
}

// Intrinsics implements Fold.
func (f *averageFold) Intrinsics() (Intrinsics, error) {
	if f.count == 0 {
		return Intrinsics{}, errors.New("no views to average intrinsics from")
	}
	n := float64(f.count)
	var in Intrinsics
	for axis := range 2 {
		in.Focal[axis] = f.sumFocal[axis] / n
		in.Principal[axis] = f.sumPrinc[axis] / n
	}
	in.HasPrincipal = true
	return in, nil
}

// sharedFocalFold requires every view to have the same focal length, within FocalSceneTolerance.
// The first view added defines the scene focal length.
type sharedFocalFold struct {
	set   bool
	first int
	focal float64
}

var _ Fold = (*sharedFocalFold)(nil)

// Add implements Fold.
func (f *sharedFocalFold) Add(v *View) error {
	if !f.set {
		f.set, f.first, f.focal = true, v.Index, v.Focal[0]
		return nil
	}
	if math.Abs(v.Focal[0]-f.focal) >= FocalSceneTolerance {
		return errors.Wrapf(ErrFocalMismatch, "view %d has focal %g, but view %d has focal %g",
			v.Index, v.Focal[0], f.first, f.focal)
	}
	return nil
}

// Intrinsics implements Fold.
func (f *sharedFocalFold) Intrinsics() (Intrinsics, error) {
	if !f.set {
		return Intrinsics{}, errors.New("no views to take the focal length from")
	}
	return Intrinsics{Focal: [2]float64{f.focal, f.focal}}, nil
}

// ViewError is returned by ResolveScene when one view fails to resolve or to fold.
type ViewError struct {
	View int
	Err  error
}

func (e *ViewError) Error() string { return fmt.Sprintf("view %d: %v", e.View, e.Err) }
func (e *ViewError) Unwrap() error { return e.Err }

// ResolveScene resolves the given views of a scene and folds their intrinsics.
// The returned views are in the same order as the requested indices.
// Failures of a specific view are returned as a *ViewError.
func ResolveScene(r Resolver, archive *Archive, views []int, size ImageSize) ([]*View, Intrinsics, error) {
	fold := r.NewFold()
	resolved := make([]*View, 0, len(views))
	for _, idx := range views {
		v, err := r.Resolve(archive, idx, size)
		if err != nil {
			return nil, Intrinsics{}, &ViewError{View: idx, Err: err}
		}
		if err = fold.Add(v); err != nil {
			return nil, Intrinsics{}, &ViewError{View: idx, Err: err}
		}
		resolved = append(resolved, v)
	}
	in, err := fold.Intrinsics()
	if err != nil {
		return nil, Intrinsics{}, err
	}
	return resolved, in, nil
}

// Rescale returns the intrinsics after resizing the image by the given factor.
func (in Intrinsics) Rescale(factor float64) Intrinsics {
	out := in
	for axis := range 2 {
		out.Focal[axis] *= factor
		out.Principal[axis] *= factor
	}
	return out
}
