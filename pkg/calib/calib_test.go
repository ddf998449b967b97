// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package calib

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/core/tensors/numpy"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func denseToTensor(m mat.Matrix) *tensors.Tensor {
	rows, cols := m.Dims()
	values := make([][]float64, rows)
	for r := range rows {
		values[r] = make([]float64, cols)
		for c := range cols {
			values[r][c] = m.At(r, c)
		}
	}
	return tensors.FromValue(values)
}

// rotation returns Rz(a)·Ry(b)·Rx(c).
func rotation(a, b, c float64) *mat.Dense {
	rz := mat.NewDense(3, 3, []float64{math.Cos(a), -math.Sin(a), 0, math.Sin(a), math.Cos(a), 0, 0, 0, 1})
	ry := mat.NewDense(3, 3, []float64{math.Cos(b), 0, math.Sin(b), 0, 1, 0, -math.Sin(b), 0, math.Cos(b)})
	rx := mat.NewDense(3, 3, []float64{1, 0, 0, 0, math.Cos(c), -math.Sin(c), 0, math.Sin(c), math.Cos(c)})
	var tmp, r mat.Dense
	tmp.Mul(rz, ry)
	r.Mul(&tmp, rx)
	return &r
}

// projection returns s·K·[R | t].
func projection(k, r *mat.Dense, t [3]float64, s float64) *mat.Dense {
	rt := mat.NewDense(3, 4, nil)
	rt.Slice(0, 3, 0, 3).(*mat.Dense).Copy(r)
	for ii := range 3 {
		rt.Set(ii, 3, t[ii])
	}
	p := mat.NewDense(3, 4, nil)
	p.Mul(k, rt)
	p.Scale(s, p)
	return p
}

// rawPose returns [Rᵀ | -Rᵀt] as a 4x4 matrix.
func rawPose(r *mat.Dense, t [3]float64) *mat.Dense {
	pose := identity4()
	pose.Slice(0, 3, 0, 3).(*mat.Dense).Copy(r.T())
	var c mat.VecDense
	c.MulVec(r.T(), mat.NewVecDense(3, t[:]))
	for ii := range 3 {
		pose.Set(ii, 3, -c.AtVec(ii))
	}
	return pose
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("ShapeNet")
	require.NoError(t, err)
	assert.Equal(t, ShapeNet, f)
	f, err = ParseFormat("dtu")
	require.NoError(t, err)
	assert.Equal(t, DTULike, f)
	f, err = ParseFormat("dtu_like")
	require.NoError(t, err)
	assert.Equal(t, DTULike, f)
	_, err = ParseFormat("colmap")
	require.Error(t, err)
}

func TestDecomposeProjection(t *testing.T) {
	k := mat.NewDense(3, 3, []float64{500, 2, 320, 0, 480, 240, 0, 0, 1})
	r := rotation(0.3, -0.7, 1.1)
	tr := [3]float64{0.1, -0.2, 3}
	kOut, rOut, center, err := DecomposeProjection(projection(k, r, tr, 2))
	require.NoError(t, err)

	kOut.Scale(1/kOut.At(2, 2), kOut)
	assert.True(t, mat.EqualApprox(k, kOut, 1e-6), "K=%v", mat.Formatted(kOut))
	assert.True(t, mat.EqualApprox(r, rOut, 1e-9), "R=%v", mat.Formatted(rOut))
	want := rawPose(r, tr)
	for ii := range 3 {
		assert.InDelta(t, want.At(ii, 3), center[ii], 1e-9)
	}

	// Singular left block.
	_, _, _, err = DecomposeProjection(mat.NewDense(3, 4, nil))
	require.ErrorIs(t, err, ErrDegenerateCamera)

	_, _, _, err = DecomposeProjection(mat.NewDense(3, 3, nil))
	require.Error(t, err)
}

func TestDTULikeResolver(t *testing.T) {
	k := mat.NewDense(3, 3, []float64{500, 0, 320, 0, 480, 240, 0, 0, 1})
	r := rotation(-0.2, 0.4, 2.5)
	tr := [3]float64{1, 2, -4}
	archive := NewArchive(map[string]*tensors.Tensor{
		WorldMatKey(3): denseToTensor(projection(k, r, tr, 3.5)),
	})
	resolver, err := NewResolver(DTULike, Options{})
	require.NoError(t, err)
	assert.Equal(t, DTULike, resolver.Format())

	view, err := resolver.Resolve(archive, 3, ImageSize{Width: 640, Height: 480})
	require.NoError(t, err)
	assert.Equal(t, 3, view.Index)
	want := correctAxes(flipYZ, rawPose(r, tr), flipYZ)
	assert.True(t, mat.EqualApprox(want, view.Pose, 1e-4), "pose=%v", mat.Formatted(view.Pose))
	assert.InDeltaSlice(t, []float64{500, 480}, view.Focal[:], 1e-4)
	require.True(t, view.HasPrincipal)
	assert.InDeltaSlice(t, []float64{320, 240}, view.Principal[:], 1e-4)

	// Missing view.
	_, err = resolver.Resolve(archive, 0, ImageSize{Width: 640, Height: 480})
	require.ErrorIs(t, err, ErrMissingCalibration)
}

func TestDTULikeScaleMatAndScaleFocal(t *testing.T) {
	k := mat.NewDense(3, 3, []float64{0.9, 0, 0.1, 0, 0.8, -0.05, 0, 0, 1})
	r := rotation(0.1, 0.2, 0.3)
	tr := [3]float64{0.5, 0.5, 2}
	scaleMat := mat.NewDense(4, 4, []float64{
		2, 0, 0, 1,
		0, 4, 0, -1,
		0, 0, 8, 0.5,
		0, 0, 0, 1,
	})
	archive := NewArchive(map[string]*tensors.Tensor{
		WorldMatKey(0): denseToTensor(projection(k, r, tr, 1)),
		ScaleMatKey(0): denseToTensor(scaleMat),
	})
	resolver, err := NewResolver(DTULike, Options{ScaleFocal: true})
	require.NoError(t, err)
	view, err := resolver.Resolve(archive, 0, ImageSize{Width: 64, Height: 32})
	require.NoError(t, err)

	raw := rawPose(r, tr)
	for ii := range 3 {
		raw.Set(ii, 3, (raw.At(ii, 3)-scaleMat.At(ii, 3))/scaleMat.At(ii, ii))
	}
	want := correctAxes(flipYZ, raw, flipYZ)
	assert.True(t, mat.EqualApprox(want, view.Pose, 1e-6), "pose=%v", mat.Formatted(view.Pose))
	assert.InDeltaSlice(t, []float64{0.9 * 32, 0.8 * 16}, view.Focal[:], 1e-6)
	assert.InDeltaSlice(t, []float64{1.1 * 32, 0.95 * 16}, view.Principal[:], 1e-6)
}

func TestShapeNetResolver(t *testing.T) {
	worldMat := mat.NewDense(3, 4, nil)
	worldMat.Slice(0, 3, 0, 3).(*mat.Dense).Copy(rotation(0.5, 0.1, -0.3))
	worldMat.Set(0, 3, 0.2)
	worldMat.Set(1, 3, -0.1)
	worldMat.Set(2, 3, 2.2)
	cameraMat := mat.NewDense(3, 3, []float64{0.7, 0, 0, 0, 0.7, 0, 0, 0, 1})
	explicitInv := identity4()
	explicitInv.Set(0, 3, 9)

	archive := NewArchive(map[string]*tensors.Tensor{
		WorldMatKey(0):    denseToTensor(worldMat),
		CameraMatKey(0):   denseToTensor(cameraMat),
		WorldMatKey(1):    denseToTensor(worldMat),
		WorldMatInvKey(1): denseToTensor(explicitInv),
		CameraMatKey(1):   denseToTensor(cameraMat),
	})
	resolver, err := NewResolver(ShapeNet, Options{ScaleFocal: true})
	require.NoError(t, err)
	size := ImageSize{Width: 64, Height: 64}

	// Inverse computed from world_mat.
	view, err := resolver.Resolve(archive, 0, size)
	require.NoError(t, err)
	padded, err := padTo4x4(worldMat)
	require.NoError(t, err)
	var inv mat.Dense
	require.NoError(t, inv.Inverse(padded))
	want := correctAxes(swapYZ, &inv, flipYZ)
	assert.True(t, mat.EqualApprox(want, view.Pose, 1e-9), "pose=%v", mat.Formatted(view.Pose))
	assert.InDeltaSlice(t, []float64{0.7 * 32, 0.7 * 32}, view.Focal[:], 1e-9)
	assert.False(t, view.HasPrincipal)

	// world_mat_inv takes precedence.
	view, err = resolver.Resolve(archive, 1, size)
	require.NoError(t, err)
	want = correctAxes(swapYZ, explicitInv, flipYZ)
	assert.True(t, mat.EqualApprox(want, view.Pose, 1e-9), "pose=%v", mat.Formatted(view.Pose))
}

func TestShapeNetFocalMismatch(t *testing.T) {
	archive := NewArchive(map[string]*tensors.Tensor{
		WorldMatKey(0):  denseToTensor(identity4()),
		CameraMatKey(0): denseToTensor(mat.NewDense(3, 3, []float64{0.7, 0, 0, 0, 0.71, 0, 0, 0, 1})),
		WorldMatKey(1):  denseToTensor(identity4()),
		CameraMatKey(1): denseToTensor(mat.NewDense(3, 3, []float64{0.7, 0, 0, 0, 0.7, 0, 0, 0, 1})),
		WorldMatKey(2):  denseToTensor(identity4()),
		CameraMatKey(2): denseToTensor(mat.NewDense(3, 3, []float64{0.8, 0, 0, 0, 0.8, 0, 0, 0, 1})),
	})
	resolver, err := NewResolver(ShapeNet, Options{})
	require.NoError(t, err)
	size := ImageSize{Width: 8, Height: 8}

	_, err = resolver.Resolve(archive, 0, size)
	require.ErrorIs(t, err, ErrFocalMismatch)

	// Views 1 and 2 are fine individually, but disagree with each other.
	_, in, err := ResolveScene(resolver, archive, []int{1}, size)
	require.NoError(t, err)
	assert.Equal(t, [2]float64{0.7, 0.7}, in.Focal)
	_, _, err = ResolveScene(resolver, archive, []int{1, 2}, size)
	require.ErrorIs(t, err, ErrFocalMismatch)
	var viewErr *ViewError
	require.True(t, errors.As(err, &viewErr))
	assert.Equal(t, 2, viewErr.View)

	// Missing camera_mat.
	_, err = resolver.Resolve(archive, 5, size)
	require.True(t, errors.Is(err, ErrMissingCalibration))
}

func TestAverageFold(t *testing.T) {
	resolver, err := NewResolver(DTULike, Options{})
	require.NoError(t, err)
	fold := resolver.NewFold()
	_, err = fold.Intrinsics()
	require.Error(t, err)
	require.NoError(t, fold.Add(&View{Focal: [2]float64{10, 20}, Principal: [2]float64{1, 2}, HasPrincipal: true}))
	require.NoError(t, fold.Add(&View{Focal: [2]float64{30, 40}, Principal: [2]float64{3, 4}, HasPrincipal: true}))
	in, err := fold.Intrinsics()
	require.NoError(t, err)
	assert.Equal(t, Intrinsics{Focal: [2]float64{20, 30}, Principal: [2]float64{2, 3}, HasPrincipal: true}, in)

	// Resizing by 1 doesn't change the intrinsics.
	assert.Equal(t, in, in.Rescale(1))
	assert.Equal(t, [2]float64{10, 15}, in.Rescale(0.5).Focal)
}

func TestLoadArchive(t *testing.T) {
	filePath := filepath.Join(t.TempDir(), "cameras.npz")
	worldMat := tensors.FromValue([][]float32{{1, 0, 0, 0.5}, {0, 1, 0, 0}, {0, 0, 1, 2}, {0, 0, 0, 1}})
	require.NoError(t, numpy.ToNpzFile(map[string]*tensors.Tensor{
		WorldMatKey(7): worldMat,
		"bad_rank":     tensors.FromValue([]float64{1, 2, 3}),
	}, filePath))

	archive, err := LoadArchive(filePath)
	require.NoError(t, err)
	assert.Equal(t, filePath, archive.Path())
	assert.Equal(t, 2, archive.Len())
	assert.True(t, archive.Has(WorldMatKey(7)))
	m, err := archive.Matrix(WorldMatKey(7))
	require.NoError(t, err)
	assert.InDelta(t, 0.5, m.At(0, 3), 1e-7)
	assert.InDelta(t, 2.0, m.At(2, 3), 1e-7)

	_, err = archive.Matrix("bad_rank")
	require.Error(t, err)
	_, found, err := archive.OptionalMatrix(ScaleMatKey(7))
	require.NoError(t, err)
	assert.False(t, found)

	_, err = LoadArchive(filepath.Join(t.TempDir(), "missing.npz"))
	require.Error(t, err)
}
