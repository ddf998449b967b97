// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package calib

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// exchange is the 3x3 row-reversal permutation used by the RQ decomposition.
var exchange = mat.NewDense(3, 3, []float64{
	0, 0, 1,
	0, 1, 0,
	1, 0, 0,
})

// DecomposeProjection splits a 3x4 camera projection matrix P = K·[R | t] into the upper-triangular
// intrinsic matrix K (with positive diagonal, not normalized), the rotation R and the camera center
// in world coordinates.
//
// P may also be given as 4x4, in which case only the first 3 rows are used.
func DecomposeProjection(p *mat.Dense) (k, r *mat.Dense, center [3]float64, err error) {
	rows, cols := p.Dims()
	if rows < 3 || cols != 4 {
		err = errors.Errorf("projection matrix must be 3x4 (or 4x4), got %dx%d", rows, cols)
		return
	}
	m := mat.DenseCopyOf(p.Slice(0, 3, 0, 3))
	k, r = rq3(m)

	// Camera center is the right null-space of P: C = -M⁻¹·p₄.
	var mInv mat.Dense
	if invErr := mInv.Inverse(m); invErr != nil {
		err = errors.Wrapf(ErrDegenerateCamera, "projection matrix left 3x3 block not invertible: %v", invErr)
		return
	}
	p4 := mat.NewVecDense(3, []float64{p.At(0, 3), p.At(1, 3), p.At(2, 3)})
	var c mat.VecDense
	c.MulVec(&mInv, p4)
	for ii := range 3 {
		center[ii] = -c.AtVec(ii)
	}
	return
}

// rq3 factorizes the 3x3 matrix m = r·q, with r upper-triangular with non-negative diagonal and q
// orthonormal. It uses the QR factorization of the row-reversed transpose.
func rq3(m *mat.Dense) (r, q *mat.Dense) {
	var flipped mat.Dense
	flipped.Mul(exchange, m)
	var flippedT mat.Dense
	flippedT.CloneFrom(flipped.T())

	var qr mat.QR
	qr.Factorize(&flippedT)
	var q0, r0 mat.Dense
	qr.QTo(&q0)
	qr.RTo(&r0)

	// J·m = r0ᵀ·q0ᵀ  =>  m = (J·r0ᵀ·J)·(J·q0ᵀ)
	r = mat.NewDense(3, 3, nil)
	var tmp mat.Dense
	tmp.Mul(exchange, r0.T())
	r.Mul(&tmp, exchange)
	q = mat.NewDense(3, 3, nil)
	q.Mul(exchange, q0.T())

	// Make the diagonal of r positive, compensating on the rows of q.
	for ii := range 3 {
		if r.At(ii, ii) >= 0 {
			continue
		}
		for row := range 3 {
			r.Set(row, ii, -r.At(row, ii))
		}
		for col := range 3 {
			q.Set(ii, col, -q.At(ii, col))
		}
	}
	return
}

// identity4 returns a new 4x4 identity matrix.
func identity4() *mat.Dense {
	m := mat.NewDense(4, 4, nil)
	for ii := range 4 {
		m.Set(ii, ii, 1)
	}
	return m
}

// padTo4x4 returns a 4x4 copy of a 3x4 (or 4x4) matrix, with [0, 0, 0, 1] as the last row.
func padTo4x4(m *mat.Dense) (*mat.Dense, error) {
	rows, cols := m.Dims()
	if cols != 4 || (rows != 3 && rows != 4) {
		return nil, errors.Errorf("extrinsic matrix must be 3x4 or 4x4, got %dx%d", rows, cols)
	}
	if rows == 4 {
		return mat.DenseCopyOf(m), nil
	}
	padded := identity4()
	padded.Slice(0, 3, 0, 4).(*mat.Dense).Copy(m)
	return padded, nil
}

// correctAxes returns world·pose·camera.
func correctAxes(world, pose, camera *mat.Dense) *mat.Dense {
	var tmp mat.Dense
	tmp.Mul(world, pose)
	out := mat.NewDense(4, 4, nil)
	out.Mul(&tmp, camera)
	return out
}
