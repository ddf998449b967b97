// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package field implements a reference implicit field network whose weights are generated by the
// hypernetwork: a batched MLP over query coordinates.
package field

import (
	"fmt"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/transinr/pkg/hypernet"
	"github.com/pkg/errors"
)

// MLP is a multi-layer perceptron whose (weight, bias) matrices are set per scene with SetParams.
//
// It implements hypernet.FieldNetwork. Parameter groups are named "wb0", "wb1", ... in layer order.
type MLP struct {
	shapes []hypernet.ParamShape
	params *hypernet.Params
}

var _ hypernet.FieldNetwork = (*MLP)(nil)

// ParamName returns the name of the parameter group of the given layer.
func ParamName(layer int) string { return fmt.Sprintf("wb%d", layer) }

// NewMLP creates an MLP mapping inputDim features to outputDim, with the given hidden layers.
func NewMLP(inputDim int, hiddenDims []int, outputDim int) (*MLP, error) {
	dims := append(append([]int{inputDim}, hiddenDims...), outputDim)
	for _, dim := range dims {
		if dim < 1 {
			return nil, errors.Errorf("field.NewMLP: dimensions must be >= 1, got %v", dims)
		}
	}
	m := &MLP{}
	for layer := range len(dims) - 1 {
		m.shapes = append(m.shapes, hypernet.ParamShape{Name: ParamName(layer), In: dims[layer], Out: dims[layer+1]})
	}
	return m, nil
}

// ParamShapes implements hypernet.FieldNetwork.
func (m *MLP) ParamShapes() []hypernet.ParamShape { return m.shapes }

// SetParams implements hypernet.FieldNetwork.
func (m *MLP) SetParams(params *hypernet.Params) { m.params = params }

// Params returns the parameters last given to SetParams, or nil.
func (m *MLP) Params() *hypernet.Params { return m.params }

// NumParams returns the number of generated values per scene.
func (m *MLP) NumParams() int {
	var total int
	for _, shape := range m.shapes {
		total += (shape.In + 1) * shape.Out
	}
	return total
}

// Call evaluates the field on coordinates shaped [B, P, inputDim], returning [B, P, outputDim].
// Hidden layers use ReLU, the output layer is linear.
//
// It panics if SetParams was not called.
func (m *MLP) Call(coords *Node) *Node {
	if m.params == nil {
		exceptions.Panicf("field.MLP.Call: SetParams must be called first")
	}
	if coords.Rank() != 3 || coords.Shape().Dimensions[2] != m.shapes[0].In {
		exceptions.Panicf("field.MLP.Call: coords must be shaped [B, P, %d], got %s", m.shapes[0].In, coords.Shape())
	}
	x := coords
	for layer, shape := range m.shapes {
		wb, found := m.params.Weights[shape.Name]
		if !found {
			exceptions.Panicf("field.MLP.Call: missing parameters %q", shape.Name)
		}
		ones := OnesLike(Slice(x, AxisRange(), AxisRange(), AxisRange(0, 1)))
		x = Einsum("bpi,bio->bpo", Concatenate([]*Node{x, ones}, -1), ConvertDType(wb, x.DType()))
		if layer < len(m.shapes)-1 {
			x = activations.Relu(x)
		}
	}
	return x
}
