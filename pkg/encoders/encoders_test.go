// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package encoders

import (
	"math"
	"testing"

	_ "github.com/gomlx/gomlx/backends/default"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/transinr/pkg/field"
	"github.com/gomlx/transinr/pkg/hypernet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPatchify(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	exec := MustNewExec(backend, func(x *Node) *Node { return Patchify(x, 2) })
	// One scene, one view, one channel, 2x4 image with values 0..7.
	got := exec.MustExec1([][][][][]float32{{{{{0, 1, 2, 3}, {4, 5, 6, 7}}}}})
	assert.Equal(t, [][][][]float32{{{{0, 1, 4, 5}, {2, 3, 6, 7}}}}, got.Value())

	assert.Panics(t, func() {
		exec := MustNewExec(backend, func(x *Node) *Node { return Patchify(x, 3) })
		exec.MustExec([][][][][]float32{{{{{0, 1, 2, 3}, {4, 5, 6, 7}}}}})
	})
}

func TestFeatureExtractor(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx := context.New()
	ctx.SetParams(map[string]any{ParamNumScales: 3, ParamBaseChannels: 4})
	exec := context.MustNewExec(backend, ctx, func(ctx *context.Context, x *Node) []*Node {
		return FeatureExtractor(ctx, x)
	})
	outputs := exec.MustExec(tensors.FromShape(shapes.Make(dtypes.Float32, 2, 3, 16, 12)))
	require.Len(t, outputs, 3)
	assert.Equal(t, []int{2, 4, 8, 6}, outputs[0].Shape().Dimensions)
	assert.Equal(t, []int{2, 8, 4, 3}, outputs[1].Shape().Dimensions)
	assert.Equal(t, []int{2, 16, 2, 2}, outputs[2].Shape().Dimensions)
	for _, v := range tensors.MustCopyFlatData[float32](outputs[2]) {
		assert.GreaterOrEqual(t, v, float32(0))
	}
}

func TestTransformer(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx := context.New()
	ctx.SetParams(map[string]any{ParamDepth: 2, ParamNumHeads: 2})
	encoder := NewTransformer(8)
	exec := context.MustNewExec(backend, ctx, func(ctx *context.Context, x *Node) *Node {
		return encoder(ctx, x)
	})
	input := make([]float32, 2*5*8)
	for ii := range input {
		input[ii] = float32(math.Sin(float64(ii)))
	}
	got := exec.MustExec1(tensors.FromFlatDataAndDimensions(input, 2, 5, 8))
	assert.Equal(t, []int{2, 5, 8}, got.Shape().Dimensions)

	assert.Panics(t, func() {
		badCtx := context.New()
		badCtx.SetParam(ParamNumHeads, 3)
		bad := context.MustNewExec(backend, badCtx, func(ctx *context.Context, x *Node) *Node {
			return encoder(ctx, x)
		})
		bad.MustExec(tensors.FromFlatDataAndDimensions(input, 2, 5, 8))
	})
}

// TestHypernetEndToEnd runs the hypernetwork with the default collaborators, then evaluates the
// generated field.
func TestHypernetEndToEnd(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx := context.New()
	ctx.SetParams(map[string]any{
		hypernet.ParamDim:       16,
		hypernet.ParamNumGroups: 4,
		ParamNumScales:          2,
		ParamBaseChannels:       4,
		ParamPatchSize:          4,
		ParamDepth:              1,
		ParamNumHeads:           2,
	})
	mlp, err := field.NewMLP(3, []int{8}, 4)
	require.NoError(t, err)
	extractor, tokenizer, encoder := Defaults(ctx)
	h, err := hypernet.New(ctx, mlp, extractor, tokenizer, encoder)
	require.NoError(t, err)
	assert.Equal(t, 8, h.NumWeightTokens())

	const batchSize, numViews, height, width = 2, 2, 8, 8
	supportImages := make([]float32, batchSize*numViews*3*height*width)
	for ii := range supportImages {
		supportImages[ii] = float32(ii%13) / 13
	}
	poses := make([]float32, batchSize*numViews*12)
	for ii := range poses {
		poses[ii] = float32(ii%4) / 4
	}
	focals := make([]float32, batchSize*numViews*2)
	for ii := range focals {
		focals[ii] = 30
	}
	coords := make([]float32, batchSize*5*3)
	for ii := range coords {
		coords[ii] = float32(ii) / 10
	}

	exec := context.MustNewExec(backend, ctx, func(ctx *context.Context, images, poses, focals, coords *Node) []*Node {
		f := h.Forward(ctx, &hypernet.Batch{SupportImages: images, SupportPoses: poses, SupportFocals: focals})
		mlp := f.(*field.MLP)
		return []*Node{mlp.Call(coords), mlp.Params().FeatureMaps}
	})
	outputs := exec.MustExec(
		tensors.FromFlatDataAndDimensions(supportImages, batchSize, numViews, 3, height, width),
		tensors.FromFlatDataAndDimensions(poses, batchSize, numViews, 3, 4),
		tensors.FromFlatDataAndDimensions(focals, batchSize, numViews, 2),
		tensors.FromFlatDataAndDimensions(coords, batchSize, 5, 3))
	require.Len(t, outputs, 2)
	assert.Equal(t, []int{batchSize, 5, 4}, outputs[0].Shape().Dimensions)
	// Two scales with 4 and 8 channels, at the resolution of the finest one.
	assert.Equal(t, []int{batchSize, numViews, 12, 4, 4}, outputs[1].Shape().Dimensions)
	for _, v := range tensors.MustCopyFlatData[float32](outputs[0]) {
		assert.False(t, math.IsNaN(float64(v)))
	}
}
