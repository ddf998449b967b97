// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package encoders

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers/fnn"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/transinr/pkg/hypernet"
)

// Patchify splits images shaped [B, N, C, H, W] into non-overlapping patches of patchSize x patchSize
// pixels, returned shaped [B, N, (H/patchSize)·(W/patchSize), C·patchSize·patchSize].
// Patches are ordered row-major, and H and W must be divisible by patchSize.
func Patchify(x *Node, patchSize int) *Node {
	if x.Rank() != 5 {
		exceptions.Panicf("Patchify: images must be shaped [B, N, C, H, W], got %s", x.Shape())
	}
	dims := x.Shape().Dimensions
	batchSize, numViews, channels, height, width := dims[0], dims[1], dims[2], dims[3], dims[4]
	if patchSize < 1 || height%patchSize != 0 || width%patchSize != 0 {
		exceptions.Panicf("Patchify: image size %dx%d not divisible by patch size %d", height, width, patchSize)
	}
	rows, cols := height/patchSize, width/patchSize
	x = Reshape(x, batchSize, numViews, channels, rows, patchSize, cols, patchSize)
	x = TransposeAllAxes(x, 0, 1, 3, 5, 2, 4, 6)
	return Reshape(x, batchSize, numViews, rows*cols, channels*patchSize*patchSize)
}

// NewTokenizer returns a hypernet.Tokenizer that creates one token per image patch of each support view.
//
// Each patch is concatenated with the flattened pose and the focal lengths of its view, then linearly
// projected to dim. A learned positional embedding (per patch position, shared across views) is added.
// The result is shaped [B, N·numPatches, dim].
func NewTokenizer(dim int) hypernet.Tokenizer {
	return func(ctx *context.Context, batch *hypernet.Batch) *Node {
		patchSize := context.GetParamOr(ctx, ParamPatchSize, 8)
		patches := Patchify(batch.SupportImages, patchSize)
		dims := patches.Shape().Dimensions
		batchSize, numViews, numPatches := dims[0], dims[1], dims[2]
		dtype := patches.DType()

		poses := Reshape(ConvertDType(batch.SupportPoses, dtype), batchSize, numViews, 1, 12)
		focals := Reshape(ConvertDType(batch.SupportFocals, dtype), batchSize, numViews, 1, 2)
		camera := Concatenate([]*Node{poses, focals}, -1)
		camera = BroadcastToDims(camera, batchSize, numViews, numPatches, 14)
		tokens := Concatenate([]*Node{patches, camera}, -1)

		tokens = fnn.New(ctx.In("projection"), tokens, dim).NumHiddenLayers(0, 0).Done()
		positions := ctx.VariableWithShape("positional_embedding", shapes.Make(dtype, numPatches, dim)).
			ValueGraph(tokens.Graph())
		tokens = Add(tokens, Reshape(positions, 1, 1, numPatches, dim))
		return Reshape(tokens, batchSize, numViews*numPatches, dim)
	}
}
