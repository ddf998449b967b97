// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package encoders

import (
	"fmt"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
	"github.com/gomlx/gomlx/pkg/ml/layers/fnn"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/transinr/pkg/hypernet"
)

// NewTransformer returns a hypernet.TransformerEncoder: a stack of pre-norm transformer layers
// (self-attention and a GELU feed-forward block, each with a residual connection), followed by a final
// layer normalization.
//
// Tokens must be shaped [B, L, dim], and dim must be divisible by the number of heads.
func NewTransformer(dim int) hypernet.TransformerEncoder {
	return func(ctx *context.Context, x *Node) *Node {
		depth := context.GetParamOr(ctx, ParamDepth, 2)
		numHeads := context.GetParamOr(ctx, ParamNumHeads, 4)
		ffnDim := context.GetParamOr(ctx, ParamFFNDim, 0)
		if ffnDim <= 0 {
			ffnDim = 4 * dim
		}
		if x.Rank() != 3 || x.Shape().Dimensions[2] != dim {
			exceptions.Panicf("transformer: tokens must be shaped [B, L, %d], got %s", dim, x.Shape())
		}
		if numHeads < 1 || dim%numHeads != 0 {
			exceptions.Panicf("transformer: dim=%d not divisible by %s=%d", dim, ParamNumHeads, numHeads)
		}

		for layer := range depth {
			layerCtx := ctx.In(fmt.Sprintf("layer_%d", layer))
			y := layerNorm(layerCtx.In("attention_norm"), x)
			y = layers.MultiHeadAttention(layerCtx.In("attention"), y, y, y, numHeads, dim/numHeads).
				SetOutputDim(dim).
				Done()
			x = Add(x, y)

			y = layerNorm(layerCtx.In("ffn_norm"), x)
			y = fnn.New(layerCtx.In("ffn"), y, dim).
				NumHiddenLayers(1, ffnDim).
				Activation(activations.TypeGelu).
				Done()
			x = Add(x, y)
		}
		return layerNorm(ctx.In("final_norm"), x)
	}
}

func layerNorm(ctx *context.Context, x *Node) *Node {
	return layers.LayerNormalization(ctx, x, -1).Epsilon(layerNormEpsilon).Done()
}
