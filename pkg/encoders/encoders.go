// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package encoders provides default collaborators for the hypernetwork: a multi-scale convolutional
// feature extractor, a patch and pose tokenizer and a pre-norm transformer encoder.
//
// They are configured with hyperparameters in the context, see the Param* constants.
package encoders

import (
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/transinr/pkg/hypernet"
)

const (
	// ParamNumScales is the number of scales (strided convolution stages) of the feature extractor.
	// Default is 3.
	ParamNumScales = "encoders_num_scales"

	// ParamBaseChannels is the number of channels of the first scale of the feature extractor; each
	// following scale doubles it. Default is 16.
	ParamBaseChannels = "encoders_base_channels"

	// ParamPatchSize is the side of the square image patches turned into tokens. Default is 8.
	ParamPatchSize = "encoders_patch_size"

	// ParamDepth is the number of transformer layers. Default is 2.
	ParamDepth = "encoders_depth"

	// ParamNumHeads is the number of attention heads of the transformer. Default is 4.
	ParamNumHeads = "encoders_num_heads"

	// ParamFFNDim is the hidden dimension of the transformer feed-forward blocks.
	// Default is 0, which means 4 times the token dimension.
	ParamFFNDim = "encoders_ffn_dim"
)

// layerNormEpsilon of the transformer normalization layers.
const layerNormEpsilon = 1e-5

// Defaults returns the three default collaborators, ready to be given to hypernet.New.
// The tokenizer and the transformer use the token dimension configured with hypernet.ParamDim.
func Defaults(ctx *context.Context) (hypernet.FeatureExtractor, hypernet.Tokenizer, hypernet.TransformerEncoder) {
	dim := context.GetParamOr(ctx, hypernet.ParamDim, 64)
	return FeatureExtractor, NewTokenizer(dim), NewTransformer(dim)
}
