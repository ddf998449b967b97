// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package encoders

import (
	"fmt"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors/images"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
	"github.com/gomlx/exceptions"
)

// FeatureExtractor implements hypernet.FeatureExtractor with a stack of strided 3x3 convolutions.
//
// images must be shaped [batch, channels, height, width]. Scale i has ParamBaseChannels·2^i channels and
// its spatial dimensions are divided by 2^(i+1) (rounded up).
func FeatureExtractor(ctx *context.Context, x *Node) []*Node {
	if x.Rank() != 4 {
		exceptions.Panicf("encoders.FeatureExtractor: images must be shaped [batch, channels, height, width], got %s",
			x.Shape())
	}
	numScales := context.GetParamOr(ctx, ParamNumScales, 3)
	channels := context.GetParamOr(ctx, ParamBaseChannels, 16)
	if numScales < 1 || channels < 1 {
		exceptions.Panicf("encoders.FeatureExtractor: %s=%d and %s=%d must be >= 1", ParamNumScales, numScales,
			ParamBaseChannels, channels)
	}
	scales := make([]*Node, 0, numScales)
	for scale := range numScales {
		x = layers.Convolution(ctx.In(fmt.Sprintf("scale_%d", scale)), x).
			ChannelsAxis(images.ChannelsFirst).
			Channels(channels).
			KernelSize(3).
			Strides(2).
			PadSame().
			Done()
		x = activations.Relu(x)
		scales = append(scales, x)
		channels *= 2
	}
	return scales
}
