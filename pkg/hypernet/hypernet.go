// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package hypernet implements the weight-token hypernetwork: it converts support views of a scene
// into the weights of an implicit field network.
//
// A bank of learned weight tokens is appended to the data tokens of a scene and run through a
// transformer encoder. The output at the weight-token positions is projected into modulation vectors,
// which scale a shared base weight matrix per parameter group. The modulated weights are then
// L2-normalized per output unit.
//
// The image feature extractor, the tokenizer and the transformer encoder are collaborators given
// to New; package encoders provides default implementations.
package hypernet

import (
	"math"
	"math/rand"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/core/tensors/images"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/nn"
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

const (
	// ParamDim is the context parameter with the dimension of the tokens. Default is 64.
	ParamDim = "hypernet_dim"

	// ParamNumGroups is the context parameter with the maximum number of weight tokens per parameter group.
	// A group with out_features outputs gets min(hypernet_num_groups, out_features) tokens, and out_features
	// must be divisible by it. Default is 32.
	ParamNumGroups = "hypernet_num_groups"

	// ParamInitSeed is the context parameter with the seed used to initialize the base parameters and
	// the weight tokens. Default is 0.
	ParamInitSeed = "hypernet_init_seed"

	// Scope of the hypernetwork variables in the context.
	Scope = "hypernet"
)

// layerNormEpsilon used in the token projections.
const layerNormEpsilon = 1e-5

// normEpsilon is the minimum norm used when normalizing the generated weights.
const normEpsilon = 1e-12

// ErrInvalidGroups is returned when the number of outputs of a parameter group is not divisible by
// its number of weight tokens.
var ErrInvalidGroups = errors.New("invalid weight-token groups configuration")

// ParamShape describes one parameter group of a field network: a weight matrix with In inputs and
// Out outputs plus a bias, stored together as a matrix shaped [In+1, Out], the last row being the bias.
type ParamShape struct {
	Name    string
	In, Out int
}

// Dimensions of the stored (weight, bias) matrix: [In+1, Out].
func (s ParamShape) Dimensions() []int { return []int{s.In + 1, s.Out} }

// Params holds the configuration handed to a FieldNetwork by the hypernetwork.
type Params struct {
	// Weights maps each parameter group name to its batched (weight, bias) matrix, shaped [B, In+1, Out].
	Weights map[string]*Node

	// FeatureMaps of the support views, shaped [B, N, C, H, W] (channels first).
	FeatureMaps *Node

	// Poses of the support views, shaped [B, N, 3, 4].
	Poses *Node

	// Height and Width of the support images.
	Height, Width int

	// Focal lengths of the support views, shaped [B, N, 2].
	Focal *Node
}

// FieldNetwork is the implicit field whose weights are generated by the hypernetwork.
type FieldNetwork interface {
	// ParamShapes lists the parameter groups. The order defines the order of the weight tokens.
	ParamShapes() []ParamShape

	// SetParams configures the field with generated weights. After that the field can be evaluated.
	SetParams(params *Params)
}

// Batch of scenes given to the hypernetwork.
type Batch struct {
	// SupportImages shaped [B, N, C, H, W] (channels first), values in [0, 1].
	SupportImages *Node

	// SupportPoses shaped [B, N, 3, 4].
	SupportPoses *Node

	// SupportFocals shaped [B, N, 2].
	SupportFocals *Node
}

// FeatureExtractor maps images shaped [B*N, C, H, W] to feature maps of several scales, each shaped
// [B*N, C_i, H_i, W_i], the first being the finest.
type FeatureExtractor func(ctx *context.Context, images *Node) []*Node

// Tokenizer maps a batch to data tokens shaped [B, T, dim].
type Tokenizer func(ctx *context.Context, batch *Batch) *Node

// TransformerEncoder maps tokens shaped [B, L, dim] to tokens of the same shape.
type TransformerEncoder func(ctx *context.Context, tokens *Node) *Node

// TokenRange is the position of the weight tokens of one parameter group in the token bank.
type TokenRange struct {
	Start, Len int
}

// End of the range, exclusive.
func (r TokenRange) End() int { return r.Start + r.Len }

// Hypernet generates the weights of a FieldNetwork. Create it with New.
type Hypernet struct {
	field     FieldNetwork
	extractor FeatureExtractor
	tokenizer Tokenizer
	encoder   TransformerEncoder

	dim       int
	numGroups int
	shapes    []ParamShape

	// Arena offset table: the weight tokens of each group are a slice of one token bank.
	ranges    map[string]TokenRange
	numTokens int

	tokens    *context.Variable
	base      map[string]*context.Variable
	projGain  map[string]*context.Variable
	projShift map[string]*context.Variable
	projW     map[string]*context.Variable
	projB     map[string]*context.Variable
}

// AllocateTokens computes the token range of each parameter group, given the maximum number of
// tokens per group. It returns ErrInvalidGroups if some group can't be evenly split.
func AllocateTokens(shapes []ParamShape, numGroups int) (ranges map[string]TokenRange, numTokens int, err error) {
	if numGroups < 1 {
		return nil, 0, errors.Wrapf(ErrInvalidGroups, "number of groups must be >= 1, got %d", numGroups)
	}
	ranges = make(map[string]TokenRange, len(shapes))
	for _, shape := range shapes {
		if shape.In < 1 || shape.Out < 1 {
			return nil, 0, errors.Errorf("parameter %q has invalid shape in=%d, out=%d", shape.Name, shape.In, shape.Out)
		}
		if _, found := ranges[shape.Name]; found {
			return nil, 0, errors.Errorf("parameter %q defined more than once", shape.Name)
		}
		g := min(numGroups, shape.Out)
		if shape.Out%g != 0 {
			return nil, 0, errors.Wrapf(ErrInvalidGroups, "parameter %q has %d outputs, not divisible by %d groups",
				shape.Name, shape.Out, g)
		}
		ranges[shape.Name] = TokenRange{Start: numTokens, Len: g}
		numTokens += g
	}
	return ranges, numTokens, nil
}

// InitBaseParams returns the initial (weight, bias) matrix of a parameter group, shaped [In+1, Out].
// Weights and bias are drawn from U(-1/sqrt(In), 1/sqrt(In)), the usual fan-in scaled initialization
// of dense layers.
func InitBaseParams(rng *rand.Rand, shape ParamShape) *tensors.Tensor {
	return tensors.FromFlatDataAndDimensions(uniformFanIn(rng, shape.In, (shape.In+1)*shape.Out), shape.Dimensions()...)
}

// uniformFanIn draws n values from U(-1/sqrt(fanIn), 1/sqrt(fanIn)).
func uniformFanIn(rng *rand.Rand, fanIn, n int) []float32 {
	bound := 1 / math.Sqrt(float64(fanIn))
	values := make([]float32, n)
	for ii := range values {
		values[ii] = float32((2*rng.Float64() - 1) * bound)
	}
	return values
}

// New creates the hypernetwork for the field network, and its variables under the "hypernet" scope of ctx.
//
// It returns ErrInvalidGroups if the number of outputs of some parameter group is not divisible by its
// number of weight tokens.
func New(ctx *context.Context, field FieldNetwork, extractor FeatureExtractor, tokenizer Tokenizer,
	encoder TransformerEncoder) (*Hypernet, error) {
	h := &Hypernet{
		field:     field,
		extractor: extractor,
		tokenizer: tokenizer,
		encoder:   encoder,
		dim:       context.GetParamOr(ctx, ParamDim, 64),
		numGroups: context.GetParamOr(ctx, ParamNumGroups, 32),
		shapes:    field.ParamShapes(),
		base:      make(map[string]*context.Variable),
		projGain:  make(map[string]*context.Variable),
		projShift: make(map[string]*context.Variable),
		projW:     make(map[string]*context.Variable),
		projB:     make(map[string]*context.Variable),
	}
	if h.dim < 1 {
		return nil, errors.Errorf("%s must be >= 1, got %d", ParamDim, h.dim)
	}
	var err error
	h.ranges, h.numTokens, err = AllocateTokens(h.shapes, h.numGroups)
	if err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewSource(int64(context.GetParamOr(ctx, ParamInitSeed, 0))))
	err = exceptions.TryCatch[error](func() {
		scopeCtx := ctx.In(Scope)
		tokens := make([]float32, h.numTokens*h.dim)
		for ii := range tokens {
			tokens[ii] = float32(rng.NormFloat64())
		}
		h.tokens = scopeCtx.VariableWithValue("weight_tokens",
			tensors.FromFlatDataAndDimensions(tokens, h.numTokens, h.dim))

		for _, shape := range h.shapes {
			groupCtx := scopeCtx.In(shape.Name)
			h.base[shape.Name] = groupCtx.VariableWithValue("base", InitBaseParams(rng, shape))
			h.projGain[shape.Name] = groupCtx.VariableWithValue("proj_gain",
				tensors.FromFlatDataAndDimensions(filled(h.dim, 1), h.dim))
			h.projShift[shape.Name] = groupCtx.VariableWithValue("proj_offset",
				tensors.FromFlatDataAndDimensions(filled(h.dim, 0), h.dim))
			h.projW[shape.Name] = groupCtx.VariableWithValue("proj_weights",
				tensors.FromFlatDataAndDimensions(uniformFanIn(rng, h.dim, h.dim*shape.In), h.dim, shape.In))
			h.projB[shape.Name] = groupCtx.VariableWithValue("proj_biases",
				tensors.FromFlatDataAndDimensions(uniformFanIn(rng, h.dim, shape.In), shape.In))
		}
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to create hypernetwork variables")
	}
	klog.V(1).Infof("Hypernetwork: %d parameter groups, %d weight tokens of dim %d", len(h.shapes),
		h.numTokens, h.dim)
	return h, nil
}

func filled(n int, value float32) []float32 {
	values := make([]float32, n)
	for ii := range values {
		values[ii] = value
	}
	return values
}

// Dim returns the dimension of the tokens.
func (h *Hypernet) Dim() int { return h.dim }

// NumWeightTokens returns the size of the weight token bank.
func (h *Hypernet) NumWeightTokens() int { return h.numTokens }

// TokenRange returns the range of weight tokens of the parameter group, or false if there is no such group.
func (h *Hypernet) TokenRange(name string) (TokenRange, bool) {
	r, found := h.ranges[name]
	return r, found
}

// Field returns the field network configured by Forward.
func (h *Hypernet) Field() FieldNetwork { return h.field }

// Forward generates the field weights for the batch and configures the field network with them.
// It returns the configured field.
//
// This is a graph building function and it panics on errors.
func (h *Hypernet) Forward(ctx *context.Context, batch *Batch) FieldNetwork {
	supportImages := batch.SupportImages
	if supportImages.Rank() != 5 {
		exceptions.Panicf("hypernet: support images must be shaped [B, N, C, H, W], got %s", supportImages.Shape())
	}
	g := supportImages.Graph()
	dims := supportImages.Shape().Dimensions
	batchSize, numViews := dims[0], dims[1]
	height, width := dims[3], dims[4]

	featureMaps := h.featureMaps(ctx.In("extractor"), supportImages)

	dataTokens := h.tokenizer(ctx.In("tokenizer"), batch)
	if dataTokens.Rank() != 3 || dataTokens.Shape().Dimensions[0] != batchSize ||
		dataTokens.Shape().Dimensions[2] != h.dim {
		exceptions.Panicf("hypernet: tokenizer must return tokens shaped [%d, T, %d], got %s", batchSize, h.dim,
			dataTokens.Shape())
	}
	numDataTokens := dataTokens.Shape().Dimensions[1]
	weightTokens := BroadcastPrefix(ConvertDType(h.tokens.ValueGraph(g), dataTokens.DType()), batchSize)
	encoded := h.encoder(ctx.In("encoder"), Concatenate([]*Node{dataTokens, weightTokens}, 1))
	encoded = Slice(encoded, AxisRange(), AxisRangeToEnd(numDataTokens))

	params := &Params{
		Weights:     make(map[string]*Node, len(h.shapes)),
		FeatureMaps: Reshape(featureMaps, append([]int{batchSize, numViews}, featureMaps.Shape().Dimensions[1:]...)...),
		Poses:       batch.SupportPoses,
		Height:      height,
		Width:       width,
		Focal:       batch.SupportFocals,
	}
	for _, shape := range h.shapes {
		r := h.ranges[shape.Name]
		tokens := Slice(encoded, AxisRange(), AxisRange(r.Start, r.End()))
		modulation := h.project(g, shape.Name, tokens)
		base := BroadcastPrefix(ConvertDType(h.base[shape.Name].ValueGraph(g), modulation.DType()), batchSize)
		params.Weights[shape.Name] = GenerateWeights(base, modulation)
	}
	h.field.SetParams(params)
	return h.field
}

// featureMaps runs the extractor over all support images and concatenates its scales, upsampled to
// the finest one, on the channels axis. The result is shaped [B*N, C, H, W].
func (h *Hypernet) featureMaps(ctx *context.Context, supportImages *Node) *Node {
	dims := supportImages.Shape().Dimensions
	flat := Reshape(supportImages, append([]int{dims[0] * dims[1]}, dims[2:]...)...)
	scales := h.extractor(ctx, flat)
	if len(scales) == 0 {
		exceptions.Panicf("hypernet: feature extractor returned no feature maps")
	}
	finest := scales[0].Shape().Dimensions
	sizes := make([]int, len(finest))
	for ii := range sizes {
		sizes[ii] = NoInterpolation
	}
	for _, axis := range images.GetSpatialAxes(scales[0], images.ChannelsFirst) {
		sizes[axis] = finest[axis]
	}
	resized := make([]*Node, len(scales))
	resized[0] = scales[0]
	for ii, x := range scales[1:] {
		resized[ii+1] = Interpolate(x, sizes...).Bilinear().AlignCorner(false).HalfPixelCenters(true).Done()
	}
	return Concatenate(resized, 1)
}

// project maps the weight tokens of a group, shaped [B, g, dim], to modulation vectors shaped [B, g, In]
// with a layer normalization followed by a linear layer.
func (h *Hypernet) project(g *Graph, name string, tokens *Node) *Node {
	dtype := tokens.DType()
	value := func(v *context.Variable) *Node { return ConvertDType(v.ValueGraph(g), dtype) }
	gain := Reshape(value(h.projGain[name]), 1, 1, h.dim)
	offset := Reshape(value(h.projShift[name]), 1, 1, h.dim)
	normalized := nn.LayerNorm(tokens, []int{tokens.Rank() - 1}, layerNormEpsilon, gain, offset)
	return nn.Dense(normalized, value(h.projW[name]), value(h.projB[name]))
}

// GenerateWeights modulates a batch of base (weight, bias) matrices and normalizes the result.
//
// base is shaped [B, In+1, Out], the last row being the bias. modulation is shaped [B, g, In], with
// Out divisible by g. Modulation vector j scales the weight columns j, j+g, j+2g, ... (the
// modulation is tiled Out/g times along the output axis). Each weight column (one per output unit)
// is then L2-normalized over the In axis, and the bias row is appended unchanged.
//
// The result is shaped [B, In+1, Out].
func GenerateWeights(base, modulation *Node) *Node {
	if base.Rank() != 3 || modulation.Rank() != 3 {
		exceptions.Panicf("GenerateWeights: base must be [B, In+1, Out] and modulation [B, g, In], got %s and %s",
			base.Shape(), modulation.Shape())
	}
	baseDims, modDims := base.Shape().Dimensions, modulation.Shape().Dimensions
	batchSize, in, out := baseDims[0], baseDims[1]-1, baseDims[2]
	groups := modDims[1]
	if modDims[0] != batchSize || modDims[2] != in || groups < 1 || out%groups != 0 {
		exceptions.Panicf("GenerateWeights: modulation %s incompatible with base %s", modulation.Shape(), base.Shape())
	}
	weights := Slice(base, AxisRange(), AxisRange(0, in))
	bias := Slice(base, AxisRange(), AxisRange(in, in+1))

	scale := Transpose(modulation, 1, 2) // [B, In, g]
	if repeats := out / groups; repeats > 1 {
		tiles := make([]*Node, repeats)
		for ii := range tiles {
			tiles[ii] = scale
		}
		scale = Concatenate(tiles, 2)
	}
	weights = Mul(weights, scale)
	norm := Sqrt(ReduceAndKeep(Square(weights), ReduceSum, 1))
	weights = Div(weights, MaxScalar(norm, normEpsilon))
	return Concatenate([]*Node{weights, bias}, 1)
}
