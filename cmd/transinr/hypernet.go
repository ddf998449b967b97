// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	_ "github.com/gomlx/gomlx/backends/default"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/core/tensors/images"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/datasets"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/gomlx/transinr/pkg/config"
	"github.com/gomlx/transinr/pkg/encoders"
	"github.com/gomlx/transinr/pkg/field"
	"github.com/gomlx/transinr/pkg/hypernet"
	"github.com/gomlx/transinr/pkg/multiview"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"
)

var (
	flagHypernetBatch    int
	flagHypernetSettings string
)

var hypernetCmd = &cobra.Command{
	Use:   "hypernet",
	Short: "Run one forward pass of the hypernetwork over a batch of episodes",
	Long: `Run one forward pass of the hypernetwork over a batch of episodes, and print the shapes of the
generated field parameters and the size of the model.

Hyperparameters are taken from the model section of --config and can be overridden with
--set "hypernet_dim=128;encoders_patch_size=16".`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		exp, err := loadExperiment(cmd)
		if err != nil {
			return err
		}
		ctx, err := newModelContext(exp, flagHypernetSettings)
		if err != nil {
			return err
		}
		assembler, err := newAssembler(exp, func(cfg *multiview.Config) {
			cfg.ChannelsAxis = images.ChannelsFirst
			cfg.NumQuery = max(cfg.NumQuery, 1)
		})
		if err != nil {
			return err
		}
		backend, err := backends.New()
		if err != nil {
			return err
		}
		return runHypernet(backend, ctx, exp, assembler, flagHypernetBatch)
	},
}

func init() {
	hypernetCmd.Flags().IntVar(&flagHypernetBatch, "batch", 2, "Number of episodes in the batch.")
	hypernetCmd.Flags().StringVar(&flagHypernetSettings, "set", "",
		`Context hyperparameters, e.g. "hypernet_dim=128;encoders_depth=4".`)
}

// newModelContext creates the context with the default hyperparameters of the hypernetwork and the
// encoders, then applies those of the experiment and the settings string.
func newModelContext(exp *config.Experiment, settings string) (*context.Context, error) {
	ctx := context.New()
	ctx.SetParams(map[string]any{
		hypernet.ParamDim:          64,
		hypernet.ParamNumGroups:    32,
		hypernet.ParamInitSeed:     0,
		encoders.ParamNumScales:    3,
		encoders.ParamBaseChannels: 16,
		encoders.ParamPatchSize:    8,
		encoders.ParamDepth:        2,
		encoders.ParamNumHeads:     4,
		encoders.ParamFFNDim:       0,
	})
	exp.Model.ApplyParams(ctx)
	paramsSet, err := commandline.ParseContextSettings(ctx, settings)
	if err != nil {
		return nil, errors.WithMessagef(err, "invalid --set %q", settings)
	}
	klog.V(1).Infof("Parameters set with --set: %v", paramsSet)
	klog.V(1).Infof("Context settings:\n%s", commandline.SprintContextSettings(ctx))
	return ctx, nil
}

// runHypernet batches episodes of the assembler, generates the field weights for them and prints
// a summary.
func runHypernet(backend backends.Backend, ctx *context.Context, exp *config.Experiment,
	assembler *multiview.Assembler, batchSize int) error {
	if batchSize < 1 {
		return errors.Errorf("--batch must be >= 1, got %d", batchSize)
	}
	if n := assembler.Len(); n < batchSize {
		return errors.Errorf("--batch=%d is larger than the %d episodes available in the split", batchSize, n)
	}
	mlp, err := field.NewMLP(exp.Model.FieldInputDim, exp.Model.FieldHiddenDims, exp.Model.FieldOutputDim)
	if err != nil {
		return err
	}
	extractor, tokenizer, encoder := encoders.Defaults(ctx)
	h, err := hypernet.New(ctx, mlp, extractor, tokenizer, encoder)
	if err != nil {
		return err
	}
	ds, err := multiview.NewDataset("hypernet", assembler)
	if err != nil {
		return err
	}
	batched := datasets.Batch(backend, ds, batchSize, true, true)

	var outputs []*tensors.Tensor
	err = exceptions.TryCatch[error](func() {
		_, inputs, _ := must.M3(batched.Yield())
		exec := context.MustNewExec(backend, ctx, func(ctx *context.Context, supportImages, poses, focals *Node) []*Node {
			f := h.Forward(ctx, &hypernet.Batch{SupportImages: supportImages, SupportPoses: poses, SupportFocals: focals})
			params := f.(*field.MLP).Params()
			results := make([]*Node, 0, len(mlp.ParamShapes())+1)
			for _, shape := range mlp.ParamShapes() {
				results = append(results, params.Weights[shape.Name])
			}
			return append(results, params.FeatureMaps)
		})
		outputs = exec.MustExec(inputs[0], inputs[1], inputs[2])
		finalizeAll(inputs)
	})
	if err != nil {
		return errors.WithMessagef(err, "hypernetwork forward pass failed")
	}
	defer finalizeAll(outputs)

	fmt.Println(titleStyle.Render(fmt.Sprintf("Generated field parameters (batch of %d)", batchSize)))
	t := newTable([]string{"Parameter", "Shape", "Weight tokens"}, lipgloss.Left)
	for ii, shape := range mlp.ParamShapes() {
		r, _ := h.TokenRange(shape.Name)
		t.Add(false, shape.Name, outputs[ii].Shape().String(), fmt.Sprintf("[%d, %d)", r.Start, r.End()))
	}
	t.Add(false, "feature maps", outputs[len(outputs)-1].Shape().String(), "")
	fmt.Println(t.Render())

	summary := newTable([]string{"Model", "Value"}, lipgloss.Left, lipgloss.Right)
	summary.Add(false, "weight tokens", strconv.Itoa(h.NumWeightTokens()))
	summary.Add(false, "generated values per scene", humanize.Comma(int64(mlp.NumParams())))
	summary.Add(false, "variables", humanize.Comma(int64(ctx.NumVariables())))
	summary.Add(false, "parameters", humanize.Comma(int64(ctx.NumParameters())))
	summary.Add(false, "memory", humanize.Bytes(uint64(ctx.Memory())))
	fmt.Println(summary.Render())
	return nil
}

func finalizeAll(values []*tensors.Tensor) {
	for _, t := range values {
		if t != nil {
			_ = t.FinalizeAll()
		}
	}
}
