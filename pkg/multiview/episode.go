// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package multiview

import (
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/transinr/pkg/catalog"
)

// Record keys returned by Episode.Record.
const (
	KeySupportImages = "support_imgs"
	KeySupportPoses  = "support_poses"
	KeySupportFocals = "support_focals"
	KeyQueryImages   = "query_imgs"
	KeyQueryPoses    = "query_poses"
	KeyQueryFocals   = "query_focals"
	KeyNear          = "near"
	KeyFar           = "far"
	KeyCategory      = "cat"
)

// Episode is one training tuple: support and query views drawn from one scene.
//
// With N views in a set and ChannelsFirst, the tensors have shapes:
//
//   - Images: [N, 3, H, W], values in [0, 1].
//   - Poses: [N, 3, 4], camera-to-world rotation and translation.
//   - Focals: [N, 2], the scene (fx, fy) repeated for each view.
//   - Masks: [N, 1, H, W], only if the scene has masks.
//   - BBoxes: [N, 4] as [cmin, rmin, cmax, rmax], only if the scene has masks.
//
// The query tensors are nil if NumQuery is 0.
type Episode struct {
	Scene catalog.Scene

	// SupportViews and QueryViews are the view indices used, in the order of the tensors.
	SupportViews, QueryViews []int

	SupportImages, SupportPoses, SupportFocals *tensors.Tensor
	QueryImages, QueryPoses, QueryFocals       *tensors.Tensor
	SupportMasks, SupportBBoxes                *tensors.Tensor
	QueryMasks, QueryBBoxes                    *tensors.Tensor

	// Focal is the scene focal length (fx, fy), after resizing.
	Focal [2]float64

	// Principal point (cx, cy) of the scene, after resizing. Only for calibration formats that provide it.
	Principal    [2]float64
	HasPrincipal bool

	// Near and Far depth bounds.
	Near, Far float64

	// Category id of the scene, if HasCategory.
	Category    int
	HasCategory bool

	// Jitter holds the color factors applied to all images, or nil if there was no color augmentation.
	Jitter *JitterFactors
}

// Record returns the episode as a map with the keys "support_imgs", "support_poses",
// "support_focals", "query_imgs", "query_poses", "query_focals", "near", "far" and, if
// HasCategory, "cat".
func (e *Episode) Record() map[string]any {
	r := map[string]any{
		KeySupportImages: e.SupportImages,
		KeySupportPoses:  e.SupportPoses,
		KeySupportFocals: e.SupportFocals,
		KeyQueryImages:   e.QueryImages,
		KeyQueryPoses:    e.QueryPoses,
		KeyQueryFocals:   e.QueryFocals,
		KeyNear:          e.Near,
		KeyFar:           e.Far,
	}
	if e.HasCategory {
		r[KeyCategory] = e.Category
	}
	return r
}

// Inputs returns the tensors that condition the field and locate the query views:
// support images, support poses, support focals, query poses and query focals.
func (e *Episode) Inputs() []*tensors.Tensor {
	return []*tensors.Tensor{e.SupportImages, e.SupportPoses, e.SupportFocals, e.QueryPoses, e.QueryFocals}
}

// Labels returns the query images, the supervision targets of the episode.
func (e *Episode) Labels() []*tensors.Tensor {
	return []*tensors.Tensor{e.QueryImages}
}

// NumViews returns the total number of views in the episode.
func (e *Episode) NumViews() int { return len(e.SupportViews) + len(e.QueryViews) }

// FinalizeAll immediately frees the episode tensors.
func (e *Episode) FinalizeAll() {
	for _, t := range []*tensors.Tensor{
		e.SupportImages, e.SupportPoses, e.SupportFocals, e.SupportMasks, e.SupportBBoxes,
		e.QueryImages, e.QueryPoses, e.QueryFocals, e.QueryMasks, e.QueryBBoxes,
	} {
		if t != nil {
			_ = t.FinalizeAll()
		}
	}
}
