// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package multiview assembles calibrated multi-view episodes (support and query views of one scene)
// from a dataset of scenes on disk.
//
// Each scene directory holds:
//
//   - image/*.{jpg,png}: the views, sorted by name; the position in the sorted list is the view index.
//   - mask/*.png: optional foreground masks, one per view.
//   - cameras.npz: the calibration archive, see package calib.
//
// There is no caching: every episode decodes its images and parses the calibration archive again.
package multiview

import (
	"image"
	"math/rand"
	"path/filepath"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/core/tensors/images"
	"github.com/gomlx/transinr/internal/imageio"
	"github.com/gomlx/transinr/pkg/calib"
	"github.com/gomlx/transinr/pkg/catalog"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// CamerasFile is the name of the calibration archive in each scene directory.
const CamerasFile = "cameras.npz"

// Assembler builds Episode objects from the scenes of a catalog.
//
// It holds no mutable state and can be used concurrently, as long as each goroutine uses its own
// random number generator.
type Assembler struct {
	cfg      Config
	catalog  *catalog.Catalog
	resolver calib.Resolver
}

// NewAssembler creates the catalog of the dataset under root and an Assembler for it.
func NewAssembler(root string, cfg Config) (*Assembler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cat, err := catalog.New(root, cfg.Split, cfg.ListPrefix, cfg.Repeat)
	if err != nil {
		return nil, err
	}
	klog.Infof("Loading multi-view catalog %s split %s: %d scenes, format %s", root, cfg.Split,
		cat.NumScenes(), cfg.Format)
	return NewAssemblerFromCatalog(cat, cfg)
}

// NewAssemblerFromCatalog creates an Assembler for an existing catalog.
// The catalog split, list prefix and repeat take precedence over the ones in cfg.
func NewAssemblerFromCatalog(cat *catalog.Catalog, cfg Config) (*Assembler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	resolver, err := calib.NewResolver(cfg.Format, calib.Options{ScaleFocal: cfg.ScaleFocal})
	if err != nil {
		return nil, err
	}
	return &Assembler{cfg: cfg, catalog: cat, resolver: resolver}, nil
}

// Config returns a copy of the configuration.
func (a *Assembler) Config() Config { return a.cfg }

// Catalog of scenes.
func (a *Assembler) Catalog() *catalog.Catalog { return a.catalog }

// Len returns the number of episodes in an epoch, the length of the catalog.
func (a *Assembler) Len() int { return a.catalog.Len() }

// Get assembles the episode for the given catalog index.
func (a *Assembler) Get(index int, rng *rand.Rand) (*Episode, error) {
	scene, err := a.catalog.Scene(index)
	if err != nil {
		return nil, err
	}
	return a.Assemble(scene, rng)
}

// Assemble draws NumSupport+NumQuery views of the scene (see Config) and builds the episode.
func (a *Assembler) Assemble(scene catalog.Scene, rng *rand.Rand) (*Episode, error) {
	files, err := imageio.ListSceneFiles(scene.Root)
	if err != nil {
		return nil, sceneError(scene, NoView, err)
	}
	views, err := selectViews(rng, len(files.Images), &a.cfg)
	if err != nil {
		return nil, sceneError(scene, NoView, err)
	}
	return a.build(scene, files, views, a.cfg.NumSupport, rng, a.cfg.ColorJitter)
}

// Select builds the episode with exactly the given support and query views of the scene.
//
// Unlike Assemble, it is deterministic: the views are not capped by MaxImages, ViewRange is
// ignored and no color augmentation is applied.
func (a *Assembler) Select(scene catalog.Scene, supportViews, queryViews []int) (*Episode, error) {
	if len(supportViews) == 0 {
		return nil, sceneError(scene, NoView, errors.New("at least one support view is required"))
	}
	files, err := imageio.ListSceneFiles(scene.Root)
	if err != nil {
		return nil, sceneError(scene, NoView, err)
	}
	views := make([]int, 0, len(supportViews)+len(queryViews))
	views = append(append(views, supportViews...), queryViews...)
	return a.build(scene, files, views, len(supportViews), nil, false)
}

// loadedView holds the decoded data of one view.
type loadedView struct {
	img   *image.NRGBA
	mask  *image.Gray
	bbox  [4]float64
	calib *calib.View
}

// build loads the given views and assembles the episode. The first numSupport views go to the support set.
func (a *Assembler) build(scene catalog.Scene, files imageio.SceneFiles, views []int, numSupport int,
	rng *rand.Rand, jitter bool) (*Episode, error) {
	hasMasks := len(files.Masks) > 0
	if hasMasks && len(files.Masks) != len(files.Images) {
		return nil, sceneError(scene, NoView, errors.Wrapf(ErrPartialMasks, "%d masks for %d images",
			len(files.Masks), len(files.Images)))
	}
	archive, err := calib.LoadArchive(filepath.Join(scene.Root, CamerasFile))
	if err != nil {
		return nil, sceneError(scene, NoView, err)
	}

	loaded := make([]loadedView, len(views))
	var size image.Point
	for ii, idx := range views {
		if idx < 0 || idx >= len(files.Images) {
			return nil, sceneError(scene, idx, errors.Wrapf(ErrInsufficientViews,
				"view %d requested, but the scene has %d views", idx, len(files.Images)))
		}
		lv := &loaded[ii]
		lv.img, err = imageio.LoadRGB(files.Images[idx])
		if err != nil {
			return nil, sceneError(scene, idx, err)
		}
		imgSize := lv.img.Bounds().Size()
		if ii == 0 {
			size = imgSize
		} else if imgSize != size {
			return nil, sceneError(scene, idx, errors.Wrapf(ErrImageSizeMismatch,
				"image %q is %v, previous views are %v", files.Images[idx], imgSize, size))
		}
		if hasMasks {
			lv.mask, err = imageio.LoadMask(files.Masks[idx])
			if err != nil {
				return nil, sceneError(scene, idx, err)
			}
			if maskSize := lv.mask.Bounds().Size(); maskSize != size {
				return nil, sceneError(scene, idx, errors.Wrapf(ErrImageSizeMismatch,
					"mask %q is %v, image is %v", files.Masks[idx], maskSize, size))
			}
			var ok bool
			lv.bbox, ok = imageio.BoundingBox(lv.mask)
			if !ok {
				return nil, sceneError(scene, idx, errors.Wrapf(ErrEmptyMask, "mask %q", files.Masks[idx]))
			}
		}
	}
	cameras, intrinsics, err := calib.ResolveScene(a.resolver, archive, views,
		calib.ImageSize{Width: size.X, Height: size.Y})
	if err != nil {
		view := NoView
		var viewErr *calib.ViewError
		if errors.As(err, &viewErr) {
			view = viewErr.View
		}
		return nil, sceneError(scene, view, err)
	}
	for ii := range loaded {
		loaded[ii].calib = cameras[ii]
	}

	// Resize: one ratio, taken from the height, is applied to both axes of the intrinsics.
	if len(a.cfg.ImageSize) == 2 && (a.cfg.ImageSize[0] != size.Y || a.cfg.ImageSize[1] != size.X) {
		targetH, targetW := a.cfg.ImageSize[0], a.cfg.ImageSize[1]
		ratio := float64(targetH) / float64(size.Y)
		intrinsics = intrinsics.Rescale(ratio)
		for ii := range loaded {
			lv := &loaded[ii]
			lv.img = imageio.Resize(lv.img, targetW, targetH)
			if lv.mask != nil {
				lv.mask = imageio.ResizeMask(lv.mask, targetW, targetH)
				for jj := range lv.bbox {
					lv.bbox[jj] *= ratio
				}
			}
		}
		size = image.Pt(targetW, targetH)
	}

	e := &Episode{
		Scene:        scene,
		SupportViews: views[:numSupport:numSupport],
		QueryViews:   views[numSupport:],
		Focal:        intrinsics.Focal,
		Principal:    intrinsics.Principal,
		HasPrincipal: intrinsics.HasPrincipal,
		Near:         a.cfg.Near,
		Far:          a.cfg.Far,
	}
	if a.cfg.ReturnCategory {
		e.Category, e.HasCategory = scene.CategoryID, true
	}
	if jitter && rng != nil {
		factors := DrawJitterFactors(rng)
		e.Jitter = &factors
	}

	pixels := make([][]float32, len(loaded))
	for ii := range loaded {
		pixels[ii] = imageio.RGBToFloat(loaded[ii].img)
		if e.Jitter != nil {
			e.Jitter.Apply(pixels[ii])
		}
	}
	t := &tensorBuilder{dtype: a.cfg.DType, channelsAxis: a.cfg.ChannelsAxis, height: size.Y, width: size.X}
	e.SupportImages = t.images(pixels[:numSupport], 3)
	e.QueryImages = t.images(pixels[numSupport:], 3)
	e.SupportPoses = t.poses(loaded[:numSupport])
	e.QueryPoses = t.poses(loaded[numSupport:])
	e.SupportFocals = t.focals(intrinsics.Focal, numSupport)
	e.QueryFocals = t.focals(intrinsics.Focal, len(loaded)-numSupport)
	if hasMasks {
		masks := make([][]float32, len(loaded))
		for ii := range loaded {
			masks[ii] = imageio.MaskToFloat(loaded[ii].mask)
		}
		e.SupportMasks = t.images(masks[:numSupport], 1)
		e.QueryMasks = t.images(masks[numSupport:], 1)
		e.SupportBBoxes = t.bboxes(loaded[:numSupport])
		e.QueryBBoxes = t.bboxes(loaded[numSupport:])
	}
	klog.V(1).Infof("Episode %s: support views %v, query views %v, focal %v", scene, e.SupportViews,
		e.QueryViews, e.Focal)
	return e, nil
}

// tensorBuilder stacks per-view values into tensors. It returns nil tensors for empty sets.
type tensorBuilder struct {
	dtype         dtypes.DType
	channelsAxis  images.ChannelsAxisConfig
	height, width int
}

// images stacks flat height x width x channels buffers.
func (b *tensorBuilder) images(views [][]float32, channels int) *tensors.Tensor {
	n := len(views)
	if n == 0 {
		return nil
	}
	numPixels := b.height * b.width
	data := make([]float32, 0, n*numPixels*channels)
	if b.channelsAxis == images.ChannelsLast {
		for _, v := range views {
			data = append(data, v...)
		}
		return newTensor(b.dtype, data, n, b.height, b.width, channels)
	}
	for _, v := range views {
		for c := range channels {
			for p := range numPixels {
				data = append(data, v[p*channels+c])
			}
		}
	}
	return newTensor(b.dtype, data, n, channels, b.height, b.width)
}

// poses stacks the top 3x4 block of the 4x4 poses.
func (b *tensorBuilder) poses(views []loadedView) *tensors.Tensor {
	if len(views) == 0 {
		return nil
	}
	data := make([]float64, 0, len(views)*12)
	for _, v := range views {
		for row := range 3 {
			for col := range 4 {
				data = append(data, v.calib.Pose.At(row, col))
			}
		}
	}
	return newTensor(b.dtype, data, len(views), 3, 4)
}

// focals repeats the scene focal length once per view.
func (b *tensorBuilder) focals(focal [2]float64, n int) *tensors.Tensor {
	if n == 0 {
		return nil
	}
	data := make([]float64, 0, 2*n)
	for range n {
		data = append(data, focal[0], focal[1])
	}
	return newTensor(b.dtype, data, n, 2)
}

func (b *tensorBuilder) bboxes(views []loadedView) *tensors.Tensor {
	if len(views) == 0 {
		return nil
	}
	data := make([]float64, 0, len(views)*4)
	for _, v := range views {
		data = append(data, v.bbox[:]...)
	}
	return newTensor(b.dtype, data, len(views), 4)
}

// newTensor creates a tensor of the given float dtype (Float32 or Float64) from data.
func newTensor[T float32 | float64](dtype dtypes.DType, data []T, dimensions ...int) *tensors.Tensor {
	if dtype == dtypes.Float64 {
		return tensors.FromFlatDataAndDimensions(convertFloats[T, float64](data), dimensions...)
	}
	return tensors.FromFlatDataAndDimensions(convertFloats[T, float32](data), dimensions...)
}

func convertFloats[From, To float32 | float64](data []From) []To {
	if converted, ok := any(data).([]To); ok {
		return converted
	}
	out := make([]To, len(data))
	for ii, v := range data {
		out[ii] = To(v)
	}
	return out
}
