// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package multiview

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/core/tensors/numpy"
	"github.com/gomlx/transinr/pkg/calib"
	"github.com/gomlx/transinr/pkg/catalog"
	"github.com/stretchr/testify/require"
)

// sceneFixture describes a synthetic scene written by writeScene.
type sceneFixture struct {
	format        calib.Format
	numViews      int
	width, height int
	numMasks      int
	emptyMask     int // view with an all-zero mask, or -1.
	sameImages    bool
	skipCalibView int // view without calibration entries, or -1.
}

func defaultFixture(format calib.Format) sceneFixture {
	return sceneFixture{format: format, numViews: 5, width: 8, height: 6, emptyMask: -1, skipCalibView: -1}
}

func savePNG(t *testing.T, filePath string, img image.Image) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(filePath), 0o755))
	f, err := os.Create(filePath)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
}

// writeScene writes the scene under root/category/name and returns the scene root.
func writeScene(t *testing.T, root, category, name string, fixture sceneFixture) string {
	t.Helper()
	sceneRoot := filepath.Join(root, category, name)
	for view := range fixture.numViews {
		img := image.NewNRGBA(image.Rect(0, 0, fixture.width, fixture.height))
		for y := range fixture.height {
			for x := range fixture.width {
				c := color.NRGBA{R: uint8(20 * x), G: uint8(30 * y), B: 100, A: 255}
				if !fixture.sameImages {
					c.B = uint8(40 * view)
				}
				img.SetNRGBA(x, y, c)
			}
		}
		savePNG(t, filepath.Join(sceneRoot, "image", fmt.Sprintf("%03d.png", view)), img)
	}
	for view := range fixture.numMasks {
		mask := image.NewGray(image.Rect(0, 0, fixture.width, fixture.height))
		if view != fixture.emptyMask {
			// Foreground box: columns [1, 1+view], rows [2, 4].
			for y := 2; y <= 4; y++ {
				for x := 1; x <= 1+view; x++ {
					mask.SetGray(x, y, color.Gray{Y: 255})
				}
			}
		}
		savePNG(t, filepath.Join(sceneRoot, "mask", fmt.Sprintf("%03d.png", view)), mask)
	}

	entries := make(map[string]*tensors.Tensor)
	for view := range fixture.numViews {
		if view == fixture.skipCalibView {
			continue
		}
		tz := 2 + float64(view)
		switch fixture.format {
		case calib.ShapeNet:
			entries[calib.WorldMatKey(view)] = tensors.FromValue([][]float64{
				{1, 0, 0, 0}, {0, 1, 0, 0}, {0, 0, 1, tz}, {0, 0, 0, 1}})
			entries[calib.CameraMatKey(view)] = tensors.FromValue([][]float64{
				{0.7, 0, 0}, {0, 0.7, 0}, {0, 0, 1}})
		case calib.DTULike:
			// K = [[50+view, 0, 4], [0, 40+view, 3], [0, 0, 1]], R = I, t = (0, 0, tz).
			fx, fy := 50+float64(view), 40+float64(view)
			entries[calib.WorldMatKey(view)] = tensors.FromValue([][]float64{
				{fx, 0, 4, 4 * tz}, {0, fy, 3, 3 * tz}, {0, 0, 1, tz}, {0, 0, 0, 1}})
		}
	}
	require.NoError(t, os.MkdirAll(sceneRoot, 0o755))
	require.NoError(t, numpy.ToNpzFile(entries, filepath.Join(sceneRoot, CamerasFile)))
	return sceneRoot
}

// writeDataset writes a dataset with one category ("cars") and the given scenes, all listed in every split.
func writeDataset(t *testing.T, cfg Config, fixtures ...sceneFixture) string {
	t.Helper()
	root := t.TempDir()
	var list string
	for ii, fixture := range fixtures {
		name := fmt.Sprintf("scene%d", ii)
		writeScene(t, root, "cars", name, fixture)
		list += name + "\n"
	}
	for _, split := range []catalog.Split{catalog.Train, catalog.Validation, catalog.Test} {
		listPath := filepath.Join(root, "cars", split.ListFileName(cfg.ListPrefix))
		require.NoError(t, os.WriteFile(listPath, []byte(list), 0o644))
	}
	return root
}

func flat32(t *testing.T, tensor *tensors.Tensor) []float32 {
	t.Helper()
	require.NotNil(t, tensor)
	return tensors.MustCopyFlatData[float32](tensor)
}
