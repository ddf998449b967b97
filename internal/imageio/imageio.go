// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package imageio lists, decodes and resizes the images and masks of a multi-view scene.
package imageio

import (
	"image"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
)

const (
	// ImageDir is the scene sub-directory holding the view images.
	ImageDir = "image"

	// MaskDir is the optional scene sub-directory holding the view masks.
	MaskDir = "mask"
)

// SceneFiles lists the images and masks of a scene, each sorted by name.
// Masks is empty if the scene has no masks.
type SceneFiles struct {
	Images, Masks []string
}

// ListSceneFiles enumerates "<root>/image/*.{jpg,png}" and "<root>/mask/*.png".
// A missing mask directory is not an error.
func ListSceneFiles(root string) (SceneFiles, error) {
	var files SceneFiles
	var err error
	files.Images, err = listDir(filepath.Join(root, ImageDir), ".jpg", ".png")
	if err != nil {
		return files, errors.WithMessagef(err, "failed to list images of scene %q", root)
	}
	files.Masks, err = listDir(filepath.Join(root, MaskDir), ".png")
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return files, nil
		}
		return files, errors.WithMessagef(err, "failed to list masks of scene %q", root)
	}
	return files, nil
}

func listDir(dir string, suffixes ...string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if slices.ContainsFunc(suffixes, func(suffix string) bool { return strings.HasSuffix(name, suffix) }) {
			paths = append(paths, filepath.Join(dir, name))
		}
	}
	slices.Sort(paths)
	return paths, nil
}

// LoadRGB decodes a .jpg or .png image. The alpha channel, if any, is later ignored by RGBToFloat.
func LoadRGB(imagePath string) (*image.NRGBA, error) {
	img, err := imaging.Open(imagePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decode image %q", imagePath)
	}
	return imaging.Clone(img), nil
}

// LoadMask decodes a mask image and keeps only its first channel.
func LoadMask(maskPath string) (*image.Gray, error) {
	img, err := imaging.Open(maskPath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decode mask %q", maskPath)
	}
	return firstChannel(imaging.Clone(img)), nil
}

// firstChannel returns the red channel of img as a grayscale image.
func firstChannel(img *image.NRGBA) *image.Gray {
	bounds := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	for y := range bounds.Dy() {
		src := img.Pix[y*img.Stride : y*img.Stride+4*bounds.Dx()]
		dst := gray.Pix[y*gray.Stride : y*gray.Stride+bounds.Dx()]
		for x := range dst {
			dst[x] = src[4*x]
		}
	}
	return gray
}

// Resize an image to width x height with an area-averaging (box) filter.
// It returns a copy of img if the size doesn't change.
func Resize(img image.Image, width, height int) *image.NRGBA {
	size := img.Bounds().Size()
	if size.X == width && size.Y == height {
		return imaging.Clone(img)
	}
	return imaging.Resize(img, width, height, imaging.Box)
}

// ResizeMask is like Resize, but for single-channel masks.
func ResizeMask(mask *image.Gray, width, height int) *image.Gray {
	size := mask.Bounds().Size()
	if size.X == width && size.Y == height {
		return mask
	}
	return firstChannel(imaging.Resize(mask, width, height, imaging.Box))
}

// RGBToFloat converts an image to a flat height x width x 3 buffer with values in [0, 1].
func RGBToFloat(img *image.NRGBA) []float32 {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	out := make([]float32, 0, width*height*3)
	for y := range height {
		row := img.Pix[y*img.Stride : y*img.Stride+4*width]
		for x := range width {
			out = append(out,
				float32(row[4*x])/255,
				float32(row[4*x+1])/255,
				float32(row[4*x+2])/255)
		}
	}
	return out
}

// MaskToFloat converts a mask to a flat height x width buffer with values in [0, 1].
func MaskToFloat(mask *image.Gray) []float32 {
	bounds := mask.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	out := make([]float32, 0, width*height)
	for y := range height {
		for _, v := range mask.Pix[y*mask.Stride : y*mask.Stride+width] {
			out = append(out, float32(v)/255)
		}
	}
	return out
}

// BoundingBox returns the tight box [cmin, rmin, cmax, rmax] around the non-zero pixels of mask,
// using inclusive pixel indices. ok is false if the mask has no foreground pixel.
func BoundingBox(mask *image.Gray) (bbox [4]float64, ok bool) {
	bounds := mask.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	rMin, rMax, cMin, cMax := height, -1, width, -1
	for y := range height {
		row := mask.Pix[y*mask.Stride : y*mask.Stride+width]
		for x, v := range row {
			if v == 0 {
				continue
			}
			rMin, rMax = min(rMin, y), max(rMax, y)
			cMin, cMax = min(cMin, x), max(cMax, x)
		}
	}
	if rMax < 0 {
		return bbox, false
	}
	return [4]float64{float64(cMin), float64(rMin), float64(cMax), float64(rMax)}, true
}
