// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package multiview

import (
	"math"
	"math/rand"

	"github.com/lucasb-eyer/go-colorful"
)

// Ranges of the color jitter factors: hue is an offset in fractions of a full turn of the hue
// circle, the others are multiplicative.
const (
	JitterHueRange        = 0.1
	JitterSaturationRange = 0.1
	JitterBrightnessRange = 0.1
	JitterContrastRange   = 0.1
)

// JitterFactors of the color augmentation. One set is drawn per episode and applied to all its views.
type JitterFactors struct {
	Hue, Saturation, Brightness, Contrast float64
}

// DrawJitterFactors draws hue from U(-0.1, 0.1) and the other factors from U(0.9, 1.1).
func DrawJitterFactors(rng *rand.Rand) JitterFactors {
	uniform := func(low, high float64) float64 { return low + rng.Float64()*(high-low) }
	return JitterFactors{
		Hue:        uniform(-JitterHueRange, JitterHueRange),
		Saturation: uniform(1-JitterSaturationRange, 1+JitterSaturationRange),
		Brightness: uniform(1-JitterBrightnessRange, 1+JitterBrightnessRange),
		Contrast:   uniform(1-JitterContrastRange, 1+JitterContrastRange),
	}
}

// grayscale luminance weights.
const lumaR, lumaG, lumaB = 0.2989, 0.587, 0.114

func luma(r, g, b float64) float64 { return lumaR*r + lumaG*g + lumaB*b }

func clamp01(v float64) float64 { return min(max(v, 0), 1) }

// Apply the factors in place to one image, given as a flat height x width x 3 buffer with values in
// [0, 1]. Adjustments are applied in order: saturation, hue, contrast and brightness.
func (f JitterFactors) Apply(rgb []float32) {
	numPixels := len(rgb) / 3

	// Saturation: blend with the grayscale version of the pixel.
	for p := range numPixels {
		r, g, b := float64(rgb[3*p]), float64(rgb[3*p+1]), float64(rgb[3*p+2])
		gray := luma(r, g, b)
		rgb[3*p] = float32(clamp01(f.Saturation*r + (1-f.Saturation)*gray))
		rgb[3*p+1] = float32(clamp01(f.Saturation*g + (1-f.Saturation)*gray))
		rgb[3*p+2] = float32(clamp01(f.Saturation*b + (1-f.Saturation)*gray))
	}

	// Hue: rotate in HSV space.
	if f.Hue != 0 {
		shift := f.Hue * 360
		for p := range numPixels {
			c := colorful.Color{R: float64(rgb[3*p]), G: float64(rgb[3*p+1]), B: float64(rgb[3*p+2])}
			h, s, v := c.Hsv()
			h = math.Mod(h+shift+360, 360)
			c = colorful.Hsv(h, s, v).Clamped()
			rgb[3*p], rgb[3*p+1], rgb[3*p+2] = float32(c.R), float32(c.G), float32(c.B)
		}
	}

	// Contrast: blend with the mean grayscale value of the whole image.
	var mean float64
	for p := range numPixels {
		mean += luma(float64(rgb[3*p]), float64(rgb[3*p+1]), float64(rgb[3*p+2]))
	}
	if numPixels > 0 {
		mean /= float64(numPixels)
	}
	for ii, v := range rgb {
		rgb[ii] = float32(clamp01(f.Contrast*float64(v) + (1-f.Contrast)*mean))
	}

	// Brightness: scale.
	for ii, v := range rgb {
		rgb[ii] = float32(clamp01(f.Brightness * float64(v)))
	}
}
