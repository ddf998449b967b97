// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package multiview

import (
	"fmt"

	"github.com/gomlx/transinr/pkg/catalog"
	"github.com/pkg/errors"
)

var (
	// ErrEmptyMask is returned when a view mask has no foreground pixel.
	ErrEmptyMask = errors.New("mask has no foreground pixels")

	// ErrInsufficientViews is returned when a scene doesn't have enough distinct candidate views for the
	// requested support and query counts.
	ErrInsufficientViews = errors.New("not enough views")

	// ErrPartialMasks is returned when a scene has masks for only some of its views.
	// Scenes must have masks for either all views or none.
	ErrPartialMasks = errors.New("scene has masks for only some of its views")

	// ErrImageSizeMismatch is returned when the views of a scene (or a view and its mask) have different sizes.
	ErrImageSizeMismatch = errors.New("image size mismatch")
)

// NoView is used in SceneError.View when the error is not specific to one view.
const NoView = -1

// SceneError is returned by the Assembler for failures while loading a scene.
// It identifies the scene and, when applicable, the view index that failed.
//
// Use errors.Is to check for the underlying cause (e.g. ErrEmptyMask or calib.ErrFocalMismatch).
type SceneError struct {
	Scene catalog.Scene
	View  int
	Err   error
}

// Error implements error.
func (e *SceneError) Error() string {
	if e.View == NoView {
		return fmt.Sprintf("scene %s (%s): %v", e.Scene, e.Scene.Root, e.Err)
	}
	return fmt.Sprintf("scene %s (%s), view %d: %v", e.Scene, e.Scene.Root, e.View, e.Err)
}

// Unwrap returns the underlying error.
func (e *SceneError) Unwrap() error { return e.Err }

func sceneError(scene catalog.Scene, view int, err error) error {
	if err == nil {
		return nil
	}
	return &SceneError{Scene: scene, View: view, Err: err}
}
