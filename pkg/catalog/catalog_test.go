// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, filePath, contents string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(filePath), 0o755))
	require.NoError(t, os.WriteFile(filePath, []byte(contents), 0o644))
}

// buildTree creates: cars (2 train scenes), chairs (1 train scene + 1 test), lamps (no lists).
func buildTree(t *testing.T) string {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "cars", "softras_train.lst"), "a1\n  a2  \n\n")
	writeFile(t, filepath.Join(root, "chairs", "softras_train.lst"), "c1\n")
	writeFile(t, filepath.Join(root, "chairs", "softras_test.lst"), "c9\n")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "lamps"), 0o755))
	writeFile(t, filepath.Join(root, "README"), "not a category")
	return root
}

func TestParseSplit(t *testing.T) {
	for name, want := range map[string]Split{"train": Train, "VAL": Validation, "validation": Validation, " test": Test} {
		got, err := ParseSplit(name)
		require.NoError(t, err, "split %q", name)
		assert.Equal(t, want, got)
	}
	_, err := ParseSplit("dev")
	require.Error(t, err)
	assert.Equal(t, "new_train.lst", Train.ListFileName("new_"))
}

func TestCatalog(t *testing.T) {
	root := buildTree(t)
	c, err := New(root, Train, "softras_", 3)
	require.NoError(t, err)

	assert.Equal(t, []string{"cars", "chairs", "lamps"}, c.Categories())
	id, found := c.CategoryID("lamps")
	require.True(t, found)
	assert.Equal(t, 2, id)
	assert.Equal(t, 3, c.NumScenes())
	assert.Equal(t, 9, c.Len())
	assert.Equal(t, []int{2, 1, 0}, c.CountByCategory())

	want := []Scene{
		{Category: "cars", CategoryID: 0, Root: filepath.Join(root, "cars", "a1")},
		{Category: "cars", CategoryID: 0, Root: filepath.Join(root, "cars", "a2")},
		{Category: "chairs", CategoryID: 1, Root: filepath.Join(root, "chairs", "c1")},
	}
	if diff := cmp.Diff(want, c.Scenes()); diff != "" {
		t.Errorf("unexpected scenes (-want +got):\n%s", diff)
	}

	// Indices wrap around the distinct scenes.
	for index := range c.Len() {
		s, err := c.Scene(index)
		require.NoError(t, err)
		assert.Equal(t, want[index%3], s)
	}
	_, err = c.Scene(-1)
	require.Error(t, err)
}

func TestCatalogMissingLists(t *testing.T) {
	root := buildTree(t)
	c, err := New(root, Validation, "softras_", 1)
	require.NoError(t, err)
	assert.Equal(t, 0, c.Len())
	_, err = c.Scene(0)
	require.Error(t, err)

	c, err = New(root, Test, "softras_", 1)
	require.NoError(t, err)
	require.Equal(t, 1, c.Len())
	s, err := c.Scene(0)
	require.NoError(t, err)
	assert.Equal(t, "chairs/c9", s.String())

	_, err = New(root, Train, "softras_", 0)
	require.Error(t, err)
	_, err = New(filepath.Join(root, "missing"), Train, "softras_", 1)
	require.Error(t, err)
}
