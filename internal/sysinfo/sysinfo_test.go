package sysinfo

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFreeSpace(t *testing.T) {
	t.Parallel()

	free, err := FreeSpace(t.TempDir())
	require.NoError(t, err)
	assert.Positive(t, free)

	_, err = FreeSpace(filepath.Join(t.TempDir(), "does", "not", "exist"))
	require.Error(t, err)
}

func TestMemoryBudget(t *testing.T) {
	t.Parallel()

	assert.Positive(t, MemoryBudget())
}
