package runlog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_WritesOneLinePerEvent(t *testing.T) {
	dir := t.TempDir()
	s, err := Init(dir, "info", "train")
	require.NoError(t, err)

	s.Channel("train").Printf("%d,%f", 1, 2.5)
	s.Channel("train").Printf("%d,%f", 2, 2.25)
	require.NoError(t, s.Close())

	data, err := os.ReadFile(filepath.Join(dir, "train.log"))
	require.NoError(t, err)
	assert.Equal(t, "1,2.500000\n2,2.250000\n", string(data))
}

func TestInit_AppendsAcrossRuns(t *testing.T) {
	dir := t.TempDir()

	s, err := Init(dir, "validation")
	require.NoError(t, err)
	s.Channel("validation").Printf("first")
	require.NoError(t, s.Close())

	s, err = Init(dir, "validation")
	require.NoError(t, err)
	s.Channel("validation").Printf("second")
	require.NoError(t, s.Close())

	data, err := os.ReadFile(filepath.Join(dir, "validation.log"))
	require.NoError(t, err)
	assert.Equal(t, "first\nsecond\n", string(data))
}

func TestChannel_MissingIsNoOp(t *testing.T) {
	s, err := Init(t.TempDir(), "info")
	require.NoError(t, err)
	defer s.Close()

	// Printing to an uninitialized channel must not panic.
	s.Channel("test").Printf("ignored")
}

func TestInit_CreatesOutputDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "out")
	s, err := Init(dir, "info")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = os.Stat(filepath.Join(dir, "info.log"))
	assert.NoError(t, err)
}
