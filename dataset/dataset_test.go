package dataset

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lebefriedlich/computer-vision/transcription"
)

// writeTestData creates PNG line images and a manifest under dir and
// returns the manifest rows used.
func writeTestData(t *testing.T, dir, split string, rows [][]string) {
	t.Helper()
	var manifest string
	for i, row := range rows {
		name := fmt.Sprintf("line_%02d.png", i)
		img := image.NewGray(image.Rect(0, 0, 6+2*i, 8))
		for y := 0; y < 8; y++ {
			for x := 0; x < 6+2*i; x++ {
				img.SetGray(x, y, color.Gray{Y: uint8(10*i + x)})
			}
		}
		f, err := os.Create(filepath.Join(dir, name))
		require.NoError(t, err)
		require.NoError(t, png.Encode(f, img))
		require.NoError(t, f.Close())

		line := name
		for _, col := range row {
			line += "\t" + col
		}
		manifest += line + "\n"
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, split+".tsv"), []byte(manifest), 0o644))
}

func testEncoder(t *testing.T) *transcription.Encoder {
	t.Helper()
	enc, err := transcription.NewEncoder("abcdefghijklmnopqrstuvwxyz ")
	require.NoError(t, err)
	return enc
}

func TestLoad_ShapesAndPadding(t *testing.T) {
	dir := t.TempDir()
	writeTestData(t, dir, "train", [][]string{
		{"hello world"},
		{"hi"},
		{"abc"},
	})
	geom := Geometry{Height: 8, Width: 16, PadValue: 255}

	ds, err := Load(dir, Train, 0, Original, testEncoder(t), geom)
	require.NoError(t, err)
	require.Equal(t, 3, ds.Len())

	b, err := ds.batch([]int{0, 1, 2})
	require.NoError(t, err)

	assert.Equal(t, 11, b.LabelWidth, "longest transcription sets the padded width")
	assert.Equal(t, []int{11, 2, 3}, b.LabelLengths)
	for i, labels := range b.Labels {
		assert.Len(t, labels, 11, "row %d", i)
	}
	// Labels are right-padded with the blank id.
	assert.Equal(t, 0, b.Labels[1][5])

	for i, img := range b.Images {
		assert.Len(t, img, 16*8, "image %d", i)
	}
	// The first image is 6px wide at 8px height, so columns beyond 6 carry
	// the pad value.
	assert.InDelta(t, 1.0, b.Images[0][10*8], 1e-9, "white padding")
	assert.Equal(t, []string{"hello world", "hi", "abc"}, b.Plaintext)
	assert.Equal(t, "line_00.png", b.ImageNames[0])
}

func TestLoad_DataModeColumns(t *testing.T) {
	dir := t.TempDir()
	writeTestData(t, dir, "validation", [][]string{
		{"raw text", "normalized text"},
		{"only raw"},
	})
	geom := Geometry{Height: 8, Width: 8, PadValue: 255}
	enc := testEncoder(t)

	ds, err := Load(dir, Validation, 0, Original, enc, geom)
	require.NoError(t, err)
	b, err := ds.batch([]int{0, 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"raw text", "only raw"}, b.Plaintext)

	ds, err = Load(dir, Validation, 0, Mixed, enc, geom)
	require.NoError(t, err)
	b, err = ds.batch([]int{0, 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"normalized text", "only raw"}, b.Plaintext)

	_, err = Load(dir, Validation, 0, Normalized, enc, geom)
	assert.Error(t, err, "normalized mode requires the second column everywhere")
}

func TestLoad_Fold(t *testing.T) {
	dir := t.TempDir()
	foldDir := filepath.Join(dir, "fold_2")
	require.NoError(t, os.MkdirAll(foldDir, 0o755))
	writeTestData(t, foldDir, "test", [][]string{{"abc"}})

	ds, err := Load(dir, Test, 2, Original, testEncoder(t), Geometry{Height: 8, Width: 8, PadValue: 255})
	require.NoError(t, err)
	assert.Equal(t, 1, ds.Len())
}

func TestLoad_MissingManifest(t *testing.T) {
	_, err := Load(t.TempDir(), Train, 0, Original, testEncoder(t), Geometry{Height: 8, Width: 8})
	assert.Error(t, err)
}

func TestParseDataMode(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want DataMode
	}{
		{"original", Original},
		{"normalized", Normalized},
		{"mixed", Mixed},
	} {
		got, err := ParseDataMode(tc.in)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got)
	}
	_, err := ParseDataMode("bogus")
	assert.Error(t, err)
}

func TestLoader_CoversAllSamplesOnce(t *testing.T) {
	dir := t.TempDir()
	writeTestData(t, dir, "train", [][]string{
		{"a"}, {"b"}, {"c"}, {"d"}, {"e"},
	})
	ds, err := Load(dir, Train, 0, Original, testEncoder(t), Geometry{Height: 8, Width: 8, PadValue: 255})
	require.NoError(t, err)

	for _, workers := range []int{0, 1} {
		loader := NewLoader(ds, 2, true, workers)
		assert.Equal(t, 3, loader.Len())

		var seen []string
		it := loader.Iter()
		for {
			b, err := it.Next()
			require.NoError(t, err)
			if b == nil {
				break
			}
			seen = append(seen, b.Plaintext...)
		}
		sort.Strings(seen)
		assert.Equal(t, []string{"a", "b", "c", "d", "e"}, seen, "workers=%d", workers)
	}
}

func TestLoader_UnshuffledOrderStable(t *testing.T) {
	dir := t.TempDir()
	writeTestData(t, dir, "test", [][]string{{"a"}, {"b"}, {"c"}})
	ds, err := Load(dir, Test, 0, Original, testEncoder(t), Geometry{Height: 8, Width: 8, PadValue: 255})
	require.NoError(t, err)

	loader := NewLoader(ds, 2, false, 1)
	it := loader.Iter()

	b, err := it.Next()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, b.Plaintext)

	b, err = it.Next()
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, b.Plaintext)

	b, err = it.Next()
	require.NoError(t, err)
	assert.Nil(t, b)
}

func TestIterator_CloseReleasesPrefetcher(t *testing.T) {
	dir := t.TempDir()
	writeTestData(t, dir, "train", [][]string{{"a"}, {"b"}, {"c"}, {"d"}, {"e"}, {"f"}})
	ds, err := Load(dir, Train, 0, Original, testEncoder(t), Geometry{Height: 8, Width: 8, PadValue: 255})
	require.NoError(t, err)

	before := runtime.NumGoroutine()

	loader := NewLoader(ds, 1, false, 1)
	it := loader.Iter()
	b, err := it.Next()
	require.NoError(t, err)
	require.NotNil(t, b)

	// Abandon the pass mid-way. The prefetcher must exit even though more
	// batches remain.
	it.Close()
	it.Close() // idempotent

	b, err = it.Next()
	require.NoError(t, err)
	assert.Nil(t, b)

	deadline := time.Now().Add(2 * time.Second)
	for runtime.NumGoroutine() > before && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	assert.LessOrEqual(t, runtime.NumGoroutine(), before)
}
