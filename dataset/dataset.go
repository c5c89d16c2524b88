// Package dataset loads handwritten-line images and their transcriptions
// and serves them as padded batches for training and evaluation.
//
// A dataset lives under a data directory as one manifest TSV per split
// (train.tsv, validation.tsv, test.tsv; under fold_<k>/ when a fold is
// selected). Each manifest line is
//
//	image_path<TAB>transcription[<TAB>normalized_transcription]
//
// with image paths relative to the data directory.
package dataset

import (
	"bufio"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"

	_ "image/jpeg"
	_ "image/png"

	"github.com/lebefriedlich/computer-vision/transcription"
)

// Split selects one of the dataset partitions.
type Split int

const (
	Train Split = iota
	Validation
	Test
)

func (s Split) String() string {
	switch s {
	case Train:
		return "train"
	case Validation:
		return "validation"
	case Test:
		return "test"
	default:
		return fmt.Sprintf("Split(%d)", int(s))
	}
}

// DataMode selects which transcription variant of the manifest feeds the
// reported plaintext. Label ids are always encoded from the normalized
// form of the chosen text.
type DataMode int

const (
	// Original uses the first transcription column.
	Original DataMode = iota
	// Normalized uses the second column and errors when it is absent.
	Normalized
	// Mixed prefers the second column and falls back to the first.
	Mixed
)

// ParseDataMode maps a configuration string to a DataMode.
func ParseDataMode(s string) (DataMode, error) {
	switch s {
	case "original":
		return Original, nil
	case "normalized":
		return Normalized, nil
	case "mixed":
		return Mixed, nil
	default:
		return 0, fmt.Errorf("dataset: unknown data mode %q", s)
	}
}

func (m DataMode) String() string {
	switch m {
	case Original:
		return "original"
	case Normalized:
		return "normalized"
	case Mixed:
		return "mixed"
	default:
		return fmt.Sprintf("DataMode(%d)", int(m))
	}
}

// Geometry fixes the padded image shape all batches share.
type Geometry struct {
	Height   int     // target image height in pixels
	Width    int     // target (padded) image width in pixels
	PadValue float64 // fill value for padding, in raw pixel units (0..255)
}

type sample struct {
	imagePath string
	imageName string
	plaintext string
	labels    []int
}

// LineDataset is an indexable collection of line-image samples for one
// split.
type LineDataset struct {
	samples []sample
	geom    Geometry
}

// Load reads the manifest for the given split and encodes all
// transcriptions. fold 0 means no fold subdirectory.
func Load(dataDir string, split Split, fold int, mode DataMode, enc *transcription.Encoder, geom Geometry) (*LineDataset, error) {
	dir := dataDir
	if fold > 0 {
		dir = filepath.Join(dataDir, fmt.Sprintf("fold_%d", fold))
	}
	manifest := filepath.Join(dir, split.String()+".tsv")

	f, err := os.Open(manifest)
	if err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	defer f.Close()

	ds := &LineDataset{geom: geom}
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		parts := strings.Split(line, "\t")
		if len(parts) < 2 {
			return nil, fmt.Errorf("%s:%d: want image_path<TAB>transcription", manifest, lineNo)
		}

		text, err := chooseText(parts, mode)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", manifest, lineNo, err)
		}

		labels, err := enc.Encode(enc.Replace(text))
		if err != nil {
			return nil, fmt.Errorf("%s:%d: encode transcription: %w", manifest, lineNo, err)
		}

		ds.samples = append(ds.samples, sample{
			imagePath: filepath.Join(dir, parts[0]),
			imageName: parts[0],
			plaintext: text,
			labels:    labels,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	if len(ds.samples) == 0 {
		return nil, fmt.Errorf("manifest %s has no samples", manifest)
	}
	return ds, nil
}

func chooseText(parts []string, mode DataMode) (string, error) {
	switch mode {
	case Original:
		return parts[1], nil
	case Normalized:
		if len(parts) < 3 {
			return "", fmt.Errorf("data mode %s needs a normalized transcription column", mode)
		}
		return parts[2], nil
	case Mixed:
		if len(parts) >= 3 {
			return parts[2], nil
		}
		return parts[1], nil
	default:
		return "", fmt.Errorf("unknown data mode %v", mode)
	}
}

// Len returns the number of samples.
func (d *LineDataset) Len() int { return len(d.samples) }

// loadImage decodes one line image into the column-major flat layout
// pixels[col*Height+row], values scaled to [0,1], resized to the target
// height (nearest neighbor, aspect preserved) and padded or cropped to the
// target width.
func (d *LineDataset) loadImage(path string) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode image %s: %w", path, err)
	}

	bounds := img.Bounds()
	srcW, srcH := bounds.Dx(), bounds.Dy()
	if srcW == 0 || srcH == 0 {
		return nil, fmt.Errorf("empty image %s", path)
	}

	h, w := d.geom.Height, d.geom.Width
	// Width after scaling to the target height, before pad/crop.
	scaledW := srcW * h / srcH
	if scaledW < 1 {
		scaledW = 1
	}

	pad := d.geom.PadValue / 255.0
	out := make([]float64, w*h)
	for col := 0; col < w; col++ {
		for row := 0; row < h; row++ {
			if col >= scaledW {
				out[col*h+row] = pad
				continue
			}
			sx := bounds.Min.X + col*srcW/scaledW
			sy := bounds.Min.Y + row*srcH/h
			r, g, b, _ := img.At(sx, sy).RGBA()
			// Luma on 16-bit channel values.
			gray := (299*float64(r) + 587*float64(g) + 114*float64(b)) / 1000
			out[col*h+row] = gray / 65535.0
		}
	}
	return out, nil
}

// Batch is one loader iteration: equally padded images plus label data.
type Batch struct {
	Images       [][]float64 // column-major flat pixels, one per example
	Labels       [][]int     // padded label ids, all rows LabelWidth long
	LabelLengths []int       // true label lengths per example
	LabelWidth   int         // padded label row length
	Plaintext    []string    // transcription text per example
	ImageNames   []string    // manifest image identifiers
}

// batch assembles the samples at the given indices.
func (d *LineDataset) batch(indices []int) (*Batch, error) {
	b := &Batch{
		Images:       make([][]float64, len(indices)),
		Labels:       make([][]int, len(indices)),
		LabelLengths: make([]int, len(indices)),
		Plaintext:    make([]string, len(indices)),
		ImageNames:   make([]string, len(indices)),
	}
	maxLen := 0
	for _, idx := range indices {
		if n := len(d.samples[idx].labels); n > maxLen {
			maxLen = n
		}
	}
	b.LabelWidth = maxLen

	for i, idx := range indices {
		s := d.samples[idx]
		img, err := d.loadImage(s.imagePath)
		if err != nil {
			return nil, err
		}
		b.Images[i] = img

		padded := make([]int, maxLen)
		copy(padded, s.labels)
		b.Labels[i] = padded
		b.LabelLengths[i] = len(s.labels)
		b.Plaintext[i] = s.plaintext
		b.ImageNames[i] = s.imageName
	}
	return b, nil
}
