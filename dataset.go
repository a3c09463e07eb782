package main

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io/fs"
	"math/rand"
	"os"
	"path/filepath"
	"strings"

	xdraw "golang.org/x/image/draw"
	"gorgonia.org/tensor"
)

// ===========================================================================
// IMAGE PIPELINE
// ===========================================================================
//
// The dataset enumerates image files under a directory, decodes and
// resizes each to the configured resolution once at load time, and holds
// the normalized CHW float32 pixels in memory. Batches are assembled on
// demand from a per-epoch shuffled index order, with light augmentation
// applied per sample:
//
//   - random horizontal flip
//   - replicate-pad by cropPad pixels and random crop back to size
//
// Pixels are normalized to [-1,1], matching the generator's tanh output.
//
// ===========================================================================

// cropPad is the padding width for the pad-and-crop augmentation.
const cropPad = 4

// Dataset holds the preprocessed training images.
type Dataset struct {
	res    int
	images [][]float32 // each len 3*res*res, CHW
	rng    *rand.Rand
}

// LoadDataset walks dir for .png/.jpg/.jpeg files and preprocesses them
// to res x res. It fails if the directory yields no usable images.
func LoadDataset(dir string, res int, seed uint64) (*Dataset, error) {
	d := &Dataset{res: res, rng: rand.New(rand.NewSource(int64(seed)))}

	err := filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".png", ".jpg", ".jpeg":
		default:
			return nil
		}
		pixels, err := loadImage(path, res)
		if err != nil {
			return fmt.Errorf("loading %s: %w", path, err)
		}
		d.images = append(d.images, pixels)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(d.images) == 0 {
		return nil, fmt.Errorf("no .png/.jpg/.jpeg images found under %s", dir)
	}
	return d, nil
}

// Len returns the number of images.
func (d *Dataset) Len() int {
	return len(d.images)
}

// EpochBatches returns a freshly shuffled epoch of batch index groups.
// A trailing incomplete batch is dropped so every step sees a full batch.
func (d *Dataset) EpochBatches(batchSize int) [][]int {
	order := d.rng.Perm(len(d.images))
	var batches [][]int
	for start := 0; start+batchSize <= len(order); start += batchSize {
		batches = append(batches, order[start:start+batchSize])
	}
	return batches
}

// MakeBatch assembles the images at the given indices into an NCHW
// tensor, applying augmentation when requested.
func (d *Dataset) MakeBatch(indices []int, augment bool) *tensor.Dense {
	imgSize := 3 * d.res * d.res
	backing := make([]float32, len(indices)*imgSize)
	for i, idx := range indices {
		dst := backing[i*imgSize : (i+1)*imgSize]
		src := d.images[idx]
		if augment {
			flip := d.rng.Intn(2) == 1
			ox := d.rng.Intn(2*cropPad+1) - cropPad
			oy := d.rng.Intn(2*cropPad+1) - cropPad
			copyAugmented(dst, src, d.res, flip, ox, oy)
		} else {
			copy(dst, src)
		}
	}
	return tensor.New(tensor.WithShape(len(indices), 3, d.res, d.res), tensor.WithBacking(backing))
}

// copyAugmented writes src into dst with a horizontal flip and a shifted
// crop. Out-of-range source coordinates clamp to the edge, which is
// equivalent to replicate-padding before the crop.
func copyAugmented(dst, src []float32, res int, flip bool, ox, oy int) {
	for c := 0; c < 3; c++ {
		plane := src[c*res*res : (c+1)*res*res]
		out := dst[c*res*res : (c+1)*res*res]
		for y := 0; y < res; y++ {
			sy := clampInt(y+oy, 0, res-1)
			for x := 0; x < res; x++ {
				sx := x + ox
				if flip {
					sx = res - 1 - x + ox
				}
				sx = clampInt(sx, 0, res-1)
				out[y*res+x] = plane[sy*res+sx]
			}
		}
	}
}

// loadImage decodes one file, resizes it to res x res with bilinear
// filtering, and normalizes to CHW [-1,1].
func loadImage(path string, res int) ([]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	src, _, err := image.Decode(f)
	if err != nil {
		return nil, err
	}

	scaled := image.NewRGBA(image.Rect(0, 0, res, res))
	xdraw.ApproxBiLinear.Scale(scaled, scaled.Bounds(), src, src.Bounds(), xdraw.Src, nil)

	pixels := make([]float32, 3*res*res)
	for y := 0; y < res; y++ {
		for x := 0; x < res; x++ {
			off := scaled.PixOffset(x, y)
			for c := 0; c < 3; c++ {
				v := float32(scaled.Pix[off+c])
				pixels[c*res*res+y*res+x] = v/127.5 - 1
			}
		}
	}
	return pixels, nil
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
