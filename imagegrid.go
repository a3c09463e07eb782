package main

import (
	"image"
	"image/color"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// TileGrid arranges a batch of NCHW images in [-1,1] into a single RGBA
// grid image with the given column count. The last row is left black when
// the batch does not fill it.
func TileGrid(batch *tensor.Dense, cols int) (*image.RGBA, error) {
	shape := batch.Shape()
	if len(shape) != 4 || shape[1] != 3 {
		return nil, errors.Errorf("expected (n, 3, h, w) batch, got %v", shape)
	}
	n, h, w := shape[0], shape[2], shape[3]
	if cols < 1 {
		return nil, errors.Errorf("column count must be positive, got %d", cols)
	}
	rows := (n + cols - 1) / cols

	data := batch.Data().([]float32)
	grid := image.NewRGBA(image.Rect(0, 0, cols*w, rows*h))

	for i := 0; i < n; i++ {
		img := data[i*3*h*w : (i+1)*3*h*w]
		gx := (i % cols) * w
		gy := (i / cols) * h
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				grid.SetRGBA(gx+x, gy+y, color.RGBA{
					R: denormalizePixel(img[0*h*w+y*w+x]),
					G: denormalizePixel(img[1*h*w+y*w+x]),
					B: denormalizePixel(img[2*h*w+y*w+x]),
					A: 255,
				})
			}
		}
	}
	return grid, nil
}

// denormalizePixel maps [-1,1] back to [0,255], clamping out-of-range
// values instead of wrapping.
func denormalizePixel(v float32) uint8 {
	p := (v + 1) * 127.5
	if p < 0 {
		p = 0
	}
	if p > 255 {
		p = 255
	}
	return uint8(p + 0.5)
}
