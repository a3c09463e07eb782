package main

import (
	"bufio"
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gorgonia.org/tensor"
)

// ===========================================================================
// SUMMARY WRITER
// ===========================================================================
//
// Every run gets its own directory under the log root:
//
//   <root>/<timestamp>-<short id>/
//     config.json          run configuration snapshot
//     scalars.csv          step,tag,value rows, buffered, explicit Flush
//     images/<tag>_<step>.png   sample and snapshot grids
//
// Writes are synchronous; the training step blocks until the data is
// handed to the OS. Flush is called at every logging interval and Close
// flushes once more before releasing the file.
//
// ===========================================================================

// SummaryWriter persists scalar metrics and image grids for one run.
type SummaryWriter struct {
	dir     string
	file    *os.File
	scalars *bufio.Writer
}

// NewSummaryWriter creates the run directory and opens the scalar log.
func NewSummaryWriter(root string) (*SummaryWriter, error) {
	runID := fmt.Sprintf("%s-%s", time.Now().Format("20060102-150405"), uuid.NewString()[:8])
	dir := filepath.Join(root, runID)
	if err := os.MkdirAll(filepath.Join(dir, "images"), 0o755); err != nil {
		return nil, err
	}

	f, err := os.Create(filepath.Join(dir, "scalars.csv"))
	if err != nil {
		return nil, err
	}
	w := &SummaryWriter{dir: dir, file: f, scalars: bufio.NewWriter(f)}
	fmt.Fprintln(w.scalars, "step,tag,value")
	return w, nil
}

// Dir returns the run directory.
func (w *SummaryWriter) Dir() string {
	return w.dir
}

// AddScalar appends one metric row.
func (w *SummaryWriter) AddScalar(step int, tag string, value float64) {
	fmt.Fprintf(w.scalars, "%d,%s,%g\n", step, tag, value)
}

// AddImageGrid tiles an NCHW batch and writes it as a PNG under images/.
func (w *SummaryWriter) AddImageGrid(step int, tag string, batch *tensor.Dense, cols int) error {
	grid, err := TileGrid(batch, cols)
	if err != nil {
		return err
	}
	path := filepath.Join(w.dir, "images", fmt.Sprintf("%s_%08d.png", tag, step))
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, grid)
}

// Flush pushes buffered scalar rows to disk.
func (w *SummaryWriter) Flush() error {
	return w.scalars.Flush()
}

// Close flushes and releases the scalar log.
func (w *SummaryWriter) Close() error {
	if err := w.scalars.Flush(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}
