package features

import (
	"context"

	"github.com/pkg/errors"

	"github.com/Brownie44l1/transfer-classifier/internal/tensor"
)

const defaultGridCells = 8

// Grid averages every color channel over a Cells×Cells grid. It needs no
// model artifact, which makes it usable for smoke runs and tests.
type Grid struct {
	Cells int
}

func NewGrid(cells int) *Grid {
	if cells <= 0 {
		cells = defaultGridCells
	}
	return &Grid{Cells: cells}
}

func (g *Grid) Dim() int { return g.Cells * g.Cells * 3 }

func (g *Grid) Predict(ctx context.Context, images tensor.Tensor) (tensor.Tensor, error) {
	if err := ctx.Err(); err != nil {
		return tensor.Tensor{}, err
	}
	if images.Rank() != 4 || images.Dim(3) != 3 {
		return tensor.Tensor{}, errors.Errorf("expected [N H W 3] images, got %v", images.Shape())
	}
	n, h, w := images.Dim(0), images.Dim(1), images.Dim(2)
	out := make([]float32, 0, n*g.Dim())
	for i := 0; i < n; i++ {
		out = g.appendCells(out, images.Row(i), h, w)
	}
	return tensor.New([]int{n, g.Dim()}, out)
}

func (g *Grid) appendCells(out, img []float32, h, w int) []float32 {
	for gy := 0; gy < g.Cells; gy++ {
		y0, y1 := span(gy, g.Cells, h)
		for gx := 0; gx < g.Cells; gx++ {
			x0, x1 := span(gx, g.Cells, w)
			var sum [3]float32
			for y := y0; y < y1; y++ {
				for x := x0; x < x1; x++ {
					px := img[(y*w+x)*3:]
					sum[0] += px[0]
					sum[1] += px[1]
					sum[2] += px[2]
				}
			}
			count := float32((y1 - y0) * (x1 - x0))
			out = append(out, sum[0]/count, sum[1]/count, sum[2]/count)
		}
	}
	return out
}

// span returns the pixel range of cell i out of cells along an axis of
// length size. Cells always cover at least one pixel.
func span(i, cells, size int) (int, int) {
	start := i * size / cells
	end := (i + 1) * size / cells
	if start >= size {
		start = size - 1
	}
	if end <= start {
		end = start + 1
	}
	return start, end
}

func (g *Grid) Close() error { return nil }
