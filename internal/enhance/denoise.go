package enhance

import (
	"context"
	"image"
	"math"
)

const minWeight = 0.001

// denoise applies a non-local means filter: every output pixel is the
// weighted mean of the pixels in its search window, weighted by how closely
// their template neighbourhoods match its own. Template distances for one
// displacement are read from an integral image of squared differences, so the
// cost is O(search² * pixels) regardless of template size.
func denoise(ctx context.Context, src *image.Gray, h float64, tmpl, search int) (*image.Gray, error) {
	w, ht := src.Rect.Dx(), src.Rect.Dy()
	dst := image.NewGray(image.Rect(0, 0, w, ht))
	if w == 0 || ht == 0 || h <= 0 {
		copy(dst.Pix, src.Pix)
		return dst, nil
	}

	tr, sr := tmpl/2, search/2
	size := 2*tr + 1
	area := size * size
	pad := sr + tr

	padded, pw := padReplicate(src, pad)

	weights := make([]float64, 255*255+1)
	for d := range weights {
		wt := math.Exp(-float64(d) / (h * h))
		if wt < minWeight {
			break
		}
		weights[d] = wt
	}

	dw, dh := w+2*tr, ht+2*tr
	stride := dw + 1
	integral := make([]int64, stride*(dh+1))
	sumW := make([]float64, w*ht)
	sumV := make([]float64, w*ht)

	for dy := -sr; dy <= sr; dy++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for dx := -sr; dx <= sr; dx++ {
			for j := range dh {
				rowA := padded[(j+sr)*pw+sr:]
				rowB := padded[(j+sr+dy)*pw+sr+dx:]
				var run int64
				cur := integral[(j+1)*stride:]
				prev := integral[j*stride:]
				for i := range dw {
					d := int64(rowA[i]) - int64(rowB[i])
					run += d * d
					cur[i+1] = prev[i+1] + run
				}
			}

			for y := range ht {
				top := integral[y*stride:]
				bottom := integral[(y+size)*stride:]
				neighbour := padded[(y+pad+dy)*pw+pad+dx:]
				acc := y * w
				for x := range w {
					ssd := bottom[x+size] - top[x+size] - bottom[x] + top[x]
					wt := weights[ssd/int64(area)]
					if wt == 0 {
						continue
					}
					sumW[acc+x] += wt
					sumV[acc+x] += wt * float64(neighbour[x])
				}
			}
		}
	}

	for y := range ht {
		row := dst.Pix[y*dst.Stride:]
		for x := range w {
			i := y*w + x
			row[x] = clampByte(math.Round(sumV[i] / sumW[i]))
		}
	}
	return dst, nil
}

// padReplicate returns the pixels of src surrounded by a border of width pad
// that repeats the edge pixels, along with the padded row width.
func padReplicate(src *image.Gray, pad int) ([]uint8, int) {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	pw, ph := w+2*pad, h+2*pad
	out := make([]uint8, pw*ph)
	for py := range ph {
		sy := min(max(py-pad, 0), h-1)
		srcRow := src.Pix[sy*src.Stride:]
		dstRow := out[py*pw:]
		for px := range pw {
			sx := min(max(px-pad, 0), w-1)
			dstRow[px] = srcRow[sx]
		}
	}
	return out, pw
}
