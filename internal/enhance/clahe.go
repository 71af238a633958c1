package enhance

import (
	"image"
	"math"
)

const histBins = 256

// clahe performs contrast limited adaptive histogram equalization over a
// grid x grid tiling, blending neighbouring tile mappings bilinearly.
func clahe(src *image.Gray, clipLimit float64, grid int) *image.Gray {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	dst := image.NewGray(image.Rect(0, 0, w, h))
	if w == 0 || h == 0 {
		return dst
	}
	if grid < 1 {
		grid = 1
	}

	tileW := (w + grid - 1) / grid
	tileH := (h + grid - 1) / grid

	luts := make([][histBins]uint8, grid*grid)
	for ty := range grid {
		for tx := range grid {
			luts[ty*grid+tx] = tileLUT(src, tx*tileW, ty*tileH, tileW, tileH, clipLimit)
		}
	}

	invTW := 1 / float64(tileW)
	invTH := 1 / float64(tileH)
	for y := range h {
		fy := (float64(y)+0.5)*invTH - 0.5
		ty1 := int(math.Floor(fy))
		ty2 := ty1 + 1
		ya := fy - float64(ty1)
		ty1 = max(ty1, 0)
		ty2 = min(ty2, grid-1)

		srcRow := src.Pix[y*src.Stride:]
		dstRow := dst.Pix[y*dst.Stride:]
		for x := range w {
			fx := (float64(x)+0.5)*invTW - 0.5
			tx1 := int(math.Floor(fx))
			tx2 := tx1 + 1
			xa := fx - float64(tx1)
			tx1 = max(tx1, 0)
			tx2 = min(tx2, grid-1)

			v := srcRow[x]
			top := float64(luts[ty1*grid+tx1][v])*(1-xa) + float64(luts[ty1*grid+tx2][v])*xa
			bottom := float64(luts[ty2*grid+tx1][v])*(1-xa) + float64(luts[ty2*grid+tx2][v])*xa
			dstRow[x] = clampByte(math.Round(top*(1-ya) + bottom*ya))
		}
	}
	return dst
}

// tileLUT builds the clipped equalization mapping for one tile. Tiles that
// fall entirely outside a small image map to identity.
func tileLUT(src *image.Gray, x0, y0, tw, th int, clipLimit float64) [histBins]uint8 {
	var lut [histBins]uint8
	w, h := src.Rect.Dx(), src.Rect.Dy()
	x1, y1 := min(x0+tw, w), min(y0+th, h)

	var hist [histBins]int
	area := 0
	for y := y0; y < y1; y++ {
		row := src.Pix[y*src.Stride:]
		for x := x0; x < x1; x++ {
			hist[row[x]]++
			area++
		}
	}
	if area == 0 {
		for i := range lut {
			lut[i] = uint8(i)
		}
		return lut
	}

	if clipLimit > 0 {
		limit := max(int(clipLimit*float64(area)/histBins), 1)
		excess := 0
		for i := range hist {
			if hist[i] > limit {
				excess += hist[i] - limit
				hist[i] = limit
			}
		}
		batch := excess / histBins
		residual := excess - batch*histBins
		for i := range hist {
			hist[i] += batch
		}
		if residual > 0 {
			step := max(histBins/residual, 1)
			for i := 0; i < histBins && residual > 0; i += step {
				hist[i]++
				residual--
			}
		}
	}

	scale := float64(histBins-1) / float64(area)
	sum := 0
	for i := range hist {
		sum += hist[i]
		lut[i] = clampByte(math.Round(float64(sum) * scale))
	}
	return lut
}

func clampByte(v float64) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	default:
		return uint8(v)
	}
}
