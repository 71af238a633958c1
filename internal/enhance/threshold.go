package enhance

import (
	"image"
	"math"
)

// otsuThreshold binarizes with the global cut that maximizes between-class
// variance. Pixels above the cut become 255.
func otsuThreshold(src *image.Gray) *image.Gray {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	dst := image.NewGray(image.Rect(0, 0, w, h))

	var hist [histBins]int
	for y := range h {
		for _, v := range src.Pix[y*src.Stride : y*src.Stride+w] {
			hist[v]++
		}
	}
	cut := otsuLevel(hist, w*h)

	for y := range h {
		srcRow := src.Pix[y*src.Stride:]
		dstRow := dst.Pix[y*dst.Stride:]
		for x := range w {
			if srcRow[x] > cut {
				dstRow[x] = 255
			}
		}
	}
	return dst
}

func otsuLevel(hist [histBins]int, total int) uint8 {
	if total == 0 {
		return 0
	}
	var sum float64
	for i, c := range hist {
		sum += float64(i * c)
	}

	var sumB, wB float64
	best, level := -1.0, 0
	for i, c := range hist {
		wB += float64(c)
		if wB == 0 {
			continue
		}
		wF := float64(total) - wB
		if wF == 0 {
			break
		}
		sumB += float64(i * c)
		mB := sumB / wB
		mF := (sum - sumB) / wF
		between := wB * wF * (mB - mF) * (mB - mF)
		if between > best {
			best = between
			level = i
		}
	}
	return uint8(level)
}

// adaptiveThreshold compares every pixel against a Gaussian-weighted mean of
// its block x block neighbourhood minus c.
func adaptiveThreshold(src *image.Gray, block, c int) *image.Gray {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	dst := image.NewGray(image.Rect(0, 0, w, h))
	if w == 0 || h == 0 {
		return dst
	}
	mean := gaussianBlur(src, block)

	for y := range h {
		srcRow := src.Pix[y*src.Stride:]
		dstRow := dst.Pix[y*dst.Stride:]
		for x := range w {
			if int(srcRow[x]) > int(mean[y*w+x])-c {
				dstRow[x] = 255
			}
		}
	}
	return dst
}

// gaussianKernel returns a normalized kernel of odd size n. The sigma is
// derived from the size the same way common imaging libraries do.
func gaussianKernel(n int) []float64 {
	if n%2 == 0 {
		n++
	}
	sigma := 0.3*(float64(n-1)*0.5-1) + 0.8
	k := make([]float64, n)
	r := n / 2
	var sum float64
	for i := range k {
		d := float64(i - r)
		k[i] = math.Exp(-(d * d) / (2 * sigma * sigma))
		sum += k[i]
	}
	for i := range k {
		k[i] /= sum
	}
	return k
}

// gaussianBlur is a separable blur with replicated borders, rounded back to
// 8-bit values.
func gaussianBlur(src *image.Gray, n int) []uint8 {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	k := gaussianKernel(n)
	r := len(k) / 2

	tmp := make([]float64, w*h)
	for y := range h {
		row := src.Pix[y*src.Stride:]
		for x := range w {
			var acc float64
			for i, kv := range k {
				sx := min(max(x+i-r, 0), w-1)
				acc += kv * float64(row[sx])
			}
			tmp[y*w+x] = acc
		}
	}

	out := make([]uint8, w*h)
	for y := range h {
		for x := range w {
			var acc float64
			for i, kv := range k {
				sy := min(max(y+i-r, 0), h-1)
				acc += kv * tmp[sy*w+x]
			}
			out[y*w+x] = clampByte(math.Round(acc))
		}
	}
	return out
}
