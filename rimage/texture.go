package rimage

import (
	"image"
	"math/rand"
)

// RandomDotTexture returns a deterministic random-dot pattern made of blockSize x blockSize
// squares of random intensity. It is dense in corners and free of repetition, which makes it
// suitable as a synthetic stereo scene.
func RandomDotTexture(width, height, blockSize int, seed int64) *image.Gray {
	if blockSize < 1 {
		blockSize = 1
	}
	//nolint:gosec
	rnd := rand.New(rand.NewSource(seed))
	cols := (width + blockSize - 1) / blockSize
	rows := (height + blockSize - 1) / blockSize
	blocks := make([]uint8, cols*rows)
	for i := range blocks {
		blocks[i] = uint8(rnd.Intn(256))
	}
	img := image.NewGray(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		row := (y / blockSize) * cols
		for x := 0; x < width; x++ {
			img.Pix[y*img.Stride+x] = blocks[row+x/blockSize]
		}
	}
	return img
}

// ShiftHorizontal returns a copy of img whose content is moved dx pixels to the right (left when
// negative). Uncovered columns are filled from fill, which may be nil for black.
func ShiftHorizontal(img, fill *image.Gray, dx int) *image.Gray {
	b := img.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			sx := x - dx
			switch {
			case sx >= 0 && sx < b.Dx():
				out.Pix[y*out.Stride+x] = img.GrayAt(b.Min.X+sx, b.Min.Y+y).Y
			case fill != nil:
				out.Pix[y*out.Stride+x] = fill.GrayAt(fill.Bounds().Min.X+x, fill.Bounds().Min.Y+y).Y
			}
		}
	}
	return out
}
