// Package rimage defines the image primitives used by the stereo pipeline: grayscale
// preprocessing, geometric warps, disparity maps and their visualizations.
package rimage

import (
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
)

// gaussianSigma5x5 is the sigma implied by a 5x5 Gaussian kernel when no sigma is given:
// 0.3*((ksize-1)*0.5-1)+0.8.
const gaussianSigma5x5 = 1.1

// SameImgSize compares two images to see if they're the same size.
func SameImgSize(g1, g2 image.Image) bool {
	return g1.Bounds().Dx() == g2.Bounds().Dx() && g1.Bounds().Dy() == g2.Bounds().Dy()
}

// ToGray converts any image to an 8-bit single channel image anchored at the origin. Color images
// use the ITU-R BT.601 luma weights.
func ToGray(img image.Image) *image.Gray {
	b := img.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	switch src := img.(type) {
	case *image.Gray:
		for y := 0; y < b.Dy(); y++ {
			copy(out.Pix[y*out.Stride:y*out.Stride+b.Dx()], src.Pix[src.PixOffset(b.Min.X, b.Min.Y+y):])
		}
	case *image.RGBA:
		for y := 0; y < b.Dy(); y++ {
			i := src.PixOffset(b.Min.X, b.Min.Y+y)
			for x := 0; x < b.Dx(); x++ {
				out.Pix[y*out.Stride+x] = luma(src.Pix[i], src.Pix[i+1], src.Pix[i+2])
				i += 4
			}
		}
	case *image.NRGBA:
		for y := 0; y < b.Dy(); y++ {
			i := src.PixOffset(b.Min.X, b.Min.Y+y)
			for x := 0; x < b.Dx(); x++ {
				out.Pix[y*out.Stride+x] = luma(src.Pix[i], src.Pix[i+1], src.Pix[i+2])
				i += 4
			}
		}
	default:
		draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	}
	return out
}

func luma(r, g, b uint8) uint8 {
	return uint8((19595*uint32(r) + 38470*uint32(g) + 7471*uint32(b) + 1<<15) >> 16)
}

// Preprocess prepares a frame for stereo matching: grayscale, 5x5 Gaussian blur, then a min-max
// contrast stretch to the full 8-bit range.
func Preprocess(img image.Image) *image.Gray {
	blurred := imaging.Blur(ToGray(img), gaussianSigma5x5)
	return NormalizeMinMax(ToGray(blurred))
}

// NormalizeMinMax linearly stretches the intensities of the image so that its minimum becomes 0
// and its maximum 255. A constant image is returned unchanged.
func NormalizeMinMax(img *image.Gray) *image.Gray {
	out := image.NewGray(img.Bounds())
	copy(out.Pix, img.Pix)
	if len(img.Pix) == 0 {
		return out
	}
	lo, hi := img.Pix[0], img.Pix[0]
	for _, v := range img.Pix {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	if lo == hi {
		return out
	}
	span := float64(hi - lo)
	var lut [256]uint8
	for v := int(lo); v <= int(hi); v++ {
		lut[v] = uint8(float64(v-int(lo))*255/span + 0.5)
	}
	for i, v := range img.Pix {
		out.Pix[i] = lut[v]
	}
	return out
}

// ResizeGray scales a grayscale image with bilinear interpolation.
func ResizeGray(img *image.Gray, width, height int) *image.Gray {
	return ToGray(imaging.Resize(img, width, height, imaging.Linear))
}

// TranslateVertical shifts the image by `dy` pixels along y (positive moves content down) with
// bilinear sampling. Uncovered rows are black. Grayscale inputs stay grayscale.
func TranslateVertical(img image.Image, dy float64) image.Image {
	b := img.Bounds()
	rect := image.Rect(0, 0, b.Dx(), b.Dy())
	var dst draw.Image
	if _, ok := img.(*image.Gray); ok {
		dst = image.NewGray(rect)
	} else {
		dst = image.NewRGBA(rect)
	}
	s2d := f64.Aff3{
		1, 0, -float64(b.Min.X),
		0, 1, dy - float64(b.Min.Y),
	}
	draw.BiLinear.Transform(dst, s2d, img, b, draw.Src, nil)
	return dst
}

// SideBySide places two images next to each other, left first.
func SideBySide(left, right image.Image) *image.RGBA {
	lb, rb := left.Bounds(), right.Bounds()
	height := lb.Dy()
	if rb.Dy() > height {
		height = rb.Dy()
	}
	out := image.NewRGBA(image.Rect(0, 0, lb.Dx()+rb.Dx(), height))
	draw.Draw(out, out.Bounds(), image.NewUniform(color.Black), image.Point{}, draw.Src)
	draw.Draw(out, image.Rect(0, 0, lb.Dx(), lb.Dy()), left, lb.Min, draw.Src)
	draw.Draw(out, image.Rect(lb.Dx(), 0, lb.Dx()+rb.Dx(), rb.Dy()), right, rb.Min, draw.Src)
	return out
}
