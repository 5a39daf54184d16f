package gige

import (
	"image"
	"image/color"

	"github.com/pkg/errors"

	"go.viam.com/stereo/rimage"
)

// PixelFormat is a GenICam pixel format name.
type PixelFormat string

// Supported pixel formats.
const (
	Mono8    PixelFormat = "Mono8"
	RGB8     PixelFormat = "RGB8"
	BGR8     PixelFormat = "BGR8"
	BayerRG8 PixelFormat = "BayerRG8"
	BayerGB8 PixelFormat = "BayerGB8"
	BayerGR8 PixelFormat = "BayerGR8"
	BayerBG8 PixelFormat = "BayerBG8"
)

// PixelFormatPriority is the order in which pixel formats are requested from a camera.
var PixelFormatPriority = []PixelFormat{RGB8, BayerRG8, BayerGB8, BayerGR8, BayerBG8, Mono8}

// BytesPerPixel returns the packed size of one pixel, or 0 for unknown formats.
func (pf PixelFormat) BytesPerPixel() int {
	switch pf {
	case RGB8, BGR8:
		return 3
	case Mono8, BayerRG8, BayerGB8, BayerGR8, BayerBG8:
		return 1
	default:
		return 0
	}
}

// bayerPattern returns the channel (0 red, 1 green, 2 blue) of each cell of the 2x2 mosaic tile,
// indexed [y%2][x%2].
func (pf PixelFormat) bayerPattern() ([2][2]int, bool) {
	switch pf {
	case BayerRG8:
		return [2][2]int{{0, 1}, {1, 2}}, true
	case BayerGB8:
		return [2][2]int{{1, 2}, {0, 1}}, true
	case BayerGR8:
		return [2][2]int{{1, 0}, {2, 1}}, true
	case BayerBG8:
		return [2][2]int{{2, 1}, {1, 0}}, true
	default:
		return [2][2]int{}, false
	}
}

// OutputFormat selects the image type produced by a Converter.
type OutputFormat int

const (
	// OutputColor produces *image.RGBA frames.
	OutputColor OutputFormat = iota
	// OutputMono produces *image.Gray frames.
	OutputMono
)

// Converter turns grab results into images that own their pixels, so the transport buffer can be
// released right after conversion.
type Converter struct {
	Output OutputFormat
}

// NewConverter returns a converter producing the given output.
func NewConverter(output OutputFormat) *Converter {
	return &Converter{Output: output}
}

// Convert decodes a successful grab result.
func (c *Converter) Convert(res *GrabResult) (image.Image, error) {
	if !res.Succeeded {
		return nil, errors.Errorf("cannot convert failed grab result (error 0x%X)", res.ErrorCode)
	}
	bpp := res.PixelFormat.BytesPerPixel()
	if bpp == 0 {
		return nil, errors.Errorf("unsupported pixel format %q", res.PixelFormat)
	}
	if res.Width <= 0 || res.Height <= 0 {
		return nil, errors.Errorf("invalid frame size %dx%d", res.Width, res.Height)
	}
	if want := res.Width * res.Height * bpp; len(res.Data) < want {
		return nil, errors.Errorf("incomplete frame: got %d bytes, expected %d", len(res.Data), want)
	}

	if res.PixelFormat == Mono8 {
		gray := image.NewGray(image.Rect(0, 0, res.Width, res.Height))
		copy(gray.Pix, res.Data[:res.Width*res.Height])
		if c.Output == OutputMono {
			return gray, nil
		}
		return grayToRGBA(gray), nil
	}

	var rgba *image.RGBA
	if pattern, ok := res.PixelFormat.bayerPattern(); ok {
		rgba = demosaic(res.Data, res.Width, res.Height, pattern)
	} else {
		rgba = image.NewRGBA(image.Rect(0, 0, res.Width, res.Height))
		r, b := 0, 2
		if res.PixelFormat == BGR8 {
			r, b = 2, 0
		}
		for i := 0; i < res.Width*res.Height; i++ {
			px := res.Data[i*3 : i*3+3]
			rgba.Pix[i*4] = px[r]
			rgba.Pix[i*4+1] = px[1]
			rgba.Pix[i*4+2] = px[b]
			rgba.Pix[i*4+3] = 255
		}
	}
	if c.Output == OutputMono {
		return rimage.ToGray(rgba), nil
	}
	return rgba, nil
}

func grayToRGBA(gray *image.Gray) *image.RGBA {
	out := image.NewRGBA(gray.Bounds())
	for i, v := range gray.Pix {
		out.Pix[i*4] = v
		out.Pix[i*4+1] = v
		out.Pix[i*4+2] = v
		out.Pix[i*4+3] = 255
	}
	return out
}

// demosaic reconstructs RGB by averaging, for every channel a pixel lacks, the neighbours in its
// 3x3 neighbourhood that sampled that channel. This is bilinear interpolation on a Bayer mosaic.
func demosaic(raw []byte, width, height int, pattern [2][2]int) *image.RGBA {
	out := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			own := pattern[y%2][x%2]
			var sum [3]int
			var count [3]int
			for dy := -1; dy <= 1; dy++ {
				ny := y + dy
				if ny < 0 || ny >= height {
					continue
				}
				for dx := -1; dx <= 1; dx++ {
					nx := x + dx
					if nx < 0 || nx >= width {
						continue
					}
					ch := pattern[ny%2][nx%2]
					sum[ch] += int(raw[ny*width+nx])
					count[ch]++
				}
			}
			var c color.RGBA
			vals := [3]uint8{}
			for ch := 0; ch < 3; ch++ {
				switch {
				case ch == own:
					vals[ch] = raw[y*width+x]
				case count[ch] > 0:
					vals[ch] = uint8((sum[ch] + count[ch]/2) / count[ch])
				}
			}
			c.R, c.G, c.B, c.A = vals[0], vals[1], vals[2], 255
			out.SetRGBA(x, y, c)
		}
	}
	return out
}

// EncodePixels packs img into the given pixel format. Transports that synthesize or replay frames
// use it to produce raw buffers.
func EncodePixels(img image.Image, format PixelFormat) ([]byte, error) {
	b := img.Bounds()
	width, height := b.Dx(), b.Dy()
	if format == Mono8 {
		gray := rimage.ToGray(img)
		out := make([]byte, width*height)
		copy(out, gray.Pix)
		return out, nil
	}
	pattern, isBayer := format.bayerPattern()
	if !isBayer && format != RGB8 && format != BGR8 {
		return nil, errors.Errorf("unsupported pixel format %q", format)
	}
	out := make([]byte, width*height*format.BytesPerPixel())
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			c := color.RGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.RGBA)
			rgb := [3]uint8{c.R, c.G, c.B}
			i := y*width + x
			switch {
			case isBayer:
				out[i] = rgb[pattern[y%2][x%2]]
			case format == BGR8:
				out[i*3], out[i*3+1], out[i*3+2] = rgb[2], rgb[1], rgb[0]
			default:
				out[i*3], out[i*3+1], out[i*3+2] = rgb[0], rgb[1], rgb[2]
			}
		}
	}
	return out, nil
}
