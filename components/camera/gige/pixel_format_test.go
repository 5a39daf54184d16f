package gige_test

import (
	"image"
	"image/color"
	"testing"

	"go.viam.com/test"

	"go.viam.com/stereo/components/camera/gige"
)

func uniformRGBA(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func TestConvertRoundTrip(t *testing.T) {
	c := color.RGBA{R: 200, G: 100, B: 30, A: 255}
	src := uniformRGBA(6, 4, c)
	src.SetRGBA(1, 1, color.RGBA{R: 10, G: 20, B: 30, A: 255})

	for _, format := range []gige.PixelFormat{gige.RGB8, gige.BGR8} {
		t.Run(string(format), func(t *testing.T) {
			data, err := gige.EncodePixels(src, format)
			test.That(t, err, test.ShouldBeNil)
			test.That(t, data, test.ShouldHaveLength, 6*4*3)
			res := gige.NewGrabResult(data, 6, 4, format, 1, nil)
			img, err := gige.NewConverter(gige.OutputColor).Convert(res)
			test.That(t, err, test.ShouldBeNil)
			test.That(t, img.(*image.RGBA).Pix, test.ShouldResemble, src.Pix)
		})
	}

	// A uniform color survives demosaicing exactly whatever the tile order.
	for _, format := range []gige.PixelFormat{gige.BayerRG8, gige.BayerGB8, gige.BayerGR8, gige.BayerBG8} {
		t.Run(string(format), func(t *testing.T) {
			data, err := gige.EncodePixels(uniformRGBA(8, 6, c), format)
			test.That(t, err, test.ShouldBeNil)
			test.That(t, data, test.ShouldHaveLength, 8*6)
			img, err := gige.NewConverter(gige.OutputColor).Convert(gige.NewGrabResult(data, 8, 6, format, 1, nil))
			test.That(t, err, test.ShouldBeNil)
			for _, p := range []image.Point{{0, 0}, {3, 2}, {7, 5}} {
				test.That(t, img.(*image.RGBA).RGBAAt(p.X, p.Y), test.ShouldResemble, c)
			}
		})
	}
}

func TestConvertMono(t *testing.T) {
	gray := image.NewGray(image.Rect(0, 0, 4, 2))
	copy(gray.Pix, []uint8{0, 50, 100, 150, 200, 250, 7, 9})
	data, err := gige.EncodePixels(gray, gige.Mono8)
	test.That(t, err, test.ShouldBeNil)

	res := gige.NewGrabResult(data, 4, 2, gige.Mono8, 1, nil)
	img, err := gige.NewConverter(gige.OutputMono).Convert(res)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, img.(*image.Gray).Pix, test.ShouldResemble, gray.Pix)

	img, err = gige.NewConverter(gige.OutputColor).Convert(res)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, img.(*image.RGBA).RGBAAt(1, 0), test.ShouldResemble, color.RGBA{R: 50, G: 50, B: 50, A: 255})

	// the converted image does not alias the transport buffer
	data[0] = 255
	test.That(t, img.(*image.RGBA).RGBAAt(0, 0).R, test.ShouldEqual, uint8(0))
}

func TestConvertErrors(t *testing.T) {
	conv := gige.NewConverter(gige.OutputColor)

	_, err := conv.Convert(gige.NewFailedGrabResult(0xE1000014, "incomplete", nil))
	test.That(t, err, test.ShouldNotBeNil)

	_, err = conv.Convert(gige.NewGrabResult(make([]byte, 16), 4, 4, "Mono12", 1, nil))
	test.That(t, err.Error(), test.ShouldContainSubstring, "unsupported pixel format")

	_, err = conv.Convert(gige.NewGrabResult(make([]byte, 10), 4, 4, gige.RGB8, 1, nil))
	test.That(t, err.Error(), test.ShouldContainSubstring, "incomplete frame")

	_, err = conv.Convert(gige.NewGrabResult(nil, 0, 4, gige.Mono8, 1, nil))
	test.That(t, err.Error(), test.ShouldContainSubstring, "invalid frame size")

	_, err = gige.EncodePixels(image.NewGray(image.Rect(0, 0, 2, 2)), "YUV422Packed")
	test.That(t, err, test.ShouldNotBeNil)
}

func TestGrabResultRelease(t *testing.T) {
	released := 0
	res := gige.NewGrabResult([]byte{1}, 1, 1, gige.Mono8, 1, func() { released++ })
	res.Release()
	res.Release()
	test.That(t, released, test.ShouldEqual, 1)
	test.That(t, res.Data, test.ShouldBeNil)

	gige.NewFailedGrabResult(1, "x", nil).Release()
}

func TestPixelFormatPriority(t *testing.T) {
	test.That(t, gige.PixelFormatPriority[0], test.ShouldEqual, gige.RGB8)
	test.That(t, gige.PixelFormatPriority[len(gige.PixelFormatPriority)-1], test.ShouldEqual, gige.Mono8)
	test.That(t, gige.BayerGR8.BytesPerPixel(), test.ShouldEqual, 1)
	test.That(t, gige.BGR8.BytesPerPixel(), test.ShouldEqual, 3)
	test.That(t, gige.PixelFormat("Mono12").BytesPerPixel(), test.ShouldEqual, 0)
}
