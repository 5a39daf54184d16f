package rimage

import (
	"image"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/lmittmann/ppm"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"
	"golang.org/x/image/draw"
)

// ReadImageFromFile decodes the image at the given path. The format is detected from content.
func ReadImageFromFile(path string) (image.Image, error) {
	img, err := imaging.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read image %q", path)
	}
	return img, nil
}

// WriteImageToFile encodes the image to the given path, creating parent directories. The format is
// chosen from the file extension (.png, .jpg, .ppm, ...).
func WriteImageToFile(path string, img image.Image) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	if strings.EqualFold(filepath.Ext(path), ".ppm") {
		return writePPM(path, img)
	}
	if err := imaging.Save(img, path, imaging.JPEGQuality(95)); err != nil {
		return errors.Wrapf(err, "cannot write image %q", path)
	}
	return nil
}

// writePPM writes img as a binary PPM. The encoder only takes RGBA pixels, so other color models
// (Mono8 frames among them) are converted first. A failed write leaves no file behind.
func writePPM(path string, img image.Image) (err error) {
	rgba, ok := img.(*image.RGBA)
	if !ok {
		b := img.Bounds()
		rgba = image.NewRGBA(b)
		draw.Draw(rgba, b, img, b.Min, draw.Src)
	}
	//nolint:gosec
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
		if err != nil {
			goutils.UncheckedError(os.Remove(path))
			err = errors.Wrapf(err, "cannot write image %q", path)
		}
	}()
	return ppm.Encode(f, rgba)
}
