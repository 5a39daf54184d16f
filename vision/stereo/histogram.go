package stereo

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"go.viam.com/stereo/rimage"
)

// WriteDisparityHistogram plots the distribution of valid disparities in dm to path. The image
// format follows the file extension (png, svg, pdf, ...).
func WriteDisparityHistogram(dm *rimage.DisparityMap, bins int, path string) error {
	values := make(plotter.Values, 0, dm.ValidCount())
	for y := 0; y < dm.Height(); y++ {
		for x := 0; x < dm.Width(); x++ {
			if d := dm.GetDisparity(x, y); rimage.IsValidDisparity(d) {
				values = append(values, float64(d))
			}
		}
	}
	if len(values) == 0 {
		return errors.New("disparity map has no valid pixels")
	}
	if bins < 1 {
		bins = 64
	}

	p := plot.New()
	p.Title.Text = "Disparity distribution"
	p.X.Label.Text = "Disparity (px)"
	p.Y.Label.Text = "Pixels"

	hist, err := plotter.NewHist(values, bins)
	if err != nil {
		return errors.Wrap(err, "building histogram")
	}
	p.Add(hist)

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return errors.Wrapf(err, "creating directory for %s", path)
	}
	if err := p.Save(8*vg.Inch, 4*vg.Inch, path); err != nil {
		return errors.Wrapf(err, "saving histogram to %s", path)
	}
	return nil
}
