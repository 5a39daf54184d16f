package imagefile

import (
	"context"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/stereo/components/camera/gige"
	"go.viam.com/stereo/logging"
	"go.viam.com/stereo/rimage"
)

func writeSolid(t *testing.T, path string, v uint8) {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 8, 6))
	for i := range img.Pix {
		img.Pix[i] = v
	}
	test.That(t, rimage.WriteImageToFile(path, img), test.ShouldBeNil)
}

func TestReplayDirectory(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeSolid(t, filepath.Join(dir, "left", "b.png"), 20)
	writeSolid(t, filepath.Join(dir, "left", "a.png"), 10)
	test.That(t, os.WriteFile(filepath.Join(dir, "left", "notes.txt"), []byte("x"), 0o600), test.ShouldBeNil)
	writeSolid(t, filepath.Join(dir, "right.png"), 30)

	tr, err := NewTransport(Source{Name: "left", Path: filepath.Join(dir, "left")}, Source{Name: "right", Path: filepath.Join(dir, "right.png")})
	test.That(t, err, test.ShouldBeNil)

	cfg := gige.DefaultEngineConfig("left", 0)
	e := gige.NewEngine(tr, cfg, logging.NewTestLogger(t))
	test.That(t, e.Initialize(ctx), test.ShouldBeNil)
	defer e.Close(ctx)

	// no parameters exist, so nothing is configured and nothing fails
	test.That(t, e.Report().NotConfigured(), test.ShouldHaveLength, len(cfg.Settings))

	for _, want := range []uint8{10, 20, 10} {
		frame, err := e.CaptureFrame(ctx, time.Second, 0)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, frame.Image.At(3, 3), test.ShouldResemble, color.RGBA{R: want, G: want, B: want, A: 255})
	}
}

func TestNewTransportErrors(t *testing.T) {
	_, err := NewTransport(Source{Name: "left", Path: filepath.Join(t.TempDir(), "missing.png")})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, `camera "left"`)

	_, err = NewTransport(Source{Name: "empty", Path: t.TempDir()})
	test.That(t, err.Error(), test.ShouldContainSubstring, "no images")
}

func TestDeviceHasNoParameters(t *testing.T) {
	tr, err := NewTransport()
	test.That(t, err, test.ShouldBeNil)
	infos, err := tr.Enumerate(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, infos, test.ShouldBeEmpty)

	d := &Device{}
	test.That(t, d.Supports("ExposureTime"), test.ShouldBeFalse)
	test.That(t, errors.Is(d.SetParameter("ExposureTime", "1"), gige.ErrParameterNotFound), test.ShouldBeTrue)
	_, err = d.GrabOne(context.Background(), time.Second)
	test.That(t, errors.Is(err, gige.ErrNotOpen), test.ShouldBeTrue)
}
