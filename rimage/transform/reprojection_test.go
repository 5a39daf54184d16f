package transform

import (
	"context"
	"image"
	"image/color"
	"testing"

	"go.viam.com/test"

	"go.viam.com/stereo/rimage"
)

func TestAssumedIntrinsics(t *testing.T) {
	in := NewAssumedIntrinsics(640, 480, 0.8)
	test.That(t, in.Fx, test.ShouldEqual, 512.0)
	test.That(t, in.Fy, test.ShouldEqual, 512.0)
	test.That(t, in.Ppx, test.ShouldEqual, 320.0)
	test.That(t, in.Ppy, test.ShouldEqual, 240.0)
	test.That(t, in.CheckValid(), test.ShouldBeNil)

	x, y, z := in.PixelToPoint(320+512, 240, 2)
	test.That(t, x, test.ShouldAlmostEqual, 2.0)
	test.That(t, y, test.ShouldAlmostEqual, 0.0)
	test.That(t, z, test.ShouldEqual, 2.0)

	var missing *PinholeCameraIntrinsics
	test.That(t, missing.CheckValid(), test.ShouldBeError)
	err := (&PinholeCameraIntrinsics{Width: 10, Height: 10}).CheckValid()
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "focal length")
}

func TestReprojectionMatrix(t *testing.T) {
	rig := NewAssumedStereoRig(640, 480, 0.8, 0.1)
	q, err := rig.ReprojectionMatrix()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, q.At(0, 3), test.ShouldEqual, -320.0)
	test.That(t, q.At(1, 1), test.ShouldEqual, -1.0)
	test.That(t, q.At(1, 3), test.ShouldEqual, 240.0)
	test.That(t, q.At(2, 3), test.ShouldEqual, -512.0)
	test.That(t, q.At(3, 2), test.ShouldAlmostEqual, 10.0)

	_, err = NewAssumedStereoRig(640, 480, 0.8, 0).ReprojectionMatrix()
	test.That(t, err, test.ShouldNotBeNil)
	_, err = NewAssumedStereoRig(0, 480, 0.8, 0.1).ReprojectionMatrix()
	test.That(t, err, test.ShouldNotBeNil)
}

func TestReprojectImageTo3D(t *testing.T) {
	const width, height = 8, 6
	rig := NewAssumedStereoRig(width, height, 0.8, 0.1)
	q, err := rig.ReprojectionMatrix()
	test.That(t, err, test.ShouldBeNil)

	dm := rimage.NewEmptyDisparityMap(width, height)
	dm.Set(4, 3, 2)
	dm.Set(6, 1, 3.2)
	dm.Set(0, 0, 0)

	pf, err := ReprojectImageTo3D(context.Background(), dm, q, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pf.Size(), test.ShouldEqual, 2)

	// Z = -f*B/d, X = (x-cx)*B/d, Y = (cy-y)*B/d.
	f := 0.8 * width
	p, ok := pf.At(4, 3)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, p.X, test.ShouldAlmostEqual, 0.0)
	test.That(t, p.Y, test.ShouldAlmostEqual, 0.0)
	test.That(t, p.Z, test.ShouldAlmostEqual, -f*0.1/2)

	p, ok = pf.At(6, 1)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, p.X, test.ShouldAlmostEqual, 2*0.1/3.2, 1e-6)
	test.That(t, p.Y, test.ShouldAlmostEqual, 2*0.1/3.2, 1e-6)
	test.That(t, p.Z, test.ShouldAlmostEqual, -f*0.1/3.2, 1e-6)

	_, ok = pf.At(0, 0)
	test.That(t, ok, test.ShouldBeFalse)

	colors := image.NewRGBA(image.Rect(0, 0, width, height))
	colors.Set(4, 3, color.RGBA{10, 20, 30, 255})
	colored, err := ReprojectImageTo3D(context.Background(), dm, q, colors)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, colored.MetaData().HasColor, test.ShouldBeTrue)

	_, err = ReprojectImageTo3D(context.Background(), dm, q, image.NewGray(image.Rect(0, 0, 2, 2)))
	test.That(t, err, test.ShouldNotBeNil)
}
