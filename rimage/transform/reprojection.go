package transform

import (
	"context"
	"image"
	"image/color"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/stereo/pointcloud"
	"go.viam.com/stereo/rimage"
	"go.viam.com/stereo/utils"
)

// StereoRig describes the assumed geometry of an uncalibrated horizontal stereo pair.
type StereoRig struct {
	Intrinsics *PinholeCameraIntrinsics
	// Baseline is the distance between the optical centres in metres.
	Baseline float64
}

// NewAssumedStereoRig builds the rig used when no calibration is available.
func NewAssumedStereoRig(width, height int, focalFactor, baseline float64) *StereoRig {
	return &StereoRig{Intrinsics: NewAssumedIntrinsics(width, height, focalFactor), Baseline: baseline}
}

// ReprojectionMatrix returns the 4x4 matrix Q mapping homogeneous (x, y, disparity, 1) to
// homogeneous 3-D coordinates:
//
//	[1  0  0    -cx]
//	[0 -1  0     cy]
//	[0  0  0     -f]
//	[0  0  1/B    0]
//
// The y axis is flipped so that up is positive, and the scene lies at negative z.
func (rig *StereoRig) ReprojectionMatrix() (*mat.Dense, error) {
	if err := rig.Intrinsics.CheckValid(); err != nil {
		return nil, err
	}
	if rig.Baseline <= 0 {
		return nil, errors.Errorf("invalid baseline %v", rig.Baseline)
	}
	in := rig.Intrinsics
	return mat.NewDense(4, 4, []float64{
		1, 0, 0, -in.Ppx,
		0, -1, 0, in.Ppy,
		0, 0, 0, -in.Fx,
		0, 0, 1 / rig.Baseline, 0,
	}), nil
}

// ReprojectImageTo3D maps every valid disparity through q. Pixels with invalid disparity have no
// point. When colors is not nil its pixel colors, matched by offset from its bounds origin, are
// attached to the points.
func ReprojectImageTo3D(ctx context.Context, dm *rimage.DisparityMap, q mat.Matrix, colors image.Image) (*pointcloud.PointField, error) {
	if r, c := q.Dims(); r != 4 || c != 4 {
		return nil, errors.Errorf("reprojection matrix must be 4x4, got %dx%d", r, c)
	}
	width, height := dm.Width(), dm.Height()
	var pf *pointcloud.PointField
	var origin image.Point
	if colors != nil {
		if colors.Bounds().Size() != dm.Bounds().Size() {
			return nil, errors.Errorf("color image is %v but disparity is %dx%d", colors.Bounds().Size(), width, height)
		}
		origin = colors.Bounds().Min
		pf = pointcloud.NewColoredPointField(width, height)
	} else {
		pf = pointcloud.NewPointField(width, height)
	}
	err := utils.ParallelForEachRowBand(ctx, height, func(_, from, to int) {
		in := mat.NewVecDense(4, nil)
		out := mat.NewVecDense(4, nil)
		for y := from; y < to; y++ {
			for x := 0; x < width; x++ {
				d := dm.GetDisparity(x, y)
				if !rimage.IsValidDisparity(d) {
					continue
				}
				in.SetVec(0, float64(x))
				in.SetVec(1, float64(y))
				in.SetVec(2, float64(d))
				in.SetVec(3, 1)
				out.MulVec(q, in)
				w := out.AtVec(3)
				if w == 0 {
					continue
				}
				pf.Set(x, y, r3.Vector{X: out.AtVec(0) / w, Y: out.AtVec(1) / w, Z: out.AtVec(2) / w})
				if colors != nil {
					pf.SetColor(x, y, color.NRGBAModel.Convert(colors.At(origin.X+x, origin.Y+y)).(color.NRGBA))
				}
			}
		}
	})
	if err != nil {
		return nil, err
	}
	return pf, nil
}
