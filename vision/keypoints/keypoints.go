// Package keypoints contains the implementation of keypoints in an image: FAST corners, their
// orientations, rotated BRIEF descriptors, the ORB scale pyramid, and descriptor matching.
package keypoints

import (
	"image"
	"math"

	"github.com/fogleman/gg"
)

type (
	// KeyPoint is an image.Point that contains coordinates of a kp.
	KeyPoint image.Point
	// KeyPoints is a slice of image.Point that contains several kps.
	KeyPoints []image.Point
)

// OrientedKeypoints contains keypoints and their corresponding orientations.
type OrientedKeypoints struct {
	Points       KeyPoints
	Orientations []float64
}

const orientationPatchRadius = 15

// orientationRowExtent[|dy|] is the half width of the circular orientation patch at row dy.
var orientationRowExtent = []int{15, 15, 15, 15, 14, 14, 14, 13, 13, 12, 11, 10, 9, 8, 6, 3}

// computeKeypointsOrientations returns the intensity centroid angle of the circular patch around
// each keypoint. Pixels outside the image count as 0.
func computeKeypointsOrientations(img *image.Gray, kps KeyPoints) []float64 {
	bounds := img.Bounds()
	orientations := make([]float64, len(kps))
	for i, kp := range kps {
		m01, m10 := 0, 0
		for dy := -orientationPatchRadius; dy <= orientationPatchRadius; dy++ {
			extent := orientationRowExtent[int(math.Abs(float64(dy)))]
			m01Temp := 0
			for dx := -extent; dx <= extent; dx++ {
				q := image.Point{kp.X + dx, kp.Y + dy}
				if !q.In(bounds) {
					continue
				}
				pixVal := int(img.GrayAt(q.X, q.Y).Y)
				m10 += pixVal * dx
				m01Temp += pixVal
			}
			m01 += m01Temp * dy
		}
		orientations[i] = math.Atan2(float64(m01), float64(m10))
	}
	return orientations
}

// GetOrientedKeyPointsFromKeyPoints computes the orientation of keypoints in the corresponding image
// and return kps and corresponding orientations in a OrientedKeypoints struct.
func GetOrientedKeyPointsFromKeyPoints(img *image.Gray, kps KeyPoints) *OrientedKeypoints {
	return &OrientedKeypoints{
		kps,
		computeKeypointsOrientations(img, kps),
	}
}

// RescaleKeypoints multiplies keypoint coordinates by scaleFactor, mapping pyramid level
// coordinates back to the full resolution image.
func RescaleKeypoints(kps KeyPoints, scaleFactor int) KeyPoints {
	rescaled := make(KeyPoints, len(kps))
	for i, kp := range kps {
		rescaled[i] = kp.Mul(scaleFactor)
	}
	return rescaled
}

// PlotKeypoints plots keypoints on image.
func PlotKeypoints(img image.Image, kps []image.Point, outName string) error {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()

	dc := gg.NewContext(w, h)
	dc.DrawImage(img, 0, 0)

	// draw keypoints on image
	dc.SetRGBA(0, 0, 1, 0.5)
	for _, p := range kps {
		dc.DrawCircle(float64(p.X), float64(p.Y), float64(3.0))
		dc.Fill()
	}
	return dc.SavePNG(outName)
}

// PlotMatchedLines draws both images side by side and links each pair of matched keypoints.
func PlotMatchedLines(im1, im2 image.Image, kps1, kps2 KeyPoints, outName string) error {
	w1, h1 := im1.Bounds().Dx(), im1.Bounds().Dy()
	w2, h2 := im2.Bounds().Dx(), im2.Bounds().Dy()
	h := h1
	if h2 > h {
		h = h2
	}

	dc := gg.NewContext(w1+w2, h)
	dc.DrawImage(im1, 0, 0)
	dc.DrawImage(im2, w1, 0)

	dc.SetLineWidth(1.25)
	for i := range kps1 {
		if i >= len(kps2) {
			break
		}
		dc.SetRGBA(0, 1, 0, 0.7)
		dc.DrawLine(float64(kps1[i].X), float64(kps1[i].Y), float64(kps2[i].X+w1), float64(kps2[i].Y))
		dc.Stroke()
		dc.SetRGBA(1, 0, 0, 0.7)
		dc.DrawCircle(float64(kps1[i].X), float64(kps1[i].Y), 2)
		dc.DrawCircle(float64(kps2[i].X+w1), float64(kps2[i].Y), 2)
		dc.Fill()
	}
	return dc.SavePNG(outName)
}
