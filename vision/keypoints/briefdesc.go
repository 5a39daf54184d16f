package keypoints

import (
	"image"
	"math"
	"math/bits"
	"math/rand"

	"github.com/disintegration/imaging"

	"go.viam.com/stereo/rimage"
)

// SamplingType stores 0 if a sampling of image points for BRIEF is uniform, 1 if gaussian.
type SamplingType int

const (
	uniform SamplingType = iota // 0
	normal                      // 1
)

// briefBlurSigma smooths the patch before the binary tests.
const briefBlurSigma = 2.0

// Descriptor is a binary descriptor packed into 64 bit words.
type Descriptor []uint64

// HammingDistance returns the number of differing bits between two descriptors of equal length.
func HammingDistance(d1, d2 Descriptor) int {
	dist := 0
	for i := range d1 {
		dist += bits.OnesCount64(d1[i] ^ d2[i])
	}
	return dist
}

// SamplePairs are N pairs of points used to create the BRIEF Descriptors of a patch.
type SamplePairs struct {
	P0 []image.Point
	P1 []image.Point
	N  int
}

// GenerateSamplePairs generates n samples for a patch size with the chosen Sampling Type. The same
// seed always yields the same pairs, which is required for descriptors of two images to be
// comparable.
func GenerateSamplePairs(dist SamplingType, n, patchSize int, seed int64) *SamplePairs {
	//nolint:gosec
	rnd := rand.New(rand.NewSource(seed))
	half := patchSize / 2
	sample := func() int {
		for {
			var v int
			if dist == normal {
				v = int(math.Round(rnd.NormFloat64() * float64(patchSize) / 5))
			} else {
				v = rnd.Intn(2*half+1) - half
			}
			if v >= -half && v <= half {
				return v
			}
		}
	}
	p0 := make([]image.Point, 0, n)
	p1 := make([]image.Point, 0, n)
	for i := 0; i < n; i++ {
		a := image.Point{X: sample(), Y: sample()}
		b := image.Point{X: sample(), Y: sample()}
		for a == b {
			b = image.Point{X: sample(), Y: sample()}
		}
		p0 = append(p0, a)
		p1 = append(p1, b)
	}
	return &SamplePairs{P0: p0, P1: p1, N: n}
}

// BRIEFConfig stores the parameters.
type BRIEFConfig struct {
	N              int          `json:"n"` // number of samples taken
	Sampling       SamplingType `json:"sampling"`
	UseOrientation bool         `json:"use_orientation"`
	PatchSize      int          `json:"patch_size"`
}

// descriptorMargin is the distance from the image border a keypoint needs for every rotated
// sample of its patch to fall inside the image.
func (cfg *BRIEFConfig) descriptorMargin() int {
	return int(math.Ceil(float64(cfg.PatchSize/2)*math.Sqrt2)) + 1
}

// FilterBorderKeypoints drops keypoints too close to the border to be described.
func FilterBorderKeypoints(img *image.Gray, kps *FASTKeypoints, cfg *BRIEFConfig) *FASTKeypoints {
	margin := cfg.descriptorMargin()
	inner := img.Bounds().Inset(margin)
	out := &FASTKeypoints{Points: make(KeyPoints, 0, len(kps.Points))}
	if kps.Orientations != nil {
		out.Orientations = make([]float64, 0, len(kps.Points))
	}
	for i, kp := range kps.Points {
		if !kp.In(inner) {
			continue
		}
		out.Points = append(out.Points, kp)
		if kps.Orientations != nil {
			out.Orientations = append(out.Orientations, kps.Orientations[i])
		}
	}
	return out
}

// ComputeBRIEFDescriptors computes BRIEF descriptors on image img at keypoints kps. Keypoints must
// already be filtered with FilterBorderKeypoints.
func ComputeBRIEFDescriptors(img *image.Gray, sp *SamplePairs, kps *FASTKeypoints, cfg *BRIEFConfig) []Descriptor {
	blurred := rimage.ToGray(imaging.Blur(img, briefBlurSigma))
	origin := img.Bounds().Min

	descs := make([]Descriptor, len(kps.Points))
	for k, kp := range kps.Points {
		// Divide by 64 since we store a descriptor as a uint64 array.
		descriptor := make(Descriptor, (sp.N+63)/64)
		cosTheta := 1.0
		sinTheta := 0.0
		// if use orientation and keypoints are oriented, compute rotation matrix
		if cfg.UseOrientation && kps.Orientations != nil {
			angle := kps.Orientations[k]
			cosTheta = math.Cos(angle)
			sinTheta = math.Sin(angle)
		}
		cx, cy := kp.X-origin.X, kp.Y-origin.Y
		for i := 0; i < sp.N; i++ {
			x0, y0 := float64(sp.P0[i].X), float64(sp.P0[i].Y)
			x1, y1 := float64(sp.P1[i].X), float64(sp.P1[i].Y)
			// compute rotated sampled coordinates (Identity matrix if no orientation)
			outx0 := int(math.Round(cosTheta*x0 - sinTheta*y0))
			outy0 := int(math.Round(sinTheta*x0 + cosTheta*y0))
			outx1 := int(math.Round(cosTheta*x1 - sinTheta*y1))
			outy1 := int(math.Round(sinTheta*x1 + cosTheta*y1))
			p0Val := blurred.GrayAt(cx+outx0, cy+outy0).Y
			p1Val := blurred.GrayAt(cx+outx1, cy+outy1).Y
			if p0Val > p1Val {
				descriptor[i/64] |= 1 << (i % 64)
			}
		}
		descs[k] = descriptor
	}
	return descs
}
