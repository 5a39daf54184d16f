package keypoints

import (
	"image"
	"path/filepath"
	"sort"
	"testing"

	"go.viam.com/test"

	"go.viam.com/stereo/rimage"
)

func TestHammingDistance(t *testing.T) {
	test.That(t, HammingDistance(Descriptor{0b1011, 0}, Descriptor{0b0001, 1 << 63}), test.ShouldEqual, 3)
	test.That(t, HammingDistance(Descriptor{42}, Descriptor{42}), test.ShouldEqual, 0)
}

func TestGenerateSamplePairs(t *testing.T) {
	sp1 := GenerateSamplePairs(normal, 256, 31, 1)
	sp2 := GenerateSamplePairs(normal, 256, 31, 1)
	test.That(t, sp1, test.ShouldResemble, sp2)
	test.That(t, sp1.P0, test.ShouldHaveLength, 256)
	for i := 0; i < sp1.N; i++ {
		test.That(t, sp1.P0[i], test.ShouldNotResemble, sp1.P1[i])
		for _, p := range []image.Point{sp1.P0[i], sp1.P1[i]} {
			test.That(t, p.X, test.ShouldBeGreaterThanOrEqualTo, -15)
			test.That(t, p.X, test.ShouldBeLessThanOrEqualTo, 15)
			test.That(t, p.Y, test.ShouldBeGreaterThanOrEqualTo, -15)
			test.That(t, p.Y, test.ShouldBeLessThanOrEqualTo, 15)
		}
	}
	test.That(t, GenerateSamplePairs(uniform, 256, 31, 2), test.ShouldNotResemble, sp1)
}

func TestORBConfigValidate(t *testing.T) {
	cfg := DefaultORBConfig()
	test.That(t, cfg.Validate("features"), test.ShouldBeNil)

	cfg.Layers = 0
	test.That(t, cfg.Validate("features"), test.ShouldNotBeNil)

	cfg = DefaultORBConfig()
	cfg.BRIEFConf = nil
	err := cfg.Validate("features")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "brief")

	_, err = LoadORBConfiguration(filepath.Join(t.TempDir(), "missing.json"))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestImagePyramid(t *testing.T) {
	img := rimage.RandomDotTexture(640, 480, 4, 1)
	pyramid := GetImagePyramid(img, 4, 2, 100)
	test.That(t, pyramid.Scales, test.ShouldResemble, []int{1, 2, 4})
	test.That(t, pyramid.Images[2].Bounds(), test.ShouldResemble, image.Rect(0, 0, 160, 120))
}

func medianInt(vals []int) int {
	sorted := append([]int{}, vals...)
	sort.Ints(sorted)
	return sorted[len(sorted)/2]
}

func TestORBMatchingOnShiftedTexture(t *testing.T) {
	left := rimage.RandomDotTexture(320, 240, 4, 11)
	right := rimage.ShiftHorizontal(left, rimage.RandomDotTexture(320, 240, 4, 12), -20)

	cfg := DefaultORBConfig()
	desc1, kps1, err := ComputeORBKeypoints(left, cfg)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(desc1), test.ShouldEqual, len(kps1))
	test.That(t, len(kps1), test.ShouldBeGreaterThan, 50)
	desc2, kps2, err := ComputeORBKeypoints(right, cfg)
	test.That(t, err, test.ShouldBeNil)

	matches, err := MatchDescriptors(desc1, desc2, &MatchingConfig{Ratio: 0.7})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(matches.Indices), test.ShouldBeGreaterThan, 10)
	for i := 1; i < len(matches.Indices); i++ {
		test.That(t, matches.Indices[i].Distance, test.ShouldBeGreaterThanOrEqualTo, matches.Indices[i-1].Distance)
	}

	m1, m2, err := GetMatchingKeyPoints(matches, kps1, kps2)
	test.That(t, err, test.ShouldBeNil)
	dxs := make([]int, len(m1))
	dys := make([]int, len(m1))
	for i := range m1 {
		dxs[i] = m2[i].X - m1[i].X
		dys[i] = m2[i].Y - m1[i].Y
	}
	test.That(t, medianInt(dxs), test.ShouldEqual, -20)
	test.That(t, medianInt(dys), test.ShouldEqual, 0)

	crossChecked, err := MatchDescriptors(desc1, desc2, &MatchingConfig{DoCrossCheck: true, MaxDist: 40})
	test.That(t, err, test.ShouldBeNil)
	for _, m := range crossChecked.Indices {
		test.That(t, m.Distance, test.ShouldBeLessThan, 40)
	}

	empty, err := MatchDescriptors(nil, desc2, &MatchingConfig{Ratio: 0.7})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, empty.Indices, test.ShouldHaveLength, 0)

	test.That(t, PlotMatchedLines(left, right, m1, m2, filepath.Join(t.TempDir(), "matches.png")), test.ShouldBeNil)
	test.That(t, PlotKeypoints(left, kps1, filepath.Join(t.TempDir(), "kps.png")), test.ShouldBeNil)
}
