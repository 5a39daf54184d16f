package keypoints

import (
	"image"
	"math"

	"gonum.org/v1/gonum/floats"
)

// FASTConfig holds the parameters of the FAST corner detector.
type FASTConfig struct {
	// Threshold is the minimum intensity difference with the centre, as a fraction of full scale.
	Threshold float64 `json:"threshold"`
	// NMatchesCircle is the number of contiguous circle pixels that must all be brighter or darker.
	NMatchesCircle int `json:"n_matches"`
	// NMSWinSize is the side of the non-maximum suppression window.
	NMSWinSize int  `json:"nms_win_size"`
	Oriented   bool `json:"oriented"`
	// MaxKeypoints keeps only the strongest corners when positive.
	MaxKeypoints int `json:"max_keypoints,omitempty"`
}

// FASTKeypoints stores keypoint locations and, when computed, their orientations.
type FASTKeypoints OrientedKeypoints

// FASTPixel stores the brighter and darker circle neighbours of a pixel.
type FASTPixel struct {
	Point     image.Point
	brighter  []float64
	darker    []float64
	intensity float64
}

var (
	// CrossIdx is the 4-neighborhood used as the FAST high-speed pre-test.
	CrossIdx = []image.Point{{0, -3}, {3, 0}, {0, 3}, {-3, 0}}
	// CircleIdx is the Bresenham circle of radius 3 visited clockwise from the top.
	CircleIdx = []image.Point{
		{0, -3}, {1, -3}, {2, -2}, {3, -1},
		{3, 0}, {3, 1}, {2, 2}, {1, 3},
		{0, 3}, {-1, 3}, {-2, 2}, {-3, 1},
		{-3, 0}, {-3, -1}, {-2, -2}, {-1, -3},
	}
)

const fastRadius = 3

// GetPointValuesInNeighborhood returns the intensities of the neighbourhood around p. Points
// outside the image read as 0.
func GetPointValuesInNeighborhood(img *image.Gray, p image.Point, neighborhood []image.Point) []float64 {
	vals := make([]float64, len(neighborhood))
	bounds := img.Bounds()
	for i, off := range neighborhood {
		q := p.Add(off)
		if !q.In(bounds) {
			continue
		}
		vals[i] = float64(img.GrayAt(q.X, q.Y).Y)
	}
	return vals
}

// isValidSliceVals reports whether s holds at least n circularly contiguous non-zero values.
func isValidSliceVals(s []float64, n int) bool {
	if n <= 0 || len(s) == 0 {
		return false
	}
	run := 0
	for i := 0; i < 2*len(s); i++ {
		if s[i%len(s)] > 0 {
			run++
			if run >= n {
				return true
			}
		} else {
			run = 0
		}
	}
	return false
}

func sumOfPositiveValuesSlice(s []float64) float64 {
	total := 0.0
	for _, v := range s {
		if v > 0 {
			total += v
		}
	}
	return total
}

func sumOfNegativeValuesSlice(s []float64) float64 {
	total := 0.0
	for _, v := range s {
		if v < 0 {
			total += v
		}
	}
	return total
}

// getBrighterValues returns a 0/1 mask of the values strictly greater than t.
func getBrighterValues(s []float64, t float64) []float64 {
	out := make([]float64, len(s))
	for i, v := range s {
		if v > t {
			out[i] = 1
		}
	}
	return out
}

// getDarkerValues returns a 0/1 mask of the values strictly lower than t.
func getDarkerValues(s []float64, t float64) []float64 {
	out := make([]float64, len(s))
	for i, v := range s {
		if v < t {
			out[i] = 1
		}
	}
	return out
}

// computeFASTScore is the sum of absolute differences beyond the threshold over the dominant side
// of the circle.
func computeFASTScore(circle []float64, center, threshold float64) float64 {
	diffs := make([]float64, len(circle))
	for i, v := range circle {
		diffs[i] = v - center
	}
	brighter := sumOfPositiveValuesSlice(floatsAddConst(diffs, -threshold))
	darker := -sumOfNegativeValuesSlice(floatsAddConst(diffs, threshold))
	return math.Max(brighter, darker)
}

func floatsAddConst(s []float64, c float64) []float64 {
	out := make([]float64, len(s))
	copy(out, s)
	floats.AddConst(c, out)
	return out
}

// ComputeFAST returns the FAST corners of the image after non-maximum suppression, strongest first.
func ComputeFAST(img *image.Gray, cfg *FASTConfig) KeyPoints {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	threshold := cfg.Threshold * 255
	scores := make([]float64, w*h)

	candidates := make(KeyPoints, 0)
	for y := bounds.Min.Y + fastRadius; y < bounds.Max.Y-fastRadius; y++ {
		for x := bounds.Min.X + fastRadius; x < bounds.Max.X-fastRadius; x++ {
			p := image.Point{x, y}
			center := float64(img.GrayAt(x, y).Y)
			// High-speed test: for n >= 9 at least two cross pixels must pass.
			if cfg.NMatchesCircle >= 9 {
				cross := GetPointValuesInNeighborhood(img, p, CrossIdx)
				nb := floats.Sum(getBrighterValues(cross, center+threshold))
				nd := floats.Sum(getDarkerValues(cross, center-threshold))
				if nb < 2 && nd < 2 {
					continue
				}
			}
			circle := GetPointValuesInNeighborhood(img, p, CircleIdx)
			if !isValidSliceVals(getBrighterValues(circle, center+threshold), cfg.NMatchesCircle) &&
				!isValidSliceVals(getDarkerValues(circle, center-threshold), cfg.NMatchesCircle) {
				continue
			}
			scores[(y-bounds.Min.Y)*w+(x-bounds.Min.X)] = computeFASTScore(circle, center, threshold)
			candidates = append(candidates, p)
		}
	}

	kept := make(KeyPoints, 0, len(candidates))
	keptScores := make([]float64, 0, len(candidates))
	half := cfg.NMSWinSize / 2
	for _, p := range candidates {
		s := scores[(p.Y-bounds.Min.Y)*w+(p.X-bounds.Min.X)]
		isMax := true
		for dy := -half; dy <= half && isMax; dy++ {
			for dx := -half; dx <= half; dx++ {
				if dx == 0 && dy == 0 {
					continue
				}
				q := image.Point{p.X + dx, p.Y + dy}
				if !q.In(bounds) {
					continue
				}
				other := scores[(q.Y-bounds.Min.Y)*w+(q.X-bounds.Min.X)]
				// Ties are broken by raster order so plateaus keep a single corner.
				if other > s || (other == s && (dy < 0 || (dy == 0 && dx < 0))) {
					isMax = false
					break
				}
			}
		}
		if isMax {
			kept = append(kept, p)
			keptScores = append(keptScores, -s)
		}
	}

	// strongest first
	order := make([]int, len(kept))
	floats.Argsort(keptScores, order)
	sorted := make(KeyPoints, len(kept))
	for i, idx := range order {
		sorted[i] = kept[idx]
	}
	if cfg.MaxKeypoints > 0 && len(sorted) > cfg.MaxKeypoints {
		sorted = sorted[:cfg.MaxKeypoints]
	}
	return sorted
}

// NewFASTKeypointsFromImage computes FAST keypoints and, if configured, their orientations.
func NewFASTKeypointsFromImage(img *image.Gray, cfg *FASTConfig) *FASTKeypoints {
	kps := ComputeFAST(img, cfg)
	var orientations []float64
	if cfg.Oriented {
		orientations = computeKeypointsOrientations(img, kps)
	}
	return &FASTKeypoints{
		Points:       kps,
		Orientations: orientations,
	}
}

// IsOriented returns true if FASTKeypoints contains orientations.
func (kps *FASTKeypoints) IsOriented() bool {
	return kps.Orientations != nil
}
