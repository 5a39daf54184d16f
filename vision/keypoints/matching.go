package keypoints

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

// MatchingConfig contains the parameters for matching descriptors.
type MatchingConfig struct {
	DoCrossCheck bool `json:"do_cross_check"`
	MaxDist      int  `json:"max_dist"`
	// Ratio rejects a match unless its distance is below Ratio times the distance of the second
	// nearest neighbour. Zero disables the test.
	Ratio float64 `json:"ratio"`
}

// DescriptorMatch contains the index of a match in the first and second set of descriptors.
type DescriptorMatch struct {
	Idx1     int
	Idx2     int
	Distance int
}

// DescriptorMatches contains the descriptors and their matches.
type DescriptorMatches struct {
	Indices      []DescriptorMatch
	Descriptors1 []Descriptor
	Descriptors2 []Descriptor
}

// knnMatch finds the two nearest neighbours in desc2 for every descriptor of desc1. second is -1
// when desc2 has fewer than two descriptors.
func knnMatch(desc1, desc2 []Descriptor) (best, second, bestDist, secondDist []int) {
	best = make([]int, len(desc1))
	second = make([]int, len(desc1))
	bestDist = make([]int, len(desc1))
	secondDist = make([]int, len(desc1))
	for i, d1 := range desc1 {
		best[i], second[i] = -1, -1
		for j, d2 := range desc2 {
			dist := HammingDistance(d1, d2)
			switch {
			case best[i] < 0 || dist < bestDist[i]:
				second[i], secondDist[i] = best[i], bestDist[i]
				best[i], bestDist[i] = j, dist
			case second[i] < 0 || dist < secondDist[i]:
				second[i], secondDist[i] = j, dist
			}
		}
	}
	return best, second, bestDist, secondDist
}

// MatchDescriptors takes 2 sets of descriptors and performs nearest neighbour matching, filtered by
// the ratio test, cross check and maximum distance as configured. Matches are sorted by distance.
func MatchDescriptors(desc1, desc2 []Descriptor, cfg *MatchingConfig) (*DescriptorMatches, error) {
	if len(desc1) == 0 || len(desc2) == 0 {
		return &DescriptorMatches{[]DescriptorMatch{}, desc1, desc2}, nil
	}
	for _, descs := range [][]Descriptor{desc1, desc2} {
		for _, d := range descs {
			if len(d) != len(desc1[0]) {
				return nil, errors.New("descriptors must all have the same length")
			}
		}
	}
	best, second, bestDist, secondDist := knnMatch(desc1, desc2)
	var reverse []int
	if cfg.DoCrossCheck {
		reverse, _, _, _ = knnMatch(desc2, desc1)
	}

	matches := make([]DescriptorMatch, 0, len(desc1))
	dists := make([]float64, 0, len(desc1))
	for i := range desc1 {
		if best[i] < 0 {
			continue
		}
		if cfg.Ratio > 0 {
			if second[i] < 0 || float64(bestDist[i]) >= cfg.Ratio*float64(secondDist[i]) {
				continue
			}
		}
		if cfg.DoCrossCheck && reverse[best[i]] != i {
			continue
		}
		if cfg.MaxDist > 0 && bestDist[i] >= cfg.MaxDist {
			continue
		}
		matches = append(matches, DescriptorMatch{Idx1: i, Idx2: best[i], Distance: bestDist[i]})
		dists = append(dists, float64(bestDist[i]))
	}

	// sort by distance
	sortedIndices := make([]int, len(dists))
	floats.Argsort(dists, sortedIndices)
	sorted := make([]DescriptorMatch, len(matches))
	for i, idx := range sortedIndices {
		sorted[i] = matches[idx]
	}
	return &DescriptorMatches{sorted, desc1, desc2}, nil
}

// GetMatchingKeyPoints takes the matches and the keypoints and returns the corresponding keypoints that are matched.
func GetMatchingKeyPoints(matches *DescriptorMatches, kps1, kps2 KeyPoints) (KeyPoints, KeyPoints, error) {
	if len(kps1) != len(matches.Descriptors1) {
		return nil, nil, errors.New("first keypoint set does not match its descriptors")
	}
	if len(kps2) != len(matches.Descriptors2) {
		return nil, nil, errors.New("second keypoint set does not match its descriptors")
	}
	matchedKps1 := make(KeyPoints, len(matches.Indices))
	matchedKps2 := make(KeyPoints, len(matches.Indices))
	for i, match := range matches.Indices {
		matchedKps1[i] = kps1[match.Idx1]
		matchedKps2[i] = kps2[match.Idx2]
	}
	return matchedKps1, matchedKps2, nil
}
