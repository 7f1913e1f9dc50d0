// Package cobb computes the Cobb angle from extracted vertebral
// landmarks: the angle between the most-tilted superior endplate above
// the curve apex and the most-tilted inferior endplate below it.
package cobb

import (
	"fmt"

	"lsmeasure/internal/geom"
	"lsmeasure/pkg/landmark"
)

// InsufficientVertebraeError reports that too few vertebrae carry valid
// landmarks for an angle to exist. The session stays usable; the caller
// is expected to correct the mask and retry.
type InsufficientVertebraeError struct {
	Have int
}

func (e *InsufficientVertebraeError) Error() string {
	return fmt.Sprintf("cobb angle needs at least 2 measurable vertebrae, have %d", e.Have)
}

// Measurement is the result of one Cobb angle computation. Endplate
// coordinates are in the sagittal projection plane, in mm.
type Measurement struct {
	// AngleDeg is the angle between the two selected endplate lines,
	// in degrees, in [0, 180).
	AngleDeg float64

	// SuperiorLabel and InferiorLabel identify the vertebrae whose
	// superior and inferior endplates bound the curve.
	SuperiorLabel int32
	InferiorLabel int32

	// ApexLabel identifies the curve apex used for pair selection.
	ApexLabel int32

	// SuperiorEndplate and InferiorEndplate are the selected endplate
	// segments, each running left to right.
	SuperiorEndplate [2]geom.Point
	InferiorEndplate [2]geom.Point

	// Intersection is where the two endplate lines cross. Intersects
	// is false when the lines are parallel (a 0 degree angle).
	Intersection geom.Point
	Intersects   bool
}

// Compute measures the Cobb angle over the given vertebrae, which must
// be in anatomical order (superior first) with complete landmarks, as
// returned by Arena.Measurable. The apex is auto-detected as the
// vertebra with maximal lateral deviation from the sagittal midline.
func Compute(vertebrae []*landmark.Vertebra) (Measurement, error) {
	apex, err := detectApex(vertebrae)
	if err != nil {
		return Measurement{}, err
	}
	return ComputeWithApex(vertebrae, apex)
}

// ComputeWithApex measures the Cobb angle with a caller-chosen apex
// index into the vertebra slice. Candidate pairs are every superior
// endplate at or above the apex against every inferior endplate at or
// below it; the pair maximizing the angle wins, with ties broken by
// anatomical proximity to the apex.
func ComputeWithApex(vertebrae []*landmark.Vertebra, apex int) (Measurement, error) {
	if len(vertebrae) < 2 {
		return Measurement{}, &InsufficientVertebraeError{Have: len(vertebrae)}
	}
	if apex < 0 || apex >= len(vertebrae) {
		return Measurement{}, fmt.Errorf("apex index %d out of range [0, %d)", apex, len(vertebrae))
	}

	var (
		best     Measurement
		bestDist int
		found    bool
	)

	for i := 0; i <= apex; i++ {
		sup := vertebrae[i].SuperiorEndplate()
		supDir := sup[1].Sub(sup[0])

		for j := apex; j < len(vertebrae); j++ {
			if j <= i {
				continue
			}
			inf := vertebrae[j].InferiorEndplate()
			infDir := inf[1].Sub(inf[0])

			angle := geom.LineAngleDeg(supDir, infDir)
			dist := (apex - i) + (j - apex)

			if !found || angle > best.AngleDeg+angleEps ||
				(angle > best.AngleDeg-angleEps && dist < bestDist) {
				best = Measurement{
					AngleDeg:         angle,
					SuperiorLabel:    vertebrae[i].Label,
					InferiorLabel:    vertebrae[j].Label,
					ApexLabel:        vertebrae[apex].Label,
					SuperiorEndplate: sup,
					InferiorEndplate: inf,
				}
				bestDist = dist
				found = true
			}
		}
	}

	best.Intersection, best.Intersects = geom.LineIntersection(
		best.SuperiorEndplate[0], best.SuperiorEndplate[1],
		best.InferiorEndplate[0], best.InferiorEndplate[1])
	return best, nil
}

// angleEps is the tolerance below which two candidate angles count as
// tied and the apex-proximity rule decides.
const angleEps = 1e-9

// detectApex returns the index of the vertebra with the largest
// absolute lateral offset. Ties go to the more superior vertebra.
func detectApex(vertebrae []*landmark.Vertebra) (int, error) {
	if len(vertebrae) < 2 {
		return 0, &InsufficientVertebraeError{Have: len(vertebrae)}
	}
	apex := 0
	for i, v := range vertebrae {
		if abs(v.LateralOffset) > abs(vertebrae[apex].LateralOffset) {
			apex = i
		}
	}
	return apex, nil
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
