// Package mask provides the vertebra label mask representation and the
// post-processing operations that turn raw segmentation output into an
// anatomically ordered instance mask: connected-component labeling,
// small-island removal, superior-to-inferior renumbering and
// morphological smoothing.
package mask

import (
	"github.com/google/uuid"

	"lsmeasure/pkg/volume"
)

// Background is the label value for non-vertebra voxels.
const Background int32 = 0

// LabelMask is a 3D array of vertebra instance labels with the same
// shape as its source volume. Label 0 is background; labels 1..N are
// vertebra instances, numbered superior to inferior once ordered.
//
// Masks are versioned: every mutation path (post-processing, session
// commits) produces a new mask with a fresh Version, so derived data can
// be tied to the exact mask it was computed from.
type LabelMask struct {
	// Labels holds per-voxel instance labels, indexed z*W*H + y*W + x.
	Labels []int32

	// Width, Height and Depth are the voxel counts along x, y and z.
	Width, Height, Depth int

	// Spacing is the physical voxel spacing in mm, carried over from the
	// source volume.
	Spacing volume.Spacing

	// Version uniquely identifies this mask state.
	Version string
}

// New creates an all-background mask with the given shape.
func New(width, height, depth int, spacing volume.Spacing) *LabelMask {
	return &LabelMask{
		Labels:  make([]int32, width*height*depth),
		Width:   width,
		Height:  height,
		Depth:   depth,
		Spacing: spacing,
		Version: uuid.NewString(),
	}
}

// NewForVolume creates an all-background mask shaped like v.
func NewForVolume(v *volume.Volume) *LabelMask {
	return New(v.Width, v.Height, v.Depth, v.Spacing)
}

// Index converts voxel coordinates to the flat array index.
func (m *LabelMask) Index(x, y, z int) int {
	return z*m.Width*m.Height + y*m.Width + x
}

// At returns the label at the given voxel coordinates.
func (m *LabelMask) At(x, y, z int) int32 {
	return m.Labels[m.Index(x, y, z)]
}

// Clone returns a deep copy with a fresh Version.
func (m *LabelMask) Clone() *LabelMask {
	labels := make([]int32, len(m.Labels))
	copy(labels, m.Labels)
	return &LabelMask{
		Labels:  labels,
		Width:   m.Width,
		Height:  m.Height,
		Depth:   m.Depth,
		Spacing: m.Spacing,
		Version: uuid.NewString(),
	}
}

// LabelSet returns the distinct non-background labels in ascending order.
func (m *LabelMask) LabelSet() []int32 {
	seen := map[int32]bool{}
	var labels []int32
	for _, l := range m.Labels {
		if l != Background && !seen[l] {
			seen[l] = true
			labels = append(labels, l)
		}
	}
	// The scan above yields first-encounter order; sort ascending.
	for i := 1; i < len(labels); i++ {
		for j := i; j > 0 && labels[j] < labels[j-1]; j-- {
			labels[j], labels[j-1] = labels[j-1], labels[j]
		}
	}
	return labels
}

// NumLabels returns the number of distinct non-background labels.
func (m *LabelMask) NumLabels() int {
	return len(m.LabelSet())
}

// VoxelCounts returns the voxel count per non-background label.
func (m *LabelMask) VoxelCounts() map[int32]int {
	counts := map[int32]int{}
	for _, l := range m.Labels {
		if l != Background {
			counts[l]++
		}
	}
	return counts
}

// Centroids returns the physical-mm centroid of every non-background
// label.
func (m *LabelMask) Centroids() map[int32][3]float64 {
	sums := map[int32]*[4]float64{} // x, y, z, count in voxel units
	for z := 0; z < m.Depth; z++ {
		for y := 0; y < m.Height; y++ {
			for x := 0; x < m.Width; x++ {
				l := m.At(x, y, z)
				if l == Background {
					continue
				}
				s, ok := sums[l]
				if !ok {
					s = &[4]float64{}
					sums[l] = s
				}
				s[0] += float64(x)
				s[1] += float64(y)
				s[2] += float64(z)
				s[3]++
			}
		}
	}

	out := make(map[int32][3]float64, len(sums))
	for l, s := range sums {
		out[l] = [3]float64{
			s[0] / s[3] * m.Spacing.X,
			s[1] / s[3] * m.Spacing.Y,
			s[2] / s[3] * m.Spacing.Z,
		}
	}
	return out
}
