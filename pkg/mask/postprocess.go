package mask

import (
	"fmt"
	"sort"

	"lsmeasure/pkg/volume"
)

// Connectivity selects the voxel neighborhood used by connected-component
// labeling.
type Connectivity int

const (
	// Connect6 uses face neighbors only.
	Connect6 Connectivity = 6
	// Connect26 uses face, edge and corner neighbors.
	Connect26 Connectivity = 26
)

// offsets returns the neighbor offsets for the connectivity.
func (c Connectivity) offsets() [][3]int {
	if c == Connect6 {
		return [][3]int{
			{1, 0, 0}, {-1, 0, 0},
			{0, 1, 0}, {0, -1, 0},
			{0, 0, 1}, {0, 0, -1},
		}
	}
	var offs [][3]int
	for dz := -1; dz <= 1; dz++ {
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				if dx == 0 && dy == 0 && dz == 0 {
					continue
				}
				offs = append(offs, [3]int{dx, dy, dz})
			}
		}
	}
	return offs
}

// LabelComponents converts a raw per-voxel probability (or binary) field
// into an instance mask by thresholding at probThreshold and running 3D
// connected-component labeling. Components are numbered 1..N in
// first-voxel scan order (z, then y, then x), which makes the labeling
// deterministic for identical input. An input with no foreground voxels
// yields a valid mask with zero labels.
func LabelComponents(raw []float64, width, height, depth int, spacing volume.Spacing, probThreshold float64, conn Connectivity) (*LabelMask, error) {
	if len(raw) != width*height*depth {
		return nil, fmt.Errorf("raw field length %d does not match dimensions %dx%dx%d", len(raw), width, height, depth)
	}
	if conn != Connect6 && conn != Connect26 {
		return nil, fmt.Errorf("unsupported connectivity %d", conn)
	}

	m := New(width, height, depth, spacing)
	offs := conn.offsets()
	next := int32(1)
	var queue []int

	for z := 0; z < depth; z++ {
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				start := m.Index(x, y, z)
				if raw[start] < probThreshold || m.Labels[start] != Background {
					continue
				}

				// Flood-fill a new component from this seed.
				label := next
				next++
				m.Labels[start] = label
				queue = append(queue[:0], start)

				for len(queue) > 0 {
					idx := queue[len(queue)-1]
					queue = queue[:len(queue)-1]

					cz := idx / (width * height)
					rem := idx % (width * height)
					cy := rem / width
					cx := rem % width

					for _, o := range offs {
						nx, ny, nz := cx+o[0], cy+o[1], cz+o[2]
						if nx < 0 || ny < 0 || nz < 0 || nx >= width || ny >= height || nz >= depth {
							continue
						}
						nidx := m.Index(nx, ny, nz)
						if raw[nidx] >= probThreshold && m.Labels[nidx] == Background {
							m.Labels[nidx] = label
							queue = append(queue, nidx)
						}
					}
				}
			}
		}
	}

	return m, nil
}

// FilterSmallComponents removes components with fewer than minVoxels
// voxels and renumbers the survivors contiguously (1..N), preserving
// their relative order. The input mask is not modified.
func FilterSmallComponents(m *LabelMask, minVoxels int) *LabelMask {
	counts := m.VoxelCounts()

	remap := map[int32]int32{}
	next := int32(1)
	for _, l := range m.LabelSet() {
		if counts[l] >= minVoxels {
			remap[l] = next
			next++
		}
	}

	out := New(m.Width, m.Height, m.Depth, m.Spacing)
	for i, l := range m.Labels {
		if nl, ok := remap[l]; ok {
			out.Labels[i] = nl
		}
	}
	return out
}

// OrderSuperiorToInferior renumbers labels by centroid position along the
// spine axis so that label 1 is the most superior vertebra. Superior
// means larger z under the module's axis convention. Centroid ties are
// broken by first-voxel-encounter order in the original mask, which makes
// the renumbering deterministic and idempotent.
func OrderSuperiorToInferior(m *LabelMask) *LabelMask {
	centroids := m.Centroids()

	firstSeen := map[int32]int{}
	for i, l := range m.Labels {
		if l == Background {
			continue
		}
		if _, ok := firstSeen[l]; !ok {
			firstSeen[l] = i
		}
	}

	labels := m.LabelSet()
	sort.SliceStable(labels, func(i, j int) bool {
		zi := centroids[labels[i]][2]
		zj := centroids[labels[j]][2]
		if zi != zj {
			return zi > zj // superior (larger z) first
		}
		return firstSeen[labels[i]] < firstSeen[labels[j]]
	})

	remap := make(map[int32]int32, len(labels))
	for i, l := range labels {
		remap[l] = int32(i + 1)
	}

	out := New(m.Width, m.Height, m.Depth, m.Spacing)
	for i, l := range m.Labels {
		if l != Background {
			out.Labels[i] = remap[l]
		}
	}
	return out
}

// SmoothLabels applies a majority-vote morphological smoothing with the
// given neighborhood radius. Each voxel takes the most frequent label in
// its (2r+1)^3 neighborhood; the current label wins ties, then the
// smaller label, keeping the operation deterministic. The input mask is
// not modified.
func SmoothLabels(m *LabelMask, radius int) *LabelMask {
	if radius < 1 {
		return m.Clone()
	}

	out := New(m.Width, m.Height, m.Depth, m.Spacing)
	counts := map[int32]int{}

	for z := 0; z < m.Depth; z++ {
		for y := 0; y < m.Height; y++ {
			for x := 0; x < m.Width; x++ {
				for k := range counts {
					delete(counts, k)
				}

				for dz := -radius; dz <= radius; dz++ {
					for dy := -radius; dy <= radius; dy++ {
						for dx := -radius; dx <= radius; dx++ {
							nx, ny, nz := x+dx, y+dy, z+dz
							if nx < 0 || ny < 0 || nz < 0 || nx >= m.Width || ny >= m.Height || nz >= m.Depth {
								continue
							}
							counts[m.At(nx, ny, nz)]++
						}
					}
				}

				cur := m.At(x, y, z)
				maxCount := 0
				for _, c := range counts {
					if c > maxCount {
						maxCount = c
					}
				}

				best := cur
				if counts[cur] < maxCount {
					// Smallest label among the modes, for determinism.
					first := true
					for l, c := range counts {
						if c == maxCount && (first || l < best) {
							best = l
							first = false
						}
					}
				}
				out.Labels[m.Index(x, y, z)] = best
			}
		}
	}

	return out
}
