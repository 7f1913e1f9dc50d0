// Package landmark derives vertebral-body landmarks from a label mask:
// each vertebra's silhouette is projected onto the mid-sagittal plane
// and its four endplate corners are extracted as the corners of the
// minimum-area enclosing rectangle.
//
// Vertebrae are kept in an arena keyed by label id rather than as a
// graph of cross-referencing objects, so the mask, the session history
// and the derived landmarks never form ownership cycles.
package landmark

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"lsmeasure/internal/geom"
	"lsmeasure/pkg/mask"
)

// Corner indices into Vertebra.Corners. The ordering is fixed so the
// endplate lines are well-defined: the superior endplate runs
// SuperiorLeft->SuperiorRight, the inferior endplate
// InferiorLeft->InferiorRight.
const (
	SuperiorLeft = iota
	SuperiorRight
	InferiorLeft
	InferiorRight
)

// IncompleteLandmarksError reports a vertebra whose projected silhouette
// is degenerate (fewer than 3 distinct boundary points), so no corner
// rectangle exists. The vertebra stays in the mask and the arena but is
// excluded from angle computation.
type IncompleteLandmarksError struct {
	Label int32
}

func (e *IncompleteLandmarksError) Error() string {
	return fmt.Sprintf("vertebra %d: projected silhouette is degenerate, no landmarks", e.Label)
}

// Vertebra is the derived per-label entity: silhouette corners in the
// sagittal projection plane plus endplate tilt angles. It is recomputed
// whenever the owning mask version changes and never outlives it.
type Vertebra struct {
	// Label is the mask label id this vertebra was derived from.
	Label int32

	// VoxelCount is the component size in voxels.
	VoxelCount int

	// Centroid is the physical-mm centroid in volume coordinates.
	Centroid [3]float64

	// Corners are the four endplate corners in projection-plane mm
	// coordinates, indexed by the Superior*/Inferior* constants.
	Corners [4]geom.Point

	// SuperiorTilt and InferiorTilt are the endplate line angles in
	// degrees relative to the horizontal reference of the projection
	// plane, in (-90, 90].
	SuperiorTilt float64
	InferiorTilt float64

	// LateralOffset is the centroid's signed distance in mm from the
	// sagittal midline, used for curve apex estimation.
	LateralOffset float64

	// Complete reports whether all four corners were extracted. An
	// incomplete vertebra carries no usable Corners or tilts.
	Complete bool

	// lateralRaw is the un-recentered lateral coordinate; LateralOffset
	// is derived from it against the current midline.
	lateralRaw float64
}

// SuperiorEndplate returns the superior endplate segment endpoints.
func (v *Vertebra) SuperiorEndplate() [2]geom.Point {
	return [2]geom.Point{v.Corners[SuperiorLeft], v.Corners[SuperiorRight]}
}

// InferiorEndplate returns the inferior endplate segment endpoints.
func (v *Vertebra) InferiorEndplate() [2]geom.Point {
	return [2]geom.Point{v.Corners[InferiorLeft], v.Corners[InferiorRight]}
}

// Frame is the sagittal projection basis: U is the in-plane horizontal
// axis (anterior-posterior), V the in-plane vertical axis pointing
// superior, and N the plane normal (lateral direction).
type Frame struct {
	U, V, N [3]float64
}

// project maps a physical-mm point to plane coordinates: x along U,
// y along V.
func (f Frame) project(p [3]float64) geom.Point {
	return geom.Point{
		X: p[0]*f.U[0] + p[1]*f.U[1] + p[2]*f.U[2],
		Y: p[0]*f.V[0] + p[1]*f.V[1] + p[2]*f.V[2],
	}
}

// lateral maps a physical-mm point to its coordinate along the plane
// normal.
func (f Frame) lateral(p [3]float64) float64 {
	return p[0]*f.N[0] + p[1]*f.N[1] + p[2]*f.N[2]
}

// anatomicalFrame is the fallback when too few centroids exist for a
// principal-axis estimate: plane axes follow the volume axes directly
// (x anterior-posterior, y lateral, z superior-inferior).
func anatomicalFrame() Frame {
	return Frame{
		U: [3]float64{1, 0, 0},
		V: [3]float64{0, 0, 1},
		N: [3]float64{0, 1, 0},
	}
}

// EstimateFrame computes the sagittal projection frame from the vertebra
// centroids by principal-axis analysis: the dominant eigenvector of the
// centroid covariance is the spine (superior-inferior) axis and the
// weakest is the lateral normal. Falls back to the anatomical frame when
// fewer than 3 centroids are available or the covariance is singular.
func EstimateFrame(centroids map[int32][3]float64) Frame {
	if len(centroids) < 3 {
		return anatomicalFrame()
	}

	rows := make([]float64, 0, len(centroids)*3)
	for _, c := range centroids {
		rows = append(rows, c[0], c[1], c[2])
	}
	data := mat.NewDense(len(centroids), 3, rows)

	// CovarianceMatrix is ordering-insensitive, so map iteration order
	// does not affect the result.
	cov := mat.NewSymDense(3, nil)
	stat.CovarianceMatrix(cov, data, nil)

	var eig mat.EigenSym
	if !eig.Factorize(cov, true) {
		return anatomicalFrame()
	}

	var vecs mat.Dense
	eig.VectorsTo(&vecs)
	vals := eig.Values(nil)

	// gonum orders eigenvalues ascending: column 0 is the weakest
	// direction (lateral normal), column 2 the dominant (spine axis).
	// Perfectly collinear centroids leave the in-plane axes ambiguous,
	// so fall back to the anatomical frame in that case too.
	if vals[2] <= 0 || vals[1] <= 1e-9*vals[2] {
		return anatomicalFrame()
	}

	var v, n [3]float64
	for i := 0; i < 3; i++ {
		v[i] = vecs.At(i, 2)
		n[i] = vecs.At(i, 0)
	}

	// Orient V superior (+z) and N along +y.
	if v[2] < 0 {
		v[0], v[1], v[2] = -v[0], -v[1], -v[2]
	}
	if n[1] < 0 {
		n[0], n[1], n[2] = -n[0], -n[1], -n[2]
	}

	// U completes the right-handed in-plane basis.
	u := [3]float64{
		v[1]*n[2] - v[2]*n[1],
		v[2]*n[0] - v[0]*n[2],
		v[0]*n[1] - v[1]*n[0],
	}
	if u[0] < 0 {
		u[0], u[1], u[2] = -u[0], -u[1], -u[2]
	}

	return Frame{U: u, V: v, N: n}
}

// Arena holds the derived vertebrae for one mask version, keyed by
// label id.
type Arena struct {
	// MaskVersion ties the arena to the exact mask it was derived from.
	MaskVersion string

	// Frame is the projection basis shared by all vertebrae.
	Frame Frame

	// Vertebrae maps label id to the derived entity.
	Vertebrae map[int32]*Vertebra

	// Order lists labels in anatomical order, centroid z descending.
	// Label ids alone cannot carry this: a vertebra drawn in during
	// correction gets a fresh highest id wherever it sits on the spine.
	Order []int32
}

// orderLabels sorts label ids superior to inferior by centroid z, with
// ties broken by label id.
func orderLabels(centroids map[int32][3]float64) []int32 {
	labels := make([]int32, 0, len(centroids))
	for l := range centroids {
		labels = append(labels, l)
	}
	sort.Slice(labels, func(i, j int) bool {
		zi := centroids[labels[i]][2]
		zj := centroids[labels[j]][2]
		if zi != zj {
			return zi > zj
		}
		return labels[i] < labels[j]
	})
	return labels
}

// Extract derives the full vertebra arena from a mask. Vertebrae with
// degenerate silhouettes are included but marked incomplete; the
// aggregate error (if any) wraps the first such vertebra and extraction
// still succeeds for the rest.
func Extract(m *mask.LabelMask) *Arena {
	centroids := m.Centroids()
	frame := EstimateFrame(centroids)

	a := &Arena{
		MaskVersion: m.Version,
		Frame:       frame,
		Vertebrae:   make(map[int32]*Vertebra, len(centroids)),
		Order:       orderLabels(centroids),
	}

	for _, label := range a.Order {
		a.Vertebrae[label] = extractOne(m, frame, label)
	}
	a.updateLateralOffsets()
	return a
}

// Refresh re-derives only the given labels against a new mask version,
// reusing the cached projection frame. Labels no longer present in the
// mask are dropped. This is the incremental path used after a correction
// commit touches a subset of vertebrae.
func (a *Arena) Refresh(m *mask.LabelMask, labels ...int32) {
	a.MaskVersion = m.Version
	a.Order = orderLabels(m.Centroids())

	present := make(map[int32]bool, len(a.Order))
	for _, l := range a.Order {
		present[l] = true
	}
	for l := range a.Vertebrae {
		if !present[l] {
			delete(a.Vertebrae, l)
		}
	}

	for _, label := range labels {
		if !present[label] {
			continue
		}
		a.Vertebrae[label] = extractOne(m, a.Frame, label)
	}
	a.updateLateralOffsets()
}

// Measurable returns the complete vertebrae in anatomical order.
func (a *Arena) Measurable() []*Vertebra {
	var out []*Vertebra
	for _, label := range a.Order {
		if v, ok := a.Vertebrae[label]; ok && v.Complete {
			out = append(out, v)
		}
	}
	return out
}

// Incomplete returns one IncompleteLandmarksError per degenerate
// vertebra, in anatomical order.
func (a *Arena) Incomplete() []error {
	var errs []error
	for _, label := range a.Order {
		if v, ok := a.Vertebrae[label]; ok && !v.Complete {
			errs = append(errs, &IncompleteLandmarksError{Label: label})
		}
	}
	return errs
}

// extractOne projects a single label's voxels and fits the corner
// rectangle.
func extractOne(m *mask.LabelMask, frame Frame, label int32) *Vertebra {
	var (
		points  []geom.Point
		sum     [3]float64
		latSum  float64
		count   int
	)

	for z := 0; z < m.Depth; z++ {
		for y := 0; y < m.Height; y++ {
			for x := 0; x < m.Width; x++ {
				if m.At(x, y, z) != label {
					continue
				}
				p := [3]float64{
					float64(x) * m.Spacing.X,
					float64(y) * m.Spacing.Y,
					float64(z) * m.Spacing.Z,
				}
				points = append(points, frame.project(p))
				latSum += frame.lateral(p)
				sum[0] += p[0]
				sum[1] += p[1]
				sum[2] += p[2]
				count++
			}
		}
	}

	v := &Vertebra{Label: label, VoxelCount: count}
	if count == 0 {
		return v
	}
	v.Centroid = [3]float64{sum[0] / float64(count), sum[1] / float64(count), sum[2] / float64(count)}
	v.lateralRaw = latSum / float64(count)

	rect, ok := geom.MinAreaRect(points)
	if !ok {
		return v
	}

	v.Corners = orderCorners(rect)
	v.SuperiorTilt = lineTilt(v.Corners[SuperiorLeft], v.Corners[SuperiorRight])
	v.InferiorTilt = lineTilt(v.Corners[InferiorLeft], v.Corners[InferiorRight])
	v.Complete = true
	return v
}

// orderCorners sorts rectangle corners into the canonical
// superior-left, superior-right, inferior-left, inferior-right order.
// Plane y is the superior direction, plane x the horizontal.
func orderCorners(r geom.Rect) [4]geom.Point {
	c := r.Corners[:]

	// Sort by y descending; the top two are the superior corners.
	for i := 1; i < len(c); i++ {
		for j := i; j > 0 && c[j].Y > c[j-1].Y; j-- {
			c[j], c[j-1] = c[j-1], c[j]
		}
	}

	sup := [2]geom.Point{c[0], c[1]}
	inf := [2]geom.Point{c[2], c[3]}
	if sup[0].X > sup[1].X {
		sup[0], sup[1] = sup[1], sup[0]
	}
	if inf[0].X > inf[1].X {
		inf[0], inf[1] = inf[1], inf[0]
	}

	return [4]geom.Point{sup[0], sup[1], inf[0], inf[1]}
}

// lineTilt returns the angle of the p1->p2 line against the horizontal
// reference, in degrees, folded into (-90, 90].
func lineTilt(p1, p2 geom.Point) float64 {
	d := p2.Sub(p1)
	deg := math.Atan2(d.Y, d.X) * 180 / math.Pi
	for deg > 90 {
		deg -= 180
	}
	for deg <= -90 {
		deg += 180
	}
	return deg
}

// updateLateralOffsets recenters lateral offsets on the midline (the
// mean lateral coordinate of all centroids) so apex estimation sees
// signed deviations.
func (a *Arena) updateLateralOffsets() {
	var sum float64
	var n int
	for _, v := range a.Vertebrae {
		if v.VoxelCount > 0 {
			sum += v.lateralRaw
			n++
		}
	}
	if n == 0 {
		return
	}
	mean := sum / float64(n)
	for _, v := range a.Vertebrae {
		if v.VoxelCount > 0 {
			v.LateralOffset = v.lateralRaw - mean
		}
	}
}
