// Package geom provides the small amount of 2D computational geometry the
// landmark extractor needs: convex hulls and minimum-area enclosing
// rectangles of projected vertebra silhouettes.
package geom

import (
	"math"
	"sort"
)

// Point is a 2D point in physical (mm) coordinates.
type Point struct {
	X, Y float64
}

// Sub returns p - q.
func (p Point) Sub(q Point) Point {
	return Point{p.X - q.X, p.Y - q.Y}
}

// Dot returns the dot product of p and q treated as vectors.
func (p Point) Dot(q Point) float64 {
	return p.X*q.X + p.Y*q.Y
}

// Norm returns the Euclidean length of p treated as a vector.
func (p Point) Norm() float64 {
	return math.Hypot(p.X, p.Y)
}

// cross returns the z-component of (b-a) x (c-a).
func cross(a, b, c Point) float64 {
	return (b.X-a.X)*(c.Y-a.Y) - (b.Y-a.Y)*(c.X-a.X)
}

// ConvexHull computes the convex hull of the given points using the
// Andrew monotone chain algorithm. The result is in counter-clockwise
// order with no repeated first/last point. Duplicate input points are
// collapsed, so the hull of a degenerate set (all points equal or
// collinear) may have fewer than 3 vertices.
func ConvexHull(points []Point) []Point {
	pts := make([]Point, len(points))
	copy(pts, points)

	sort.Slice(pts, func(i, j int) bool {
		if pts[i].X != pts[j].X {
			return pts[i].X < pts[j].X
		}
		return pts[i].Y < pts[j].Y
	})

	// Collapse duplicates so degenerate silhouettes are detectable by
	// hull vertex count.
	uniq := pts[:0]
	for i, p := range pts {
		if i == 0 || p != pts[i-1] {
			uniq = append(uniq, p)
		}
	}
	pts = uniq

	if len(pts) < 3 {
		out := make([]Point, len(pts))
		copy(out, pts)
		return out
	}

	// Lower hull
	var lower []Point
	for _, p := range pts {
		for len(lower) >= 2 && cross(lower[len(lower)-2], lower[len(lower)-1], p) <= 0 {
			lower = lower[:len(lower)-1]
		}
		lower = append(lower, p)
	}

	// Upper hull
	var upper []Point
	for i := len(pts) - 1; i >= 0; i-- {
		p := pts[i]
		for len(upper) >= 2 && cross(upper[len(upper)-2], upper[len(upper)-1], p) <= 0 {
			upper = upper[:len(upper)-1]
		}
		upper = append(upper, p)
	}

	return append(lower[:len(lower)-1], upper[:len(upper)-1]...)
}

// Rect is an oriented rectangle given by its four corners in order around
// the perimeter.
type Rect struct {
	Corners [4]Point
}

// Area returns the rectangle area.
func (r Rect) Area() float64 {
	w := r.Corners[1].Sub(r.Corners[0]).Norm()
	h := r.Corners[3].Sub(r.Corners[0]).Norm()
	return w * h
}

// MinAreaRect computes the minimum-area enclosing rectangle of the given
// points via rotating calipers over the convex hull edges. It returns
// false if the point set is degenerate (hull has fewer than 3 vertices),
// in which case no rectangle is defined.
func MinAreaRect(points []Point) (Rect, bool) {
	hull := ConvexHull(points)
	if len(hull) < 3 {
		return Rect{}, false
	}

	best := Rect{}
	bestArea := math.Inf(1)

	for i := range hull {
		a := hull[i]
		b := hull[(i+1)%len(hull)]
		edge := b.Sub(a)
		length := edge.Norm()
		if length == 0 {
			continue
		}

		// Unit edge direction and its perpendicular.
		ux := edge.X / length
		uy := edge.Y / length

		minU, maxU := math.Inf(1), math.Inf(-1)
		minV, maxV := math.Inf(1), math.Inf(-1)
		for _, p := range hull {
			d := p.Sub(a)
			u := d.X*ux + d.Y*uy
			v := -d.X*uy + d.Y*ux
			minU = math.Min(minU, u)
			maxU = math.Max(maxU, u)
			minV = math.Min(minV, v)
			maxV = math.Max(maxV, v)
		}

		area := (maxU - minU) * (maxV - minV)
		if area < bestArea {
			bestArea = area
			corner := func(u, v float64) Point {
				return Point{
					X: a.X + u*ux - v*uy,
					Y: a.Y + u*uy + v*ux,
				}
			}
			best = Rect{Corners: [4]Point{
				corner(minU, minV),
				corner(maxU, minV),
				corner(maxU, maxV),
				corner(minU, maxV),
			}}
		}
	}

	if math.IsInf(bestArea, 1) {
		return Rect{}, false
	}
	return best, true
}

// LineAngleDeg returns the angle in degrees between the two lines defined
// by direction vectors d1 and d2, in [0, 180). The cosine is clipped to
// [-1, 1] before the arccosine to guard against rounding.
func LineAngleDeg(d1, d2 Point) float64 {
	n1 := d1.Norm()
	n2 := d2.Norm()
	if n1 == 0 || n2 == 0 {
		return 0
	}
	c := d1.Dot(d2) / (n1 * n2)
	c = math.Max(-1, math.Min(1, c))
	deg := math.Acos(c) * 180 / math.Pi
	if deg >= 180 {
		deg -= 180
	}
	return deg
}

// LineIntersection returns the least-squares intersection point of the
// line through p1,p2 and the line through q1,q2: the midpoint of the
// closest-approach points. ok is false when the lines are parallel.
func LineIntersection(p1, p2, q1, q2 Point) (Point, bool) {
	d1 := p2.Sub(p1)
	d2 := q2.Sub(q1)
	denom := d1.X*d2.Y - d1.Y*d2.X
	if math.Abs(denom) < 1e-12 {
		return Point{}, false
	}
	w := q1.Sub(p1)
	s := (w.X*d2.Y - w.Y*d2.X) / denom
	return Point{X: p1.X + s*d1.X, Y: p1.Y + s*d1.Y}, true
}
