package geom

import (
	"math"
	"testing"
)

// TestConvexHull verifies hull computation on simple point sets
func TestConvexHull(t *testing.T) {
	// Square with interior points
	points := []Point{
		{0, 0}, {4, 0}, {4, 4}, {0, 4},
		{2, 2}, {1, 3}, {3, 1},
	}

	hull := ConvexHull(points)
	if len(hull) != 4 {
		t.Fatalf("Expected hull with 4 vertices, got %d", len(hull))
	}

	// All four square corners must be present
	want := map[Point]bool{
		{0, 0}: false, {4, 0}: false, {4, 4}: false, {0, 4}: false,
	}
	for _, p := range hull {
		if _, ok := want[p]; !ok {
			t.Errorf("Unexpected hull vertex %v", p)
		}
		want[p] = true
	}
	for p, seen := range want {
		if !seen {
			t.Errorf("Hull missing corner %v", p)
		}
	}
}

// TestConvexHullDegenerate verifies degenerate inputs produce sub-3-point hulls
func TestConvexHullDegenerate(t *testing.T) {
	cases := []struct {
		name   string
		points []Point
		max    int
	}{
		{"empty", nil, 0},
		{"single point", []Point{{1, 1}}, 1},
		{"repeated point", []Point{{1, 1}, {1, 1}, {1, 1}}, 1},
		{"two points", []Point{{0, 0}, {5, 5}}, 2},
		{"collinear", []Point{{0, 0}, {1, 1}, {2, 2}, {3, 3}}, 2},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			hull := ConvexHull(tc.points)
			if len(hull) > tc.max {
				t.Errorf("Expected at most %d hull vertices, got %d", tc.max, len(hull))
			}
		})
	}
}

// TestMinAreaRectAxisAligned verifies exact corners for an axis-aligned rectangle
func TestMinAreaRectAxisAligned(t *testing.T) {
	var points []Point
	for x := 0; x <= 6; x++ {
		for y := 0; y <= 3; y++ {
			points = append(points, Point{float64(x), float64(y)})
		}
	}

	rect, ok := MinAreaRect(points)
	if !ok {
		t.Fatal("Expected a rectangle for a non-degenerate point set")
	}

	if math.Abs(rect.Area()-18.0) > 1e-9 {
		t.Errorf("Expected area 18.0, got %f", rect.Area())
	}

	// Every corner should coincide with one of the true rectangle corners
	truth := []Point{{0, 0}, {6, 0}, {6, 3}, {0, 3}}
	for _, c := range rect.Corners {
		found := false
		for _, tr := range truth {
			if math.Abs(c.X-tr.X) < 1e-9 && math.Abs(c.Y-tr.Y) < 1e-9 {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("Corner %v does not match any expected corner", c)
		}
	}
}

// TestMinAreaRectRotated verifies the rectangle tracks a rotated point set
func TestMinAreaRectRotated(t *testing.T) {
	// A 10x4 rectangle rotated by 30 degrees
	angle := 30.0 * math.Pi / 180.0
	cosA, sinA := math.Cos(angle), math.Sin(angle)

	var points []Point
	for u := 0.0; u <= 10.0; u += 0.5 {
		for v := 0.0; v <= 4.0; v += 0.5 {
			points = append(points, Point{
				X: u*cosA - v*sinA,
				Y: u*sinA + v*cosA,
			})
		}
	}

	rect, ok := MinAreaRect(points)
	if !ok {
		t.Fatal("Expected a rectangle")
	}

	if math.Abs(rect.Area()-40.0) > 0.1 {
		t.Errorf("Expected area ~40.0, got %f", rect.Area())
	}

	// The long edge should be tilted by ~30 degrees from horizontal
	e1 := rect.Corners[1].Sub(rect.Corners[0])
	e2 := rect.Corners[3].Sub(rect.Corners[0])
	long := e1
	if e2.Norm() > e1.Norm() {
		long = e2
	}
	tilt := math.Abs(math.Atan2(long.Y, long.X)) * 180 / math.Pi
	if tilt > 90 {
		tilt = 180 - tilt
	}
	if math.Abs(tilt-30.0) > 1.0 {
		t.Errorf("Expected long edge tilt ~30 degrees, got %f", tilt)
	}
}

// TestMinAreaRectDegenerate verifies degenerate sets report no rectangle
func TestMinAreaRectDegenerate(t *testing.T) {
	if _, ok := MinAreaRect([]Point{{1, 1}, {2, 2}}); ok {
		t.Error("Expected no rectangle for a 2-point set")
	}
	if _, ok := MinAreaRect(nil); ok {
		t.Error("Expected no rectangle for an empty set")
	}
}

// TestLineAngleDeg verifies angles between direction vectors
func TestLineAngleDeg(t *testing.T) {
	cases := []struct {
		name     string
		d1, d2   Point
		expected float64
	}{
		{"parallel", Point{1, 0}, Point{2, 0}, 0},
		{"perpendicular", Point{1, 0}, Point{0, 1}, 90},
		{"45 degrees", Point{1, 0}, Point{1, 1}, 45},
		{"opposite directions", Point{1, 0}, Point{-1, 0.0000001}, 180},
		{"25 degree spread", Point{math.Cos(10 * math.Pi / 180), math.Sin(10 * math.Pi / 180)},
			Point{math.Cos(-15 * math.Pi / 180), math.Sin(-15 * math.Pi / 180)}, 25},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := LineAngleDeg(tc.d1, tc.d2)
			if math.Abs(got-tc.expected) > 0.001 {
				t.Errorf("Expected %f degrees, got %f", tc.expected, got)
			}
			if got < 0 || got >= 180 {
				t.Errorf("Angle %f outside [0,180)", got)
			}
		})
	}
}

// TestLineIntersection verifies the intersection of two crossing lines
func TestLineIntersection(t *testing.T) {
	p, ok := LineIntersection(Point{0, 0}, Point{2, 2}, Point{0, 2}, Point{2, 0})
	if !ok {
		t.Fatal("Expected an intersection")
	}
	if math.Abs(p.X-1) > 1e-9 || math.Abs(p.Y-1) > 1e-9 {
		t.Errorf("Expected intersection (1,1), got (%f,%f)", p.X, p.Y)
	}

	if _, ok := LineIntersection(Point{0, 0}, Point{1, 0}, Point{0, 1}, Point{1, 1}); ok {
		t.Error("Expected no intersection for parallel lines")
	}
}
