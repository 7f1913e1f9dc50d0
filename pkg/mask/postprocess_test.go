package mask

import (
	"testing"

	"lsmeasure/pkg/volume"
)

var testSpacing = volume.Spacing{X: 1, Y: 1, Z: 1}

// rawWithBlocks builds a raw probability field with foreground boxes.
// Each box is given as [x0, x1, y0, y1, z0, z1] (inclusive bounds).
func rawWithBlocks(w, h, d int, boxes ...[6]int) []float64 {
	raw := make([]float64, w*h*d)
	for _, b := range boxes {
		for z := b[4]; z <= b[5]; z++ {
			for y := b[2]; y <= b[3]; y++ {
				for x := b[0]; x <= b[1]; x++ {
					raw[z*w*h+y*w+x] = 1.0
				}
			}
		}
	}
	return raw
}

// TestLabelComponentsSeparatesBlocks verifies disjoint blocks get distinct labels
func TestLabelComponentsSeparatesBlocks(t *testing.T) {
	w, h, d := 10, 10, 12
	raw := rawWithBlocks(w, h, d,
		[6]int{1, 3, 1, 3, 1, 3},
		[6]int{6, 8, 6, 8, 6, 8},
	)

	m, err := LabelComponents(raw, w, h, d, testSpacing, 0.5, Connect6)
	if err != nil {
		t.Fatalf("LabelComponents failed: %v", err)
	}

	if got := m.NumLabels(); got != 2 {
		t.Fatalf("Expected 2 components, got %d", got)
	}

	// Voxels within one block share a label, across blocks differ
	l1 := m.At(2, 2, 2)
	l2 := m.At(7, 7, 7)
	if l1 == Background || l2 == Background {
		t.Fatal("Foreground voxels labeled as background")
	}
	if l1 == l2 {
		t.Error("Disjoint components share a label")
	}
	if m.At(2, 3, 1) != l1 {
		t.Error("Connected voxels have different labels")
	}
	if m.At(0, 0, 0) != Background {
		t.Error("Background voxel labeled as foreground")
	}
}

// TestLabelComponentsConnectivity verifies diagonal touching merges only under 26-connectivity
func TestLabelComponentsConnectivity(t *testing.T) {
	w, h, d := 4, 4, 4
	// Two single voxels touching only at a corner
	raw := make([]float64, w*h*d)
	raw[0] = 1                 // (0,0,0)
	raw[1*w*h+1*w+1] = 1       // (1,1,1)

	m6, err := LabelComponents(raw, w, h, d, testSpacing, 0.5, Connect6)
	if err != nil {
		t.Fatalf("LabelComponents failed: %v", err)
	}
	if got := m6.NumLabels(); got != 2 {
		t.Errorf("Expected 2 components with 6-connectivity, got %d", got)
	}

	m26, err := LabelComponents(raw, w, h, d, testSpacing, 0.5, Connect26)
	if err != nil {
		t.Fatalf("LabelComponents failed: %v", err)
	}
	if got := m26.NumLabels(); got != 1 {
		t.Errorf("Expected 1 component with 26-connectivity, got %d", got)
	}
}

// TestLabelComponentsEmptyInput verifies empty inference output is a valid empty mask
func TestLabelComponentsEmptyInput(t *testing.T) {
	w, h, d := 5, 5, 5
	raw := make([]float64, w*h*d)

	m, err := LabelComponents(raw, w, h, d, testSpacing, 0.5, Connect6)
	if err != nil {
		t.Fatalf("Empty input should be accepted, got error: %v", err)
	}
	if got := m.NumLabels(); got != 0 {
		t.Errorf("Expected 0 labels for empty input, got %d", got)
	}
}

// TestLabelComponentsShapeMismatch verifies a length mismatch is rejected
func TestLabelComponentsShapeMismatch(t *testing.T) {
	if _, err := LabelComponents(make([]float64, 10), 5, 5, 5, testSpacing, 0.5, Connect6); err == nil {
		t.Error("Expected an error for mismatched raw field length")
	}
}

// TestFilterSmallComponents verifies threshold filtering and relabeling
func TestFilterSmallComponents(t *testing.T) {
	w, h, d := 10, 10, 10
	raw := rawWithBlocks(w, h, d,
		[6]int{0, 2, 0, 2, 0, 2}, // 27 voxels
		[6]int{5, 5, 5, 5, 5, 5}, // 1 voxel island
		[6]int{7, 9, 7, 9, 7, 9}, // 27 voxels
	)

	m, err := LabelComponents(raw, w, h, d, testSpacing, 0.5, Connect6)
	if err != nil {
		t.Fatalf("LabelComponents failed: %v", err)
	}
	if got := m.NumLabels(); got != 3 {
		t.Fatalf("Expected 3 components before filtering, got %d", got)
	}

	filtered := FilterSmallComponents(m, 10)
	if got := filtered.NumLabels(); got != 2 {
		t.Errorf("Expected exactly 2 components after filtering, got %d", got)
	}

	// Labels must be contiguous 1..N
	for i, l := range filtered.LabelSet() {
		if l != int32(i+1) {
			t.Errorf("Labels not contiguous after filtering: %v", filtered.LabelSet())
			break
		}
	}

	// The island is gone
	if filtered.At(5, 5, 5) != Background {
		t.Error("Small island survived filtering")
	}

	// Input mask untouched
	if m.NumLabels() != 3 {
		t.Error("FilterSmallComponents mutated its input")
	}
}

// TestOrderSuperiorToInferior verifies anatomical renumbering and idempotence
func TestOrderSuperiorToInferior(t *testing.T) {
	w, h, d := 6, 6, 20
	// Three blocks stacked along z; scan order labels them inferior-first,
	// so ordering must reverse the numbering.
	raw := rawWithBlocks(w, h, d,
		[6]int{1, 4, 1, 4, 1, 4},   // inferior
		[6]int{1, 4, 1, 4, 7, 10},  // middle
		[6]int{1, 4, 1, 4, 14, 17}, // superior
	)

	m, err := LabelComponents(raw, w, h, d, testSpacing, 0.5, Connect6)
	if err != nil {
		t.Fatalf("LabelComponents failed: %v", err)
	}

	ordered := OrderSuperiorToInferior(m)

	if got := ordered.At(2, 2, 15); got != 1 {
		t.Errorf("Most superior block should be label 1, got %d", got)
	}
	if got := ordered.At(2, 2, 8); got != 2 {
		t.Errorf("Middle block should be label 2, got %d", got)
	}
	if got := ordered.At(2, 2, 2); got != 3 {
		t.Errorf("Most inferior block should be label 3, got %d", got)
	}

	// Idempotence: ordering an already ordered mask changes nothing
	again := OrderSuperiorToInferior(ordered)
	for i := range ordered.Labels {
		if again.Labels[i] != ordered.Labels[i] {
			t.Fatal("OrderSuperiorToInferior is not idempotent")
		}
	}
}

// TestOrderDeterminism verifies identical input yields identical numbering
func TestOrderDeterminism(t *testing.T) {
	w, h, d := 8, 8, 16
	raw := rawWithBlocks(w, h, d,
		[6]int{0, 2, 0, 2, 0, 2},
		[6]int{5, 7, 5, 7, 0, 2}, // same centroid z as the first: tie
		[6]int{2, 5, 2, 5, 10, 13},
	)

	first, err := LabelComponents(raw, w, h, d, testSpacing, 0.5, Connect6)
	if err != nil {
		t.Fatalf("LabelComponents failed: %v", err)
	}
	a := OrderSuperiorToInferior(first)

	for run := 0; run < 5; run++ {
		m, err := LabelComponents(raw, w, h, d, testSpacing, 0.5, Connect6)
		if err != nil {
			t.Fatalf("LabelComponents failed: %v", err)
		}
		b := OrderSuperiorToInferior(m)
		for i := range a.Labels {
			if a.Labels[i] != b.Labels[i] {
				t.Fatalf("Run %d produced different numbering at voxel %d", run, i)
			}
		}
	}

	// The z-tied pair must be ordered by first-voxel encounter: the block
	// containing (0,0,0) was encountered first.
	if a.At(1, 1, 1) >= a.At(6, 6, 1) {
		t.Error("Centroid tie not broken by first-voxel-encounter order")
	}
}

// TestSmoothLabelsRemovesSpur verifies majority smoothing erodes a 1-voxel spur
func TestSmoothLabelsRemovesSpur(t *testing.T) {
	w, h, d := 9, 9, 9
	raw := rawWithBlocks(w, h, d, [6]int{2, 6, 2, 6, 2, 6})

	m, err := LabelComponents(raw, w, h, d, testSpacing, 0.5, Connect6)
	if err != nil {
		t.Fatalf("LabelComponents failed: %v", err)
	}

	// Attach a single-voxel spur to the block
	spur := m.Index(7, 4, 4)
	m.Labels[spur] = m.At(6, 4, 4)

	smoothed := SmoothLabels(m, 1)
	if smoothed.Labels[spur] != Background {
		t.Error("Expected majority smoothing to remove the 1-voxel spur")
	}

	// The block interior survives
	if smoothed.At(4, 4, 4) == Background {
		t.Error("Smoothing removed block interior")
	}

	// Input untouched
	if m.Labels[spur] == Background {
		t.Error("SmoothLabels mutated its input")
	}
}

// TestCentroids verifies physical-mm centroid computation
func TestCentroids(t *testing.T) {
	w, h, d := 5, 5, 5
	raw := rawWithBlocks(w, h, d, [6]int{1, 3, 1, 3, 1, 3})

	m, err := LabelComponents(raw, w, h, d, volume.Spacing{X: 2, Y: 2, Z: 2}, 0.5, Connect6)
	if err != nil {
		t.Fatalf("LabelComponents failed: %v", err)
	}

	c := m.Centroids()
	got, ok := c[1]
	if !ok {
		t.Fatal("Missing centroid for label 1")
	}
	// Block center is voxel (2,2,2), spacing 2mm -> 4mm
	for axis := 0; axis < 3; axis++ {
		if got[axis] != 4.0 {
			t.Errorf("Centroid axis %d: expected 4.0mm, got %f", axis, got[axis])
		}
	}
}
