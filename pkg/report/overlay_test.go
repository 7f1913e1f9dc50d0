package report

import (
	"image/color"
	"path/filepath"
	"testing"

	"lsmeasure/pkg/mask"
	"lsmeasure/pkg/volume"
)

func overlayFixture(t *testing.T) (*volume.Volume, *mask.LabelMask) {
	t.Helper()
	const w, h, d = 16, 8, 20
	data := make([]float64, w*h*d)
	for i := range data {
		data[i] = 0.5
	}
	vol, err := volume.New(data, w, h, d, volume.Spacing{X: 1, Y: 1, Z: 1})
	if err != nil {
		t.Fatalf("Failed to create volume: %v", err)
	}

	m := mask.NewForVolume(vol)
	for z := 12; z <= 16; z++ {
		for y := 2; y <= 5; y++ {
			for x := 4; x <= 11; x++ {
				m.Labels[m.Index(x, y, z)] = 1
			}
		}
	}
	return vol, m
}

func TestNewOverlayRejectsShapeMismatch(t *testing.T) {
	vol, _ := overlayFixture(t)
	wrong := mask.New(4, 4, 4, vol.Spacing)
	if _, err := NewOverlay(vol, wrong); err == nil {
		t.Error("Expected shape mismatch error")
	}
}

func TestRenderSagittal(t *testing.T) {
	vol, m := overlayFixture(t)
	o, err := NewOverlay(vol, m)
	if err != nil {
		t.Fatalf("NewOverlay failed: %v", err)
	}

	img := o.RenderSagittal(nil, nil)
	b := img.Bounds()
	if b.Dx() != vol.Width || b.Dy() != vol.Depth {
		t.Fatalf("Overlay is %dx%d, expected %dx%d", b.Dx(), b.Dy(), vol.Width, vol.Depth)
	}

	// A labeled voxel on the mid-sagittal plane gets a tint; the row is
	// flipped so superior (large z) lands near the top.
	labeled := img.At(6, vol.Depth-1-14)
	plain := img.At(1, vol.Depth-1-14)
	lr, lg, lb, _ := labeled.RGBA()
	pr, pg, pb, _ := plain.RGBA()
	if lr == pr && lg == pg && lb == pb {
		t.Error("Labeled voxel is not tinted in the overlay")
	}
	if pr != pg || pg != pb {
		t.Error("Background voxel should stay gray")
	}
}

func TestRenderSagittalDrawsEndplates(t *testing.T) {
	vol, m := overlayFixture(t)
	o, err := NewOverlay(vol, m)
	if err != nil {
		t.Fatalf("NewOverlay failed: %v", err)
	}

	arena := testArena()
	// Endplate segments placed inside this small fixture's bounds.
	meas := testMeasurement()
	meas.SuperiorEndplate[0].Y, meas.SuperiorEndplate[1].Y = 14, 14
	meas.InferiorEndplate[0].Y, meas.InferiorEndplate[1].Y = 12, 12
	img := o.RenderSagittal(arena, meas)

	found := false
	want := superiorLineColor
	for x := 4; x <= 15 && !found; x++ {
		if c, ok := img.At(x, vol.Depth-1-14).(color.RGBA); ok && c == want {
			found = true
		}
	}
	if !found {
		t.Error("Superior endplate line not drawn on the overlay")
	}
}

func TestSaveJPEG(t *testing.T) {
	vol, m := overlayFixture(t)
	o, err := NewOverlay(vol, m)
	if err != nil {
		t.Fatalf("NewOverlay failed: %v", err)
	}
	img := o.RenderSagittal(nil, nil)

	path := filepath.Join(t.TempDir(), "overlay.jpg")
	if err := SaveJPEG(img, path); err != nil {
		t.Fatalf("SaveJPEG failed: %v", err)
	}
}
