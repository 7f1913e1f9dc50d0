package volume

import (
	"errors"
	"math"
	"path/filepath"
	"testing"
)

// TestNewValidation verifies malformed inputs are rejected with InvalidVolumeError
func TestNewValidation(t *testing.T) {
	good := Spacing{X: 1, Y: 1, Z: 1}

	cases := []struct {
		name    string
		data    []float64
		w, h, d int
		spacing Spacing
		wantErr bool
	}{
		{"valid", make([]float64, 2*3*4), 2, 3, 4, good, false},
		{"zero spacing", make([]float64, 8), 2, 2, 2, Spacing{X: 0, Y: 1, Z: 1}, true},
		{"negative spacing", make([]float64, 8), 2, 2, 2, Spacing{X: 1, Y: -1, Z: 1}, true},
		{"length mismatch", make([]float64, 7), 2, 2, 2, good, true},
		{"one non-trivial dimension", make([]float64, 5), 5, 1, 1, good, true},
		{"planar volume is accepted", make([]float64, 12), 3, 4, 1, good, false},
		{"zero dimension", nil, 0, 2, 2, good, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(tc.data, tc.w, tc.h, tc.d, tc.spacing)
			if tc.wantErr {
				var ive *InvalidVolumeError
				if !errors.As(err, &ive) {
					t.Errorf("Expected InvalidVolumeError, got %v", err)
				}
			} else if err != nil {
				t.Errorf("Unexpected error: %v", err)
			}
		})
	}
}

// TestNewDoesNotMutateInput verifies the constructor leaves caller data intact
func TestNormalizeDoesNotMutateInput(t *testing.T) {
	data := []float64{0, 10, 20, 30, 40, 50, 60, 70}
	v, err := New(data, 2, 2, 2, Spacing{X: 1, Y: 1, Z: 1})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	norm, err := v.Normalize(0, 100)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}

	if v.Data[7] != 70 {
		t.Error("Normalize mutated the source volume")
	}
	if math.Abs(norm.Data[0]-0) > 1e-9 || math.Abs(norm.Data[7]-1) > 1e-9 {
		t.Errorf("Expected range [0,1], got [%f,%f]", norm.Data[0], norm.Data[7])
	}
}

// TestNormalizeClipping verifies percentile clipping saturates outliers
func TestNormalizeClipping(t *testing.T) {
	// Mostly uniform data with one extreme outlier
	data := make([]float64, 1000)
	for i := range data {
		data[i] = float64(i % 100)
	}
	data[999] = 1e9

	v, err := New(data, 10, 10, 10, Spacing{X: 1, Y: 1, Z: 1})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	norm, err := v.Normalize(1, 99)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}

	for i, val := range norm.Data {
		if val < 0 || val > 1 {
			t.Fatalf("Value %f at %d outside [0,1]", val, i)
		}
	}

	// The outlier must saturate at exactly 1
	if norm.Data[999] != 1 {
		t.Errorf("Expected clipped outlier to be 1, got %f", norm.Data[999])
	}
}

// TestNormalizeConstantVolume verifies a flat volume normalizes to zeros
func TestNormalizeConstantVolume(t *testing.T) {
	data := make([]float64, 27)
	for i := range data {
		data[i] = 42
	}
	v, err := New(data, 3, 3, 3, Spacing{X: 1, Y: 1, Z: 1})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	norm, err := v.Normalize(0, 100)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	for _, val := range norm.Data {
		if val != 0 {
			t.Fatalf("Expected all zeros, got %f", val)
		}
	}
}

// TestResampleIsotropic verifies dimensions and spacing after resampling
func TestResampleIsotropic(t *testing.T) {
	// 4x4x2 volume with 1x1x3 mm spacing: z is stretched
	data := make([]float64, 4*4*2)
	for z := 0; z < 2; z++ {
		for y := 0; y < 4; y++ {
			for x := 0; x < 4; x++ {
				data[z*16+y*4+x] = float64(z) // gradient along z
			}
		}
	}

	v, err := New(data, 4, 4, 2, Spacing{X: 1, Y: 1, Z: 3})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	res, err := v.Resample(1.0, 2)
	if err != nil {
		t.Fatalf("Resample failed: %v", err)
	}

	if res.Width != 4 || res.Height != 4 {
		t.Errorf("Expected in-plane dimensions preserved, got %dx%d", res.Width, res.Height)
	}
	if res.Depth != 6 {
		t.Errorf("Expected depth 6 after 3mm->1mm resampling, got %d", res.Depth)
	}
	if !res.Spacing.IsIsotropic(1e-12) {
		t.Errorf("Expected isotropic spacing, got %+v", res.Spacing)
	}

	// Gradient must be monotonically non-decreasing along z
	for z := 1; z < res.Depth; z++ {
		if res.At(0, 0, z) < res.At(0, 0, z-1)-1e-9 {
			t.Errorf("Gradient not monotone at z=%d: %f < %f", z, res.At(0, 0, z), res.At(0, 0, z-1))
		}
	}

	// Source volume untouched
	if v.Depth != 2 || v.Data[16] != 1 {
		t.Error("Resample mutated the source volume")
	}
}

// TestResampleInvalidTarget verifies a non-positive target spacing is rejected
func TestResampleInvalidTarget(t *testing.T) {
	v, err := New(make([]float64, 8), 2, 2, 2, Spacing{X: 1, Y: 1, Z: 1})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	var ive *InvalidVolumeError
	if _, err := v.Resample(0, 1); !errors.As(err, &ive) {
		t.Errorf("Expected InvalidVolumeError, got %v", err)
	}
}

// TestResampleWorkerCountInvariant verifies the worker pool size never
// changes the result, and that workers < 1 falls back to a sane default
func TestResampleWorkerCountInvariant(t *testing.T) {
	data := make([]float64, 5*4*6)
	for i := range data {
		data[i] = float64(i%17) / 16
	}
	v, err := New(data, 5, 4, 6, Spacing{X: 1, Y: 1, Z: 2})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	base, err := v.Resample(1.0, 1)
	if err != nil {
		t.Fatalf("Resample failed: %v", err)
	}

	for _, workers := range []int{0, 2, 8} {
		res, err := v.Resample(1.0, workers)
		if err != nil {
			t.Fatalf("Resample with %d workers failed: %v", workers, err)
		}
		for i := range base.Data {
			if res.Data[i] != base.Data[i] {
				t.Fatalf("Voxel %d differs with %d workers: %f != %f",
					i, workers, res.Data[i], base.Data[i])
			}
		}
	}
}

// TestRawRoundTrip verifies SaveRaw/LoadRaw preserve voxel data exactly
func TestRawRoundTrip(t *testing.T) {
	data := make([]float64, 3*3*3)
	for i := range data {
		data[i] = float64(i) * 0.25
	}
	v, err := New(data, 3, 3, 3, Spacing{X: 1, Y: 1, Z: 1})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	path := filepath.Join(t.TempDir(), "vol.raw")
	if err := SaveRaw(v, path); err != nil {
		t.Fatalf("SaveRaw failed: %v", err)
	}

	loaded, err := LoadRaw(path, 3, 3, 3, v.Spacing)
	if err != nil {
		t.Fatalf("LoadRaw failed: %v", err)
	}

	for i := range data {
		if loaded.Data[i] != data[i] {
			t.Fatalf("Voxel %d differs: %f != %f", i, loaded.Data[i], data[i])
		}
	}
}

// TestLoadDICOMSeriesEmptyDir verifies an empty directory is rejected
func TestLoadDICOMSeriesEmptyDir(t *testing.T) {
	var ive *InvalidVolumeError
	if _, err := LoadDICOMSeries(t.TempDir()); !errors.As(err, &ive) {
		t.Errorf("Expected InvalidVolumeError for empty directory, got %v", err)
	}
}
