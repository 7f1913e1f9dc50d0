// Package volume provides the 3D MR volume representation used by the
// measurement pipeline, along with loading, isotropic resampling and
// intensity normalization.
//
// Axis convention throughout the module: x runs anterior to posterior,
// y runs left to right, and z runs inferior to superior. Voxel data is
// stored as a flat array in row-major order, indexed z*W*H + y*W + x.
package volume

import (
	"fmt"
	"math"
	"runtime"
	"sort"
	"sync"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat"
)

// Spacing holds the physical voxel spacing in mm along each axis.
type Spacing struct {
	X, Y, Z float64
}

// IsIsotropic reports whether all three spacings are equal within tol.
func (s Spacing) IsIsotropic(tol float64) bool {
	return math.Abs(s.X-s.Y) <= tol && math.Abs(s.Y-s.Z) <= tol
}

// InvalidVolumeError indicates malformed input: non-positive spacing,
// mismatched data length, or fewer than two non-trivial spatial
// dimensions. It is fatal to the load; nothing downstream runs.
type InvalidVolumeError struct {
	Reason string
}

func (e *InvalidVolumeError) Error() string {
	return fmt.Sprintf("invalid volume: %s", e.Reason)
}

// Volume is an immutable 3D scalar intensity volume with spacing
// metadata. All pipeline stages treat it as read-only; operations that
// change voxel data return a new Volume.
type Volume struct {
	// Data is the voxel intensities as a flat array, indexed z*W*H + y*W + x.
	Data []float64

	// Width, Height and Depth are the voxel counts along x, y and z.
	Width, Height, Depth int

	// Spacing is the physical voxel spacing in mm.
	Spacing Spacing

	// ID identifies the volume across a session lifetime, including
	// save/resume round trips.
	ID string
}

// New validates the raw array and spacing and wraps them in a Volume.
// The data slice is used directly, not copied; callers hand over
// ownership.
func New(data []float64, width, height, depth int, spacing Spacing) (*Volume, error) {
	if spacing.X <= 0 || spacing.Y <= 0 || spacing.Z <= 0 {
		return nil, &InvalidVolumeError{Reason: fmt.Sprintf("non-positive spacing (%g, %g, %g)", spacing.X, spacing.Y, spacing.Z)}
	}
	if width < 1 || height < 1 || depth < 1 {
		return nil, &InvalidVolumeError{Reason: fmt.Sprintf("non-positive dimensions %dx%dx%d", width, height, depth)}
	}
	if len(data) != width*height*depth {
		return nil, &InvalidVolumeError{Reason: fmt.Sprintf("data length %d does not match dimensions %dx%dx%d", len(data), width, height, depth)}
	}

	nontrivial := 0
	for _, n := range []int{width, height, depth} {
		if n > 1 {
			nontrivial++
		}
	}
	if nontrivial < 2 {
		return nil, &InvalidVolumeError{Reason: fmt.Sprintf("fewer than 2 non-trivial spatial dimensions (%dx%dx%d)", width, height, depth)}
	}

	return &Volume{
		Data:    data,
		Width:   width,
		Height:  height,
		Depth:   depth,
		Spacing: spacing,
		ID:      uuid.NewString(),
	}, nil
}

// Index converts voxel coordinates to the flat array index.
func (v *Volume) Index(x, y, z int) int {
	return z*v.Width*v.Height + y*v.Width + x
}

// At returns the intensity at the given voxel coordinates.
func (v *Volume) At(x, y, z int) float64 {
	return v.Data[v.Index(x, y, z)]
}

// NumVoxels returns the total voxel count.
func (v *Volume) NumVoxels() int {
	return v.Width * v.Height * v.Depth
}

// sample performs trilinear interpolation at continuous voxel
// coordinates, clamping to the volume boundary.
func (v *Volume) sample(fx, fy, fz float64) float64 {
	clamp := func(f float64, n int) (int, int, float64) {
		if f <= 0 {
			return 0, 0, 0
		}
		if f >= float64(n-1) {
			return n - 1, n - 1, 0
		}
		i := int(math.Floor(f))
		return i, i + 1, f - float64(i)
	}

	x0, x1, tx := clamp(fx, v.Width)
	y0, y1, ty := clamp(fy, v.Height)
	z0, z1, tz := clamp(fz, v.Depth)

	c000 := v.At(x0, y0, z0)
	c100 := v.At(x1, y0, z0)
	c010 := v.At(x0, y1, z0)
	c110 := v.At(x1, y1, z0)
	c001 := v.At(x0, y0, z1)
	c101 := v.At(x1, y0, z1)
	c011 := v.At(x0, y1, z1)
	c111 := v.At(x1, y1, z1)

	c00 := c000*(1-tx) + c100*tx
	c10 := c010*(1-tx) + c110*tx
	c01 := c001*(1-tx) + c101*tx
	c11 := c011*(1-tx) + c111*tx

	c0 := c00*(1-ty) + c10*ty
	c1 := c01*(1-ty) + c11*ty

	return c0*(1-tz) + c1*tz
}

// Resample produces a new Volume at the target isotropic spacing using
// trilinear interpolation. The receiver is left untouched. Output slices
// are computed by workers goroutines pulling z-slices from a shared
// queue; workers < 1 uses all available cores.
func (v *Volume) Resample(target float64, workers int) (*Volume, error) {
	if target <= 0 {
		return nil, &InvalidVolumeError{Reason: fmt.Sprintf("non-positive target spacing %g", target)}
	}
	if workers < 1 {
		workers = runtime.NumCPU()
	}

	dim := func(n int, spacing float64) int {
		d := int(math.Round(float64(n) * spacing / target))
		if d < 1 {
			d = 1
		}
		return d
	}
	nw := dim(v.Width, v.Spacing.X)
	nh := dim(v.Height, v.Spacing.Y)
	nd := dim(v.Depth, v.Spacing.Z)

	out := make([]float64, nw*nh*nd)

	slices := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for z := range slices {
				fz := float64(z) * target / v.Spacing.Z
				for y := 0; y < nh; y++ {
					fy := float64(y) * target / v.Spacing.Y
					for x := 0; x < nw; x++ {
						fx := float64(x) * target / v.Spacing.X
						out[z*nw*nh+y*nw+x] = v.sample(fx, fy, fz)
					}
				}
			}
		}()
	}
	for z := 0; z < nd; z++ {
		slices <- z
	}
	close(slices)
	wg.Wait()

	res := &Volume{
		Data:    out,
		Width:   nw,
		Height:  nh,
		Depth:   nd,
		Spacing: Spacing{X: target, Y: target, Z: target},
		ID:      v.ID,
	}
	return res, nil
}

// Normalize rescales intensities to [0, 1], clipping at the given lower
// and upper percentiles (e.g. 0.5 and 99.5) before the min-max scaling.
// A constant volume normalizes to all zeros. The receiver is left
// untouched.
func (v *Volume) Normalize(lowPct, highPct float64) (*Volume, error) {
	if lowPct < 0 || highPct > 100 || lowPct >= highPct {
		return nil, fmt.Errorf("invalid percentile range [%g, %g]", lowPct, highPct)
	}

	sorted := make([]float64, len(v.Data))
	copy(sorted, v.Data)
	sort.Float64s(sorted)

	lo := stat.Quantile(lowPct/100, stat.LinInterp, sorted, nil)
	hi := stat.Quantile(highPct/100, stat.LinInterp, sorted, nil)

	out := make([]float64, len(v.Data))
	if hi > lo {
		scale := 1 / (hi - lo)
		for i, val := range v.Data {
			val = (val - lo) * scale
			if val < 0 {
				val = 0
			} else if val > 1 {
				val = 1
			}
			out[i] = val
		}
	}

	res := *v
	res.Data = out
	return &res, nil
}
