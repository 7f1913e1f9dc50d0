package report

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"os"

	"lsmeasure/internal/geom"
	"lsmeasure/pkg/cobb"
	"lsmeasure/pkg/landmark"
	"lsmeasure/pkg/mask"
	"lsmeasure/pkg/volume"
)

// Overlay renders a mid-sagittal slice of the volume with the label
// mask tinted per vertebra and the selected endplate lines drawn on
// top, for visual verification of a measurement.
type Overlay struct {
	vol *volume.Volume
	m   *mask.LabelMask
}

// NewOverlay pairs a volume with a mask of identical shape.
func NewOverlay(vol *volume.Volume, m *mask.LabelMask) (*Overlay, error) {
	if vol.Width != m.Width || vol.Height != m.Height || vol.Depth != m.Depth {
		return nil, fmt.Errorf("volume %dx%dx%d and mask %dx%dx%d shapes differ",
			vol.Width, vol.Height, vol.Depth, m.Width, m.Height, m.Depth)
	}
	return &Overlay{vol: vol, m: m}, nil
}

// palette holds the per-label tint colors, reused cyclically.
var palette = []color.RGBA{
	{R: 230, G: 80, B: 80},
	{R: 80, G: 180, B: 80},
	{R: 90, G: 120, B: 235},
	{R: 220, G: 190, B: 60},
	{R: 190, G: 90, B: 210},
	{R: 70, G: 200, B: 200},
}

func labelColor(l int32) color.RGBA {
	return palette[int(l-1)%len(palette)]
}

var (
	superiorLineColor = color.RGBA{R: 255, G: 60, B: 60, A: 255}
	inferiorLineColor = color.RGBA{R: 60, G: 120, B: 255, A: 255}
)

// RenderSagittal draws the mid-sagittal slice (image x axis is
// anterior-posterior, image rows run superior to inferior) with label
// tints, plus the measured endplate lines when meas is non-nil.
func (o *Overlay) RenderSagittal(arena *landmark.Arena, meas *cobb.Measurement) image.Image {
	y0 := o.vol.Height / 2
	img := image.NewRGBA(image.Rect(0, 0, o.vol.Width, o.vol.Depth))

	for z := 0; z < o.vol.Depth; z++ {
		row := o.vol.Depth - 1 - z
		for x := 0; x < o.vol.Width; x++ {
			val := o.vol.At(x, y0, z)
			gray := uint8(math.Max(0, math.Min(255, val*255)))
			c := color.RGBA{R: gray, G: gray, B: gray, A: 255}

			if l := o.m.At(x, y0, z); l != mask.Background {
				tint := labelColor(l)
				c.R = uint8((uint16(c.R) + uint16(tint.R)) / 2)
				c.G = uint8((uint16(c.G) + uint16(tint.G)) / 2)
				c.B = uint8((uint16(c.B) + uint16(tint.B)) / 2)
			}
			img.SetRGBA(x, row, c)
		}
	}

	if meas != nil && arena != nil {
		lat := float64(y0) * o.vol.Spacing.Y
		o.drawEndplate(img, arena.Frame, lat, meas.SuperiorEndplate, superiorLineColor)
		o.drawEndplate(img, arena.Frame, lat, meas.InferiorEndplate, inferiorLineColor)
	}
	return img
}

// drawEndplate maps a projection-plane segment back to slice pixels
// and draws it.
func (o *Overlay) drawEndplate(img *image.RGBA, f landmark.Frame, lat float64, seg [2]geom.Point, c color.RGBA) {
	x0, y0 := o.planeToPixel(f, seg[0], lat)
	x1, y1 := o.planeToPixel(f, seg[1], lat)
	drawLine(img, x0, y0, x1, y1, c)
}

// planeToPixel converts projection-plane mm coordinates to slice pixel
// coordinates by reconstructing the 3D point and dropping its lateral
// component.
func (o *Overlay) planeToPixel(f landmark.Frame, p geom.Point, lat float64) (int, int) {
	px := p.X*f.U[0] + p.Y*f.V[0] + lat*f.N[0]
	pz := p.X*f.U[2] + p.Y*f.V[2] + lat*f.N[2]

	col := int(math.Round(px / o.vol.Spacing.X))
	row := o.vol.Depth - 1 - int(math.Round(pz/o.vol.Spacing.Z))
	return col, row
}

// drawLine rasterizes a segment with a DDA walk, clipping to the image
// bounds.
func drawLine(img *image.RGBA, x0, y0, x1, y1 int, c color.RGBA) {
	dx := x1 - x0
	dy := y1 - y0
	steps := int(math.Max(math.Abs(float64(dx)), math.Abs(float64(dy))))
	if steps == 0 {
		setClipped(img, x0, y0, c)
		return
	}
	for i := 0; i <= steps; i++ {
		t := float64(i) / float64(steps)
		x := x0 + int(math.Round(t*float64(dx)))
		y := y0 + int(math.Round(t*float64(dy)))
		setClipped(img, x, y, c)
	}
}

func setClipped(img *image.RGBA, x, y int, c color.RGBA) {
	if image.Pt(x, y).In(img.Bounds()) {
		img.SetRGBA(x, y, c)
	}
}

// SaveJPEG writes a rendered overlay to path.
func SaveJPEG(img image.Image, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating overlay file: %w", err)
	}
	defer f.Close()

	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: 90}); err != nil {
		return fmt.Errorf("encoding overlay: %w", err)
	}
	return f.Close()
}
