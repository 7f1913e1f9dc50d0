// Package report packages a measurement result for display and export:
// the Cobb measurement, the contributing vertebra landmarks, and the
// mask version they were derived from. It holds no algorithmic state.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"lsmeasure/pkg/cobb"
	"lsmeasure/pkg/landmark"
)

// PointReport is a 2D projection-plane coordinate in mm.
type PointReport struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// VertebraReport is one vertebra's landmark summary.
type VertebraReport struct {
	Label         int32          `json:"label" yaml:"label"`
	VoxelCount    int            `json:"voxelCount" yaml:"voxelCount"`
	CentroidMM    [3]float64     `json:"centroidMm" yaml:"centroidMm"`
	Corners       [4]PointReport `json:"corners,omitempty" yaml:"corners,omitempty"`
	SuperiorTilt  float64        `json:"superiorTiltDeg" yaml:"superiorTiltDeg"`
	InferiorTilt  float64        `json:"inferiorTiltDeg" yaml:"inferiorTiltDeg"`
	LateralOffset float64        `json:"lateralOffsetMm" yaml:"lateralOffsetMm"`
	Complete      bool           `json:"complete" yaml:"complete"`
}

// MeasurementReport is the Cobb measurement in export form.
type MeasurementReport struct {
	AngleDeg         float64        `json:"angleDeg" yaml:"angleDeg"`
	SuperiorLabel    int32          `json:"superiorLabel" yaml:"superiorLabel"`
	InferiorLabel    int32          `json:"inferiorLabel" yaml:"inferiorLabel"`
	ApexLabel        int32          `json:"apexLabel" yaml:"apexLabel"`
	SuperiorEndplate [2]PointReport `json:"superiorEndplate" yaml:"superiorEndplate"`
	InferiorEndplate [2]PointReport `json:"inferiorEndplate" yaml:"inferiorEndplate"`
}

// Report is the full export document for one measurement.
type Report struct {
	VolumeID    string    `json:"volumeId" yaml:"volumeId"`
	MaskVersion string    `json:"maskVersion" yaml:"maskVersion"`
	GeneratedAt time.Time `json:"generatedAt" yaml:"generatedAt"`

	Vertebrae   []VertebraReport   `json:"vertebrae" yaml:"vertebrae"`
	Measurement *MeasurementReport `json:"measurement,omitempty" yaml:"measurement,omitempty"`

	// Exclusions lists vertebrae left out of the angle computation and
	// why, one human-readable line each.
	Exclusions []string `json:"exclusions,omitempty" yaml:"exclusions,omitempty"`
}

// Build assembles a report from the landmark arena and an optional
// measurement. Pass nil when no angle could be computed; the vertebra
// summaries are still exported.
func Build(volumeID string, arena *landmark.Arena, meas *cobb.Measurement) Report {
	r := Report{
		VolumeID:    volumeID,
		MaskVersion: arena.MaskVersion,
		GeneratedAt: time.Now().UTC(),
	}

	for _, label := range arena.Order {
		v, ok := arena.Vertebrae[label]
		if !ok {
			continue
		}
		vr := VertebraReport{
			Label:         v.Label,
			VoxelCount:    v.VoxelCount,
			CentroidMM:    v.Centroid,
			SuperiorTilt:  v.SuperiorTilt,
			InferiorTilt:  v.InferiorTilt,
			LateralOffset: v.LateralOffset,
			Complete:      v.Complete,
		}
		if v.Complete {
			for i, c := range v.Corners {
				vr.Corners[i] = PointReport{X: c.X, Y: c.Y}
			}
		}
		r.Vertebrae = append(r.Vertebrae, vr)
	}

	for _, err := range arena.Incomplete() {
		r.Exclusions = append(r.Exclusions, err.Error())
	}

	if meas != nil {
		r.Measurement = &MeasurementReport{
			AngleDeg:      meas.AngleDeg,
			SuperiorLabel: meas.SuperiorLabel,
			InferiorLabel: meas.InferiorLabel,
			ApexLabel:     meas.ApexLabel,
			SuperiorEndplate: [2]PointReport{
				{X: meas.SuperiorEndplate[0].X, Y: meas.SuperiorEndplate[0].Y},
				{X: meas.SuperiorEndplate[1].X, Y: meas.SuperiorEndplate[1].Y},
			},
			InferiorEndplate: [2]PointReport{
				{X: meas.InferiorEndplate[0].X, Y: meas.InferiorEndplate[0].Y},
				{X: meas.InferiorEndplate[1].X, Y: meas.InferiorEndplate[1].Y},
			},
		}
	}
	return r
}

// Encode writes the report in the given format ("json" or "yaml").
func (r Report) Encode(w io.Writer, format string) error {
	switch strings.ToLower(format) {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		return enc.Encode(r)
	default:
		return fmt.Errorf("unsupported report format: %s", format)
	}
}

// Save writes the report to path, choosing the format from the file
// extension (.json, .yaml or .yml).
func (r Report) Save(path string) error {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	if ext == "" {
		return fmt.Errorf("report path %q has no format extension", path)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating report file: %w", err)
	}
	defer f.Close()

	if err := r.Encode(f, ext); err != nil {
		return err
	}
	return f.Close()
}
