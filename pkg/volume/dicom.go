package volume

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// dicomSlice holds one parsed series slice before assembly.
type dicomSlice struct {
	instance   int
	filename   string
	rows, cols int
	pixels     []float64
}

// LoadDICOMSeries loads a directory of single-frame DICOM files as one
// volume. Slices are ordered by InstanceNumber (filename as tie-break),
// which for the supported lumbar series runs inferior to superior along
// z. Pixel spacing is taken from PixelSpacing and the slice spacing from
// SpacingBetweenSlices, falling back to SliceThickness.
func LoadDICOMSeries(dir string) (*Volume, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read series directory: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".dcm" || ext == "" {
			files = append(files, e.Name())
		}
	}
	if len(files) == 0 {
		return nil, &InvalidVolumeError{Reason: fmt.Sprintf("no DICOM files in %s", dir)}
	}

	var (
		slices       []dicomSlice
		rowSpacing   float64
		colSpacing   float64
		sliceSpacing float64
	)

	for _, name := range files {
		path := filepath.Join(dir, name)
		ds, err := dicom.ParseFile(path, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", name, err)
		}

		pixelEl, err := ds.FindElementByTag(tag.PixelData)
		if err != nil {
			return nil, fmt.Errorf("%s has no pixel data: %w", name, err)
		}
		info := dicom.MustGetPixelDataInfo(pixelEl.Value)
		if len(info.Frames) != 1 {
			return nil, &InvalidVolumeError{Reason: fmt.Sprintf("%s: expected a single-frame file, got %d frames", name, len(info.Frames))}
		}
		native, err := info.Frames[0].GetNativeFrame()
		if err != nil {
			return nil, fmt.Errorf("%s: pixel data is not native: %w", name, err)
		}

		sl := dicomSlice{
			filename: name,
			rows:     native.Rows,
			cols:     native.Cols,
			pixels:   make([]float64, len(native.Data)),
		}
		for i, sample := range native.Data {
			sl.pixels[i] = float64(sample[0])
		}

		if n, err := firstString(ds, tag.InstanceNumber); err == nil {
			if v, err := strconv.Atoi(strings.TrimSpace(n)); err == nil {
				sl.instance = v
			}
		}

		// Geometry tags are taken from the first file that carries them;
		// a consistent series repeats them on every slice.
		if rowSpacing == 0 {
			if vals, err := stringValues(ds, tag.PixelSpacing); err == nil && len(vals) == 2 {
				rowSpacing, _ = strconv.ParseFloat(strings.TrimSpace(vals[0]), 64)
				colSpacing, _ = strconv.ParseFloat(strings.TrimSpace(vals[1]), 64)
			}
		}
		if sliceSpacing == 0 {
			if s, err := firstString(ds, tag.SpacingBetweenSlices); err == nil {
				sliceSpacing, _ = strconv.ParseFloat(strings.TrimSpace(s), 64)
			}
		}
		if sliceSpacing == 0 {
			if s, err := firstString(ds, tag.SliceThickness); err == nil {
				sliceSpacing, _ = strconv.ParseFloat(strings.TrimSpace(s), 64)
			}
		}

		slices = append(slices, sl)
	}

	sort.Slice(slices, func(i, j int) bool {
		if slices[i].instance != slices[j].instance {
			return slices[i].instance < slices[j].instance
		}
		return slices[i].filename < slices[j].filename
	})

	rows, cols := slices[0].rows, slices[0].cols
	for _, sl := range slices {
		if sl.rows != rows || sl.cols != cols {
			return nil, &InvalidVolumeError{Reason: fmt.Sprintf("%s: slice dimensions %dx%d differ from series %dx%d", sl.filename, sl.cols, sl.rows, cols, rows)}
		}
	}

	data := make([]float64, cols*rows*len(slices))
	for z, sl := range slices {
		copy(data[z*cols*rows:(z+1)*cols*rows], sl.pixels)
	}

	return New(data, cols, rows, len(slices), Spacing{X: colSpacing, Y: rowSpacing, Z: sliceSpacing})
}

// LoadRaw loads a volume from a little-endian float64 binary file with
// the given dimensions, the format the pipeline itself writes for
// intermediate volumes.
func LoadRaw(path string, width, height, depth int, spacing Spacing) (*Volume, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open raw volume: %w", err)
	}
	defer f.Close()

	data := make([]float64, width*height*depth)
	if err := binary.Read(f, binary.LittleEndian, data); err != nil {
		return nil, &InvalidVolumeError{Reason: fmt.Sprintf("raw volume %s shorter than %dx%dx%d", path, width, height, depth)}
	}

	return New(data, width, height, depth, spacing)
}

// SaveRaw writes the volume data as little-endian float64, the inverse
// of LoadRaw.
func SaveRaw(v *Volume, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create raw volume file: %w", err)
	}
	defer f.Close()

	if err := binary.Write(f, binary.LittleEndian, v.Data); err != nil {
		return fmt.Errorf("failed to write raw volume: %w", err)
	}
	return nil
}

func firstString(ds dicom.Dataset, t tag.Tag) (string, error) {
	vals, err := stringValues(ds, t)
	if err != nil {
		return "", err
	}
	if len(vals) == 0 {
		return "", fmt.Errorf("tag %v has no values", t)
	}
	return vals[0], nil
}

func stringValues(ds dicom.Dataset, t tag.Tag) ([]string, error) {
	el, err := ds.FindElementByTag(t)
	if err != nil {
		return nil, err
	}
	vals, ok := el.Value.GetValue().([]string)
	if !ok {
		return nil, fmt.Errorf("tag %v is not a string value", t)
	}
	return vals, nil
}
