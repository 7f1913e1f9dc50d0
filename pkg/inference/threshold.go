package inference

import (
	"context"
	"math"

	"lsmeasure/pkg/volume"
)

// ThresholdEngine is the built-in fallback segmentation engine. It
// separates bone from soft tissue with an Otsu split of the intensity
// histogram, then widens the foreground band to mean - lowSigma*sigma ..
// mean + highSigma*sigma of the bright class. Deterministic for a given
// volume, unlike a stochastic model collaborator.
type ThresholdEngine struct {
	// Bins is the histogram resolution for the Otsu split.
	Bins int

	// LowSigma and HighSigma set the band half-widths in units of the
	// foreground class standard deviation.
	LowSigma  float64
	HighSigma float64
}

// NewThresholdEngine returns an engine with the default band parameters.
func NewThresholdEngine() *ThresholdEngine {
	return &ThresholdEngine{
		Bins:      27,
		LowSigma:  0.46,
		HighSigma: 0.81,
	}
}

// Infer implements Engine. The output is binary: 1.0 for voxels inside
// the computed intensity band, 0.0 elsewhere.
func (e *ThresholdEngine) Infer(ctx context.Context, vol *volume.Volume) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	minV, maxV := vol.Data[0], vol.Data[0]
	for _, v := range vol.Data {
		if v < minV {
			minV = v
		}
		if v > maxV {
			maxV = v
		}
	}

	out := make([]float64, len(vol.Data))
	if maxV <= minV {
		// Constant volume: nothing to segment.
		return out, nil
	}

	split := e.otsuSplit(vol.Data, minV, maxV)

	// Statistics of the bright class.
	var sum, count float64
	for _, v := range vol.Data {
		if v >= split {
			sum += v
			count++
		}
	}
	if count == 0 {
		return out, nil
	}
	mean := sum / count

	var varSum float64
	for _, v := range vol.Data {
		if v >= split {
			d := v - mean
			varSum += d * d
		}
	}
	sigma := math.Sqrt(varSum / count)

	lower := mean - sigma*e.LowSigma
	upper := mean + sigma*e.HighSigma

	for i, v := range vol.Data {
		if v >= lower && v <= upper {
			out[i] = 1.0
		}
	}
	return out, nil
}

// otsuSplit finds the intensity threshold maximizing between-class
// variance over a histogram of e.Bins bins.
func (e *ThresholdEngine) otsuSplit(data []float64, minV, maxV float64) float64 {
	bins := e.Bins
	if bins < 2 {
		bins = 27
	}

	hist := make([]float64, bins)
	binWidth := (maxV - minV) / float64(bins)
	for _, v := range data {
		idx := int((v - minV) / binWidth)
		if idx >= bins {
			idx = bins - 1
		}
		hist[idx]++
	}

	total := float64(len(data))
	var sumAll float64
	for i, c := range hist {
		sumAll += float64(i) * c
	}

	var sumB, wB float64
	bestVar, bestBin := -1.0, 0
	for i := 0; i < bins; i++ {
		wB += hist[i]
		if wB == 0 {
			continue
		}
		wF := total - wB
		if wF == 0 {
			break
		}
		sumB += float64(i) * hist[i]

		mB := sumB / wB
		mF := (sumAll - sumB) / wF
		between := wB * wF * (mB - mF) * (mB - mF)
		if between > bestVar {
			bestVar = between
			bestBin = i
		}
	}

	return minV + (float64(bestBin)+1)*binWidth
}
