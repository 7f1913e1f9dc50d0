package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"lsmeasure/pkg/cobb"
	"lsmeasure/pkg/inference"
	"lsmeasure/pkg/mask"
	"lsmeasure/pkg/report"
	"lsmeasure/pkg/session"
	"lsmeasure/pkg/volume"
)

var (
	reportPath  string
	overlayPath string
	sessionPath string

	rawDims    string
	rawSpacing string
)

var measureCmd = &cobra.Command{
	Use:   "measure [dicom-dir|raw-file]",
	Short: "Segment a volume and compute its Cobb angle",
	Long: `measure loads an MR volume from a DICOM series directory (or a raw
float64 file with --raw-dims), runs segmentation and post-processing,
computes the Cobb angle and writes the measurement report.`,
	Args: cobra.ExactArgs(1),
	Run:  runMeasure,
}

func init() {
	rootCmd.AddCommand(measureCmd)

	measureCmd.Flags().StringVarP(&reportPath, "out", "o", "report.json", "Report output path (.json, .yaml)")
	measureCmd.Flags().StringVar(&overlayPath, "overlay", "", "Annotated mid-sagittal slice output path (.jpg)")
	measureCmd.Flags().StringVar(&sessionPath, "session", "", "Save the correction session to this path for later resume")
	measureCmd.Flags().StringVar(&rawDims, "raw-dims", "", "Treat input as a raw volume with dimensions WxHxD")
	measureCmd.Flags().StringVar(&rawSpacing, "raw-spacing", "1,1,1", "Voxel spacing in mm for raw input, as x,y,z")
}

func runMeasure(cmd *cobra.Command, args []string) {
	vol, err := loadVolume(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading volume: %v\n", err)
		os.Exit(1)
	}
	logger.Info().
		Int("width", vol.Width).Int("height", vol.Height).Int("depth", vol.Depth).
		Msg("volume loaded")

	vol, err = preprocess(vol)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error preprocessing volume: %v\n", err)
		os.Exit(1)
	}

	s := session.New(vol, logger)
	m, err := segment(s)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error segmenting volume: %v\n", err)
		os.Exit(1)
	}
	logger.Info().Int("vertebrae", m.NumLabels()).Msg("segmentation complete")

	meas, err := s.Measure()
	if err != nil {
		// Landmarks may be too sparse; still export what we have.
		logger.Warn().Err(err).Msg("no Cobb angle could be computed")
		r := report.Build(vol.ID, s.Arena(), nil)
		if err := r.Save(reportPath); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing report: %v\n", err)
			os.Exit(1)
		}
		saveSession(s)
		os.Exit(2)
	}

	fmt.Printf("Cobb angle: %.2f degrees (superior endplate of vertebra %d, inferior endplate of vertebra %d)\n",
		meas.AngleDeg, meas.SuperiorLabel, meas.InferiorLabel)

	r := report.Build(vol.ID, s.Arena(), &meas)
	if err := r.Save(reportPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing report: %v\n", err)
		os.Exit(1)
	}
	logger.Info().Str("path", reportPath).Msg("report written")

	if overlayPath != "" || cfg.Output.SaveOverlay {
		path := overlayPath
		if path == "" {
			path = "overlay.jpg"
		}
		if err := renderOverlay(s, &meas, path); err != nil {
			fmt.Fprintf(os.Stderr, "Error rendering overlay: %v\n", err)
			os.Exit(1)
		}
		logger.Info().Str("path", path).Msg("overlay written")
	}

	saveSession(s)
}

// loadVolume reads either a DICOM series directory or a raw file.
func loadVolume(path string) (*volume.Volume, error) {
	if rawDims == "" {
		return volume.LoadDICOMSeries(path)
	}

	var w, h, d int
	if _, err := fmt.Sscanf(rawDims, "%dx%dx%d", &w, &h, &d); err != nil {
		return nil, fmt.Errorf("invalid --raw-dims %q: %w", rawDims, err)
	}
	var sp volume.Spacing
	if _, err := fmt.Sscanf(strings.ReplaceAll(rawSpacing, " ", ""), "%f,%f,%f", &sp.X, &sp.Y, &sp.Z); err != nil {
		return nil, fmt.Errorf("invalid --raw-spacing %q: %w", rawSpacing, err)
	}
	return volume.LoadRaw(path, w, h, d, sp)
}

// preprocess applies intensity normalization and optional isotropic
// resampling per the configuration.
func preprocess(vol *volume.Volume) (*volume.Volume, error) {
	vol, err := vol.Normalize(cfg.Processing.NormalizeLowPercentile, cfg.Processing.NormalizeHighPercentile)
	if err != nil {
		return nil, err
	}
	if t := cfg.Processing.TargetSpacing; t > 0 {
		vol, err = vol.Resample(t, cfg.Processing.NumCores)
		if err != nil {
			return nil, err
		}
		logger.Debug().Float64("spacing", t).Msg("volume resampled")
	}
	return vol, nil
}

// segment runs the configured engine with the configured timeout.
func segment(s *session.Session) (*mask.LabelMask, error) {
	opts, err := cfg.PostProcessOptions()
	if err != nil {
		return nil, err
	}

	eng := &inference.ThresholdEngine{
		Bins:      cfg.Segmentation.Bins,
		LowSigma:  cfg.Segmentation.LowSigma,
		HighSigma: cfg.Segmentation.HighSigma,
	}

	ctx := context.Background()
	if t := cfg.Segmentation.TimeoutSeconds; t > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(t)*time.Second)
		defer cancel()
	}
	return s.Segment(ctx, eng, opts)
}

// renderOverlay writes the annotated mid-sagittal slice.
func renderOverlay(s *session.Session, meas *cobb.Measurement, path string) error {
	o, err := report.NewOverlay(s.Volume(), s.CurrentMask())
	if err != nil {
		return err
	}
	return report.SaveJPEG(o.RenderSagittal(s.Arena(), meas), path)
}

// saveSession persists the session when requested.
func saveSession(s *session.Session) {
	if sessionPath == "" {
		return
	}
	if err := s.Save(sessionPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving session: %v\n", err)
		os.Exit(1)
	}
	logger.Info().Str("path", sessionPath).Msg("session saved")
}
