// Package session drives the interactive correction workflow: it owns
// the append-only history of mask versions, the edit state machine and
// the derived landmark arena, and is the only component allowed to
// create new mask versions.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"lsmeasure/pkg/cobb"
	"lsmeasure/pkg/inference"
	"lsmeasure/pkg/landmark"
	"lsmeasure/pkg/mask"
	"lsmeasure/pkg/volume"
)

// State is the correction session's edit state. Committed is transient:
// Commit passes through it and lands back on Idle before returning.
type State int

const (
	Idle State = iota
	Editing
	Committed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Editing:
		return "editing"
	case Committed:
		return "committed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// HistoryBoundsError reports an undo or redo past the end of the edit
// history. The session state is unchanged by the failed call.
type HistoryBoundsError struct {
	Direction string
}

func (e *HistoryBoundsError) Error() string {
	return fmt.Sprintf("no edit to %s", e.Direction)
}

// VoxelChange is one voxel's label transition within an edit.
type VoxelChange struct {
	Index int
	Prev  int32
	Next  int32
}

// CorrectionEdit is one committed correction: the voxel deltas against
// the previous version and the version id it produced.
type CorrectionEdit struct {
	Changes     []VoxelChange
	MaskVersion string
	Timestamp   time.Time
}

// labels returns the distinct labels touched by the edit, on either
// side of each change.
func (e *CorrectionEdit) labels() []int32 {
	seen := make(map[int32]bool)
	var out []int32
	add := func(l int32) {
		if l != mask.Background && !seen[l] {
			seen[l] = true
			out = append(out, l)
		}
	}
	for _, c := range e.Changes {
		add(c.Prev)
		add(c.Next)
	}
	return out
}

// PostProcessOptions parameterize the segmentation post-processing
// stage.
type PostProcessOptions struct {
	// ProbThreshold is the foreground cutoff applied to the engine's
	// probability field.
	ProbThreshold float64

	// Connectivity selects 6- or 26-neighborhood component labeling.
	Connectivity mask.Connectivity

	// MinVoxels drops components smaller than this many voxels.
	MinVoxels int

	// SmoothRadius, when positive, applies majority-vote label
	// smoothing with the given radius before ordering.
	SmoothRadius int
}

// Session is the per-volume correction session. It is not safe for
// concurrent use; the caller serializes operations, matching the
// single-active-session model.
type Session struct {
	vol    *volume.Volume
	logger zerolog.Logger
	runner *inference.Runner

	state    State
	versions []*mask.LabelMask
	edits    []*CorrectionEdit
	cursor   int

	pending []VoxelChange

	// nextLabel is monotonic and survives undo so label ids are never
	// reused within a session.
	nextLabel int32

	arena *landmark.Arena
	last  *cobb.Measurement
}

// New creates a session over a loaded volume with an empty initial
// mask version.
func New(vol *volume.Volume, logger zerolog.Logger) *Session {
	return &Session{
		vol:      vol,
		logger:   logger,
		runner:   inference.NewRunner(logger),
		versions: []*mask.LabelMask{mask.NewForVolume(vol)},
	}
}

// Volume returns the session's volume.
func (s *Session) Volume() *volume.Volume { return s.vol }

// State returns the current edit state.
func (s *Session) State() State { return s.state }

// CurrentMask returns the mask version the history cursor points at.
// Callers must treat it as read-only.
func (s *Session) CurrentMask() *mask.LabelMask {
	return s.versions[s.cursor]
}

// Arena returns the landmark arena for the current mask version,
// extracting it on first use.
func (s *Session) Arena() *landmark.Arena {
	cur := s.CurrentMask()
	if s.arena == nil || s.arena.MaskVersion != cur.Version {
		s.arena = landmark.Extract(cur)
	}
	return s.arena
}

// Segment runs the inference engine over the session volume and
// installs the post-processed result as a new mask version. It blocks
// until the engine finishes or ctx is cancelled; cancellation or any
// engine failure yields an empty mask version, which is still valid
// (zero vertebrae detected).
func (s *Session) Segment(ctx context.Context, eng inference.Engine, opts PostProcessOptions) (*mask.LabelMask, error) {
	if s.state != Idle {
		return nil, fmt.Errorf("cannot segment while %s", s.state)
	}

	probs := <-s.runner.Start(ctx, eng, s.vol)

	m, err := mask.LabelComponents(probs, s.vol.Width, s.vol.Height, s.vol.Depth,
		s.vol.Spacing, opts.ProbThreshold, opts.Connectivity)
	if err != nil {
		return nil, fmt.Errorf("labeling segmentation output: %w", err)
	}
	if opts.SmoothRadius > 0 {
		m = mask.SmoothLabels(m, opts.SmoothRadius)
	}
	m = mask.FilterSmallComponents(m, opts.MinVoxels)
	m = mask.OrderSuperiorToInferior(m)

	s.logger.Info().
		Int("vertebrae", m.NumLabels()).
		Str("version", m.Version).
		Msg("segmentation installed")

	s.install(m)
	return m, nil
}

// install replaces the history with a fresh base version. Segmentation
// restarts the correction history; prior edits refer to voxel layouts
// that no longer exist.
func (s *Session) install(m *mask.LabelMask) {
	s.versions = []*mask.LabelMask{m}
	s.edits = nil
	s.cursor = 0
	s.arena = nil
	s.last = nil
	if max := maxLabel(m); max > s.nextLabel {
		s.nextLabel = max
	}
}

// CancelSegmentation abandons an in-flight inference call.
func (s *Session) CancelSegmentation() { s.runner.Cancel() }

// NewLabel allocates a label id never used before in this session, for
// corrections that add a missed vertebra. The counter is monotonic and
// unaffected by undo.
func (s *Session) NewLabel() int32 {
	s.nextLabel++
	return s.nextLabel
}

// BeginEdit transitions Idle to Editing and starts accumulating voxel
// changes.
func (s *Session) BeginEdit() error {
	if s.state != Idle {
		return fmt.Errorf("cannot begin edit while %s", s.state)
	}
	s.state = Editing
	s.pending = nil
	return nil
}

// ApplyVoxelChange relabels the given voxel indices in the pending
// edit. Valid only in the Editing state. Changes are staged against the
// current version; nothing is visible to readers until Commit.
func (s *Session) ApplyVoxelChange(indices []int, newLabel int32) error {
	if s.state != Editing {
		return fmt.Errorf("cannot apply voxel change while %s", s.state)
	}
	if newLabel < mask.Background {
		return fmt.Errorf("invalid label %d", newLabel)
	}
	if newLabel > s.nextLabel {
		return fmt.Errorf("label %d was never allocated", newLabel)
	}

	cur := s.CurrentMask()
	staged := s.stagedLabels()
	for _, idx := range indices {
		if idx < 0 || idx >= len(cur.Labels) {
			return fmt.Errorf("voxel index %d out of range [0, %d)", idx, len(cur.Labels))
		}
		prev, ok := staged[idx]
		if !ok {
			prev = cur.Labels[idx]
		}
		if prev == newLabel {
			continue
		}
		s.pending = append(s.pending, VoxelChange{Index: idx, Prev: prev, Next: newLabel})
	}
	return nil
}

// stagedLabels returns the effective label of every voxel already
// touched by the pending edit.
func (s *Session) stagedLabels() map[int]int32 {
	staged := make(map[int]int32, len(s.pending))
	for _, c := range s.pending {
		staged[c.Index] = c.Next
	}
	return staged
}

// Commit finalizes the pending edit into a new mask version and
// returns to Idle. Committing after an undo discards the redo tail.
// A commit with no staged changes creates no version and is not
// recorded in history. The new version appears atomically; a failed
// commit leaves the prior version current.
func (s *Session) Commit() (*mask.LabelMask, error) {
	if s.state != Editing {
		return nil, fmt.Errorf("cannot commit while %s", s.state)
	}
	s.state = Committed

	if len(s.pending) == 0 {
		s.state = Idle
		return s.CurrentMask(), nil
	}

	next := s.CurrentMask().Clone()
	for _, c := range s.pending {
		next.Labels[c.Index] = c.Next
	}

	edit := &CorrectionEdit{
		Changes:     s.pending,
		MaskVersion: next.Version,
		Timestamp:   time.Now().UTC(),
	}

	s.versions = append(s.versions[:s.cursor+1], next)
	s.edits = append(s.edits[:s.cursor], edit)
	s.cursor++

	s.refreshArena(next, edit)
	s.logger.Info().
		Int("changes", len(edit.Changes)).
		Str("version", next.Version).
		Msg("correction committed")

	s.pending = nil
	s.state = Idle
	return next, nil
}

// Undo moves the history cursor to the previous mask version. It never
// creates a version. Fails with HistoryBoundsError at the start of
// history, leaving the session unchanged.
func (s *Session) Undo() (*mask.LabelMask, error) {
	if s.state != Idle {
		return nil, fmt.Errorf("cannot undo while %s", s.state)
	}
	if s.cursor == 0 {
		return nil, &HistoryBoundsError{Direction: "undo"}
	}
	edit := s.edits[s.cursor-1]
	s.cursor--
	cur := s.CurrentMask()
	s.refreshArena(cur, edit)
	return cur, nil
}

// Redo moves the history cursor to the next mask version. Fails with
// HistoryBoundsError at the end of history.
func (s *Session) Redo() (*mask.LabelMask, error) {
	if s.state != Idle {
		return nil, fmt.Errorf("cannot redo while %s", s.state)
	}
	if s.cursor >= len(s.versions)-1 {
		return nil, &HistoryBoundsError{Direction: "redo"}
	}
	edit := s.edits[s.cursor]
	s.cursor++
	cur := s.CurrentMask()
	s.refreshArena(cur, edit)
	return cur, nil
}

// refreshArena re-derives only the vertebrae the edit touched.
func (s *Session) refreshArena(m *mask.LabelMask, edit *CorrectionEdit) {
	if s.arena == nil {
		return
	}
	s.arena.Refresh(m, edit.labels()...)
	s.last = nil
}

// Measure computes the Cobb angle for the current mask version and
// remembers it for reporting and persistence.
func (s *Session) Measure() (cobb.Measurement, error) {
	a := s.Arena()
	for _, err := range a.Incomplete() {
		s.logger.Warn().Err(err).Msg("vertebra excluded from measurement")
	}
	m, err := cobb.Compute(a.Measurable())
	if err != nil {
		return cobb.Measurement{}, err
	}
	s.last = &m
	return m, nil
}

// LastMeasurement returns the most recent measurement for the current
// version, or false if none was computed yet.
func (s *Session) LastMeasurement() (cobb.Measurement, bool) {
	if s.last == nil {
		return cobb.Measurement{}, false
	}
	return *s.last, true
}

// History returns the committed edits up to the cursor, oldest first.
func (s *Session) History() []*CorrectionEdit {
	out := make([]*CorrectionEdit, s.cursor)
	copy(out, s.edits[:s.cursor])
	return out
}

func maxLabel(m *mask.LabelMask) int32 {
	var max int32
	for _, l := range m.Labels {
		if l > max {
			max = l
		}
	}
	return max
}
