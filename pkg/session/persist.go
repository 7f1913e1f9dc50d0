package session

import (
	"encoding/gob"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"lsmeasure/pkg/cobb"
	"lsmeasure/pkg/inference"
	"lsmeasure/pkg/mask"
	"lsmeasure/pkg/volume"
)

// sessionState is the gob-persisted form of a session: the volume
// identity, the current mask version's labels, the committed edit
// history and the last measurement. Earlier versions are not stored;
// Resume rebuilds them by reverse-applying the edit deltas, so undo
// keeps working across save and resume.
type sessionState struct {
	VolumeID string

	Width, Height, Depth int
	Spacing              volume.Spacing

	BaseVersion    string
	CurrentVersion string
	Labels         []int32

	Edits     []*CorrectionEdit
	NextLabel int32
	Last      *cobb.Measurement
}

// Save writes the session to path. Only history up to the cursor is
// kept; a redo tail pending at save time is discarded, same as it
// would be by the next commit.
func (s *Session) Save(path string) error {
	if s.state != Idle {
		return fmt.Errorf("cannot save while %s", s.state)
	}

	cur := s.CurrentMask()
	st := sessionState{
		VolumeID:       s.vol.ID,
		Width:          cur.Width,
		Height:         cur.Height,
		Depth:          cur.Depth,
		Spacing:        cur.Spacing,
		BaseVersion:    s.versions[0].Version,
		CurrentVersion: cur.Version,
		Labels:         cur.Labels,
		Edits:          s.edits[:s.cursor],
		NextLabel:      s.nextLabel,
		Last:           s.last,
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating session file: %w", err)
	}
	defer f.Close()

	if err := gob.NewEncoder(f).Encode(&st); err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}
	return f.Close()
}

// Resume loads a saved session against a reloaded volume. The volume
// must match the saved mask dimensions and spacing; a differing volume
// id is only warned about, since ids are assigned per load.
func Resume(path string, vol *volume.Volume, logger zerolog.Logger) (*Session, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening session file: %w", err)
	}
	defer f.Close()

	var st sessionState
	if err := gob.NewDecoder(f).Decode(&st); err != nil {
		return nil, fmt.Errorf("decoding session: %w", err)
	}

	if vol.Width != st.Width || vol.Height != st.Height || vol.Depth != st.Depth {
		return nil, fmt.Errorf("volume shape %dx%dx%d does not match saved session %dx%dx%d",
			vol.Width, vol.Height, vol.Depth, st.Width, st.Height, st.Depth)
	}
	if vol.Spacing != st.Spacing {
		return nil, fmt.Errorf("volume spacing %v does not match saved session %v", vol.Spacing, st.Spacing)
	}
	if vol.ID != st.VolumeID {
		logger.Warn().
			Str("saved", st.VolumeID).
			Str("loaded", vol.ID).
			Msg("resuming session against a volume with a different id")
	}
	if len(st.Labels) != vol.NumVoxels() {
		return nil, fmt.Errorf("saved mask has %d voxels, volume has %d", len(st.Labels), vol.NumVoxels())
	}

	cur := mask.New(st.Width, st.Height, st.Depth, st.Spacing)
	copy(cur.Labels, st.Labels)
	cur.Version = st.CurrentVersion

	versions, err := rebuildVersions(cur, st.Edits, st.BaseVersion)
	if err != nil {
		return nil, err
	}

	return &Session{
		vol:       vol,
		logger:    logger,
		runner:    inference.NewRunner(logger),
		versions:  versions,
		edits:     st.Edits,
		cursor:    len(st.Edits),
		nextLabel: st.NextLabel,
		last:      st.Last,
	}, nil
}

// rebuildVersions reconstructs the full version chain from the current
// mask by undoing each edit in reverse, restoring the recorded version
// ids so measurements stay tied to the same version string.
func rebuildVersions(cur *mask.LabelMask, edits []*CorrectionEdit, baseVersion string) ([]*mask.LabelMask, error) {
	versions := make([]*mask.LabelMask, len(edits)+1)
	versions[len(edits)] = cur

	m := cur
	for i := len(edits) - 1; i >= 0; i-- {
		edit := edits[i]
		if edit.MaskVersion != m.Version {
			return nil, fmt.Errorf("edit history broken: edit %d produced version %s, have %s",
				i, edit.MaskVersion, m.Version)
		}
		prev := m.Clone()
		// A voxel may appear more than once within one edit; walking the
		// changes backwards restores its first Prev, not an intermediate.
		for k := len(edit.Changes) - 1; k >= 0; k-- {
			c := edit.Changes[k]
			if c.Index < 0 || c.Index >= len(prev.Labels) {
				return nil, fmt.Errorf("edit history broken: voxel index %d out of range", c.Index)
			}
			prev.Labels[c.Index] = c.Prev
		}
		if i == 0 {
			prev.Version = baseVersion
		} else {
			prev.Version = edits[i-1].MaskVersion
		}
		versions[i] = prev
		m = prev
	}
	return versions, nil
}
