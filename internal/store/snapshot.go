package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/scenelink/scenelink/pkg/core"
)

// ErrInvalidSnapshot is returned for content that is not a JSON list of
// scene descriptors.
var ErrInvalidSnapshot = errors.New("snapshot is not a list of scene descriptors")

// ExportFileName is the name of downloadable exports and the seed file.
const ExportFileName = "ar_database.json"

// Marshal renders the collection in the snapshot format shared by the cache,
// the bound file and exports.
func Marshal(scenes []core.SceneDescriptor) ([]byte, error) {
	if scenes == nil {
		scenes = []core.SceneDescriptor{}
	}
	data, err := json.MarshalIndent(scenes, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding snapshot: %w", err)
	}
	return data, nil
}

// Unmarshal parses a snapshot. Entries without an id get one from newID.
// Null entries, entries that fail validation and duplicate ids make the
// snapshot invalid.
func Unmarshal(raw []byte, newID func() core.ID) ([]core.SceneDescriptor, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, ErrInvalidSnapshot
	}

	var entries []*core.SceneDescriptor
	if err := json.Unmarshal(trimmed, &entries); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}

	scenes := make([]core.SceneDescriptor, 0, len(entries))
	seen := make(map[core.ID]struct{}, len(entries))
	for i, e := range entries {
		if e == nil {
			return nil, fmt.Errorf("%w: entry %d is null", ErrInvalidSnapshot, i)
		}
		if err := e.Validate(); err != nil {
			return nil, fmt.Errorf("%w: entry %d: %v", ErrInvalidSnapshot, i, err)
		}
		d := *e
		if d.ID == "" {
			d.ID = newID()
		}
		if _, dup := seen[d.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate id %q", ErrInvalidSnapshot, d.ID)
		}
		seen[d.ID] = struct{}{}
		scenes = append(scenes, d)
	}
	return scenes, nil
}
