// pkg/core/scene.go
package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ModelType selects the placeholder geometry shown on the marker.
type ModelType string

const (
	ModelBox      ModelType = "box"
	ModelSphere   ModelType = "sphere"
	ModelCylinder ModelType = "cylinder"
	ModelCone     ModelType = "cone"
	ModelTorus    ModelType = "torus"
	ModelCustom   ModelType = "custom"
)

// Valid reports whether t is one of the known model types.
func (t ModelType) Valid() bool {
	switch t {
	case ModelBox, ModelSphere, ModelCylinder, ModelCone, ModelTorus, ModelCustom:
		return true
	}
	return false
}

// Defaults applied when a descriptor omits a field.
const (
	DefaultPosition = "0 0.5 0"
	DefaultRotation = "0 0 0"
	DefaultScale    = "1 1 1"

	// FallbackModelURL is the built-in asset shown when a custom model is
	// missing or fails to load.
	FallbackModelURL = "/Duck.glb"

	PlaceholderName        = "Initializing…"
	PlaceholderDescription = "Waiting for camera…"
)

// ID identifies a descriptor within a store. Legacy snapshots stored numeric
// millisecond timestamps, so both JSON strings and numbers are accepted.
type ID string

// UnmarshalJSON accepts a JSON string, number or null.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	*id = ID(n.String())
	return nil
}

// SceneDescriptor describes one AR scene: the object, its transform and the
// narrative text shown next to it.
type SceneDescriptor struct {
	ID          ID        `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	ModelType   ModelType `json:"modelType"`
	ModelURL    string    `json:"modelUrl"`
	Position    string    `json:"position"`
	Rotation    string    `json:"rotation"`
	Scale       string    `json:"scale"`
	CreatedAt   time.Time `json:"createdAt"`
	FullURL     string    `json:"fullUrl"`
}

// NewDescriptor returns an empty authoring form with default transform values.
func NewDescriptor() SceneDescriptor {
	return SceneDescriptor{
		ModelType: ModelBox,
		Position:  DefaultPosition,
		Rotation:  DefaultRotation,
		Scale:     DefaultScale,
	}
}

// Placeholder is the descriptor shown before any scene has been supplied.
func Placeholder() SceneDescriptor {
	return SceneDescriptor{
		Name:        PlaceholderName,
		Description: PlaceholderDescription,
		ModelType:   ModelBox,
		ModelURL:    FallbackModelURL,
		Position:    DefaultPosition,
		Rotation:    DefaultRotation,
		Scale:       DefaultScale,
	}
}

// IsPlaceholder reports whether d is the "no scene yet" descriptor.
func (d SceneDescriptor) IsPlaceholder() bool {
	return d.Name == PlaceholderName && d.ID == ""
}

// Validate checks the authoring-time requirements for saving a descriptor.
func (d SceneDescriptor) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return ErrNameRequired
	}
	if d.ModelType != "" && !d.ModelType.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownModelType, d.ModelType)
	}
	return nil
}

// WithDefaults fills empty transform fields and the model type.
func (d SceneDescriptor) WithDefaults() SceneDescriptor {
	if d.ModelType == "" {
		d.ModelType = ModelBox
	}
	if d.Position == "" {
		d.Position = DefaultPosition
	}
	if d.Rotation == "" {
		d.Rotation = DefaultRotation
	}
	if d.Scale == "" {
		d.Scale = DefaultScale
	}
	return d
}
