// Package codec converts scene descriptors to and from the flat key/value
// transport carried in shareable viewer links.
//
// Only the fields needed to rebuild a scene travel in the transport; id,
// createdAt and fullUrl stay on the store side. Decoding never fails: missing
// or unknown values resolve to documented defaults so a viewer can always
// render something.
package codec

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/scenelink/scenelink/pkg/core"
)

// Transport keys.
const (
	KeyName        = "name"
	KeyDescription = "description"
	KeyModelType   = "modelType"
	KeyModelURL    = "modelUrl"
	KeyPosition    = "position"
	KeyRotation    = "rotation"
	KeyScale       = "scale"
)

// Keys lists every key Encode produces.
var Keys = []string{KeyName, KeyDescription, KeyModelType, KeyModelURL, KeyPosition, KeyRotation, KeyScale}

// ErrInvalidLink is returned when a link or base URL cannot be parsed.
var ErrInvalidLink = errors.New("invalid scene link")

// Transport is the flat string keyed form of a descriptor.
type Transport map[string]string

// Encode produces the transport for d. Field values are copied as they are so
// that encoding a decoded transport reproduces the same pairs.
func Encode(d core.SceneDescriptor) Transport {
	return Transport{
		KeyName:        d.Name,
		KeyDescription: d.Description,
		KeyModelType:   string(d.ModelType),
		KeyModelURL:    d.ModelURL,
		KeyPosition:    d.Position,
		KeyRotation:    d.Rotation,
		KeyScale:       d.Scale,
	}
}

// Decode rebuilds a descriptor from a possibly partial transport. Without a
// name the placeholder descriptor is returned. Vector strings are passed
// through unvalidated; consumers resolve bad components.
func Decode(t Transport) core.SceneDescriptor {
	name := t[KeyName]
	if name == "" {
		return core.Placeholder()
	}

	d := core.SceneDescriptor{
		Name:        name,
		Description: t[KeyDescription],
		ModelType:   core.ModelType(t[KeyModelType]),
		ModelURL:    t[KeyModelURL],
		Position:    valueOr(t, KeyPosition, core.DefaultPosition),
		Rotation:    valueOr(t, KeyRotation, core.DefaultRotation),
		Scale:       valueOr(t, KeyScale, core.DefaultScale),
	}
	if !d.ModelType.Valid() {
		d.ModelType = core.ModelBox
	}
	if d.ModelType == core.ModelCustom && d.ModelURL == "" {
		d.ModelURL = core.FallbackModelURL
	}
	return d
}

func valueOr(t Transport, key, def string) string {
	if v := t[key]; v != "" {
		return v
	}
	return def
}

// Values converts the transport to url.Values.
func (t Transport) Values() url.Values {
	v := make(url.Values, len(t))
	for key, val := range t {
		v.Set(key, val)
	}
	return v
}

// FromValues keeps the first value of every key.
func FromValues(v url.Values) Transport {
	t := make(Transport, len(v))
	for key, vals := range v {
		if len(vals) > 0 {
			t[key] = vals[0]
		}
	}
	return t
}

// Link builds the shareable viewer link for d under base. Query keys are
// sorted, so the same descriptor always yields the same link.
func Link(base string, d core.SceneDescriptor) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidLink, err)
	}
	u.RawQuery = Encode(d).Values().Encode()
	return u.String(), nil
}

// ParseLink extracts the transport from a viewer link. A bare query string
// ("name=...&scale=...") is accepted as well. Hand-edited links are read
// pair by pair: a value that cannot be unescaped is kept as written and the
// returned error wraps ErrInvalidLink, but the transport still holds every
// pair that was found.
func ParseLink(raw string) (Transport, error) {
	query := strings.TrimSpace(raw)
	if before, after, ok := strings.Cut(query, "?"); ok && !strings.Contains(before, "=") {
		query, _, _ = strings.Cut(after, "#")
	}

	v := make(url.Values)
	var errs []error
	for _, pair := range strings.Split(query, "&") {
		if pair == "" {
			continue
		}
		key, val, _ := strings.Cut(pair, "=")
		k, err := unescape(key)
		if err != nil {
			errs = append(errs, err)
		}
		value, err := unescape(val)
		if err != nil {
			errs = append(errs, err)
		}
		v[k] = append(v[k], value)
	}

	t := FromValues(v)
	if len(errs) > 0 {
		return t, fmt.Errorf("%w: %v", ErrInvalidLink, errors.Join(errs...))
	}
	return t, nil
}

// unescape decodes a query component, falling back to the literal text
// (with '+' as space) when it holds a bad percent sequence.
func unescape(s string) (string, error) {
	out, err := url.QueryUnescape(s)
	if err != nil {
		return strings.ReplaceAll(s, "+", " "), err
	}
	return out, nil
}
