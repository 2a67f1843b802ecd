// pkg/core/vector.go
package core

import (
	"math"
	"strconv"
	"strings"
)

// Vector3 is an x, y, z triple in scene units (or degrees for rotations).
type Vector3 [3]float64

// X returns the first component.
func (v Vector3) X() float64 { return v[0] }

// Y returns the second component.
func (v Vector3) Y() float64 { return v[1] }

// Z returns the third component.
func (v Vector3) Z() float64 { return v[2] }

// Add returns the component-wise sum.
func (v Vector3) Add(o Vector3) Vector3 {
	return Vector3{v[0] + o[0], v[1] + o[1], v[2] + o[2]}
}

// Scale multiplies every component by f.
func (v Vector3) Scale(f float64) Vector3 {
	return Vector3{v[0] * f, v[1] * f, v[2] * f}
}

// String formats the vector as space separated decimals ("0 0.5 0").
func (v Vector3) String() string {
	parts := make([]string, 3)
	for i, c := range v {
		parts[i] = strconv.FormatFloat(c, 'f', -1, 64)
	}
	return strings.Join(parts, " ")
}

// ParseVector reads a space separated triple. Components that are missing,
// unparseable or not finite resolve to fallback; extra components are ignored.
func ParseVector(s string, fallback float64) Vector3 {
	v := Vector3{fallback, fallback, fallback}
	fields := strings.Fields(s)
	for i := 0; i < len(v) && i < len(fields); i++ {
		f, err := strconv.ParseFloat(fields[i], 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			continue
		}
		v[i] = f
	}
	return v
}

// DegToRad converts every component from degrees to radians.
func (v Vector3) DegToRad() Vector3 {
	return v.Scale(math.Pi / 180)
}
