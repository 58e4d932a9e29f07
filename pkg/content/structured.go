// Package content implements the positional content model: typed content
// units (text, image references, structured data) placed at explicit,
// caller-chosen integer positions, with last-write-wins insertion and a
// canonical ascending-order materialization.
package content

import (
	"sort"
	"strings"
)

// StructuredContent is an ordered collection of content units keyed by an
// integer position. Positions may be negative, sparse, or arbitrarily large;
// inserting at an occupied position replaces the earlier unit (last write
// wins). Materialization is the only ordered view: internal storage order is
// never observable.
type StructuredContent struct {
	units map[int]Unit
}

// PositionedUnit is a unit paired with its position, the canonical
// materialized and serialized form.
type PositionedUnit struct {
	Position int `json:"position"`
	Unit
}

func NewStructuredContent() *StructuredContent {
	return &StructuredContent{units: map[int]Unit{}}
}

// Insert places the unit at the given position, replacing any earlier unit
// at that position. It always succeeds.
func (c *StructuredContent) Insert(position int, unit Unit) *StructuredContent {
	if c.units == nil {
		c.units = map[int]Unit{}
	}
	c.units[position] = unit
	return c
}

// AddText appends a text unit at the next free slot (position = current
// length, matching fluent builder usage).
func (c *StructuredContent) AddText(text string) *StructuredContent {
	return c.Insert(c.Len(), NewTextUnit(text))
}

// AddImage appends an image unit at the next free slot.
func (c *StructuredContent) AddImage(ref string) *StructuredContent {
	return c.Insert(c.Len(), NewImageUnit(ref))
}

// AddStructured appends a structured-data unit at the next free slot.
func (c *StructuredContent) AddStructured(data map[string]interface{}) *StructuredContent {
	return c.Insert(c.Len(), NewStructuredUnit(data))
}

func (c *StructuredContent) Len() int {
	if c == nil {
		return 0
	}
	return len(c.units)
}

// Merge returns a new content object combining c and other; other's units
// override c's at colliding positions. Neither input is mutated.
func (c *StructuredContent) Merge(other *StructuredContent) *StructuredContent {
	out := NewStructuredContent()
	if c != nil {
		for pos, u := range c.units {
			out.units[pos] = u
		}
	}
	if other != nil {
		for pos, u := range other.units {
			out.units[pos] = u
		}
	}
	return out
}

// Materialize returns the units sorted by strictly ascending position.
func (c *StructuredContent) Materialize() []PositionedUnit {
	if c == nil || len(c.units) == 0 {
		return nil
	}
	positions := make([]int, 0, len(c.units))
	for pos := range c.units {
		positions = append(positions, pos)
	}
	sort.Ints(positions)
	out := make([]PositionedUnit, 0, len(positions))
	for _, pos := range positions {
		out = append(out, PositionedUnit{Position: pos, Unit: c.units[pos]})
	}
	return out
}

// Validate checks every unit against the exactly-one-variant rule.
func (c *StructuredContent) Validate() error {
	for _, pu := range c.Materialize() {
		if err := pu.Unit.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Clone returns a deep copy; unit metadata maps are copied one level deep.
func (c *StructuredContent) Clone() *StructuredContent {
	out := NewStructuredContent()
	if c == nil {
		return out
	}
	for pos, u := range c.units {
		out.units[pos] = cloneUnit(u)
	}
	return out
}

func cloneUnit(u Unit) Unit {
	if u.Metadata != nil {
		cp := make(map[string]interface{}, len(u.Metadata))
		for k, v := range u.Metadata {
			cp[k] = v
		}
		u.Metadata = cp
	}
	if u.Structured != nil {
		cp := make(map[string]interface{}, len(u.Structured))
		for k, v := range u.Structured {
			cp[k] = v
		}
		u.Structured = cp
	}
	if len(u.ImageData) > 0 {
		cp := make([]byte, len(u.ImageData))
		copy(cp, u.ImageData)
		u.ImageData = cp
	}
	return u
}

// DisplayText renders all units in position order as a single human-readable
// string.
func (c *StructuredContent) DisplayText() string {
	parts := []string{}
	for _, pu := range c.Materialize() {
		parts = append(parts, pu.Unit.String())
	}
	return strings.Join(parts, " ")
}

func (c *StructuredContent) String() string {
	return c.DisplayText()
}
