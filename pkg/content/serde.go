package content

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// ToSerializable returns the position-keyed wire representation: an ordered
// list of positioned units. Round-tripping through FromSerializable preserves
// every variant tag, payload, and metadata key.
func (c *StructuredContent) ToSerializable() []PositionedUnit {
	return c.Materialize()
}

// FromSerializable rebuilds a StructuredContent from its wire representation.
// Duplicate positions follow insertion order (last write wins).
func FromSerializable(units []PositionedUnit) *StructuredContent {
	out := NewStructuredContent()
	for _, pu := range units {
		out.Insert(pu.Position, pu.Unit)
	}
	return out
}

type serializedContent struct {
	PositionedUnits []PositionedUnit `json:"positionedUnits"`
}

func (c *StructuredContent) MarshalJSON() ([]byte, error) {
	return json.Marshal(serializedContent{PositionedUnits: c.ToSerializable()})
}

func (c *StructuredContent) UnmarshalJSON(data []byte) error {
	var raw serializedContent
	if err := json.Unmarshal(data, &raw); err != nil {
		return errors.Wrap(err, "failed to unmarshal structured content")
	}
	c.units = map[int]Unit{}
	for _, pu := range raw.PositionedUnits {
		c.units[pu.Position] = pu.Unit
	}
	return nil
}
