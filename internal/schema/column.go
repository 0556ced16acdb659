package schema

import (
	"encoding/json"
	"fmt"
)

// Column describes one data column of a table. A column without a
// generation config is an input column; one with a config is an output
// column whose value the engine produces.
type Column struct {
	ID         string
	DType      DType
	VectorSize int
	Gen        GenConfig
}

// columnWire is the JSON shape of a column. Gen stays raw so the object
// discriminator can be probed after the envelope decodes.
type columnWire struct {
	ID         string          `json:"id"`
	DType      DType           `json:"dtype"`
	VectorSize int             `json:"vector_size,omitempty"`
	Gen        json.RawMessage `json:"gen_config,omitempty"`
}

// IsOutput reports whether the column carries a generation config.
func (c Column) IsOutput() bool {
	return c.Gen != nil
}

// StateID returns the id of this column's state column.
func (c Column) StateID() string {
	return StateColumnID(c.ID)
}

// MarshalJSON implements json.Marshaler.
func (c Column) MarshalJSON() ([]byte, error) {
	wire := columnWire{ID: c.ID, DType: c.DType, VectorSize: c.VectorSize}

	if c.Gen != nil {
		raw, err := MarshalGenConfig(c.Gen)
		if err != nil {
			return nil, err
		}

		wire.Gen = raw
	}

	return json.Marshal(wire)
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *Column) UnmarshalJSON(data []byte) error {
	var wire columnWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return fmt.Errorf("%w: %v", ErrBadInput, err)
	}

	gen, err := UnmarshalGenConfig(wire.Gen)
	if err != nil {
		return fmt.Errorf("column %q: %w", wire.ID, err)
	}

	c.ID = wire.ID
	c.DType = wire.DType
	c.VectorSize = wire.VectorSize
	c.Gen = gen

	return nil
}
