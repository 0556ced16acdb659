// Package archive is the table export artifact codec: one table schema
// plus its rows as lz4-framed JSON. An exported artifact re-imports
// into an equivalent table; server-assigned row ids and update times
// are regenerated on import.
package archive

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"

	"github.com/Sumatoshi-tech/tablefang/internal/schema"
)

// FileExtension is the conventional artifact suffix.
const FileExtension = ".gt.lz4"

// formatVersion guards artifact compatibility. Bump on layout changes.
const formatVersion = 1

// Artifact is the serialized form of one table.
type Artifact struct {
	Version int                 `json:"version"`
	Schema  *schema.TableSchema `json:"schema"`
	Rows    []schema.Row        `json:"rows"`
}

// Write encodes the artifact as JSON inside an lz4 frame.
func Write(w io.Writer, ts *schema.TableSchema, rows []schema.Row) error {
	artifact := Artifact{Version: formatVersion, Schema: ts, Rows: rows}

	zw := lz4.NewWriter(w)

	if err := json.NewEncoder(zw).Encode(artifact); err != nil {
		return fmt.Errorf("archive: encode: %w", err)
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("archive: close frame: %w", err)
	}

	return nil
}

// Read decodes one artifact from an lz4 frame.
func Read(r io.Reader) (*Artifact, error) {
	var artifact Artifact

	if err := json.NewDecoder(lz4.NewReader(r)).Decode(&artifact); err != nil {
		return nil, fmt.Errorf("archive: decode: %w", err)
	}

	if artifact.Version != formatVersion {
		return nil, fmt.Errorf("archive: unsupported version %d", artifact.Version)
	}

	if artifact.Schema == nil {
		return nil, fmt.Errorf("%w: archive carries no schema", schema.ErrBadInput)
	}

	return &artifact, nil
}
