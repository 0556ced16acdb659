package schema

import (
	"errors"
	"fmt"
)

// ErrBadInput is the root of the validation error family. Every schema,
// template and generation-config rejection wraps it, so callers can match
// the whole family with errors.Is(err, ErrBadInput) while the wrapped
// sentinels below narrow the cause for tests and API error mapping.
var ErrBadInput = errors.New("bad input")

// Sentinel errors for table schema validation.
var (
	// ErrTableID indicates a table id fails the naming rules.
	ErrTableID = fmt.Errorf("%w: invalid table id", ErrBadInput)
	// ErrColumnID indicates a column id fails the naming rules.
	ErrColumnID = fmt.Errorf("%w: invalid column id", ErrBadInput)
	// ErrReservedColumnID indicates a user column collides with an
	// implicit column or uses the state-column suffix.
	ErrReservedColumnID = fmt.Errorf("%w: reserved column id", ErrBadInput)
	// ErrDuplicateColumnID indicates two columns share the same id.
	ErrDuplicateColumnID = fmt.Errorf("%w: duplicate column id", ErrBadInput)
	// ErrUnknownDType indicates a column declares an unsupported dtype.
	ErrUnknownDType = fmt.Errorf("%w: unknown dtype", ErrBadInput)
	// ErrVectorSize indicates a vector column has a non-positive size or a
	// non-vector column declares one.
	ErrVectorSize = fmt.Errorf("%w: invalid vector size", ErrBadInput)
	// ErrUnknownColumnRef indicates a template references a column that
	// does not exist in the schema.
	ErrUnknownColumnRef = fmt.Errorf("%w: unknown column reference", ErrBadInput)
	// ErrForwardColumnRef indicates a template references a column
	// positioned at or after the referencing column.
	ErrForwardColumnRef = fmt.Errorf("%w: forward column reference", ErrBadInput)
	// ErrSelfColumnRef indicates a template references its own column.
	ErrSelfColumnRef = fmt.Errorf("%w: self column reference", ErrBadInput)
	// ErrCyclicColumnRef indicates the column dependency graph contains a
	// cycle.
	ErrCyclicColumnRef = fmt.Errorf("%w: cyclic column reference", ErrBadInput)
	// ErrGenConfigObject indicates a generation config carries an unknown
	// or missing object discriminator.
	ErrGenConfigObject = fmt.Errorf("%w: unknown gen config object", ErrBadInput)
	// ErrGenConfigDType indicates a generation config is attached to a
	// column whose dtype it cannot produce.
	ErrGenConfigDType = fmt.Errorf("%w: gen config incompatible with dtype", ErrBadInput)
	// ErrKnowledgeShape indicates a knowledge table is missing its
	// embedding column or source column, or has extra vector columns.
	ErrKnowledgeShape = fmt.Errorf("%w: invalid knowledge table shape", ErrBadInput)
	// ErrChatShape indicates a chat table does not have exactly one
	// multi-turn column, or a non-chat table declares one.
	ErrChatShape = fmt.Errorf("%w: invalid chat table shape", ErrBadInput)
	// ErrEmptyTemplate indicates a generation config prompt is empty where
	// one is required.
	ErrEmptyTemplate = fmt.Errorf("%w: empty template", ErrBadInput)
)
