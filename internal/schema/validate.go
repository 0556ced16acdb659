package schema

import (
	"fmt"
	"regexp"
)

// Naming rules. Ids start and end with an alphanumeric; table ids allow
// dots, column ids allow spaces. The trailing-alphanumeric rule keeps
// user columns from colliding with the state-column suffix.
var (
	tableIDPattern  = regexp.MustCompile(`^[A-Za-z0-9]([A-Za-z0-9._-]{0,98}[A-Za-z0-9])?$`)
	columnIDPattern = regexp.MustCompile(`^[A-Za-z0-9]([A-Za-z0-9 _-]{0,98}[A-Za-z0-9])?$`)
)

// ValidTableID reports whether id is a legal table id.
func ValidTableID(id string) bool {
	return tableIDPattern.MatchString(id)
}

// ValidColumnID reports whether id is a legal user column id.
func ValidColumnID(id string) bool {
	return columnIDPattern.MatchString(id)
}

// Validate checks the schema invariants and returns the first error found.
// All returned errors wrap ErrBadInput.
func (s *TableSchema) Validate() error {
	if !ValidTableID(s.ID) {
		return fmt.Errorf("%w: %q", ErrTableID, s.ID)
	}

	if !s.Kind.Valid() {
		return fmt.Errorf("%w: unknown table kind %q", ErrBadInput, s.Kind)
	}

	if err := s.validateColumns(); err != nil {
		return err
	}

	if err := s.validateRefs(); err != nil {
		return err
	}

	if err := s.validateKnowledgeShape(); err != nil {
		return err
	}

	return s.validateChatShape()
}

func (s *TableSchema) validateColumns() error {
	seen := make(map[string]struct{}, len(s.Columns))

	for _, col := range s.Columns {
		if IsImplicitColumnID(col.ID) || IsStateColumnID(col.ID) {
			return fmt.Errorf("%w: %q", ErrReservedColumnID, col.ID)
		}

		if !ValidColumnID(col.ID) {
			return fmt.Errorf("%w: %q", ErrColumnID, col.ID)
		}

		if _, dup := seen[col.ID]; dup {
			return fmt.Errorf("%w: %q", ErrDuplicateColumnID, col.ID)
		}

		seen[col.ID] = struct{}{}

		if err := validateColumnType(col); err != nil {
			return err
		}

		if err := validateGenConfig(col, s.Kind); err != nil {
			return err
		}
	}

	return nil
}

func validateColumnType(col Column) error {
	if !col.DType.Valid() {
		return fmt.Errorf("%w: column %q has dtype %q", ErrUnknownDType, col.ID, col.DType)
	}

	if col.DType == DTypeVector && col.VectorSize <= 0 {
		return fmt.Errorf("%w: column %q", ErrVectorSize, col.ID)
	}

	if col.DType != DTypeVector && col.VectorSize != 0 {
		return fmt.Errorf("%w: column %q is not a vector", ErrVectorSize, col.ID)
	}

	return nil
}

func validateGenConfig(col Column, kind TableKind) error {
	switch cfg := col.Gen.(type) {
	case nil:
		return nil
	case *LLMGenConfig:
		if col.DType == DTypeVector {
			return fmt.Errorf("%w: llm config on vector column %q", ErrGenConfigDType, col.ID)
		}

		if cfg.Model == "" {
			return fmt.Errorf("%w: column %q has no model", ErrBadInput, col.ID)
		}

		if cfg.MultiTurn && kind != KindChat {
			return fmt.Errorf("%w: multi_turn column %q outside a chat table", ErrChatShape, col.ID)
		}

		return nil
	case *EmbedGenConfig:
		if col.DType != DTypeVector {
			return fmt.Errorf("%w: embed config on %s column %q", ErrGenConfigDType, col.DType, col.ID)
		}

		if cfg.EmbeddingModel == "" || cfg.SourceColumn == "" {
			return fmt.Errorf("%w: embed column %q needs embedding_model and source_column", ErrBadInput, col.ID)
		}

		return nil
	case *CodeGenConfig:
		if col.DType == DTypeVector {
			return fmt.Errorf("%w: code config on vector column %q", ErrGenConfigDType, col.ID)
		}

		if cfg.Code == "" {
			return fmt.Errorf("%w: column %q", ErrEmptyTemplate, col.ID)
		}

		return nil
	default:
		return fmt.Errorf("%w: column %q carries %T", ErrGenConfigObject, col.ID, col.Gen)
	}
}

// validateRefs enforces the left-only reference rule: every referenced
// column must exist and sit strictly before the referencing column.
func (s *TableSchema) validateRefs() error {
	for _, col := range s.Columns {
		if col.Gen == nil {
			continue
		}

		holder := s.ColumnOrder(col.ID)

		for _, ref := range col.Gen.Refs() {
			if ref == col.ID {
				return fmt.Errorf("%w: column %q", ErrSelfColumnRef, col.ID)
			}

			order := s.ColumnOrder(ref)
			if order == 0 {
				return fmt.Errorf("%w: column %q references %q", ErrUnknownColumnRef, col.ID, ref)
			}

			if order > holder {
				return fmt.Errorf("%w: column %q references %q", ErrForwardColumnRef, col.ID, ref)
			}
		}
	}

	return nil
}

func (s *TableSchema) validateKnowledgeShape() error {
	vectorCount := 0

	for _, col := range s.Columns {
		if col.DType == DTypeVector {
			vectorCount++
		}
	}

	if s.Kind != KindKnowledge {
		if vectorCount > 0 {
			return fmt.Errorf("%w: vector column outside a knowledge table", ErrGenConfigDType)
		}

		return nil
	}

	if vectorCount != 1 {
		return fmt.Errorf("%w: want exactly one vector column, have %d", ErrKnowledgeShape, vectorCount)
	}

	vec, _ := s.VectorColumn()

	embed, ok := vec.Gen.(*EmbedGenConfig)
	if !ok {
		return fmt.Errorf("%w: vector column %q has no embed config", ErrKnowledgeShape, vec.ID)
	}

	source, ok := s.Column(embed.SourceColumn)
	if !ok {
		return fmt.Errorf("%w: source column %q not found", ErrKnowledgeShape, embed.SourceColumn)
	}

	if source.DType != DTypeStr {
		return fmt.Errorf("%w: source column %q must be str, is %s", ErrKnowledgeShape, source.ID, source.DType)
	}

	return nil
}

func (s *TableSchema) validateChatShape() error {
	multiTurn := 0

	for _, col := range s.Columns {
		llm, ok := col.Gen.(*LLMGenConfig)
		if ok && llm.MultiTurn {
			multiTurn++
		}
	}

	if s.Kind == KindChat && multiTurn != 1 {
		return fmt.Errorf("%w: want exactly one multi_turn column, have %d", ErrChatShape, multiTurn)
	}

	if s.Kind != KindChat && multiTurn > 0 {
		return fmt.Errorf("%w: multi_turn column outside a chat table", ErrChatShape)
	}

	return nil
}
