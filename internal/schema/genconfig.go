package schema

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Object discriminators for generation configs. The wire form carries the
// discriminator in an "object" field next to the variant's own fields.
const (
	ObjectLLMGenConfig   = "gen_config.llm"
	ObjectEmbedGenConfig = "gen_config.embed"
	ObjectCodeGenConfig  = "gen_config.code"
)

// GenConfig is one of the three generation config variants attached to an
// output column. Object returns the wire discriminator; Refs returns the
// column ids the config reads, in first-occurrence order.
type GenConfig interface {
	Object() string
	Refs() []string
}

// RAGParams configures the retrieval sub-step of an LLM column.
type RAGParams struct {
	TableID              string   `json:"table_id"`
	RerankingModel       string   `json:"reranking_model,omitempty"`
	K                    int      `json:"k"`
	SearchQuery          string   `json:"search_query,omitempty"`
	ConcatRerankerInput  bool     `json:"concat_reranker_input,omitempty"`
	RerankScoreThreshold *float64 `json:"rerank_score_threshold,omitempty"`
}

// LLMGenConfig drives a language-model column. Both prompts are templates
// with ${column} placeholders; they compile once per loaded config and
// every row of a request renders the same compiled segments.
type LLMGenConfig struct {
	Model        string     `json:"model"`
	SystemPrompt string     `json:"system_prompt,omitempty"`
	UserPrompt   string     `json:"user_prompt"`
	MaxTokens    int        `json:"max_tokens,omitempty"`
	Temperature  float64    `json:"temperature,omitempty"`
	TopP         float64    `json:"top_p,omitempty"`
	Stop         []string   `json:"stop,omitempty"`
	MultiTurn    bool       `json:"multi_turn,omitempty"`
	RAGParams    *RAGParams `json:"rag_params,omitempty"`

	compile sync.Once
	system  Template
	user    Template
	query   Template
}

// Object implements GenConfig.
func (c *LLMGenConfig) Object() string {
	return ObjectLLMGenConfig
}

// PromptTemplates returns the compiled system and user prompt templates.
func (c *LLMGenConfig) PromptTemplates() (system, user Template) {
	c.compileTemplates()

	return c.system, c.user
}

// SearchQueryTemplate returns the compiled RAG search query template.
// The zero template is returned when no retrieval is configured.
func (c *LLMGenConfig) SearchQueryTemplate() Template {
	c.compileTemplates()

	return c.query
}

func (c *LLMGenConfig) compileTemplates() {
	c.compile.Do(func() {
		c.system = CompileTemplate(c.SystemPrompt)
		c.user = CompileTemplate(c.UserPrompt)

		if c.RAGParams != nil {
			c.query = CompileTemplate(c.RAGParams.SearchQuery)
		}
	})
}

// Refs returns the columns referenced by the system and user prompts.
// The RAG search query is rendered against the same draft but does not
// create dependency edges of its own.
func (c *LLMGenConfig) Refs() []string {
	system, user := c.PromptTemplates()

	refs := make([]string, 0, 4)
	seen := make(map[string]struct{})

	for _, name := range system.Refs() {
		if _, ok := seen[name]; !ok {
			seen[name] = struct{}{}

			refs = append(refs, name)
		}
	}

	for _, name := range user.Refs() {
		if _, ok := seen[name]; !ok {
			seen[name] = struct{}{}

			refs = append(refs, name)
		}
	}

	return refs
}

// EmbedGenConfig drives an embedding column fed from one source column.
type EmbedGenConfig struct {
	EmbeddingModel string `json:"embedding_model"`
	SourceColumn   string `json:"source_column"`
}

// Object implements GenConfig.
func (c *EmbedGenConfig) Object() string {
	return ObjectEmbedGenConfig
}

// Refs returns the single source column.
func (c *EmbedGenConfig) Refs() []string {
	if c.SourceColumn == "" {
		return nil
	}

	return []string{c.SourceColumn}
}

// CodeGenConfig drives a code-snippet column. The snippet receives a
// read-only row mapping and returns a scalar. Every row['col'] access in
// the source counts as a dependency even when runtime-dead.
type CodeGenConfig struct {
	Code string `json:"code"`
}

// Object implements GenConfig.
func (c *CodeGenConfig) Object() string {
	return ObjectCodeGenConfig
}

// Refs returns every column the snippet reads through its row binding.
func (c *CodeGenConfig) Refs() []string {
	return SnippetRefs(c.Code)
}

// MarshalGenConfig serializes a config with its object discriminator.
func MarshalGenConfig(cfg GenConfig) ([]byte, error) {
	switch c := cfg.(type) {
	case *LLMGenConfig:
		type alias LLMGenConfig

		return json.Marshal(struct {
			Object string `json:"object"`
			*alias
		}{Object: c.Object(), alias: (*alias)(c)})
	case *EmbedGenConfig:
		type alias EmbedGenConfig

		return json.Marshal(struct {
			Object string `json:"object"`
			*alias
		}{Object: c.Object(), alias: (*alias)(c)})
	case *CodeGenConfig:
		type alias CodeGenConfig

		return json.Marshal(struct {
			Object string `json:"object"`
			*alias
		}{Object: c.Object(), alias: (*alias)(c)})
	case nil:
		return []byte("null"), nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrGenConfigObject, cfg)
	}
}

// UnmarshalGenConfig deserializes a config by probing the object field.
// A JSON null yields a nil config, meaning the column is an input column.
func UnmarshalGenConfig(data []byte) (GenConfig, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}

	var probe struct {
		Object string `json:"object"`
	}

	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadInput, err)
	}

	switch probe.Object {
	case ObjectLLMGenConfig:
		cfg := &LLMGenConfig{}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadInput, err)
		}

		return cfg, nil
	case ObjectEmbedGenConfig:
		cfg := &EmbedGenConfig{}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadInput, err)
		}

		return cfg, nil
	case ObjectCodeGenConfig:
		cfg := &CodeGenConfig{}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadInput, err)
		}

		return cfg, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrGenConfigObject, probe.Object)
	}
}
