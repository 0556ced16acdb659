package sse_test

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/tablefang/internal/schema"
	"github.com/Sumatoshi-tech/tablefang/internal/sse"
)

func TestWriter_Send_FramesJSON(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	w := sse.NewWriter(&buf)

	event := sse.NewChunkEvent("answer", "row-1")
	event.TextDelta = "hello"
	require.NoError(t, w.Send(event))

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "data: "))
	assert.True(t, strings.HasSuffix(out, "\n\n"))

	var decoded sse.ChunkEvent
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSuffix(strings.TrimPrefix(out, "data: "), "\n\n")), &decoded))
	assert.Equal(t, sse.ObjectChunk, decoded.Object)
	assert.Equal(t, "answer", decoded.OutputColumnName)
	assert.Equal(t, "row-1", decoded.RowID)
	assert.Equal(t, "hello", decoded.TextDelta)
}

func TestWriter_SendDone_LiteralMarker(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	w := sse.NewWriter(&buf)
	require.NoError(t, w.SendDone())

	assert.Equal(t, "data: [DONE]\n\n", buf.String())
}

func TestNewReferencesEvent_EmptyRefs(t *testing.T) {
	t.Parallel()

	event := sse.NewReferencesEvent("answer", "row-1", nil)
	assert.Equal(t, sse.ObjectReferences, event.Object)
	assert.NotNil(t, event.Chunks)
	assert.Empty(t, event.Chunks)
}

func TestNewReferencesEvent_CarriesChunks(t *testing.T) {
	t.Parallel()

	refs := schema.NewReferences("what is rrf", []schema.RefChunk{
		{Text: "reciprocal rank fusion", TableID: "kb", RowID: "r1", ColumnID: "Text"},
	})

	event := sse.NewReferencesEvent("answer", "row-1", refs)
	require.Len(t, event.Chunks, 1)
	assert.Equal(t, "kb", event.Chunks[0].TableID)
	assert.Equal(t, "what is rrf", event.SearchQuery)
}
