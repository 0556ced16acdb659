package memstore

import (
	"context"
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/Sumatoshi-tech/tablefang/internal/schema"
	"github.com/Sumatoshi-tech/tablefang/internal/storage"
)

// rrfK is the reciprocal-rank-fusion constant. Fused score of a row is
// the sum of 1/(rrfK + rank) over the legs that returned it.
const rrfK = 60

// HybridSearch implements storage.Store. The text leg scores term
// frequency over string cells; the vector leg scores cosine similarity
// against the table's vector column; ranks fuse reciprocally.
func (s *Store) HybridSearch(_ context.Context, projectID, tableID string, query storage.SearchQuery) ([]storage.SearchHit, error) {
	t, err := s.table(projectID, tableID)
	if err != nil {
		return nil, err
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	fused := make(map[int]float64)

	for rank, idx := range s.textLeg(t, query.Text) {
		fused[idx] += 1.0 / float64(rrfK+rank+1)
	}

	for rank, idx := range s.vectorLeg(t, query.Vector) {
		fused[idx] += 1.0 / float64(rrfK+rank+1)
	}

	order := make([]int, 0, len(fused))
	for idx := range fused {
		order = append(order, idx)
	}

	sort.Slice(order, func(i, j int) bool {
		if fused[order[i]] != fused[order[j]] {
			return fused[order[i]] > fused[order[j]]
		}

		return order[i] < order[j]
	})

	if query.K > 0 && len(order) > query.K {
		order = order[:query.K]
	}

	hits := make([]storage.SearchHit, len(order))
	for i, idx := range order {
		hits[i] = storage.SearchHit{Row: t.rows[idx].Clone(), Score: fused[idx]}
	}

	return hits, nil
}

// textLeg ranks rows by summed term frequency of the query tokens over
// the table's string cells. Rows with no overlap drop out.
func (s *Store) textLeg(t *table, query string) []int {
	terms := tokenize(query)
	if len(terms) == 0 {
		return nil
	}

	textColumns := make([]string, 0, len(t.schema.Columns))

	for _, col := range t.schema.Columns {
		if col.DType == schema.DTypeStr {
			textColumns = append(textColumns, col.ID)
		}
	}

	type scored struct {
		idx   int
		score float64
	}

	var results []scored

	for idx, row := range t.rows {
		score := 0.0

		for _, colID := range textColumns {
			text, ok := row[colID].(string)
			if !ok || text == "" {
				continue
			}

			tokens := tokenize(text)
			if len(tokens) == 0 {
				continue
			}

			counts := make(map[string]int, len(tokens))
			for _, token := range tokens {
				counts[token]++
			}

			for _, term := range terms {
				if n := counts[term]; n > 0 {
					score += float64(n) / float64(len(tokens))
				}
			}
		}

		if score > 0 {
			results = append(results, scored{idx: idx, score: score})
		}
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].score > results[j].score })

	ranked := make([]int, len(results))
	for i, r := range results {
		ranked[i] = r.idx
	}

	return ranked
}

// vectorLeg ranks rows by cosine similarity of the query vector against
// the table's vector column. Rows without a vector drop out.
func (s *Store) vectorLeg(t *table, query []float32) []int {
	if len(query) == 0 {
		return nil
	}

	vecCol, ok := t.schema.VectorColumn()
	if !ok {
		return nil
	}

	type scored struct {
		idx   int
		score float64
	}

	var results []scored

	for idx, row := range t.rows {
		cell, ok := row[vecCol.ID].([]float32)
		if !ok || len(cell) != len(query) {
			continue
		}

		results = append(results, scored{idx: idx, score: cosine(query, cell)})
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].score > results[j].score })

	ranked := make([]int, len(results))
	for i, r := range results {
		ranked[i] = r.idx
	}

	return ranked
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func cosine(a, b []float32) float64 {
	var dot, normA, normB float64

	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
