// Package docload fetches and normalizes source documents for file
// embedding: HTTP fetch with singleflight and cache deduplication,
// readability extraction for HTML, and page-aware chunking for the
// embedding fan-out.
package docload

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"
	"golang.org/x/sync/singleflight"

	"github.com/Sumatoshi-tech/tablefang/internal/cache"
	"github.com/Sumatoshi-tech/tablefang/internal/schema"
	"github.com/Sumatoshi-tech/tablefang/pkg/units"
)

// DefaultTimeout bounds one document load end to end.
const DefaultTimeout = 20 * time.Minute

// cacheTTL keeps fetched documents warm across repeated embeds of the
// same source.
const cacheTTL = time.Hour

// maxFetchBytes caps one fetched document.
const maxFetchBytes = 64 * units.MiB

// pageBreak separates pages in extracted text.
const pageBreak = "\f"

// Document is one normalized source document.
type Document struct {
	Source string `json:"source"`
	Title  string `json:"title,omitempty"`
	Text   string `json:"text"`
}

// Chunk is one embeddable slice of a document with its page provenance.
type Chunk struct {
	Text string
	Page int
}

// Loader loads documents. Concurrent loads of the same source collapse
// into one fetch; finished documents park in the cache under a digest
// key.
type Loader struct {
	cache   *cache.Cache
	client  *http.Client
	log     *slog.Logger
	timeout time.Duration

	group singleflight.Group
}

// NewLoader creates a Loader. A nil cache disables deduplication across
// processes; a non-positive timeout selects DefaultTimeout.
func NewLoader(c *cache.Cache, log *slog.Logger, timeout time.Duration) *Loader {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Loader{
		cache:   c,
		client:  &http.Client{Timeout: timeout},
		log:     log,
		timeout: timeout,
	}
}

// Load fetches and extracts the document at source. HTML sources pass
// through readability; everything else is treated as plain text.
func (l *Loader) Load(ctx context.Context, source string) (*Document, error) {
	key := docKey(source)

	if doc, ok := l.cached(ctx, key); ok {
		return doc, nil
	}

	result, err, _ := l.group.Do(key, func() (any, error) {
		if doc, ok := l.cached(ctx, key); ok {
			return doc, nil
		}

		doc, err := l.fetch(ctx, source)
		if err != nil {
			return nil, err
		}

		l.store(ctx, key, doc)

		return doc, nil
	})
	if err != nil {
		return nil, err
	}

	return result.(*Document), nil
}

// Parse normalizes an uploaded payload the same way Load treats a
// fetched body.
func (l *Loader) Parse(name string, payload []byte) (*Document, error) {
	return extract(name, payload, sniffHTML(name, payload))
}

func (l *Loader) fetch(ctx context.Context, source string) (*Document, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", schema.ErrBadInput, err)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("docload: fetch %s: %w", source, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("docload: fetch %s: status %d", source, resp.StatusCode)
	}

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return nil, fmt.Errorf("docload: read %s: %w", source, err)
	}

	contentType := resp.Header.Get("Content-Type")
	isHTML := strings.Contains(contentType, "text/html") || sniffHTML(source, payload)

	return extract(source, payload, isHTML)
}

func extract(source string, payload []byte, isHTML bool) (*Document, error) {
	if !isHTML {
		return &Document{Source: source, Text: string(payload)}, nil
	}

	pageURL, _ := url.Parse(source)

	article, err := readability.FromReader(bytes.NewReader(payload), pageURL)
	if err != nil {
		return nil, fmt.Errorf("docload: extract %s: %w", source, err)
	}

	return &Document{
		Source: source,
		Title:  article.Title,
		Text:   article.TextContent,
	}, nil
}

func (l *Loader) cached(ctx context.Context, key string) (*Document, bool) {
	if l.cache == nil {
		return nil, false
	}

	data, err := l.cache.Get(ctx, key)
	if errors.Is(err, cache.ErrNotFound) {
		return nil, false
	}

	if err != nil {
		l.log.WarnContext(ctx, "document cache read failed", slog.String("error", err.Error()))

		return nil, false
	}

	var doc Document
	if err := json.Unmarshal([]byte(data), &doc); err != nil {
		return nil, false
	}

	return &doc, true
}

func (l *Loader) store(ctx context.Context, key string, doc *Document) {
	if l.cache == nil {
		return
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return
	}

	if err := l.cache.Set(ctx, key, string(data), cacheTTL); err != nil {
		l.log.WarnContext(ctx, "document cache write failed", slog.String("error", err.Error()))
	}
}

func docKey(source string) string {
	digest := sha256.Sum256([]byte(source))

	return "doc:" + hex.EncodeToString(digest[:])
}

func sniffHTML(name string, payload []byte) bool {
	lower := strings.ToLower(name)
	if strings.HasSuffix(lower, ".html") || strings.HasSuffix(lower, ".htm") {
		return true
	}

	head := strings.ToLower(string(payload[:min(len(payload), 512)]))

	return strings.Contains(head, "<html") || strings.Contains(head, "<!doctype html")
}

// Split cuts a document into chunks of at most size runes with the
// given overlap, respecting page breaks. Pages are 1-based; documents
// without page breaks are one page.
func Split(text string, size, overlap int) []Chunk {
	if size <= 0 {
		size = 1000
	}

	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	var chunks []Chunk

	for pageIdx, page := range strings.Split(text, pageBreak) {
		page = strings.TrimSpace(page)
		if page == "" {
			continue
		}

		runes := []rune(page)

		for start := 0; start < len(runes); {
			end := start + size
			if end > len(runes) {
				end = len(runes)
			}

			piece := strings.TrimSpace(string(runes[start:end]))
			if piece != "" {
				chunks = append(chunks, Chunk{Text: piece, Page: pageIdx + 1})
			}

			if end == len(runes) {
				break
			}

			start = end - overlap
		}
	}

	return chunks
}
