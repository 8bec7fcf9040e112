// Package knowledge indexes local cooking notes and retrieves the passages
// closest to a question, for the chat-completions backend's prompt context.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

const (
	// DefaultChunkWords caps a chunk at roughly a short paragraph.
	DefaultChunkWords = 350
	// minChunkWords drops headings and other fragments.
	minChunkWords     = 5
	embedBatchSize    = 64
)

// Document is one knowledge file.
type Document struct {
	Name string
	Text string
}

// Chunk is a retrievable passage. ID is "<document>#<n>".
type Chunk struct {
	ID   string
	Text string
}

// Embedder turns texts into vectors, one per text, in order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// LoadDir reads every .md and .txt file under dir. A missing dir yields no documents.
func LoadDir(dir string) ([]Document, error) {
	var docs []Document
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".md", ".txt":
		default:
			slog.Debug("Skipping knowledge file", "path", path)
			return nil
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		docs = append(docs, Document{Name: d.Name(), Text: string(raw)})
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load knowledge dir %s: %w", dir, err)
	}
	return docs, nil
}

// Split breaks text into chunks of whole sentences holding at most maxWords
// words. A single longer sentence becomes its own chunk. Chunks of five
// words or fewer are dropped.
func Split(text string, maxWords int) []string {
	if maxWords <= 0 {
		maxWords = DefaultChunkWords
	}

	var chunks, cur []string
	flush := func() {
		if len(cur) > minChunkWords {
			chunks = append(chunks, strings.Join(cur, " "))
		}
		cur = nil
	}

	for _, sentence := range sentences(text) {
		if len(cur) > 0 && len(cur)+len(sentence) > maxWords {
			flush()
		}
		cur = append(cur, sentence...)
	}
	flush()
	return chunks
}

// sentences splits text on whitespace that follows '.', '!' or '?'.
func sentences(text string) [][]string {
	var out [][]string
	var cur []string
	for _, word := range strings.Fields(text) {
		cur = append(cur, word)
		if strings.ContainsAny(word[len(word)-1:], ".!?") {
			out = append(out, cur)
			cur = nil
		}
	}
	if len(cur) > 0 {
		out = append(out, cur)
	}
	return out
}

// Index is an in-memory flat inner-product index over unit vectors.
type Index struct {
	embedder Embedder
	chunks   []Chunk
	vectors  [][]float32
}

// Build chunks and embeds docs. An empty corpus gives an empty index.
func Build(ctx context.Context, embedder Embedder, docs []Document) (*Index, error) {
	idx := &Index{embedder: embedder}
	for _, doc := range docs {
		for i, text := range Split(doc.Text, DefaultChunkWords) {
			idx.chunks = append(idx.chunks, Chunk{ID: fmt.Sprintf("%s#%d", doc.Name, i), Text: text})
		}
	}

	for start := 0; start < len(idx.chunks); start += embedBatchSize {
		batch := idx.chunks[start:min(start+embedBatchSize, len(idx.chunks))]
		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Text
		}
		vectors, err := embedder.Embed(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("embed chunks %d-%d: %w", start, start+len(batch)-1, err)
		}
		if len(vectors) != len(batch) {
			return nil, fmt.Errorf("embed chunks: got %d vectors for %d chunks", len(vectors), len(batch))
		}
		for _, v := range vectors {
			idx.vectors = append(idx.vectors, normalize(v))
		}
	}
	return idx, nil
}

// Len returns the number of indexed chunks.
func (x *Index) Len() int {
	return len(x.chunks)
}

// Search returns the texts of the k chunks most similar to query, best first.
func (x *Index) Search(ctx context.Context, query string, k int) ([]string, error) {
	if x == nil || len(x.chunks) == 0 || k <= 0 {
		return nil, nil
	}

	vectors, err := x.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embed query: got %d vectors", len(vectors))
	}
	q := normalize(vectors[0])

	type hit struct {
		pos   int
		score float32
	}
	hits := make([]hit, len(x.vectors))
	for i, v := range x.vectors {
		hits[i] = hit{pos: i, score: dot(q, v)}
	}
	slices.SortStableFunc(hits, func(a, b hit) int {
		switch {
		case a.score > b.score:
			return -1
		case a.score < b.score:
			return 1
		default:
			return 0
		}
	})

	out := make([]string, 0, min(k, len(hits)))
	for _, h := range hits[:min(k, len(hits))] {
		out = append(out, x.chunks[h.pos].Text)
	}
	return out, nil
}

func normalize(v []float32) []float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	out := make([]float32, len(v))
	if sum == 0 {
		return out
	}
	norm := float32(math.Sqrt(sum))
	for i, f := range v {
		out[i] = f / norm
	}
	return out
}

// dot ignores trailing dimensions when lengths differ.
func dot(a, b []float32) float32 {
	var s float32
	for i := range min(len(a), len(b)) {
		s += a[i] * b[i]
	}
	return s
}
