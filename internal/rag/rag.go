// Package rag provides session-scoped retrieval over uploaded documents.
// The orchestrator only ever calls Index and Search; the embedding engine
// behind them is a black box.
package rag

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"
)

// Retriever is the black-box retrieval interface the orchestrator depends
// on. Search returns "" when no relevant context exists.
type Retriever interface {
	Index(ctx context.Context, text, sourceID, sessionID string) error
	Search(ctx context.Context, sessionID, query string) (string, error)
}

const (
	chunkSize = 1000
	chunkStep = 800 // 200-char overlap between neighbours
	topK      = 5
)

// Store implements Retriever over an embedded chromem-go vector database
// with one collection per session and on-disk persistence.
type Store struct {
	mu      sync.RWMutex
	db      *chromem.DB
	embedFn chromem.EmbeddingFunc
	logger  *zap.Logger
}

func New(dataDir string, embedFn chromem.EmbeddingFunc, logger *zap.Logger) (*Store, error) {
	dir := filepath.Join(dataDir, "vectorstore")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create vectorstore dir: %w", err)
	}
	db, err := chromem.NewPersistentDB(dir, false)
	if err != nil {
		return nil, fmt.Errorf("open vectorstore: %w", err)
	}
	return &Store{db: db, embedFn: embedFn, logger: logger}, nil
}

func collectionName(sessionID string) string {
	return "session_" + sessionID
}

func (s *Store) collection(sessionID string) (*chromem.Collection, error) {
	name := collectionName(sessionID)
	if col := s.db.GetCollection(name, s.embedFn); col != nil {
		return col, nil
	}
	col, err := s.db.CreateCollection(name, nil, s.embedFn)
	if err != nil {
		return nil, fmt.Errorf("create collection %s: %w", name, err)
	}
	return col, nil
}

// Index chunks the text and embeds every chunk into the session's
// collection. sourceID (the uploaded filename) keys the chunks so
// re-uploading a document re-indexes it.
func (s *Store) Index(ctx context.Context, text, sourceID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	col, err := s.collection(sessionID)
	if err != nil {
		return err
	}

	for i, chunk := range chunkText(text, chunkSize, chunkStep) {
		doc := chromem.Document{
			ID:      fmt.Sprintf("%s#%d", sourceID, i),
			Content: chunk,
			Metadata: map[string]string{
				"source": sourceID,
			},
		}
		if err := col.AddDocument(ctx, doc); err != nil {
			return fmt.Errorf("index chunk %d of %s: %w", i, sourceID, err)
		}
	}
	s.logger.Info("document indexed",
		zap.String("session_id", sessionID), zap.String("source", sourceID))
	return nil
}

// Search returns the top matching chunks joined with "---" separators, or
// "" when the session has no indexed documents.
func (s *Store) Search(ctx context.Context, sessionID, query string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	col := s.db.GetCollection(collectionName(sessionID), s.embedFn)
	if col == nil {
		return "", nil
	}
	count := col.Count()
	if count == 0 {
		return "", nil
	}

	k := topK
	if k > count {
		k = count
	}
	results, err := col.Query(ctx, query, k, nil, nil)
	if err != nil {
		return "", fmt.Errorf("vector query: %w", err)
	}

	chunks := make([]string, 0, len(results))
	for _, r := range results {
		chunks = append(chunks, r.Content)
	}
	return strings.Join(chunks, "\n---\n"), nil
}

// chunkText splits text into size-char chunks starting every step chars,
// so neighbouring chunks overlap by size-step.
func chunkText(text string, size, step int) []string {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}
	var chunks []string
	for start := 0; start < len(runes); start += step {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return chunks
}
