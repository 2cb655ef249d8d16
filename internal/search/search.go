// Package search indexes synced documents in Meilisearch. Only redacted
// content is ever indexed.
package search

import (
	"context"
	"time"

	"docgate/internal/source"
)

// DocumentRecord is the data we index for a document.
type DocumentRecord struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	FolderPath      string `json:"folderPath"`
	Type            string `json:"type"`
	Content         string `json:"content"`
	ModifiedAt      int64  `json:"modifiedAt"`
	SecretsDetected bool   `json:"secretsDetected"`
	RedactionCount  int    `json:"redactionCount"`
}

// RecordFor builds the index record for doc. redacted replaces the raw
// content, which is never stored in the index.
func RecordFor(doc source.Document, redacted string) DocumentRecord {
	return DocumentRecord{
		ID:              doc.ID,
		Name:            doc.Name,
		FolderPath:      doc.FolderPath,
		Type:            string(doc.Type),
		Content:         redacted,
		ModifiedAt:      doc.ModifiedTime.Unix(),
		SecretsDetected: doc.SecretsDetected,
		RedactionCount:  doc.RedactionCount,
	}
}

// Result is a single search hit returned to the caller.
type Result struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	FolderPath string    `json:"folderPath"`
	Snippet    string    `json:"snippet"`
	ModifiedAt time.Time `json:"modifiedAt"`
}

// Query describes a search request.
type Query struct {
	Text   string
	Folder string // exact folder path filter, empty = all
	Limit  int
	Offset int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Indexer can push documents into a search index.
type Indexer interface {
	IndexDocuments(ctx context.Context, docs []DocumentRecord) error
	DeleteDocuments(ctx context.Context, ids []string) error
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) (Response, error)
	Healthy() bool
}
