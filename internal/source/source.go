// Package source models documents held in the remote document store and the
// narrow capability interface the gateway needs from it.
package source

import (
	"context"
	"errors"
	"path"
	"strings"
	"time"
)

// ErrInvalidCursor is returned by ListChanges when the upstream no longer
// recognizes a change cursor.
var ErrInvalidCursor = errors.New("change cursor rejected by upstream")

type DocType string

const (
	TypeGoogleDoc DocType = "google_doc"
	TypeMarkdown  DocType = "markdown"
	TypePlainText DocType = "plain_text"
	TypeOther     DocType = "other"
)

const (
	MimeGoogleDoc    = "application/vnd.google-apps.document"
	MimeGoogleFolder = "application/vnd.google-apps.folder"
	MimeMarkdown     = "text/markdown"
	MimeXMarkdown    = "text/x-markdown"
	MimePlainText    = "text/plain"
)

// TypeOf classifies a file by mime type, falling back to the extension for
// markdown files uploaded as octet-stream.
func TypeOf(mimeType, name string) DocType {
	switch mimeType {
	case MimeGoogleDoc:
		return TypeGoogleDoc
	case MimeMarkdown, MimeXMarkdown:
		return TypeMarkdown
	case MimePlainText:
		if isMarkdownName(name) {
			return TypeMarkdown
		}
		return TypePlainText
	}
	if isMarkdownName(name) {
		return TypeMarkdown
	}
	return TypeOther
}

func isMarkdownName(name string) bool {
	switch strings.ToLower(path.Ext(name)) {
	case ".md", ".markdown":
		return true
	}
	return false
}

// Monitored reports whether documents of this type are synchronized.
func (t DocType) Monitored() bool {
	return t == TypeGoogleDoc || t == TypeMarkdown || t == TypePlainText
}

// File is document metadata as reported by the upstream.
type File struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	MimeType     string    `json:"mime_type"`
	Parents      []string  `json:"parents,omitempty"`
	CreatedTime  time.Time `json:"created_time"`
	ModifiedTime time.Time `json:"modified_time"`
	Trashed      bool      `json:"trashed,omitempty"`
}

func (f File) Type() DocType {
	return TypeOf(f.MimeType, f.Name)
}

// ParentID returns the first parent folder, or "" for root-level files.
func (f File) ParentID() string {
	if len(f.Parents) == 0 {
		return ""
	}
	return f.Parents[0]
}

// Document is a fetched file plus the annotations added by the pipeline.
type Document struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Content         string    `json:"content"`
	FolderPath      string    `json:"folder_path"`
	Type            DocType   `json:"type"`
	CreatedTime     time.Time `json:"created_time"`
	ModifiedTime    time.Time `json:"modified_time"`
	SecretsDetected bool      `json:"secrets_detected,omitempty"`
	RedactionCount  int       `json:"redaction_count,omitempty"`
}

// ChangeEntry is one record of the upstream change feed. File is nil when
// the upstream reports a removal without metadata.
type ChangeEntry struct {
	FileID  string
	Removed bool
	File    *File
	Time    time.Time
}

// ChangePage is one page of the change feed. Exactly one of NextPageCursor
// and NewStartCursor is set: the former continues the walk, the latter is
// the cursor to persist once the walk is done.
type ChangePage struct {
	Entries        []ChangeEntry
	NextPageCursor string
	NewStartCursor string
}

// Folder is a folder as listed upstream.
type Folder struct {
	ID       string
	Name     string
	ParentID string
}

// DocumentSource is the slice of the document store API the gateway uses.
type DocumentSource interface {
	StartCursor(ctx context.Context) (string, error)
	ListChanges(ctx context.Context, cursor string) (ChangePage, error)
	FetchContent(ctx context.Context, file File) (string, error)
	ListFolders(ctx context.Context) ([]Folder, error)
	ResolveParent(ctx context.Context, folderID string) (Folder, error)
	ListFiles(ctx context.Context, folderID string) ([]File, error)
}
