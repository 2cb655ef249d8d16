package review

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Store persists the whole queue. Update runs a read-modify-write that is
// exclusive across every process sharing the store; fn may run more than
// once and must not have side effects.
type Store interface {
	Load(ctx context.Context) ([]Item, error)
	Update(ctx context.Context, fn func(items []Item) ([]Item, error)) error
}

// errNoChange returned from an Update callback skips the save.
var errNoChange = errors.New("review queue unchanged")

const documentVersion = 1

type document struct {
	Version int    `json:"version"`
	Items   []Item `json:"items"`
}

func encodeItems(items []Item) ([]byte, error) {
	if items == nil {
		items = []Item{}
	}
	data, err := json.MarshalIndent(document{Version: documentVersion, Items: items}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal review queue: %w", err)
	}
	return append(data, '\n'), nil
}

func decodeItems(data []byte) ([]Item, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode review queue: %w", err)
	}
	if doc.Version != documentVersion {
		return nil, fmt.Errorf("decode review queue: unsupported version %d", doc.Version)
	}
	return doc.Items, nil
}

// FileStore keeps the queue in one JSON file, replaced atomically on save.
// Updates hold an advisory lock on a sibling ".lock" file.
type FileStore struct {
	path   string
	logger *slog.Logger
}

func NewFileStore(path string, logger *slog.Logger) *FileStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileStore{path: path, logger: logger}
}

// Load returns an empty queue when the file does not exist. An unreadable
// file is moved aside and an empty queue is returned.
func (s *FileStore) Load(_ context.Context) ([]Item, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read review queue: %w", err)
	}
	items, err := decodeItems(data)
	if err != nil {
		aside := fmt.Sprintf("%s.corrupt-%d", s.path, time.Now().Unix())
		if renameErr := os.Rename(s.path, aside); renameErr != nil {
			return nil, fmt.Errorf("%w (move aside: %v)", err, renameErr)
		}
		s.logger.Error("review queue file unreadable, starting empty", "path", s.path, "moved_to", aside, "error", err)
		return nil, nil
	}
	return items, nil
}

func (s *FileStore) Update(ctx context.Context, fn func(items []Item) ([]Item, error)) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create review dir: %w", err)
	}
	unlock, err := lockFile(ctx, s.path+".lock")
	if err != nil {
		return fmt.Errorf("lock review queue: %w", err)
	}
	defer unlock()

	items, err := s.Load(ctx)
	if err != nil {
		return err
	}
	updated, err := fn(items)
	if errors.Is(err, errNoChange) {
		return nil
	}
	if err != nil {
		return err
	}
	return s.Save(ctx, updated)
}

// Save replaces the file without taking the update lock.
func (s *FileStore) Save(_ context.Context, items []Item) error {
	data, err := encodeItems(items)
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create review dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".reviews-*.json")
	if err != nil {
		return fmt.Errorf("create temp review file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write review queue: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync review queue: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close review queue: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace review queue: %w", err)
	}
	return nil
}
