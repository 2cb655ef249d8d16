package folders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"docgate/internal/apperr"
	"docgate/internal/source"
)

type Mode string

const (
	// ModeBlock stops the pipeline when unexpected folders are visible.
	ModeBlock Mode = "block"
	// ModeAlert logs unexpected folders and continues.
	ModeAlert Mode = "alert"
)

func ParseMode(value string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(value))) {
	case ModeBlock, "":
		return ModeBlock, nil
	case ModeAlert:
		return ModeAlert, nil
	default:
		return "", fmt.Errorf("unknown whitelist mode %q", value)
	}
}

const defaultMaxDepth = 32

var (
	errCycle    = errors.New("folder parent chain contains a cycle")
	errTooDeep  = errors.New("folder parent chain exceeds maximum depth")
	errNoFolder = errors.New("folder not found")
)

// Lister is the part of the document source the validator needs.
type Lister interface {
	ListFolders(ctx context.Context) ([]source.Folder, error)
	ResolveParent(ctx context.Context, folderID string) (source.Folder, error)
}

// FolderInfo is a folder with its resolved path. ParentChain lists ancestor
// ids from the immediate parent up to the top-level folder.
type FolderInfo struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Path        string   `json:"path"`
	ParentChain []string `json:"parent_chain,omitempty"`
}

type Report struct {
	Mode        Mode         `json:"mode"`
	Whitelisted []FolderInfo `json:"whitelisted"`
	Unexpected  []FolderInfo `json:"unexpected"`
	CheckedAt   time.Time    `json:"checked_at"`
}

// UnexpectedPaths returns the resolved paths of non-whitelisted folders.
func (r Report) UnexpectedPaths() []string {
	paths := make([]string, 0, len(r.Unexpected))
	for _, f := range r.Unexpected {
		paths = append(paths, f.Path)
	}
	return paths
}

type Validator struct {
	lister   Lister
	patterns []string
	mode     Mode
	maxDepth int
	logger   *slog.Logger

	mu      sync.RWMutex
	cache   map[string]FolderInfo
	parents map[string]source.Folder
}

type Option func(*Validator)

func WithLogger(logger *slog.Logger) Option {
	return func(v *Validator) {
		v.logger = logger
	}
}

func WithMaxDepth(depth int) Option {
	return func(v *Validator) {
		if depth > 0 {
			v.maxDepth = depth
		}
	}
}

func NewValidator(lister Lister, patterns []string, mode Mode, opts ...Option) *Validator {
	v := &Validator{
		lister:   lister,
		patterns: append([]string(nil), patterns...),
		mode:     mode,
		maxDepth: defaultMaxDepth,
		logger:   slog.Default(),
		cache:    make(map[string]FolderInfo),
		parents:  make(map[string]source.Folder),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

func (v *Validator) Patterns() []string {
	return append([]string(nil), v.patterns...)
}

func (v *Validator) Mode() Mode {
	return v.mode
}

// ValidatePermissions lists every visible folder, resolves its path and
// partitions the folders into whitelisted and unexpected. The folder cache
// is replaced with the result of the pass.
func (v *Validator) ValidatePermissions(ctx context.Context) (Report, error) {
	listed, err := v.lister.ListFolders(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("list folders: %w", err)
	}

	byID := make(map[string]source.Folder, len(listed))
	for _, f := range listed {
		byID[f.ID] = f
	}

	resolved := make(map[string]FolderInfo, len(listed))
	report := Report{Mode: v.mode, CheckedAt: time.Now().UTC()}
	for _, f := range listed {
		info, err := v.resolve(ctx, f, byID)
		if err != nil {
			if ctx.Err() != nil {
				return Report{}, ctx.Err()
			}
			v.logger.Warn("folder path unresolved", "folder_id", f.ID, "name", f.Name, "error", err)
			report.Unexpected = append(report.Unexpected, info)
			continue
		}
		resolved[f.ID] = info
		if v.IsPathWhitelisted(info.Path) {
			report.Whitelisted = append(report.Whitelisted, info)
		} else {
			report.Unexpected = append(report.Unexpected, info)
		}
	}
	sortByPath(report.Whitelisted)
	sortByPath(report.Unexpected)

	v.mu.Lock()
	v.cache = resolved
	v.mu.Unlock()

	v.logger.Info("folder permissions validated",
		"mode", v.mode,
		"whitelisted", len(report.Whitelisted),
		"unexpected", len(report.Unexpected))
	return report, nil
}

// Enforce validates and applies the configured mode. In block mode any
// unexpected folder is a security block.
func (v *Validator) Enforce(ctx context.Context) (Report, error) {
	report, err := v.ValidatePermissions(ctx)
	if err != nil {
		return report, err
	}
	if len(report.Unexpected) == 0 {
		return report, nil
	}

	paths := report.UnexpectedPaths()
	if v.mode == ModeAlert {
		v.logger.Warn("unexpected folders visible to service account", "folders", paths)
		return report, nil
	}
	v.logger.Error("unexpected folders visible to service account, blocking", "folders", paths)
	return report, apperr.SecurityBlock("folders.enforce",
		fmt.Sprintf("%d folder(s) outside the whitelist are accessible", len(paths)),
		map[string]any{"unexpected_folders": paths})
}

// resolve walks the parent chain upward. Parents missing from the listing
// are fetched one by one; an unlisted parent without its own parent is the
// drive root and is not part of the path.
func (v *Validator) resolve(ctx context.Context, f source.Folder, listed map[string]source.Folder) (FolderInfo, error) {
	info := FolderInfo{ID: f.ID, Name: f.Name, Path: f.Name}
	names := []string{f.Name}
	seen := map[string]bool{f.ID: true}

	parentID := f.ParentID
	for depth := 0; parentID != ""; depth++ {
		if depth >= v.maxDepth {
			return info, errTooDeep
		}
		if seen[parentID] {
			return info, errCycle
		}
		seen[parentID] = true

		parent, ok := listed[parentID]
		if !ok {
			fetched, err := v.lookupParent(ctx, parentID)
			if err != nil {
				return info, err
			}
			if fetched.ParentID == "" {
				break
			}
			parent = fetched
		}
		names = append(names, parent.Name)
		info.ParentChain = append(info.ParentChain, parent.ID)
		parentID = parent.ParentID
	}

	for i, j := 0, len(names)-1; i < j; i, j = i+1, j-1 {
		names[i], names[j] = names[j], names[i]
	}
	info.Path = strings.Join(names, "/")
	return info, nil
}

func (v *Validator) lookupParent(ctx context.Context, id string) (source.Folder, error) {
	v.mu.RLock()
	f, ok := v.parents[id]
	v.mu.RUnlock()
	if ok {
		return f, nil
	}
	f, err := v.lister.ResolveParent(ctx, id)
	if err != nil {
		return source.Folder{}, fmt.Errorf("resolve parent %s: %w", id, err)
	}
	if f.ID == "" {
		return source.Folder{}, fmt.Errorf("resolve parent %s: %w", id, errNoFolder)
	}
	v.mu.Lock()
	v.parents[id] = f
	v.mu.Unlock()
	return f, nil
}

func (v *Validator) IsPathWhitelisted(path string) bool {
	return MatchesAny(path, v.patterns)
}

// IsFolderIDWhitelisted consults only the folder cache; ids not seen in the
// last validation pass are not whitelisted.
func (v *Validator) IsFolderIDWhitelisted(id string) bool {
	v.mu.RLock()
	info, ok := v.cache[id]
	v.mu.RUnlock()
	return ok && v.IsPathWhitelisted(info.Path)
}

// FolderPath returns the cached path of a folder.
func (v *Validator) FolderPath(id string) (string, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	info, ok := v.cache[id]
	return info.Path, ok
}

// WhitelistedFolders returns the cached whitelisted folders ordered by path.
func (v *Validator) WhitelistedFolders() []FolderInfo {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]FolderInfo, 0, len(v.cache))
	for _, info := range v.cache {
		if v.IsPathWhitelisted(info.Path) {
			out = append(out, info)
		}
	}
	sortByPath(out)
	return out
}

func (v *Validator) ClearCache() {
	v.mu.Lock()
	v.cache = make(map[string]FolderInfo)
	v.parents = make(map[string]source.Folder)
	v.mu.Unlock()
}

func sortByPath(infos []FolderInfo) {
	sort.Slice(infos, func(i, j int) bool { return infos[i].Path < infos[j].Path })
}
