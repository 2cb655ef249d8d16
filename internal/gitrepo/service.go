package gitrepo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"docgate/internal/review"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

const branch = "main"

type CommitInfo struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"created_at"`
}

// Service is a git repository holding one JSON file per decided review,
// committed by the reviewer who made the decision.
type Service struct {
	path string
	mu   sync.Mutex
}

func New(path string) *Service {
	return &Service{path: path}
}

// EnsureRepo initializes the repository on first use.
func (s *Service) EnsureRepo() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.open()
	return err
}

func (s *Service) open() (*git.Repository, error) {
	repo, err := git.PlainOpen(s.path)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	if err := os.MkdirAll(s.path, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInit(s.path, false)
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName(branch))); err != nil {
		return nil, fmt.Errorf("set HEAD to %s: %w", branch, err)
	}
	return repo, nil
}

// RecordDecision commits reviews/<id>.json. Recording the same decision
// twice produces no new commit.
func (s *Service) RecordDecision(_ context.Context, item review.Item) error {
	if !item.Terminal() {
		return fmt.Errorf("review %s is %s, not decided", item.ID, item.Status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	repo, err := s.open()
	if err != nil {
		return err
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("open worktree: %w", err)
	}

	payload, err := json.MarshalIndent(item, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal decision: %w", err)
	}
	rel := filepath.ToSlash(filepath.Join("reviews", item.ID+".json"))
	full := filepath.Join(worktree.Filesystem.Root(), rel)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("create reviews dir: %w", err)
	}
	if err := os.WriteFile(full, append(payload, '\n'), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", rel, err)
	}
	if _, err := worktree.Add(rel); err != nil {
		return fmt.Errorf("git add %s: %w", rel, err)
	}

	status, err := worktree.Status()
	if err != nil {
		return fmt.Errorf("worktree status: %w", err)
	}
	if status.IsClean() {
		return nil
	}

	when := time.Now()
	if item.ReviewedAt != nil {
		when = *item.ReviewedAt
	}
	message := fmt.Sprintf("%s review %s\n\nreason: %s\nnotes: %s", item.Status, item.ID, item.Reason, item.Notes)
	_, err = worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  item.Reviewer,
			Email: fmt.Sprintf("%s@reviewers.docgate.local", sanitizeEmail(item.Reviewer)),
			When:  when,
		},
	})
	if err != nil {
		return fmt.Errorf("commit decision: %w", err)
	}
	return nil
}

// Decision reads a review as committed at HEAD.
func (s *Service) Decision(id string) (review.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	repo, err := git.PlainOpen(s.path)
	if err != nil {
		return review.Item{}, fmt.Errorf("open repo: %w", err)
	}
	head, err := repo.Reference(plumbing.NewBranchReferenceName(branch), true)
	if err != nil {
		return review.Item{}, fmt.Errorf("resolve branch %s: %w", branch, err)
	}
	commitObj, err := repo.CommitObject(head.Hash())
	if err != nil {
		return review.Item{}, fmt.Errorf("load commit object: %w", err)
	}
	file, err := commitObj.File("reviews/" + id + ".json")
	if err != nil {
		return review.Item{}, fmt.Errorf("load decision %s: %w", id, err)
	}
	reader, err := file.Reader()
	if err != nil {
		return review.Item{}, fmt.Errorf("open decision reader: %w", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return review.Item{}, fmt.Errorf("read decision bytes: %w", err)
	}
	var item review.Item
	if err := json.Unmarshal(data, &item); err != nil {
		return review.Item{}, fmt.Errorf("decode decision: %w", err)
	}
	return item, nil
}

// History lists ledger commits newest first; limit <= 0 means all.
func (s *Service) History(limit int) ([]CommitInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	repo, err := git.PlainOpen(s.path)
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	ref, err := repo.Reference(plumbing.NewBranchReferenceName(branch), true)
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return []CommitInfo{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve branch %s: %w", branch, err)
	}

	iter, err := repo.Log(&git.LogOptions{From: ref.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]CommitInfo, 0)
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toCommitInfo(commitObj))
		if limit > 0 && len(items) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

func toCommitInfo(commitObj *object.Commit) CommitInfo {
	return CommitInfo{
		Hash:      commitObj.Hash.String()[:7],
		Message:   commitObj.Message,
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
}

func sanitizeEmail(input string) string {
	bytes := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			bytes = append(bytes, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			bytes = append(bytes, '.')
		}
	}
	if len(bytes) == 0 {
		return "reviewer"
	}
	return string(bytes)
}
