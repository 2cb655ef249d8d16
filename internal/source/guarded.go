package source

import (
	"context"

	"docgate/internal/resilience"
)

const (
	BreakerRead = "docsource.read"
	ClassRead   = "drive.read"
)

// Guarded wraps a DocumentSource so every call waits for a rate-limit token
// and runs retried inside the read breaker.
type Guarded struct {
	next    DocumentSource
	limiter *resilience.Limiter
	breaker *resilience.Breaker
	retry   *resilience.Executor
}

var _ DocumentSource = (*Guarded)(nil)

func NewGuarded(next DocumentSource, limiter *resilience.Limiter, breakers *resilience.Registry, retry *resilience.Executor) *Guarded {
	return &Guarded{
		next:    next,
		limiter: limiter,
		breaker: breakers.Get(BreakerRead),
		retry:   retry,
	}
}

func guarded[T any](ctx context.Context, g *Guarded, label string, op func(context.Context) (T, error)) (T, error) {
	result := resilience.Guard(ctx, g.breaker, g.retry, label, func(ctx context.Context) (T, error) {
		if err := g.limiter.Wait(ctx, ClassRead); err != nil {
			var zero T
			return zero, err
		}
		return op(ctx)
	})
	return result.Output(label)
}

func (g *Guarded) StartCursor(ctx context.Context) (string, error) {
	return guarded(ctx, g, "docsource.start_cursor", g.next.StartCursor)
}

func (g *Guarded) ListChanges(ctx context.Context, cursor string) (ChangePage, error) {
	return guarded(ctx, g, "docsource.list_changes", func(ctx context.Context) (ChangePage, error) {
		return g.next.ListChanges(ctx, cursor)
	})
}

func (g *Guarded) FetchContent(ctx context.Context, file File) (string, error) {
	return guarded(ctx, g, "docsource.fetch_content", func(ctx context.Context) (string, error) {
		return g.next.FetchContent(ctx, file)
	})
}

func (g *Guarded) ListFolders(ctx context.Context) ([]Folder, error) {
	return guarded(ctx, g, "docsource.list_folders", g.next.ListFolders)
}

func (g *Guarded) ResolveParent(ctx context.Context, folderID string) (Folder, error) {
	return guarded(ctx, g, "docsource.resolve_parent", func(ctx context.Context) (Folder, error) {
		return g.next.ResolveParent(ctx, folderID)
	})
}

func (g *Guarded) ListFiles(ctx context.Context, folderID string) ([]File, error) {
	return guarded(ctx, g, "docsource.list_files", func(ctx context.Context) ([]File, error) {
		return g.next.ListFiles(ctx, folderID)
	})
}
