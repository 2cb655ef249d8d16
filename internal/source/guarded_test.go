package source

import (
	"context"
	"errors"
	"testing"
	"time"

	"docgate/internal/apperr"
	"docgate/internal/resilience"
)

type fakeSource struct {
	listChangesFn func(context.Context, string) (ChangePage, error)
	fetchFn       func(context.Context, File) (string, error)
}

func (f *fakeSource) StartCursor(context.Context) (string, error) { return "1", nil }

func (f *fakeSource) ListChanges(ctx context.Context, cursor string) (ChangePage, error) {
	return f.listChangesFn(ctx, cursor)
}

func (f *fakeSource) FetchContent(ctx context.Context, file File) (string, error) {
	return f.fetchFn(ctx, file)
}

func (f *fakeSource) ListFolders(context.Context) ([]Folder, error) { return nil, nil }

func (f *fakeSource) ResolveParent(context.Context, string) (Folder, error) { return Folder{}, nil }

func (f *fakeSource) ListFiles(context.Context, string) ([]File, error) { return nil, nil }

func newTestGuarded(next DocumentSource, threshold int) (*Guarded, *resilience.Registry) {
	breakers := resilience.NewRegistry(resilience.BreakerConfig{
		FailureThreshold: threshold,
		SuccessThreshold: 1,
		ResetTimeout:     time.Hour,
	})
	retry := resilience.NewExecutor(resilience.RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, Factor: 1})
	limiter := resilience.NewLimiter(resilience.Budget{}, nil)
	return NewGuarded(next, limiter, breakers, retry), breakers
}

func TestGuardedRetriesTransientFailures(t *testing.T) {
	calls := 0
	g, _ := newTestGuarded(&fakeSource{
		fetchFn: func(context.Context, File) (string, error) {
			calls++
			if calls < 3 {
				return "", apperr.Transient("drive.fetch_content", errors.New("503"))
			}
			return "body", nil
		},
	}, 5)

	body, err := g.FetchContent(context.Background(), File{ID: "doc1"})
	if err != nil || body != "body" {
		t.Fatalf("FetchContent = %q, %v", body, err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestGuardedDoesNotRetryInvalidCursor(t *testing.T) {
	calls := 0
	g, _ := newTestGuarded(&fakeSource{
		listChangesFn: func(context.Context, string) (ChangePage, error) {
			calls++
			return ChangePage{}, apperr.Fatal("drive.list_changes", ErrInvalidCursor)
		},
	}, 5)

	_, err := g.ListChanges(context.Background(), "stale")
	if !errors.Is(err, ErrInvalidCursor) {
		t.Fatalf("expected ErrInvalidCursor, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected a single call, got %d", calls)
	}
}

func TestGuardedFailsFastWhenBreakerOpens(t *testing.T) {
	calls := 0
	g, breakers := newTestGuarded(&fakeSource{
		fetchFn: func(context.Context, File) (string, error) {
			calls++
			return "", errors.New("connection reset")
		},
	}, 1)

	ctx := context.Background()
	_, err := g.FetchContent(ctx, File{ID: "doc1"})
	if !apperr.IsKind(err, apperr.KindTransient) {
		t.Fatalf("expected transient error after exhaustion, got %v", err)
	}
	if got := breakers.Get(BreakerRead).State().State; got != resilience.StateOpen {
		t.Fatalf("expected open breaker, got %s", got)
	}

	_, err = g.FetchContent(ctx, File{ID: "doc2"})
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected no upstream call while open, got %d calls", calls)
	}
}

func TestGuardedFatalFetchesLeaveReadBreakerClosed(t *testing.T) {
	listed := 0
	g, breakers := newTestGuarded(&fakeSource{
		fetchFn: func(context.Context, File) (string, error) {
			return "", apperr.Fatal("drive.fetch_content", errors.New("404 file not found"))
		},
		listChangesFn: func(context.Context, string) (ChangePage, error) {
			listed++
			return ChangePage{NewStartCursor: "2"}, nil
		},
	}, 5)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := g.FetchContent(ctx, File{ID: "gone"}); !apperr.IsKind(err, apperr.KindFatal) {
			t.Fatalf("fetch %d: expected fatal error, got %v", i, err)
		}
	}
	if got := breakers.Get(BreakerRead).State().State; got != resilience.StateClosed {
		t.Fatalf("expected closed breaker after fatal answers, got %s", got)
	}
	if _, err := g.ListChanges(ctx, "1"); err != nil {
		t.Fatalf("ListChanges() error = %v", err)
	}
	if listed != 1 {
		t.Fatalf("expected the change feed to be called, got %d calls", listed)
	}
}
