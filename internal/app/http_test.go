package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"docgate/internal/apperr"
	"docgate/internal/auth"
	"docgate/internal/authpw"
	"docgate/internal/rbac"
	"docgate/internal/review"
	"docgate/internal/security"
	"docgate/internal/session"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type published struct {
	profile, name, output string
}

type fakePublisher struct {
	calls []published
}

func (p *fakePublisher) Publish(_ context.Context, profile, name, output string, _ any) (string, error) {
	p.calls = append(p.calls, published{profile, name, output})
	return "/out/" + profile + "/" + name + ".md", nil
}

type fakeSyncer struct {
	summary RunSummary
	err     error
}

func (s *fakeSyncer) RunOnce(context.Context) (RunSummary, error) {
	return s.summary, s.err
}

type testServer struct {
	handler   http.Handler
	issuer    *auth.Issuer
	queue     *review.Queue
	publisher *fakePublisher
	syncer    *fakeSyncer
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	issuer, err := auth.NewIssuer("test-secret-0123456789", time.Hour)
	if err != nil {
		t.Fatalf("NewIssuer() error = %v", err)
	}
	queue := review.NewQueue(
		review.NewFileStore(filepath.Join(t.TempDir(), "reviews.json"), quietLogger()),
		review.WithLogger(quietLogger()),
	)
	ts := &testServer{
		issuer:    issuer,
		queue:     queue,
		publisher: &fakePublisher{},
		syncer:    &fakeSyncer{summary: RunSummary{Documents: 2, Published: 4}},
	}
	svc := NewService(Deps{
		Reviews:   queue,
		Publisher: ts.publisher,
		Syncer:    ts.syncer,
		Logger:    quietLogger(),
	})
	ts.handler = NewHTTPServer(svc, issuer, "*", quietLogger()).Handler()
	return ts
}

func (ts *testServer) token(t *testing.T, name string, role rbac.Role) string {
	t.Helper()
	token, _, err := ts.issuer.Issue(name, role)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	return token
}

func (ts *testServer) flag(t *testing.T) string {
	t.Helper()
	err := ts.queue.FlagForReview(context.Background(),
		map[string]any{"profile": "executive", "output": "held summary"},
		"output requires manual review",
		[]security.Issue{{Type: "OS_PATH", Severity: security.SeverityHigh}})
	id := apperr.ReviewIDOf(err)
	if id == "" {
		t.Fatalf("FlagForReview() error = %v", err)
	}
	return id
}

func (ts *testServer) do(t *testing.T, method, path, token, body string) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)

	var payload map[string]any
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
			t.Fatalf("decode %s %s: %v (%s)", method, path, err, rec.Body.String())
		}
	}
	return rec.Code, payload
}

func TestHealthIsPublic(t *testing.T) {
	ts := newTestServer(t)
	status, body := ts.do(t, http.MethodGet, "/api/health", "", "")
	if status != http.StatusOK || body["ok"] != true {
		t.Fatalf("health = %d %v", status, body)
	}
	status, body = ts.do(t, http.MethodGet, "/api/ready", "", "")
	if status != http.StatusOK || body["status"] != "ready" {
		t.Fatalf("ready = %d %v", status, body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", rec.Code)
	}
}

func TestRequestsWithoutValidTokenAreRejected(t *testing.T) {
	ts := newTestServer(t)
	for _, token := range []string{"", "garbage", ts.token(t, "avery", rbac.RoleAdmin) + "x"} {
		status, body := ts.do(t, http.MethodGet, "/api/reviews", token, "")
		if status != http.StatusUnauthorized || body["code"] != "UNAUTHORIZED" {
			t.Fatalf("token %q: status = %d %v", token, status, body)
		}
	}
}

func TestMe(t *testing.T) {
	ts := newTestServer(t)
	status, body := ts.do(t, http.MethodGet, "/api/me", ts.token(t, "Avery", rbac.RoleReviewer), "")
	if status != http.StatusOK || body["name"] != "Avery" || body["role"] != "reviewer" {
		t.Fatalf("me = %d %v", status, body)
	}
}

func TestRoleChecks(t *testing.T) {
	ts := newTestServer(t)
	id := ts.flag(t)
	viewer := ts.token(t, "vic", rbac.RoleViewer)
	reviewer := ts.token(t, "rae", rbac.RoleReviewer)

	cases := []struct {
		name   string
		method string
		path   string
		token  string
		want   int
	}{
		{"viewer lists", http.MethodGet, "/api/reviews", viewer, http.StatusOK},
		{"viewer reads item", http.MethodGet, "/api/reviews/" + id, viewer, http.StatusOK},
		{"viewer cannot approve", http.MethodPost, "/api/reviews/" + id + "/approve", viewer, http.StatusForbidden},
		{"viewer cannot reject", http.MethodPost, "/api/reviews/" + id + "/reject", viewer, http.StatusForbidden},
		{"reviewer cannot sync", http.MethodPost, "/api/sync", reviewer, http.StatusForbidden},
		{"reviewer cannot cleanup", http.MethodPost, "/api/reviews/cleanup", reviewer, http.StatusForbidden},
		{"reviewer cannot read audit", http.MethodGet, "/api/audit", reviewer, http.StatusForbidden},
		{"unknown route", http.MethodGet, "/api/nothing", reviewer, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, body := ts.do(t, tc.method, tc.path, tc.token, "")
			if status != tc.want {
				t.Fatalf("status = %d, want %d (%v)", status, tc.want, body)
			}
		})
	}

	item, err := ts.queue.Get(context.Background(), id)
	if err != nil || item.Status != review.StatusPending {
		t.Fatalf("forbidden calls mutated the item: %+v %v", item, err)
	}
}

func TestApprovePublishesHeldOutput(t *testing.T) {
	ts := newTestServer(t)
	id := ts.flag(t)
	reviewer := ts.token(t, "Rae", rbac.RoleReviewer)

	status, body := ts.do(t, http.MethodPost, "/api/reviews/"+id+"/approve", reviewer, `{"notes":"paths are public"}`)
	if status != http.StatusOK {
		t.Fatalf("approve = %d %v", status, body)
	}
	item, _ := body["item"].(map[string]any)
	if item["status"] != string(review.StatusApproved) || item["reviewer"] != "Rae" || item["notes"] != "paths are public" {
		t.Fatalf("unexpected item: %v", item)
	}
	if body["outputPath"] != "/out/executive/review-"+id+".md" {
		t.Fatalf("outputPath = %v", body["outputPath"])
	}
	if len(ts.publisher.calls) != 1 || ts.publisher.calls[0].output != "held summary" {
		t.Fatalf("publisher calls = %+v", ts.publisher.calls)
	}

	status, body = ts.do(t, http.MethodPost, "/api/reviews/"+id+"/reject", reviewer, "")
	if status != http.StatusConflict || body["code"] != "INVALID_TRANSITION" {
		t.Fatalf("second decision = %d %v", status, body)
	}
	if len(ts.publisher.calls) != 1 {
		t.Fatal("rejected transition must not publish")
	}
}

func TestRejectDoesNotPublish(t *testing.T) {
	ts := newTestServer(t)
	id := ts.flag(t)
	status, body := ts.do(t, http.MethodPost, "/api/reviews/"+id+"/reject", ts.token(t, "rae", rbac.RoleReviewer), `{}`)
	if status != http.StatusOK {
		t.Fatalf("reject = %d %v", status, body)
	}
	if _, ok := body["outputPath"]; ok || len(ts.publisher.calls) != 0 {
		t.Fatal("rejected output was published")
	}
}

func TestReviewErrors(t *testing.T) {
	ts := newTestServer(t)
	admin := ts.token(t, "ada", rbac.RoleAdmin)

	cases := []struct {
		name, method, path, body string
		status                   int
		code                     string
	}{
		{"missing item", http.MethodGet, "/api/reviews/nope", "", http.StatusNotFound, "NOT_FOUND"},
		{"approve missing", http.MethodPost, "/api/reviews/nope/approve", "", http.StatusNotFound, "NOT_FOUND"},
		{"bad status", http.MethodGet, "/api/reviews?status=done", "", http.StatusBadRequest, "INVALID_STATUS"},
		{"bad body", http.MethodPost, "/api/reviews/nope/approve", "{", http.StatusBadRequest, "INVALID_BODY"},
		{"no ledger", http.MethodGet, "/api/ledger", "", http.StatusServiceUnavailable, "NOT_CONFIGURED"},
		{"no search", http.MethodGet, "/api/search?q=x", "", http.StatusServiceUnavailable, "NOT_CONFIGURED"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, body := ts.do(t, tc.method, tc.path, admin, tc.body)
			if status != tc.status || body["code"] != tc.code {
				t.Fatalf("got %d %v, want %d %s", status, body, tc.status, tc.code)
			}
		})
	}
}

func TestListFiltersByStatus(t *testing.T) {
	ts := newTestServer(t)
	a := ts.flag(t)
	ts.flag(t)
	if _, err := ts.queue.Approve(context.Background(), a, "rae", ""); err != nil {
		t.Fatalf("Approve() error = %v", err)
	}
	viewer := ts.token(t, "vic", rbac.RoleViewer)

	for status, want := range map[string]int{"": 2, "pending": 1, "approved": 1, "rejected": 0} {
		code, body := ts.do(t, http.MethodGet, "/api/reviews?status="+status, viewer, "")
		items, _ := body["items"].([]any)
		if code != http.StatusOK || len(items) != want {
			t.Fatalf("status=%q: %d, %d items, want %d", status, code, len(items), want)
		}
	}
}

func TestTriggerSync(t *testing.T) {
	ts := newTestServer(t)
	admin := ts.token(t, "ada", rbac.RoleAdmin)

	status, body := ts.do(t, http.MethodPost, "/api/sync", admin, "")
	if status != http.StatusOK || body["published"] != float64(4) {
		t.Fatalf("sync = %d %v", status, body)
	}

	ts.syncer.err = ErrSyncInProgress
	status, body = ts.do(t, http.MethodPost, "/api/sync", admin, "")
	if status != http.StatusConflict || body["code"] != "SYNC_IN_PROGRESS" {
		t.Fatalf("concurrent sync = %d %v", status, body)
	}

	ts.syncer.err = apperr.Transient("drive", errors.New("quota"))
	status, body = ts.do(t, http.MethodPost, "/api/sync", admin, "")
	if status != http.StatusServiceUnavailable {
		t.Fatalf("transient sync failure = %d %v", status, body)
	}
}

func TestMiddlewareSetsRequestID(t *testing.T) {
	ts := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "req-42" {
		t.Fatalf("X-Request-ID = %q", got)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatal("CORS header missing")
	}
}

func TestMapError(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{review.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
		{review.ErrInvalidTransition, http.StatusConflict, "INVALID_TRANSITION"},
		{review.ErrReviewerRequired, http.StatusBadRequest, "REVIEWER_REQUIRED"},
		{auth.ErrExpiredToken, http.StatusUnauthorized, "UNAUTHORIZED"},
		{apperr.SecurityBlock("gateway.scan", "critical secret", nil), http.StatusForbidden, "SECURITY_BLOCK"},
		{apperr.Transient("generator", errors.New("429")), http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE"},
		{errors.New("boom"), http.StatusInternalServerError, "SERVER_ERROR"},
	}
	for _, tc := range cases {
		status, code, _, _ := mapError(tc.err)
		if status != tc.status || code != tc.code {
			t.Fatalf("mapError(%v) = %d %s, want %d %s", tc.err, status, code, tc.status, tc.code)
		}
	}
}

func TestLogoutRevokesToken(t *testing.T) {
	ts := newTestServer(t)
	svc := NewService(Deps{Reviews: ts.queue, Logger: quietLogger()})
	ts.handler = NewHTTPServer(svc, ts.issuer, "*", quietLogger()).
		WithRevocations(session.NewMemoryStore()).
		Handler()

	viewer := ts.token(t, "vic", rbac.RoleViewer)
	if status, _ := ts.do(t, http.MethodGet, "/api/me", viewer, ""); status != http.StatusOK {
		t.Fatalf("me before logout = %d", status)
	}
	status, body := ts.do(t, http.MethodPost, "/api/logout", viewer, "")
	if status != http.StatusOK || body["revoked"] != true || body["subject"] != "reviewer:vic" {
		t.Fatalf("logout = %d %v", status, body)
	}
	if status, _ := ts.do(t, http.MethodGet, "/api/me", viewer, ""); status != http.StatusUnauthorized {
		t.Fatalf("me after logout = %d, want 401", status)
	}
}

func TestAdminRevokesAnotherToken(t *testing.T) {
	ts := newTestServer(t)
	svc := NewService(Deps{Reviews: ts.queue, Logger: quietLogger()})
	ts.handler = NewHTTPServer(svc, ts.issuer, "*", quietLogger()).
		WithRevocations(session.NewMemoryStore()).
		Handler()

	admin := ts.token(t, "ada", rbac.RoleAdmin)
	reviewer := ts.token(t, "rae", rbac.RoleReviewer)

	if status, _ := ts.do(t, http.MethodPost, "/api/tokens/revoke", reviewer, `{"token":"`+admin+`"}`); status != http.StatusForbidden {
		t.Fatalf("reviewer revoke = %d, want 403", status)
	}
	if status, body := ts.do(t, http.MethodPost, "/api/tokens/revoke", admin, `{"token":"nonsense"}`); status != http.StatusBadRequest {
		t.Fatalf("revoke garbage = %d %v", status, body)
	}
	status, body := ts.do(t, http.MethodPost, "/api/tokens/revoke", admin, `{"token":"`+reviewer+`"}`)
	if status != http.StatusOK || body["subject"] != "reviewer:rae" {
		t.Fatalf("revoke = %d %v", status, body)
	}
	if status, _ := ts.do(t, http.MethodGet, "/api/reviews", reviewer, ""); status != http.StatusUnauthorized {
		t.Fatalf("revoked token still accepted: %d", status)
	}
	if status, _ := ts.do(t, http.MethodGet, "/api/reviews", admin, ""); status != http.StatusOK {
		t.Fatalf("admin token affected: %d", status)
	}
}

func TestLogoutWithoutRevocationStore(t *testing.T) {
	ts := newTestServer(t)
	status, body := ts.do(t, http.MethodPost, "/api/logout", ts.token(t, "vic", rbac.RoleViewer), "")
	if status != http.StatusServiceUnavailable || body["code"] != "NOT_CONFIGURED" {
		t.Fatalf("logout = %d %v", status, body)
	}
}

type staticDirectory map[string]authpw.Account

func (d staticDirectory) SignIn(name, password string) (authpw.Account, error) {
	a, ok := d[name]
	if !ok || password != "correct horse" {
		return authpw.Account{}, authpw.ErrInvalidCredentials
	}
	return a, nil
}

func TestLoginIssuesUsableToken(t *testing.T) {
	ts := newTestServer(t)
	svc := NewService(Deps{Reviews: ts.queue, Logger: quietLogger()})
	ts.handler = NewHTTPServer(svc, ts.issuer, "*", quietLogger()).
		WithDirectory(staticDirectory{"rae": {Name: "rae", Role: rbac.RoleReviewer}}).
		Handler()

	status, body := ts.do(t, http.MethodPost, "/api/login", "", `{"name":"rae","password":"wrong"}`)
	if status != http.StatusUnauthorized || body["code"] != "INVALID_CREDENTIALS" {
		t.Fatalf("bad login = %d %v", status, body)
	}

	status, body = ts.do(t, http.MethodPost, "/api/login", "", `{"name":"rae","password":"correct horse"}`)
	if status != http.StatusOK || body["role"] != "reviewer" {
		t.Fatalf("login = %d %v", status, body)
	}
	token, _ := body["token"].(string)
	status, body = ts.do(t, http.MethodGet, "/api/me", token, "")
	if status != http.StatusOK || body["name"] != "rae" {
		t.Fatalf("me with issued token = %d %v", status, body)
	}
}
