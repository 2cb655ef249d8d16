package source

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"docgate/internal/apperr"
)

func newTestDrive(t *testing.T, handler http.HandlerFunc) *Drive {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	srv, err := drive.NewService(context.Background(),
		option.WithEndpoint(ts.URL+"/"),
		option.WithoutAuthentication(),
		option.WithHTTPClient(ts.Client()),
	)
	if err != nil {
		t.Fatalf("drive.NewService failed: %v", err)
	}
	return NewDrive(srv, WithMaxContentBytes(64))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestDriveListChangesMapsEntries(t *testing.T) {
	d := newTestDrive(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/changes/startPageToken":
			writeJSON(w, http.StatusOK, map[string]any{"startPageToken": "100"})
		case r.URL.Path == "/changes" && r.URL.Query().Get("pageToken") == "100":
			if r.URL.Query().Get("includeRemoved") != "true" {
				t.Errorf("expected includeRemoved=true, got %q", r.URL.RawQuery)
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"nextPageToken": "101",
				"changes": []map[string]any{
					{
						"fileId": "doc1",
						"time":   "2024-05-01T10:00:00.000Z",
						"file": map[string]any{
							"id":           "doc1",
							"name":         "Design",
							"mimeType":     MimeGoogleDoc,
							"parents":      []string{"f1"},
							"createdTime":  "2024-05-01T09:00:00.000Z",
							"modifiedTime": "2024-05-01T10:00:00.000Z",
						},
					},
					{"fileId": "gone", "removed": true},
				},
			})
		default:
			http.NotFound(w, r)
		}
	})

	ctx := context.Background()
	cursor, err := d.StartCursor(ctx)
	if err != nil || cursor != "100" {
		t.Fatalf("StartCursor = %q, %v", cursor, err)
	}

	page, err := d.ListChanges(ctx, cursor)
	if err != nil {
		t.Fatalf("ListChanges failed: %v", err)
	}
	if page.NextPageCursor != "101" || page.NewStartCursor != "" {
		t.Fatalf("unexpected cursors: %+v", page)
	}
	if len(page.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(page.Entries))
	}
	first := page.Entries[0]
	if first.File == nil || first.File.Type() != TypeGoogleDoc || first.File.ParentID() != "f1" {
		t.Fatalf("unexpected first entry: %+v", first.File)
	}
	if first.File.ModifiedTime.IsZero() {
		t.Fatal("expected parsed modified time")
	}
	if !page.Entries[1].Removed || page.Entries[1].File != nil {
		t.Fatalf("expected removal without metadata, got %+v", page.Entries[1])
	}
}

func TestDriveListChangesInvalidCursor(t *testing.T) {
	d := newTestDrive(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error": map[string]any{
				"code":    400,
				"message": "Invalid Value",
				"errors":  []map[string]any{{"reason": "invalid", "message": "Invalid Value"}},
			},
		})
	})

	_, err := d.ListChanges(context.Background(), "expired")
	if !errors.Is(err, ErrInvalidCursor) {
		t.Fatalf("expected ErrInvalidCursor, got %v", err)
	}
	if apperr.Retryable(err) {
		t.Fatal("an invalid cursor must not be retried")
	}
}

func TestDriveErrorClassification(t *testing.T) {
	cases := []struct {
		name   string
		status int
		reason string
		kind   apperr.Kind
	}{
		{name: "quota", status: http.StatusTooManyRequests, reason: "rateLimitExceeded", kind: apperr.KindTransient},
		{name: "server", status: http.StatusServiceUnavailable, reason: "backendError", kind: apperr.KindTransient},
		{name: "user rate limit", status: http.StatusForbidden, reason: "userRateLimitExceeded", kind: apperr.KindTransient},
		{name: "forbidden", status: http.StatusForbidden, reason: "insufficientPermissions", kind: apperr.KindFatal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := newTestDrive(t, func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tc.status, map[string]any{
					"error": map[string]any{
						"code":    tc.status,
						"message": tc.reason,
						"errors":  []map[string]any{{"reason": tc.reason}},
					},
				})
			})
			_, err := d.ListFolders(context.Background())
			if got := apperr.KindOf(err); got != tc.kind {
				t.Fatalf("expected kind %s, got %s (%v)", tc.kind, got, err)
			}
		})
	}
}

func TestDriveFetchContentExportsAndDownloads(t *testing.T) {
	d := newTestDrive(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/files/doc1/export":
			if r.URL.Query().Get("mimeType") != MimePlainText {
				t.Errorf("expected plain text export, got %q", r.URL.RawQuery)
			}
			_, _ = w.Write([]byte("exported body"))
		case "/files/notes.md":
			_, _ = w.Write([]byte("# heading\n" + string(make([]byte, 100))))
		default:
			http.NotFound(w, r)
		}
	})

	ctx := context.Background()
	body, err := d.FetchContent(ctx, File{ID: "doc1", MimeType: MimeGoogleDoc})
	if err != nil || body != "exported body" {
		t.Fatalf("export = %q, %v", body, err)
	}

	body, err = d.FetchContent(ctx, File{ID: "notes.md", MimeType: MimeMarkdown})
	if err != nil {
		t.Fatalf("download failed: %v", err)
	}
	if len(body) != 64 {
		t.Fatalf("expected content truncated to 64 bytes, got %d", len(body))
	}
}

func TestDriveListFoldersAndResolveParent(t *testing.T) {
	d := newTestDrive(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/files":
			writeJSON(w, http.StatusOK, map[string]any{
				"files": []map[string]any{
					{"id": "eng", "name": "Engineering"},
					{"id": "api", "name": "API", "parents": []string{"eng"}},
				},
			})
		case "/files/api":
			writeJSON(w, http.StatusOK, map[string]any{"id": "api", "name": "API", "parents": []string{"eng"}})
		default:
			http.NotFound(w, r)
		}
	})

	ctx := context.Background()
	folders, err := d.ListFolders(ctx)
	if err != nil {
		t.Fatalf("ListFolders failed: %v", err)
	}
	if len(folders) != 2 || folders[1].ParentID != "eng" || folders[0].ParentID != "" {
		t.Fatalf("unexpected folders: %+v", folders)
	}

	parent, err := d.ResolveParent(ctx, "api")
	if err != nil || parent.Name != "API" || parent.ParentID != "eng" {
		t.Fatalf("ResolveParent = %+v, %v", parent, err)
	}
}

func TestTypeOf(t *testing.T) {
	cases := []struct {
		mime, name string
		want       DocType
	}{
		{MimeGoogleDoc, "Spec", TypeGoogleDoc},
		{MimeMarkdown, "README", TypeMarkdown},
		{MimePlainText, "notes.md", TypeMarkdown},
		{MimePlainText, "notes.txt", TypePlainText},
		{"application/octet-stream", "CHANGELOG.markdown", TypeMarkdown},
		{"application/pdf", "deck.pdf", TypeOther},
	}
	for _, tc := range cases {
		if got := TypeOf(tc.mime, tc.name); got != tc.want {
			t.Fatalf("TypeOf(%q, %q) = %s, want %s", tc.mime, tc.name, got, tc.want)
		}
	}
}
