package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"docgate/internal/apperr"
)

const (
	changeFields = googleapi.Field("nextPageToken,newStartPageToken,changes(fileId,removed,time,file(id,name,mimeType,parents,createdTime,modifiedTime,trashed))")
	fileFields   = googleapi.Field("nextPageToken,files(id,name,mimeType,parents,createdTime,modifiedTime,trashed)")
	folderFields = googleapi.Field("nextPageToken,files(id,name,parents)")

	defaultMaxContentBytes = 10 << 20
)

// Drive implements DocumentSource over the Google Drive v3 API.
type Drive struct {
	srv             *drive.Service
	logger          *slog.Logger
	maxContentBytes int64
}

type DriveOption func(*Drive)

func WithDriveLogger(logger *slog.Logger) DriveOption {
	return func(d *Drive) {
		d.logger = logger
	}
}

// WithMaxContentBytes bounds how much of a single document is read.
func WithMaxContentBytes(n int64) DriveOption {
	return func(d *Drive) {
		if n > 0 {
			d.maxContentBytes = n
		}
	}
}

// NewDriveFromCredentials builds a read-only Drive client from a service
// account key.
func NewDriveFromCredentials(ctx context.Context, credentialsJSON []byte, opts ...DriveOption) (*Drive, error) {
	if len(credentialsJSON) == 0 {
		return nil, errors.New("drive credentials are empty")
	}
	cfg, err := google.JWTConfigFromJSON(credentialsJSON, drive.DriveReadonlyScope)
	if err != nil {
		return nil, fmt.Errorf("parse drive credentials: %w", err)
	}
	srv, err := drive.NewService(ctx, option.WithHTTPClient(cfg.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("create drive client: %w", err)
	}
	return NewDrive(srv, opts...), nil
}

func NewDrive(srv *drive.Service, opts ...DriveOption) *Drive {
	d := &Drive{
		srv:             srv,
		logger:          slog.Default(),
		maxContentBytes: defaultMaxContentBytes,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Drive) StartCursor(ctx context.Context) (string, error) {
	token, err := d.srv.Changes.GetStartPageToken().Context(ctx).Do()
	if err != nil {
		return "", classify("drive.start_cursor", err)
	}
	return token.StartPageToken, nil
}

func (d *Drive) ListChanges(ctx context.Context, cursor string) (ChangePage, error) {
	list, err := d.srv.Changes.List(cursor).
		IncludeRemoved(true).
		Fields(changeFields).
		Context(ctx).
		Do()
	if err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && (gerr.Code == http.StatusBadRequest || gerr.Code == http.StatusNotFound || gerr.Code == http.StatusGone) {
			return ChangePage{}, apperr.Fatal("drive.list_changes", fmt.Errorf("%w: %v", ErrInvalidCursor, err))
		}
		return ChangePage{}, classify("drive.list_changes", err)
	}

	page := ChangePage{
		NextPageCursor: list.NextPageToken,
		NewStartCursor: list.NewStartPageToken,
	}
	for _, c := range list.Changes {
		if c == nil {
			continue
		}
		entry := ChangeEntry{
			FileID:  c.FileId,
			Removed: c.Removed,
			Time:    parseTime(c.Time),
		}
		if c.File != nil {
			f := toFile(c.File)
			entry.File = &f
		}
		page.Entries = append(page.Entries, entry)
	}
	return page, nil
}

// FetchContent exports Google Docs as plain text and downloads other files
// as stored.
func (d *Drive) FetchContent(ctx context.Context, file File) (string, error) {
	var (
		resp *http.Response
		err  error
	)
	if file.MimeType == MimeGoogleDoc {
		resp, err = d.srv.Files.Export(file.ID, MimePlainText).Context(ctx).Download()
	} else {
		resp, err = d.srv.Files.Get(file.ID).Context(ctx).Download()
	}
	if err != nil {
		return "", classify("drive.fetch_content", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, d.maxContentBytes+1))
	if err != nil {
		return "", apperr.Transient("drive.fetch_content", fmt.Errorf("read %s: %w", file.ID, err))
	}
	if int64(len(body)) > d.maxContentBytes {
		d.logger.Warn("document truncated", "file_id", file.ID, "limit_bytes", d.maxContentBytes)
		body = body[:d.maxContentBytes]
	}
	return string(body), nil
}

func (d *Drive) ListFolders(ctx context.Context) ([]Folder, error) {
	var folders []Folder
	err := d.srv.Files.List().
		Q(fmt.Sprintf("mimeType='%s' and trashed=false", MimeGoogleFolder)).
		Fields(folderFields).
		PageSize(1000).
		Pages(ctx, func(list *drive.FileList) error {
			for _, f := range list.Files {
				folders = append(folders, toFolder(f))
			}
			return nil
		})
	if err != nil {
		return nil, classify("drive.list_folders", err)
	}
	return folders, nil
}

func (d *Drive) ResolveParent(ctx context.Context, folderID string) (Folder, error) {
	f, err := d.srv.Files.Get(folderID).Fields("id,name,parents").Context(ctx).Do()
	if err != nil {
		return Folder{}, classify("drive.resolve_parent", err)
	}
	return toFolder(f), nil
}

func (d *Drive) ListFiles(ctx context.Context, folderID string) ([]File, error) {
	var files []File
	err := d.srv.Files.List().
		Q(fmt.Sprintf("'%s' in parents and trashed=false and mimeType!='%s'", folderID, MimeGoogleFolder)).
		Fields(fileFields).
		PageSize(1000).
		Pages(ctx, func(list *drive.FileList) error {
			for _, f := range list.Files {
				files = append(files, toFile(f))
			}
			return nil
		})
	if err != nil {
		return nil, classify("drive.list_files", err)
	}
	return files, nil
}

func toFile(f *drive.File) File {
	return File{
		ID:           f.Id,
		Name:         f.Name,
		MimeType:     f.MimeType,
		Parents:      f.Parents,
		CreatedTime:  parseTime(f.CreatedTime),
		ModifiedTime: parseTime(f.ModifiedTime),
		Trashed:      f.Trashed,
	}
}

func toFolder(f *drive.File) Folder {
	folder := Folder{ID: f.Id, Name: f.Name}
	if len(f.Parents) > 0 {
		folder.ParentID = f.Parents[0]
	}
	return folder
}

func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return t
}

// classify maps Drive API failures onto error kinds: quota and server errors
// are transient, auth and not-found are fatal for the call.
func classify(op string, err error) error {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return apperr.Transient(op, err)
	}
	switch {
	case gerr.Code == http.StatusTooManyRequests || gerr.Code >= 500:
		return apperr.Transient(op, err)
	case gerr.Code == http.StatusForbidden && isRateLimitReason(gerr):
		return apperr.Transient(op, err)
	default:
		return apperr.Fatal(op, err)
	}
}

func isRateLimitReason(gerr *googleapi.Error) bool {
	for _, item := range gerr.Errors {
		switch item.Reason {
		case "rateLimitExceeded", "userRateLimitExceeded", "sharingRateLimitExceeded":
			return true
		}
	}
	return false
}
