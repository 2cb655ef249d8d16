package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"docgate/internal/export"
)

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Renderer produces additional formats of a released output.
type Renderer interface {
	Render(ctx context.Context, doc export.Document) ([]*export.Result, error)
}

// DirPublisher writes released outputs below Root, one directory per
// profile. Each output gets a markdown file, a JSON metadata sidecar and
// whatever the optional renderer produces.
type DirPublisher struct {
	Root     string
	renderer Renderer
	logger   *slog.Logger
	now      func() time.Time
}

func NewDirPublisher(root string) *DirPublisher {
	return &DirPublisher{Root: root, logger: slog.Default(), now: time.Now}
}

// WithRenderer adds rendered formats next to each markdown file. Render
// failures are logged; the markdown is still published.
func (p *DirPublisher) WithRenderer(r Renderer, logger *slog.Logger) *DirPublisher {
	p.renderer = r
	if logger != nil {
		p.logger = logger.With("component", "publisher")
	}
	return p
}

// Publish writes output for profile and returns the path of the markdown
// file. name becomes part of the file name after cleaning.
func (p *DirPublisher) Publish(ctx context.Context, profile, name, output string, meta any) (string, error) {
	doc := export.Document{Title: name, Profile: profile, Body: output}
	if m, ok := meta.(map[string]any); ok {
		doc.ReviewedBy, _ = m["reviewer"].(string)
	}
	return p.publish(ctx, doc, meta)
}

// PublishResult writes a gateway result under its profile.
func (p *DirPublisher) PublishResult(ctx context.Context, name string, res *Result) (string, error) {
	return p.publish(ctx, export.Document{
		Title:    name,
		Profile:  res.Profile,
		Audience: res.Audience,
		Body:     res.Output,
	}, res.Metadata)
}

func (p *DirPublisher) publish(ctx context.Context, doc export.Document, meta any) (string, error) {
	profile, name, output := doc.Profile, doc.Title, doc.Body
	profile = cleanName(profile)
	if profile == "" {
		return "", fmt.Errorf("publish: profile is required")
	}
	dir := filepath.Join(p.Root, profile)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}

	now := p.now().UTC()
	base := now.Format("20060102T150405Z")
	if n := cleanName(name); n != "" {
		base += "-" + n
	}
	path := filepath.Join(dir, base+".md")
	if err := writeAtomic(path, []byte(output)); err != nil {
		return "", err
	}
	if meta != nil {
		data, err := json.MarshalIndent(meta, "", "  ")
		if err != nil {
			return "", fmt.Errorf("encode metadata: %w", err)
		}
		if err := writeAtomic(filepath.Join(dir, base+".json"), data); err != nil {
			return "", err
		}
	}
	if p.renderer != nil {
		doc.GeneratedAt = now
		p.render(ctx, doc, filepath.Join(dir, base))
	}
	return path, nil
}

func (p *DirPublisher) render(ctx context.Context, doc export.Document, base string) {
	results, err := p.renderer.Render(ctx, doc)
	if err != nil {
		p.logger.Warn("render output", "path", base, "error", err)
	}
	for _, res := range results {
		path := base + filepath.Ext(res.Filename)
		if err := writeAtomic(path, res.Data); err != nil {
			p.logger.Warn("write rendered output", "path", path, "error", err)
		}
	}
}

func cleanName(s string) string {
	s = unsafeName.ReplaceAllString(strings.TrimSpace(s), "_")
	return strings.Trim(s, "._")
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".publish-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}
