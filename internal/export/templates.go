package export

import (
	"bytes"
	"html/template"
	"time"
)

var documentTemplate = template.Must(template.New("document").Parse(documentHTML))

// TemplateData holds data for document template rendering
type TemplateData struct {
	Title       string
	Profile     string
	Audience    string
	ContentHTML template.HTML
	GeneratedAt time.Time
	ReviewedBy  string
}

// RenderDocumentHTML renders the document template with provided data
func RenderDocumentHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := documentTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// The CSP forbids scripts and remote loads even if escaping were bypassed.
const documentHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <meta http-equiv="Content-Security-Policy" content="default-src 'none'; style-src 'unsafe-inline'">
  <title>{{.Title}}</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.6; max-width: 800px; margin: 2rem auto; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    code { background: #f5f5f5; padding: 0 0.2em; }
  </style>
</head>
<body>
  <h1>{{.Title}}</h1>
  <div class="meta">{{.Profile}}{{if .Audience}} | {{.Audience}}{{end}} | {{.GeneratedAt.Format "Jan 2, 2006 15:04 MST"}}{{if .ReviewedBy}} | reviewed by {{.ReviewedBy}}{{end}}</div>
  <div>{{.ContentHTML}}</div>
</body>
</html>`
