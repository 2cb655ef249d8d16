package export

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"strings"
)

// Renderer produces the configured formats for a document.
type Renderer struct {
	formats []Format
	pdf     func(ctx context.Context, html, title string) (*Result, error)
	docx    func(ctx context.Context, html, title string) (*Result, error)
}

func NewRenderer(formats []Format) *Renderer {
	return &Renderer{formats: formats, pdf: exportPDF, docx: exportDOCX}
}

func (r *Renderer) Formats() []Format {
	return r.formats
}

// Render returns one result per configured format. A format that fails does
// not stop the others; the failures are joined into the returned error.
func (r *Renderer) Render(ctx context.Context, doc Document) ([]*Result, error) {
	if len(r.formats) == 0 {
		return nil, nil
	}
	page, err := RenderDocumentHTML(TemplateData{
		Title:       doc.Title,
		Profile:     doc.Profile,
		Audience:    doc.Audience,
		ContentHTML: template.HTML(TextToHTML(doc.Body)),
		GeneratedAt: doc.GeneratedAt,
		ReviewedBy:  doc.ReviewedBy,
	})
	if err != nil {
		return nil, fmt.Errorf("render html: %w", err)
	}

	var (
		results []*Result
		errs    []error
	)
	for _, f := range r.formats {
		var (
			res *Result
			err error
		)
		switch f {
		case FormatHTML:
			res = &Result{Data: []byte(page), Filename: fileStem(doc.Title) + ".html", MimeType: "text/html; charset=utf-8"}
		case FormatPDF:
			res, err = r.pdf(ctx, page, doc.Title)
		case FormatDOCX:
			res, err = r.docx(ctx, page, doc.Title)
		default:
			err = fmt.Errorf("unknown export format %q", f)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", f, err))
			continue
		}
		results = append(results, res)
	}
	return results, errors.Join(errs...)
}

// maxStemLen bounds the file name stem taken from an output title.
const maxStemLen = 50

// fileStem turns an output title into a file name stem: ASCII letters,
// digits, '-' and '_' are kept, spaces become '-', anything else is dropped.
func fileStem(title string) string {
	var b strings.Builder
	for _, r := range title {
		if b.Len() == maxStemLen {
			break
		}
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteByte('-')
		}
	}
	if b.Len() == 0 {
		return "document"
	}
	return b.String()
}
