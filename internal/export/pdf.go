package export

import (
	"context"
	"encoding/base64"
	"fmt"
	"html"
	"os/exec"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

var (
	// pdfTimeout bounds one browser run, start-up included.
	pdfTimeout = 30 * time.Second

	chromeBinaries = []string{"chromium-browser", "chromium", "google-chrome", "headless-shell"}
)

const pdfMIME = "application/pdf"

// A4 in inches, with the same margin on every side.
const (
	a4Width    = 8.27
	a4Height   = 11.69
	pageMargin = 0.6
)

func chromePath() (string, error) {
	for _, name := range chromeBinaries {
		if p, err := exec.LookPath(name); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: no chromium binary on PATH", ErrPDFDependencyMissing)
}

// htmlDataURL carries the page inline so the browser never opens a file or
// a socket to load it.
func htmlDataURL(page string) string {
	return "data:text/html;charset=utf-8;base64," + base64.StdEncoding.EncodeToString([]byte(page))
}

// publishedFooter stamps every page with the output title and page count.
func publishedFooter(title string) string {
	return `<div style="font-size:8px;width:100%;padding:0 0.6in;color:#666;display:flex;justify-content:space-between">` +
		`<span>` + html.EscapeString(title) + `</span>` +
		`<span><span class="pageNumber"></span> / <span class="totalPages"></span></span></div>`
}

// exportPDF prints a rendered output page through headless Chromium.
func exportPDF(ctx context.Context, pageHTML, title string) (*Result, error) {
	bin, err := chromePath()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, pdfTimeout)
	defer cancel()

	// Generator output is untrusted: web security stays on and every
	// outbound request goes to a dead proxy.
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.ExecPath(bin),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("proxy-server", "127.0.0.1:9"),
		chromedp.Flag("proxy-bypass-list", "<-loopback>"),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	var pdf []byte
	printPage := chromedp.ActionFunc(func(ctx context.Context) error {
		data, _, err := page.PrintToPDF().
			WithPaperWidth(a4Width).
			WithPaperHeight(a4Height).
			WithMarginTop(pageMargin).
			WithMarginBottom(pageMargin + 0.2).
			WithMarginLeft(pageMargin).
			WithMarginRight(pageMargin).
			WithPrintBackground(true).
			WithDisplayHeaderFooter(true).
			WithHeaderTemplate("<span></span>").
			WithFooterTemplate(publishedFooter(title)).
			Do(ctx)
		pdf = data
		return err
	})
	if err := chromedp.Run(browserCtx, chromedp.Navigate(htmlDataURL(pageHTML)), chromedp.WaitReady("body"), printPage); err != nil {
		return nil, fmt.Errorf("print pdf: %w", err)
	}

	return &Result{Data: pdf, Filename: fileStem(title) + ".pdf", MimeType: pdfMIME}, nil
}
