package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

const docxMIME = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

// exportDOCX converts a rendered output page to Word through pandoc. The
// title goes in as document metadata so it shows in the file properties.
func exportDOCX(ctx context.Context, pageHTML, title string) (*Result, error) {
	bin, err := exec.LookPath("pandoc")
	if err != nil {
		return nil, fmt.Errorf("%w: pandoc not on PATH", ErrDOCXDependencyMissing)
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin,
		"--from=html", "--to=docx",
		"--metadata=title:"+title,
		"--output=-")
	cmd.Stdin = strings.NewReader(pageHTML)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("pandoc exited %d: %s", exitErr.ExitCode(), strings.TrimSpace(stderr.String()))
		}
		return nil, fmt.Errorf("run pandoc: %w", err)
	}

	return &Result{Data: stdout.Bytes(), Filename: fileStem(title) + ".docx", MimeType: docxMIME}, nil
}
