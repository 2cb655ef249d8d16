package export

import (
	"fmt"
	"html"
	"regexp"
	"strings"
)

var (
	boldPattern = regexp.MustCompile(`\*\*([^*]+)\*\*`)
	codePattern = regexp.MustCompile("`([^`]+)`")
)

// TextToHTML converts the small markdown subset generators produce
// (headings, bullet and numbered lists, paragraphs, bold and inline code)
// into HTML. All text is escaped first; links and raw HTML are never
// rendered.
func TextToHTML(text string) string {
	var (
		out       strings.Builder
		paragraph []string
		list      string
	)
	flushParagraph := func() {
		if len(paragraph) > 0 {
			out.WriteString("<p>" + inline(strings.Join(paragraph, " ")) + "</p>")
			paragraph = nil
		}
	}
	closeList := func() {
		if list != "" {
			out.WriteString("</" + list + ">")
			list = ""
		}
	}
	openList := func(tag string) {
		if list != tag {
			closeList()
			out.WriteString("<" + tag + ">")
			list = tag
		}
	}

	for _, raw := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		line := strings.TrimSpace(raw)
		switch {
		case line == "":
			flushParagraph()
			closeList()
		case strings.HasPrefix(line, "#"):
			flushParagraph()
			closeList()
			level := len(line) - len(strings.TrimLeft(line, "#"))
			if level > 6 {
				level = 6
			}
			out.WriteString(fmt.Sprintf("<h%d>%s</h%d>", level, inline(strings.TrimSpace(line[level:])), level))
		case strings.HasPrefix(line, "- ") || strings.HasPrefix(line, "* "):
			flushParagraph()
			openList("ul")
			out.WriteString("<li>" + inline(line[2:]) + "</li>")
		case numbered(line) > 0:
			flushParagraph()
			openList("ol")
			out.WriteString("<li>" + inline(strings.TrimSpace(line[numbered(line):])) + "</li>")
		default:
			closeList()
			paragraph = append(paragraph, line)
		}
	}
	flushParagraph()
	closeList()
	return out.String()
}

// numbered returns the length of a "12. " prefix, or 0.
func numbered(line string) int {
	i := 0
	for i < len(line) && line[i] >= '0' && line[i] <= '9' {
		i++
	}
	if i == 0 || i+1 >= len(line) || line[i] != '.' || line[i+1] != ' ' {
		return 0
	}
	return i + 2
}

func inline(s string) string {
	s = html.EscapeString(s)
	s = boldPattern.ReplaceAllString(s, "<strong>$1</strong>")
	return codePattern.ReplaceAllString(s, "<code>$1</code>")
}
