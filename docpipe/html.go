package docpipe

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var htmlSanitizer = bluemonday.UGCPolicy()

func newMarkdownConverter() *converter.Converter {
	return converter.NewConverter(
		converter.WithPlugins(
			base.NewBasePlugin(),
			commonmark.NewCommonmarkPlugin(),
			table.NewTablePlugin(),
		),
	)
}

// extractHTMLFile converts an HTML file to markdown and parses the result
// into sections. Scripts, styles and event handlers are stripped before
// conversion so that only visible content reaches the summarizer.
func extractHTMLFile(path string) (string, []Section, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", nil, err
	}

	title := ""
	if doc, err := html.Parse(bytes.NewReader(data)); err == nil {
		title = findHTMLTitle(doc)
	}

	clean := htmlSanitizer.SanitizeBytes(data)
	md, err := newMarkdownConverter().ConvertString(string(clean))
	if err != nil {
		return "", nil, fmt.Errorf("convert html: %w", err)
	}

	mdTitle, sections := parseMarkdown(md)
	if title == "" {
		title = mdTitle
	}
	return title, sections, nil
}

// findHTMLTitle returns the text of the first <title> element.
func findHTMLTitle(n *html.Node) string {
	if n.Type == html.ElementNode && n.DataAtom == atom.Title {
		if n.FirstChild != nil {
			return strings.TrimSpace(n.FirstChild.Data)
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if t := findHTMLTitle(c); t != "" {
			return t
		}
	}
	return ""
}
