package preprocess

import (
	"regexp"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/athapong/finkg/pkg/extract"
	"github.com/pkg/errors"
)

var (
	markdownLinkPattern    = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	markdownHeadingPattern = regexp.MustCompile(`(?m)^#{1,6}\s*`)
	markdownEmphasisChars  = strings.NewReplacer("**", "", "__", "", "*", "", "`", "")
)

// HTMLToText converts an HTML article to plain text suitable for chunking.
// Markup is first rendered to markdown, then the markdown syntax that would
// confuse sentence segmentation is stripped.
func HTMLToText(html string) (string, error) {
	markdown, err := htmltomarkdown.ConvertString(html)
	if err != nil {
		return "", errors.Wrap(err, "html conversion failed")
	}

	text := markdownLinkPattern.ReplaceAllString(markdown, "$1")
	text = markdownHeadingPattern.ReplaceAllString(text, "")
	text = markdownEmphasisChars.Replace(text)
	return strings.TrimSpace(text), nil
}

// ChunkHTML converts an HTML document and chunks the resulting text.
func (c *Chunker) ChunkHTML(html string, publicationDate *time.Time) ([]extract.Span, error) {
	text, err := HTMLToText(html)
	if err != nil {
		return nil, err
	}
	return c.Chunk(text, publicationDate)
}
