// Package cleaner extracts readable text from scraped pages before it is
// handed to the language model.
package cleaner

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/sjkd23/PagePersona-sub002/internal/transform"
)

// Elements that never carry article text.
const strippedSelectors = "script, style, noscript, iframe, svg, form, nav, header, footer, aside"

// Cleaner reduces raw HTML to plain readable text and normalizes direct text
// submissions. MaxChars bounds what is sent to the model; zero disables
// truncation.
type Cleaner struct {
	maxChars int
}

// New constructs a Cleaner.
func New(maxChars int) *Cleaner {
	return &Cleaner{maxChars: maxChars}
}

// CleanHTML extracts the readable text of a scraped page. It prefers the
// page's article or main landmark and falls back to the whole body.
func (c *Cleaner) CleanHTML(raw transform.RawContent) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(raw.HTML)))
	if err != nil {
		return "", fmt.Errorf("parse html from %s: %w", raw.URL, err)
	}
	doc.Find(strippedSelectors).Remove()

	root := doc.Find("article").First()
	if root.Length() == 0 {
		root = doc.Find("main").First()
	}
	if root.Length() == 0 {
		root = doc.Find("body")
	}

	var b strings.Builder
	root.Find("h1, h2, h3, h4, h5, h6, p, li, blockquote, figcaption, td, th, pre").
		Each(func(_ int, sel *goquery.Selection) {
			// Source wrapping inside a block is noise; each block becomes
			// one line.
			text := strings.Join(strings.Fields(sel.Text()), " ")
			if text == "" {
				return
			}
			if b.Len() > 0 {
				b.WriteByte('\n')
			}
			b.WriteString(text)
		})

	text := b.String()
	if text == "" {
		// Pages without block structure still get their flat text.
		text = root.Text()
	}
	return c.truncate(collapseWhitespace(text)), nil
}

// CleanText normalizes a direct text submission.
func (c *Cleaner) CleanText(text string) string {
	return c.truncate(collapseWhitespace(text))
}

// truncate cuts at the last word boundary within the limit so the model never
// sees a torn word.
func (c *Cleaner) truncate(text string) string {
	if c.maxChars <= 0 || len(text) <= c.maxChars {
		return text
	}
	cut := text[:c.maxChars]
	if idx := strings.LastIndexAny(cut, " \n\t"); idx > 0 {
		cut = cut[:idx]
	}
	return strings.TrimSpace(cut)
}

func collapseWhitespace(text string) string {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
