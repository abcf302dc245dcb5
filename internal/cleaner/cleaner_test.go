package cleaner

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sjkd23/PagePersona-sub002/internal/transform"
)

func rawPage(html string) transform.RawContent {
	return transform.RawContent{URL: "https://example.com/post", HTML: []byte(html)}
}

func TestCleanHTMLPrefersArticle(t *testing.T) {
	t.Parallel()

	page := `<html><body>
		<nav>Home | About</nav>
		<article><h1>Title</h1><p>First paragraph.</p><p>Second paragraph.</p></article>
		<footer>Copyright</footer>
	</body></html>`

	text, err := New(0).CleanHTML(rawPage(page))
	require.NoError(t, err)
	require.Equal(t, "Title\nFirst paragraph.\nSecond paragraph.", text)
}

func TestCleanHTMLStripsBoilerplate(t *testing.T) {
	t.Parallel()

	page := `<html><body>
		<script>alert("x")</script>
		<style>p { color: red }</style>
		<p>Visible   text
		with   messy whitespace.</p>
		<form><input name="q"></form>
	</body></html>`

	text, err := New(0).CleanHTML(rawPage(page))
	require.NoError(t, err)
	require.Equal(t, "Visible text with messy whitespace.", text)
	require.NotContains(t, text, "alert")
	require.NotContains(t, text, "color")
}

func TestCleanHTMLFallsBackToBody(t *testing.T) {
	t.Parallel()

	text, err := New(0).CleanHTML(rawPage(`<html><body>just a bare text node</body></html>`))
	require.NoError(t, err)
	require.Equal(t, "just a bare text node", text)
}

func TestTruncateAtWordBoundary(t *testing.T) {
	t.Parallel()

	c := New(20)
	got := c.CleanText("alpha beta gamma delta epsilon")
	require.LessOrEqual(t, len(got), 20)
	require.Equal(t, "alpha beta gamma", got)
	require.False(t, strings.HasSuffix(got, " "))
}

func TestCleanTextCollapsesWhitespace(t *testing.T) {
	t.Parallel()

	got := New(0).CleanText("  line one \n\n  line   two  \n")
	require.Equal(t, "line one\nline two", got)
}
