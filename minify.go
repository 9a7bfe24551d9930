package vivid

import (
	"regexp"
	"strings"
	"sync"

	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/html"
)

var (
	minifier     *minify.M
	minifierOnce sync.Once

	whitespaceRun   = regexp.MustCompile(`\s+`)
	spaceBetweenTag = regexp.MustCompile(`>\s+<`)
)

// getMinifier returns the shared HTML minifier.
func getMinifier() *minify.M {
	minifierOnce.Do(func() {
		minifier = minify.New()
		minifier.AddFunc("text/html", html.Minify)
	})
	return minifier
}

// minifyHTML compacts markup. On minifier failure the input comes back
// unchanged.
func minifyHTML(src string) string {
	if !strings.Contains(src, "<") {
		return normalizeWhitespace(src)
	}
	out, err := getMinifier().String("text/html", src)
	if err != nil {
		return src
	}
	return out
}

// normalizeWhitespace collapses runs of whitespace to single spaces and
// trims the ends.
func normalizeWhitespace(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// normalizeFragment canonicalizes a markup fragment for comparison:
// whitespace runs collapse and inter-tag gaps disappear. Captured templates
// are compared in this form so formatting differences do not defeat
// idempotence checks.
func normalizeFragment(src string) string {
	src = whitespaceRun.ReplaceAllString(src, " ")
	src = spaceBetweenTag.ReplaceAllString(src, "><")
	return strings.TrimSpace(src)
}
