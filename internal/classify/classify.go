// Package classify buckets URLs into content categories. The summarizer
// uses the category to route each page to a content-specific model.
package classify

import "strings"

// ContentType is a detected content category.
type ContentType string

const (
	Research      ContentType = "research"
	Code          ContentType = "code"
	News          ContentType = "news"
	Documentation ContentType = "documentation"
	General       ContentType = "general"
)

var researchHosts = []string{
	"arxiv.org",
	"scholar.google",
	"plos.org",
	"nature.com",
	"science.org",
	"sciencedirect.com",
	"springer.com",
	"ieee.org",
	"acm.org",
	"pubmed.ncbi",
	"nih.gov",
	"doi.org",
	"jstor.org",
	"researchgate.net",
	"biorxiv.org",
	"medrxiv.org",
}

var codeHosts = []string{
	"github.com",
	"gitlab.com",
	"stackoverflow.com",
	"stackexchange.com",
	"bitbucket.org",
	"codepen.io",
	"repl.it",
	"codesandbox.io",
	"glitch.com",
	"pypi.org",
	"npmjs.com",
	"crates.io",
	"packagist.org",
	"rubygems.org",
	"maven.org",
	"nuget.org",
}

var newsHosts = []string{
	"nytimes.com",
	"apnews.com",
	"reuters.com",
	"bbc.com",
	"cnn.com",
	"theguardian.com",
	"washingtonpost.com",
	"wsj.com",
	"bloomberg.com",
	"ft.com",
	"npr.org",
	"axios.com",
	"politico.com",
	"techcrunch.com",
	"theverge.com",
	"wired.com",
	"arstechnica.com",
	"forbes.com",
	"businessinsider.com",
}

// docsPatterns match subdomain prefixes and path segments that mark
// reference material.
var docsPatterns = []string{
	"docs.",
	"documentation",
	"developer.",
	"dev.",
	"api.",
	"reference",
	"manual",
	"wiki",
}

// Classifier detects content types from URLs. The zero value is not
// usable; construct with New.
type Classifier struct {
	research []string
	code     []string
	news     []string
	docs     []string
}

// New builds a classifier from the built-in pattern sets plus any extra
// patterns from configuration, keyed by category name.
func New(extra map[string][]string) *Classifier {
	c := &Classifier{
		research: researchHosts,
		code:     codeHosts,
		news:     newsHosts,
		docs:     docsPatterns,
	}
	for category, patterns := range extra {
		switch ContentType(strings.ToLower(category)) {
		case Research:
			c.research = append(append([]string{}, c.research...), patterns...)
		case Code:
			c.code = append(append([]string{}, c.code...), patterns...)
		case News:
			c.news = append(append([]string{}, c.news...), patterns...)
		case Documentation:
			c.docs = append(append([]string{}, c.docs...), patterns...)
		}
	}
	return c
}

// Classify returns the content category for a URL. Categories are
// checked in precedence order, so github.com/x/docs is code rather than
// documentation. Unmatched URLs are general.
func (c *Classifier) Classify(rawURL string) ContentType {
	url := strings.ToLower(rawURL)

	if matchAny(url, c.research) {
		return Research
	}
	if matchAny(url, c.code) {
		return Code
	}
	if matchAny(url, c.news) {
		return News
	}
	if matchAny(url, c.docs) {
		return Documentation
	}
	return General
}

func matchAny(url string, patterns []string) bool {
	for _, p := range patterns {
		if p != "" && strings.Contains(url, p) {
			return true
		}
	}
	return false
}
