// Package sanitize cleans untrusted markup received as media content before it
// is stored in the conversation.
package sanitize

import (
	"github.com/microcosm-cc/bluemonday"
)

// Sanitizer removes script tags, inline event handlers, javascript: URIs and
// iframes from markup while keeping presentational content such as images,
// tables and links.
type Sanitizer struct {
	policy *bluemonday.Policy
}

func New() *Sanitizer {
	policy := bluemonday.UGCPolicy()
	policy.AllowAttrs("width", "height").OnElements("img")
	policy.AllowDataURIImages()
	policy.AllowURLSchemes("http", "https", "mailto")
	policy.RequireNoFollowOnLinks(true)
	policy.AddTargetBlankToFullyQualifiedLinks(true)

	return &Sanitizer{policy: policy}
}

func (s *Sanitizer) Sanitize(markup string) string {
	return s.policy.Sanitize(markup)
}
