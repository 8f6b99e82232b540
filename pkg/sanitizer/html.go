// Package sanitizer strips dangerous markup from stored mail and template
// content before it is persisted and later sent.
package sanitizer

import (
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

var (
	emailPolicy *bluemonday.Policy
	strictOnce  sync.Once
)

func initPolicy() {
	strictOnce.Do(func() {
		// Email-safe subset: structural and formatting tags that render
		// consistently across mail clients. Scripts, event handlers and
		// javascript: URLs are stripped.
		emailPolicy = bluemonday.NewPolicy()
		emailPolicy.AllowStandardURLs()
		emailPolicy.AllowElements(
			"html", "head", "body",
			"p", "br", "hr", "div", "span",
			"h1", "h2", "h3", "h4", "h5", "h6",
			"strong", "b", "em", "i", "u", "small",
			"ul", "ol", "li",
			"table", "thead", "tbody", "tr", "th", "td",
			"blockquote", "pre", "code",
		)
		emailPolicy.AllowAttrs("href").OnElements("a")
		emailPolicy.AllowAttrs("src", "alt", "width", "height").OnElements("img")
		emailPolicy.AllowElements("a", "img")
		emailPolicy.AllowAttrs("style").Globally()
	})
}

// EmailHTML sanitizes HTML destined for an email body. The returned markup
// contains only tags and attributes from the email-safe allowlist.
func EmailHTML(s string) string {
	initPolicy()
	return emailPolicy.Sanitize(s)
}

// PlainText strips all HTML, returning plain text.
func PlainText(s string) string {
	return bluemonday.StrictPolicy().Sanitize(s)
}
