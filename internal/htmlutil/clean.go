package htmlutil

import (
	"strings"

	"github.com/k3a/html2text"
)

// ToText converts HTML to plain text with runs of whitespace collapsed.
func ToText(s string) string {
	return strings.Join(strings.Fields(html2text.HTML2Text(s)), " ")
}

// ErrorText returns a readable form of an upstream error body. Gateway error
// pages arrive as HTML; anything else is passed through.
func ErrorText(contentType string, body []byte) []byte {
	if !strings.Contains(strings.ToLower(contentType), "html") {
		return body
	}
	return []byte(ToText(string(body)))
}
