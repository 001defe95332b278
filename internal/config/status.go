package config

import "fmt"

// StatusStyle selects how module status messages are rendered into the
// response stream.
type StatusStyle string

const (
	StatusCodeBlock StatusStyle = "md:codeblock"
	StatusH1        StatusStyle = "md:h1"
	StatusH2        StatusStyle = "md:h2"
	StatusH3        StatusStyle = "md:h3"
	StatusPlain     StatusStyle = "plain"
	StatusNone      StatusStyle = "none"
)

// Valid reports whether the style is one of the known renderers.
func (s StatusStyle) Valid() bool {
	switch s {
	case StatusCodeBlock, StatusH1, StatusH2, StatusH3, StatusPlain, StatusNone:
		return true
	}
	return false
}

// Render formats a status string per the style. Unknown styles render as
// plain so a misconfigured deployment still shows progress.
func (s StatusStyle) Render(text string) string {
	switch s {
	case StatusCodeBlock:
		return fmt.Sprintf("\n```boost\n%s\n```\n", text)
	case StatusH1:
		return fmt.Sprintf("\n\n# %s\n\n", text)
	case StatusH2:
		return fmt.Sprintf("\n\n## %s\n\n", text)
	case StatusH3:
		return fmt.Sprintf("\n\n### %s\n\n", text)
	case StatusNone:
		return ""
	default:
		return fmt.Sprintf("\n\n%s\n\n", text)
	}
}

// RenderArtifact wraps an HTML payload in the fenced block UIs recognize.
func RenderArtifact(html string) string {
	return fmt.Sprintf("\n```html\n%s\n```\n", html)
}
