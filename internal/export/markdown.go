package export

import (
	"html/template"

	"gitlab.com/golang-commonmark/markdown"
)

// Raw HTML in page text is escaped, never passed through.
var renderer = markdown.New(markdown.XHTMLOutput(true), markdown.HTML(false))

// PageHTML renders one page of markdown text.
func PageHTML(content string) template.HTML {
	if content == "" {
		return ""
	}
	return template.HTML(renderer.RenderToString([]byte(content)))
}
