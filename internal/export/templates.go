package export

import (
	"bytes"
	"html/template"
	"strings"
	"time"
)

var documentTemplate = template.Must(template.New("document").Funcs(template.FuncMap{
	"lower": strings.ToLower,
	"formatDate": func(t time.Time, layout string) string {
		return t.Format(layout)
	},
}).Parse(documentHTML))

// TemplateData holds data for document template rendering
type TemplateData struct {
	Title     string
	Project   string
	Hash      string
	Mode      string
	Author    string
	CreatedAt time.Time
	Pages     []TemplatePage
}

type TemplatePage struct {
	Number int
	HTML   template.HTML
}

// RenderDocumentHTML renders the document template with provided data
func RenderDocumentHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := documentTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const documentHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Title}}</title>
  <style>
    body { font-family: Georgia, serif; line-height: 1.6; max-width: 800px; margin: 2rem auto; }
    header { border-bottom: 2px solid #333; margin-bottom: 2rem; }
    .meta { color: #666; font-size: 0.9em; }
    .page { page-break-after: always; }
    .page:last-child { page-break-after: auto; }
    .page-number { color: #999; font-size: 0.8em; text-align: right; }
  </style>
</head>
<body>
  <header>
    <h1>{{.Title}}</h1>
    <div class="meta">{{.Project}} | {{.Mode | lower}} {{.Hash}}{{if .Author}} | {{.Author}}{{end}}{{if not .CreatedAt.IsZero}} | {{formatDate .CreatedAt "Jan 2, 2006"}}{{end}}</div>
  </header>
  {{range .Pages}}<section class="page" id="page-{{.Number}}">
    {{.HTML}}
    <div class="page-number">{{.Number}}</div>
  </section>
  {{end}}
</body>
</html>`
