package export

import (
	"bytes"
	"html/template"
	"time"
)

var pageTemplate = template.Must(template.New("page").Funcs(template.FuncMap{
	"formatDate": func(t time.Time, layout string) string {
		return t.Format(layout)
	},
}).Parse(`<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Title}}</title>
  <style>
    @page { size: {{.PageWidth}}in {{.PageHeight}}in; margin: 0; }
    body { margin: 0; font-family: Arial, sans-serif; }
    .meta { position: fixed; bottom: 8px; right: 12px; color: #666; font-size: 10px; }
    svg { display: block; }
  </style>
</head>
<body>
  {{.SVG}}
  <div class="meta">{{.Title}} | {{.ShapeCount}} shapes | {{formatDate .GeneratedAt "Jan 2, 2006 15:04 MST"}}</div>
</body>
</html>`))

// PageData holds data for the PDF page template.
type PageData struct {
	Title       string
	SVG         template.HTML
	PageWidth   string
	PageHeight  string
	ShapeCount  int
	GeneratedAt time.Time
}

// RenderPageHTML wraps a rendered SVG in a printable page.
func RenderPageHTML(data PageData) (string, error) {
	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
