package export

import (
	"bytes"
	"html/template"
	"strings"
	"time"
)

var gridTemplate *template.Template

func init() {
	funcMap := template.FuncMap{
		"lower": strings.ToLower,
		"formatDate": func(t time.Time, layout string) string {
			return t.Format(layout)
		},
	}
	gridTemplate = template.Must(template.New("grid").Funcs(funcMap).Parse(gridTemplateHTML))
}

// RenderGridHTML renders the grid template for PDF generation.
func RenderGridHTML(grid Grid) (string, error) {
	var buf bytes.Buffer
	if err := gridTemplate.Execute(&buf, grid); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const gridTemplateHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.CorpusName}}</title>
  <style>
    body { font-family: Arial, sans-serif; font-size: 10px; margin: 1rem; }
    h1 { font-size: 16px; border-bottom: 2px solid #333; padding-bottom: 0.4rem; }
    .meta { color: #666; font-size: 9px; margin-bottom: 1rem; }
    table { border-collapse: collapse; width: 100%; }
    th, td { border: 1px solid #bbb; padding: 3px 6px; text-align: left; vertical-align: top; }
    th { background: #f0f0f0; }
    td.doc { font-weight: bold; white-space: nowrap; }
  </style>
</head>
<body>
  <h1>{{.CorpusName}}</h1>
  <div class="meta">{{len .Rows}} documents | exported {{formatDate .GeneratedAt "Jan 2, 2006 15:04"}}</div>
  <table>
    <thead>
      <tr>
        <th>Document</th>
        {{range .Columns}}<th>{{.Name}}</th>{{end}}
      </tr>
    </thead>
    <tbody>
      {{range .Rows}}
      <tr>
        <td class="doc">{{.Title}}</td>
        {{range .Values}}<td>{{.}}</td>{{end}}
      </tr>
      {{end}}
    </tbody>
  </table>
</body>
</html>`
