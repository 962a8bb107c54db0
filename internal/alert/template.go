package alert

import (
	"fmt"
	"html/template"
	"strings"
)

// Cell is one table cell. A non-empty URL renders as a link labelled
// Text; otherwise Text is rendered escaped.
type Cell struct {
	Text string
	URL  string
}

func TextCell(s string) Cell         { return Cell{Text: s} }
func LinkCell(text, url string) Cell { return Cell{Text: text, URL: url} }

// Table is the tabular payload of a scrape, ordered for rendering.
type Table struct {
	Columns []string
	Rows    [][]Cell
}

func (t Table) Empty() bool { return len(t.Rows) == 0 }

// TextRow returns the row's cell texts, for summaries and tests.
func (t Table) TextRow(i int) []string {
	if i < 0 || i >= len(t.Rows) {
		return nil
	}
	out := make([]string, len(t.Rows[i]))
	for j, c := range t.Rows[i] {
		out[j] = c.Text
	}
	return out
}

// ConfigItem is one labelled line in the body's configuration section.
type ConfigItem struct {
	Label string
	Value string
}

// BodyParams feeds the shared HTML body template.
type BodyParams struct {
	Title      string
	Message    string
	Table      Table
	BookingURL string
	ConfigInfo []ConfigItem
}

var bodyTmpl = template.Must(template.New("body").Parse(`<html>
  <head>
    <style>
      body { font-family: sans-serif; }
      table { border-collapse: collapse; width: 100%; }
      th, td { border: 1px solid #dddddd; text-align: left; padding: 8px; }
      th { background-color: #f2f2f2; }
      tr:nth-child(even) { background-color: #f9f9f9; }
      .config-item { margin: 4px 0; }
      .config-label { font-weight: bold; }
    </style>
  </head>
  <body>
    <h2>{{.Title}}</h2>
    <p>{{.Message}}</p>
{{- if .ConfigInfo}}
    <div class="config">
{{- range .ConfigInfo}}
      <div class="config-item"><span class="config-label">{{.Label}}:</span> {{.Value}}</div>
{{- end}}
    </div>
{{- end}}
{{- if .Table.Rows}}
    <table>
      <thead>
        <tr>{{range .Table.Columns}}<th>{{.}}</th>{{end}}</tr>
      </thead>
      <tbody>
{{- range .Table.Rows}}
        <tr>{{range .}}<td>{{if .URL}}<a href="{{.URL}}" target="_blank">{{.Text}}</a>{{else}}{{.Text}}{{end}}</td>{{end}}</tr>
{{- end}}
      </tbody>
    </table>
{{- end}}
{{- if .BookingURL}}
    <p><a href="{{.BookingURL}}">Click here to book</a></p>
{{- end}}
  </body>
</html>
`))

// RenderBody produces the HTML body shared by all alert emails.
func RenderBody(p BodyParams) (string, error) {
	var b strings.Builder
	if err := bodyTmpl.Execute(&b, p); err != nil {
		return "", fmt.Errorf("render alert body: %w", err)
	}
	return b.String(), nil
}
