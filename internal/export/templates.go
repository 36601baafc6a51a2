package export

import (
	"bytes"
	"embed"
	"html/template"
	"strings"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

var recordTemplate *template.Template

func init() {
	funcMap := template.FuncMap{
		"lower": strings.ToLower,
		"formatDate": func(v any, layout string) string {
			switch t := v.(type) {
			case time.Time:
				return t.Format(layout)
			case *time.Time:
				if t == nil {
					return ""
				}
				return t.Format(layout)
			}
			return ""
		},
	}

	templateContent, err := templateFS.ReadFile("templates/decision.html")
	if err != nil {
		// Fallback to built-in template if file not found
		recordTemplate = template.Must(template.New("decision").Funcs(funcMap).Parse(fallbackTemplate))
		return
	}

	recordTemplate = template.Must(template.New("decision").Funcs(funcMap).Parse(string(templateContent)))
}

// TemplateData holds data for decision record template rendering
type TemplateData struct {
	Title       string
	Description string
	PipelineID  string
	Type        string
	Status      string
	Urgency     string
	Assignee    string
	CreatedAt   time.Time
	Deadline    *time.Time
	Resolution  string
	DeferReason string
	Options     []TemplateOption
	History     []TemplateHistoryEntry
	Votes       []TemplateVote
	Comments    []TemplateComment
	GeneratedAt time.Time
}

// TemplateOption holds a single option for the template
type TemplateOption struct {
	Title        string
	Description  string
	Impact       string
	Effort       string
	Selected     bool
	Automatic    bool
	Consequences []string
	Requirements []string
}

// TemplateHistoryEntry holds one history row for the template
type TemplateHistoryEntry struct {
	Timestamp time.Time
	User      string
	Action    string
	Comment   string
}

// TemplateVote holds one vote for the template
type TemplateVote struct {
	User      string
	Value     string
	Timestamp time.Time
}

// TemplateComment holds one comment for the template
type TemplateComment struct {
	User      string
	Content   string
	Timestamp time.Time
	IsReply   bool
}

// RenderRecordHTML renders the decision record template with provided data
func RenderRecordHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := recordTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// fallbackTemplate is used if the embedded template fails to load
const fallbackTemplate = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Title}}</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.6; max-width: 800px; margin: 2rem auto; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    .option { background: #f5f5f5; padding: 1rem; margin: 1rem 0; border-left: 3px solid #333; }
    .option.selected { border-left-color: #2a7; }
  </style>
</head>
<body>
  <h1>{{.Title}}</h1>
  <div class="meta">{{.PipelineID}} | {{.Status}} | {{.Urgency}} | {{formatDate .CreatedAt "Jan 2, 2006"}}</div>
  <p>{{.Description}}</p>
  {{range .Options}}<div class="option{{if .Selected}} selected{{end}}"><strong>{{.Title}}</strong> ({{.Impact}}) {{.Description}}</div>{{end}}
  {{if .Resolution}}<p><strong>Resolution:</strong> {{.Resolution}}</p>{{end}}
</body>
</html>`
