package gemini

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/phrazzld/coursegen/internal/stream"
)

var prompts = template.Must(template.New("prompts").Funcs(template.FuncMap{
	"sentinel": func() string { return stream.Sentinel },
}).Parse(`
{{define "course"}}You are designing a course about "{{.Keyword}}".
Audience level: {{if .Difficulty}}{{.Difficulty}}{{else}}expert{{end}}.
{{- if .Style}}
Teaching style: {{.Style}}.{{end}}
{{- if .Requirements}}
Additional requirements: {{.Requirements}}{{end}}

Produce a course outline as JSON with this exact shape:
{"course_name": string, "chapters": [{"name": string, "sections": [{"name": string}]}]}
Use between 3 and 8 chapters with 2 to 6 sections each. Do not include any
other keys.{{end}}

{{define "expand"}}The course outline so far is:
{{.Outline}}

Break the section "{{.Name}}" (level {{.Level}}) into its sub-sections.
Respond with JSON of this exact shape:
{"children": [{"name": string}]}
Use between 2 and 6 children. Do not repeat sections already in the outline.{{end}}

{{define "content"}}Write the body of the course section "{{.NodeName}}" in Markdown.
{{- if .CourseContext}}

Course outline:
{{.CourseContext}}{{end}}
{{- if .PreviousContext}}

The previous section ended with:
{{.PreviousContext}}{{end}}
{{- if .OriginalContent}}

Current text of the section:
{{.OriginalContent}}{{end}}
{{- if .UserRequirement}}

Requirement from the author: {{.UserRequirement}}{{end}}

Write only the section body, without repeating its title.{{end}}

{{define "extend"}}The course section "{{.NodeName}}" currently reads:
{{.CurrentContent}}

Write additional Markdown that continues this section.
{{- if .UserRequirement}}
Requirement from the author: {{.UserRequirement}}{{end}}
Do not repeat text that is already there.
Respond with JSON of this exact shape:
{"content": string}{{end}}

{{define "ask"}}You are a tutor answering questions about a course.
{{- if .NodeName}}
The learner is reading "{{.NodeName}}".{{end}}
{{- if .NodeContent}}

Course material:
{{.NodeContent}}{{end}}
{{- if .Selection}}

The learner selected this passage:
{{.Selection}}{{end}}
{{- if .UserNotes}}

The learner's notes:
{{.UserNotes}}{{end}}
{{- if .History}}

Conversation so far:
{{range .History}}{{.Role}}: {{.Content}}
{{end}}{{end}}
Question: {{.Question}}

Answer in Markdown. After the answer write a line containing exactly
{{sentinel}} followed by a JSON object {"quote": string, "anno_summary": string, "node_id": string}
where quote is a short verbatim passage from the course material that the
answer relies on (empty if none), anno_summary is a one sentence note about
it and node_id is "{{.NodeID}}".{{end}}
`))

// render executes the named prompt template.
func render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := prompts.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("failed to execute %s prompt template: %w", name, err)
	}
	prompt := strings.TrimSpace(buf.String())
	if prompt == "" {
		return "", ErrEmptyPrompt
	}
	return prompt, nil
}
