package worker

import (
	"bytes"
	"fmt"
	"html/template"
	"time"

	"mockview/internal/database"
	"mockview/internal/interview"
)

// reportTemplateString 是导出 PDF 使用的报告模板，A4 纵向。
const reportTemplateString = `<!DOCTYPE html>
<html lang="{{.Language}}">
<head>
    <meta charset="UTF-8">
    <title>Interview report #{{.InterviewID}}</title>
    <style>
        @page { size: A4; margin: 18mm 16mm; }
        body { font-family: 'Noto Sans', 'Noto Sans CJK SC', sans-serif; font-size: 10.5pt; color: #1f2933; margin: 0; }
        h1 { font-size: 20pt; margin: 0 0 4px; }
        h2 { font-size: 13pt; margin: 22px 0 8px; border-bottom: 1px solid #d9e2ec; padding-bottom: 4px; }
        .meta { color: #52606d; font-size: 9pt; }
        .score { font-size: 34pt; font-weight: 700; color: #2563eb; }
        .degraded { background: #fff7ed; border: 1px solid #fdba74; padding: 6px 10px; margin-top: 10px; font-size: 9pt; }
        table { width: 100%; border-collapse: collapse; }
        td, th { text-align: left; padding: 4px 6px; border-bottom: 1px solid #eef2f6; vertical-align: top; }
        th { color: #52606d; font-weight: 600; }
        .num { text-align: right; width: 64px; }
        ul { margin: 0; padding-left: 18px; }
        .muted { color: #9aa5b1; }
    </style>
</head>
<body>
    <h1>Mock interview report</h1>
    <div class="meta">{{.Level}} · {{.Type}} · completed {{.CompletedAt}}</div>
    <div class="score">{{.Report.OverallScore}}<span class="meta"> / 100</span></div>
    {{if .Report.Meta.Degraded}}
    <div class="degraded">Some answers could not be scored in time; this report was compiled from the available scores.</div>
    {{end}}

    <h2>Summary</h2>
    <p>{{.Report.Summary}}</p>

    <h2>Dimensions</h2>
    <table>
        {{range .Dimensions}}
        <tr><td>{{.Name}}</td><td class="num">{{.Value}} / 10</td></tr>
        {{end}}
    </table>

    {{if .Report.TopStrengths}}
    <h2>Top strengths</h2>
    <ul>{{range .Report.TopStrengths}}<li>{{.}}</li>{{end}}</ul>
    {{end}}

    {{if .Report.CriticalFocus}}
    <h2>Critical focus</h2>
    <ul>{{range .Report.CriticalFocus}}<li>{{.}}</li>{{end}}</ul>
    {{end}}

    {{if .Report.NextSteps}}
    <h2>Next steps</h2>
    <ul>{{range .Report.NextSteps}}<li>{{.}}</li>{{end}}</ul>
    {{end}}

    <h2>Questions</h2>
    <table>
        <tr><th>#</th><th>Question</th><th class="num">Score</th></tr>
        {{range .Report.Questions}}
        <tr>
            <td>{{.QuestionIndex}}</td>
            <td><strong>{{.Topic}}</strong><br>{{.Question}}</td>
            <td class="num">{{if .Skipped}}<span class="muted">skipped</span>{{else if .Score}}{{.Score.Overall}} / 10{{else}}<span class="muted">n/a</span>{{end}}</td>
        </tr>
        {{end}}
    </table>
</body>
</html>`

var reportTemplate = template.Must(template.New("report").Parse(reportTemplateString))

type dimensionRow struct {
	Name  string
	Value int
}

type reportTemplateData struct {
	InterviewID uint
	Language    string
	Level       string
	Type        string
	CompletedAt string
	Report      *interview.Report
	Dimensions  []dimensionRow
}

// renderReportHTML 把已完成面试的报告渲染为 HTML，模板负责转义模型生成的文本。
func renderReportHTML(iv *database.Interview, outcome *interview.Outcome) (string, error) {
	if outcome == nil || outcome.Report == nil {
		return "", fmt.Errorf("interview %d has no report", iv.ID)
	}
	d := outcome.Report.Dimensions
	data := reportTemplateData{
		InterviewID: iv.ID,
		Language:    iv.Language,
		Level:       iv.Level,
		Type:        iv.Type,
		CompletedAt: outcome.CompletedAt.UTC().Format(time.RFC1123),
		Report:      outcome.Report,
		Dimensions: []dimensionRow{
			{"Understanding", d.Understanding},
			{"Expression", d.Expression},
			{"Logic", d.Logic},
			{"Depth", d.Depth},
			{"Authenticity", d.Authenticity},
			{"Reflection", d.Reflection},
		},
	}

	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("execute report template: %w", err)
	}
	return buf.String(), nil
}
