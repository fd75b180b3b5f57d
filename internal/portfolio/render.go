package portfolio

import (
	"bytes"
	"fmt"
	"html/template"
	"time"

	"dreamGarden/internal/catalog"
	"dreamGarden/internal/database"
)

// portfolioTemplate 是导出 PDF 用的 A4 页面。
const portfolioTemplate = `<!DOCTYPE html>
<html lang="ko">
<head>
    <meta charset="UTF-8">
    <style>
        @page { size: A4; margin: 18mm; }
        body { font-family: 'Noto Sans KR', sans-serif; font-size: 11pt; color: #2d3436; }
        h1 { font-size: 20pt; margin: 0 0 4px; color: #2e7d32; }
        h2 { font-size: 13pt; margin: 18px 0 6px; border-bottom: 1px solid #c8e6c9; padding-bottom: 4px; }
        .meta { color: #636e72; font-size: 9pt; }
        .progress { height: 10px; background: #eee; border-radius: 5px; overflow: hidden; }
        .progress > div { height: 100%; background: #66bb6a; }
        table { width: 100%; border-collapse: collapse; }
        td, th { padding: 4px 6px; border-bottom: 1px solid #eee; text-align: left; }
        .chip { display: inline-block; padding: 2px 8px; margin: 2px; border-radius: 10px; background: #e8f5e9; }
    </style>
</head>
<body>
    <h1>{{.Student.Name}}의 성장 포트폴리오</h1>
    <div class="meta">{{.Student.Affiliation}} · 생성 {{formatDate .Portfolio.GeneratedAt}}</div>

    <h2>완성도 {{.Portfolio.CompletionPct}}%</h2>
    <div class="progress"><div style="width: {{.Portfolio.CompletionPct}}%"></div></div>

    <h2>요약</h2>
    <p>{{.Portfolio.SummaryText}}</p>

    {{if .Portfolio.KeyCompetencies}}
    <h2>핵심 역량</h2>
    <table>
        <tr><th>역량</th><th>기록 인용 수</th></tr>
        {{range .Portfolio.KeyCompetencies}}
        <tr><td>{{.Name}}</td><td>{{.RecordCitationCount}}</td></tr>
        {{end}}
    </table>
    {{end}}

    {{if .Portfolio.RecommendedJobs}}
    <h2>추천 직무</h2>
    <div>{{range .Portfolio.RecommendedJobs}}<span class="chip">{{.}}</span>{{end}}</div>
    {{end}}

    {{if .Portfolio.EmotionTimeline}}
    <h2>감정 타임라인</h2>
    <table>
        {{range .Portfolio.EmotionTimeline}}
        <tr><td>{{formatDate .Date}}</td><td>{{emotionIcon .EmotionCardID}} {{.EmotionLabel}}</td></tr>
        {{end}}
    </table>
    {{end}}
</body>
</html>
`

var pageTemplate = template.Must(template.New("portfolio").Funcs(template.FuncMap{
	"formatDate": func(t time.Time) string { return t.UTC().Format("2006-01-02") },
	"emotionIcon": func(id int) string {
		card, _ := catalog.LookupEmotion(id)
		return card.Icon
	},
}).Parse(portfolioTemplate))

// RenderHTML 把作品集渲染为可打印的 HTML。
func RenderHTML(p *database.Portfolio, s *database.Student) (string, error) {
	var buf bytes.Buffer
	err := pageTemplate.Execute(&buf, struct {
		Portfolio *database.Portfolio
		Student   *database.Student
	}{Portfolio: p, Student: s})
	if err != nil {
		return "", fmt.Errorf("render portfolio html: %w", err)
	}
	return buf.String(), nil
}
