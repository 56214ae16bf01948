package service

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"toad-architect-go/internal/model"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// ExportFormat 表示导出文档的格式。
type ExportFormat string

const (
	ExportMarkdown ExportFormat = "markdown"
	ExportHTML     ExportFormat = "html"
)

// ParseExportFormat 解析查询参数中的格式，空值视为 markdown。
func ParseExportFormat(s string) (ExportFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "md", "markdown":
		return ExportMarkdown, nil
	case "html":
		return ExportHTML, nil
	default:
		return "", fmt.Errorf("unsupported export format %q", s)
	}
}

// ExportDocument 是导出结果。
type ExportDocument struct {
	Filename    string
	ContentType string
	Body        []byte
}

// isoMillis 与 JavaScript 的 toISOString 输出一致。
const isoMillis = "2006-01-02T15:04:05.000Z"

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(isoMillis)
}

// RenderMarkdown 将会话渲染为 markdown 文档。
func RenderMarkdown(session *model.Session) string {
	var b strings.Builder
	b.WriteString("# Software Architecture Session\n\n")
	fmt.Fprintf(&b, "**Session ID:** %s\n", session.SessionID)
	fmt.Fprintf(&b, "**Created:** %s\n", formatTimestamp(session.CreatedAt))
	fmt.Fprintf(&b, "**Last Accessed:** %s\n", formatTimestamp(session.LastAccessed))
	fmt.Fprintf(&b, "**Current Phase:** %d\n\n", session.CurrentPhase)

	if ci := session.Instructions(); ci != "" {
		fmt.Fprintf(&b, "## Custom Instructions\n\n%s\n\n", ci)
	}

	if summary := session.Summary; summary != nil {
		b.WriteString("## Conversation Summary\n\n")
		b.WriteString("**Key Points:**\n")
		for _, point := range summary.KeyPoints {
			fmt.Fprintf(&b, "- %s\n", point)
		}
		phase := summary.CurrentPhase
		if phase == 0 {
			phase = model.MinPhase
		}
		fmt.Fprintf(&b, "\n**Current Phase:** %d\n", phase)
		b.WriteString("**Next Steps:**\n")
		for _, step := range summary.NextSteps {
			fmt.Fprintf(&b, "- %s\n", step)
		}
		b.WriteString("\n")
	}

	b.WriteString("## Conversation History\n\n")
	last := len(session.ConversationHistory) - 1
	for i, msg := range session.ConversationHistory {
		role := "🤖 AI Assistant"
		if msg.Role == model.RoleUser {
			role = "👤 User"
		}
		fmt.Fprintf(&b, "### %s (%s)\n\n", role, formatTimestamp(msg.Timestamp))
		fmt.Fprintf(&b, "%s\n\n", msg.Content)
		if i < last {
			b.WriteString("---\n\n")
		}
	}
	return b.String()
}

var htmlRenderer = goldmark.New(goldmark.WithExtensions(extension.GFM))

// RenderHTML 将 markdown 导出转换为一个完整的 HTML 页面。
func RenderHTML(session *model.Session) ([]byte, error) {
	var body bytes.Buffer
	if err := htmlRenderer.Convert([]byte(RenderMarkdown(session)), &body); err != nil {
		return nil, fmt.Errorf("failed to render html export: %w", err)
	}

	var page bytes.Buffer
	page.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n")
	fmt.Fprintf(&page, "<title>Session %s</title>\n", session.SessionID)
	page.WriteString("</head>\n<body>\n")
	page.Write(body.Bytes())
	page.WriteString("</body>\n</html>\n")
	return page.Bytes(), nil
}

// buildExport 按格式生成导出文档。
func buildExport(session *model.Session, format ExportFormat) (*ExportDocument, error) {
	switch format {
	case ExportHTML:
		body, err := RenderHTML(session)
		if err != nil {
			return nil, err
		}
		return &ExportDocument{
			Filename:    fmt.Sprintf("session-%s.html", session.SessionID),
			ContentType: "text/html; charset=utf-8",
			Body:        body,
		}, nil
	default:
		return &ExportDocument{
			Filename:    fmt.Sprintf("session-%s.md", session.SessionID),
			ContentType: "text/markdown",
			Body:        []byte(RenderMarkdown(session)),
		}, nil
	}
}
