package mailer

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"
	"time"

	"github.com/k3a/html2text"

	"lifedash/internal/model"
)

// Message 一封待发送的邮件
type Message struct {
	From    string
	To      string
	Subject string
	HTML    string
	Text    string
}

// LeadTimePhrase 返回提前量分桶对应的提示语，未知分桶返回通用提示
func LeadTimePhrase(t model.NotificationType) string {
	switch t {
	case model.NotificationToday:
		return "today"
	case model.NotificationOneDayBefore:
		return "tomorrow"
	case model.NotificationThreeDays:
		return "in 3 days"
	case model.NotificationSevenDays:
		return "in 7 days"
	default:
		return "reminder"
	}
}

const dateLayout = "Monday, January 2, 2006"

var eventDateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999-07",
	"2006-01-02 15:04:05.999999999",
	time.DateOnly,
}

var htmlBody = htmltemplate.Must(htmltemplate.New("html").Parse(`<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; }
    .container { max-width: 600px; margin: 0 auto; padding: 20px; }
    .header { background: linear-gradient(135deg, #667eea 0%, #764ba2 100%); color: white; padding: 30px; text-align: center; border-radius: 10px 10px 0 0; }
    .content { background: #f9f9f9; padding: 30px; border-radius: 0 0 10px 10px; }
    .event-box { background: white; padding: 20px; border-radius: 8px; margin: 20px 0; border-left: 4px solid #667eea; }
    .event-title { font-size: 24px; font-weight: bold; color: #667eea; margin-bottom: 10px; }
    .event-date { font-size: 18px; color: #666; margin-bottom: 10px; }
    .badge { display: inline-block; background: #667eea; color: white; padding: 5px 15px; border-radius: 20px; font-size: 14px; margin-top: 10px; }
    .footer { text-align: center; margin-top: 30px; color: #999; font-size: 12px; }
  </style>
</head>
<body>
  <div class="container">
    <div class="header"><h1>Calendar reminder</h1></div>
    <div class="content">
      <div class="event-box">
        <div class="event-title">{{.Title}}</div>
        <div class="event-date">{{.Date}}</div>
        <span class="badge">{{.Phrase}}</span>
      </div>
      <p>An event on your calendar is coming up.</p>
      <div class="footer"><p>This email was sent automatically by your calendar reminders.</p></div>
    </div>
  </div>
</body>
</html>
`))

var textBody = texttemplate.Must(texttemplate.New("text").Parse(`Calendar reminder

Event: {{.Title}}
Date: {{.Date}}
{{.Phrase}}

An event on your calendar is coming up.
`))

type emailData struct {
	Title  string
	Date   string
	Phrase string
}

// Renderer 渲染提醒邮件
type Renderer struct {
	loc *time.Location
}

// NewRenderer 创建 Renderer，日期按 loc 显示（nil 时为 UTC）
func NewRenderer(loc *time.Location) *Renderer {
	if loc == nil {
		loc = time.UTC
	}
	return &Renderer{loc: loc}
}

// Render 生成主题、HTML 和纯文本正文
func (r *Renderer) Render(n model.PendingNotification) (Message, error) {
	data := emailData{
		Title:  PlainTitle(n.Title),
		Date:   r.FormatEventDate(n.EventDate),
		Phrase: LeadTimePhrase(n.NotificationType),
	}

	var html, text bytes.Buffer
	if err := htmlBody.Execute(&html, data); err != nil {
		return Message{}, fmt.Errorf("render html body: %w", err)
	}
	if err := textBody.Execute(&text, data); err != nil {
		return Message{}, fmt.Errorf("render text body: %w", err)
	}

	return Message{
		To:      n.Email,
		Subject: "Calendar reminder: " + data.Title,
		HTML:    html.String(),
		Text:    text.String(),
	}, nil
}

// FormatEventDate 把 ISO 8601 时间格式化为带星期的长日期，无法解析时原样返回
func (r *Renderer) FormatEventDate(raw string) string {
	raw = strings.TrimSpace(raw)
	for _, layout := range eventDateLayouts {
		t, err := time.Parse(layout, raw)
		if err != nil {
			continue
		}
		// 纯日期没有时刻，不做时区换算
		if layout == time.DateOnly {
			return t.Format(dateLayout)
		}
		return t.In(r.loc).Format(dateLayout)
	}
	return raw
}

// PlainTitle 去掉标题中的 HTML 标记
func PlainTitle(title string) string {
	if !strings.Contains(title, "<") {
		return strings.TrimSpace(title)
	}
	return strings.TrimSpace(html2text.HTML2Text(title))
}
