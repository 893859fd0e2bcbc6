package model

// 单条提醒的发送状态
const (
	StatusSent   = "sent"
	StatusFailed = "failed"
)

// 汇总消息
const (
	MessageProcessed   = "Notifications processed"
	MessageNonePending = "No pending notifications"
)

// Outcome 单条提醒的处理结果
type Outcome struct {
	EventID          string           `json:"event_id"`
	Email            string           `json:"email"`
	Status           string           `json:"status"`
	NotificationType NotificationType `json:"notification_type"`
	Error            string           `json:"error,omitempty"`
}

// Summary 一次调度运行的汇总
type Summary struct {
	Message string    `json:"message"`
	Count   int       `json:"count"`
	Results []Outcome `json:"results,omitempty"`
}

// Sent 成功条数
func (s *Summary) Sent() int {
	n := 0
	for _, r := range s.Results {
		if r.Status == StatusSent {
			n++
		}
	}
	return n
}

// Failed 失败条数
func (s *Summary) Failed() int {
	return len(s.Results) - s.Sent()
}
