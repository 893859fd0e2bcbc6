package model

import "time"

// NotificationType 提前量分桶
type NotificationType string

const (
	NotificationToday        NotificationType = "today"
	NotificationOneDayBefore NotificationType = "1_day_before"
	NotificationThreeDays    NotificationType = "3_days_before"
	NotificationSevenDays    NotificationType = "7_days_before"
)

// NotificationTypes 所有已知分桶
var NotificationTypes = []NotificationType{
	NotificationToday,
	NotificationOneDayBefore,
	NotificationThreeDays,
	NotificationSevenDays,
}

// Known 是否为已知分桶
func (t NotificationType) Known() bool {
	for _, k := range NotificationTypes {
		if t == k {
			return true
		}
	}
	return false
}

// PendingNotification 待发送的提醒（由 pending_notifications 视图计算得出）
type PendingNotification struct {
	EventID          string           `json:"event_id"`
	UserID           string           `json:"user_id"`
	Email            string           `json:"email"`
	Title            string           `json:"title"`
	EventDate        string           `json:"event_date"`
	NotificationType NotificationType `json:"notification_type"`
}

// NotificationLogEntry 发送成功后写入 notification_logs 的记录
type NotificationLogEntry struct {
	EventID          string           `json:"event_id"`
	UserID           string           `json:"user_id"`
	NotificationType NotificationType `json:"notification_type"`
}

// LogEntryFor 由待发送提醒生成日志记录
func LogEntryFor(n PendingNotification) NotificationLogEntry {
	return NotificationLogEntry{
		EventID:          n.EventID,
		UserID:           n.UserID,
		NotificationType: n.NotificationType,
	}
}

// CalendarEvent 日历事件及其所有者邮箱（直接连库计算到期提醒时使用）
type CalendarEvent struct {
	ID        string
	UserID    string
	Email     string
	Title     string
	EventDate time.Time
}
