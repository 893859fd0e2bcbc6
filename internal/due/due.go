// Package due computes which calendar reminders should go out today.
package due

import (
	"time"

	"lifedash/internal/model"
)

// bucketByDays 距离事件的自然日天数 -> 分桶
var bucketByDays = map[int]model.NotificationType{
	0: model.NotificationToday,
	1: model.NotificationOneDayBefore,
	3: model.NotificationThreeDays,
	7: model.NotificationSevenDays,
}

// MaxLeadDays 最远的提前量，用于限定查询窗口
const MaxLeadDays = 7

type logKey struct {
	eventID string
	typ     model.NotificationType
}

// Bucket 返回 now 与 eventDate 在 loc 下相差的自然日所对应的分桶
func Bucket(eventDate, now time.Time, loc *time.Location) (model.NotificationType, bool) {
	if loc == nil {
		loc = time.UTC
	}
	days := daysBetween(now.In(loc), eventDate.In(loc))
	t, ok := bucketByDays[days]
	return t, ok
}

// Compute 由事件和已发送日志计算待发送提醒，输出顺序与输入一致
func Compute(events []model.CalendarEvent, logs []model.NotificationLogEntry, now time.Time, loc *time.Location) []model.PendingNotification {
	sent := make(map[logKey]struct{}, len(logs))
	for _, l := range logs {
		sent[logKey{l.EventID, l.NotificationType}] = struct{}{}
	}

	var out []model.PendingNotification
	for _, e := range events {
		typ, ok := Bucket(e.EventDate, now, loc)
		if !ok {
			continue
		}
		if _, done := sent[logKey{e.ID, typ}]; done {
			continue
		}
		out = append(out, model.PendingNotification{
			EventID:          e.ID,
			UserID:           e.UserID,
			Email:            e.Email,
			Title:            e.Title,
			EventDate:        e.EventDate.UTC().Format(time.RFC3339),
			NotificationType: typ,
		})
	}
	return out
}

// daysBetween 两个时刻所在自然日之间的天数（to - from）
func daysBetween(from, to time.Time) int {
	fy, fm, fd := from.Date()
	ty, tm, td := to.Date()
	start := time.Date(fy, fm, fd, 0, 0, 0, 0, time.UTC)
	end := time.Date(ty, tm, td, 0, 0, 0, 0, time.UTC)
	return int(end.Sub(start).Hours() / 24)
}
