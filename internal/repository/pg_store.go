package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"lifedash/internal/due"
	"lifedash/internal/model"
)

// DBTX PgStore 用到的连接池方法，*pgxpool.Pool 满足该接口
type DBTX interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Ping(ctx context.Context) error
}

// PgStore 直连 Postgres，在进程内计算到期提醒
type PgStore struct {
	db     DBTX
	logger *zap.Logger
	loc    *time.Location
	now    func() time.Time
}

func NewPgStore(db DBTX, loc *time.Location, logger *zap.Logger) *PgStore {
	if loc == nil {
		loc = time.UTC
	}
	return &PgStore{
		db:     db,
		logger: logger,
		loc:    loc,
		now:    time.Now,
	}
}

// QueryWindow 返回需要查询的事件时间范围 [今天 0 点, 今天 0 点 + MaxLeadDays+1 天)
func QueryWindow(now time.Time, loc *time.Location) (time.Time, time.Time) {
	local := now.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, due.MaxLeadDays+1)
}

// FetchDue 读取窗口内的事件和已发送日志，计算待发送提醒
func (s *PgStore) FetchDue(ctx context.Context) ([]model.PendingNotification, error) {
	now := s.now()
	from, to := QueryWindow(now, s.loc)

	events, err := s.upcomingEvents(ctx, from, to)
	if err != nil {
		return nil, err
	}
	logs, err := s.sentLogs(ctx, from, to)
	if err != nil {
		return nil, err
	}

	pending := due.Compute(events, logs, now, s.loc)
	s.logger.Debug("Computed pending notifications",
		zap.Int("events", len(events)),
		zap.Int("logged", len(logs)),
		zap.Int("pending", len(pending)),
	)
	return pending, nil
}

func (s *PgStore) upcomingEvents(ctx context.Context, from, to time.Time) ([]model.CalendarEvent, error) {
	query := `
        SELECT e.id::text, e.user_id::text, u.email, e.title, e.event_date
        FROM calendar_events e
        JOIN auth.users u ON u.id = e.user_id
        WHERE e.event_date >= $1 AND e.event_date < $2
          AND u.email IS NOT NULL
        ORDER BY e.event_date, e.id
    `
	rows, err := s.db.Query(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query calendar events: %w", err)
	}
	defer rows.Close()

	var events []model.CalendarEvent
	for rows.Next() {
		var e model.CalendarEvent
		if err := rows.Scan(&e.ID, &e.UserID, &e.Email, &e.Title, &e.EventDate); err != nil {
			return nil, fmt.Errorf("failed to scan calendar event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate calendar events: %w", err)
	}
	return events, nil
}

func (s *PgStore) sentLogs(ctx context.Context, from, to time.Time) ([]model.NotificationLogEntry, error) {
	query := `
        SELECT l.event_id::text, l.user_id::text, l.notification_type
        FROM notification_logs l
        JOIN calendar_events e ON e.id = l.event_id
        WHERE e.event_date >= $1 AND e.event_date < $2
    `
	rows, err := s.db.Query(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query notification logs: %w", err)
	}
	defer rows.Close()

	var logs []model.NotificationLogEntry
	for rows.Next() {
		var l model.NotificationLogEntry
		var typ string
		if err := rows.Scan(&l.EventID, &l.UserID, &typ); err != nil {
			return nil, fmt.Errorf("failed to scan notification log: %w", err)
		}
		l.NotificationType = model.NotificationType(typ)
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate notification logs: %w", err)
	}
	return logs, nil
}

// InsertLog 写入发送日志，重复记录忽略
func (s *PgStore) InsertLog(ctx context.Context, entry model.NotificationLogEntry) error {
	query := `
        INSERT INTO notification_logs (event_id, user_id, notification_type)
        VALUES ($1::uuid, $2::uuid, $3)
        ON CONFLICT DO NOTHING
    `
	tag, err := s.db.Exec(ctx, query, entry.EventID, entry.UserID, string(entry.NotificationType))
	if err != nil {
		return fmt.Errorf("failed to insert notification log: %w", err)
	}
	if tag.RowsAffected() == 0 {
		s.logger.Debug("Notification already logged",
			zap.String("event_id", entry.EventID),
			zap.String("notification_type", string(entry.NotificationType)),
		)
	}
	return nil
}

func (s *PgStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}
