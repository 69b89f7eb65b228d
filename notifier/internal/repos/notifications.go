package repos

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"jungleboard/notifier/internal/models"
)

type NotificationsRepo struct {
	pool *pgxpool.Pool
}

func NewNotificationsRepo(pool *pgxpool.Pool) *NotificationsRepo {
	return &NotificationsRepo{pool: pool}
}

// Insert persists one notification per recipient. The unique index on
// (event_id, recipient_user_id) makes redelivered events a no-op, so the
// fan-out stays idempotent under at-least-once consumption.
func (r *NotificationsRepo) Insert(ctx context.Context, n models.Notification) (models.Notification, bool, error) {
	return insertNotification(ctx, r.pool, n)
}

// InsertBatch writes the fan-out of a single event atomically. Returns the
// rows actually created; recipients already notified for this event are
// skipped.
func (r *NotificationsRepo) InsertBatch(ctx context.Context, ns []models.Notification) ([]models.Notification, error) {
	if len(ns) == 0 {
		return nil, nil
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var created []models.Notification
	for _, n := range ns {
		stored, ok, insErr := insertNotification(ctx, tx, n)
		if insErr != nil {
			err = insErr
			return nil, err
		}
		if ok {
			created = append(created, stored)
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return nil, err
	}
	return created, nil
}

func insertNotification(ctx context.Context, db DBTX, n models.Notification) (models.Notification, bool, error) {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	err := db.QueryRow(ctx, `
		INSERT INTO notifications (event_id, recipient_user_id, kind, message, task_id, read, created_at)
		VALUES ($1, $2, $3, $4, $5, false, $6)
		ON CONFLICT (event_id, recipient_user_id) DO NOTHING
		RETURNING notification_id, event_id, recipient_user_id, kind, message, task_id, read, created_at, read_at
	`, n.EventID, n.RecipientUserID, n.Kind, n.Message, n.TaskID, n.CreatedAt).
		Scan(&n.NotificationID, &n.EventID, &n.RecipientUserID, &n.Kind, &n.Message, &n.TaskID, &n.Read, &n.CreatedAt, &n.ReadAt)
	if err == nil {
		return n, true, nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Notification{}, false, nil
	}
	return models.Notification{}, false, err
}

func (r *NotificationsRepo) ListByRecipient(ctx context.Context, userID string, unreadOnly bool, limit int, offset int) ([]models.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT notification_id, event_id, recipient_user_id, kind, message, task_id, read, created_at, read_at
		FROM notifications
		WHERE recipient_user_id = $1
	`
	if unreadOnly {
		query += ` AND read = false`
	}
	query += `
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.pool.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Notification
	for rows.Next() {
		var n models.Notification
		if err := rows.Scan(&n.NotificationID, &n.EventID, &n.RecipientUserID, &n.Kind, &n.Message, &n.TaskID, &n.Read, &n.CreatedAt, &n.ReadAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (r *NotificationsRepo) CountUnread(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM notifications
		WHERE recipient_user_id = $1 AND read = false
	`, userID).Scan(&count)
	return count, err
}

// MarkRead flips one notification for its owner. Returns false when the row
// does not exist, belongs to someone else, or was already read.
func (r *NotificationsRepo) MarkRead(ctx context.Context, userID string, notificationID uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE notifications
		SET read = true, read_at = $3
		WHERE notification_id = $1 AND recipient_user_id = $2 AND read = false
	`, notificationID, userID, time.Now().UTC())
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *NotificationsRepo) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE notifications
		SET read = true, read_at = $2
		WHERE recipient_user_id = $1 AND read = false
	`, userID, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// UnreadCounts returns the per-user unread totals the digest worker pushes
// as badge frames.
func (r *NotificationsRepo) UnreadCounts(ctx context.Context) ([]models.UnreadCount, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT recipient_user_id, COUNT(*)
		FROM notifications
		WHERE read = false
		GROUP BY recipient_user_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.UnreadCount
	for rows.Next() {
		var c models.UnreadCount
		if err := rows.Scan(&c.RecipientUserID, &c.Count); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
