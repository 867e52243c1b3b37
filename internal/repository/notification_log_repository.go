package repository

import (
	"context"

	"github.com/spec-kit/maintenance-service/internal/domain"
)

// NotificationLogRepository records push delivery attempts.
type NotificationLogRepository interface {
	Create(ctx context.Context, entry *domain.NotificationLog) error
}

type notificationLogRepository struct {
	db DBTX
}

// NewNotificationLogRepository constructs repository.
func NewNotificationLogRepository(db DBTX) NotificationLogRepository {
	return &notificationLogRepository{db: db}
}

func (r *notificationLogRepository) Create(ctx context.Context, entry *domain.NotificationLog) error {
	const query = `
        INSERT INTO notification_log (user_id, title, body, target_devices, delivered, failed)
        VALUES ($1,$2,$3,$4,$5,$6)
        RETURNING id, created_at`
	return r.db.QueryRow(ctx, query,
		entry.UserID,
		entry.Title,
		entry.Body,
		entry.TargetDevices,
		entry.Delivered,
		entry.Failed,
	).Scan(&entry.ID, &entry.CreatedAt)
}
