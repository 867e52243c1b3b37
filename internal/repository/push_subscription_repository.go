package repository

import (
	"context"
	"time"

	"github.com/spec-kit/maintenance-service/internal/domain"
)

// PushSubscriptionRepository stores browser push endpoints.
type PushSubscriptionRepository interface {
	Upsert(ctx context.Context, sub *domain.PushSubscription) error
	ListByUser(ctx context.Context, userID int64) ([]domain.PushSubscription, error)
	Delete(ctx context.Context, id int64) error
	RecordFailure(ctx context.Context, id int64) error
	RecordSuccess(ctx context.Context, id int64, at time.Time) error
}

type pushSubscriptionRepository struct {
	db DBTX
}

// NewPushSubscriptionRepository builds repository.
func NewPushSubscriptionRepository(db DBTX) PushSubscriptionRepository {
	return &pushSubscriptionRepository{db: db}
}

// Upsert registers an endpoint. Re-subscribing an existing endpoint moves
// it to the new user and clears its failure count.
func (r *pushSubscriptionRepository) Upsert(ctx context.Context, sub *domain.PushSubscription) error {
	const query = `
        INSERT INTO push_subscriptions (user_id, endpoint, p256dh, auth)
        VALUES ($1,$2,$3,$4)
        ON CONFLICT (endpoint) DO UPDATE
            SET user_id=EXCLUDED.user_id, p256dh=EXCLUDED.p256dh, auth=EXCLUDED.auth, failure_count=0
        RETURNING id, failure_count, last_success, created_at`
	return r.db.QueryRow(ctx, query, sub.UserID, sub.Endpoint, sub.P256dh, sub.Auth).
		Scan(&sub.ID, &sub.FailureCount, &sub.LastSuccess, &sub.CreatedAt)
}

func (r *pushSubscriptionRepository) ListByUser(ctx context.Context, userID int64) ([]domain.PushSubscription, error) {
	const query = `
        SELECT id, user_id, endpoint, p256dh, auth, failure_count, last_success, created_at
        FROM push_subscriptions WHERE user_id=$1 ORDER BY id`
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.PushSubscription
	for rows.Next() {
		var sub domain.PushSubscription
		if err := rows.Scan(
			&sub.ID,
			&sub.UserID,
			&sub.Endpoint,
			&sub.P256dh,
			&sub.Auth,
			&sub.FailureCount,
			&sub.LastSuccess,
			&sub.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, sub)
	}
	return result, rows.Err()
}

func (r *pushSubscriptionRepository) Delete(ctx context.Context, id int64) error {
	_, err := r.db.Exec(ctx, `DELETE FROM push_subscriptions WHERE id=$1`, id)
	return err
}

func (r *pushSubscriptionRepository) RecordFailure(ctx context.Context, id int64) error {
	_, err := r.db.Exec(ctx, `UPDATE push_subscriptions SET failure_count = failure_count + 1 WHERE id=$1`, id)
	return err
}

func (r *pushSubscriptionRepository) RecordSuccess(ctx context.Context, id int64, at time.Time) error {
	_, err := r.db.Exec(ctx, `UPDATE push_subscriptions SET failure_count=0, last_success=$2 WHERE id=$1`, id, at)
	return err
}
