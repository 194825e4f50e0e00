package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/clientportal/internal/logger"
	"github.com/clientportal/internal/model"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Не больше maxSubsPerUser подписок на пользователя: старые вытесняются.
const maxSubsPerUser = 10

type PushRepository struct {
	pool *pgxpool.Pool
}

func NewPushRepository(pool *pgxpool.Pool) *PushRepository {
	return &PushRepository{pool: pool}
}

func (r *PushRepository) Save(ctx context.Context, s *model.PushSubscription) error {
	defer logger.DeferLogDuration("push.Save", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO push_subscriptions (user_id, endpoint, p256dh, auth, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (endpoint) DO UPDATE SET user_id = $1, p256dh = $3, auth = $4, created_at = $5`,
		s.UserID, s.Endpoint, s.P256dh, s.Auth, s.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("pushRepo.Save: %w", err)
	}
	_, err = r.pool.Exec(ctx,
		`DELETE FROM push_subscriptions
		 WHERE user_id = $1 AND endpoint NOT IN (
		   SELECT endpoint FROM push_subscriptions WHERE user_id = $1
		   ORDER BY created_at DESC LIMIT $2)`,
		s.UserID, maxSubsPerUser,
	)
	if err != nil {
		return fmt.Errorf("pushRepo.Save trim: %w", err)
	}
	return nil
}

func (r *PushRepository) Delete(ctx context.Context, userID, endpoint string) error {
	defer logger.DeferLogDuration("push.Delete", time.Now())()
	_, err := r.pool.Exec(ctx,
		`DELETE FROM push_subscriptions WHERE user_id = $1 AND endpoint = $2`, userID, endpoint,
	)
	if err != nil {
		return fmt.Errorf("pushRepo.Delete: %w", err)
	}
	return nil
}

func (r *PushRepository) GetByUser(ctx context.Context, userID string) ([]model.PushSubscription, error) {
	defer logger.DeferLogDuration("push.GetByUser", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT user_id, endpoint, p256dh, auth, created_at
		 FROM push_subscriptions WHERE user_id = $1 ORDER BY created_at DESC`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("pushRepo.GetByUser query: %w", err)
	}
	defer rows.Close()

	subs := make([]model.PushSubscription, 0, 4)
	for rows.Next() {
		var s model.PushSubscription
		if err := rows.Scan(&s.UserID, &s.Endpoint, &s.P256dh, &s.Auth, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("pushRepo.GetByUser scan: %w", err)
		}
		subs = append(subs, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pushRepo.GetByUser rows: %w", err)
	}
	return subs, nil
}
