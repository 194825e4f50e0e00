package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/clientportal/internal/logger"
	"github.com/clientportal/internal/middleware"
	"github.com/clientportal/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ProjectRepository struct {
	pool *pgxpool.Pool
}

func NewProjectRepository(pool *pgxpool.Pool) *ProjectRepository {
	return &ProjectRepository{pool: pool}
}

func (r *ProjectRepository) GetByID(ctx context.Context, id string) (*model.Project, error) {
	defer logger.DeferLogDuration("project.GetByID", time.Now())()
	p := &model.Project{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, freelancer_id, share_token, created_at FROM projects WHERE id = $1`, id,
	).Scan(&p.ID, &p.Name, &p.FreelancerID, &p.ShareToken, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("projectRepo.GetByID: %w", err)
	}
	return p, nil
}

func (r *ProjectRepository) GetByShareToken(ctx context.Context, token string) (*model.Project, error) {
	defer logger.DeferLogDuration("project.GetByShareToken", time.Now())()
	p := &model.Project{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, freelancer_id, share_token, created_at FROM projects WHERE share_token = $1`, token,
	).Scan(&p.ID, &p.Name, &p.FreelancerID, &p.ShareToken, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("projectRepo.GetByShareToken: %w", err)
	}
	return p, nil
}

// HasAccess проверяет доступ к проекту: фрилансер — владелец, клиент — по share-токену.
func (r *ProjectRepository) HasAccess(ctx context.Context, projectID string, id middleware.Identity) (bool, error) {
	defer logger.DeferLogDuration("project.HasAccess", time.Now())()
	p, err := r.GetByID(ctx, projectID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if id.UserID != "" && p.FreelancerID == id.UserID {
		return true, nil
	}
	if id.ShareToken != "" && p.ShareToken == id.ShareToken {
		return true, nil
	}
	return false, nil
}

// FreelancerID возвращает владельца проекта (для пушей и инвалидации кеша дашборда).
func (r *ProjectRepository) FreelancerID(ctx context.Context, projectID string) (string, error) {
	defer logger.DeferLogDuration("project.FreelancerID", time.Now())()
	var owner string
	err := r.pool.QueryRow(ctx, `SELECT freelancer_id FROM projects WHERE id = $1`, projectID).Scan(&owner)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("projectRepo.FreelancerID: %w", err)
	}
	return owner, nil
}

func (r *ProjectRepository) ListByFreelancer(ctx context.Context, freelancerID string) ([]model.Project, error) {
	defer logger.DeferLogDuration("project.ListByFreelancer", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, freelancer_id, share_token, created_at
		 FROM projects WHERE freelancer_id = $1 ORDER BY created_at DESC`, freelancerID,
	)
	if err != nil {
		return nil, fmt.Errorf("projectRepo.ListByFreelancer query: %w", err)
	}
	defer rows.Close()

	projects := make([]model.Project, 0, 8)
	for rows.Next() {
		var p model.Project
		if err := rows.Scan(&p.ID, &p.Name, &p.FreelancerID, &p.ShareToken, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("projectRepo.ListByFreelancer scan: %w", err)
		}
		projects = append(projects, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("projectRepo.ListByFreelancer rows: %w", err)
	}
	return projects, nil
}
