package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/clientportal/internal/logger"
	"github.com/clientportal/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type AttachmentRepository struct {
	pool *pgxpool.Pool
}

func NewAttachmentRepository(pool *pgxpool.Pool) *AttachmentRepository {
	return &AttachmentRepository{pool: pool}
}

func (r *AttachmentRepository) Create(ctx context.Context, a *model.MessageAttachment) error {
	defer logger.DeferLogDuration("att.Create", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO message_attachments (id, message_id, file_path, file_name, file_size, mime_type, uploaded_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID, a.MessageID, a.FilePath, a.FileName, a.FileSize, a.MimeType, a.UploadedAt,
	)
	if err != nil {
		return fmt.Errorf("attRepo.Create: %w", err)
	}
	return nil
}

func (r *AttachmentRepository) GetByID(ctx context.Context, id string) (*model.MessageAttachment, error) {
	defer logger.DeferLogDuration("att.GetByID", time.Now())()
	a := &model.MessageAttachment{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, message_id, file_path, file_name, file_size, mime_type, uploaded_at
		 FROM message_attachments WHERE id = $1`, id,
	).Scan(&a.ID, &a.MessageID, &a.FilePath, &a.FileName, &a.FileSize, &a.MimeType, &a.UploadedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("attRepo.GetByID: %w", err)
	}
	return a, nil
}

func (r *AttachmentRepository) GetByMessage(ctx context.Context, messageID string) ([]model.MessageAttachment, error) {
	defer logger.DeferLogDuration("att.GetByMessage", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT id, message_id, file_path, file_name, file_size, mime_type, uploaded_at
		 FROM message_attachments WHERE message_id = $1 ORDER BY uploaded_at ASC`, messageID,
	)
	if err != nil {
		return nil, fmt.Errorf("attRepo.GetByMessage query: %w", err)
	}
	defer rows.Close()

	atts := make([]model.MessageAttachment, 0, 4)
	for rows.Next() {
		var a model.MessageAttachment
		if err := rows.Scan(&a.ID, &a.MessageID, &a.FilePath, &a.FileName, &a.FileSize, &a.MimeType, &a.UploadedAt); err != nil {
			return nil, fmt.Errorf("attRepo.GetByMessage scan: %w", err)
		}
		atts = append(atts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("attRepo.GetByMessage rows: %w", err)
	}
	return atts, nil
}

// DeleteByMessage удаляет все вложения сообщения. Вызывается до удаления самого
// сообщения — вложения принадлежат ему исключительно.
func (r *AttachmentRepository) DeleteByMessage(ctx context.Context, messageID string) error {
	defer logger.DeferLogDuration("att.DeleteByMessage", time.Now())()
	_, err := r.pool.Exec(ctx, `DELETE FROM message_attachments WHERE message_id = $1`, messageID)
	if err != nil {
		return fmt.Errorf("attRepo.DeleteByMessage: %w", err)
	}
	return nil
}
