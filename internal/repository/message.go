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

var ErrNotFound = errors.New("not found")

const messageColumns = `id, project_id, content, sender_name, sender_type, parent_message_id, thread_id,
	        message_type, priority, status, is_read, read_at, delivered_at, created_at, edited_at`

type MessageRepository struct {
	pool *pgxpool.Pool
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

func scanMessage(row pgx.Row, m *model.Message) error {
	return row.Scan(&m.ID, &m.ProjectID, &m.Content, &m.SenderName, &m.SenderType, &m.ParentMessageID, &m.ThreadID,
		&m.MessageType, &m.Priority, &m.Status, &m.IsRead, &m.ReadAt, &m.DeliveredAt, &m.CreatedAt, &m.EditedAt)
}

func (r *MessageRepository) Create(ctx context.Context, m *model.Message) error {
	defer logger.DeferLogDuration("msg.Create", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO messages (id, project_id, content, sender_name, sender_type, parent_message_id, thread_id,
		                       message_type, priority, status, is_read, read_at, delivered_at, created_at, edited_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		m.ID, m.ProjectID, m.Content, m.SenderName, m.SenderType, m.ParentMessageID, m.ThreadID,
		m.MessageType, m.Priority, m.Status, m.IsRead, m.ReadAt, m.DeliveredAt, m.CreatedAt, m.EditedAt,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.Create: %w", err)
	}
	return nil
}

func (r *MessageRepository) GetByID(ctx context.Context, id string) (*model.Message, error) {
	defer logger.DeferLogDuration("msg.GetByID", time.Now())()
	m := &model.Message{}
	err := scanMessage(r.pool.QueryRow(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id = $1`, id), m)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("msgRepo.GetByID: %w", err)
	}
	return m, nil
}

// GetProjectMessages возвращает сообщения проекта по убыванию времени (списки показывают свежее сверху).
func (r *MessageRepository) GetProjectMessages(ctx context.Context, projectID string, limit, offset int) ([]model.Message, error) {
	defer logger.DeferLogDuration("msg.GetProjectMessages", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT `+messageColumns+`
		 FROM messages
		 WHERE project_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2 OFFSET $3`, projectID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.GetProjectMessages query: %w", err)
	}
	defer rows.Close()

	messages := make([]model.Message, 0, limit)
	for rows.Next() {
		var m model.Message
		if err := scanMessage(rows, &m); err != nil {
			return nil, fmt.Errorf("msgRepo.GetProjectMessages scan: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo.GetProjectMessages rows: %w", err)
	}
	return messages, nil
}

// GetThread возвращает сообщения треда по возрастанию времени (порядок чтения беседы).
func (r *MessageRepository) GetThread(ctx context.Context, threadID string) ([]model.Message, error) {
	defer logger.DeferLogDuration("msg.GetThread", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT `+messageColumns+`
		 FROM messages
		 WHERE thread_id = $1
		 ORDER BY created_at ASC`, threadID,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.GetThread query: %w", err)
	}
	defer rows.Close()

	messages := make([]model.Message, 0, 16)
	for rows.Next() {
		var m model.Message
		if err := scanMessage(rows, &m); err != nil {
			return nil, fmt.Errorf("msgRepo.GetThread scan: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo.GetThread rows: %w", err)
	}
	return messages, nil
}

// MarkAsRead помечает одно сообщение прочитанным. Идемпотентно: повторный вызов
// лишь обновляет read_at, итоговое состояние то же.
func (r *MessageRepository) MarkAsRead(ctx context.Context, id string, readAt time.Time) error {
	defer logger.DeferLogDuration("msg.MarkAsRead", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE messages SET is_read = true, read_at = $2, status = 'read' WHERE id = $1`,
		id, readAt,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.MarkAsRead: %w", err)
	}
	return nil
}

// MarkProjectMessagesRead помечает прочитанными все сообщения проекта от заданной роли
// (вызывается, когда другая роль открывает переписку).
func (r *MessageRepository) MarkProjectMessagesRead(ctx context.Context, projectID string, senderType model.SenderType, readAt time.Time) error {
	defer logger.DeferLogDuration("msg.MarkProjectMessagesRead", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE messages SET is_read = true, read_at = $3, status = 'read'
		 WHERE project_id = $1 AND sender_type = $2 AND is_read = false`,
		projectID, senderType, readAt,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.MarkProjectMessagesRead: %w", err)
	}
	return nil
}

// GetRecentClientMessages возвращает последние сообщения клиентов по всем проектам
// фрилансера (дашборд), свежие первыми.
func (r *MessageRepository) GetRecentClientMessages(ctx context.Context, freelancerID string, limit int) ([]model.Message, error) {
	defer logger.DeferLogDuration("msg.GetRecentClientMessages", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT m.id, m.project_id, m.content, m.sender_name, m.sender_type, m.parent_message_id, m.thread_id,
		        m.message_type, m.priority, m.status, m.is_read, m.read_at, m.delivered_at, m.created_at, m.edited_at
		 FROM messages m
		 JOIN projects p ON p.id = m.project_id
		 WHERE p.freelancer_id = $1 AND m.sender_type = 'client'
		 ORDER BY m.created_at DESC
		 LIMIT $2`, freelancerID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.GetRecentClientMessages query: %w", err)
	}
	defer rows.Close()

	messages := make([]model.Message, 0, limit)
	for rows.Next() {
		var m model.Message
		if err := scanMessage(rows, &m); err != nil {
			return nil, fmt.Errorf("msgRepo.GetRecentClientMessages scan: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo.GetRecentClientMessages rows: %w", err)
	}
	return messages, nil
}

// SetEditedAt проставляет метку редактирования содержимого.
func (r *MessageRepository) SetEditedAt(ctx context.Context, id, content string, editedAt time.Time) error {
	defer logger.DeferLogDuration("msg.SetEditedAt", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE messages SET content = $1, edited_at = $2 WHERE id = $3`,
		content, editedAt, id,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.SetEditedAt: %w", err)
	}
	return nil
}

// Delete удаляет сообщение. Вложения должны быть удалены раньше (исключительное владение).
func (r *MessageRepository) Delete(ctx context.Context, id string) error {
	defer logger.DeferLogDuration("msg.Delete", time.Now())()
	_, err := r.pool.Exec(ctx, `DELETE FROM messages WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("msgRepo.Delete: %w", err)
	}
	return nil
}
