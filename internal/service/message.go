// Package service содержит движок тредов и статусов прочтения: правила ветвления,
// валидацию и best-effort загрузку вложений, независимо от транспорта.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/clientportal/internal/fileserver"
	"github.com/clientportal/internal/logger"
	"github.com/clientportal/internal/model"
	"github.com/clientportal/internal/repository"
	"github.com/clientportal/internal/storage"
	"github.com/google/uuid"
)

// ValidationError — отказ до любой записи или рассылки; возвращается только отправителю.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "validation: " + e.Reason }

// MessageStore — подмножество MessageRepository, нужное движку.
type MessageStore interface {
	Create(ctx context.Context, m *model.Message) error
	GetByID(ctx context.Context, id string) (*model.Message, error)
	GetProjectMessages(ctx context.Context, projectID string, limit, offset int) ([]model.Message, error)
	GetThread(ctx context.Context, threadID string) ([]model.Message, error)
	MarkAsRead(ctx context.Context, id string, readAt time.Time) error
	MarkProjectMessagesRead(ctx context.Context, projectID string, senderType model.SenderType, readAt time.Time) error
	GetRecentClientMessages(ctx context.Context, freelancerID string, limit int) ([]model.Message, error)
}

// AttachmentStore — хранилище строк вложений.
type AttachmentStore interface {
	Create(ctx context.Context, a *model.MessageAttachment) error
	GetByMessage(ctx context.Context, messageID string) ([]model.MessageAttachment, error)
}

// BlobStore — внешнее блоб-хранилище содержимого файлов.
type BlobStore interface {
	Save(ctx context.Context, r io.Reader, origName string) (path string, size int64, err error)
}

// ProjectStore отдаёт владельца проекта (пуши, инвалидация кеша дашборда).
type ProjectStore interface {
	FreelancerID(ctx context.Context, projectID string) (string, error)
}

type MessageService struct {
	messages    MessageStore
	attachments AttachmentStore
	blobs       BlobStore
	projects    ProjectStore
	cache       storage.PortalCache
	recentLimit int
}

func NewMessageService(
	messages MessageStore,
	attachments AttachmentStore,
	blobs BlobStore,
	projects ProjectStore,
	cache storage.PortalCache,
	recentLimit int,
) *MessageService {
	if recentLimit <= 0 {
		recentLimit = 5
	}
	return &MessageService{
		messages:    messages,
		attachments: attachments,
		blobs:       blobs,
		projects:    projects,
		cache:       cache,
		recentLimit: recentLimit,
	}
}

// CreateMessageInput — входные данные отправки.
type CreateMessageInput struct {
	ProjectID       string
	Content         string
	SenderName      string
	SenderType      model.SenderType
	ParentMessageID string
	ThreadID        string
	Priority        model.Priority
	MessageType     model.MessageType
	// RealTime — отправка через живое соединение: delivered_at ставится сразу
	// (сервер подтвердил доставку). HTTP-путь оставляет delivered_at пустым.
	RealTime bool
}

// UploadFile — один файл из multipart-запроса.
type UploadFile struct {
	FileName string
	MimeType string
	Reader   io.Reader
}

// CreateMessage валидирует, разрешает thread_id и сохраняет сообщение.
// Корневое сообщение без thread_id получает сгенерированный (project + время создания);
// ответ без thread_id наследует тред родителя.
func (s *MessageService) CreateMessage(ctx context.Context, in CreateMessageInput) (*model.Message, error) {
	defer logger.DeferLogDuration("svc.CreateMessage", time.Now())()
	if in.ProjectID == "" {
		return nil, &ValidationError{Reason: "project_id is required"}
	}
	if in.Content == "" {
		return nil, &ValidationError{Reason: "content is required"}
	}
	if in.SenderType != model.SenderFreelancer && in.SenderType != model.SenderClient {
		return nil, &ValidationError{Reason: "sender_type must be freelancer or client"}
	}

	now := time.Now().UTC()
	threadID := in.ThreadID
	var parentID *string
	if in.ParentMessageID != "" {
		parent, err := s.messages.GetByID(ctx, in.ParentMessageID)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, &ValidationError{Reason: "parent message not found"}
		}
		if err != nil {
			return nil, fmt.Errorf("svc.CreateMessage parent: %w", err)
		}
		if parent.ProjectID != in.ProjectID {
			return nil, &ValidationError{Reason: "parent message belongs to another project"}
		}
		if threadID == "" {
			threadID = parent.ThreadID
		}
		parentID = &in.ParentMessageID
	}
	if threadID == "" {
		threadID = newThreadID(in.ProjectID, now)
	}

	msgType := in.MessageType
	if msgType == "" {
		msgType = model.MessageTypeText
	}
	priority := in.Priority
	if priority == "" {
		priority = model.PriorityNormal
	}

	m := &model.Message{
		ID:              uuid.New().String(),
		ProjectID:       in.ProjectID,
		Content:         in.Content,
		SenderName:      in.SenderName,
		SenderType:      in.SenderType,
		ParentMessageID: parentID,
		ThreadID:        threadID,
		MessageType:     msgType,
		Priority:        priority,
		Status:          model.MessageStatusSent,
		CreatedAt:       now,
	}
	if in.RealTime {
		m.DeliveredAt = &now
	}

	if err := s.messages.Create(ctx, m); err != nil {
		return nil, err
	}

	// Новое сообщение клиента делает кеш дашборда владельца устаревшим.
	if in.SenderType == model.SenderClient && s.cache != nil && s.projects != nil {
		if owner, err := s.projects.FreelancerID(ctx, in.ProjectID); err == nil {
			if err := s.cache.InvalidateRecentMessages(ctx, owner); err != nil {
				logger.Errorf("svc: invalidate recent cache freelancer=%s: %v", owner, err)
			}
		}
	}
	return m, nil
}

// CreateMessageWithAttachments сохраняет сообщение, затем загружает файлы по одному.
// Сбой загрузки одного файла логируется и пропускается: сообщение не откатывается,
// остальные файлы загружаются дальше.
func (s *MessageService) CreateMessageWithAttachments(ctx context.Context, in CreateMessageInput, files []UploadFile) (*model.Message, error) {
	defer logger.DeferLogDuration("svc.CreateMessageWithAttachments", time.Now())()
	if len(files) > 0 && in.MessageType == "" {
		in.MessageType = model.MessageTypeFile
	}
	m, err := s.CreateMessage(ctx, in)
	if err != nil {
		return nil, err
	}

	for _, f := range files {
		path, size, err := s.blobs.Save(ctx, f.Reader, f.FileName)
		if err != nil {
			logger.Errorf("svc: attachment upload skipped message=%s file=%s: %v", m.ID, f.FileName, err)
			continue
		}
		mime := f.MimeType
		if mime == "" {
			mime = fileserver.ContentTypeByExt(filepath.Ext(f.FileName))
		}
		att := &model.MessageAttachment{
			ID:         uuid.New().String(),
			MessageID:  m.ID,
			FilePath:   path,
			FileName:   fileserver.SafeFilename(filepath.Base(f.FileName)),
			FileSize:   size,
			MimeType:   mime,
			UploadedAt: time.Now().UTC(),
		}
		if err := s.attachments.Create(ctx, att); err != nil {
			logger.Errorf("svc: attachment row skipped message=%s file=%s: %v", m.ID, f.FileName, err)
			continue
		}
		m.Attachments = append(m.Attachments, *att)
	}
	return m, nil
}

// MarkAsRead помечает одно сообщение прочитанным (идемпотентно).
func (s *MessageService) MarkAsRead(ctx context.Context, messageID string) error {
	if messageID == "" {
		return &ValidationError{Reason: "message_id is required"}
	}
	return s.messages.MarkAsRead(ctx, messageID, time.Now().UTC())
}

// MarkProjectRead помечает прочитанными все сообщения проекта от заданной роли.
// Трекинг прочтения ведётся по ролям, не по отдельным пользователям.
func (s *MessageService) MarkProjectRead(ctx context.Context, projectID string, senderType model.SenderType) error {
	if projectID == "" {
		return &ValidationError{Reason: "project_id is required"}
	}
	if senderType != model.SenderFreelancer && senderType != model.SenderClient {
		return &ValidationError{Reason: "sender_type must be freelancer or client"}
	}
	return s.messages.MarkProjectMessagesRead(ctx, projectID, senderType, time.Now().UTC())
}

// ListProjectMessages возвращает сообщения проекта (свежие первыми) со вложениями.
func (s *MessageService) ListProjectMessages(ctx context.Context, projectID string, limit, offset int) ([]model.Message, error) {
	msgs, err := s.messages.GetProjectMessages(ctx, projectID, limit, offset)
	if err != nil {
		return nil, err
	}
	for i := range msgs {
		if msgs[i].MessageType != model.MessageTypeFile {
			continue
		}
		atts, err := s.attachments.GetByMessage(ctx, msgs[i].ID)
		if err != nil {
			logger.Errorf("svc: load attachments message=%s: %v", msgs[i].ID, err)
			continue
		}
		msgs[i].Attachments = atts
	}
	return msgs, nil
}

// GetThread возвращает тред в хронологическом порядке (порядок чтения беседы).
func (s *MessageService) GetThread(ctx context.Context, threadID string) ([]model.Message, error) {
	return s.messages.GetThread(ctx, threadID)
}

// RecentClientMessages возвращает последние сообщения клиентов по всем проектам
// фрилансера. Сначала кеш, при промахе — БД с записью в кеш.
func (s *MessageService) RecentClientMessages(ctx context.Context, freelancerID string) ([]model.Message, error) {
	defer logger.DeferLogDuration("svc.RecentClientMessages", time.Now())()
	if s.cache != nil {
		cached, err := s.cache.GetRecentMessages(ctx, freelancerID)
		if err != nil {
			logger.Errorf("svc: recent cache get freelancer=%s: %v", freelancerID, err)
		} else if cached != "" {
			var msgs []model.Message
			if err := json.Unmarshal([]byte(cached), &msgs); err == nil {
				return msgs, nil
			}
		}
	}

	msgs, err := s.messages.GetRecentClientMessages(ctx, freelancerID, s.recentLimit)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if payload, err := json.Marshal(msgs); err == nil {
			if err := s.cache.SetRecentMessages(ctx, freelancerID, string(payload)); err != nil {
				logger.Errorf("svc: recent cache set freelancer=%s: %v", freelancerID, err)
			}
		}
	}
	return msgs, nil
}

// newThreadID детерминированно строится из проекта и времени создания.
// Уникальность не криптографическая, но коллизии пренебрежимы.
func newThreadID(projectID string, t time.Time) string {
	return fmt.Sprintf("thread_%s_%d", projectID, t.UnixNano())
}
