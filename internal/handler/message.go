package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	"github.com/clientportal/internal/fileserver"
	"github.com/clientportal/internal/middleware"
	"github.com/clientportal/internal/model"
	"github.com/clientportal/internal/repository"
	"github.com/clientportal/internal/service"
	"github.com/clientportal/internal/ws"
	"github.com/go-chi/chi/v5"
)

// MessageHandler — HTTP-срез поверх движка сообщений. Дублирует WebSocket-путь
// для клиентов без живого соединения; delivered_at здесь не выставляется.
type MessageHandler struct {
	svc           *service.MessageService
	projectRepo   *repository.ProjectRepository
	attRepo       *repository.AttachmentRepository
	msgRepo       *repository.MessageRepository
	blobs         *fileserver.Service
	hub           *ws.Hub
	maxUploadSize int64
}

func NewMessageHandler(
	svc *service.MessageService,
	projectRepo *repository.ProjectRepository,
	attRepo *repository.AttachmentRepository,
	msgRepo *repository.MessageRepository,
	blobs *fileserver.Service,
	hub *ws.Hub,
	maxUploadSize int64,
) *MessageHandler {
	return &MessageHandler{
		svc:           svc,
		projectRepo:   projectRepo,
		attRepo:       attRepo,
		msgRepo:       msgRepo,
		blobs:         blobs,
		hub:           hub,
		maxUploadSize: maxUploadSize,
	}
}

func (h *MessageHandler) checkAccess(w http.ResponseWriter, r *http.Request, projectID string) bool {
	id := middleware.GetIdentity(r.Context())
	ok, err := h.projectRepo.HasAccess(r.Context(), projectID, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to check access")
		return false
	}
	if !ok {
		writeError(w, http.StatusForbidden, "no access to project")
		return false
	}
	return true
}

type createMessageRequest struct {
	Content         string            `json:"content"`
	SenderName      string            `json:"sender_name"`
	SenderType      model.SenderType  `json:"sender_type"`
	ParentMessageID string            `json:"parent_message_id"`
	ThreadID        string            `json:"thread_id"`
	Priority        model.Priority    `json:"priority"`
	MessageType     model.MessageType `json:"message_type"`
}

// CreateMessage принимает JSON либо multipart (поле message + файлы в files).
// Сохранённое сообщение рассылается в комнату проекта через хаб.
func (h *MessageHandler) CreateMessage(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectId")
	if !h.checkAccess(w, r, projectID) {
		return
	}

	var req createMessageRequest
	var mr *multipart.Reader

	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "multipart/form-data" {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)
		var err error
		mr, err = r.MultipartReader()
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid multipart body")
			return
		}
		// Поле message должно идти до файловых частей: файлы читаются потоково,
		// без буферизации всего запроса в память.
		part, err := mr.NextPart()
		if err != nil || part.FormName() != "message" {
			writeError(w, http.StatusBadRequest, "multipart must start with message field")
			return
		}
		if err := json.NewDecoder(part).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid message json")
			return
		}
	} else {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid body")
			return
		}
	}

	id := middleware.GetIdentity(r.Context())
	in := service.CreateMessageInput{
		ProjectID:       projectID,
		Content:         req.Content,
		SenderName:      req.SenderName,
		SenderType:      req.SenderType,
		ParentMessageID: req.ParentMessageID,
		ThreadID:        req.ThreadID,
		Priority:        req.Priority,
		MessageType:     req.MessageType,
	}
	if in.SenderName == "" {
		in.SenderName = id.UserName
	}
	if in.SenderType == "" {
		in.SenderType = model.SenderType(id.UserType)
	}

	var m *model.Message
	var err error
	if mr != nil {
		m, err = h.svc.CreateMessageWithAttachments(r.Context(), in, multipartFiles(mr))
	} else {
		m, err = h.svc.CreateMessage(r.Context(), in)
	}
	if err != nil {
		var verr *service.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusBadRequest, verr.Reason)
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to create message")
		return
	}

	if h.hub != nil {
		h.hub.SendToRoom(projectID, ws.OutgoingEvent{Type: ws.EventNewMessage, Payload: m})
	}
	writeJSON(w, http.StatusCreated, m)
}

// multipartFiles вычитывает файловые части в память: NextPart инвалидирует
// reader предыдущей части, а сервис читает файлы уже после разбора формы.
// Размер ограничен MaxBytesReader на всём теле запроса.
func multipartFiles(mr *multipart.Reader) []service.UploadFile {
	var files []service.UploadFile
	for {
		part, err := mr.NextPart()
		if err != nil {
			return files
		}
		if part.FormName() != "files" || part.FileName() == "" {
			io.Copy(io.Discard, part)
			continue
		}
		data, err := io.ReadAll(part)
		if err != nil {
			continue
		}
		files = append(files, service.UploadFile{
			FileName: part.FileName(),
			MimeType: part.Header.Get("Content-Type"),
			Reader:   bytes.NewReader(data),
		})
	}
}

// GetMessages возвращает сообщения проекта, свежие первыми.
func (h *MessageHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectId")
	if !h.checkAccess(w, r, projectID) {
		return
	}

	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)
	if limit > 100 {
		limit = 100
	}

	messages, err := h.svc.ListProjectMessages(r.Context(), projectID, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get messages")
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

// GetThread возвращает тред в хронологическом порядке.
func (h *MessageHandler) GetThread(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectId")
	threadID := chi.URLParam(r, "threadId")
	if !h.checkAccess(w, r, projectID) {
		return
	}

	messages, err := h.svc.GetThread(r.Context(), threadID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get thread")
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

type markReadRequest struct {
	SenderType model.SenderType `json:"sender_type"`
}

// MarkProjectRead помечает прочитанными все сообщения проекта от заданной роли
// и рассылает bulk_messages_read в комнату.
func (h *MessageHandler) MarkProjectRead(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectId")
	if !h.checkAccess(w, r, projectID) {
		return
	}

	var req markReadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	if err := h.svc.MarkProjectRead(r.Context(), projectID, req.SenderType); err != nil {
		var verr *service.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusBadRequest, verr.Reason)
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to mark messages as read")
		return
	}

	if h.hub != nil {
		id := middleware.GetIdentity(r.Context())
		h.hub.SendToRoom(projectID, ws.OutgoingEvent{Type: ws.EventBulkMessagesRead, Payload: ws.BulkReadPayload{
			ProjectID:  projectID,
			SenderType: req.SenderType,
			UserID:     id.UserID,
			UserType:   id.UserType,
		}})
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// RecentMessages — дашборд фрилансера: последние сообщения клиентов по всем его
// проектам. Только для владельца (по user_id из идентичности).
func (h *MessageHandler) RecentMessages(w http.ResponseWriter, r *http.Request) {
	id := middleware.GetIdentity(r.Context())
	if id.UserID == "" || id.UserType != string(model.SenderFreelancer) {
		writeError(w, http.StatusForbidden, "freelancer session required")
		return
	}

	messages, err := h.svc.RecentClientMessages(r.Context(), id.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get recent messages")
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

// DownloadAttachment отдаёт содержимое вложения с исходным именем файла.
func (h *MessageHandler) DownloadAttachment(w http.ResponseWriter, r *http.Request) {
	attachmentID := chi.URLParam(r, "attachmentId")

	att, err := h.attRepo.GetByID(r.Context(), attachmentID)
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "attachment not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get attachment")
		return
	}

	msg, err := h.msgRepo.GetByID(r.Context(), att.MessageID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get message")
		return
	}
	if !h.checkAccess(w, r, msg.ProjectID) {
		return
	}

	f, err := h.blobs.Open(att.FilePath)
	if err != nil {
		writeError(w, http.StatusNotFound, "file not found")
		return
	}
	defer f.Close()

	contentType := att.MimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	name := fileserver.SafeFilename(att.FileName)
	ascii := fileserver.ASCIIFallbackFilename(name)
	disposition := "inline"
	if !strings.HasPrefix(contentType, "image/") && contentType != "application/pdf" {
		disposition = "attachment"
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("%s; filename=\"%s\"; filename*=UTF-8''%s",
		disposition, ascii, url.PathEscape(name)))
	io.Copy(w, f)
}
