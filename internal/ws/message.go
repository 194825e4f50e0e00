package ws

import (
	"time"

	"github.com/clientportal/internal/model"
)

type EventType string

// Закрытый набор событий комнаты проекта. Новые типы добавляются сюда и в
// Hub.HandleEvent, а не диспетчеризуются по произвольным строкам.
const (
	// connection → server
	EventJoinProject      EventType = "join_project"
	EventSendMessage      EventType = "send_message"
	EventTypingStart      EventType = "typing_start"
	EventTypingStop       EventType = "typing_stop"
	EventMarkMessageRead  EventType = "mark_message_read"
	EventMarkMessagesRead EventType = "mark_messages_read"

	// server → connections
	EventUserJoined       EventType = "user_joined"
	EventUserLeft         EventType = "user_left"
	EventPresenceUpdate   EventType = "presence_update"
	EventNewMessage       EventType = "new_message"
	EventUserTyping       EventType = "user_typing"
	EventMessageRead      EventType = "message_read"
	EventBulkMessagesRead EventType = "bulk_messages_read"
	EventError            EventType = "error"
)

// IncomingEvent is what the client sends to the server.
type IncomingEvent struct {
	Type      EventType `json:"type"`
	ProjectID string    `json:"project_id,omitempty"`
	UserID    string    `json:"user_id,omitempty"`
	UserType  string    `json:"user_type,omitempty"`
	UserName  string    `json:"user_name,omitempty"`

	// For send_message
	Content         string            `json:"content,omitempty"`
	SenderType      model.SenderType  `json:"sender_type,omitempty"`
	SenderName      string            `json:"sender_name,omitempty"`
	ParentMessageID string            `json:"parent_message_id,omitempty"`
	ThreadID        string            `json:"thread_id,omitempty"`
	Priority        model.Priority    `json:"priority,omitempty"`
	MessageType     model.MessageType `json:"message_type,omitempty"`

	// For read receipts
	MessageID string `json:"message_id,omitempty"`
}

// OutgoingEvent is what the server sends to the client.
// Payload uses typed structs to avoid heap-heavy map[string]any.
type OutgoingEvent struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

// --- Typed payloads for hot-path (avoid map[string]any allocations) ---

// RoomUser — один участник комнаты в снапшоте присутствия.
type RoomUser struct {
	UserID   string    `json:"user_id"`
	UserType string    `json:"user_type"`
	UserName string    `json:"user_name"`
	LastSeen time.Time `json:"last_seen"`
}

// PresenceUpdatePayload отправляется присоединившемуся соединению.
type PresenceUpdatePayload struct {
	ProjectID string     `json:"project_id"`
	Users     []RoomUser `json:"users"`
}

// UserJoinedPayload рассылается остальным участникам комнаты.
type UserJoinedPayload struct {
	ProjectID string `json:"project_id"`
	UserID    string `json:"user_id"`
	UserType  string `json:"user_type"`
	UserName  string `json:"user_name"`
}

// UserLeftPayload рассылается при выходе/обрыве соединения.
type UserLeftPayload struct {
	ProjectID string `json:"project_id"`
	UserID    string `json:"user_id"`
	UserType  string `json:"user_type"`
	UserName  string `json:"user_name"`
}

// TypingPayload — индикатор набора текста.
type TypingPayload struct {
	ProjectID string `json:"project_id"`
	UserID    string `json:"user_id"`
	UserType  string `json:"user_type"`
	UserName  string `json:"user_name"`
	IsTyping  bool   `json:"is_typing"`
}

// ReadReceiptPayload рассылается после отметки одного сообщения прочитанным.
type ReadReceiptPayload struct {
	ProjectID string    `json:"project_id"`
	MessageID string    `json:"message_id"`
	UserID    string    `json:"user_id"`
	UserType  string    `json:"user_type"`
	ReadAt    time.Time `json:"read_at"`
}

// BulkReadPayload рассылается после массовой отметки сообщений роли.
type BulkReadPayload struct {
	ProjectID  string           `json:"project_id"`
	SenderType model.SenderType `json:"sender_type"`
	UserID     string           `json:"user_id"`
	UserType   string           `json:"user_type"`
	ReadAt     time.Time        `json:"read_at"`
}
