package model

import "time"

type SenderType string

const (
	SenderFreelancer SenderType = "freelancer"
	SenderClient     SenderType = "client"
)

type MessageType string

const (
	MessageTypeText MessageType = "text"
	MessageTypeFile MessageType = "file"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

type MessageStatus string

const (
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
)

// Message belongs to exactly one project and, through ThreadID, to exactly one thread.
// A root message gets a generated ThreadID at creation; a reply inherits its parent's.
type Message struct {
	ID              string              `json:"id"`
	ProjectID       string              `json:"project_id"`
	Content         string              `json:"content"`
	SenderName      string              `json:"sender_name"`
	SenderType      SenderType          `json:"sender_type"`
	ParentMessageID *string             `json:"parent_message_id,omitempty"`
	ThreadID        string              `json:"thread_id"`
	MessageType     MessageType         `json:"message_type"`
	Priority        Priority            `json:"priority"`
	Status          MessageStatus       `json:"status"`
	IsRead          bool                `json:"is_read"`
	ReadAt          *time.Time          `json:"read_at,omitempty"`
	DeliveredAt     *time.Time          `json:"delivered_at,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
	EditedAt        *time.Time          `json:"edited_at,omitempty"`
	Attachments     []MessageAttachment `json:"attachments,omitempty"`
}

// MessageAttachment is owned exclusively by its message; attachment rows are
// deleted before the message itself.
type MessageAttachment struct {
	ID         string    `json:"id"`
	MessageID  string    `json:"message_id"`
	FilePath   string    `json:"file_path"`
	FileName   string    `json:"file_name"`
	FileSize   int64     `json:"file_size"`
	MimeType   string    `json:"mime_type"`
	UploadedAt time.Time `json:"uploaded_at"`
}
