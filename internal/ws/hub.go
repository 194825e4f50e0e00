package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/clientportal/internal/logger"
	"github.com/clientportal/internal/model"
	"github.com/clientportal/internal/service"
)

// MessageSender — движок сообщений, который хаб дергает на персистентных событиях.
type MessageSender interface {
	CreateMessage(ctx context.Context, in service.CreateMessageInput) (*model.Message, error)
	MarkAsRead(ctx context.Context, messageID string) error
	MarkProjectRead(ctx context.Context, projectID string, senderType model.SenderType) error
}

// ProjectOwners отдаёт владельца проекта для оффлайн-уведомлений.
type ProjectOwners interface {
	FreelancerID(ctx context.Context, projectID string) (string, error)
}

// PushNotifier отправляет пуш-уведомления. Если nil — пуши не отправляются.
type PushNotifier interface {
	Notify(ctx context.Context, userID, title, body string, data map[string]string)
}

// Hub владеет всем живым состоянием комнат: соединениями, присутствием и
// индикаторами набора. Персистентность делегируется MessageSender.
type Hub struct {
	mu       sync.RWMutex
	conns    map[string]*Client // connID -> client
	maxConns int

	presence *Presence
	typing   *Typing

	svc      MessageSender
	owners   ProjectOwners
	notifier PushNotifier

	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

func NewHub(svc MessageSender, owners ProjectOwners, notifier PushNotifier, typingTimeout time.Duration, maxConns int) *Hub {
	if maxConns <= 0 {
		maxConns = 10000
	}
	h := &Hub{
		conns:      make(map[string]*Client),
		maxConns:   maxConns,
		presence:   NewPresence(),
		svc:        svc,
		owners:     owners,
		notifier:   notifier,
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		done:       make(chan struct{}),
	}
	h.typing = NewTyping(typingTimeout, h.typingExpired)
	return h
}

func (h *Hub) Register(c *Client)   { h.register <- c }
func (h *Hub) Unregister(c *Client) { h.unregister <- c }

// Presence отдаёт трекер присутствия (снапшоты для HTTP-хендлеров).
func (h *Hub) Presence() *Presence { return h.presence }

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

func (h *Hub) shutdown() {
	// Collect all clients under the lock, do NOT perform I/O under mutex.
	h.mu.Lock()
	all := make([]*Client, 0, len(h.conns))
	for _, c := range h.conns {
		all = append(all, c)
	}
	h.conns = make(map[string]*Client)
	h.mu.Unlock()

	for _, c := range all {
		c.Close()
	}
	for _, c := range all {
		c.Wait()
	}
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	if len(h.conns) >= h.maxConns {
		h.mu.Unlock()
		logger.Errorf("ws connection limit reached (%d), rejecting conn=%s", h.maxConns, c.connID)
		c.Close()
		return
	}
	h.conns[c.connID] = c
	h.mu.Unlock()
}

// removeClient — полный разрыв: соединение убирается из комнаты, его индикатор
// набора гасится, остальные участники получают user_left.
func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	if _, ok := h.conns[c.connID]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.conns, c.connID)
	h.mu.Unlock()

	// Network I/O outside the lock.
	c.Close()

	left, projectID, ok := h.presence.Leave(c.connID)
	if !ok {
		return
	}
	if userType, userName, stopped := h.typing.Stop(projectID, left.UserID); stopped {
		h.BroadcastToRoom(projectID, "", OutgoingEvent{Type: EventUserTyping, Payload: TypingPayload{
			ProjectID: projectID,
			UserID:    left.UserID,
			UserType:  userType,
			UserName:  userName,
			IsTyping:  false,
		}})
	}
	h.BroadcastToRoom(projectID, "", OutgoingEvent{Type: EventUserLeft, Payload: UserLeftPayload{
		ProjectID: projectID,
		UserID:    left.UserID,
		UserType:  left.UserType,
		UserName:  left.UserName,
	}})
}

// HandleEvent dispatches incoming WebSocket events.
func (h *Hub) HandleEvent(ctx context.Context, c *Client, ev IncomingEvent) {
	switch ev.Type {
	case EventJoinProject:
		h.handleJoin(c, ev)
	case EventSendMessage:
		h.handleSendMessage(ctx, c, ev)
	case EventTypingStart:
		h.handleTypingStart(c, ev)
	case EventTypingStop:
		h.handleTypingStop(c, ev)
	case EventMarkMessageRead:
		h.handleMarkRead(ctx, c, ev)
	case EventMarkMessagesRead:
		h.handleBulkRead(ctx, c, ev)
	default:
		h.sendToClient(c, OutgoingEvent{Type: EventError, Payload: "unknown event type"})
	}
}

func (h *Hub) handleJoin(c *Client, ev IncomingEvent) {
	if ev.ProjectID == "" || ev.UserID == "" {
		h.sendToClient(c, OutgoingEvent{Type: EventError, Payload: "project_id and user_id required"})
		return
	}
	c.userID = ev.UserID
	users := h.presence.Join(ev.ProjectID, ev.UserID, ev.UserType, ev.UserName, c.connID)

	// Присоединившийся получает полный снапшот комнаты, остальные — только факт входа.
	h.sendToClient(c, OutgoingEvent{Type: EventPresenceUpdate, Payload: PresenceUpdatePayload{
		ProjectID: ev.ProjectID,
		Users:     users,
	}})
	h.BroadcastToRoom(ev.ProjectID, c.connID, OutgoingEvent{Type: EventUserJoined, Payload: UserJoinedPayload{
		ProjectID: ev.ProjectID,
		UserID:    ev.UserID,
		UserType:  ev.UserType,
		UserName:  ev.UserName,
	}})
}

// handleSendMessage: рассылка только после успешного сохранения. Сбой валидации
// или БД видит только отправитель, комната не получает ничего.
func (h *Hub) handleSendMessage(ctx context.Context, c *Client, ev IncomingEvent) {
	defer logger.DeferLogDuration("ws.handleSendMessage", time.Now())()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	m, err := h.svc.CreateMessage(ctx, service.CreateMessageInput{
		ProjectID:       ev.ProjectID,
		Content:         ev.Content,
		SenderName:      ev.SenderName,
		SenderType:      ev.SenderType,
		ParentMessageID: ev.ParentMessageID,
		ThreadID:        ev.ThreadID,
		Priority:        ev.Priority,
		MessageType:     ev.MessageType,
		RealTime:        true,
	})
	if err != nil {
		var verr *service.ValidationError
		if errors.As(err, &verr) {
			h.sendToClient(c, OutgoingEvent{Type: EventError, Payload: verr.Reason})
			return
		}
		logger.Errorf("ws save message project=%s conn=%s: %v", ev.ProjectID, c.connID, err)
		h.sendToClient(c, OutgoingEvent{Type: EventError, Payload: "failed to save message"})
		return
	}

	h.SendToRoom(ev.ProjectID, OutgoingEvent{Type: EventNewMessage, Payload: m})

	// Оффлайн-владелец проекта узнаёт о сообщении клиента через Web Push.
	if h.notifier != nil && h.owners != nil && m.SenderType == model.SenderClient {
		owner, err := h.owners.FreelancerID(ctx, m.ProjectID)
		if err != nil {
			logger.Errorf("ws resolve project owner project=%s: %v", m.ProjectID, err)
			return
		}
		if h.presence.Contains(m.ProjectID, owner) {
			return
		}
		title := m.SenderName
		if title == "" {
			title = "New message"
		}
		body := m.Content
		if len(body) > 120 {
			body = body[:117] + "..."
		}
		data := map[string]string{"project_id": m.ProjectID, "message_id": m.ID}
		go h.notifier.Notify(context.Background(), owner, title, body, data)
	}
}

func (h *Hub) handleTypingStart(c *Client, ev IncomingEvent) {
	if ev.ProjectID == "" || ev.UserID == "" {
		return
	}
	h.typing.Start(ev.ProjectID, ev.UserID, ev.UserType, ev.UserName)
	h.presence.Touch(c.connID)
	h.BroadcastToRoom(ev.ProjectID, c.connID, OutgoingEvent{Type: EventUserTyping, Payload: TypingPayload{
		ProjectID: ev.ProjectID,
		UserID:    ev.UserID,
		UserType:  ev.UserType,
		UserName:  ev.UserName,
		IsTyping:  true,
	}})
}

// handleTypingStop: повторный stop после тайм-аута — тихий no-op, второго
// broadcast быть не должно.
func (h *Hub) handleTypingStop(c *Client, ev IncomingEvent) {
	if ev.ProjectID == "" || ev.UserID == "" {
		return
	}
	userType, userName, stopped := h.typing.Stop(ev.ProjectID, ev.UserID)
	if !stopped {
		return
	}
	h.BroadcastToRoom(ev.ProjectID, c.connID, OutgoingEvent{Type: EventUserTyping, Payload: TypingPayload{
		ProjectID: ev.ProjectID,
		UserID:    ev.UserID,
		UserType:  userType,
		UserName:  userName,
		IsTyping:  false,
	}})
}

// typingExpired вызывается таймером Typing: сервер гасит зависший индикатор сам.
func (h *Hub) typingExpired(projectID, userID, userType, userName string) {
	h.BroadcastToRoom(projectID, "", OutgoingEvent{Type: EventUserTyping, Payload: TypingPayload{
		ProjectID: projectID,
		UserID:    userID,
		UserType:  userType,
		UserName:  userName,
		IsTyping:  false,
	}})
}

func (h *Hub) handleMarkRead(ctx context.Context, c *Client, ev IncomingEvent) {
	if ev.ProjectID == "" || ev.MessageID == "" {
		h.sendToClient(c, OutgoingEvent{Type: EventError, Payload: "project_id and message_id required"})
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := h.svc.MarkAsRead(ctx, ev.MessageID); err != nil {
		logger.Errorf("ws mark read message=%s: %v", ev.MessageID, err)
		h.sendToClient(c, OutgoingEvent{Type: EventError, Payload: "failed to mark as read"})
		return
	}
	h.BroadcastToRoom(ev.ProjectID, c.connID, OutgoingEvent{Type: EventMessageRead, Payload: ReadReceiptPayload{
		ProjectID: ev.ProjectID,
		MessageID: ev.MessageID,
		UserID:    ev.UserID,
		UserType:  ev.UserType,
		ReadAt:    time.Now().UTC(),
	}})
}

func (h *Hub) handleBulkRead(ctx context.Context, c *Client, ev IncomingEvent) {
	if ev.ProjectID == "" || ev.SenderType == "" {
		h.sendToClient(c, OutgoingEvent{Type: EventError, Payload: "project_id and sender_type required"})
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := h.svc.MarkProjectRead(ctx, ev.ProjectID, ev.SenderType); err != nil {
		var verr *service.ValidationError
		if errors.As(err, &verr) {
			h.sendToClient(c, OutgoingEvent{Type: EventError, Payload: verr.Reason})
			return
		}
		logger.Errorf("ws bulk mark read project=%s: %v", ev.ProjectID, err)
		h.sendToClient(c, OutgoingEvent{Type: EventError, Payload: "failed to mark messages as read"})
		return
	}
	h.BroadcastToRoom(ev.ProjectID, c.connID, OutgoingEvent{Type: EventBulkMessagesRead, Payload: BulkReadPayload{
		ProjectID:  ev.ProjectID,
		SenderType: ev.SenderType,
		UserID:     ev.UserID,
		UserType:   ev.UserType,
		ReadAt:     time.Now().UTC(),
	}})
}

// SendToRoom рассылает событие всем соединениям комнаты, включая отправителя.
func (h *Hub) SendToRoom(projectID string, ev OutgoingEvent) {
	h.BroadcastToRoom(projectID, "", ev)
}

// BroadcastToRoom рассылает событие комнате; excludeConnID != "" исключает одно
// соединение (обычно инициатора).
func (h *Hub) BroadcastToRoom(projectID, excludeConnID string, ev OutgoingEvent) {
	connIDs := h.presence.ConnIDs(projectID)

	h.mu.RLock()
	targets := make([]*Client, 0, len(connIDs))
	for _, id := range connIDs {
		if id == excludeConnID {
			continue
		}
		if c, ok := h.conns[id]; ok {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.sendToClient(c, ev)
	}
}

// sendToClient — неблокирующая отправка. Переполненный буфер означает мёртвое
// или безнадёжно отставшее соединение: закрываем его, не тормозя комнату.
func (h *Hub) sendToClient(c *Client, ev OutgoingEvent) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- ev:
	default:
		logger.Errorf("ws send buffer full, dropping conn=%s user=%s", c.connID, c.userID)
		c.Close()
		select {
		case h.unregister <- c:
		default:
		}
	}
}
