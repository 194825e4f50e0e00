package ws

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/clientportal/internal/model"
	"github.com/clientportal/internal/service"
	"github.com/google/uuid"
)

type fakeSender struct {
	mu        sync.Mutex
	created   []service.CreateMessageInput
	readIDs   []string
	bulkReads []string
	createErr error
}

func (f *fakeSender) CreateMessage(ctx context.Context, in service.CreateMessageInput) (*model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = append(f.created, in)
	return &model.Message{
		ID:         uuid.New().String(),
		ProjectID:  in.ProjectID,
		Content:    in.Content,
		SenderType: in.SenderType,
		ThreadID:   "thread_" + in.ProjectID + "_1",
		Status:     model.MessageStatusSent,
		CreatedAt:  time.Now().UTC(),
	}, nil
}

func (f *fakeSender) MarkAsRead(ctx context.Context, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readIDs = append(f.readIDs, messageID)
	return nil
}

func (f *fakeSender) MarkProjectRead(ctx context.Context, projectID string, senderType model.SenderType) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bulkReads = append(f.bulkReads, projectID+"/"+string(senderType))
	return nil
}

func (f *fakeSender) createdCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

type fakeOwners struct {
	owner string
}

func (f *fakeOwners) FreelancerID(ctx context.Context, projectID string) (string, error) {
	return f.owner, nil
}

func newTestHub(svc MessageSender) *Hub {
	return NewHub(svc, &fakeOwners{owner: "freelancer-1"}, nil, time.Second, 100)
}

func newTestClient(t *testing.T, h *Hub) *Client {
	t.Helper()
	c := NewClient(h, nil)
	h.addClient(c)
	return c
}

func joinProject(t *testing.T, h *Hub, c *Client, projectID, userID, userType, userName string) {
	t.Helper()
	h.HandleEvent(context.Background(), c, IncomingEvent{
		Type:      EventJoinProject,
		ProjectID: projectID,
		UserID:    userID,
		UserType:  userType,
		UserName:  userName,
	})
}

func recvEvent(t *testing.T, c *Client, want EventType) OutgoingEvent {
	t.Helper()
	select {
	case ev := <-c.send:
		if ev.Type != want {
			t.Fatalf("received event %q, want %q (payload %v)", ev.Type, want, ev.Payload)
		}
		return ev
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for event %q", want)
		return OutgoingEvent{}
	}
}

func expectNoEvent(t *testing.T, c *Client) {
	t.Helper()
	select {
	case ev := <-c.send:
		t.Fatalf("unexpected event %q (payload %v)", ev.Type, ev.Payload)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_JoinBroadcastsPresence(t *testing.T) {
	h := newTestHub(&fakeSender{})
	c1 := newTestClient(t, h)
	c2 := newTestClient(t, h)

	joinProject(t, h, c1, "p1", "u1", "freelancer", "Alice")
	ev := recvEvent(t, c1, EventPresenceUpdate)
	snap := ev.Payload.(PresenceUpdatePayload)
	if len(snap.Users) != 1 {
		t.Errorf("first joiner snapshot = %d users, want 1", len(snap.Users))
	}

	joinProject(t, h, c2, "p1", "u2", "client", "Bob")
	ev = recvEvent(t, c2, EventPresenceUpdate)
	snap = ev.Payload.(PresenceUpdatePayload)
	if len(snap.Users) != 2 {
		t.Errorf("second joiner snapshot = %d users, want 2", len(snap.Users))
	}

	// Первый участник узнаёт о втором, но не о себе.
	ev = recvEvent(t, c1, EventUserJoined)
	joined := ev.Payload.(UserJoinedPayload)
	if joined.UserID != "u2" {
		t.Errorf("user_joined for %q, want u2", joined.UserID)
	}
	expectNoEvent(t, c2)
}

func TestHub_SendMessageBroadcastsToRoom(t *testing.T) {
	svc := &fakeSender{}
	h := newTestHub(svc)
	c1 := newTestClient(t, h)
	c2 := newTestClient(t, h)
	joinProject(t, h, c1, "p1", "u1", "freelancer", "Alice")
	joinProject(t, h, c2, "p1", "u2", "client", "Bob")
	drain(c1)
	drain(c2)

	h.HandleEvent(context.Background(), c1, IncomingEvent{
		Type:       EventSendMessage,
		ProjectID:  "p1",
		Content:    "hello",
		SenderType: model.SenderFreelancer,
		SenderName: "Alice",
	})

	// Сообщение получают все участники комнаты, включая отправителя.
	ev := recvEvent(t, c1, EventNewMessage)
	m := ev.Payload.(*model.Message)
	if m.Content != "hello" {
		t.Errorf("broadcast content = %q, want hello", m.Content)
	}
	recvEvent(t, c2, EventNewMessage)

	if svc.createdCount() != 1 {
		t.Fatalf("persisted messages = %d, want 1", svc.createdCount())
	}
	if !svc.created[0].RealTime {
		t.Error("WebSocket path must persist with RealTime=true")
	}
}

func TestHub_SendMessageFailureIsNotBroadcast(t *testing.T) {
	svc := &fakeSender{createErr: errors.New("db down")}
	h := newTestHub(svc)
	c1 := newTestClient(t, h)
	c2 := newTestClient(t, h)
	joinProject(t, h, c1, "p1", "u1", "freelancer", "Alice")
	joinProject(t, h, c2, "p1", "u2", "client", "Bob")
	drain(c1)
	drain(c2)

	h.HandleEvent(context.Background(), c1, IncomingEvent{
		Type:       EventSendMessage,
		ProjectID:  "p1",
		Content:    "hello",
		SenderType: model.SenderFreelancer,
	})

	// Ошибку видит только отправитель, комната не получает ничего.
	recvEvent(t, c1, EventError)
	expectNoEvent(t, c2)
}

func TestHub_SendMessageValidationReasonReachesSender(t *testing.T) {
	svc := &fakeSender{createErr: &service.ValidationError{Reason: "content is required"}}
	h := newTestHub(svc)
	c1 := newTestClient(t, h)
	joinProject(t, h, c1, "p1", "u1", "freelancer", "Alice")
	drain(c1)

	h.HandleEvent(context.Background(), c1, IncomingEvent{
		Type:       EventSendMessage,
		ProjectID:  "p1",
		SenderType: model.SenderFreelancer,
	})

	ev := recvEvent(t, c1, EventError)
	if ev.Payload != "content is required" {
		t.Errorf("error payload = %v, want validation reason", ev.Payload)
	}
}

func TestHub_TypingStartStop(t *testing.T) {
	h := newTestHub(&fakeSender{})
	c1 := newTestClient(t, h)
	c2 := newTestClient(t, h)
	joinProject(t, h, c1, "p1", "u1", "freelancer", "Alice")
	joinProject(t, h, c2, "p1", "u2", "client", "Bob")
	drain(c1)
	drain(c2)

	h.HandleEvent(context.Background(), c1, IncomingEvent{
		Type: EventTypingStart, ProjectID: "p1", UserID: "u1", UserType: "freelancer", UserName: "Alice",
	})
	ev := recvEvent(t, c2, EventUserTyping)
	tp := ev.Payload.(TypingPayload)
	if !tp.IsTyping || tp.UserID != "u1" {
		t.Errorf("typing payload = %+v, want u1 typing", tp)
	}
	// Инициатор своё событие не получает.
	expectNoEvent(t, c1)

	h.HandleEvent(context.Background(), c1, IncomingEvent{
		Type: EventTypingStop, ProjectID: "p1", UserID: "u1",
	})
	ev = recvEvent(t, c2, EventUserTyping)
	tp = ev.Payload.(TypingPayload)
	if tp.IsTyping {
		t.Error("stop should broadcast is_typing=false")
	}
	if tp.UserType != "freelancer" || tp.UserName != "Alice" {
		t.Errorf("stop payload should carry stored identity, got %+v", tp)
	}

	// Повторный stop — тишина.
	h.HandleEvent(context.Background(), c1, IncomingEvent{
		Type: EventTypingStop, ProjectID: "p1", UserID: "u1",
	})
	expectNoEvent(t, c2)
}

func TestHub_TypingExpiryBroadcastsOnce(t *testing.T) {
	h := NewHub(&fakeSender{}, &fakeOwners{}, nil, 40*time.Millisecond, 100)
	c1 := newTestClient(t, h)
	c2 := newTestClient(t, h)
	joinProject(t, h, c1, "p1", "u1", "freelancer", "Alice")
	joinProject(t, h, c2, "p1", "u2", "client", "Bob")
	drain(c1)
	drain(c2)

	h.HandleEvent(context.Background(), c1, IncomingEvent{
		Type: EventTypingStart, ProjectID: "p1", UserID: "u1", UserType: "freelancer", UserName: "Alice",
	})
	recvEvent(t, c2, EventUserTyping)

	// Без stop сервер сам гасит индикатор по тайм-ауту.
	ev := recvEvent(t, c2, EventUserTyping)
	tp := ev.Payload.(TypingPayload)
	if tp.IsTyping {
		t.Error("expiry should broadcast is_typing=false")
	}

	// Запоздавший stop после истечения не даёт второго события.
	h.HandleEvent(context.Background(), c1, IncomingEvent{
		Type: EventTypingStop, ProjectID: "p1", UserID: "u1",
	})
	expectNoEvent(t, c2)
}

func TestHub_DisconnectCleansUp(t *testing.T) {
	h := newTestHub(&fakeSender{})
	c1 := newTestClient(t, h)
	c2 := newTestClient(t, h)
	joinProject(t, h, c1, "p1", "u1", "freelancer", "Alice")
	joinProject(t, h, c2, "p1", "u2", "client", "Bob")
	drain(c1)
	drain(c2)

	h.HandleEvent(context.Background(), c2, IncomingEvent{
		Type: EventTypingStart, ProjectID: "p1", UserID: "u2", UserType: "client", UserName: "Bob",
	})
	recvEvent(t, c1, EventUserTyping)

	h.removeClient(c2)

	// Обрыв гасит индикатор и сообщает о выходе.
	ev := recvEvent(t, c1, EventUserTyping)
	if ev.Payload.(TypingPayload).IsTyping {
		t.Error("disconnect should clear typing state")
	}
	ev = recvEvent(t, c1, EventUserLeft)
	if ev.Payload.(UserLeftPayload).UserID != "u2" {
		t.Errorf("user_left for %q, want u2", ev.Payload.(UserLeftPayload).UserID)
	}
	if h.presence.Contains("p1", "u2") {
		t.Error("u2 should be removed from presence")
	}

	// Повторное удаление — no-op.
	h.removeClient(c2)
	expectNoEvent(t, c1)
}

func TestHub_MarkReadBroadcastsReceipt(t *testing.T) {
	svc := &fakeSender{}
	h := newTestHub(svc)
	c1 := newTestClient(t, h)
	c2 := newTestClient(t, h)
	joinProject(t, h, c1, "p1", "u1", "freelancer", "Alice")
	joinProject(t, h, c2, "p1", "u2", "client", "Bob")
	drain(c1)
	drain(c2)

	h.HandleEvent(context.Background(), c2, IncomingEvent{
		Type: EventMarkMessageRead, ProjectID: "p1", MessageID: "m1", UserID: "u2", UserType: "client",
	})

	ev := recvEvent(t, c1, EventMessageRead)
	receipt := ev.Payload.(ReadReceiptPayload)
	if receipt.MessageID != "m1" {
		t.Errorf("receipt for %q, want m1", receipt.MessageID)
	}
	expectNoEvent(t, c2)

	if len(svc.readIDs) != 1 || svc.readIDs[0] != "m1" {
		t.Errorf("persisted reads = %v, want [m1]", svc.readIDs)
	}
}

func TestHub_BulkReadBroadcast(t *testing.T) {
	svc := &fakeSender{}
	h := newTestHub(svc)
	c1 := newTestClient(t, h)
	c2 := newTestClient(t, h)
	joinProject(t, h, c1, "p1", "u1", "freelancer", "Alice")
	joinProject(t, h, c2, "p1", "u2", "client", "Bob")
	drain(c1)
	drain(c2)

	h.HandleEvent(context.Background(), c1, IncomingEvent{
		Type: EventMarkMessagesRead, ProjectID: "p1", SenderType: model.SenderClient, UserID: "u1", UserType: "freelancer",
	})

	ev := recvEvent(t, c2, EventBulkMessagesRead)
	bulk := ev.Payload.(BulkReadPayload)
	if bulk.SenderType != model.SenderClient {
		t.Errorf("bulk read sender_type = %q, want client", bulk.SenderType)
	}
	if len(svc.bulkReads) != 1 || svc.bulkReads[0] != "p1/client" {
		t.Errorf("persisted bulk reads = %v, want [p1/client]", svc.bulkReads)
	}
}

func TestHub_UnknownEvent(t *testing.T) {
	h := newTestHub(&fakeSender{})
	c1 := newTestClient(t, h)

	h.HandleEvent(context.Background(), c1, IncomingEvent{Type: "dance"})
	ev := recvEvent(t, c1, EventError)
	if ev.Payload != "unknown event type" {
		t.Errorf("error payload = %v", ev.Payload)
	}
}

func TestHub_RoomIsolation(t *testing.T) {
	h := newTestHub(&fakeSender{})
	c1 := newTestClient(t, h)
	c2 := newTestClient(t, h)
	joinProject(t, h, c1, "p1", "u1", "freelancer", "Alice")
	joinProject(t, h, c2, "p2", "u2", "client", "Bob")
	drain(c1)
	drain(c2)

	h.HandleEvent(context.Background(), c1, IncomingEvent{
		Type:       EventSendMessage,
		ProjectID:  "p1",
		Content:    "private",
		SenderType: model.SenderFreelancer,
	})

	recvEvent(t, c1, EventNewMessage)
	expectNoEvent(t, c2)
}

func drain(c *Client) {
	for {
		select {
		case <-c.send:
		default:
			return
		}
	}
}
