package ws

import (
	"sync"
	"time"
)

// DefaultTypingTimeout — сколько живёт индикатор набора без нового typing_start.
// Клиент не обязан присылать явный stop (обрыв соединения, потерянные события) —
// серверный тайм-аут гарантирует, что индикатор не зависнет навсегда.
const DefaultTypingTimeout = 3000 * time.Millisecond

// typingEntry хранит таймер истечения рядом с записью: Start явно отменяет
// прежний таймер перед постановкой нового, поэтому на ключ живёт максимум один.
type typingEntry struct {
	UserType  string
	UserName  string
	StartedAt time.Time
	timer     *time.Timer
}

// ExpireFunc вызывается при истечении тайм-аута набора (эквивалент Stop).
type ExpireFunc func(projectID, userID, userType, userName string)

// Typing отслеживает транзиентное состояние "печатает" по ключу
// (projectID, userID, userType), независимо от персистентности сообщений.
type Typing struct {
	mu       sync.Mutex
	timeout  time.Duration
	rooms    map[string]map[string]*typingEntry // projectID -> userID -> entry
	onExpire ExpireFunc
}

func NewTyping(timeout time.Duration, onExpire ExpireFunc) *Typing {
	if timeout <= 0 {
		timeout = DefaultTypingTimeout
	}
	return &Typing{
		timeout:  timeout,
		rooms:    make(map[string]map[string]*typingEntry),
		onExpire: onExpire,
	}
}

// Start создаёт/обновляет запись со свежим StartedAt. Существующий таймер
// отменяется и заменяется новым на полный тайм-аут.
func (t *Typing) Start(projectID, userID, userType, userName string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	room, ok := t.rooms[projectID]
	if !ok {
		room = make(map[string]*typingEntry)
		t.rooms[projectID] = room
	}
	if old, ok := room[userID]; ok {
		old.timer.Stop()
	}
	e := &typingEntry{UserType: userType, UserName: userName, StartedAt: time.Now().UTC()}
	e.timer = time.AfterFunc(t.timeout, func() { t.expire(projectID, userID, e) })
	room[userID] = e
}

// Stop удаляет запись и отменяет таймер. Возвращает stopped=false, если записи
// не было: повторный stop — тихий no-op, рассылать его нельзя.
func (t *Typing) Stop(projectID, userID string) (userType, userName string, stopped bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	room, ok := t.rooms[projectID]
	if !ok {
		return "", "", false
	}
	e, ok := room[userID]
	if !ok {
		return "", "", false
	}
	e.timer.Stop()
	delete(room, userID)
	if len(room) == 0 {
		delete(t.rooms, projectID)
	}
	return e.UserType, e.UserName, true
}

// IsTyping — чистое чтение для тестов и снапшотов.
func (t *Typing) IsTyping(projectID, userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	room, ok := t.rooms[projectID]
	if !ok {
		return false
	}
	_, ok = room[userID]
	return ok
}

// expire выполняется в горутине таймера. Перед удалением проверяем, что запись
// всё ещё та самая: гонка с ручным Stop или новым Start не должна дать
// второй broadcast по уже удалённой записи.
func (t *Typing) expire(projectID, userID string, e *typingEntry) {
	t.mu.Lock()
	room, ok := t.rooms[projectID]
	if !ok {
		t.mu.Unlock()
		return
	}
	cur, ok := room[userID]
	if !ok || cur != e {
		t.mu.Unlock()
		return
	}
	delete(room, userID)
	if len(room) == 0 {
		delete(t.rooms, projectID)
	}
	userType, userName := cur.UserType, cur.UserName
	t.mu.Unlock()

	if t.onExpire != nil {
		t.onExpire(projectID, userID, userType, userName)
	}
}
