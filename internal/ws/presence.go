package ws

import (
	"sync"
	"time"
)

// presenceEntry — живая запись присутствия; существует только в памяти процесса
// и теряется при рестарте.
type presenceEntry struct {
	ProjectID string
	UserID    string
	UserType  string
	UserName  string
	ConnID    string
	LastSeen  time.Time
}

// Presence отслеживает, кто сейчас подключён к комнате какого проекта.
// Вся мутация — под одним мьютексом; сетевой ввод-вывод снаружи.
type Presence struct {
	mu     sync.RWMutex
	rooms  map[string]map[string]*presenceEntry // projectID -> connID -> entry
	byConn map[string]*presenceEntry
}

func NewPresence() *Presence {
	return &Presence{
		rooms:  make(map[string]map[string]*presenceEntry),
		byConn: make(map[string]*presenceEntry),
	}
}

// Join вставляет запись присутствия и возвращает снапшот комнаты после входа.
// Повторный join той же пары (userID, userType) — переподключение: старая запись
// перезаписывается, а не дублируется.
func (p *Presence) Join(projectID, userID, userType, userName, connID string) []RoomUser {
	p.mu.Lock()
	defer p.mu.Unlock()

	// Соединение могло быть в другой комнате — убираем прежнюю запись.
	if old, ok := p.byConn[connID]; ok {
		p.removeLocked(old)
	}
	// Переподключение того же пользователя: вытесняем устаревшую запись.
	if room, ok := p.rooms[projectID]; ok {
		for _, e := range room {
			if e.UserID == userID && e.UserType == userType {
				p.removeLocked(e)
				break
			}
		}
	}

	e := &presenceEntry{
		ProjectID: projectID,
		UserID:    userID,
		UserType:  userType,
		UserName:  userName,
		ConnID:    connID,
		LastSeen:  time.Now().UTC(),
	}
	room, ok := p.rooms[projectID]
	if !ok {
		room = make(map[string]*presenceEntry)
		p.rooms[projectID] = room
	}
	room[connID] = e
	p.byConn[connID] = e

	return p.snapshotLocked(projectID)
}

// Leave удаляет запись соединения. Возвращает данные записи и её проект;
// соединение без присутствия — тихий no-op, не ошибка.
func (p *Presence) Leave(connID string) (RoomUser, string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.byConn[connID]
	if !ok {
		return RoomUser{}, "", false
	}
	p.removeLocked(e)
	return RoomUser{UserID: e.UserID, UserType: e.UserType, UserName: e.UserName, LastSeen: e.LastSeen}, e.ProjectID, true
}

// Room возвращает всех участников комнаты; чистое чтение без побочных эффектов.
func (p *Presence) Room(projectID string) []RoomUser {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snapshotLocked(projectID)
}

// Contains проверяет, подключён ли пользователь к комнате.
func (p *Presence) Contains(projectID, userID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, e := range p.rooms[projectID] {
		if e.UserID == userID {
			return true
		}
	}
	return false
}

// ConnIDs возвращает соединения комнаты (для рассылки).
func (p *Presence) ConnIDs(projectID string) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	room := p.rooms[projectID]
	ids := make([]string, 0, len(room))
	for connID := range room {
		ids = append(ids, connID)
	}
	return ids
}

// Touch обновляет LastSeen по активности соединения.
func (p *Presence) Touch(connID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.byConn[connID]; ok {
		e.LastSeen = time.Now().UTC()
	}
}

func (p *Presence) removeLocked(e *presenceEntry) {
	if room, ok := p.rooms[e.ProjectID]; ok {
		delete(room, e.ConnID)
		if len(room) == 0 {
			delete(p.rooms, e.ProjectID)
		}
	}
	delete(p.byConn, e.ConnID)
}

func (p *Presence) snapshotLocked(projectID string) []RoomUser {
	room := p.rooms[projectID]
	users := make([]RoomUser, 0, len(room))
	for _, e := range room {
		users = append(users, RoomUser{
			UserID:   e.UserID,
			UserType: e.UserType,
			UserName: e.UserName,
			LastSeen: e.LastSeen,
		})
	}
	return users
}
