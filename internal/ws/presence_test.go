package ws

import "testing"

func TestPresence_JoinReturnsSnapshot(t *testing.T) {
	p := NewPresence()

	users := p.Join("p1", "u1", "freelancer", "Alice", "conn1")
	if len(users) != 1 {
		t.Fatalf("snapshot after first join = %d users, want 1", len(users))
	}

	users = p.Join("p1", "u2", "client", "Bob", "conn2")
	if len(users) != 2 {
		t.Fatalf("snapshot after second join = %d users, want 2", len(users))
	}

	found := map[string]bool{}
	for _, u := range users {
		found[u.UserID] = true
	}
	if !found["u1"] || !found["u2"] {
		t.Errorf("snapshot missing users: %v", users)
	}
}

func TestPresence_ReconnectOverwrites(t *testing.T) {
	p := NewPresence()

	p.Join("p1", "u1", "freelancer", "Alice", "conn1")
	users := p.Join("p1", "u1", "freelancer", "Alice", "conn2")

	if len(users) != 1 {
		t.Fatalf("reconnect duplicated presence: %d entries, want 1", len(users))
	}
	connIDs := p.ConnIDs("p1")
	if len(connIDs) != 1 || connIDs[0] != "conn2" {
		t.Errorf("ConnIDs = %v, want [conn2]", connIDs)
	}
	// Старое соединение больше не числится нигде.
	if _, _, ok := p.Leave("conn1"); ok {
		t.Error("stale conn1 should have been evicted on reconnect")
	}
}

func TestPresence_SameUserDifferentRoles(t *testing.T) {
	p := NewPresence()

	// Один и тот же user_id в разных ролях — разные записи присутствия.
	p.Join("p1", "u1", "freelancer", "Alice", "conn1")
	users := p.Join("p1", "u1", "client", "Alice", "conn2")
	if len(users) != 2 {
		t.Errorf("distinct roles should not overwrite each other: %d entries, want 2", len(users))
	}
}

func TestPresence_LeaveUnknownConnIsSilent(t *testing.T) {
	p := NewPresence()
	if _, _, ok := p.Leave("ghost"); ok {
		t.Error("Leave for unknown conn should be a silent no-op")
	}
}

func TestPresence_Leave(t *testing.T) {
	p := NewPresence()
	p.Join("p1", "u1", "freelancer", "Alice", "conn1")
	p.Join("p1", "u2", "client", "Bob", "conn2")

	left, projectID, ok := p.Leave("conn1")
	if !ok {
		t.Fatal("Leave returned ok=false for present conn")
	}
	if projectID != "p1" || left.UserID != "u1" {
		t.Errorf("Leave returned (%q, %q), want (u1, p1)", left.UserID, projectID)
	}
	if p.Contains("p1", "u1") {
		t.Error("u1 should be gone from the room")
	}
	if !p.Contains("p1", "u2") {
		t.Error("u2 should remain in the room")
	}
}

func TestPresence_RoomsAreIsolated(t *testing.T) {
	p := NewPresence()
	p.Join("p1", "u1", "freelancer", "Alice", "conn1")
	p.Join("p2", "u2", "client", "Bob", "conn2")

	if got := len(p.Room("p1")); got != 1 {
		t.Errorf("room p1 = %d users, want 1", got)
	}
	if got := len(p.Room("p2")); got != 1 {
		t.Errorf("room p2 = %d users, want 1", got)
	}
	if p.Contains("p1", "u2") {
		t.Error("u2 must not appear in p1")
	}
}

func TestPresence_JoinMovesConnBetweenRooms(t *testing.T) {
	p := NewPresence()
	p.Join("p1", "u1", "freelancer", "Alice", "conn1")
	p.Join("p2", "u1", "freelancer", "Alice", "conn1")

	if len(p.Room("p1")) != 0 {
		t.Error("conn1 should have left p1 when joining p2")
	}
	if !p.Contains("p2", "u1") {
		t.Error("conn1 should be present in p2")
	}
}
