package ws

import (
	"sync"
	"testing"
	"time"
)

type expireRecorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *expireRecorder) record(projectID, userID, userType, userName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, projectID+"/"+userID)
}

func (r *expireRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func TestTyping_StartAndStop(t *testing.T) {
	rec := &expireRecorder{}
	ty := NewTyping(time.Second, rec.record)

	ty.Start("p1", "u1", "freelancer", "Alice")
	if !ty.IsTyping("p1", "u1") {
		t.Fatal("IsTyping = false after Start")
	}

	userType, userName, stopped := ty.Stop("p1", "u1")
	if !stopped {
		t.Fatal("Stop returned stopped=false for active entry")
	}
	if userType != "freelancer" || userName != "Alice" {
		t.Errorf("Stop returned (%q, %q), want (freelancer, Alice)", userType, userName)
	}
	if ty.IsTyping("p1", "u1") {
		t.Error("IsTyping = true after Stop")
	}
}

func TestTyping_RepeatedStopIsSilent(t *testing.T) {
	rec := &expireRecorder{}
	ty := NewTyping(time.Second, rec.record)

	ty.Start("p1", "u1", "client", "Bob")
	if _, _, stopped := ty.Stop("p1", "u1"); !stopped {
		t.Fatal("first Stop should succeed")
	}
	if _, _, stopped := ty.Stop("p1", "u1"); stopped {
		t.Error("second Stop should be a silent no-op")
	}
	if _, _, stopped := ty.Stop("p1", "never-typed"); stopped {
		t.Error("Stop for unknown user should be a silent no-op")
	}
}

func TestTyping_ExpiresAfterTimeout(t *testing.T) {
	rec := &expireRecorder{}
	ty := NewTyping(30*time.Millisecond, rec.record)

	ty.Start("p1", "u1", "client", "Bob")
	time.Sleep(100 * time.Millisecond)

	if ty.IsTyping("p1", "u1") {
		t.Error("entry should be gone after timeout")
	}
	if got := rec.count(); got != 1 {
		t.Errorf("expire callbacks = %d, want 1", got)
	}
	// Ручной stop после истечения не должен давать второй broadcast.
	if _, _, stopped := ty.Stop("p1", "u1"); stopped {
		t.Error("Stop after expiry should be a no-op")
	}
}

func TestTyping_RestartResetsTimer(t *testing.T) {
	rec := &expireRecorder{}
	ty := NewTyping(60*time.Millisecond, rec.record)

	// Повторный Start до истечения продлевает индикатор на полный тайм-аут.
	ty.Start("p1", "u1", "client", "Bob")
	time.Sleep(40 * time.Millisecond)
	ty.Start("p1", "u1", "client", "Bob")
	time.Sleep(40 * time.Millisecond)

	if !ty.IsTyping("p1", "u1") {
		t.Fatal("entry expired too early after restart")
	}
	if got := rec.count(); got != 0 {
		t.Fatalf("expire callbacks = %d before extended deadline, want 0", got)
	}

	time.Sleep(80 * time.Millisecond)
	if got := rec.count(); got != 1 {
		t.Errorf("expire callbacks = %d after extended deadline, want 1", got)
	}
}

func TestTyping_StopCancelsTimer(t *testing.T) {
	rec := &expireRecorder{}
	ty := NewTyping(30*time.Millisecond, rec.record)

	ty.Start("p1", "u1", "client", "Bob")
	ty.Stop("p1", "u1")
	time.Sleep(100 * time.Millisecond)

	if got := rec.count(); got != 0 {
		t.Errorf("expire callbacks = %d after manual stop, want 0", got)
	}
}

func TestTyping_IndependentUsersAndProjects(t *testing.T) {
	rec := &expireRecorder{}
	ty := NewTyping(time.Second, rec.record)

	ty.Start("p1", "u1", "freelancer", "Alice")
	ty.Start("p1", "u2", "client", "Bob")
	ty.Start("p2", "u1", "freelancer", "Alice")

	ty.Stop("p1", "u1")
	if ty.IsTyping("p1", "u1") {
		t.Error("p1/u1 should be stopped")
	}
	if !ty.IsTyping("p1", "u2") {
		t.Error("p1/u2 should still be typing")
	}
	if !ty.IsTyping("p2", "u1") {
		t.Error("p2/u1 should still be typing")
	}
}
