package dj

import "testing"

func TestSessionManagerLifecycle(t *testing.T) {
	factory := &fakeFactory{}
	m := NewSessionManager(factory.factory(), &gatedProvider{}, DefaultParams())

	session, err := m.Create("friday set", "", nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if m.Count() != 1 {
		t.Errorf("count = %d, want 1", m.Count())
	}
	if got := m.Get(session.ID); got != session {
		t.Error("Get returned a different session")
	}
	if m.Get("no-such-id") != nil {
		t.Error("Get of unknown id should be nil")
	}

	if err := m.Close(session.ID); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if m.Count() != 0 {
		t.Errorf("count after close = %d, want 0", m.Count())
	}
	if err := m.Close(session.ID); err == nil {
		t.Error("closing a closed session must fail")
	}
}

func TestSessionManagerAuthorize(t *testing.T) {
	factory := &fakeFactory{}
	m := NewSessionManager(factory.factory(), &gatedProvider{}, DefaultParams())

	open, err := m.Create("open", "", nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	t.Cleanup(func() { m.CloseAll() })

	protected, err := m.Create("protected", "hunter2", nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := m.Authorize(open.ID, ""); err != nil {
		t.Errorf("open session should authorize without password: %v", err)
	}
	if err := m.Authorize(protected.ID, "hunter2"); err != nil {
		t.Errorf("correct password rejected: %v", err)
	}
	if err := m.Authorize(protected.ID, "wrong"); err == nil {
		t.Error("wrong password accepted")
	}
	if err := m.Authorize("no-such-id", ""); err == nil {
		t.Error("unknown session accepted")
	}
}
