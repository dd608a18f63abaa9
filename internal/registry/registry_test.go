package registry

import (
	"fmt"
	"sort"
	"sync"
	"testing"
)

// assertSessions checks that SessionsFor returns exactly the expected IDs,
// ignoring order.
func assertSessions(t *testing.T, r *Registry, userID string, expected ...string) {
	t.Helper()
	got := r.SessionsFor(userID)
	if len(got) != len(expected) {
		t.Fatalf("SessionsFor(%q) returned %d sessions, want %d: %v", userID, len(got), len(expected), got)
	}
	sort.Strings(got)
	sort.Strings(expected)
	for i := range expected {
		if got[i] != expected[i] {
			t.Errorf("SessionsFor(%q)[%d] = %q, want %q", userID, i, got[i], expected[i])
		}
	}
}

func TestAddAndGet(t *testing.T) {
	r := New()
	r.Add("s1", "u1", "d1")

	sess, ok := r.Get("s1")
	if !ok {
		t.Fatal("Get(s1) not found after Add")
	}
	if sess.UserID != "u1" || sess.DeviceID != "d1" {
		t.Errorf("session = %+v, want user u1 device d1", sess)
	}
	if sess.ConnectedAt.IsZero() {
		t.Error("ConnectedAt not set")
	}
}

func TestDuplicateSessionIDPanics(t *testing.T) {
	r := New()
	r.Add("s1", "u1", "")

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate session id")
		}
	}()
	r.Add("s1", "u2", "")
}

func TestRemoveLastSessionDeletesUserEntry(t *testing.T) {
	r := New()
	r.Add("s1", "u1", "d1")
	r.Add("s2", "u1", "d2")

	r.Remove("s1")
	if !r.IsUserConnected("u1") {
		t.Error("u1 should still be connected after removing one of two sessions")
	}
	assertSessions(t, r, "u1", "s2")

	r.Remove("s2")
	if r.IsUserConnected("u1") {
		t.Error("u1 should not be connected after last session removed")
	}
	if got := r.SessionsFor("u1"); got != nil {
		t.Errorf("SessionsFor after last removal = %v, want nil", got)
	}
	if r.UserCount() != 0 {
		t.Errorf("UserCount = %d, want 0", r.UserCount())
	}
}

func TestRemoveUnknownIsNoop(t *testing.T) {
	r := New()
	r.Add("s1", "u1", "")
	r.Remove("nope")
	r.Remove("nope") // disconnects can race with forced removal
	assertSessions(t, r, "u1", "s1")
}

func TestSnapshotIsImmuneToMutation(t *testing.T) {
	r := New()
	r.Add("s1", "u1", "")
	r.Add("s2", "u1", "")

	snap := r.SessionsFor("u1")
	r.Remove("s1")
	r.Remove("s2")

	if len(snap) != 2 {
		t.Errorf("snapshot mutated by concurrent removal: %v", snap)
	}
}

func TestDeviceSession(t *testing.T) {
	r := New()
	r.Add("s1", "u1", "d1")
	r.Add("s2", "u1", "") // no device id

	if id, ok := r.DeviceSession("u1", "d1"); !ok || id != "s1" {
		t.Errorf("DeviceSession(u1, d1) = %q, %v; want s1, true", id, ok)
	}
	if _, ok := r.DeviceSession("u1", "d9"); ok {
		t.Error("DeviceSession(u1, d9) should not be found")
	}
	if _, ok := r.DeviceSession("u2", "d1"); ok {
		t.Error("DeviceSession for unknown user should not be found")
	}
}

func TestConcurrentAddRemove(t *testing.T) {
	const adds = 200
	const removes = 120

	r := New()
	var wg sync.WaitGroup
	for i := 0; i < adds; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			r.Add(fmt.Sprintf("s%d", n), "u1", fmt.Sprintf("d%d", n))
		}(i)
	}
	wg.Wait()

	for i := 0; i < removes; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			r.Remove(fmt.Sprintf("s%d", n))
		}(i)
	}
	wg.Wait()

	got := r.SessionsFor("u1")
	if len(got) != adds-removes {
		t.Fatalf("after %d adds and %d removes: %d sessions, want %d", adds, removes, len(got), adds-removes)
	}
	seen := make(map[string]bool, len(got))
	for _, id := range got {
		if seen[id] {
			t.Errorf("duplicate session id in snapshot: %s", id)
		}
		seen[id] = true
		if _, ok := r.Get(id); !ok {
			t.Errorf("snapshot contains unregistered session %s", id)
		}
	}
	if r.Len() != adds-removes {
		t.Errorf("Len = %d, want %d", r.Len(), adds-removes)
	}
}
