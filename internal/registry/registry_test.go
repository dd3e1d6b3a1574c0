package registry

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"
)

func TestPutAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aliases.json")

	s1, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s1.Put("alice", "MyLogs", "/mnt/share/alice/logs"); err != nil {
		t.Fatal(err)
	}
	if err := s1.Put("bob", "Prod", "/mnt/share/bob/prod"); err != nil {
		t.Fatal(err)
	}

	// A fresh store reads the flushed snapshot.
	s2, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}

	users := s2.Users()
	if len(users) != 2 || users[0] != "alice" || users[1] != "bob" {
		t.Errorf("unexpected users: %v", users)
	}

	d, ok := s2.Alias("alice", "MyLogs")
	if !ok {
		t.Fatal("expected alias to survive reload")
	}
	if d.BasePath != "/mnt/share/alice/logs" {
		t.Errorf("unexpected base path %q", d.BasePath)
	}
}

func TestRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aliases.json")
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Put("alice", "MyLogs", "/tmp/a"); err != nil {
		t.Fatal(err)
	}

	if err := s.Remove("alice", "MyLogs"); err != nil {
		t.Fatal(err)
	}
	if _, ok := s.Alias("alice", "MyLogs"); ok {
		t.Error("expected alias removed")
	}
	if len(s.Users()) != 0 {
		t.Error("expected user removed with its last alias")
	}

	if err := s.Remove("alice", "MyLogs"); !errors.Is(err, ErrAliasNotFound) {
		t.Errorf("expected ErrAliasNotFound, got %v", err)
	}
}

func TestTouchTracksAccess(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aliases.json")
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Put("alice", "MyLogs", "/tmp/a"); err != nil {
		t.Fatal(err)
	}

	if err := s.Touch("alice", "MyLogs"); err != nil {
		t.Fatal(err)
	}
	if err := s.Touch("alice", "MyLogs"); err != nil {
		t.Fatal(err)
	}

	d, _ := s.Alias("alice", "MyLogs")
	if d.AccessCount != 2 {
		t.Errorf("expected access count 2, got %d", d.AccessCount)
	}
	if d.LastAccessedAt.IsZero() {
		t.Error("expected last accessed timestamp")
	}
}

func TestPutPreservesAccessStats(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aliases.json")
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	_ = s.Put("alice", "MyLogs", "/tmp/a")
	_ = s.Touch("alice", "MyLogs")

	// Re-pointing the alias keeps its usage history.
	if err := s.Put("alice", "MyLogs", "/tmp/b"); err != nil {
		t.Fatal(err)
	}
	d, _ := s.Alias("alice", "MyLogs")
	if d.BasePath != "/tmp/b" || d.AccessCount != 1 {
		t.Errorf("expected moved path with kept stats, got %+v", d)
	}
}

func TestConcurrentMutation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aliases.json")
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			name := string(rune('a' + n))
			_ = s.Put("alice", name, "/tmp/"+name)
		}(i)
	}
	wg.Wait()

	if got := len(s.AliasesForUser("alice")); got != 8 {
		t.Errorf("expected 8 aliases after concurrent puts, got %d", got)
	}

	// The snapshot on disk holds all of them too.
	s2, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := len(s2.AliasesForUser("alice")); got != 8 {
		t.Errorf("expected 8 aliases in flushed snapshot, got %d", got)
	}
}
