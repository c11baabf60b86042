package main

import (
	"path/filepath"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"storemy/pkg/concurrency/lock"
	"storemy/pkg/log/wal"
	"storemy/pkg/primitives"
	"storemy/pkg/recovery"
)

// fixtureWAL builds a tiny WAL with one committed and one in-flight
// transaction, enough for Analyze to populate both tables.
func fixtureWAL(t *testing.T) *wal.WAL {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fixture.wal")
	w, err := wal.Open(path)
	if err != nil {
		t.Fatalf("open fixture WAL: %v", err)
	}
	t.Cleanup(func() { w.Close() })

	mgr := recovery.NewManager(w, recovery.DefaultConfig())
	mgr.StartTransaction(1)
	if _, err := mgr.LogPageWrite(1, primitives.NewPageID(1, 1), 0, []byte{'a'}, []byte{'b'}); err != nil {
		t.Fatalf("log page write: %v", err)
	}
	if _, err := mgr.Commit(1); err != nil {
		t.Fatalf("commit: %v", err)
	}

	mgr.StartTransaction(2)
	if _, err := mgr.LogPageWrite(2, primitives.NewPageID(1, 2), 0, []byte{'c'}, []byte{'d'}); err != nil {
		t.Fatalf("log page write: %v", err)
	}
	return w
}

func TestModelRendersWithoutPanicking(t *testing.T) {
	w := fixtureWAL(t)

	mgr := recovery.NewManager(w, recovery.DefaultConfig())
	if err := mgr.Analyze(); err != nil {
		t.Fatalf("analyze: %v", err)
	}
	root := lock.NewRoot(lock.NewManager())
	root.ChildContext("t1")

	m := newModel(mgr, root)

	updated, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 40})
	m = updated.(model)

	for i := pane(0); i < paneCount; i++ {
		view := m.View()
		if view == "" {
			t.Fatalf("pane %d rendered empty view", i)
		}
		updated, _ = m.Update(tea.KeyMsg{Type: tea.KeyTab})
		m = updated.(model)
	}
}
