package content

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/keithlinneman/linnemanlabs-menu/internal/contentpath"
)

// NewManager / Get initial state

func TestManager_InitialState(t *testing.T) {
	m := NewManager()

	snap, ok := m.Get()
	if ok {
		t.Fatal("expected Get to return false on new manager")
	}
	if snap != nil {
		t.Fatal("expected nil snapshot on new manager")
	}
	if err := m.ReadyErr(); !errors.Is(err, ErrNoSnapshot) {
		t.Fatalf("ReadyErr = %v, want ErrNoSnapshot", err)
	}
	if m.Source() != SourceUnknown {
		t.Fatalf("Source = %q, want unknown", m.Source())
	}
	if !m.LoadedAt().IsZero() {
		t.Fatal("LoadedAt should be zero")
	}
	if m.ContentVersion() != "" || m.ContentHash() != "" {
		t.Fatal("version and hash should be empty")
	}
}

// Set / Get

func TestManager_SetAndGet(t *testing.T) {
	m := NewManager()
	m.Set(Snapshot{
		Tree: mustTree(t, itemAt("/site"), itemAt("/site/a")),
		Site: contentpath.MustParse("/site"),
		Meta: Meta{
			Hash:          "abc123",
			HashAlgorithm: "sha256",
			Source:        SourceS3,
			Version:       "1.0.0",
		},
	})

	snap, ok := m.Get()
	if !ok || snap == nil {
		t.Fatal("expected Get to return snapshot after Set")
	}
	if m.ContentHash() != "abc123" {
		t.Fatalf("ContentHash = %q, want abc123", m.ContentHash())
	}
	if m.ContentVersion() != "1.0.0" {
		t.Fatalf("ContentVersion = %q, want 1.0.0", m.ContentVersion())
	}
	if m.Source() != SourceS3 {
		t.Fatalf("Source = %q, want s3", m.Source())
	}
	if snap.Site.String() != "/site" {
		t.Fatalf("Site = %s, want /site", snap.Site)
	}
	if m.LoadedAt().IsZero() {
		t.Fatal("LoadedAt should default to now")
	}
	if err := m.ReadyErr(); err != nil {
		t.Fatalf("ReadyErr = %v", err)
	}
}

func TestManager_Get_RequiresTree(t *testing.T) {
	m := NewManager()
	m.Set(Snapshot{Meta: Meta{Hash: "abc123"}})

	if _, ok := m.Get(); ok {
		t.Fatal("expected Get to return false when Tree is nil")
	}
	if err := m.ReadyErr(); err == nil {
		t.Fatal("expected ReadyErr when Tree is nil")
	}
}

func TestManager_Set_PreservesLoadedAt(t *testing.T) {
	m := NewManager()
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m.Set(Snapshot{Tree: mustTree(t), LoadedAt: at})
	if !m.LoadedAt().Equal(at) {
		t.Fatalf("LoadedAt = %v, want %v", m.LoadedAt(), at)
	}
}

func TestManager_Set_CopiesSnapshot(t *testing.T) {
	m := NewManager()
	original := Snapshot{Tree: mustTree(t, itemAt("/a")), Meta: Meta{Version: "v1"}}
	m.Set(original)

	original.Meta.Version = "mutated"
	if m.ContentVersion() != "v1" {
		t.Fatalf("ContentVersion = %q, manager should hold its own copy", m.ContentVersion())
	}
}

func TestManager_ConcurrentAccess(t *testing.T) {
	m := NewManager()
	tree := mustTree(t, itemAt("/a"))
	var wg sync.WaitGroup

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.Set(Snapshot{Tree: tree, Meta: Meta{Version: "v"}})
			}
		}()
	}
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if snap, ok := m.Get(); ok {
					_ = snap.Tree.Has(contentpath.MustParse("/a"))
				}
				_ = m.ContentVersion()
				_ = m.ReadyErr()
			}
		}()
	}
	wg.Wait()
}
