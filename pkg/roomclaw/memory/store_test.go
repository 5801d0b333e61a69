package memory

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "memory.db")
	s, err := Open(path, NewHashEmbedder(64), testLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestArchiveAppendAndRead(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, text := range []string{"<event a/>", "<event b/>", "<event c/>"} {
		if err := s.AppendArchive(ctx, "agent1", "room1", text); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	_ = s.AppendArchive(ctx, "agent2", "room9", "<event other/>")

	entries, err := s.Archive(ctx, "agent1", 10)
	if err != nil {
		t.Fatalf("read archive: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("entries = %d, want 3 (agent-scoped)", len(entries))
	}
	if entries[0].Text != "<event a/>" || entries[2].Text != "<event c/>" {
		t.Errorf("entries out of order: %v", entries)
	}
}

func TestIndexAndSearch(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	items := map[string]string{
		"e1": "deploy pipeline failed on staging cluster",
		"e2": "lunch plans for friday with the team",
		"e3": "staging cluster deploy rollback completed",
		"e4": "weather is nice today",
	}
	for id, text := range items {
		if err := s.IndexItem(ctx, id, text); err != nil {
			t.Fatalf("index %s: %v", id, err)
		}
	}

	t.Run("relevant items rank first", func(t *testing.T) {
		results, err := s.Search(ctx, "staging deploy failure", 2, nil)
		if err != nil {
			t.Fatalf("search: %v", err)
		}
		if len(results) == 0 {
			t.Fatal("no results")
		}
		for _, r := range results {
			if r.ItemID == "e2" || r.ItemID == "e4" {
				t.Errorf("irrelevant item %s in top results", r.ItemID)
			}
		}
	})

	t.Run("exclusion filter removes candidates", func(t *testing.T) {
		results, err := s.Search(ctx, "staging cluster deploy", 5, func(id string) bool {
			return id == "e1" || id == "e3"
		})
		if err != nil {
			t.Fatalf("search: %v", err)
		}
		for _, r := range results {
			if r.ItemID == "e1" || r.ItemID == "e3" {
				t.Errorf("excluded item %s returned", r.ItemID)
			}
		}
	})

	t.Run("k bounds the result count", func(t *testing.T) {
		results, err := s.Search(ctx, "staging deploy cluster rollback", 1, nil)
		if err != nil {
			t.Fatalf("search: %v", err)
		}
		if len(results) > 1 {
			t.Errorf("got %d results, want at most 1", len(results))
		}
	})
}

func TestIndexItemReplace(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.IndexItem(ctx, "e1", "original text"); err != nil {
		t.Fatal(err)
	}
	if err := s.IndexItem(ctx, "e1", "replacement text"); err != nil {
		t.Fatal(err)
	}
	if n := s.ItemCount(); n != 1 {
		t.Errorf("item count = %d, want 1 after replace", n)
	}
}

func TestVectorCacheSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory.db")
	ctx := context.Background()

	s, err := Open(path, NewHashEmbedder(64), testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if err := s.IndexItem(ctx, "e1", "persistent vector entry"); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s2, err := Open(path, NewHashEmbedder(64), testLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()
	results, err := s2.Search(ctx, "persistent vector entry", 3, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) == 0 || results[0].ItemID != "e1" {
		t.Errorf("reopened store lost the index: %v", results)
	}
}

func TestSanitizeFTS5Query(t *testing.T) {
	got := sanitizeFTS5Query(`drop "table" (now): -x`)
	want := `"drop" OR "table" OR "now" OR "x"`
	if got != want {
		t.Errorf("sanitized = %q, want %q", got, want)
	}
	if sanitizeFTS5Query(`"*():-^`) != "" {
		t.Error("operator-only query should sanitize to empty")
	}
}
