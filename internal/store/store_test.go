package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/jing332/tts-server-go/internal/httptts"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), FileName))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSaveAndGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	saved, err := s.Save(ctx, httptts.Engine{
		Name:    "azure",
		URL:     "https://example.com/tts?text={{urlquery .Text}}",
		Headers: map[string]string{"Ocp-Apim-Subscription-Key": "k"},
		Rate:    60,
		Timeout: 1500 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if saved.ID == 0 {
		t.Error("expected id to be assigned")
	}

	got, err := s.Get(ctx, saved.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Name != "azure" || got.Rate != 60 || got.Timeout != 1500*time.Millisecond {
		t.Errorf("unexpected engine %+v", got)
	}
	if got.Headers["Ocp-Apim-Subscription-Key"] != "k" {
		t.Errorf("headers not stored: %v", got.Headers)
	}
}

func TestSaveUpsertsByName(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first, err := s.Save(ctx, httptts.Engine{Name: "a", URL: "http://one"})
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.Save(ctx, httptts.Engine{Name: "a", URL: "http://two"})
	if err != nil {
		t.Fatal(err)
	}
	if first.ID != second.ID {
		t.Errorf("upsert changed id: %d -> %d", first.ID, second.ID)
	}
	if second.URL != "http://two" {
		t.Errorf("upsert did not update url: %s", second.URL)
	}

	all, err := s.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 {
		t.Errorf("expected 1 engine, got %d", len(all))
	}
}

func TestSaveRejectsInvalid(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Save(context.Background(), httptts.Engine{Name: "bad"})
	if !errors.Is(err, httptts.ErrInvalidEngine) {
		t.Errorf("expected ErrInvalidEngine, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.Save(ctx, httptts.Engine{Name: "gone", URL: "http://x"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(ctx, "gone"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := s.Delete(ctx, "gone"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
	if _, err := s.GetByName(ctx, "gone"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListOrder(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"zeta", "Alpha", "beta"} {
		if _, err := s.Save(ctx, httptts.Engine{Name: name, URL: "http://x"}); err != nil {
			t.Fatal(err)
		}
	}
	all, err := s.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"Alpha", "beta", "zeta"}
	for i, e := range all {
		if e.Name != want[i] {
			t.Errorf("position %d: got %s, want %s", i, e.Name, want[i])
		}
	}
}

func TestFind(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"Microsoft Edge", "Azure Neural", "Local Piper"} {
		if _, err := s.Save(ctx, httptts.Engine{Name: name, URL: "http://x"}); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		query string
		want  string
	}{
		{"Azure Neural", "Azure Neural"},
		{"local piper", "Local Piper"},
		{"edge", "Microsoft Edge"},
		{"azn", "Azure Neural"},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			e, err := s.Find(ctx, tt.query)
			if err != nil {
				t.Fatalf("Find failed: %v", err)
			}
			if e.Name != tt.want {
				t.Errorf("Find(%q) = %s, want %s", tt.query, e.Name, tt.want)
			}
		})
	}

	if _, err := s.Find(ctx, "qqq"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestOpenMemory(t *testing.T) {
	s, err := Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if _, err := s.Save(context.Background(), httptts.Engine{Name: "m", URL: "http://x"}); err != nil {
		t.Fatalf("Save on memory store failed: %v", err)
	}
}
