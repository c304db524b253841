package cache

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDisk_PutGet(t *testing.T) {
	d, err := NewDisk(t.TempDir(), 1<<20, 3)
	if err != nil {
		t.Fatalf("NewDisk failed: %v", err)
	}

	small := []byte("short")
	large := bytes.Repeat([]byte("compressible "), 1000)

	if err := d.Put("small", small); err != nil {
		t.Fatal(err)
	}
	if err := d.Put("large", large); err != nil {
		t.Fatal(err)
	}

	for key, want := range map[string][]byte{"small": small, "large": large} {
		got, ok := d.Get(key)
		if !ok {
			t.Fatalf("%s: miss", key)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("%s: data mismatch", key)
		}
	}

	if s := d.Stats(); s.Size >= int64(len(small)+len(large)) {
		t.Errorf("expected compression to shrink stored size, got %d", s.Size)
	}
}

func TestDisk_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	d, err := NewDisk(dir, 1<<20, 3)
	if err != nil {
		t.Fatal(err)
	}
	_ = d.Put("k", []byte("persisted"))
	if err := d.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	d, err = NewDisk(dir, 1<<20, 3)
	if err != nil {
		t.Fatal(err)
	}
	got, ok := d.Get("k")
	if !ok || string(got) != "persisted" {
		t.Errorf("entry lost after reopen: %q %v", got, ok)
	}
}

func TestDisk_MissingFileIsMiss(t *testing.T) {
	dir := t.TempDir()
	d, err := NewDisk(dir, 1<<20, 0)
	if err != nil {
		t.Fatal(err)
	}
	_ = d.Put("k", []byte("v"))

	if err := os.Remove(filepath.Join(dir, "k"+fileExt)); err != nil {
		t.Fatal(err)
	}
	if _, ok := d.Get("k"); ok {
		t.Error("expected miss for deleted file")
	}
	if d.Contains("k") {
		t.Error("entry should be dropped from the index")
	}
}

func TestDisk_EvictsOldest(t *testing.T) {
	d, err := NewDisk(t.TempDir(), 20, 0)
	if err != nil {
		t.Fatal(err)
	}
	_ = d.Put("a", make([]byte, 10))
	time.Sleep(2 * time.Millisecond)
	_ = d.Put("b", make([]byte, 10))
	time.Sleep(2 * time.Millisecond)
	d.Get("a")
	_ = d.Put("c", make([]byte, 10))

	if d.Contains("b") {
		t.Error("b should have been evicted")
	}
	if !d.Contains("a") || !d.Contains("c") {
		t.Error("a and c should remain")
	}
	if err := d.Put("huge", make([]byte, 21)); err != ErrItemTooLarge {
		t.Errorf("expected ErrItemTooLarge, got %v", err)
	}
}

func TestDisk_RemoveOlderThanAndClear(t *testing.T) {
	dir := t.TempDir()
	d, err := NewDisk(dir, 1<<20, 0)
	if err != nil {
		t.Fatal(err)
	}
	_ = d.Put("old", []byte("1"))
	cutoff := time.Now().Add(time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	_ = d.Put("new", []byte("2"))

	if n := d.RemoveOlderThan(cutoff); n != 1 {
		t.Errorf("expected 1 removal, got %d", n)
	}
	if d.Contains("old") || !d.Contains("new") {
		t.Error("wrong entry removed")
	}

	if err := d.Clear(); err != nil {
		t.Fatal(err)
	}
	if s := d.Stats(); s.Items != 0 || s.Size != 0 {
		t.Errorf("not empty after Clear: %+v", s)
	}
	if _, err := os.Stat(filepath.Join(dir, "new"+fileExt)); !os.IsNotExist(err) {
		t.Error("cache file survived Clear")
	}
}
