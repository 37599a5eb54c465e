package ftbwalk

import (
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestWalkSingleFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a"), []byte("hello\n"), 0644); err != nil {
		t.Fatal(err)
	}

	w := NewWalker()
	var names []string
	err := w.Walk(dir, func(it Item) error {
		if it.Header.IsEnd() {
			names = append(names, "<end>")
			return nil
		}
		names = append(names, it.Header.Name)
		if it.Body != nil {
			io.Copy(io.Discard, it.Body)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	if len(names) != 3 || names[0] != "" || names[1] != "a" || names[2] != "<end>" {
		t.Fatalf("Walk emitted %v, want [\"\" a <end>]", names)
	}
}

func TestWalkSkipDir(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	if err := os.Mkdir(sub, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(sub, "x"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(sub, skipDirFile), nil, 0644); err != nil {
		t.Fatal(err)
	}

	w := NewWalker()
	var names []string
	err := w.Walk(dir, func(it Item) error {
		if !it.Header.IsEnd() {
			names = append(names, it.Header.Name)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	for _, n := range names {
		if n == "sub/x" {
			t.Fatalf("Walk descended into a ~SKIPDIR.FTB directory: %v", names)
		}
	}
}

func TestWalkHardlink(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "a")
	if err := os.WriteFile(target, []byte("linked"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Link(target, filepath.Join(dir, "b")); err != nil {
		t.Skipf("hardlinks unsupported in this environment: %v", err)
	}

	w := NewWalker()
	var hdlink bool
	err := w.Walk(dir, func(it Item) error {
		if it.Header.Name == "b" && it.Header.Flags&1 != 0 {
			hdlink = true
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	if !hdlink {
		t.Fatal("second hardlinked file was not emitted as HDLINK")
	}
}
