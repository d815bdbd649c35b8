package cas

import (
	"errors"
	"io/fs"
	"testing"
)

func TestWriteRead_RoundTrip(t *testing.T) {
	t.Setenv("XDG_CACHE_HOME", t.TempDir())

	content := []byte(`(function(){var implementors = JSON.parse('{"serde":[]}');})()`)
	hash, err := Write(content)
	if err != nil {
		t.Fatal(err)
	}
	if hash == "" {
		t.Fatal("expected non-empty hash")
	}

	got, err := Read(hash)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(content) {
		t.Errorf("round-trip failed: got %q, want %q", got, content)
	}
}

func TestWrite_Dedup(t *testing.T) {
	t.Setenv("XDG_CACHE_HOME", t.TempDir())

	content := []byte("duplicate content")
	hash1, err := Write(content)
	if err != nil {
		t.Fatal(err)
	}
	hash2, err := Write(content)
	if err != nil {
		t.Fatal(err)
	}
	if hash1 != hash2 {
		t.Errorf("same content produced different hashes: %s vs %s", hash1, hash2)
	}
}

func TestWrite_DifferentContent(t *testing.T) {
	t.Setenv("XDG_CACHE_HOME", t.TempDir())

	hash1, err := Write([]byte("content A"))
	if err != nil {
		t.Fatal(err)
	}
	hash2, err := Write([]byte("content B"))
	if err != nil {
		t.Fatal(err)
	}
	if hash1 == hash2 {
		t.Error("different content should produce different hashes")
	}
}

func TestRead_MissingHash(t *testing.T) {
	t.Setenv("XDG_CACHE_HOME", t.TempDir())

	_, err := Read("0000000000000000000000000000000000000000000000000000000000000000")
	if err == nil {
		t.Fatal("expected error for missing hash")
	}
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("expected not-exist error, got %v", err)
	}
}

func TestStoreLookup(t *testing.T) {
	t.Setenv("XDG_CACHE_HOME", t.TempDir())

	name := "https://docs.example/implementors/core/fmt/trait.Debug.js"
	if _, ok := Lookup(name); ok {
		t.Fatal("lookup should miss before store")
	}
	if _, err := Store(name, []byte("v1")); err != nil {
		t.Fatal(err)
	}
	if _, err := Store(name, []byte("v2")); err != nil {
		t.Fatal(err)
	}
	got, ok := Lookup(name)
	if !ok || string(got) != "v2" {
		t.Errorf("lookup = %q, %v; want v2", got, ok)
	}
}

func TestClear(t *testing.T) {
	t.Setenv("XDG_CACHE_HOME", t.TempDir())

	if _, err := Store("a", []byte("body")); err != nil {
		t.Fatal(err)
	}
	if err := Clear(); err != nil {
		t.Fatal(err)
	}
	if _, ok := Lookup("a"); ok {
		t.Error("lookup should miss after clear")
	}
	if err := Clear(); err != nil {
		t.Errorf("clearing an empty cache: %v", err)
	}
}
