package cas

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/jcdickinson/implindex/internal/config"
	"github.com/klauspost/compress/zstd"
)

// Dir returns the CAS directory path.
func Dir() string {
	return config.CASDir()
}

func hashOf(data []byte) string {
	return fmt.Sprintf("%x", sha256.Sum256(data))
}

// path returns the sharded file path for a hash: cas/<first2>/<rest>.js.zst
func path(hash string) string {
	return filepath.Join(Dir(), hash[:2], hash[2:]+".js.zst")
}

// refPath maps a source location to its ref file: cas/refs/<sha256(name)>
func refPath(name string) string {
	return filepath.Join(Dir(), "refs", hashOf([]byte(name)))
}

// Write stores a shard body in the CAS, returning its SHA-256 hash.
// If the content already exists, this is a no-op.
func Write(content []byte) (string, error) {
	hash := hashOf(content)

	p := path(hash)
	if _, err := os.Stat(p); err == nil {
		return hash, nil
	}

	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return "", fmt.Errorf("creating CAS directory: %w", err)
	}

	var buf bytes.Buffer
	w, err := zstd.NewWriter(&buf)
	if err != nil {
		return "", fmt.Errorf("creating zstd writer: %w", err)
	}
	if _, err := w.Write(content); err != nil {
		w.Close()
		return "", fmt.Errorf("compressing CAS content: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("closing zstd writer: %w", err)
	}

	// Write through a temp file so a concurrent reader never sees a partial blob.
	tmp, err := os.CreateTemp(filepath.Dir(p), ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("writing CAS file: %w", err)
	}
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("writing CAS file: %w", err)
	}
	tmp.Close()
	if err := os.Rename(tmp.Name(), p); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("writing CAS file: %w", err)
	}

	return hash, nil
}

// Read retrieves content from the CAS by hash.
func Read(hash string) ([]byte, error) {
	if len(hash) < 3 {
		return nil, fmt.Errorf("invalid CAS hash %q", hash)
	}
	f, err := os.Open(path(hash))
	if err != nil {
		return nil, fmt.Errorf("reading CAS file %s: %w", hash, err)
	}
	defer f.Close()

	r, err := zstd.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("creating zstd reader: %w", err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("decompressing CAS file %s: %w", hash, err)
	}
	return data, nil
}

// SetRef points a named location (a shard URL or object key) at a hash.
func SetRef(name, hash string) error {
	p := refPath(name)
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return fmt.Errorf("creating CAS refs directory: %w", err)
	}
	if err := os.WriteFile(p, []byte(hash+"\n"), 0644); err != nil {
		return fmt.Errorf("writing CAS ref: %w", err)
	}
	return nil
}

// Lookup returns the cached body for a named location, if any.
func Lookup(name string) ([]byte, bool) {
	ref, err := os.ReadFile(refPath(name))
	if err != nil {
		return nil, false
	}
	data, err := Read(strings.TrimSpace(string(ref)))
	if err != nil {
		return nil, false
	}
	return data, true
}

// Store writes a body and points name at it.
func Store(name string, content []byte) (string, error) {
	hash, err := Write(content)
	if err != nil {
		return "", err
	}
	if err := SetRef(name, hash); err != nil {
		return "", err
	}
	return hash, nil
}

// Clear removes every cached body and ref.
func Clear() error {
	if err := os.RemoveAll(Dir()); err != nil {
		return fmt.Errorf("clearing CAS: %w", err)
	}
	return nil
}
