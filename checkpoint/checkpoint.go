// Package checkpoint stores JSON documents on disk under a key derived from
// the input text and config. The pipeline only clears the checkpoint for its
// input after a successful run; it never saves or loads one.
package checkpoint

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"lukechampine.com/blake3"

	"taxonfinder/config"
)

// FileCheckpoint stores one JSON document per key under a base directory.
type FileCheckpoint struct {
	baseDir string
}

// New creates the checkpoint directory if needed and returns a store rooted
// there.
func New(baseDir string) (*FileCheckpoint, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("checkpoint: create base directory: %w", err)
	}
	return &FileCheckpoint{baseDir: baseDir}, nil
}

// Key derives a stable identifier for (text, cfg): the BLAKE3 hash of the
// text followed by the config serialized as sorted-key canonical JSON, so
// any change to either invalidates the checkpoint.
func Key(text string, cfg *config.Config) (string, error) {
	canonical, err := canonicalJSON(cfg)
	if err != nil {
		return "", fmt.Errorf("checkpoint: canonicalize config: %w", err)
	}
	payload := text + "\n" + canonical

	hasher := blake3.New(32, nil)
	hasher.Write([]byte(payload))
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// Save writes data under key, replacing any previous document atomically via
// a temp-file-then-rename.
func (c *FileCheckpoint) Save(key string, data any) error {
	encoded, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("checkpoint: marshal data: %w", err)
	}

	path := c.pathFor(key)
	tempPath := path + ".tmp"

	if err := os.WriteFile(tempPath, encoded, 0o644); err != nil {
		return fmt.Errorf("checkpoint: write temp file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("checkpoint: rename temp file: %w", err)
	}
	return nil
}

// Load reads the document saved under key into out, returning (false, nil)
// if no checkpoint exists for that key.
func (c *FileCheckpoint) Load(key string, out any) (bool, error) {
	data, err := os.ReadFile(c.pathFor(key))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("checkpoint: read file: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("checkpoint: unmarshal data: %w", err)
	}
	return true, nil
}

// Clear removes the checkpoint for key, if any.
func (c *FileCheckpoint) Clear(key string) error {
	err := os.Remove(c.pathFor(key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("checkpoint: remove file: %w", err)
	}
	return nil
}

func (c *FileCheckpoint) pathFor(key string) string {
	return filepath.Join(c.baseDir, key+".json")
}

// canonicalJSON marshals v to JSON with object keys sorted, matching
// json.Marshal's own behavior for map keys and struct-tag order; since
// encoding/json already serializes struct fields in declaration order and
// map keys in sorted order, a struct-valued config round-tripped through a
// map produces a stable, comparable document across runs.
func canonicalJSON(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return "", err
	}
	sorted, err := json.Marshal(generic)
	if err != nil {
		return "", err
	}
	return string(sorted), nil
}
