// Package artifact stores datasets and model files by slash-separated key.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
)

var (
	// ErrNotFound is returned when no object exists under a key
	ErrNotFound = errors.New("artifact not found")

	// ErrInvalidKey is returned for empty keys or keys escaping the store root
	ErrInvalidKey = errors.New("invalid artifact key")
)

// Store reads and writes artifacts
type Store interface {
	Put(ctx context.Context, key string, data io.Reader) error
	Get(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
}

// cleanKey normalizes key and rejects anything outside the store root
func cleanKey(key string) (string, error) {
	cleaned := path.Clean(strings.TrimPrefix(key, "/"))
	if key == "" || cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return cleaned, nil
}

// Join builds a key from path elements
func Join(elem ...string) string {
	return strings.TrimPrefix(path.Join(elem...), "/")
}
