// Package filestore keeps the original bytes of uploaded documents so they
// can be parsed again by a reindex run.
package filestore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/xxxsen/mrag/internal/config"
	appErr "github.com/xxxsen/mrag/internal/pkg/errors"
)

// Store keeps original uploads by key. Keys are flat file names of the form
// <document id><extension>. Delete of a missing key is not an error.
type Store interface {
	Type() string
	Save(ctx context.Context, key string, r io.ReadSeeker, size int64) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

type Factory func(args interface{}) (Store, error)

var backends = struct {
	sync.RWMutex
	m map[string]Factory
}{m: map[string]Factory{}}

func Register(name string, factory Factory) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" || factory == nil {
		return
	}
	backends.Lock()
	defer backends.Unlock()
	backends.m[name] = factory
}

// Types lists the registered backend names.
func Types() []string {
	backends.RLock()
	defer backends.RUnlock()
	names := make([]string, 0, len(backends.m))
	for name := range backends.m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func New(cfg config.FileStoreConfig) (Store, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.Type))
	backends.RLock()
	factory, ok := backends.m[name]
	backends.RUnlock()
	if !ok {
		return nil, fmt.Errorf("file store %q not one of %s", cfg.Type, strings.Join(Types(), ", "))
	}
	return factory(cfg.Data)
}

func validateKey(key string) error {
	switch {
	case key == "", key == ".", key == "..":
	case strings.ContainsAny(key, `/\`):
	default:
		return nil
	}
	return fmt.Errorf("%w: file key %q", appErr.ErrInvalid, key)
}

func decodeConfig(args interface{}, dst interface{}) error {
	if args == nil {
		return fmt.Errorf("file store data section is required")
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode file store data: %w", err)
	}
	return nil
}
