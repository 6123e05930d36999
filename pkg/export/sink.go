package export

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Sink is the narrow put/get seam export/import go through to reach
// wherever a trace actually lives. The real backends (S3, GCS, Azure blob,
// local disk) are out of scope; this package only defines the interface
// and ships the in-memory implementation the export HTTP endpoint's
// "local"/"memory" scheme uses.
type Sink interface {
	Put(ctx context.Context, path string, data []byte) error
	Get(ctx context.Context, path string) ([]byte, error)
}

// ErrNotFound is returned by Get when path has never been Put.
var ErrNotFound = fmt.Errorf("export: object not found")

// MemorySink is a Sink backed by a process-local map, sufficient for tests
// and for the tracer's "memory"/"local" export scheme.
type MemorySink struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewMemorySink returns an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{objects: map[string][]byte{}}
}

func (s *MemorySink) Put(_ context.Context, path string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	s.objects[path] = cp
	return nil
}

func (s *MemorySink) Get(_ context.Context, path string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[path]
	if !ok {
		return nil, ErrNotFound
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

// ErrUnknownScheme is returned by ParseScheme when path's scheme doesn't
// match one of the recognized object-store URL schemes (spec.md §6).
var ErrUnknownScheme = fmt.Errorf("export: unknown object-store scheme")

// IsLocalScheme reports whether scheme is one the tracer itself can satisfy
// by returning bytes directly (as opposed to a remote object-store scheme
// the tracer writes to itself, returning an empty body). An empty scheme
// (no export_path given at all) is treated as local.
func IsLocalScheme(scheme string) bool {
	switch scheme {
	case "", "file", "memory":
		return true
	default:
		return false
	}
}

// ParseScheme extracts the scheme from an object-store path of the form
// "scheme://..." or "scheme:/..." (memory's single-slash form, matching
// spec.md §6's "memory:/"). A path with no "://" or ":/" is treated as
// having no scheme (the bare-path/local case). Recognized schemes are
// file, memory, s3, gs, az; anything else is ErrUnknownScheme.
func ParseScheme(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	idx := strings.Index(path, ":/")
	if idx < 0 {
		return "", nil
	}
	scheme := path[:idx]
	switch scheme {
	case "file", "memory", "s3", "gs", "az":
		return scheme, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownScheme, scheme)
	}
}
