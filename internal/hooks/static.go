package hooks

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/kgforge/kgforge/internal/config"
)

func init() {
	Register("static", func(_ context.Context, _ config.HooksConfig, _ *logrus.Logger) (Hooks, error) {
		return NewStatic(nil), nil
	})
}

// Static serves an in-memory corpus. Chunks appended after a version was
// published are returned by IncrementalData. Mainly for tests and local
// development.
type Static struct {
	mu      sync.Mutex
	chunks  []string
	markers map[string]int // version -> corpus length at publication
}

// NewStatic creates a Static hook seeded with the given chunks.
func NewStatic(chunks []string) *Static {
	return &Static{
		chunks:  append([]string(nil), chunks...),
		markers: make(map[string]int),
	}
}

// Append adds chunks to the corpus.
func (s *Static) Append(chunks ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = append(s.chunks, chunks...)
}

// MarkVersion records the corpus position for a published version so later
// IncrementalData calls can answer "since".
func (s *Static) MarkVersion(version string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markers[version] = len(s.chunks)
}

// FullData returns the whole corpus.
func (s *Static) FullData(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.chunks...), nil
}

// IncrementalData returns chunks appended since the given version. An
// unknown version yields the whole corpus.
func (s *Static) IncrementalData(_ context.Context, sinceVersion string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	from := s.markers[sinceVersion]
	if from > len(s.chunks) {
		from = len(s.chunks)
	}

	return append([]string(nil), s.chunks[from:]...), nil
}
