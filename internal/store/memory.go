package store

import (
	"context"
	"sync"

	"github.com/ldi/fieldops/pkg/models"
)

// MemoryStore keeps the task collection in process memory. It is the
// default backend for a single field session.
type MemoryStore struct {
	mu    sync.RWMutex
	tasks []*models.FieldTask
	index map[string]int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		index: make(map[string]int),
	}
}

func (s *MemoryStore) InsertTasks(_ context.Context, tasks []*models.FieldTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range tasks {
		if t == nil {
			continue
		}
		c := t.Clone()
		if i, ok := s.index[c.ID]; ok {
			s.tasks[i] = c
			continue
		}
		s.index[c.ID] = len(s.tasks)
		s.tasks = append(s.tasks, c)
	}
	return nil
}

func (s *MemoryStore) ListTasks(_ context.Context, filter TaskFilter) ([]*models.FieldTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.FieldTask, 0, len(s.tasks))
	for _, t := range s.tasks {
		if filter.Match(t) {
			out = append(out, t.Clone())
		}
	}
	return out, nil
}

func (s *MemoryStore) GetTask(_ context.Context, id string) (*models.FieldTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.index[id]
	if !ok {
		return nil, nil
	}
	return s.tasks[i].Clone(), nil
}

func (s *MemoryStore) UpdateTask(_ context.Context, id string, fn UpdateFunc) (*models.FieldTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.index[id]
	if !ok {
		return nil, nil
	}

	// Work on a copy so a failing fn leaves the stored record intact.
	next := s.tasks[i].Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.ID = id
	s.tasks[i] = next
	return next.Clone(), nil
}

func (s *MemoryStore) CountTasks(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tasks), nil
}
