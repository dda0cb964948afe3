package api

import (
	"slices"
	"sync"
)

// GenerationStore keeps finished generations in memory so they can be
// fetched again by ID.
type GenerationStore struct {
	mu          sync.Mutex
	generations map[string]Generation
}

func NewGenerationStore() *GenerationStore {
	return &GenerationStore{
		generations: make(map[string]Generation),
	}
}

// Save records gen under its ID, replacing any earlier record.
func (s *GenerationStore) Save(gen Generation) {
	gen.Prompt = slices.Clone(gen.Prompt)
	gen.Tokens = slices.Clone(gen.Tokens)

	s.mu.Lock()
	s.generations[gen.ID] = gen
	s.mu.Unlock()
}

func (s *GenerationStore) Get(id string) (Generation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	gen, ok := s.generations[id]
	return gen, ok
}

func (s *GenerationStore) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.generations[id]; !ok {
		return false
	}
	delete(s.generations, id)
	return true
}

func (s *GenerationStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.generations)
}
