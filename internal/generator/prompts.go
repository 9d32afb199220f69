package generator

import "sync"

// Prompts is the persona of a call: the system prompt and the greeting spoken as Turn 0.
type Prompts struct {
	System   string
	Greeting string
}

// PromptStore holds the prompts applied to new calls. POST /make-call replaces them.
type PromptStore struct {
	mu      sync.RWMutex
	prompts Prompts
}

// NewPromptStore returns a store seeded with p.
func NewPromptStore(p Prompts) *PromptStore {
	return &PromptStore{prompts: p}
}

// Get returns the current prompts.
func (s *PromptStore) Get() Prompts {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.prompts
}

// Set replaces the prompts used by calls that start afterwards.
func (s *PromptStore) Set(p Prompts) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = p
}
