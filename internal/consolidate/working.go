package consolidate

import "sync"

// WorkingMemory is the ephemeral per-session scratchpad: keyed storage with
// no persistence guarantee beyond the running session.
type WorkingMemory struct {
	mu   sync.RWMutex
	data map[string]any
}

// NewWorkingMemory creates an empty scratchpad.
func NewWorkingMemory() *WorkingMemory {
	return &WorkingMemory{data: make(map[string]any)}
}

// Save stores a value under key, replacing any previous value.
func (w *WorkingMemory) Save(key string, value any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.data[key] = value
}

// Get returns the value for key and whether it exists.
func (w *WorkingMemory) Get(key string) (any, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	v, ok := w.data[key]
	return v, ok
}

// Clear discards all working memory. Called at session end.
func (w *WorkingMemory) Clear() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.data = make(map[string]any)
}

// Len returns the number of stored keys.
func (w *WorkingMemory) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.data)
}
