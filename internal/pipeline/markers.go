package pipeline

import "sync"

// MarkerSet holds labels of emitted chunks the far end has not acknowledged yet,
// in emission order.
type MarkerSet struct {
	mu     sync.Mutex
	labels []string
}

// NewMarkerSet returns an empty set.
func NewMarkerSet() *MarkerSet {
	return &MarkerSet{}
}

// Add records label. It returns false if the label is already present.
func (m *MarkerSet) Add(label string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.labels {
		if l == label {
			return false
		}
	}
	m.labels = append(m.labels, label)
	return true
}

// Remove deletes label and reports whether it was present.
func (m *MarkerSet) Remove(label string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, l := range m.labels {
		if l == label {
			m.labels = append(m.labels[:i], m.labels[i+1:]...)
			return true
		}
	}
	return false
}

// Len returns the number of unacknowledged markers.
func (m *MarkerSet) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.labels)
}

// Clear empties the set and returns how many labels it held.
func (m *MarkerSet) Clear() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.labels)
	m.labels = nil
	return n
}

// Labels returns a copy of the pending labels.
func (m *MarkerSet) Labels() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.labels...)
}
