package tracker

import (
	"context"
	"sync"

	"github.com/Rogers-F/turngov/internal/domain"
)

// Memory is an in-process label store used when no remote tracker is
// configured, and in tests. Failures can be injected per method.
type Memory struct {
	mu     sync.Mutex
	labels map[int][]string

	FailLabels error
	FailAdd    error
	FailRemove error
}

// NewMemory returns an empty tracker.
func NewMemory() *Memory {
	return &Memory{labels: make(map[int][]string)}
}

// Labels returns a copy of the issue's labels. Unknown issues fail with
// ErrTrackerUnavailable.
func (m *Memory) Labels(_ context.Context, ref IssueRef) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailLabels != nil {
		return nil, m.FailLabels
	}
	labels, ok := m.labels[ref.Number]
	if !ok {
		return nil, domain.NewEngineError(domain.ErrTrackerUnavailable.Code, "issue "+ref.String()+" not found")
	}
	return append([]string(nil), labels...), nil
}

// AddLabels adds labels that the issue does not already carry.
func (m *Memory) AddLabels(_ context.Context, ref IssueRef, labels ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailAdd != nil {
		return m.FailAdd
	}
	current := m.labels[ref.Number]
	for _, l := range labels {
		if !contains(current, l) {
			current = append(current, l)
		}
	}
	m.labels[ref.Number] = current
	return nil
}

// RemoveLabel removes label from the issue. Removing an absent label is
// not an error.
func (m *Memory) RemoveLabel(_ context.Context, ref IssueRef, label string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailRemove != nil {
		return m.FailRemove
	}
	current := m.labels[ref.Number]
	out := current[:0]
	for _, l := range current {
		if l != label {
			out = append(out, l)
		}
	}
	m.labels[ref.Number] = out
	return nil
}

// Seed registers an issue with the given labels.
func (m *Memory) Seed(number int, labels ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.labels[number] = append([]string{}, labels...)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
