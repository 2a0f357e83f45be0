package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/leapstack-labs/leapcohort/pkg/core"
)

// Memory is an in-process event store. It is used for tests and for
// evaluating synthetic patients without a database.
type Memory struct {
	mu       sync.RWMutex
	ids      []string
	patients map[string]*core.Patient
}

// NewMemory returns a store holding patients, in the given order.
func NewMemory(patients ...*core.Patient) *Memory {
	m := &Memory{patients: make(map[string]*core.Patient)}
	_ = m.SavePatients(context.Background(), patients)
	return m
}

// PatientIDs returns ids in insertion order.
func (m *Memory) PatientIDs(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.ids))
	copy(out, m.ids)
	return out, nil
}

// Patient returns the stored record. The record is shared; callers must
// not modify it.
func (m *Memory) Patient(_ context.Context, id string) (*core.Patient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.patients[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPatientNotFound, id)
	}
	return p, nil
}

// SavePatients adds or replaces patients. Events are sorted by date.
func (m *Memory) SavePatients(_ context.Context, patients []*core.Patient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range patients {
		if p == nil {
			continue
		}
		core.SortEvents(p.Events)
		if _, exists := m.patients[p.ID]; !exists {
			m.ids = append(m.ids, p.ID)
		}
		m.patients[p.ID] = p
	}
	return nil
}

// Len returns the number of stored patients.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.ids)
}

var (
	_ core.EventStore    = (*Memory)(nil)
	_ core.PatientWriter = (*Memory)(nil)
)
