package core

import "context"

// EventStore is the read side of the clinical record consumed by the engine.
// Implementations must be safe for concurrent Patient calls.
type EventStore interface {
	// PatientIDs returns every patient id in a stable order.
	PatientIDs(ctx context.Context) ([]string, error)
	// Patient returns the full record for one patient, events sorted by date.
	Patient(ctx context.Context, id string) (*Patient, error)
}

// PatientWriter persists synthetic or imported patient records.
type PatientWriter interface {
	SavePatients(ctx context.Context, patients []*Patient) error
}
