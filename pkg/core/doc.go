// Package core defines the shared language of the leapcohort system.
//
// This package contains:
//   - Clinical record entities (Patient, Event, Registration, Address)
//   - Coding systems and typed variable values (Kind, Value)
//   - The error taxonomy shared by the compiler and the engine
//   - Service interfaces (EventStore, PatientWriter, RunStore)
//
// The Golden Rule: pkg/core imports ONLY the standard library.
// All other packages depend on core, not the reverse.
package core
