package core

import (
	"fmt"
	"strings"
)

// LoadError reports a malformed or missing codelist, study definition or
// configuration file. It is fatal: the run aborts before any patient is read.
type LoadError struct {
	Source string // file path or codelist name
	Err    error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s: %v", e.Source, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// CycleError reports a dependency cycle between variables.
// Cycle lists the variables on the cycle, first element repeated at the end.
type CycleError struct {
	Cycle []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle between variables: %s", strings.Join(e.Cycle, " -> "))
}

// UnresolvedReferenceError reports a reference to a name that is not
// declared, or not visible, from the referring variable.
type UnresolvedReferenceError struct {
	Variable  string
	Reference string
}

func (e *UnresolvedReferenceError) Error() string {
	return fmt.Sprintf("variable %q references undeclared variable %q", e.Variable, e.Reference)
}

// DefinitionError reports a semantically invalid variable definition:
// a missing or duplicated combinator, an unknown option, or an operand
// of the wrong kind.
type DefinitionError struct {
	Variable string
	Message  string
}

func (e *DefinitionError) Error() string {
	return fmt.Sprintf("variable %q: %s", e.Variable, e.Message)
}

// Definitionf builds a DefinitionError with a formatted message.
func Definitionf(variable, format string, args ...any) *DefinitionError {
	return &DefinitionError{Variable: variable, Message: fmt.Sprintf(format, args...)}
}
