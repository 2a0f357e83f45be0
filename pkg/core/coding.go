package core

import (
	"fmt"
	"strings"
)

// CodingSystem is the vocabulary a clinical code belongs to.
type CodingSystem string

// Supported coding systems.
const (
	SystemSNOMED CodingSystem = "snomed"
	SystemICD10  CodingSystem = "icd10"
	SystemOPCS4  CodingSystem = "opcs4"
	SystemCTV3   CodingSystem = "ctv3"
	SystemDMD    CodingSystem = "dmd"
)

// CodingSystems lists every supported system in a stable order.
var CodingSystems = []CodingSystem{SystemSNOMED, SystemICD10, SystemOPCS4, SystemCTV3, SystemDMD}

// ParseCodingSystem converts a configuration string to a CodingSystem.
// Matching is case-insensitive; "icd-10" and "opcs-4" spellings are accepted.
func ParseCodingSystem(s string) (CodingSystem, error) {
	norm := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "")
	for _, sys := range CodingSystems {
		if string(sys) == norm {
			return sys, nil
		}
	}
	return "", fmt.Errorf("unknown coding system %q (expected one of snomed, icd10, opcs4, ctv3, dmd)", s)
}

// String returns the configuration spelling of the system.
func (s CodingSystem) String() string {
	return string(s)
}

// CodedEntry is one code of a codelist. Immutable once loaded.
type CodedEntry struct {
	Code     string
	System   CodingSystem
	Category string // empty when the codelist has no category column
}
