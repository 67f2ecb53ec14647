package models

import (
	"encoding/json"
	"fmt"
)

// ToPlain reduces the state to a flat key-value map with all nested records
// as maps and lists of primitives. This representation is the wire format
// between transport and core, and the contract stage adapters are invoked
// with. Credentials are excluded (see ModelConfig).
func (s *SharedState) ToPlain() (map[string]any, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal state: %w", err)
	}
	var plain map[string]any
	if err := json.Unmarshal(data, &plain); err != nil {
		return nil, fmt.Errorf("failed to build plain representation: %w", err)
	}
	return plain, nil
}

// FromPlain reconstructs a typed state from its plain representation.
// FromPlain(ToPlain(s)) yields a state equal to s on all public fields.
func FromPlain(plain map[string]any) (*SharedState, error) {
	data, err := json.Marshal(plain)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal plain representation: %w", err)
	}
	var s SharedState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to reconstruct state: %w", err)
	}
	if s.Metadata == nil {
		s.Metadata = make(map[string]any)
	}
	return &s, nil
}

// MergePlain applies a mutated plain representation returned by a stage
// adapter back onto the typed state. The trace prefix invariant is enforced
// here: an adapter may append trace/narrative entries but the merged state
// always retains the pre-merge entries as a prefix.
func (s *SharedState) MergePlain(plain map[string]any) error {
	merged, err := FromPlain(plain)
	if err != nil {
		return err
	}

	prevTrace := s.Trace
	prevNarrative := s.Narrative
	credential := s.ModelConfig.Credential
	createdAt := s.CreatedAt

	*s = *merged

	if len(s.Trace) < len(prevTrace) {
		s.Trace = prevTrace
	}
	if len(s.Narrative) < len(prevNarrative) {
		s.Narrative = prevNarrative
	}
	s.ModelConfig.Credential = credential
	if s.CreatedAt.IsZero() {
		s.CreatedAt = createdAt
	}
	s.touch()
	return nil
}
