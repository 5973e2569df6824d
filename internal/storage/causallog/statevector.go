package causallog

import (
	"encoding/json"
	"fmt"
)

// StateVector summarizes which updates a replica has seen: a mapping
// from client-id to the highest logical clock observed for that client.
// Two vectors compare pointwise; neither dominating the other means the
// replicas have diverged and each holds updates the other lacks.
type StateVector map[string]uint64

// Clone returns a deep copy.
func (sv StateVector) Clone() StateVector {
	out := make(StateVector, len(sv))
	for c, k := range sv {
		out[c] = k
	}
	return out
}

// Covers reports whether (clientID, clock) is already summarized by sv.
func (sv StateVector) Covers(clientID string, clock uint64) bool {
	return sv[clientID] >= clock
}

// Dominates reports whether sv pointwise covers every entry of other.
func (sv StateVector) Dominates(other StateVector) bool {
	for c, k := range other {
		if sv[c] < k {
			return false
		}
	}
	return true
}

// Equal reports whether both vectors summarize exactly the same set.
func (sv StateVector) Equal(other StateVector) bool {
	return sv.Dominates(other) && other.Dominates(sv)
}

// Observe raises sv's entry for clientID to at least clock.
func (sv StateVector) Observe(clientID string, clock uint64) {
	if sv[clientID] < clock {
		sv[clientID] = clock
	}
}

// Merge folds other into sv, taking the pointwise maximum.
func (sv StateVector) Merge(other StateVector) {
	for c, k := range other {
		sv.Observe(c, k)
	}
}

// Encode serializes sv for the wire (Step1 payloads, snapshot headers).
func (sv StateVector) Encode() ([]byte, error) {
	b, err := json.Marshal(sv)
	if err != nil {
		return nil, fmt.Errorf("causallog: encode state vector: %w", err)
	}
	return b, nil
}

// DecodeStateVector is the inverse of Encode. A nil or empty input
// decodes to the empty vector (a brand-new replica).
func DecodeStateVector(b []byte) (StateVector, error) {
	if len(b) == 0 {
		return StateVector{}, nil
	}
	var sv StateVector
	if err := json.Unmarshal(b, &sv); err != nil {
		return nil, fmt.Errorf("causallog: decode state vector: %w", err)
	}
	if sv == nil {
		sv = StateVector{}
	}
	return sv, nil
}
