// Package engagement classifies per-account engagement state over sliding
// windows and drives the per-window orchestration loop. The category
// vocabulary is a fixed record type validated once at construction, not a
// dynamic map threaded through the pipeline.
package engagement

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"
)

var (
	// ErrInvalidSnapshot indicates a snapshot with uninitialized sets.
	ErrInvalidSnapshot = errors.New("invalid engagement snapshot")

	// ErrInvalidThresholds indicates unusable classification thresholds.
	ErrInvalidThresholds = errors.New("invalid engagement thresholds")
)

// AccountSet is a set of account ids. Serialized as a sorted array so
// persisted snapshots are byte-stable.
type AccountSet map[string]struct{}

// NewAccountSet builds a set from ids.
func NewAccountSet(ids ...string) AccountSet {
	set := make(AccountSet, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

// Add inserts an id.
func (s AccountSet) Add(id string) {
	s[id] = struct{}{}
}

// Contains reports membership.
func (s AccountSet) Contains(id string) bool {
	_, ok := s[id]
	return ok
}

// Union returns a new set holding every id of s and other.
func (s AccountSet) Union(other AccountSet) AccountSet {
	out := make(AccountSet, len(s)+len(other))
	for id := range s {
		out[id] = struct{}{}
	}
	for id := range other {
		out[id] = struct{}{}
	}
	return out
}

// Intersect returns a new set holding ids present in both s and other.
func (s AccountSet) Intersect(other AccountSet) AccountSet {
	out := make(AccountSet)
	for id := range s {
		if other.Contains(id) {
			out[id] = struct{}{}
		}
	}
	return out
}

// Sorted returns the ids in ascending order.
func (s AccountSet) Sorted() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// MarshalJSON encodes the set as a sorted string array.
func (s AccountSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

// UnmarshalJSON decodes a string array into the set.
func (s *AccountSet) UnmarshalJSON(data []byte) error {
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return err
	}
	*s = NewAccountSet(ids...)
	return nil
}

// Snapshot is one window's engagement classification. Snapshots are
// append-only per window and never mutated once persisted.
type Snapshot struct {
	// WindowIndex is the global window index the snapshot belongs to.
	WindowIndex int `json:"window_index"`

	// Date is the snapshot date: the last day the window covers.
	Date time.Time `json:"date"`

	// Core engagement categories.
	Active      AccountSet `json:"active"`
	Connected   AccountSet `json:"connected"`
	Vital       AccountSet `json:"vital"`
	Paused      AccountSet `json:"paused"`
	Disengaged  AccountSet `json:"disengaged"`
	Returned    AccountSet `json:"returned"`
	NewActive   AccountSet `json:"new_active"`
	StillActive AccountSet `json:"still_active"`
	Dropped     AccountSet `json:"dropped"`
	Lurker      AccountSet `json:"lurker"`

	// Provenance sub-categories of disengagement.
	DisengagedWereNewActive   AccountSet `json:"disengaged_were_new_active"`
	DisengagedWereStillActive AccountSet `json:"disengaged_were_still_active"`
	DisengagedWereVital       AccountSet `json:"disengaged_were_vital"`

	// Rolling membership categories, filled by the orchestrator.
	JoinedInWindow AccountSet `json:"joined_in_window"`
	JoinedInPeriod AccountSet `json:"joined_in_period"`
}

// NewSnapshot creates an empty snapshot with every set initialized.
func NewSnapshot(windowIndex int, date time.Time) Snapshot {
	return Snapshot{
		WindowIndex:               windowIndex,
		Date:                      date,
		Active:                    NewAccountSet(),
		Connected:                 NewAccountSet(),
		Vital:                     NewAccountSet(),
		Paused:                    NewAccountSet(),
		Disengaged:                NewAccountSet(),
		Returned:                  NewAccountSet(),
		NewActive:                 NewAccountSet(),
		StillActive:               NewAccountSet(),
		Dropped:                   NewAccountSet(),
		Lurker:                    NewAccountSet(),
		DisengagedWereNewActive:   NewAccountSet(),
		DisengagedWereStillActive: NewAccountSet(),
		DisengagedWereVital:       NewAccountSet(),
		JoinedInWindow:            NewAccountSet(),
		JoinedInPeriod:            NewAccountSet(),
	}
}

// Validate checks every category set is initialized.
func (s Snapshot) Validate() error {
	for name, set := range s.sets() {
		if set == nil {
			return fmt.Errorf("%w: nil set %q (window %d)", ErrInvalidSnapshot, name, s.WindowIndex)
		}
	}
	return nil
}

func (s Snapshot) sets() map[string]AccountSet {
	return map[string]AccountSet{
		"active":                       s.Active,
		"connected":                    s.Connected,
		"vital":                        s.Vital,
		"paused":                       s.Paused,
		"disengaged":                   s.Disengaged,
		"returned":                     s.Returned,
		"new_active":                   s.NewActive,
		"still_active":                 s.StillActive,
		"dropped":                      s.Dropped,
		"lurker":                       s.Lurker,
		"disengaged_were_new_active":   s.DisengagedWereNewActive,
		"disengaged_were_still_active": s.DisengagedWereStillActive,
		"disengaged_were_vital":        s.DisengagedWereVital,
		"joined_in_window":             s.JoinedInWindow,
		"joined_in_period":             s.JoinedInPeriod,
	}
}

// Thresholds parameterize the engagement classifier.
type Thresholds struct {
	// MinInteractions is the interaction count needed to count as active.
	MinInteractions int `yaml:"min_interactions"`

	// MinConnections is the number of distinct counterparts needed to count
	// as connected.
	MinConnections int `yaml:"min_connections"`

	// MinEdgeStrength is the per-counterpart interaction weight for a
	// counterpart to count as a connection.
	MinEdgeStrength int `yaml:"min_edge_strength"`

	// VitalWindows and VitalOf: vital means connected in at least VitalOf of
	// the last VitalWindows windows.
	VitalWindows int `yaml:"vital_windows"`
	VitalOf      int `yaml:"vital_of"`

	// StillWindows and StillOf: still active means newly active StillWindows
	// ago and active in at least StillOf windows since.
	StillWindows int `yaml:"still_windows"`
	StillOf      int `yaml:"still_of"`

	// DropWindows is how many consecutive disengaged windows mark an account
	// as dropped.
	DropWindows int `yaml:"drop_windows"`
}

// DefaultThresholds returns the rule set the product ships with.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinInteractions: 1,
		MinConnections:  4,
		MinEdgeStrength: 5,
		VitalWindows:    7,
		VitalOf:         5,
		StillWindows:    7,
		StillOf:         5,
		DropWindows:     2,
	}
}

// Validate checks the threshold values.
func (t Thresholds) Validate() error {
	if t.MinInteractions < 1 {
		return fmt.Errorf("%w: min_interactions must be at least 1", ErrInvalidThresholds)
	}
	if t.MinConnections < 1 || t.MinEdgeStrength < 1 {
		return fmt.Errorf("%w: connection thresholds must be at least 1", ErrInvalidThresholds)
	}
	if t.VitalOf > t.VitalWindows || t.StillOf > t.StillWindows {
		return fmt.Errorf("%w: 'of' counts cannot exceed their window spans", ErrInvalidThresholds)
	}
	if t.DropWindows < 1 {
		return fmt.Errorf("%w: drop_windows must be at least 1", ErrInvalidThresholds)
	}
	return nil
}
