// Package statefile persists reconciliation state between runs. A snapshot
// records, per resource, the last id and outputs the owner saw, plus the
// phase it was in when the run stopped, so a crashed run resumes with
// tainted resources instead of duplicates.
package statefile

import (
	"github.com/google/uuid"
	"github.com/reconcilr-io/reconcilr/internal/lifecycle"
	"github.com/reconcilr-io/reconcilr/internal/resource"
)

// Record is one resource's persisted entry.
type Record struct {
	Type    string          `json:"type"`
	Name    string          `json:"name"`
	ID      string          `json:"id,omitempty"`
	Phase   lifecycle.Phase `json:"phase"`
	Inputs  map[string]any  `json:"inputs,omitempty"`
	Outputs map[string]any  `json:"outputs,omitempty"`
}

// Address returns the "type.name" key the record is tracked under.
func (r Record) Address() string {
	return r.Type + "." + r.Name
}

// Tainted reports whether the record was left mid-operation by an earlier
// run and needs resolution before its desired state can be assumed.
func (r Record) Tainted() bool {
	switch r.Phase {
	case lifecycle.Creating, lifecycle.Updating, lifecycle.Replacing, lifecycle.Deleting:
		return true
	}
	return false
}

// Snapshot is the full persisted state. Serial increments on every write and
// lineage pins the snapshot to the deployment that created it.
type Snapshot struct {
	Version   int      `json:"version"`
	Serial    int      `json:"serial"`
	Lineage   string   `json:"lineage"`
	Resources []Record `json:"resources"`
}

// NewSnapshot returns an empty snapshot with a fresh lineage.
func NewSnapshot() *Snapshot {
	return &Snapshot{Version: 1, Lineage: uuid.NewString()}
}

// Find returns the record at the given address, or nil.
func (s *Snapshot) Find(address string) *Record {
	for i := range s.Resources {
		if s.Resources[i].Address() == address {
			return &s.Resources[i]
		}
	}
	return nil
}

// Upsert replaces the record at the same address or appends it.
func (s *Snapshot) Upsert(rec Record) {
	for i := range s.Resources {
		if s.Resources[i].Address() == rec.Address() {
			s.Resources[i] = rec
			return
		}
	}
	s.Resources = append(s.Resources, rec)
}

// Remove drops the record at the given address.
func (s *Snapshot) Remove(address string) {
	for i := range s.Resources {
		if s.Resources[i].Address() == address {
			s.Resources = append(s.Resources[:i], s.Resources[i+1:]...)
			return
		}
	}
}

// RecordOf builds a settled record from a resource state.
func RecordOf(typ, name string, state resource.State) Record {
	return Record{
		Type:    typ,
		Name:    name,
		ID:      state.ID,
		Phase:   lifecycle.Present,
		Inputs:  state.Inputs,
		Outputs: state.Outputs,
	}
}
