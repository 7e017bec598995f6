package contract

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"slices"

	"helmdb/internal/branch"
)

// ServerID identifies a data-plane server. The zero value means "unset".
type ServerID uuid.UUID

// NilServer is the unset server sentinel.
var NilServer ServerID

// NewServerID allocates a fresh server ID.
func NewServerID() ServerID {
	return ServerID(uuid.New())
}

// IsNil reports whether s is the unset sentinel.
func (s ServerID) IsNil() bool {
	return s == NilServer
}

func (s ServerID) String() string {
	return uuid.UUID(s).String()
}

// Less orders server IDs bytewise. Used as the deterministic tie-break in
// primary election.
func (s ServerID) Less(o ServerID) bool {
	return bytes.Compare(s[:], o[:]) < 0
}

// MarshalText implements encoding.TextMarshaler.
func (s ServerID) MarshalText() ([]byte, error) {
	return []byte(uuid.UUID(s).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *ServerID) UnmarshalText(text []byte) error {
	u, err := uuid.ParseBytes(text)
	if err != nil {
		return err
	}
	*s = ServerID(u)
	return nil
}

// ID identifies a contract. Stable across recomputations that leave the
// contract value-equal.
type ID uuid.UUID

// NewID allocates a fresh contract ID.
func NewID() ID {
	return ID(uuid.New())
}

func (id ID) String() string {
	return uuid.UUID(id).String()
}

// MarshalText implements encoding.TextMarshaler.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(uuid.UUID(id).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(text []byte) error {
	u, err := uuid.ParseBytes(text)
	if err != nil {
		return err
	}
	*id = ID(u)
	return nil
}

// ServerSet is a set of server IDs.
type ServerSet map[ServerID]struct{}

// NewServerSet builds a set from the given IDs.
func NewServerSet(ids ...ServerID) ServerSet {
	s := make(ServerSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Has reports membership.
func (s ServerSet) Has(id ServerID) bool {
	_, ok := s[id]
	return ok
}

// Add inserts id.
func (s ServerSet) Add(id ServerID) {
	s[id] = struct{}{}
}

// Remove deletes id.
func (s ServerSet) Remove(id ServerID) {
	delete(s, id)
}

// Clone returns an independent copy. A nil set clones to nil.
func (s ServerSet) Clone() ServerSet {
	if s == nil {
		return nil
	}
	out := make(ServerSet, len(s))
	for id := range s {
		out[id] = struct{}{}
	}
	return out
}

// Equal reports whether both sets hold the same members. Nil and empty sets
// are equal.
func (s ServerSet) Equal(o ServerSet) bool {
	if len(s) != len(o) {
		return false
	}
	for id := range s {
		if !o.Has(id) {
			return false
		}
	}
	return true
}

// Sorted returns the members in bytewise order.
func (s ServerSet) Sorted() []ServerID {
	out := make([]ServerID, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	slices.SortFunc(out, func(a, b ServerID) int { return bytes.Compare(a[:], b[:]) })
	return out
}

// MarshalJSON serializes the set as a sorted list, keeping persisted
// contracts byte-stable across recomputations.
func (s ServerSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

// UnmarshalJSON restores the set from a list.
func (s *ServerSet) UnmarshalJSON(data []byte) error {
	var ids []ServerID
	if err := json.Unmarshal(data, &ids); err != nil {
		return err
	}
	*s = NewServerSet(ids...)
	return nil
}

// Primary declares which server holds the primary role for a region, and
// the transitional state of that role.
type Primary struct {
	Server ServerID `json:"server"`
	// HandOver, when set, names the server the primary is warm-transferring
	// its role to.
	HandOver *ServerID `json:"hand_over,omitempty"`
	// WarmShutdown tells the primary to stop accepting writes but keep
	// streaming until told to stop completely.
	WarmShutdown bool `json:"warm_shutdown,omitempty"`
}

// Equal reports value equality.
func (p *Primary) Equal(o *Primary) bool {
	if p == nil || o == nil {
		return p == o
	}
	if p.Server != o.Server || p.WarmShutdown != o.WarmShutdown {
		return false
	}
	if (p.HandOver == nil) != (o.HandOver == nil) {
		return false
	}
	return p.HandOver == nil || *p.HandOver == *o.HandOver
}

// Clone returns an independent copy.
func (p *Primary) Clone() *Primary {
	if p == nil {
		return nil
	}
	out := *p
	if p.HandOver != nil {
		h := *p.HandOver
		out.HandOver = &h
	}
	return &out
}

// Contract is the authoritative per-region declaration of replication
// membership and the primary role.
type Contract struct {
	// Replicas holds every server participating in the region, voters plus
	// transitional members.
	Replicas ServerSet `json:"replicas"`
	// Voters holds the servers whose acks count toward write durability.
	Voters ServerSet `json:"voters"`
	// TempVoters is present only during a voter-set change. While set,
	// writes require majorities of both Voters and TempVoters.
	TempVoters ServerSet `json:"temp_voters,omitempty"`
	// Primary, when present, names the server serving writes. Absent means
	// "no primary; elect one".
	Primary *Primary `json:"primary,omitempty"`
	// Branch is the lineage the primary serves writes against.
	Branch branch.ID `json:"branch"`
}

// Equal reports value equality. TempVoters present-vs-absent is
// significant.
func (c Contract) Equal(o Contract) bool {
	if !c.Replicas.Equal(o.Replicas) || !c.Voters.Equal(o.Voters) {
		return false
	}
	if (c.TempVoters == nil) != (o.TempVoters == nil) {
		return false
	}
	if c.TempVoters != nil && !c.TempVoters.Equal(o.TempVoters) {
		return false
	}
	return c.Primary.Equal(o.Primary) && c.Branch == o.Branch
}

// Clone returns a deep copy.
func (c Contract) Clone() Contract {
	return Contract{
		Replicas:   c.Replicas.Clone(),
		Voters:     c.Voters.Clone(),
		TempVoters: c.TempVoters.Clone(),
		Primary:    c.Primary.Clone(),
		Branch:     c.Branch,
	}
}

// Validate checks the structural invariants every emitted contract must
// satisfy.
func (c Contract) Validate() error {
	for id := range c.Voters {
		if !c.Replicas.Has(id) {
			return fmt.Errorf("%w: voter %s not in replicas", ErrInvalidContract, id)
		}
	}
	for id := range c.TempVoters {
		if !c.Replicas.Has(id) {
			return fmt.Errorf("%w: temp voter %s not in replicas", ErrInvalidContract, id)
		}
	}
	if c.Primary != nil && !c.Replicas.Has(c.Primary.Server) {
		return fmt.Errorf("%w: primary %s not in replicas", ErrInvalidContract, c.Primary.Server)
	}
	return nil
}
