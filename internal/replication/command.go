package replication

import (
	"bytes"
	"encoding/json"
	"fmt"

	"slices"

	"helmdb/internal/branch"
	"helmdb/internal/contract"
	"helmdb/internal/coordinator"
	"helmdb/internal/region"
)

// AddedContract carries one freshly minted contract through the log.
type AddedContract struct {
	ID       contract.ID       `json:"id"`
	Region   region.Region     `json:"region"`
	Contract contract.Contract `json:"contract"`
}

// Certificate is the wire form of a branch birth certificate.
type Certificate struct {
	Region           region.Region               `json:"region"`
	Origin           *region.Map[branch.Version] `json:"origin"`
	InitialTimestamp uint64                      `json:"initial_timestamp"`
}

// BranchRegistration records a branch as current for a region, carrying its
// certificate when the coordinator harvested one from the requesting ack.
type BranchRegistration struct {
	Region      region.Region `json:"region"`
	Branch      branch.ID     `json:"branch"`
	Certificate *Certificate  `json:"certificate,omitempty"`
}

// Command is the contract-change structure replicated through the log.
type Command struct {
	Remove   []contract.ID        `json:"remove,omitempty"`
	Add      []AddedContract      `json:"add,omitempty"`
	Branches []BranchRegistration `json:"branches,omitempty"`
}

// FromDiff builds a replication command from a coordinator diff. Entries
// are ordered canonically so the proposed bytes are deterministic.
func FromDiff(d coordinator.Diff, certs map[branch.ID]branch.BirthCertificate) *Command {
	cmd := &Command{}
	for id := range d.RemoveContracts {
		cmd.Remove = append(cmd.Remove, id)
	}
	slices.SortFunc(cmd.Remove, func(a, b contract.ID) int { return bytes.Compare(a[:], b[:]) })
	for id, rc := range d.AddContracts {
		cmd.Add = append(cmd.Add, AddedContract{ID: id, Region: rc.Region, Contract: rc.Contract})
	}
	slices.SortFunc(cmd.Add, func(a, b AddedContract) int { return bytes.Compare(a.ID[:], b.ID[:]) })
	for _, ba := range d.RegisterCurrentBranches {
		reg := BranchRegistration{Region: ba.Region, Branch: ba.Branch}
		if cert, ok := certs[ba.Branch]; ok {
			reg.Certificate = &Certificate{
				Region:           cert.Region,
				Origin:           cert.Origin,
				InitialTimestamp: cert.InitialTimestamp,
			}
		}
		cmd.Branches = append(cmd.Branches, reg)
	}
	return cmd
}

// Diff converts the command back into the coordinator's form.
func (c *Command) Diff() (coordinator.Diff, map[branch.ID]branch.BirthCertificate) {
	d := coordinator.Diff{
		RemoveContracts: make(map[contract.ID]struct{}, len(c.Remove)),
		AddContracts:    make(map[contract.ID]coordinator.RegionContract, len(c.Add)),
	}
	for _, id := range c.Remove {
		d.RemoveContracts[id] = struct{}{}
	}
	for _, a := range c.Add {
		d.AddContracts[a.ID] = coordinator.RegionContract{Region: a.Region, Contract: a.Contract}
	}
	certs := make(map[branch.ID]branch.BirthCertificate)
	for _, b := range c.Branches {
		d.RegisterCurrentBranches = append(d.RegisterCurrentBranches,
			coordinator.BranchAssignment{Region: b.Region, Branch: b.Branch})
		if b.Certificate != nil {
			certs[b.Branch] = branch.BirthCertificate{
				Region:           b.Certificate.Region,
				Origin:           b.Certificate.Origin,
				InitialTimestamp: b.Certificate.InitialTimestamp,
			}
		}
	}
	return d, certs
}

// Marshal serialises the command.
func (c *Command) Marshal() ([]byte, error) {
	if c == nil {
		return nil, fmt.Errorf("nil command")
	}
	return json.Marshal(c)
}

// UnmarshalCommand deserialises command bytes.
func UnmarshalCommand(data []byte) (*Command, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty command payload")
	}
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return nil, err
	}
	return &cmd, nil
}
