package obsgrpc

import (
	"fmt"

	"helmdb/internal/branch"
	"helmdb/internal/contract"
	"helmdb/internal/region"
	api "helmdb/pkg/api"
)

func protoToRegion(p *api.RegionProto) (region.Region, error) {
	if p == nil {
		return region.Region{}, fmt.Errorf("%w: region proto is nil", ErrMalformedReport)
	}
	r := region.Region{
		Hash: region.HashRange{Begin: p.HashBegin, End: p.HashEnd},
		Keys: region.KeyRange{Start: append([]byte(nil), p.KeyStart...)},
	}
	if !p.KeyUnbounded {
		r.Keys.End = append([]byte(nil), p.KeyEnd...)
	}
	return r, nil
}

func protoToVersionMap(entries []*api.VersionEntryProto) (*region.Map[branch.Version], error) {
	frags := make([]region.Entry[branch.Version], 0, len(entries))
	for _, e := range entries {
		if e == nil {
			return nil, fmt.Errorf("%w: version entry is nil", ErrMalformedReport)
		}
		reg, err := protoToRegion(e.Region)
		if err != nil {
			return nil, err
		}
		vers := branch.Version{Timestamp: e.Timestamp}
		if e.Branch != "" {
			if err := vers.Branch.UnmarshalText([]byte(e.Branch)); err != nil {
				return nil, fmt.Errorf("%w: version branch: %v", ErrMalformedReport, err)
			}
		}
		frags = append(frags, region.Entry[branch.Version]{Region: reg, Value: vers})
	}
	return region.FromFragments(frags, func(a, b branch.Version) bool { return a == b }), nil
}

func protoToHistory(certs []*api.CertificateProto) (*branch.History, error) {
	if len(certs) == 0 {
		return nil, nil
	}
	history := branch.NewHistory()
	for _, c := range certs {
		if c == nil {
			return nil, fmt.Errorf("%w: certificate is nil", ErrMalformedReport)
		}
		var id branch.ID
		if err := id.UnmarshalText([]byte(c.Branch)); err != nil {
			return nil, fmt.Errorf("%w: certificate branch: %v", ErrMalformedReport, err)
		}
		reg, err := protoToRegion(c.Region)
		if err != nil {
			return nil, err
		}
		origin, err := protoToVersionMap(c.Origin)
		if err != nil {
			return nil, err
		}
		if err := history.Add(id, branch.BirthCertificate{
			Region:           reg,
			Origin:           origin,
			InitialTimestamp: c.InitialTimestamp,
		}); err != nil {
			return nil, err
		}
	}
	return history, nil
}

// protoToAck converts an ack report into the coordinator's form.
func protoToAck(req *api.ReportAckRequest) (*contract.Ack, error) {
	ack := &contract.Ack{State: contract.AckState(req.State)}
	if ack.State < contract.AckNothing || ack.State > contract.AckPrimaryReady {
		return nil, fmt.Errorf("%w: unknown ack state %d", ErrMalformedReport, req.State)
	}
	if req.Branch != "" {
		var id branch.ID
		if err := id.UnmarshalText([]byte(req.Branch)); err != nil {
			return nil, fmt.Errorf("%w: ack branch: %v", ErrMalformedReport, err)
		}
		ack.Branch = &id
	}
	if req.HasVersion {
		version, err := protoToVersionMap(req.Version)
		if err != nil {
			return nil, err
		}
		ack.Version = version
	}
	history, err := protoToHistory(req.History)
	if err != nil {
		return nil, err
	}
	ack.BranchHistory = history
	return ack, nil
}

func parseServerID(s string) (contract.ServerID, error) {
	var id contract.ServerID
	if err := id.UnmarshalText([]byte(s)); err != nil {
		return contract.NilServer, fmt.Errorf("%w: server id: %v", ErrMalformedReport, err)
	}
	return id, nil
}

func parseContractID(s string) (contract.ID, error) {
	var id contract.ID
	if err := id.UnmarshalText([]byte(s)); err != nil {
		return contract.ID{}, fmt.Errorf("%w: contract id: %v", ErrMalformedReport, err)
	}
	return id, nil
}
