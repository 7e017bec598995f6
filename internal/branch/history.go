package branch

import (
	"fmt"

	"github.com/google/uuid"

	"helmdb/internal/region"
)

// ID identifies one branch of write lineage. The zero value is the root of
// the branch tree.
type ID uuid.UUID

// Nil is the root sentinel.
var Nil ID

// NewID allocates a fresh branch ID.
func NewID() ID {
	return ID(uuid.New())
}

// IsNil reports whether b is the root sentinel.
func (b ID) IsNil() bool {
	return b == Nil
}

func (b ID) String() string {
	return uuid.UUID(b).String()
}

// MarshalText implements encoding.TextMarshaler so IDs serialize as UUID
// strings in JSON and YAML.
func (b ID) MarshalText() ([]byte, error) {
	return []byte(uuid.UUID(b).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (b *ID) UnmarshalText(text []byte) error {
	u, err := uuid.ParseBytes(text)
	if err != nil {
		return err
	}
	*b = ID(u)
	return nil
}

// Version is a point on a branch: the state of a replica that has applied
// every write on Branch up to and including Timestamp.
type Version struct {
	Branch    ID     `json:"branch"`
	Timestamp uint64 `json:"timestamp"`
}

// ZeroVersion is the state before any write: the root branch at timestamp 0.
func ZeroVersion() Version {
	return Version{}
}

// BirthCertificate records where a branch forked off: the version, per
// sub-region, that the branch's first write builds on.
type BirthCertificate struct {
	Region region.Region
	Origin *region.Map[Version]
	// InitialTimestamp is the timestamp of the branch's first write; later
	// writes on the branch carry greater timestamps.
	InitialTimestamp uint64
}

// Reader is a read-only view of branch ancestry.
type Reader interface {
	Branch(id ID) (BirthCertificate, bool)
}

// History is the canonical in-memory branch tree.
type History struct {
	Branches map[ID]BirthCertificate
}

// NewHistory returns an empty history.
func NewHistory() *History {
	return &History{Branches: make(map[ID]BirthCertificate)}
}

// Branch implements Reader.
func (h *History) Branch(id ID) (BirthCertificate, bool) {
	if h == nil || h.Branches == nil {
		return BirthCertificate{}, false
	}
	cert, ok := h.Branches[id]
	return cert, ok
}

// Add registers a branch. Re-registering an existing branch with a different
// certificate is an error; branch certificates are immutable once written.
func (h *History) Add(id ID, cert BirthCertificate) error {
	if id.IsNil() {
		return fmt.Errorf("branch history: cannot register the root branch")
	}
	if _, ok := h.Branches[id]; ok {
		return fmt.Errorf("branch history: branch %s already registered", id)
	}
	h.Branches[id] = cert
	return nil
}

// combinedReader layers an overlay on top of a base reader, consulting the
// overlay first. It copies nothing from either side.
type combinedReader struct {
	base    Reader
	overlay Reader
}

// Combine returns a Reader serving branches from overlay first, then base.
// Used to view the Raft-persisted history together with the history
// contributions carried inside a contract ack.
func Combine(base, overlay Reader) Reader {
	return combinedReader{base: base, overlay: overlay}
}

func (c combinedReader) Branch(id ID) (BirthCertificate, bool) {
	if c.overlay != nil {
		if cert, ok := c.overlay.Branch(id); ok {
			return cert, true
		}
	}
	if c.base != nil {
		return c.base.Branch(id)
	}
	return BirthCertificate{}, false
}

// ancestryPath returns, per sub-region of reg, the chain of versions from
// the root to vers, root first. A branch missing from the reader terminates
// the chain at that point; acked writes never sit above an unknown branch.
func ancestryPath(rd Reader, vers Version, reg region.Region) *region.Map[[]Version] {
	if vers.Branch.IsNil() {
		return region.NewMap(reg, []Version{vers})
	}
	cert, ok := rd.Branch(vers.Branch)
	if !ok {
		return region.NewMap(reg, []Version{vers})
	}
	return region.MapMulti(cert.Origin, reg, func(r region.Region, origin Version) *region.Map[[]Version] {
		below := ancestryPath(rd, origin, r)
		return region.MapValues(below, r, func(_ region.Region, path []Version) []Version {
			out := make([]Version, 0, len(path)+1)
			out = append(out, path...)
			return append(out, vers)
		})
	})
}

// CommonBranch projects vers onto the path from the root to target,
// piecewise over reg. The result, per sub-region, is the most recent version
// on target's ancestry that vers is known to contain.
func CommonBranch(rd Reader, vers Version, target ID, reg region.Region) *region.Map[Version] {
	targetTip := Version{Branch: target, Timestamp: ^uint64(0)}
	targetPath := ancestryPath(rd, targetTip, reg)
	return region.MapMulti(targetPath, reg, func(r region.Region, tp []Version) *region.Map[Version] {
		versPath := ancestryPath(rd, vers, r)
		return region.MapValues(versPath, r, func(_ region.Region, vp []Version) Version {
			return meet(vp, tp)
		})
	})
}

// meet finds the deepest branch common to both paths and returns the earlier
// of the two positions on it. Paths are ordered root first.
func meet(versPath, targetPath []Version) Version {
	onTarget := make(map[ID]uint64, len(targetPath))
	for _, v := range targetPath {
		onTarget[v.Branch] = v.Timestamp
	}
	for i := len(versPath) - 1; i >= 0; i-- {
		v := versPath[i]
		ts, ok := onTarget[v.Branch]
		if !ok {
			continue
		}
		if v.Timestamp < ts {
			ts = v.Timestamp
		}
		return Version{Branch: v.Branch, Timestamp: ts}
	}
	return ZeroVersion()
}
