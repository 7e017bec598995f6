package branch_test

import (
	"testing"

	"helmdb/internal/branch"
	"helmdb/internal/region"

	"github.com/stretchr/testify/require"
)

func universe() region.Region { return region.Universe() }

func addBranch(t *testing.T, h *branch.History, origin branch.Version, initial uint64) branch.ID {
	t.Helper()
	id := branch.NewID()
	err := h.Add(id, branch.BirthCertificate{
		Region:           universe(),
		Origin:           region.NewMap(universe(), origin),
		InitialTimestamp: initial,
	})
	require.NoError(t, err)
	return id
}

func singleVersion(t *testing.T, m *region.Map[branch.Version]) branch.Version {
	t.Helper()
	entries := m.Entries()
	require.Len(t, entries, 1)
	return entries[0].Value
}

func TestCommonBranchOnAncestor(t *testing.T) {
	h := branch.NewHistory()
	b1 := addBranch(t, h, branch.ZeroVersion(), 1)
	b2 := addBranch(t, h, branch.Version{Branch: b1, Timestamp: 10}, 11)

	// A version beyond the fork projects back to the fork point.
	got := branch.CommonBranch(h, branch.Version{Branch: b2, Timestamp: 20}, b1, universe())
	require.Equal(t, branch.Version{Branch: b1, Timestamp: 10}, singleVersion(t, got))

	// A version below the fork projects to itself.
	got = branch.CommonBranch(h, branch.Version{Branch: b1, Timestamp: 5}, b2, universe())
	require.Equal(t, branch.Version{Branch: b1, Timestamp: 5}, singleVersion(t, got))

	// A version on the target itself stays put.
	got = branch.CommonBranch(h, branch.Version{Branch: b2, Timestamp: 42}, b2, universe())
	require.Equal(t, branch.Version{Branch: b2, Timestamp: 42}, singleVersion(t, got))
}

func TestCommonBranchDivergent(t *testing.T) {
	h := branch.NewHistory()
	b1 := addBranch(t, h, branch.ZeroVersion(), 1)
	b2 := addBranch(t, h, branch.Version{Branch: b1, Timestamp: 10}, 11)
	b3 := addBranch(t, h, branch.Version{Branch: b1, Timestamp: 8}, 9)

	// b3 diverged from b1 earlier than b2 did; the common point is the
	// earlier fork.
	got := branch.CommonBranch(h, branch.Version{Branch: b3, Timestamp: 99}, b2, universe())
	require.Equal(t, branch.Version{Branch: b1, Timestamp: 8}, singleVersion(t, got))
}

func TestCommonBranchRegionDependent(t *testing.T) {
	h := branch.NewHistory()
	b1 := addBranch(t, h, branch.ZeroVersion(), 1)

	right := region.KeySpan(region.KeyRange{Start: []byte("m")})

	// b2's origin differs by key range: it forked from b1 at different
	// timestamps on either side of "m".
	b2 := branch.NewID()
	origin := region.NewMap(universe(), branch.Version{Branch: b1, Timestamp: 10})
	origin.Update(right, func(v branch.Version) branch.Version { return v },
		func(_ region.Region, v branch.Version) branch.Version {
			return branch.Version{Branch: b1, Timestamp: 20}
		})
	require.NoError(t, h.Add(b2, branch.BirthCertificate{
		Region:           universe(),
		Origin:           origin,
		InitialTimestamp: 21,
	}))

	got := branch.CommonBranch(h, branch.Version{Branch: b2, Timestamp: 50}, b1, universe())
	byStart := map[string]branch.Version{}
	got.Visit(universe(), func(r region.Region, v branch.Version) {
		byStart[string(r.Keys.Start)] = v
	})
	require.Equal(t, branch.Version{Branch: b1, Timestamp: 10}, byStart[""])
	require.Equal(t, branch.Version{Branch: b1, Timestamp: 20}, byStart["m"])
}

func TestCombineLayersOverlayFirst(t *testing.T) {
	base := branch.NewHistory()
	overlay := branch.NewHistory()
	b1 := addBranch(t, base, branch.ZeroVersion(), 1)
	b2 := addBranch(t, overlay, branch.Version{Branch: b1, Timestamp: 3}, 4)

	rd := branch.Combine(base, overlay)
	if _, ok := rd.Branch(b1); !ok {
		t.Fatalf("combined reader missing base branch")
	}
	if _, ok := rd.Branch(b2); !ok {
		t.Fatalf("combined reader missing overlay branch")
	}
	if _, ok := rd.Branch(branch.NewID()); ok {
		t.Fatalf("combined reader invented a branch")
	}

	// Projection across the layered view walks both layers.
	got := branch.CommonBranch(rd, branch.Version{Branch: b2, Timestamp: 9}, b1, universe())
	require.Equal(t, branch.Version{Branch: b1, Timestamp: 3}, singleVersion(t, got))
}

func TestHistoryAddRejectsDuplicates(t *testing.T) {
	h := branch.NewHistory()
	id := addBranch(t, h, branch.ZeroVersion(), 1)
	err := h.Add(id, branch.BirthCertificate{Region: universe(), Origin: region.NewMap(universe(), branch.ZeroVersion())})
	require.Error(t, err)
	require.Error(t, h.Add(branch.Nil, branch.BirthCertificate{}))
}
