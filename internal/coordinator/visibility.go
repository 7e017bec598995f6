package coordinator

import (
	"helmdb/internal/contract"
)

// Connectivity is the calculator's read-only view of the server-to-server
// connectivity matrix. GetKey(x, y) reports that the coordinator can see
// server x and server x can see server y.
type Connectivity interface {
	GetKey(observer, observed contract.ServerID) bool
}

// InvisibleToMajority reports whether target definitely cannot be seen by
// strictly more than half of judges. A judge the coordinator itself cannot
// see is assumed to still see the target; this keeps a partition that
// isolates the coordinator from triggering spurious failovers.
func InvisibleToMajority(target contract.ServerID, judges contract.ServerSet, conns Connectivity) bool {
	count := 0
	for judge := range judges {
		if conns.GetKey(judge, target) || !conns.GetKey(judge, judge) {
			count++
		}
	}
	return !(count > len(judges)/2)
}
