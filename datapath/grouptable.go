package datapath

import (
	"errors"
	"hash/fnv"
	"sync"

	"github.com/netflowctl/ofcore/ofp"
)

// ErrUnknownGroup describes an action set referencing a group
// identifier with no installed entry. The Pipeline does not return it;
// it reports that case to OnError as ErrBadOutGroup.
var ErrUnknownGroup = errors.New("datapath: unknown group")

// ErrGroupRecursion describes group execution that would exceed
// maxGroupDepth levels of group-to-group recursion. The Pipeline does
// not return it; it reports that case to OnError as ErrBadOutGroup.
var ErrGroupRecursion = errors.New("datapath: group recursion bound exceeded")

// maxGroupDepth bounds ActionGroup recursion (group A's bucket outputs
// to group B, whose bucket outputs to group A, ...).
const maxGroupDepth = 32

// PortState reports whether a port is eligible to receive traffic, for
// FAST_FAILOVER bucket liveness checks.
type PortState interface {
	PortUp(ofp.PortNo) bool
}

// GroupEntry is one row of a GroupTable.
type GroupEntry struct {
	Type    ofp.GroupType
	Buckets []ofp.Bucket

	PacketCount uint64
	ByteCount   uint64
	BucketStats []BucketCounter
}

// BucketCounter tracks per-bucket traffic accounting, mirroring
// ofp.BucketCounter.
type BucketCounter struct {
	PacketCount uint64
	ByteCount   uint64
}

// GroupTable holds the switch's group entries and knows how to select
// and execute the bucket(s) appropriate to each group type.
type GroupTable struct {
	mu     sync.Mutex
	groups map[ofp.Group]*GroupEntry

	// Ports supplies liveness information for FAST_FAILOVER groups.
	// A nil Ports treats every port as up.
	Ports PortState
}

// NewGroupTable returns an empty group table.
func NewGroupTable() *GroupTable {
	return &GroupTable{groups: make(map[ofp.Group]*GroupEntry)}
}

// Apply executes a GroupMod command.
func (g *GroupTable) Apply(mod *ofp.GroupMod) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch mod.Command {
	case ofp.GroupAdd:
		g.groups[mod.Group] = &GroupEntry{
			Type:        mod.Type,
			Buckets:     mod.Buckets,
			BucketStats: make([]BucketCounter, len(mod.Buckets)),
		}
	case ofp.GroupModify:
		if e, ok := g.groups[mod.Group]; ok {
			e.Type = mod.Type
			e.Buckets = mod.Buckets
			e.BucketStats = make([]BucketCounter, len(mod.Buckets))
		}
	case ofp.GroupDelete:
		if mod.Group == ofp.GroupAll {
			g.groups = make(map[ofp.Group]*GroupEntry)
		} else {
			delete(g.groups, mod.Group)
		}
	}

	return nil
}

// Lookup returns the group entry with the given id, or nil.
func (g *GroupTable) Lookup(id ofp.Group) *GroupEntry {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.groups[id]
}

func (g *GroupTable) portUp(port ofp.PortNo) bool {
	if g.Ports == nil {
		return true
	}
	return g.Ports.PortUp(port)
}

func (g *GroupTable) groupLive(id ofp.Group) bool {
	return g.Lookup(id) != nil
}

// selectBuckets returns the buckets of entry that should run for pkt,
// per the group-type selection rules of the OpenFlow spec.
func (g *GroupTable) selectBuckets(entry *GroupEntry, pkt *PacketContext) []int {
	switch entry.Type {
	case ofp.GroupTypeAll:
		idx := make([]int, len(entry.Buckets))
		for i := range idx {
			idx[i] = i
		}
		return idx

	case ofp.GroupTypeIndirect:
		if len(entry.Buckets) == 0 {
			return nil
		}
		return []int{0}

	case ofp.GroupTypeSelect:
		if i, ok := g.selectWeighted(entry, pkt); ok {
			return []int{i}
		}
		return nil

	case ofp.GroupTypeFastFailover:
		for i, b := range entry.Buckets {
			if b.WatchPort != ofp.PortAny && !g.portUp(b.WatchPort) {
				continue
			}
			if b.WatchGroup != ofp.GroupAny && !g.groupLive(b.WatchGroup) {
				continue
			}
			return []int{i}
		}
		return nil
	}

	return nil
}

// selectWeighted picks a SELECT-group bucket deterministically by
// hashing packet-identifying fields, weighted by each bucket's Weight.
// The hash input (in_port, eth src/dst, and any IPv4 addresses the
// packet carries) is stable across calls within the life of the
// packet, so pinned flows land on the same bucket, while differing
// across packets/flows to approximate the configured weight
// distribution.
func (g *GroupTable) selectWeighted(entry *GroupEntry, pkt *PacketContext) (int, bool) {
	total := 0
	for _, b := range entry.Buckets {
		w := int(b.Weight)
		if w == 0 {
			w = 1
		}
		total += w
	}
	if total == 0 {
		return 0, false
	}

	h := fnv.New32a()
	h.Write(pkt.hashKey())
	r := int(h.Sum32() % uint32(total))

	acc := 0
	for i, b := range entry.Buckets {
		w := int(b.Weight)
		if w == 0 {
			w = 1
		}
		acc += w
		if r < acc {
			return i, true
		}
	}

	return len(entry.Buckets) - 1, true
}
