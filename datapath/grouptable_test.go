package datapath

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netflowctl/ofcore/ofp"
)

func addGroup(g *GroupTable, id ofp.Group, typ ofp.GroupType, buckets ...ofp.Bucket) {
	g.Apply(&ofp.GroupMod{
		Command: ofp.GroupAdd,
		Type:    typ,
		Group:   id,
		Buckets: buckets,
	})
}

func TestGroupTableAllSelectsEveryBucket(t *testing.T) {
	g := NewGroupTable()
	addGroup(g, 1, ofp.GroupTypeAll,
		ofp.Bucket{Actions: ofp.Actions{&ofp.ActionOutput{Port: 1}}},
		ofp.Bucket{Actions: ofp.Actions{&ofp.ActionOutput{Port: 2}}},
		ofp.Bucket{Actions: ofp.Actions{&ofp.ActionOutput{Port: 3}}},
	)

	entry := g.Lookup(1)
	require.NotNil(t, entry)

	idx := g.selectBuckets(entry, &PacketContext{})
	assert.Equal(t, []int{0, 1, 2}, idx)
}

func TestGroupTableIndirectSelectsFirstBucket(t *testing.T) {
	g := NewGroupTable()
	addGroup(g, 1, ofp.GroupTypeIndirect,
		ofp.Bucket{Actions: ofp.Actions{&ofp.ActionOutput{Port: 5}}},
	)

	entry := g.Lookup(1)
	require.NotNil(t, entry)

	idx := g.selectBuckets(entry, &PacketContext{})
	assert.Equal(t, []int{0}, idx)
}

func TestGroupTableIndirectEmptyYieldsNoBucket(t *testing.T) {
	g := NewGroupTable()
	addGroup(g, 1, ofp.GroupTypeIndirect)

	entry := g.Lookup(1)
	require.NotNil(t, entry)

	assert.Nil(t, g.selectBuckets(entry, &PacketContext{}))
}

// fakePorts implements PortState for liveness tests.
type fakePorts struct {
	down map[ofp.PortNo]bool
}

func (f *fakePorts) PortUp(p ofp.PortNo) bool {
	return !f.down[p]
}

func TestGroupTableFastFailoverSkipsDeadWatchPort(t *testing.T) {
	g := NewGroupTable()
	g.Ports = &fakePorts{down: map[ofp.PortNo]bool{1: true}}

	addGroup(g, 1, ofp.GroupTypeFastFailover,
		ofp.Bucket{WatchPort: 1, WatchGroup: ofp.GroupAny, Actions: ofp.Actions{&ofp.ActionOutput{Port: 1}}},
		ofp.Bucket{WatchPort: 2, WatchGroup: ofp.GroupAny, Actions: ofp.Actions{&ofp.ActionOutput{Port: 2}}},
	)

	entry := g.Lookup(1)
	require.NotNil(t, entry)

	idx := g.selectBuckets(entry, &PacketContext{})
	assert.Equal(t, []int{1}, idx)
}

func TestGroupTableFastFailoverSkipsDeadWatchGroup(t *testing.T) {
	g := NewGroupTable()

	addGroup(g, 1, ofp.GroupTypeFastFailover,
		ofp.Bucket{WatchPort: ofp.PortAny, WatchGroup: 99, Actions: ofp.Actions{&ofp.ActionOutput{Port: 1}}},
		ofp.Bucket{WatchPort: ofp.PortAny, WatchGroup: ofp.GroupAny, Actions: ofp.Actions{&ofp.ActionOutput{Port: 2}}},
	)

	entry := g.Lookup(1)
	require.NotNil(t, entry)

	// Group 99 was never installed, so groupLive(99) is false and the
	// first bucket is skipped in favor of the unconditional second one.
	idx := g.selectBuckets(entry, &PacketContext{})
	assert.Equal(t, []int{1}, idx)
}

func TestGroupTableFastFailoverNoneLiveYieldsNoBucket(t *testing.T) {
	g := NewGroupTable()
	g.Ports = &fakePorts{down: map[ofp.PortNo]bool{1: true, 2: true}}

	addGroup(g, 1, ofp.GroupTypeFastFailover,
		ofp.Bucket{WatchPort: 1, WatchGroup: ofp.GroupAny, Actions: ofp.Actions{&ofp.ActionOutput{Port: 1}}},
		ofp.Bucket{WatchPort: 2, WatchGroup: ofp.GroupAny, Actions: ofp.Actions{&ofp.ActionOutput{Port: 2}}},
	)

	entry := g.Lookup(1)
	require.NotNil(t, entry)

	assert.Nil(t, g.selectBuckets(entry, &PacketContext{}))
}

func TestGroupTableFastFailoverTreatsZeroAsRealWatchValue(t *testing.T) {
	g := NewGroupTable()
	g.Ports = &fakePorts{down: map[ofp.PortNo]bool{0: true}}

	addGroup(g, 1, ofp.GroupTypeFastFailover,
		// Port 0 is a real, down port here, not "no watch configured":
		// ofp.PortAny (0xffffffff) is the sentinel for that, not the
		// Go zero value.
		ofp.Bucket{WatchPort: 0, WatchGroup: ofp.GroupAny, Actions: ofp.Actions{&ofp.ActionOutput{Port: 1}}},
		ofp.Bucket{WatchPort: ofp.PortAny, WatchGroup: ofp.GroupAny, Actions: ofp.Actions{&ofp.ActionOutput{Port: 2}}},
	)

	entry := g.Lookup(1)
	require.NotNil(t, entry)

	idx := g.selectBuckets(entry, &PacketContext{})
	assert.Equal(t, []int{1}, idx)
}

func TestGroupTableSelectWeightedIsDeterministicPerPacket(t *testing.T) {
	g := NewGroupTable()
	addGroup(g, 1, ofp.GroupTypeSelect,
		ofp.Bucket{Weight: 1, Actions: ofp.Actions{&ofp.ActionOutput{Port: 1}}},
		ofp.Bucket{Weight: 1, Actions: ofp.Actions{&ofp.ActionOutput{Port: 2}}},
	)

	entry := g.Lookup(1)
	require.NotNil(t, entry)

	pkt := &PacketContext{InPort: 7}

	first := g.selectBuckets(entry, pkt)
	require.Len(t, first, 1)

	second := g.selectBuckets(entry, pkt)
	assert.Equal(t, first, second)
}

func TestGroupTableSelectWeightedNoBucketsYieldsNone(t *testing.T) {
	g := NewGroupTable()
	addGroup(g, 1, ofp.GroupTypeSelect)

	entry := g.Lookup(1)
	require.NotNil(t, entry)

	assert.Nil(t, g.selectBuckets(entry, &PacketContext{}))
}

func TestGroupTableDeleteAllClearsEveryGroup(t *testing.T) {
	g := NewGroupTable()
	addGroup(g, 1, ofp.GroupTypeAll, ofp.Bucket{Actions: ofp.Actions{&ofp.ActionOutput{Port: 1}}})
	addGroup(g, 2, ofp.GroupTypeAll, ofp.Bucket{Actions: ofp.Actions{&ofp.ActionOutput{Port: 2}}})

	require.NoError(t, g.Apply(&ofp.GroupMod{Command: ofp.GroupDelete, Group: ofp.GroupAll}))

	assert.Nil(t, g.Lookup(1))
	assert.Nil(t, g.Lookup(2))
}

func TestGroupTableModifyReplacesBuckets(t *testing.T) {
	g := NewGroupTable()
	addGroup(g, 1, ofp.GroupTypeAll, ofp.Bucket{Actions: ofp.Actions{&ofp.ActionOutput{Port: 1}}})

	require.NoError(t, g.Apply(&ofp.GroupMod{
		Command: ofp.GroupModify,
		Type:    ofp.GroupTypeAll,
		Group:   1,
		Buckets: []ofp.Bucket{
			{Actions: ofp.Actions{&ofp.ActionOutput{Port: 9}}},
		},
	}))

	entry := g.Lookup(1)
	require.NotNil(t, entry)
	require.Len(t, entry.Buckets, 1)
	assert.Len(t, entry.BucketStats, 1)
}
