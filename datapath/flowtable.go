// Package datapath implements a software OpenFlow 1.3 switch: flow
// tables, group tables, and the packet-processing pipeline that ties
// them together. It plays the role a real switch ASIC/forwarding plane
// plays opposite the of package's controller-side protocol engine.
package datapath

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/netflowctl/ofcore/ofp"
)

// ErrTableFull is returned by FlowTable.Apply when the table has
// reached its configured entry limit and the command would add a new
// entry rather than modify an existing one.
var ErrTableFull = errors.New("datapath: flow table full")

// ErrOverlap is returned for an ADD command carrying
// ofp.FlowFlagCheckOverlap when an entry with an identical match and
// equal priority is already installed. Entries whose matches differ
// but could both match the same packet are not reported.
var ErrOverlap = errors.New("datapath: overlapping flow entry")

// FlowEntry is one row of a FlowTable: the match/instruction pair the
// controller installed, plus the bookkeeping the table maintains
// about it.
type FlowEntry struct {
	Priority    uint16
	Match       ofp.Match
	Instructions ofp.Instructions

	Cookie      uint64
	IdleTimeout uint16
	HardTimeout uint16
	Flags       ofp.FlowModFlag

	PacketCount uint64
	ByteCount   uint64

	installed  time.Time
	lastHit    time.Time
	sequence   uint64
}

// Age returns the duration the entry has been installed.
func (e *FlowEntry) Age(now time.Time) time.Duration {
	return now.Sub(e.installed)
}

// Idle returns the duration since the entry last matched a packet.
func (e *FlowEntry) Idle(now time.Time) time.Duration {
	return now.Sub(e.lastHit)
}

// RemovedEvent describes a flow entry evicted from a FlowTable,
// enough information to build an ofp.FlowRemoved message.
type RemovedEvent struct {
	Table  ofp.Table
	Entry  *FlowEntry
	Reason ofp.FlowRemovedReason
}

// FlowTable is one numbered table in the pipeline: an ordered set of
// flow entries plus the counters and timers needed to evict them.
type FlowTable struct {
	ID       ofp.Table
	MaxSize  int

	mu      sync.Mutex
	entries []*FlowEntry
	seq     uint64

	// OnRemoved, when set, is invoked (with the table's lock held) for
	// every entry evicted with ofp.FlowFlagSendFlowRem set, whether by
	// timeout or by a DELETE command.
	OnRemoved func(RemovedEvent)
}

// NewFlowTable returns an empty table with the given id and capacity.
// A MaxSize of zero means unbounded.
func NewFlowTable(id ofp.Table, maxSize int) *FlowTable {
	return &FlowTable{ID: id, MaxSize: maxSize}
}

// reorder keeps entries sorted by priority descending, and by
// insertion order ascending among equal priorities, matching the tie
// break lookup requires.
func (t *FlowTable) reorder() {
	sort.SliceStable(t.entries, func(i, j int) bool {
		if t.entries[i].Priority != t.entries[j].Priority {
			return t.entries[i].Priority > t.entries[j].Priority
		}
		return t.entries[i].sequence < t.entries[j].sequence
	})
}

// Apply executes a FlowMod command against the table and returns an
// error the caller should surface to the peer as an ofp.Error.
func (t *FlowTable) Apply(mod *ofp.FlowMod) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch mod.Command {
	case ofp.FlowAdd:
		return t.add(mod)
	case ofp.FlowModify:
		t.modify(mod, false)
		return nil
	case ofp.FlowModifyStrict:
		t.modify(mod, true)
		return nil
	case ofp.FlowDelete:
		t.delete(mod, false)
		return nil
	case ofp.FlowDeleteStrict:
		t.delete(mod, true)
		return nil
	}

	return nil
}

func (t *FlowTable) add(mod *ofp.FlowMod) error {
	for _, e := range t.entries {
		if e.Priority != mod.Priority {
			continue
		}
		if !ofp.CompareMatch(mod.Match, e.Match, true) {
			continue
		}

		if mod.Flags&ofp.FlowFlagCheckOverlap != 0 {
			return ErrOverlap
		}

		t.replace(e, mod)
		return nil
	}

	if t.MaxSize > 0 && len(t.entries) >= t.MaxSize {
		return ErrTableFull
	}

	t.seq++
	now := time.Now()
	t.entries = append(t.entries, &FlowEntry{
		Priority:     mod.Priority,
		Match:        mod.Match,
		Instructions: mod.Instructions,
		Cookie:       mod.Cookie,
		IdleTimeout:  mod.IdleTimeout,
		HardTimeout:  mod.HardTimeout,
		Flags:        mod.Flags,
		installed:    now,
		lastHit:      now,
		sequence:     t.seq,
	})
	t.reorder()
	return nil
}

func (t *FlowTable) replace(e *FlowEntry, mod *ofp.FlowMod) {
	e.Instructions = mod.Instructions
	e.Flags = mod.Flags
	if mod.Flags&ofp.FlowFlagResetCounts != 0 {
		e.PacketCount, e.ByteCount = 0, 0
	}
}

func (t *FlowTable) modify(mod *ofp.FlowMod, strict bool) {
	for _, e := range t.entries {
		if !t.matches(e, mod, strict) {
			continue
		}
		t.replace(e, mod)
	}
}

func (t *FlowTable) matches(e *FlowEntry, mod *ofp.FlowMod, strict bool) bool {
	if strict && e.Priority != mod.Priority {
		return false
	}
	if mod.OutPort != ofp.PortAny && !entryOutputsTo(e, mod.OutPort) {
		return false
	}
	if mod.OutGroup != ofp.GroupAny && !entryGroupsTo(e, mod.OutGroup) {
		return false
	}
	if mod.CookieMask != 0 && e.Cookie&mod.CookieMask != mod.Cookie&mod.CookieMask {
		return false
	}
	return ofp.CompareMatch(mod.Match, e.Match, strict)
}

func entryOutputsTo(e *FlowEntry, port ofp.PortNo) bool {
	for _, inst := range e.Instructions {
		if actions, ok := instructionActions(inst); ok {
			for _, a := range actions {
				if out, ok := a.(*ofp.ActionOutput); ok && out.Port == port {
					return true
				}
			}
		}
	}
	return false
}

func entryGroupsTo(e *FlowEntry, group ofp.Group) bool {
	for _, inst := range e.Instructions {
		if actions, ok := instructionActions(inst); ok {
			for _, a := range actions {
				if g, ok := a.(*ofp.ActionGroup); ok && g.Group == group {
					return true
				}
			}
		}
	}
	return false
}

// instructionActions extracts the action list from whichever
// instruction variant carries one, for the OutPort/OutGroup delete
// filters, which inspect apply- and write-actions per the OpenFlow
// spec.
func instructionActions(inst ofp.Instruction) (ofp.Actions, bool) {
	switch i := inst.(type) {
	case *ofp.InstructionApplyActions:
		return i.Actions, true
	case *ofp.InstructionWriteActions:
		return i.Actions, true
	}
	return nil, false
}

func (t *FlowTable) delete(mod *ofp.FlowMod, strict bool) {
	kept := t.entries[:0]
	for _, e := range t.entries {
		if t.matches(e, mod, strict) {
			t.evict(e, ofp.FlowReasonDelete)
			continue
		}
		kept = append(kept, e)
	}
	t.entries = kept
}

// evict removes e's bookkeeping and, if requested, reports its removal
// via OnRemoved. Caller must hold t.mu.
func (t *FlowTable) evict(e *FlowEntry, reason ofp.FlowRemovedReason) {
	if e.Flags&ofp.FlowFlagSendFlowRem != 0 && t.OnRemoved != nil {
		t.OnRemoved(RemovedEvent{Table: t.ID, Entry: e, Reason: reason})
	}
}

// Lookup returns the highest-priority entry matching pkt, or nil on a
// table miss. Ties are resolved by insertion order because entries are
// kept sorted that way.
//
// Each entry's (possibly sparse/wildcarded) match is passed as
// CompareMatch's x argument and pkt's fully-derived match as y, so that
// every field the entry constrains must also be present, and agree, in
// pkt; fields the entry omits are left unconstrained.
func (t *FlowTable) Lookup(pkt ofp.Match) *FlowEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, e := range t.entries {
		if ofp.CompareMatch(e.Match, pkt, false) {
			e.lastHit = time.Now()
			e.PacketCount++
			return e
		}
	}
	return nil
}

// Hit records traffic accounting for an entry already returned by
// Lookup; length is the number of bytes the matched packet occupied on
// the wire.
func (t *FlowTable) Hit(e *FlowEntry, length int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e.ByteCount += uint64(length)
}

// ExpireOnce scans the table once for idle/hard timeout expiry and
// evicts matching entries. It is driven by a periodic timer and is the
// only place entries expire: Lookup refreshes an entry's idle time but
// does not check timeouts.
func (t *FlowTable) ExpireOnce(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	kept := t.entries[:0]
	for _, e := range t.entries {
		reason, expired := t.expiry(e, now)
		if expired {
			t.evict(e, reason)
			continue
		}
		kept = append(kept, e)
	}
	t.entries = kept
}

func (t *FlowTable) expiry(e *FlowEntry, now time.Time) (ofp.FlowRemovedReason, bool) {
	if e.HardTimeout > 0 && e.Age(now) >= time.Duration(e.HardTimeout)*time.Second {
		return ofp.FlowReasonHardTimeout, true
	}
	if e.IdleTimeout > 0 && e.Idle(now) >= time.Duration(e.IdleTimeout)*time.Second {
		return ofp.FlowReasonIdleTimeout, true
	}
	return 0, false
}

// Entries returns a snapshot of the table's entries in lookup order.
func (t *FlowTable) Entries() []*FlowEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]*FlowEntry, len(t.entries))
	copy(out, t.entries)
	return out
}
