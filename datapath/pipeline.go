package datapath

import (
	"errors"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/sirupsen/logrus"

	"github.com/netflowctl/ofcore/ofp"
)

// ErrBadOutGroup is surfaced to the controller (as
// ofp.ErrCodeBadActionOutGroup, kind ofp.ErrTypeBadAction) when group
// recursion or an unresolved group reference aborts action execution.
var ErrBadOutGroup = errors.New("datapath: bad out group")

// PacketContext is the per-packet processing state threaded through
// table lookups and action execution: the parsed packet plus the
// metadata and pending action set the pipeline accumulates as it
// walks the table chain.
type PacketContext struct {
	Buffer *ofp.Buffer

	InPort    ofp.PortNo
	InPhyPort ofp.PortNo
	Metadata  uint64
	TunnelID  uint64
	Cookie    uint64

	// packet holds the gopacket decode of Buffer's current bytes,
	// refreshed whenever an action mutates the buffer.
	packet gopacket.Packet

	// actionSet is the pending per-table action set built up by
	// write-actions instructions across the table chain; it is
	// executed, in canonical order, on table-miss of goto-table.
	actionSet []ofp.Action

	depth int
}

// NewPacketContext builds the initial context for a frame arriving on
// inPort, per OF 1.3: in_port, in_phy_port set, metadata zeroed.
func NewPacketContext(data []byte, inPort ofp.PortNo) *PacketContext {
	pc := &PacketContext{
		Buffer:    ofp.NewBuffer(data, 64),
		InPort:    inPort,
		InPhyPort: inPort,
	}
	pc.decode()
	return pc
}

func (pc *PacketContext) decode() {
	pc.packet = gopacket.NewPacket(pc.Buffer.Bytes(), layers.LayerTypeEthernet, gopacket.DecodeOptions{
		Lazy:   true,
		NoCopy: true,
	})
}

// hashKey returns the bytes a SELECT group hashes bucket choice on:
// the input port and, when present, the Ethernet and IPv4 addresses of
// the packet. It is deliberately simple and deterministic rather than
// cryptographically strong.
func (pc *PacketContext) hashKey() []byte {
	key := make([]byte, 0, 32)
	key = append(key, byte(pc.InPort), byte(pc.InPort>>8), byte(pc.InPort>>16), byte(pc.InPort>>24))

	if pc.packet == nil {
		return key
	}
	if eth := pc.ethernet(); eth != nil {
		key = append(key, eth.SrcMAC...)
		key = append(key, eth.DstMAC...)
	}
	if ip := pc.ipv4(); ip != nil {
		key = append(key, ip.SrcIP...)
		key = append(key, ip.DstIP...)
	}
	return key
}

func (pc *PacketContext) ethernet() *layers.Ethernet {
	if l := pc.packet.Layer(layers.LayerTypeEthernet); l != nil {
		return l.(*layers.Ethernet)
	}
	return nil
}

func (pc *PacketContext) ipv4() *layers.IPv4 {
	if l := pc.packet.Layer(layers.LayerTypeIPv4); l != nil {
		return l.(*layers.IPv4)
	}
	return nil
}

// Match builds the extensible match fields used to look a packet up
// against installed flow entries: in_port plus whatever protocol
// fields gopacket successfully decoded.
func (pc *PacketContext) Match() ofp.Match {
	var m ofp.Match
	m.Type = ofp.MatchTypeXM

	portBytes := []byte{byte(pc.InPort >> 24), byte(pc.InPort >> 16), byte(pc.InPort >> 8), byte(pc.InPort)}
	ofp.AppendXM(&m, ofp.XMTypeInPort, portBytes, nil)

	if eth := pc.ethernet(); eth != nil {
		ofp.AppendXM(&m, ofp.XMTypeEthSrc, []byte(eth.SrcMAC), nil)
		ofp.AppendXM(&m, ofp.XMTypeEthDst, []byte(eth.DstMAC), nil)
		et := uint16(eth.EthernetType)
		ofp.AppendXM(&m, ofp.XMTypeEthType, []byte{byte(et >> 8), byte(et)}, nil)
	}

	if ip := pc.ipv4(); ip != nil {
		ofp.AppendXM(&m, ofp.XMTypeIPProto, []byte{byte(ip.Protocol)}, nil)
		ofp.AppendXM(&m, ofp.XMTypeIPv4Src, []byte(ip.SrcIP.To4()), nil)
		ofp.AppendXM(&m, ofp.XMTypeIPv4Dst, []byte(ip.DstIP.To4()), nil)
	}

	return m
}

// OutputFunc delivers a packet to a concrete egress port, or to the
// controller when port == ofp.PortController (the caller is expected
// to translate that into a packet_in message).
type OutputFunc func(port ofp.PortNo, pc *PacketContext, maxLen uint16)

// Pipeline drives a chain of flow tables for a single datapath: table
// lookup, canonical instruction evaluation, and action-set execution
// on table-miss-of-goto-table, per the OpenFlow 1.3 pipeline model.
type Pipeline struct {
	Tables []*FlowTable
	Groups *GroupTable

	// Output delivers packets to their egress port; required.
	Output OutputFunc

	// TableMissSendLen bounds the payload of a table-miss packet_in,
	// mirroring miss_send_len from the switch configuration.
	TableMissSendLen uint16

	// OnError is invoked, outside any lock, whenever action execution
	// aborts abnormally instead of completing silently. The only
	// abnormal abort the software pipeline currently detects is a group
	// action naming an unknown group or recursing past maxGroupDepth,
	// reported as ErrBadOutGroup; a Datapath wires this to an
	// ofp.Error(ErrTypeBadAction, ErrCodeBadActionOutGroup) sent to the peer.
	OnError func(pc *PacketContext, err error)

	Log *logrus.Logger
}

func (p *Pipeline) logger() *logrus.Logger {
	if p.Log != nil {
		return p.Log
	}
	return logrus.StandardLogger()
}

// Process runs pkt through the table chain starting at table 0.
func (p *Pipeline) Process(pc *PacketContext) {
	p.walk(pc, 0)
}

// ExecuteActionList runs actions against pc directly, bypassing table
// lookup. A packet-out message carries its action list explicitly
// rather than naming a table to evaluate, so it is executed this way
// instead of through Process.
func (p *Pipeline) ExecuteActionList(pc *PacketContext, actions ofp.Actions) {
	p.executeActions(pc, actions)
}

func (p *Pipeline) walk(pc *PacketContext, tableID ofp.Table) {
	if int(tableID) >= len(p.Tables) {
		return
	}

	table := p.Tables[tableID]
	match := pc.Match()

	entry := table.Lookup(match)
	if entry == nil {
		p.tableMiss(pc, table)
		return
	}

	table.Hit(entry, pc.Buffer.Len())

	next, goesTo := p.evalInstructions(pc, entry.Instructions)
	if goesTo {
		p.walk(pc, next)
		return
	}

	p.executeActionSet(pc)
}

// evalInstructions applies entry's instruction set in the canonical
// order required by the spec: apply-actions, clear-actions,
// write-actions, write-metadata, meter, goto-table.
func (p *Pipeline) evalInstructions(pc *PacketContext, insts ofp.Instructions) (next ofp.Table, goesTo bool) {
	var (
		applyActions ofp.Actions
		writeActions ofp.Actions
		clear        bool
		writeMeta    *ofp.InstructionWriteMetadata
		gotoTable    *ofp.InstructionGotoTable
	)

	for _, inst := range insts {
		switch i := inst.(type) {
		case *ofp.InstructionApplyActions:
			applyActions = i.Actions
		case *ofp.InstructionClearActions:
			clear = true
		case *ofp.InstructionWriteActions:
			writeActions = i.Actions
		case *ofp.InstructionWriteMetadata:
			writeMeta = i
		case *ofp.InstructionGotoTable:
			gotoTable = i
		}
	}

	// 1. Apply-actions: executed immediately against the packet itself,
	// in list order.
	if len(applyActions) > 0 {
		p.executeActions(pc, applyActions)
	}

	// 2. Clear-actions.
	if clear {
		pc.actionSet = nil
	}

	// 3. Write-actions: merge into the pending action set, replacing
	// any action of the same kind already staged, per OF 1.3 action
	// set semantics.
	if len(writeActions) > 0 {
		pc.mergeActionSet(writeActions)
	}

	// 4. Write-metadata.
	if writeMeta != nil {
		pc.Metadata = (pc.Metadata &^ writeMeta.MetadataMask) | (writeMeta.Metadata & writeMeta.MetadataMask)
	}

	// 5. Meter: metering/rate-limiting bands are out of scope for the
	// software pipeline; a meter instruction is a no-op pass-through.

	// 6. Goto-table.
	if gotoTable != nil {
		return gotoTable.Table, true
	}

	return 0, false
}

// mergeActionSet installs actions into the pending action set,
// replacing any existing entry for the same action type so the set
// never carries two actions of one kind, matching OF 1.3 action-set
// semantics (distinct from apply-actions, which is an ordered list).
func (pc *PacketContext) mergeActionSet(actions ofp.Actions) {
	for _, a := range actions {
		replaced := false
		for i, existing := range pc.actionSet {
			if existing.Type() == a.Type() {
				pc.actionSet[i] = a
				replaced = true
				break
			}
		}
		if !replaced {
			pc.actionSet = append(pc.actionSet, a)
		}
	}
}

// actionSetOrder ranks action types per the OF 1.3 canonical
// action-set execution order: copy_ttl_in, pop_*, push_*,
// copy_ttl_out, decrement_ttl, set_*, qos, group, output.
func actionSetOrder(t ofp.ActionType) int {
	switch t {
	case ofp.ActionTypeCopyTTLIn:
		return 0
	case ofp.ActionTypePopVLAN, ofp.ActionTypePopMPLS, ofp.ActionTypePopPBB:
		return 1
	case ofp.ActionTypePushVLAN, ofp.ActionTypePushMPLS, ofp.ActionTypePushPBB:
		return 2
	case ofp.ActionTypeCopyTTLOut:
		return 3
	case ofp.ActionTypeDecMPLSTTL, ofp.ActionTypeDecNwTTL:
		return 4
	case ofp.ActionTypeSetMPLSTTL, ofp.ActionTypeSetNwTTL, ofp.ActionTypeSetField:
		return 5
	case ofp.ActionTypeSetQueue:
		return 6
	case ofp.ActionTypeGroup:
		return 7
	case ofp.ActionTypeOutput:
		return 8
	}
	return 9
}

// reorderActionSet sorts a copy of actions into the canonical
// execution order. It is a stable sort so actions that land in the
// same bucket (there is at most one per action type in a legal action
// set) keep their relative order.
func reorderActionSet(actions []ofp.Action) []ofp.Action {
	out := append([]ofp.Action(nil), actions...)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && actionSetOrder(out[j].Type()) < actionSetOrder(out[j-1].Type()); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

func (p *Pipeline) executeActionSet(pc *PacketContext) {
	ordered := reorderActionSet(pc.actionSet)
	p.executeActions(pc, ordered)
}

// executeActions runs actions, in list order, against pc.
func (p *Pipeline) executeActions(pc *PacketContext, actions ofp.Actions) {
	for _, a := range actions {
		p.executeAction(pc, a)
	}
}

func (p *Pipeline) executeAction(pc *PacketContext, a ofp.Action) {
	switch act := a.(type) {
	case *ofp.ActionOutput:
		p.output(act.Port, pc, act.MaxLen)

	case *ofp.ActionGroup:
		p.executeGroup(pc, act.Group)

	case *ofp.ActionSetField:
		pc.setField(act.Field)

	case *ofp.ActionPushVLAN, *ofp.ActionPopVLAN, *ofp.ActionPushMPLS, *ofp.ActionPopMPLS:
		// Header push/pop actions mutate pc.Buffer directly and
		// re-decode; the concrete byte-level rewrite is
		// protocol-specific and delegated to pc.rewriteEncap.
		pc.rewriteEncap(a)

	case *ofp.ActionSetQueue, *ofp.ActionCopyTTLIn, *ofp.ActionCopyTTLOut,
		*ofp.ActionSetMPLSTTL, *ofp.ActionDecMPLSTTL,
		*ofp.ActionSetNetworkTTL, *ofp.ActionDecNetworkTTL:
		// TTL/QoS bookkeeping actions do not change forwarding
		// decisions made by the software pipeline; they are valid
		// but have no observable effect without a real link layer.
	}
}

func (p *Pipeline) output(port ofp.PortNo, pc *PacketContext, maxLen uint16) {
	if p.Output == nil {
		return
	}
	p.Output(port, pc, maxLen)
}

func (p *Pipeline) executeGroup(pc *PacketContext, id ofp.Group) {
	if pc.depth >= maxGroupDepth {
		p.logger().WithField("group", id).Warn("datapath: group recursion bound exceeded")
		p.reportError(pc, ErrBadOutGroup)
		return
	}

	entry := p.Groups.Lookup(id)
	if entry == nil {
		p.logger().WithField("group", id).Warn("datapath: unknown group referenced")
		p.reportError(pc, ErrBadOutGroup)
		return
	}

	for _, idx := range p.Groups.selectBuckets(entry, pc) {
		bucket := entry.Buckets[idx]
		clone := pc.clone()
		clone.depth++
		p.executeActions(clone, bucket.Actions)
	}
}

// reportError surfaces an action-execution failure to OnError, if set.
func (p *Pipeline) reportError(pc *PacketContext, err error) {
	if p.OnError != nil {
		p.OnError(pc, err)
	}
}

// clone returns a copy of pc suitable for independent bucket
// execution (ALL groups run every bucket against a fresh copy of the
// packet).
func (pc *PacketContext) clone() *PacketContext {
	cp := &PacketContext{
		Buffer:    pc.Buffer.Clone(),
		InPort:    pc.InPort,
		InPhyPort: pc.InPhyPort,
		Metadata:  pc.Metadata,
		TunnelID:  pc.TunnelID,
		Cookie:    pc.Cookie,
		actionSet: append([]ofp.Action(nil), pc.actionSet...),
		depth:     pc.depth,
	}
	cp.decode()
	return cp
}

func (p *Pipeline) tableMiss(pc *PacketContext, table *FlowTable) {
	if int(table.ID)+1 < len(p.Tables) {
		// No table-miss entry handling is distinguished from an
		// explicit miss flow in this software pipeline: absence of
		// any matching entry (including a wildcard-all miss entry,
		// which Lookup would have returned) always falls through to
		// the default packet_in below.
	}

	sendLen := p.TableMissSendLen
	if sendLen == 0 {
		sendLen = 128
	}
	p.output(ofp.PortController, pc, sendLen)
}
