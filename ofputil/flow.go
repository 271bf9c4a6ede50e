package ofputil

import (
	of "github.com/netflowctl/ofcore"
	"github.com/netflowctl/ofcore/ofp"
)

func TableFlush(table ofp.Table) *of.Request {
	body, _ := of.NewReader(&ofp.FlowMod{
		Table:    table,
		Command:  ofp.FlowDelete,
		BufferID: ofp.NoBuffer,
		OutPort:  ofp.PortAny,
		OutGroup: ofp.GroupAny,
		Match:    ofp.Match{ofp.MatchTypeXM, nil},
	})

	r, _ := of.NewRequest(of.TypeFlowMod, body)
	return r
}

func FlowFlush(table ofp.Table, match ofp.Match) *of.Request {
	body, _ := of.NewReader(&ofp.FlowMod{
		Table:    table,
		Command:  ofp.FlowDelete,
		BufferID: ofp.NoBuffer,
		OutPort:  ofp.PortAny,
		OutGroup: ofp.GroupAny,
		Match:    match,
	})

	r, _ := of.NewRequest(of.TypeFlowMod, body)
	return r
}

func FlowDrop(table ofp.Table) *of.Request {
	body, _ := of.NewReader(&ofp.FlowMod{
		Table:    table,
		Command:  ofp.FlowAdd,
		BufferID: ofp.NoBuffer,
		Match:    ofp.Match{ofp.MatchTypeXM, nil},
	})

	r, _ := of.NewRequest(of.TypeFlowMod, body)
	return r
}
