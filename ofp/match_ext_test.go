package ofp

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func roundTripMatch(t *testing.T, m Match) Match {
	t.Helper()

	var buf bytes.Buffer
	if _, err := m.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}

	var got Match
	if _, err := got.ReadFrom(&buf); err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	return got
}

func TestMatchRoundTripPreservesFields(t *testing.T) {
	var m Match
	m.Type = MatchTypeXM

	if err := AppendXM(&m, XMTypeInPort, XMValue{0, 0, 0, 7}, nil); err != nil {
		t.Fatalf("AppendXM: %v", err)
	}
	if err := AppendXM(&m, XMTypeEthType, XMValue{0x08, 0x00}, nil); err != nil {
		t.Fatalf("AppendXM: %v", err)
	}
	if err := AppendXM(&m, XMTypeIPv4Src, XMValue{192, 168, 1, 0}, XMValue{255, 255, 255, 0}); err != nil {
		t.Fatalf("AppendXM: %v", err)
	}

	got := roundTripMatch(t, m)

	if diff := cmp.Diff(m, got); diff != "" {
		t.Fatalf("match round-trip mismatch (-want +got):\n%s", diff)
	}
}

func TestMatchRoundTripDropsAllOnesMask(t *testing.T) {
	var m Match
	m.Type = MatchTypeXM

	if err := AppendXM(&m, XMTypeIPv4Dst, XMValue{10, 0, 0, 1}, XMValue{255, 255, 255, 255}); err != nil {
		t.Fatalf("AppendXM: %v", err)
	}

	f := m.Field(XMTypeIPv4Dst)
	if f == nil {
		t.Fatal("expected IPv4Dst field")
	}
	if f.Mask != nil {
		t.Fatalf("expected all-ones mask to be dropped, got %v", f.Mask)
	}

	got := roundTripMatch(t, m)
	if diff := cmp.Diff(m, got); diff != "" {
		t.Fatalf("match round-trip mismatch (-want +got):\n%s", diff)
	}
}

func TestCompareMatchStrictRequiresExactFieldSet(t *testing.T) {
	var narrow, wide Match
	narrow.Type, wide.Type = MatchTypeXM, MatchTypeXM

	AppendXM(&narrow, XMTypeInPort, XMValue{0, 0, 0, 1}, nil)
	AppendXM(&wide, XMTypeInPort, XMValue{0, 0, 0, 1}, nil)
	AppendXM(&wide, XMTypeEthType, XMValue{0x08, 0x00}, nil)

	if CompareMatch(narrow, wide, true) {
		t.Fatal("strict compare must not consider a subset of fields equal")
	}
	if !CompareMatch(narrow, wide, false) {
		t.Fatal("loose compare must consider a matching subset equal")
	}
}
