package ofp

import (
	"bytes"
	"errors"
)

// ErrDupField is returned by AppendXM when the match already carries
// an entry for the basic field being appended.
var ErrDupField = errors.New("ofp: duplicate match field")

// AppendXM appends a basic-class extensible match field to m. A mask
// consisting entirely of one bits is equivalent to no mask at all, so
// it is dropped to produce the canonical exact-match encoding. value
// and mask must be of equal length when mask is non-empty.
func AppendXM(m *Match, typ XMType, value, mask XMValue) error {
	for _, xm := range m.Fields {
		if xm.Class == XMClassOpenflowBasic && xm.Type == typ {
			return ErrDupField
		}
	}

	if isAllOnes(mask) {
		mask = nil
	}

	m.Fields = append(m.Fields, XM{
		Class: XMClassOpenflowBasic,
		Type:  typ,
		Value: append(XMValue(nil), value...),
		Mask:  append(XMValue(nil), mask...),
	})

	return nil
}

func isAllOnes(mask XMValue) bool {
	if len(mask) == 0 {
		return false
	}
	for _, b := range mask {
		if b != 0xff {
			return false
		}
	}
	return true
}

// SerializedLength returns the number of bytes the match occupies on
// the wire, including the type/length header and the trailing padding
// up to a multiple of eight bytes.
func (m *Match) SerializedLength() int {
	length := 4
	for _, xm := range m.Fields {
		length += xmlen + len(xm.Value) + len(xm.Mask)
	}
	return length + len(makePad(length))
}

// maskedValue ANDs value with mask, or returns value unchanged when
// mask is empty (an exact-match field has an implicit all-ones mask).
func maskedValue(value, mask XMValue) []byte {
	if len(mask) == 0 {
		return value
	}

	out := make([]byte, len(value))
	for i := range out {
		if i < len(mask) {
			out[i] = value[i] & mask[i]
		}
	}
	return out
}

// CompareMatch reports whether x and y describe the same set of
// packets.
//
// In loose mode (strict=false), x is treated as a subset test: every
// field present in x must be present in y with a mask that covers
// every bit of x's mask and a value that agrees with x's over x's
// mask, so y describes a set of packets no broader than x's. Flow
// table lookup passes the installed entry as x and the packet's
// exact match as y; non-strict modify and delete pass the request's
// match as x and each installed entry as y.
//
// In strict mode (strict=true), x and y must carry exactly the same
// set of fields, each with identical value and mask, which is the
// relation used by OFPFC_MODIFY_STRICT/OFPFC_DELETE_STRICT and by
// table-miss overlap checks.
//
// A field whose mask bits are clear on a value bit that is set is
// ambiguous input; CompareMatch always normalizes by ANDing the value
// with its mask before comparing; see DESIGN.md.
func CompareMatch(x, y Match, strict bool) bool {
	if strict {
		if len(x.Fields) != len(y.Fields) {
			return false
		}
	}

	for _, xf := range x.Fields {
		yf := y.Field(xf.Type)
		if yf == nil {
			return false
		}

		if !compareField(xf, *yf, strict) {
			return false
		}
	}

	return true
}

func compareField(x, y XM, strict bool) bool {
	if strict {
		return bytes.Equal(x.Mask, y.Mask) &&
			bytes.Equal(maskedValue(x.Value, x.Mask), maskedValue(y.Value, y.Mask))
	}

	// Loose comparison: y must be no broader than x. Every bit set in
	// x's mask must also be set in y's mask (an absent mask means all
	// bits), and the values must agree over the bits x cares about.
	if len(y.Mask) > 0 {
		if len(x.Mask) == 0 {
			return false
		}
		for i := range x.Mask {
			if i >= len(y.Mask) || x.Mask[i]&^y.Mask[i] != 0 {
				return false
			}
		}
	}

	mv := maskedValue(y.Value, x.Mask)
	xv := maskedValue(x.Value, x.Mask)
	return bytes.Equal(mv, xv)
}
