// Package x12 provides the segment model and delimiters for ASC X12 flat files.
package x12

import "strings"

// Delimiters used by generated interchanges
const (
	ElementSeparator    = "*"
	ComponentSeparator  = ":"
	RepetitionSeparator = "^"
	SegmentTerminator   = "~"
	// SegmentSeparator is placed between segments so each starts on its own line
	SegmentSeparator = SegmentTerminator + "\n"
)

// Envelope segment identifiers
const (
	SegmentISA = "ISA"
	SegmentGS  = "GS"
	SegmentST  = "ST"
	SegmentSE  = "SE"
	SegmentGE  = "GE"
	SegmentIEA = "IEA"
)

// Version identifiers
const (
	InterchangeVersion = "00501"
	// ISA05/ISA07 and ISA authorization/security fields are blank-padded to this width
	ISAQualifierWidth = 10
	// ISA06/ISA08 sender and receiver ids are blank-padded to this width
	ISAIDWidth = 15
)

// Segment is a tag followed by its elements
type Segment struct {
	ID       string
	Elements []string
}

// NewSegment creates a segment from its id and elements
func NewSegment(id string, elements ...string) Segment {
	return Segment{ID: id, Elements: elements}
}

// Element returns the element at the X12 position (1-based). Missing positions are empty.
func (s Segment) Element(pos int) string {
	if pos < 1 || pos > len(s.Elements) {
		return ""
	}
	return s.Elements[pos-1]
}

// String renders the segment without its terminator
func (s Segment) String() string {
	var b strings.Builder
	b.WriteString(s.ID)
	for _, e := range s.Elements {
		b.WriteString(ElementSeparator)
		b.WriteString(e)
	}
	return b.String()
}

// Composite joins component values into one composite element
func Composite(components ...string) string {
	return strings.Join(components, ComponentSeparator)
}

// PadRight blank-pads s to width. Longer values are left untouched.
func PadRight(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}

// Blank returns a field of width spaces
func Blank(width int) string {
	return strings.Repeat(" ", width)
}
