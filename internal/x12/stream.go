package x12

import "strings"

// Stream accumulates segments in emission order and tracks the open transaction set
type Stream struct {
	segments         []Segment
	transactionStart int
}

// NewStream creates an empty stream
func NewStream() *Stream {
	return &Stream{transactionStart: -1}
}

// Add appends a segment
func (s *Stream) Add(id string, elements ...string) {
	s.segments = append(s.segments, NewSegment(id, elements...))
}

// AddIf appends a segment only when cond holds
func (s *Stream) AddIf(cond bool, id string, elements ...string) {
	if cond {
		s.Add(id, elements...)
	}
}

// BeginTransaction appends the ST segment and records its position for the SE count
func (s *Stream) BeginTransaction(elements ...string) {
	s.transactionStart = len(s.segments)
	s.Add(SegmentST, elements...)
}

// TransactionSegmentCount returns the SE01 value for a transaction closed now:
// segments from ST inclusive plus the SE segment itself
func (s *Stream) TransactionSegmentCount() int {
	if s.transactionStart < 0 {
		return 0
	}
	return len(s.segments) - s.transactionStart + 1
}

// Segments returns the accumulated segments
func (s *Stream) Segments() []Segment {
	return s.segments
}

// Len returns the number of segments emitted so far
func (s *Stream) Len() int {
	return len(s.segments)
}

// String renders the stream: segments separated by "~\n" with a trailing "~"
func (s *Stream) String() string {
	var b strings.Builder
	for i, seg := range s.segments {
		if i > 0 {
			b.WriteString(SegmentSeparator)
		}
		b.WriteString(seg.String())
	}
	b.WriteString(SegmentTerminator)
	return b.String()
}
