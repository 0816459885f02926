package era835

import (
	"math/rand/v2"
	"regexp"
	"strconv"

	"github.com/drfirst/go-era/internal/era"
)

// DateMode selects the output width of FormatDate
type DateMode int

const (
	// Short renders YYMMDD (ISA09)
	Short DateMode = iota
	// Century renders YYYYMMDD (GS04, DTM, BPR16, TS3)
	Century
)

var eightDigits = regexp.MustCompile(`^\d{8}$`)

// FormatDate renders a YYYYMMDD date in the requested mode.
// Input that is not exactly eight digits is returned unchanged.
func FormatDate(date string, mode DateMode) string {
	if !eightDigits.MatchString(date) {
		return date
	}
	if mode == Short {
		return date[2:]
	}
	return date
}

// Control number bounds (ISA13 is nine digits)
const (
	minControlNumber = 100000000
	maxControlNumber = 999999999
)

// ControlNumberSource supplies interchange control numbers
type ControlNumberSource interface {
	Next() string
}

// ControlNumberFunc adapts a function to ControlNumberSource
type ControlNumberFunc func() string

// Next returns the next control number
func (f ControlNumberFunc) Next() string { return f() }

// RandomControlNumbers draws uniformly from [100000000, 999999999]
var RandomControlNumbers ControlNumberSource = ControlNumberFunc(func() string {
	return strconv.FormatInt(minControlNumber+rand.Int64N(maxControlNumber-minControlNumber+1), 10)
})

// FixedControlNumber always returns n
func FixedControlNumber(n string) ControlNumberSource {
	return ControlNumberFunc(func() string { return n })
}

// adjustmentGroup is one CAS segment worth of adjustments
type adjustmentGroup struct {
	code    string
	members []era.Adjustment
}

// groupAdjustments groups complete adjustments by group code. Groups appear in the
// order their code was first seen; members keep their original order.
func groupAdjustments(adjs []era.Adjustment) []adjustmentGroup {
	var groups []adjustmentGroup
	index := make(map[string]int)
	for _, adj := range adjs {
		if !adj.Complete() {
			continue
		}
		i, ok := index[adj.GroupCode]
		if !ok {
			i = len(groups)
			index[adj.GroupCode] = i
			groups = append(groups, adjustmentGroup{code: adj.GroupCode})
		}
		groups[i].members = append(groups[i].members, adj)
	}
	return groups
}

// elements renders the group as CAS elements: group code then reason/amount pairs
func (g adjustmentGroup) elements() []string {
	elems := make([]string, 0, 1+2*len(g.members))
	elems = append(elems, g.code)
	for _, adj := range g.members {
		elems = append(elems, adj.ReasonCode, adj.Amount)
	}
	return elems
}
