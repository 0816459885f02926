package era835

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/drfirst/go-era/internal/era"
)

func TestFormatDate(t *testing.T) {
	tests := []struct {
		in      string
		short   string
		century string
	}{
		{"20240311", "240311", "20240311"},
		{"2024-03-11", "2024-03-11", "2024-03-11"},
		{"2024031", "2024031", "2024031"},
		{"202403111", "202403111", "202403111"},
		{"", "", ""},
		{"2024031a", "2024031a", "2024031a"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.short, FormatDate(tt.in, Short), "short %q", tt.in)
		assert.Equal(t, tt.century, FormatDate(tt.in, Century), "century %q", tt.in)
	}
}

func TestRandomControlNumbers(t *testing.T) {
	for i := 0; i < 1000; i++ {
		n := RandomControlNumbers.Next()
		assert.Len(t, n, 9)
		v, err := strconv.Atoi(n)
		assert.NoError(t, err)
		assert.GreaterOrEqual(t, v, minControlNumber)
		assert.LessOrEqual(t, v, maxControlNumber)
	}
}

func TestGroupAdjustmentsStableOrder(t *testing.T) {
	groups := groupAdjustments([]era.Adjustment{
		{GroupCode: "OA", ReasonCode: "23", Amount: "1"},
		{GroupCode: "CO", ReasonCode: "45", Amount: "2"},
		{GroupCode: "OA", ReasonCode: "94", Amount: "3"},
		{GroupCode: "PR", ReasonCode: "", Amount: "4"},
	})

	assert.Len(t, groups, 2)
	assert.Equal(t, []string{"OA", "23", "1", "94", "3"}, groups[0].elements())
	assert.Equal(t, []string{"CO", "45", "2"}, groups[1].elements())

	assert.Empty(t, groupAdjustments(nil))
}
