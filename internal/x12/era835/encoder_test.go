package era835_test

import (
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drfirst/go-era/internal/era"
	"github.com/drfirst/go-era/internal/x12/era835"
)

var fixedNow = time.Date(2024, time.March, 20, 9, 5, 0, 0, time.UTC)

func newTestEncoder() *era835.Encoder {
	return era835.NewEncoder(
		era835.WithClock(func() time.Time { return fixedNow }),
		era835.WithControlNumbers(era835.FixedControlNumber("123456789")),
	)
}

func loadSample(t *testing.T) *era.Document {
	t.Helper()
	f, err := os.Open("../../../test/fixtures/era_sample.json")
	require.NoError(t, err)
	defer f.Close()

	doc, err := era.Decode(f, "era_sample.json")
	require.NoError(t, err)
	return doc
}

func segmentsOf(text string) []string {
	trimmed := strings.TrimSuffix(text, "~")
	return strings.Split(trimmed, "~\n")
}

func withPrefix(segs []string, prefix string) []string {
	var out []string
	for _, s := range segs {
		if strings.HasPrefix(s, prefix) {
			out = append(out, s)
		}
	}
	return out
}

func TestEncodeSampleDocument(t *testing.T) {
	doc := loadSample(t)

	expected := strings.Join([]string{
		"ISA*00*          *00*          *ZZ*60054          *ZZ*17131          *240320*0905*^*00501*123456789*0*P*:",
		"GS*HP*60054*17131*20240320*0905*1*X*005010X221A1",
		"ST*835*0001",
		"BPR*I*99.11*C*ACH*CCP*01*011900445*DA*0000009146*1066033492**01*021205376*DA*625422108*20240319",
		"TRN*1*882407301078256*1066033492",
		"REF*EV*030240928",
		"DTM*405*20240320",
		"N1*PR*AETNA",
		"N3*151 FARMINGTON AVENUE",
		"N4*HARTFORD*CT*06156",
		"REF*2U*AETNA",
		"PER*BL*PROVIDER SERVICE",
		"PER*CX*UNSPECIFIED*TE*0000000000",
		"N1*PE*INTEGRATIVE ACUPUNCTURE CENTER*XX*1952479487",
		"N3*69 W RIDGEWOOD AVE",
		"N4*RIDGEWOOD*NJ*07450",
		"REF*TJ*721574569",
		"LX*1",
		"TS3*1952479487*11*20240319*1*480.00",
		"CLP*V391*1*480*99.11*10*12*E7369ZQKW0000*11*1",
		"NM1*QC*1*ISIK*TERESA****MI*101262932500",
		"NM1*82*1*GOLDSTEIN*JOSHUA****XX*1952479487",
		"REF*1L*100024-02EG0029",
		"REF*CE*ESA - MEDICARE MA (AETNA)",
		"DTM*232*20240311",
		"DTM*233*20240311",
		"DTM*050*20240312",
		"PER*CX**TE*8886323862",
		"AMT*AU*480",
		"CAS*PR*3*10",
		"SVC*HC:97811*240*50.39**2",
		"DTM*472*20240311",
		"CAS*CO*253*1.03*45*178.58",
		"REF*6R*V687C1269I1",
		"AMT*B6*61.42",
		"LQ*HE*N669",
		"SVC*HC:97813*240*48.72**1",
		"DTM*472*20240311",
		"CAS*CO*253*.99*45*190.29",
		"REF*6R*V687C1268I2",
		"AMT*B6*49.71",
		"LQ*HE*N669",
		"SE*41*0001",
		"GE*1*1",
		"IEA*1*123456789",
	}, "~\n") + "~"

	res := newTestEncoder().Build(doc)
	assert.Equal(t, expected, res.Text)
	assert.Equal(t, "123456789", res.InterchangeControlNumber)
	assert.Equal(t, 45, res.SegmentCount)
	assert.Equal(t, 41, res.TransactionSegmentCount)
	assert.Equal(t, 1, res.ClaimCount)
	assert.Equal(t, 2, res.ServiceLineCount)
	assert.Equal(t, "ERA835_20240319_882407301078256.txt", res.Filename)
	assert.Equal(t, fixedNow, res.GeneratedAt)
}

func TestEncodeSampleProperties(t *testing.T) {
	segs := segmentsOf(newTestEncoder().Encode(loadSample(t)))

	assert.Equal(t, []string{"LX*1"}, withPrefix(segs, "LX*"))
	assert.Len(t, withPrefix(segs, "CLP*"), 1)
	assert.Equal(t, []string{"CAS*PR*3*10"}, withPrefix(segs, "CAS*PR"))

	svc := withPrefix(segs, "SVC*")
	require.Len(t, svc, 2)
	assert.True(t, strings.HasPrefix(svc[0], "SVC*HC:97811*"))
	assert.True(t, strings.HasPrefix(svc[1], "SVC*HC:97813*"))

	ts3 := withPrefix(segs, "TS3*")
	require.Len(t, ts3, 1)
	assert.True(t, strings.HasSuffix(ts3[0], "*480.00"))
}

func TestEncodeDoesNotMutateInput(t *testing.T) {
	doc := loadSample(t)
	before, err := doc.ToJSON()
	require.NoError(t, err)

	newTestEncoder().Encode(doc)

	after, err := doc.ToJSON()
	require.NoError(t, err)
	assert.JSONEq(t, string(before), string(after))
}

func TestEncodeEmptyClaims(t *testing.T) {
	doc := loadSample(t)
	doc.Claims = nil

	res := newTestEncoder().Build(doc)
	segs := segmentsOf(res.Text)

	assert.Len(t, withPrefix(segs, "ISA*"), 1)
	assert.Len(t, withPrefix(segs, "IEA*"), 1)
	assert.Empty(t, withPrefix(segs, "LX*"))
	assert.Empty(t, withPrefix(segs, "TS3*"))

	stIndex, seIndex := -1, -1
	for i, s := range segs {
		switch {
		case strings.HasPrefix(s, "ST*"):
			stIndex = i
		case strings.HasPrefix(s, "SE*"):
			seIndex = i
		}
	}
	require.GreaterOrEqual(t, stIndex, 0)
	require.Greater(t, seIndex, stIndex)
	assert.Equal(t, "SE*16*0001", segs[seIndex])
	assert.Equal(t, seIndex-stIndex+1, res.TransactionSegmentCount)
}

func TestEncodeZeroDocument(t *testing.T) {
	text := newTestEncoder().Encode(&era.Document{})

	expected := strings.Join([]string{
		"ISA*00*          *00*          *ZZ*               *ZZ*               *240320*0905*^*00501*123456789*0*P*:",
		"GS*HP***20240320*0905*1*X*005010X221A1",
		"ST*835*0001",
		"BPR*I**C**CCP*01*011900445*DA*0000009146***01*021205376*DA*625422108*20240320",
		"TRN*1**",
		"DTM*405*20240320",
		"N1*PR*",
		"N1*PE**XX*",
		"SE*7*0001",
		"GE*1*1",
		"IEA*1*123456789",
	}, "~\n") + "~"
	assert.Equal(t, expected, text)

	assert.Equal(t, text, newTestEncoder().Encode(nil))
}

func TestEnvelopeControlNumbersMatch(t *testing.T) {
	enc := era835.NewEncoder(era835.WithClock(func() time.Time { return fixedNow }))

	for i := 0; i < 20; i++ {
		segs := segmentsOf(enc.Encode(loadSample(t)))
		isa := strings.Split(segs[0], "*")
		gs := strings.Split(segs[1], "*")
		ge := strings.Split(segs[len(segs)-2], "*")
		iea := strings.Split(segs[len(segs)-1], "*")

		require.Len(t, isa, 17)
		assert.Len(t, isa[13], 9)
		assert.Equal(t, isa[13], iea[2])
		assert.Equal(t, gs[6], ge[2])
	}
}

func TestClaimAdjustmentGrouping(t *testing.T) {
	doc := &era.Document{Claims: []era.Claim{{
		PatientControlNumber: "A1",
		Adjustments: []era.Adjustment{
			{GroupCode: "CO", ReasonCode: "45", Amount: "10"},
			{GroupCode: "PR", ReasonCode: "1", Amount: "20"},
			{GroupCode: "CO", ReasonCode: "", Amount: "99"},
			{GroupCode: "", ReasonCode: "2", Amount: "5"},
			{GroupCode: "OA", ReasonCode: "23", Amount: ""},
			{GroupCode: "PR", ReasonCode: "2", Amount: "30"},
			{GroupCode: "CO", ReasonCode: "253", Amount: "1.5"},
		},
	}}}

	cas := withPrefix(segmentsOf(newTestEncoder().Encode(doc)), "CAS*")
	assert.Equal(t, []string{
		"CAS*CO*45*10*253*1.5",
		"CAS*PR*1*20*2*30",
	}, cas)
}

func TestServiceLineSegments(t *testing.T) {
	tests := []struct {
		name     string
		line     era.ServiceLine
		expected []string
	}{
		{
			name: "modifiers skip empty slots",
			line: era.ServiceLine{ProcedureCode: "97811", Modifier2: "GP", Modifier4: "59", SubmittedAmount: "100", PaidAmount: "80", Units: "1", AdjudicationDate: "2024-03-11"},
			expected: []string{
				"SVC*HC:97811:GP:59*100*80**1",
				"DTM*472*2024-03-11",
			},
		},
		{
			name: "allowed amount zero is omitted",
			line: era.ServiceLine{ProcedureCode: "A1", AllowedAmount: "0.00", AdjudicationDate: "20240311"},
			expected: []string{
				"SVC*HC:A1****",
				"DTM*472*20240311",
			},
		},
		{
			name: "allowed amount non-numeric is omitted",
			line: era.ServiceLine{ProcedureCode: "A1", AllowedAmount: "n/a", AdjudicationDate: "20240311"},
			expected: []string{
				"SVC*HC:A1****",
				"DTM*472*20240311",
			},
		},
		{
			name: "remarks and references",
			line: era.ServiceLine{
				ProcedureCode:         "99213",
				AllowedAmount:         "12.5",
				AdjudicationDate:      "20240311",
				LineItemControlNumber: "L1",
				RemarkCodes:           " N669, ,M15 ,",
				Adjustments: []era.Adjustment{
					{GroupCode: "CO", ReasonCode: "45", Amount: "3"},
					{GroupCode: "OA", ReasonCode: "23", Amount: "4"},
				},
			},
			expected: []string{
				"SVC*HC:99213****",
				"DTM*472*20240311",
				"CAS*CO*45*3",
				"CAS*OA*23*4",
				"REF*6R*L1",
				"AMT*B6*12.5",
				"LQ*HE*N669",
				"LQ*HE*M15",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := &era.Document{Claims: []era.Claim{{ServiceLines: []era.ServiceLine{tt.line}}}}
			segs := segmentsOf(newTestEncoder().Encode(doc))

			start := -1
			for i, s := range segs {
				if strings.HasPrefix(s, "SVC*") {
					start = i
					break
				}
			}
			require.GreaterOrEqual(t, start, 0)
			// everything between SVC and SE belongs to the line
			end := len(segs) - 3
			assert.Equal(t, tt.expected, segs[start:end])
		})
	}
}

func TestAllowedAmountPresence(t *testing.T) {
	for amount, present := range map[string]bool{
		"":      false,
		"0":     false,
		"0.00":  false,
		"-1":    false,
		"0.01":  true,
		"61.42": true,
	} {
		doc := &era.Document{Claims: []era.Claim{{ServiceLines: []era.ServiceLine{{AllowedAmount: amount}}}}}
		amt := withPrefix(segmentsOf(newTestEncoder().Encode(doc)), "AMT*B6")
		if present {
			assert.Equal(t, []string{"AMT*B6*" + amount}, amt, "allowed amount %q", amount)
		} else {
			assert.Empty(t, amt, "allowed amount %q", amount)
		}
	}
}

func TestProviderSummaryOnlyOnFirstClaim(t *testing.T) {
	doc := &era.Document{
		Payee:   era.Payee{NPI: "1952479487"},
		Payment: era.Payment{PaymentDate: "20240319"},
		Claims: []era.Claim{
			{TotalClaimCharge: "100.10", FacilityCode: "11"},
			{TotalClaimCharge: "abc", FacilityCode: "22"},
			{TotalClaimCharge: "50.25"},
		},
	}

	segs := segmentsOf(newTestEncoder().Encode(doc))
	assert.Equal(t, []string{"TS3*1952479487*11*20240319*3*150.35"}, withPrefix(segs, "TS3*"))
	assert.Equal(t, []string{"LX*1", "LX*2", "LX*3"}, withPrefix(segs, "LX*"))

	doc.Claims[0].FacilityCode = ""
	assert.Empty(t, withPrefix(segmentsOf(newTestEncoder().Encode(doc)), "TS3*"))
}

func TestOptionalClaimSegmentsSuppressed(t *testing.T) {
	doc := &era.Document{Claims: []era.Claim{{
		PatientControlNumber: "V1",
		PatientLastName:      "doe",
		PatientFirstName:     "jane",
		PatientID:            "M1",
	}}}

	segs := segmentsOf(newTestEncoder().Encode(doc))
	assert.Equal(t, []string{"NM1*QC*1*DOE*JANE****MI*M1"}, withPrefix(segs, "NM1*"))
	assert.Empty(t, withPrefix(segs, "REF*"))
	assert.Equal(t, []string{"DTM*405*20240320"}, withPrefix(segs, "DTM*"))
	assert.Empty(t, withPrefix(segs, "PER*"))
	assert.Empty(t, withPrefix(segs, "AMT*"))
	assert.Empty(t, withPrefix(segs, "CAS*"))
}

func TestAddressRequiresCityStateZip(t *testing.T) {
	doc := &era.Document{
		Payer: era.Payer{Name: "acme", Address: "1 main st", City: "Hartford", State: "CT"},
		Payee: era.Payee{Name: "clinic", City: "ridgewood", State: "nj", Zip: "07450"},
	}

	segs := segmentsOf(newTestEncoder().Encode(doc))
	assert.Equal(t, []string{"N3*1 MAIN ST"}, withPrefix(segs, "N3*"))
	assert.Equal(t, []string{"N4*RIDGEWOOD*NJ*07450"}, withPrefix(segs, "N4*"))
}

func TestEncodeConcurrent(t *testing.T) {
	enc := newTestEncoder()
	want := enc.Encode(loadSample(t))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		doc := loadSample(t)
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Equal(t, want, enc.Encode(doc))
		}()
	}
	wg.Wait()
}
