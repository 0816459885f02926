package era835

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/drfirst/go-era/internal/era"
	"github.com/drfirst/go-era/internal/x12"
)

// Entity and reference qualifiers used in the 1000/2100/2110 loops
const (
	entityPayer             = "PR"
	entityPayee             = "PE"
	entityPatient           = "QC"
	entityRenderingProvider = "82"
	personEntity            = "1"
	qualifierNPI            = "XX"
	qualifierMemberID       = "MI"
	contactBilling          = "BL"
	contactTechnical        = "CX"
	commTelephone           = "TE"
	procedureQualifierHC    = "HC"
	remarkQualifierHE       = "HE"
)

// 1000A: payer identification
func writePayer(s *x12.Stream, p *era.Payer) {
	s.Add("N1", entityPayer, strings.ToUpper(p.Name))
	writeAddress(s, p.Address, p.City, p.State, p.Zip)
	s.AddIf(p.SecondaryID != "", "REF", "2U", p.SecondaryID)
	s.AddIf(p.BillingContactName != "", "PER", contactBilling, strings.ToUpper(p.BillingContactName))
	s.AddIf(p.TechContactName != "", "PER", contactTechnical,
		strings.ToUpper(p.TechContactName), commTelephone, p.TechContactPhone)
}

// 1000B: payee identification
func writePayee(s *x12.Stream, p *era.Payee) {
	s.Add("N1", entityPayee, strings.ToUpper(p.Name), qualifierNPI, p.NPI)
	writeAddress(s, p.Address, p.City, p.State, p.Zip)
	s.AddIf(p.TaxID != "", "REF", "TJ", p.TaxID)
}

// N4 requires city, state and zip together
func writeAddress(s *x12.Stream, address, city, state, zip string) {
	s.AddIf(address != "", "N3", strings.ToUpper(address))
	if city != "" && state != "" && zip != "" {
		s.Add("N4", strings.ToUpper(city), strings.ToUpper(state), zip)
	}
}

// 2000/2100: header number, provider summary and claim payment information
func writeClaim(s *x12.Stream, doc *era.Document, index int, paymentDate string) {
	c := &doc.Claims[index]

	s.Add("LX", strconv.Itoa(index+1))

	if index == 0 && c.FacilityCode != "" {
		s.Add("TS3",
			doc.Payee.NPI, c.FacilityCode, FormatDate(paymentDate, Century),
			strconv.Itoa(len(doc.Claims)), fmt.Sprintf("%.2f", doc.TotalCharge()),
		)
	}

	s.Add("CLP",
		c.PatientControlNumber, c.ClaimStatus,
		c.TotalClaimCharge, c.ClaimPaymentAmount, c.PatientResponsibilityAmount,
		c.ClaimFilingIndicator, c.PayerClaimControlNumber, c.FacilityCode, c.FrequencyCode,
	)

	s.Add("NM1", entityPatient, personEntity,
		strings.ToUpper(c.PatientLastName), strings.ToUpper(c.PatientFirstName),
		"", "", "", qualifierMemberID, c.PatientID,
	)
	if c.RenderingProviderNPI != "" {
		s.Add("NM1", entityRenderingProvider, personEntity,
			strings.ToUpper(c.RenderingProviderLastName), strings.ToUpper(c.RenderingProviderFirstName),
			"", "", "", qualifierNPI, c.RenderingProviderNPI,
		)
	}

	s.AddIf(c.GroupNumber != "", "REF", "1L", c.GroupNumber)
	s.AddIf(c.ContractCode != "", "REF", "CE", c.ContractCode)

	s.AddIf(c.StatementStartDate != "", "DTM", "232", FormatDate(c.StatementStartDate, Century))
	s.AddIf(c.StatementEndDate != "", "DTM", "233", FormatDate(c.StatementEndDate, Century))
	s.AddIf(c.ReceivedDate != "", "DTM", "050", FormatDate(c.ReceivedDate, Century))

	s.AddIf(c.ContactPhoneNumber != "", "PER", contactTechnical, "", commTelephone, c.ContactPhoneNumber)
	s.AddIf(c.CoverageAmount != "", "AMT", "AU", c.CoverageAmount)

	writeAdjustments(s, c.Adjustments)

	for i := range c.ServiceLines {
		writeServiceLine(s, &c.ServiceLines[i])
	}
}

// 2110: service payment information
func writeServiceLine(s *x12.Stream, l *era.ServiceLine) {
	s.Add("SVC", procedureComposite(l), l.SubmittedAmount, l.PaidAmount, "", l.Units)
	s.Add("DTM", "472", FormatDate(l.AdjudicationDate, Century))

	writeAdjustments(s, l.Adjustments)

	s.AddIf(l.LineItemControlNumber != "", "REF", "6R", l.LineItemControlNumber)
	s.AddIf(era.ParseAmount(l.AllowedAmount) > 0, "AMT", "B6", l.AllowedAmount)

	for _, code := range l.Remarks() {
		s.Add("LQ", remarkQualifierHE, code)
	}
}

// procedureComposite builds HC:code followed by each non-empty modifier
func procedureComposite(l *era.ServiceLine) string {
	parts := []string{procedureQualifierHC, l.ProcedureCode}
	for _, m := range l.Modifiers() {
		if m != "" {
			parts = append(parts, m)
		}
	}
	return x12.Composite(parts...)
}

func writeAdjustments(s *x12.Stream, adjs []era.Adjustment) {
	for _, g := range groupAdjustments(adjs) {
		s.Add("CAS", g.elements()...)
	}
}
