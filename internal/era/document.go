// Package era provides the remittance advice data model consumed by the 835 encoder.
// Field names mirror the JSON produced by the ERA entry form, so documents decode without translation.
package era

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// Default file extension for generated remittance files
const DefaultExtension = "txt"

// Filename prefix for generated remittance files
const FilenamePrefix = "ERA835"

// Document is the root of a remittance advice: one payment from one payer to one payee
// covering an ordered list of claims
type Document struct {
	Interchange Interchange `json:"interchange"`
	Payer       Payer       `json:"payer"`
	Payee       Payee       `json:"payee"`
	Payment     Payment     `json:"payment"`
	Claims      []Claim     `json:"claims"`
}

// Interchange holds the envelope identifiers used in ISA/GS
type Interchange struct {
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`
}

// Payer is the entity issuing payment (1000A loop)
type Payer struct {
	Name               string `json:"name"`
	ID                 string `json:"id"`
	SecondaryID        string `json:"secondaryId"`
	Address            string `json:"address"`
	City               string `json:"city"`
	State              string `json:"state"`
	Zip                string `json:"zip"`
	BillingContactName string `json:"billingContactName"`
	TechContactName    string `json:"techContactName"`
	TechContactPhone   string `json:"techContactPhone"`
}

// Payee is the entity receiving payment (1000B loop)
type Payee struct {
	Name    string `json:"name"`
	NPI     string `json:"npi"`
	TaxID   string `json:"taxId"`
	Address string `json:"address"`
	City    string `json:"city"`
	State   string `json:"state"`
	Zip     string `json:"zip"`
}

// Payment describes the single payment the document advises on
type Payment struct {
	Method      string `json:"method"`
	Amount      string `json:"amount"`
	CheckNumber string `json:"checkNumber"`
	PaymentDate string `json:"paymentDate"` // YYYYMMDD
	ReceiverID  string `json:"receiverId"`
}

// Adjustment is one CAS reason/amount pair under a group code
type Adjustment struct {
	ID         string `json:"id,omitempty"`
	GroupCode  string `json:"groupCode"`
	ReasonCode string `json:"reasonCode"`
	Amount     string `json:"amount"`
}

// Complete reports whether the adjustment carries a group, a reason and an amount.
// Incomplete adjustments are not encoded.
func (a Adjustment) Complete() bool {
	return a.GroupCode != "" && a.ReasonCode != "" && a.Amount != ""
}

// ServiceLine is a single adjudicated procedure within a claim (2110 loop)
type ServiceLine struct {
	ID                    string       `json:"id,omitempty"`
	ProcedureCode         string       `json:"procedureCode"`
	Modifier1             string       `json:"modifier1"`
	Modifier2             string       `json:"modifier2"`
	Modifier3             string       `json:"modifier3"`
	Modifier4             string       `json:"modifier4"`
	SubmittedAmount       string       `json:"submittedAmount"`
	PaidAmount            string       `json:"paidAmount"`
	AllowedAmount         string       `json:"allowedAmount"`
	AdjudicationDate      string       `json:"adjudicationDate"` // DTM*472
	Units                 string       `json:"units"`
	LineItemControlNumber string       `json:"lineItemControlNumber"` // REF*6R
	RemarkCodes           string       `json:"remarkCodes"`           // LQ*HE, comma-separated
	Adjustments           []Adjustment `json:"adjustments"`
}

// Modifiers returns the four modifier slots in order, including empty ones
func (l ServiceLine) Modifiers() [4]string {
	return [4]string{l.Modifier1, l.Modifier2, l.Modifier3, l.Modifier4}
}

// Remarks splits RemarkCodes on commas and drops blank entries
func (l ServiceLine) Remarks() []string {
	if l.RemarkCodes == "" {
		return nil
	}
	var codes []string
	for _, code := range strings.Split(l.RemarkCodes, ",") {
		if code = strings.TrimSpace(code); code != "" {
			codes = append(codes, code)
		}
	}
	return codes
}

// Claim is one claim payment (2100 loop) with its service lines
type Claim struct {
	ID                          string        `json:"id,omitempty"`
	PatientControlNumber        string        `json:"patientControlNumber"`
	ClaimStatus                 string        `json:"claimStatus"`
	TotalClaimCharge            string        `json:"totalClaimCharge"`
	ClaimPaymentAmount          string        `json:"claimPaymentAmount"`
	PatientResponsibilityAmount string        `json:"patientResponsibilityAmount"`
	ClaimFilingIndicator        string        `json:"claimFilingIndicator"`
	PayerClaimControlNumber     string        `json:"payerClaimControlNumber"`
	FacilityCode                string        `json:"facilityCode"`  // CLP08
	FrequencyCode               string        `json:"frequencyCode"` // CLP09
	PatientFirstName            string        `json:"patientFirstName"`
	PatientLastName             string        `json:"patientLastName"`
	PatientID                   string        `json:"patientId"`
	RenderingProviderLastName   string        `json:"renderingProviderLastName"`
	RenderingProviderFirstName  string        `json:"renderingProviderFirstName"`
	RenderingProviderNPI        string        `json:"renderingProviderNPI"`
	GroupNumber                 string        `json:"groupNumber"`        // REF*1L
	ContractCode                string        `json:"contractCode"`       // REF*CE
	StatementStartDate          string        `json:"statementStartDate"` // DTM*232
	StatementEndDate            string        `json:"statementEndDate"`   // DTM*233
	ReceivedDate                string        `json:"receivedDate"`       // DTM*050
	ContactPhoneNumber          string        `json:"contactPhoneNumber"` // PER*CX
	CoverageAmount              string        `json:"coverageAmount"`     // AMT*AU
	Adjustments                 []Adjustment  `json:"adjustments"`
	ServiceLines                []ServiceLine `json:"serviceLines"`
}

// WithInterchangeDefaults returns d with empty sender/receiver IDs taken from def.
// d is returned unchanged when nothing is missing; otherwise a shallow copy is modified.
func (d *Document) WithInterchangeDefaults(def Interchange) *Document {
	if (d.Interchange.SenderID != "" || def.SenderID == "") &&
		(d.Interchange.ReceiverID != "" || def.ReceiverID == "") {
		return d
	}
	copied := *d
	if copied.Interchange.SenderID == "" {
		copied.Interchange.SenderID = def.SenderID
	}
	if copied.Interchange.ReceiverID == "" {
		copied.Interchange.ReceiverID = def.ReceiverID
	}
	return &copied
}

// TotalCharge sums TotalClaimCharge across all claims. Non-numeric charges count as zero.
func (d *Document) TotalCharge() float64 {
	var total float64
	for _, c := range d.Claims {
		total += ParseAmount(c.TotalClaimCharge)
	}
	return total
}

// ServiceLineCount returns the number of service lines across all claims
func (d *Document) ServiceLineCount() int {
	n := 0
	for _, c := range d.Claims {
		n += len(c.ServiceLines)
	}
	return n
}

// Filename returns the conventional file name for the encoded document:
// ERA835_<paymentDate>_<checkNumber>.<ext>
func (d *Document) Filename(ext string) string {
	ext = strings.TrimPrefix(ext, ".")
	if ext == "" {
		ext = DefaultExtension
	}
	return fmt.Sprintf("%s_%s_%s.%s", FilenamePrefix, d.Payment.PaymentDate, d.Payment.CheckNumber, ext)
}

// ParseAmount converts a free-text monetary amount to a float.
// Empty or non-numeric input yields zero so totals stay deterministic. Thousands
// separators and currency symbols are not accepted: "1,200.50" and "$5" both parse as zero.
func ParseAmount(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// DecodeError represents a failure to read a document with context
type DecodeError struct {
	Source string
	Cause  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %s", e.Source, e.Cause.Error())
}

func (e *DecodeError) Unwrap() error {
	return e.Cause
}

// Decode reads a JSON document from r. source names the input in errors.
func Decode(r io.Reader, source string) (*Document, error) {
	var doc Document
	dec := json.NewDecoder(r)
	if err := dec.Decode(&doc); err != nil {
		return nil, &DecodeError{Source: source, Cause: err}
	}
	return &doc, nil
}

// FromJSON parses a JSON document
func FromJSON(data []byte) (*Document, error) {
	return Decode(bytes.NewReader(data), "payload")
}

// ToJSON serializes the document
func (d *Document) ToJSON() ([]byte, error) {
	return json.Marshal(d)
}
