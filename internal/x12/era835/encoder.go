// Package era835 encodes remittance documents as ASC X12 005010X221A1 (835) Health Care
// Claim Payment/Advice transactions.
package era835

import (
	"strconv"
	"time"

	"github.com/drfirst/go-era/internal/era"
	"github.com/drfirst/go-era/internal/x12"
)

// Transaction and group constants
const (
	TransactionSetID         = "835"
	TransactionSetControl    = "0001"
	FunctionalIDCode         = "HP"
	GroupControlNumber       = "1"
	ResponsibleAgencyCode    = "X"
	ImplementationVersion    = "005010X221A1"
	SenderQualifier          = "ZZ"
	ReceiverQualifier        = "ZZ"
	AuthorizationQualifier   = "00"
	SecurityQualifier        = "00"
	AcknowledgmentRequested  = "0"
	UsageIndicator           = "P"
	IncludedGroups           = "1"
	IncludedTransactionSets  = "1"
	IncludedFunctionalGroups = "1"
)

// BPR filler copied from the payer's canonical sample. Real banking data is not sourced.
const (
	bprHandlingCode        = "I"
	bprCreditDebitFlag     = "C"
	bprPaymentFormat       = "CCP"
	bprSenderDFIQualifier  = "01"
	bprSenderDFI           = "011900445"
	bprSenderAcctQualifier = "DA"
	bprSenderAccount       = "0000009146"
	bprReceiverDFIQual     = "01"
	bprReceiverDFI         = "021205376"
	bprReceiverAcctQual    = "DA"
	bprReceiverAccount     = "625422108"
)

// Clock returns the current time
type Clock func() time.Time

// Encoder produces 835 transactions. An Encoder holds no per-call state and is safe for
// concurrent use when its clock and control number source are.
type Encoder struct {
	clock          Clock
	controlNumbers ControlNumberSource
	extension      string
}

// Option configures an Encoder
type Option func(*Encoder)

// WithClock overrides the time source used for envelope and production dates
func WithClock(c Clock) Option {
	return func(e *Encoder) {
		if c != nil {
			e.clock = c
		}
	}
}

// WithControlNumbers overrides the interchange control number source
func WithControlNumbers(src ControlNumberSource) Option {
	return func(e *Encoder) {
		if src != nil {
			e.controlNumbers = src
		}
	}
}

// WithExtension sets the extension used for Result.Filename
func WithExtension(ext string) Option {
	return func(e *Encoder) {
		e.extension = ext
	}
}

// NewEncoder creates an encoder using the system clock and random control numbers
func NewEncoder(opts ...Option) *Encoder {
	e := &Encoder{
		clock:          time.Now,
		controlNumbers: RandomControlNumbers,
		extension:      era.DefaultExtension,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Result contains the encoded transaction and the values derived while building it
type Result struct {
	Text                     string
	InterchangeControlNumber string
	TransactionControlNumber string
	GroupControlNumber       string
	SegmentCount             int // all segments, ISA through IEA
	TransactionSegmentCount  int // SE01
	ClaimCount               int
	ServiceLineCount         int
	Filename                 string
	GeneratedAt              time.Time
}

// Encode renders doc as an 835 interchange
func (e *Encoder) Encode(doc *era.Document) string {
	return e.Build(doc).Text
}

// Build renders doc and reports the derived control values. It never fails and never
// modifies doc: absent optional values suppress their segments.
func (e *Encoder) Build(doc *era.Document) *Result {
	if doc == nil {
		doc = &era.Document{}
	}

	now := e.clock()
	today := now.Format("20060102")
	hhmm := now.Format("1504")
	icn := e.controlNumbers.Next()

	paymentDate := doc.Payment.PaymentDate
	if paymentDate == "" {
		paymentDate = today
	}

	s := x12.NewStream()

	s.Add(x12.SegmentISA,
		AuthorizationQualifier, x12.Blank(x12.ISAQualifierWidth),
		SecurityQualifier, x12.Blank(x12.ISAQualifierWidth),
		SenderQualifier, x12.PadRight(doc.Interchange.SenderID, x12.ISAIDWidth),
		ReceiverQualifier, x12.PadRight(doc.Interchange.ReceiverID, x12.ISAIDWidth),
		FormatDate(today, Short), hhmm,
		x12.RepetitionSeparator, x12.InterchangeVersion, icn,
		AcknowledgmentRequested, UsageIndicator, x12.ComponentSeparator,
	)

	s.Add(x12.SegmentGS,
		FunctionalIDCode, doc.Interchange.SenderID, doc.Interchange.ReceiverID,
		FormatDate(today, Century), hhmm, GroupControlNumber,
		ResponsibleAgencyCode, ImplementationVersion,
	)

	s.BeginTransaction(TransactionSetID, TransactionSetControl)

	s.Add("BPR",
		bprHandlingCode, doc.Payment.Amount, bprCreditDebitFlag, doc.Payment.Method, bprPaymentFormat,
		bprSenderDFIQualifier, bprSenderDFI, bprSenderAcctQualifier, bprSenderAccount,
		doc.Payer.ID, "",
		bprReceiverDFIQual, bprReceiverDFI, bprReceiverAcctQual, bprReceiverAccount,
		FormatDate(paymentDate, Century),
	)
	s.Add("TRN", "1", doc.Payment.CheckNumber, doc.Payer.ID)
	s.AddIf(doc.Payment.ReceiverID != "", "REF", "EV", doc.Payment.ReceiverID)
	s.Add("DTM", "405", FormatDate(today, Century))

	writePayer(s, &doc.Payer)
	writePayee(s, &doc.Payee)

	for i := range doc.Claims {
		writeClaim(s, doc, i, paymentDate)
	}

	seCount := s.TransactionSegmentCount()
	s.Add(x12.SegmentSE, strconv.Itoa(seCount), TransactionSetControl)
	s.Add(x12.SegmentGE, IncludedTransactionSets, GroupControlNumber)
	s.Add(x12.SegmentIEA, IncludedFunctionalGroups, icn)

	return &Result{
		Text:                     s.String(),
		InterchangeControlNumber: icn,
		TransactionControlNumber: TransactionSetControl,
		GroupControlNumber:       GroupControlNumber,
		SegmentCount:             s.Len(),
		TransactionSegmentCount:  seCount,
		ClaimCount:               len(doc.Claims),
		ServiceLineCount:         doc.ServiceLineCount(),
		Filename:                 doc.Filename(e.extension),
		GeneratedAt:              now,
	}
}

// Encode renders doc with a default encoder
func Encode(doc *era.Document) string {
	return NewEncoder().Encode(doc)
}
