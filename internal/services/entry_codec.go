package services

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/tallybot/backend/internal/models"
)

// DefaultPaymentMethod is stored when a log command names no payment method.
const DefaultPaymentMethod = "no payment type provided"

type ParseErrorKind int

const (
	NoAmount ParseErrorKind = iota + 1
	MissingField
	InvalidField
)

func (k ParseErrorKind) String() string {
	switch k {
	case NoAmount:
		return "no amount"
	case MissingField:
		return "missing field"
	case InvalidField:
		return "invalid field"
	default:
		return "unknown"
	}
}

// ParseError reports why command arguments could not become an entry.
type ParseError struct {
	Kind  ParseErrorKind
	Field string
}

func (e *ParseError) Error() string {
	if e.Field == "" {
		return "parse entry: " + e.Kind.String()
	}
	return fmt.Sprintf("parse entry: %s %q", e.Kind, e.Field)
}

// CodecPolicy controls which free-text fields a log command must carry.
type CodecPolicy struct {
	RequireItem          bool
	RequirePaymentMethod bool
	// DefaultPaymentMethod replaces DefaultPaymentMethod when set.
	DefaultPaymentMethod string
}

// EntryFields is the parsed form of a log command's arguments.
type EntryFields struct {
	Item          string
	Amount        decimal.Decimal
	PaymentMethod string
}

// EntryCodec turns the argument tokens of a log command into entry fields.
// The first finite numeric token is the amount; everything before it is the
// item and everything after it is the payment method.
type EntryCodec struct {
	policy    CodecPolicy
	validator *ValidationHelper
}

func NewEntryCodec(policy CodecPolicy) *EntryCodec {
	if policy.DefaultPaymentMethod == "" {
		policy.DefaultPaymentMethod = DefaultPaymentMethod
	}
	return &EntryCodec{policy: policy, validator: NewValidationHelper()}
}

// ParseText splits raw on whitespace and parses the tokens.
func (c *EntryCodec) ParseText(raw string) (EntryFields, error) {
	return c.Parse(strings.Fields(raw))
}

func (c *EntryCodec) Parse(args []string) (EntryFields, error) {
	pos := -1
	var amount decimal.Decimal
	for i, tok := range args {
		if d, ok := ParseAmount(tok); ok {
			pos, amount = i, d
			break
		}
	}
	if pos < 0 {
		return EntryFields{}, &ParseError{Kind: NoAmount}
	}

	fields := EntryFields{
		Item:          strings.Join(args[:pos], " "),
		Amount:        amount,
		PaymentMethod: strings.Join(args[pos+1:], " "),
	}
	if c.policy.RequireItem && fields.Item == "" {
		return EntryFields{}, &ParseError{Kind: MissingField, Field: "item"}
	}
	if fields.PaymentMethod == "" {
		if c.policy.RequirePaymentMethod {
			return EntryFields{}, &ParseError{Kind: MissingField, Field: "payment_method"}
		}
		fields.PaymentMethod = c.policy.DefaultPaymentMethod
	}
	return fields, nil
}

// Entry parses args and assembles a validated entry for subject, logged by
// actor. The entry has no ID yet.
func (c *EntryCodec) Entry(subject models.Member, actor models.Actor, args []string) (models.LedgerEntry, error) {
	fields, err := c.Parse(args)
	if err != nil {
		return models.LedgerEntry{}, err
	}
	entry := models.LedgerEntry{
		SubjectID:     subject.ID,
		SubjectName:   subject.DisplayName,
		Item:          fields.Item,
		Amount:        fields.Amount,
		PaymentMethod: fields.PaymentMethod,
		LoggedBy:      actor.ID,
	}
	if err := c.validator.ValidateStruct(&entry); err != nil {
		return models.LedgerEntry{}, validationToParseError(err)
	}
	return entry, nil
}

// ParseAmount reports whether tok is a finite number and returns its exact
// decimal value. Forms decimal cannot read directly, such as hex floats, go
// through float64.
func ParseAmount(tok string) (decimal.Decimal, bool) {
	f, err := strconv.ParseFloat(tok, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return decimal.Decimal{}, false
	}
	if d, err := decimal.NewFromString(tok); err == nil {
		return d, true
	}
	return decimal.NewFromFloat(f), true
}

var jsonFieldNames = map[string]string{
	"SubjectID":     "subject_id",
	"SubjectName":   "subject_name",
	"Item":          "item",
	"PaymentMethod": "payment_method",
	"LoggedBy":      "logged_by",
}

func validationToParseError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	name := jsonFieldNames[fe.Field()]
	if name == "" {
		name = fe.Field()
	}
	if fe.Tag() == "required" {
		return &ParseError{Kind: MissingField, Field: name}
	}
	return &ParseError{Kind: InvalidField, Field: name}
}
