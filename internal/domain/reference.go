package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ContactType classifies a counterparty.
type ContactType string

const (
	ContactTypePerson       ContactType = "Person"
	ContactTypeBank         ContactType = "Bank"
	ContactTypeSelf         ContactType = "Self"
	ContactTypeOrganization ContactType = "Organization"
	ContactTypeOther        ContactType = "Other"
)

// ParseContactType validates a contact type name.
func ParseContactType(s string) (ContactType, error) {
	switch t := ContactType(s); t {
	case ContactTypePerson, ContactTypeBank, ContactTypeSelf, ContactTypeOrganization, ContactTypeOther:
		return t, nil
	}
	return "", fmt.Errorf("contact type %q: %w", s, ErrInvalidArgument)
}

// Contact is a counterparty known to the owner.
type Contact struct {
	ID      string
	OwnerID string
	Name    string
	Type    ContactType

	// IsPaymentIntermediary marks pass-through processors whose payments are broken down in split drafts.
	IsPaymentIntermediary bool

	// AliasPatterns are wildcard patterns (* and ?) matched against recipient text.
	AliasPatterns []string
}

// IsSelf reports whether the contact represents the owner.
func (c *Contact) IsSelf() bool {
	return c.Type == ContactTypeSelf
}

// AccountType distinguishes current accounts from savings accounts.
type AccountType string

const (
	AccountTypeGiro    AccountType = "Giro"
	AccountTypeSavings AccountType = "Savings"
)

// Account is an owner's bank account.
type Account struct {
	ID            string
	OwnerID       string
	Name          string
	IBAN          string
	AccountNumber string
	Type          AccountType
	BankContactID string
}

// SavingsPlanType describes how a savings plan is funded.
type SavingsPlanType string

const (
	SavingsPlanOneTime   SavingsPlanType = "OneTime"
	SavingsPlanRecurring SavingsPlanType = "Recurring"
	SavingsPlanOpen      SavingsPlanType = "Open"
)

// SavingsPlanInterval is the installment cadence of a recurring plan.
type SavingsPlanInterval string

const (
	IntervalMonthly    SavingsPlanInterval = "Monthly"
	IntervalQuarterly  SavingsPlanInterval = "Quarterly"
	IntervalBiAnnually SavingsPlanInterval = "BiAnnually"
	IntervalAnnually   SavingsPlanInterval = "Annually"
)

func (i SavingsPlanInterval) months() int {
	switch i {
	case IntervalMonthly:
		return 1
	case IntervalQuarterly:
		return 3
	case IntervalBiAnnually:
		return 6
	case IntervalAnnually:
		return 12
	}
	return 0
}

// SavingsPlan is a savings goal entries can be booked against.
type SavingsPlan struct {
	ID             string
	OwnerID        string
	Name           string
	ContractNumber string
	IsActive       bool
	Type           SavingsPlanType
	TargetAmount   decimal.NullDecimal
	TargetDate     *time.Time
	Interval       SavingsPlanInterval
	ArchivedAt     *time.Time
}

// IsRecurring reports whether the plan expects periodic installments.
func (p *SavingsPlan) IsRecurring() bool {
	return p.Type == SavingsPlanRecurring && p.Interval.months() > 0 && p.TargetDate != nil
}

// AdvanceTargetDateIfDue moves the next due date of a recurring plan forward by one
// interval when the booking date has reached it. It reports whether the date changed.
func (p *SavingsPlan) AdvanceTargetDateIfDue(bookingDate time.Time) bool {
	if !p.IsRecurring() || bookingDate.Before(*p.TargetDate) {
		return false
	}
	next := p.TargetDate.AddDate(0, p.Interval.months(), 0)
	p.TargetDate = &next
	return true
}

// Archive deactivates the plan.
func (p *SavingsPlan) Archive(now time.Time) {
	p.IsActive = false
	p.ArchivedAt = &now
}

// Security is a tradable instrument.
type Security struct {
	ID           string
	OwnerID      string
	Name         string
	Identifier   string // ISIN or WKN
	ExternalCode string // ticker / quote provider code
	CurrencyCode string
	IsActive     bool
}
