package domain

import "github.com/shopspring/decimal"

// ReferenceData is the owner's reference data one classify, validate or book call works with.
// Callers load it per call; it is never cached between calls.
type ReferenceData struct {
	// Account is the draft's detected account; nil when none was detected.
	Account      *Account
	Contacts     []Contact
	SavingsPlans []SavingsPlan
	Securities   []Security

	// SavingsPlanBalances holds the sum of booked savings-plan legs per plan id.
	SavingsPlanBalances map[string]decimal.Decimal
}

// Contact returns the contact with the given id or nil.
func (r *ReferenceData) Contact(id string) *Contact {
	if id == "" {
		return nil
	}
	for i := range r.Contacts {
		if r.Contacts[i].ID == id {
			return &r.Contacts[i]
		}
	}
	return nil
}

// SelfContact returns the owner's Self contact or nil.
func (r *ReferenceData) SelfContact() *Contact {
	for i := range r.Contacts {
		if r.Contacts[i].IsSelf() {
			return &r.Contacts[i]
		}
	}
	return nil
}

// SavingsPlan returns the plan with the given id or nil.
func (r *ReferenceData) SavingsPlan(id string) *SavingsPlan {
	if id == "" {
		return nil
	}
	for i := range r.SavingsPlans {
		if r.SavingsPlans[i].ID == id {
			return &r.SavingsPlans[i]
		}
	}
	return nil
}

// BankContactID returns the detected account's bank contact, or "" without an account.
func (r *ReferenceData) BankContactID() string {
	if r.Account == nil {
		return ""
	}
	return r.Account.BankContactID
}

// SplitReference links an entry to the split draft that breaks it down.
type SplitReference struct {
	EntryID string
	DraftID string // draft holding the referencing entry
	Amount  decimal.Decimal
}
