package drafts

import (
	"context"
	"fmt"
	"strings"

	"github.com/dvloznov/statement-booking/internal/domain"
)

// ContactInput carries the editable fields of a contact.
type ContactInput struct {
	Name                  string `json:"name"`
	Type                  string `json:"type"`
	IsPaymentIntermediary bool   `json:"is_payment_intermediary"`
}

func (in ContactInput) parse() (string, domain.ContactType, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return "", "", fmt.Errorf("contact name is required: %w", domain.ErrInvalidArgument)
	}
	t, err := domain.ParseContactType(in.Type)
	if err != nil {
		return "", "", err
	}
	return name, t, nil
}

// ListContacts returns the owner's contacts.
func (s *Service) ListContacts(ctx context.Context, ownerID string) ([]domain.Contact, error) {
	contacts, err := s.repo.ListContacts(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("ListContacts: %w", err)
	}
	return contacts, nil
}

// CreateContact adds a contact. Self contacts cannot be created.
func (s *Service) CreateContact(ctx context.Context, ownerID string, in ContactInput) (*domain.Contact, error) {
	name, t, err := in.parse()
	if err != nil {
		return nil, fmt.Errorf("CreateContact: %w", err)
	}
	if t == domain.ContactTypeSelf {
		return nil, fmt.Errorf("CreateContact: %w", domain.ErrSelfContactImmutable)
	}

	c := &domain.Contact{
		OwnerID:               ownerID,
		Name:                  name,
		Type:                  t,
		IsPaymentIntermediary: in.IsPaymentIntermediary,
	}
	if err := s.repo.SaveContact(ctx, c); err != nil {
		return nil, fmt.Errorf("CreateContact: %w", err)
	}
	return c, nil
}

// UpdateContact changes a contact. The Self contact may be renamed but not retyped, and no
// contact may become Self.
func (s *Service) UpdateContact(ctx context.Context, ownerID, contactID string, in ContactInput) (*domain.Contact, error) {
	name, t, err := in.parse()
	if err != nil {
		return nil, fmt.Errorf("UpdateContact: %w", err)
	}

	c, err := s.repo.GetContact(ctx, ownerID, contactID)
	if err != nil {
		return nil, fmt.Errorf("UpdateContact: %w", err)
	}
	if c.IsSelf() != (t == domain.ContactTypeSelf) {
		return nil, fmt.Errorf("UpdateContact: %w", domain.ErrSelfContactImmutable)
	}

	c.Name = name
	c.Type = t
	c.IsPaymentIntermediary = in.IsPaymentIntermediary
	if err := s.repo.SaveContact(ctx, c); err != nil {
		return nil, fmt.Errorf("UpdateContact: %w", err)
	}
	return c, nil
}

// DeleteContact removes a contact other than Self.
func (s *Service) DeleteContact(ctx context.Context, ownerID, contactID string) error {
	c, err := s.repo.GetContact(ctx, ownerID, contactID)
	if err != nil {
		return fmt.Errorf("DeleteContact: %w", err)
	}
	if c.IsSelf() {
		return fmt.Errorf("DeleteContact: %w", domain.ErrSelfContactImmutable)
	}
	if err := s.repo.DeleteContact(ctx, ownerID, contactID); err != nil {
		return fmt.Errorf("DeleteContact: %w", err)
	}
	return nil
}

// AddAlias appends a wildcard pattern to the contact. Patterns already present, compared
// case-insensitively, are not added twice.
func (s *Service) AddAlias(ctx context.Context, ownerID, contactID, pattern string) (*domain.Contact, error) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return nil, fmt.Errorf("AddAlias: empty pattern: %w", domain.ErrInvalidArgument)
	}

	c, err := s.repo.GetContact(ctx, ownerID, contactID)
	if err != nil {
		return nil, fmt.Errorf("AddAlias: %w", err)
	}
	for _, existing := range c.AliasPatterns {
		if strings.EqualFold(existing, pattern) {
			return c, nil
		}
	}

	c.AliasPatterns = append(c.AliasPatterns, pattern)
	if err := s.repo.SaveContact(ctx, c); err != nil {
		return nil, fmt.Errorf("AddAlias: %w", err)
	}
	return c, nil
}

// RemoveAlias deletes a pattern from the contact.
func (s *Service) RemoveAlias(ctx context.Context, ownerID, contactID, pattern string) (*domain.Contact, error) {
	c, err := s.repo.GetContact(ctx, ownerID, contactID)
	if err != nil {
		return nil, fmt.Errorf("RemoveAlias: %w", err)
	}

	kept := c.AliasPatterns[:0]
	for _, existing := range c.AliasPatterns {
		if !strings.EqualFold(existing, strings.TrimSpace(pattern)) {
			kept = append(kept, existing)
		}
	}
	c.AliasPatterns = kept
	if err := s.repo.SaveContact(ctx, c); err != nil {
		return nil, fmt.Errorf("RemoveAlias: %w", err)
	}
	return c, nil
}
