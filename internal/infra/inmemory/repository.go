// Package inmemory provides a map-backed implementation of the repository contracts.
// It is safe for concurrent use. Data is lost on restart; use the BigQuery store for persistence.
package inmemory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/statement-booking/internal/domain"
	"github.com/dvloznov/statement-booking/internal/repository"
)

type aggregateKey struct {
	owner  string
	kind   domain.PostingKind
	entity string
	period string
}

// Repository keeps every collection in memory and hands out copies.
type Repository struct {
	mu sync.RWMutex

	drafts      map[string]*domain.StatementDraft
	contacts    map[string]domain.Contact
	accounts    map[string]domain.Account
	plans       map[string]domain.SavingsPlan
	securities  map[string]domain.Security
	postings    []domain.Posting
	attachments map[string]domain.Attachment
	aggregates  map[aggregateKey]*repository.Aggregate
}

// NewRepository creates an empty repository.
func NewRepository() *Repository {
	return &Repository{
		drafts:      make(map[string]*domain.StatementDraft),
		contacts:    make(map[string]domain.Contact),
		accounts:    make(map[string]domain.Account),
		plans:       make(map[string]domain.SavingsPlan),
		securities:  make(map[string]domain.Security),
		attachments: make(map[string]domain.Attachment),
		aggregates:  make(map[aggregateKey]*repository.Aggregate),
	}
}

func notFound(what, id string) error {
	return fmt.Errorf("%s %s: %w", what, id, domain.ErrNotFound)
}

// CreateDraft implements repository.DraftRepository.
func (r *Repository) CreateDraft(ctx context.Context, d *domain.StatementDraft) error {
	if d.ID == "" {
		return fmt.Errorf("CreateDraft: draft id is required: %w", domain.ErrInvalidArgument)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.drafts[d.ID]; exists {
		return fmt.Errorf("CreateDraft: draft %s already exists: %w", d.ID, domain.ErrInvalidArgument)
	}
	d.Version = 1
	r.drafts[d.ID] = d.Clone()
	return nil
}

// GetDraft implements repository.DraftRepository.
func (r *Repository) GetDraft(ctx context.Context, ownerID, draftID string) (*domain.StatementDraft, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.drafts[draftID]
	if !ok || d.OwnerID != ownerID {
		return nil, notFound("draft", draftID)
	}
	return d.Clone(), nil
}

// SaveDraft implements repository.DraftRepository.
func (r *Repository) SaveDraft(ctx context.Context, d *domain.StatementDraft) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.drafts[d.ID]
	if !ok || stored.OwnerID != d.OwnerID {
		return notFound("draft", d.ID)
	}
	if stored.Version != d.Version {
		return fmt.Errorf("SaveDraft: draft %s at version %d, stored %d: %w",
			d.ID, d.Version, stored.Version, domain.ErrConcurrentModification)
	}
	d.Version++
	r.drafts[d.ID] = d.Clone()
	return nil
}

// DeleteDraft implements repository.DraftRepository.
func (r *Repository) DeleteDraft(ctx context.Context, ownerID, draftID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.drafts[draftID]
	if !ok || d.OwnerID != ownerID {
		return notFound("draft", draftID)
	}
	delete(r.drafts, draftID)
	return nil
}

// ListOpenDrafts implements repository.DraftRepository.
func (r *Repository) ListOpenDrafts(ctx context.Context, ownerID string) ([]*domain.StatementDraft, error) {
	return r.listDrafts(func(d *domain.StatementDraft) bool {
		return d.OwnerID == ownerID && !d.IsCommitted()
	}), nil
}

// ListDraftsByUploadGroup implements repository.DraftRepository.
func (r *Repository) ListDraftsByUploadGroup(ctx context.Context, ownerID, uploadGroupID string) ([]*domain.StatementDraft, error) {
	return r.listDrafts(func(d *domain.StatementDraft) bool {
		return d.OwnerID == ownerID && d.UploadGroupID == uploadGroupID
	}), nil
}

func (r *Repository) listDrafts(keep func(d *domain.StatementDraft) bool) []*domain.StatementDraft {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*domain.StatementDraft
	for _, d := range r.drafts {
		if keep(d) {
			out = append(out, d.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ListSplitReferences implements repository.DraftRepository.
func (r *Repository) ListSplitReferences(ctx context.Context, ownerID, splitDraftID string) ([]domain.SplitReference, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var refs []domain.SplitReference
	for _, d := range r.drafts {
		if d.OwnerID != ownerID || d.IsCommitted() {
			continue
		}
		for _, e := range d.Entries {
			if e.SplitDraftID == splitDraftID {
				refs = append(refs, domain.SplitReference{EntryID: e.ID, DraftID: d.ID, Amount: e.Amount})
			}
		}
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].EntryID < refs[j].EntryID })
	return refs, nil
}

// ListOwnersWithOpenDrafts implements repository.DraftRepository.
func (r *Repository) ListOwnersWithOpenDrafts(ctx context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool)
	var owners []string
	for _, d := range r.drafts {
		if !d.IsCommitted() && !seen[d.OwnerID] {
			seen[d.OwnerID] = true
			owners = append(owners, d.OwnerID)
		}
	}
	sort.Strings(owners)
	return owners, nil
}

// ListContacts implements repository.ReferenceRepository.
func (r *Repository) ListContacts(ctx context.Context, ownerID string) ([]domain.Contact, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.Contact
	for _, c := range r.contacts {
		if c.OwnerID == ownerID {
			out = append(out, cloneContact(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetContact implements repository.ReferenceRepository.
func (r *Repository) GetContact(ctx context.Context, ownerID, contactID string) (*domain.Contact, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.contacts[contactID]
	if !ok || c.OwnerID != ownerID {
		return nil, notFound("contact", contactID)
	}
	cp := cloneContact(c)
	return &cp, nil
}

// SaveContact implements repository.ReferenceRepository.
func (r *Repository) SaveContact(ctx context.Context, c *domain.Contact) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c.ID == "" {
		c.ID = uuid.NewString()
	} else if existing, ok := r.contacts[c.ID]; ok && existing.OwnerID != c.OwnerID {
		return notFound("contact", c.ID)
	}
	r.contacts[c.ID] = cloneContact(*c)
	return nil
}

// DeleteContact implements repository.ReferenceRepository.
func (r *Repository) DeleteContact(ctx context.Context, ownerID, contactID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.contacts[contactID]
	if !ok || c.OwnerID != ownerID {
		return notFound("contact", contactID)
	}
	delete(r.contacts, contactID)
	return nil
}

func cloneContact(c domain.Contact) domain.Contact {
	c.AliasPatterns = append([]string(nil), c.AliasPatterns...)
	return c
}

// ListAccounts implements repository.ReferenceRepository.
func (r *Repository) ListAccounts(ctx context.Context, ownerID string) ([]domain.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.Account
	for _, a := range r.accounts {
		if a.OwnerID == ownerID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetAccount implements repository.ReferenceRepository.
func (r *Repository) GetAccount(ctx context.Context, ownerID, accountID string) (*domain.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.accounts[accountID]
	if !ok || a.OwnerID != ownerID {
		return nil, notFound("account", accountID)
	}
	return &a, nil
}

// FindAccount implements repository.ReferenceRepository.
func (r *Repository) FindAccount(ctx context.Context, ownerID, iban, accountNumber string) (*domain.Account, error) {
	iban = normalizeIdentifier(iban)
	accountNumber = normalizeIdentifier(accountNumber)
	accounts, _ := r.ListAccounts(ctx, ownerID)
	for i := range accounts {
		a := &accounts[i]
		if iban != "" && normalizeIdentifier(a.IBAN) == iban {
			return a, nil
		}
		if accountNumber != "" && normalizeIdentifier(a.AccountNumber) == accountNumber {
			return a, nil
		}
	}
	return nil, notFound("account", iban+accountNumber)
}

func normalizeIdentifier(s string) string {
	return strings.ToUpper(strings.Join(strings.Fields(s), ""))
}

// SaveAccount implements repository.ReferenceRepository.
func (r *Repository) SaveAccount(ctx context.Context, a *domain.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	r.accounts[a.ID] = *a
	return nil
}

// ListSavingsPlans implements repository.ReferenceRepository.
func (r *Repository) ListSavingsPlans(ctx context.Context, ownerID string) ([]domain.SavingsPlan, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.SavingsPlan
	for _, p := range r.plans {
		if p.OwnerID == ownerID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// SaveSavingsPlan implements repository.ReferenceRepository.
func (r *Repository) SaveSavingsPlan(ctx context.Context, p *domain.SavingsPlan) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	r.plans[p.ID] = *p
	return nil
}

// ListSecurities implements repository.ReferenceRepository.
func (r *Repository) ListSecurities(ctx context.Context, ownerID string) ([]domain.Security, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.Security
	for _, s := range r.securities {
		if s.OwnerID == ownerID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// SaveSecurity implements repository.ReferenceRepository.
func (r *Repository) SaveSecurity(ctx context.Context, s *domain.Security) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	r.securities[s.ID] = *s
	return nil
}

// CreatePostings implements repository.PostingRepository.
func (r *Repository) CreatePostings(ctx context.Context, postings []domain.Posting) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.postings = append(r.postings, postings...)
	return nil
}

// ListBankPostings implements repository.PostingRepository.
func (r *Repository) ListBankPostings(ctx context.Context, ownerID, accountID string, since time.Time) ([]domain.Posting, error) {
	return r.filterPostings(func(p domain.Posting) bool {
		return p.OwnerID == ownerID && p.Kind == domain.PostingKindBank &&
			p.AccountID == accountID && !p.BookingDate.Before(since)
	}), nil
}

// ListPostingsCreatedSince implements repository.PostingRepository.
func (r *Repository) ListPostingsCreatedSince(ctx context.Context, ownerID string, since time.Time) ([]domain.Posting, error) {
	return r.filterPostings(func(p domain.Posting) bool {
		return p.OwnerID == ownerID && !p.CreatedAt.Before(since)
	}), nil
}

// SumSavingsPlanPostings implements repository.PostingRepository.
func (r *Repository) SumSavingsPlanPostings(ctx context.Context, ownerID, savingsPlanID string) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, p := range r.filterPostings(func(p domain.Posting) bool {
		return p.OwnerID == ownerID && p.Kind == domain.PostingKindSavingsPlan && p.SavingsPlanID == savingsPlanID
	}) {
		sum = sum.Add(p.Amount)
	}
	return sum, nil
}

// SavingsPlanBalances implements repository.PostingRepository.
func (r *Repository) SavingsPlanBalances(ctx context.Context, ownerID string) (map[string]decimal.Decimal, error) {
	balances := make(map[string]decimal.Decimal)
	for _, p := range r.filterPostings(func(p domain.Posting) bool {
		return p.OwnerID == ownerID && p.Kind == domain.PostingKindSavingsPlan
	}) {
		balances[p.SavingsPlanID] = balances[p.SavingsPlanID].Add(p.Amount)
	}
	return balances, nil
}

// Postings returns every stored posting of the owner in insertion order.
func (r *Repository) Postings(ownerID string) []domain.Posting {
	return r.filterPostings(func(p domain.Posting) bool { return p.OwnerID == ownerID })
}

func (r *Repository) filterPostings(keep func(p domain.Posting) bool) []domain.Posting {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.Posting
	for _, p := range r.postings {
		if keep(p) {
			out = append(out, p)
		}
	}
	return out
}

// CreateAttachment implements repository.AttachmentRepository.
func (r *Repository) CreateAttachment(ctx context.Context, a *domain.Attachment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	r.attachments[a.ID] = *a
	return nil
}

// ListAttachments implements repository.AttachmentRepository.
func (r *Repository) ListAttachments(ctx context.Context, ownerID string, kind domain.AttachmentEntityKind, entityID string) ([]domain.Attachment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.Attachment
	for _, a := range r.attachments {
		if a.OwnerID == ownerID && a.EntityKind == kind && a.EntityID == entityID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ReassignAttachments implements repository.AttachmentRepository.
func (r *Repository) ReassignAttachments(ctx context.Context, ownerID string, fromKind domain.AttachmentEntityKind, fromID string, toKind domain.AttachmentEntityKind, toID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, a := range r.attachments {
		if a.OwnerID == ownerID && a.EntityKind == fromKind && a.EntityID == fromID {
			a.EntityKind = toKind
			a.EntityID = toID
			r.attachments[id] = a
		}
	}
	return nil
}

// UpsertForPosting implements repository.AggregateRepository.
func (r *Repository) UpsertForPosting(ctx context.Context, p domain.Posting) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := aggregateKey{owner: p.OwnerID, kind: p.Kind, entity: repository.AggregateEntityID(p), period: repository.AggregatePeriod(p)}
	agg, ok := r.aggregates[key]
	if !ok {
		agg = &repository.Aggregate{OwnerID: key.owner, Kind: key.kind, EntityID: key.entity, Period: key.period}
		r.aggregates[key] = agg
	}
	agg.Amount = agg.Amount.Add(p.Amount)
	agg.Count++
	return nil
}

// ListAggregates implements repository.AggregateRepository.
func (r *Repository) ListAggregates(ctx context.Context, ownerID string, kind domain.PostingKind, entityID string) ([]repository.Aggregate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []repository.Aggregate
	for k, a := range r.aggregates {
		if k.owner == ownerID && k.kind == kind && k.entity == entityID {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Period < out[j].Period })
	return out, nil
}

// Ensure Repository implements the repository contracts.
var _ repository.Repository = (*Repository)(nil)
