// Package drafts is the application service over statement drafts. It loads reference data
// per call, serialises writers of one draft through a lock and persists every change with
// the draft's version token.
package drafts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dvloznov/statement-booking/internal/attachments"
	"github.com/dvloznov/statement-booking/internal/booking"
	"github.com/dvloznov/statement-booking/internal/classify"
	"github.com/dvloznov/statement-booking/internal/domain"
	"github.com/dvloznov/statement-booking/internal/lock"
	"github.com/dvloznov/statement-booking/internal/pipeline"
	"github.com/dvloznov/statement-booking/internal/repository"
	"github.com/dvloznov/statement-booking/internal/validation"
)

const tracerName = "github.com/dvloznov/statement-booking/internal/drafts"

// Dependencies groups the collaborators of the service. Storage and Attachments are optional.
type Dependencies struct {
	Repo        repository.Repository
	Locker      lock.Locker
	Parser      pipeline.StatementParser
	Storage     pipeline.StatementFetcher
	Attachments booking.AttachmentService
	Settings    domain.SplitSettings
	Now         func() time.Time
}

// Service implements the draft use cases.
type Service struct {
	repo       repository.Repository
	locker     lock.Locker
	classifier *classify.Classifier
	validator  *validation.Validator
	engine     *booking.Engine
	importer   *pipeline.Pipeline
	tracer     trace.Tracer
	log        zerolog.Logger
	now        func() time.Time
}

// NewService wires the classifier, validator, booking engine and import pipeline.
func NewService(deps Dependencies, log zerolog.Logger) *Service {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	locker := deps.Locker
	if locker == nil {
		locker = lock.NewLocal()
	}
	att := deps.Attachments
	if att == nil {
		att = attachments.NewService(deps.Repo, nil, "")
	}

	validator := validation.NewValidator(deps.Repo, log)
	s := &Service{
		repo:       deps.Repo,
		locker:     locker,
		classifier: classify.NewClassifier(log),
		validator:  validator,
		engine: booking.NewEngine(booking.Dependencies{
			Drafts:       deps.Repo,
			Postings:     deps.Repo,
			SavingsPlans: deps.Repo,
			Aggregates:   deps.Repo,
			Attachments:  att,
			Validator:    validator,
		}, log).WithClock(now),
		tracer: otel.Tracer(tracerName),
		log:    log,
		now:    now,
	}
	s.importer = pipeline.NewImportPipeline(pipeline.Dependencies{
		Storage:    deps.Storage,
		Parser:     deps.Parser,
		Accounts:   deps.Repo,
		Drafts:     deps.Repo,
		Classifier: s,
		Settings:   deps.Settings,
		Now:        now,
	})
	return s
}

func (s *Service) startSpan(ctx context.Context, name, ownerID, draftID string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "drafts."+name, trace.WithAttributes(
		attribute.String("owner_id", ownerID),
		attribute.String("draft_id", draftID),
	))
}

func finishSpan(span trace.Span, err error) {
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
	}
	span.End()
}

// withDraft loads the draft while holding its lock and hands it to fn.
func (s *Service) withDraft(ctx context.Context, ownerID, draftID string, fn func(ctx context.Context, d *domain.StatementDraft) error) error {
	return s.locker.WithLock(ctx, lock.DraftKey(ownerID, draftID), func(ctx context.Context) error {
		d, err := s.repo.GetDraft(ctx, ownerID, draftID)
		if err != nil {
			return err
		}
		return fn(ctx, d)
	})
}

// referenceData loads the owner's reference data for one call.
func (s *Service) referenceData(ctx context.Context, ownerID, accountID string) (domain.ReferenceData, error) {
	var ref domain.ReferenceData
	var err error

	if accountID != "" {
		ref.Account, err = s.repo.GetAccount(ctx, ownerID, accountID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return ref, fmt.Errorf("referenceData: account: %w", err)
		}
	}
	if ref.Contacts, err = s.repo.ListContacts(ctx, ownerID); err != nil {
		return ref, fmt.Errorf("referenceData: contacts: %w", err)
	}
	if ref.SavingsPlans, err = s.repo.ListSavingsPlans(ctx, ownerID); err != nil {
		return ref, fmt.Errorf("referenceData: savings plans: %w", err)
	}
	if ref.Securities, err = s.repo.ListSecurities(ctx, ownerID); err != nil {
		return ref, fmt.Errorf("referenceData: securities: %w", err)
	}
	if ref.SavingsPlanBalances, err = s.repo.SavingsPlanBalances(ctx, ownerID); err != nil {
		return ref, fmt.Errorf("referenceData: savings plan balances: %w", err)
	}
	return ref, nil
}

// Get returns one draft with its entries.
func (s *Service) Get(ctx context.Context, ownerID, draftID string) (*domain.StatementDraft, error) {
	d, err := s.repo.GetDraft(ctx, ownerID, draftID)
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	return d, nil
}

// ListOpen returns the owner's uncommitted drafts, oldest first.
func (s *Service) ListOpen(ctx context.Context, ownerID string) ([]*domain.StatementDraft, error) {
	open, err := s.repo.ListOpenDrafts(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("ListOpen: %w", err)
	}
	return open, nil
}
