// Package notionsync exports booked postings to a Notion database.
package notionsync

import (
	"context"
	"fmt"
	"time"

	"github.com/jomei/notionapi"

	"github.com/dvloznov/statement-booking/internal/domain"
	"github.com/dvloznov/statement-booking/internal/logger"
)

const (
	// BatchSize defines the number of postings to process in a single batch
	BatchSize = 100
)

// PostingSource provides the postings to export and the names of the entities they reference.
type PostingSource interface {
	ListPostingsCreatedSince(ctx context.Context, ownerID string, since time.Time) ([]domain.Posting, error)
	ListAccounts(ctx context.Context, ownerID string) ([]domain.Account, error)
	ListContacts(ctx context.Context, ownerID string) ([]domain.Contact, error)
	ListSavingsPlans(ctx context.Context, ownerID string) ([]domain.SavingsPlan, error)
	ListSecurities(ctx context.Context, ownerID string) ([]domain.Security, error)
}

// Options controls one sync run.
type Options struct {
	OwnerID    string
	DatabaseID string
	Since      time.Time
	DryRun     bool

	// Refresh rewrites pages that already exist, e.g. after contacts were renamed.
	Refresh bool
}

// Stats summarises a sync run.
type Stats struct {
	Total   int
	Created int
	Updated int
	Skipped int
	Failed  int
}

// SyncPostings exports the owner's postings created since opts.Since to Notion.
// Postings are append-only, so a page is created once per posting id; existing pages are
// skipped unless opts.Refresh is set. A failing page does not stop the run.
func SyncPostings(ctx context.Context, src PostingSource, pages PageStore, opts Options) (Stats, error) {
	log := logger.FromContext(ctx).With().Str("owner_id", opts.OwnerID).Logger()
	var stats Stats

	if opts.OwnerID == "" || opts.DatabaseID == "" {
		return stats, fmt.Errorf("SyncPostings: owner and database are required: %w", domain.ErrInvalidArgument)
	}

	log.Info().
		Time("since", opts.Since).
		Bool("dry_run", opts.DryRun).
		Bool("refresh", opts.Refresh).
		Msg("Starting posting sync to Notion")

	postings, err := src.ListPostingsCreatedSince(ctx, opts.OwnerID, opts.Since)
	if err != nil {
		return stats, fmt.Errorf("SyncPostings: query postings: %w", err)
	}
	stats.Total = len(postings)

	names, err := loadEntityNames(ctx, src, opts.OwnerID)
	if err != nil {
		return stats, fmt.Errorf("SyncPostings: %w", err)
	}

	existing, pageCount, err := postingPages(ctx, pages, opts.DatabaseID)
	if err != nil {
		return stats, fmt.Errorf("SyncPostings: query Notion pages: %w", err)
	}
	log.Info().
		Int("posting_count", len(postings)).
		Int("notion_page_count", pageCount).
		Msg("Retrieved postings and existing Notion pages")

	for i := 0; i < len(postings); i += BatchSize {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		end := i + BatchSize
		if end > len(postings) {
			end = len(postings)
		}

		for _, p := range postings[i:end] {
			pageID, exists := existing[p.ID]
			if exists && !opts.Refresh {
				stats.Skipped++
				continue
			}

			if opts.DryRun {
				log.Info().
					Str("posting_id", p.ID).
					Bool("exists", exists).
					Msg("[DRY RUN] Would write Notion page")
				if exists {
					stats.Updated++
				} else {
					stats.Created++
				}
				continue
			}

			props := PostingToNotionProperties(p, names)
			if exists {
				if err := pages.UpdatePage(ctx, pageID, props); err != nil {
					log.Warn().Err(err).Str("posting_id", p.ID).Str("page_id", pageID).Msg("Failed to update Notion page")
					stats.Failed++
					continue
				}
				stats.Updated++
				continue
			}

			newID, err := pages.CreatePage(ctx, opts.DatabaseID, props)
			if err != nil {
				log.Warn().Err(err).Str("posting_id", p.ID).Msg("Failed to create Notion page")
				stats.Failed++
				continue
			}
			existing[p.ID] = newID
			stats.Created++
		}
	}

	log.Info().
		Int("created", stats.Created).
		Int("updated", stats.Updated).
		Int("skipped", stats.Skipped).
		Int("failed", stats.Failed).
		Int("total", stats.Total).
		Msg("Posting sync completed")

	return stats, nil
}

func loadEntityNames(ctx context.Context, src PostingSource, ownerID string) (EntityNames, error) {
	names := EntityNames{
		Accounts:     map[string]string{},
		Contacts:     map[string]string{},
		SavingsPlans: map[string]string{},
		Securities:   map[string]string{},
	}

	accounts, err := src.ListAccounts(ctx, ownerID)
	if err != nil {
		return names, fmt.Errorf("loadEntityNames: accounts: %w", err)
	}
	for _, a := range accounts {
		names.Accounts[a.ID] = a.Name
	}

	contacts, err := src.ListContacts(ctx, ownerID)
	if err != nil {
		return names, fmt.Errorf("loadEntityNames: contacts: %w", err)
	}
	for _, c := range contacts {
		names.Contacts[c.ID] = c.Name
	}

	plans, err := src.ListSavingsPlans(ctx, ownerID)
	if err != nil {
		return names, fmt.Errorf("loadEntityNames: savings plans: %w", err)
	}
	for _, p := range plans {
		names.SavingsPlans[p.ID] = p.Name
	}

	securities, err := src.ListSecurities(ctx, ownerID)
	if err != nil {
		return names, fmt.Errorf("loadEntityNames: securities: %w", err)
	}
	for _, s := range securities {
		names.Securities[s.ID] = s.Name
	}
	return names, nil
}

// postingPages walks every page of the database and maps posting ids to page ids.
// Pages without a posting id are counted but not mapped.
func postingPages(ctx context.Context, store PageStore, databaseID string) (map[string]string, int, error) {
	byPosting := map[string]string{}
	var cursor notionapi.Cursor
	count := 0
	for {
		batch, next, err := store.ListPages(ctx, databaseID, cursor)
		if err != nil {
			return nil, 0, fmt.Errorf("postingPages: %w", err)
		}
		count += len(batch)
		for _, page := range batch {
			if id := extractPostingID(page); id != "" {
				byPosting[id] = string(page.ID)
			}
		}
		if next == "" {
			return byPosting, count, nil
		}
		cursor = next
	}
}
