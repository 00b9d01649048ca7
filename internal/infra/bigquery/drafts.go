package bigquery

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"

	"github.com/dvloznov/statement-booking/internal/domain"
)

const draftColumns = `
	draft_id,
	owner_id,
	original_file_name,
	description,
	detected_account_id,
	upload_group_id,
	status,
	imported_entry_count,
	version,
	created_ts,
	updated_ts`

const entryColumns = `
	entry_id,
	draft_id,
	owner_id,
	position,
	booking_date,
	valuta_date,
	amount,
	currency,
	subject,
	recipient_name,
	booking_description,
	is_announced,
	is_cost_neutral,
	archive_savings_plan_on_booking,
	status,
	contact_id,
	savings_plan_id,
	split_draft_id,
	security_id,
	security_transaction_type,
	security_quantity,
	security_fee,
	security_tax`

// insertEntriesSQL expands the @entries JSON array into entry rows. Sending the entries as one
// JSON document keeps large drafts well below the query parameter limit.
const insertEntriesSQL = `
	INSERT INTO {statement_draft_entries} (` + entryColumns + `)
	SELECT
		JSON_VALUE(e, '$.entry_id'),
		@draft_id,
		@owner_id,
		CAST(JSON_VALUE(e, '$.position') AS INT64),
		CAST(JSON_VALUE(e, '$.booking_date') AS DATE),
		CAST(JSON_VALUE(e, '$.valuta_date') AS DATE),
		CAST(JSON_VALUE(e, '$.amount') AS NUMERIC),
		JSON_VALUE(e, '$.currency'),
		JSON_VALUE(e, '$.subject'),
		JSON_VALUE(e, '$.recipient_name'),
		JSON_VALUE(e, '$.booking_description'),
		CAST(JSON_VALUE(e, '$.is_announced') AS BOOL),
		CAST(JSON_VALUE(e, '$.is_cost_neutral') AS BOOL),
		CAST(JSON_VALUE(e, '$.archive_savings_plan_on_booking') AS BOOL),
		JSON_VALUE(e, '$.status'),
		JSON_VALUE(e, '$.contact_id'),
		JSON_VALUE(e, '$.savings_plan_id'),
		JSON_VALUE(e, '$.split_draft_id'),
		JSON_VALUE(e, '$.security_id'),
		JSON_VALUE(e, '$.security_transaction_type'),
		CAST(JSON_VALUE(e, '$.security_quantity') AS NUMERIC),
		CAST(JSON_VALUE(e, '$.security_fee') AS NUMERIC),
		CAST(JSON_VALUE(e, '$.security_tax') AS NUMERIC)
	FROM UNNEST(JSON_QUERY_ARRAY(@entries)) AS e;`

// entryRecord is the JSON shape of one entry inside the @entries parameter.
type entryRecord struct {
	EntryID                     string  `json:"entry_id"`
	Position                    int     `json:"position"`
	BookingDate                 string  `json:"booking_date"`
	ValutaDate                  *string `json:"valuta_date"`
	Amount                      string  `json:"amount"`
	Currency                    string  `json:"currency"`
	Subject                     string  `json:"subject"`
	RecipientName               string  `json:"recipient_name"`
	BookingDescription          string  `json:"booking_description"`
	IsAnnounced                 bool    `json:"is_announced"`
	IsCostNeutral               bool    `json:"is_cost_neutral"`
	ArchiveSavingsPlanOnBooking bool    `json:"archive_savings_plan_on_booking"`
	Status                      string  `json:"status"`
	ContactID                   string  `json:"contact_id"`
	SavingsPlanID               string  `json:"savings_plan_id"`
	SplitDraftID                string  `json:"split_draft_id"`
	SecurityID                  string  `json:"security_id"`
	SecurityTransactionType     string  `json:"security_transaction_type"`
	SecurityQuantity            *string `json:"security_quantity"`
	SecurityFee                 *string `json:"security_fee"`
	SecurityTax                 *string `json:"security_tax"`
}

func encodeEntries(entries []*domain.StatementDraftEntry) (string, error) {
	records := make([]entryRecord, 0, len(entries))
	for i, e := range entries {
		rec := entryRecord{
			EntryID:                     e.ID,
			Position:                    i,
			BookingDate:                 e.BookingDate.Format(time.DateOnly),
			Amount:                      e.Amount.String(),
			Currency:                    e.CurrencyCode,
			Subject:                     e.Subject,
			RecipientName:               e.RecipientName,
			BookingDescription:          e.BookingDescription,
			IsAnnounced:                 e.IsAnnounced,
			IsCostNeutral:               e.IsCostNeutral,
			ArchiveSavingsPlanOnBooking: e.ArchiveSavingsPlanOnBooking,
			Status:                      string(e.Status),
			ContactID:                   e.ContactID,
			SavingsPlanID:               e.SavingsPlanID,
			SplitDraftID:                e.SplitDraftID,
			SecurityID:                  e.SecurityID,
			SecurityTransactionType:     string(e.SecurityTransactionType),
			SecurityQuantity:            nullString(nullNumeric(e.SecurityQuantity)),
			SecurityFee:                 nullString(nullNumeric(e.SecurityFeeAmount)),
			SecurityTax:                 nullString(nullNumeric(e.SecurityTaxAmount)),
		}
		if e.ValutaDate != nil {
			v := e.ValutaDate.Format(time.DateOnly)
			rec.ValutaDate = &v
		}
		records = append(records, rec)
	}
	b, err := json.Marshal(records)
	if err != nil {
		return "", fmt.Errorf("encodeEntries: %w", err)
	}
	return string(b), nil
}

func nullString(s bigquery.NullString) *string {
	if !s.Valid {
		return nil
	}
	return &s.StringVal
}

func draftParams(d *domain.StatementDraft, entries string) []bigquery.QueryParameter {
	return []bigquery.QueryParameter{
		{Name: "draft_id", Value: d.ID},
		{Name: "owner_id", Value: d.OwnerID},
		{Name: "original_file_name", Value: d.OriginalFileName},
		{Name: "description", Value: d.Description},
		{Name: "detected_account_id", Value: d.DetectedAccountID},
		{Name: "upload_group_id", Value: d.UploadGroupID},
		{Name: "status", Value: string(d.Status)},
		{Name: "imported_entry_count", Value: int64(d.ImportedEntryCount)},
		{Name: "version", Value: d.Version},
		{Name: "created_ts", Value: d.CreatedAt},
		{Name: "updated_ts", Value: d.UpdatedAt},
		{Name: "entries", Value: entries},
	}
}

// CreateDraft inserts a draft and its entries in one transaction and sets its version to 1.
func (r *Repository) CreateDraft(ctx context.Context, d *domain.StatementDraft) error {
	if d.ID == "" {
		return fmt.Errorf("CreateDraft: draft id is required: %w", domain.ErrInvalidArgument)
	}
	entries, err := encodeEntries(d.Entries)
	if err != nil {
		return fmt.Errorf("CreateDraft: %w", err)
	}

	d.Version = 1
	q := r.query(`
		BEGIN TRANSACTION;
		INSERT INTO {statement_drafts} (`+draftColumns+`)
		VALUES (
			@draft_id, @owner_id, @original_file_name, @description, @detected_account_id,
			@upload_group_id, @status, @imported_entry_count, @version, @created_ts, @updated_ts
		);
		`+insertEntriesSQL+`
		COMMIT TRANSACTION;
	`, draftParams(d, entries)...)

	if err := r.exec(ctx, q); err != nil {
		d.Version = 0
		return fmt.Errorf("CreateDraft: %w", err)
	}
	return nil
}

// GetDraft loads a draft with its entries in statement order.
func (r *Repository) GetDraft(ctx context.Context, ownerID, draftID string) (*domain.StatementDraft, error) {
	q := r.query(`
		SELECT`+draftColumns+`
		FROM {statement_drafts}
		WHERE owner_id = @owner_id AND draft_id = @draft_id
	`,
		bigquery.QueryParameter{Name: "owner_id", Value: ownerID},
		bigquery.QueryParameter{Name: "draft_id", Value: draftID},
	)
	drafts, err := r.loadDrafts(ctx, ownerID, q)
	if err != nil {
		return nil, fmt.Errorf("GetDraft: %w", err)
	}
	if len(drafts) == 0 {
		return nil, notFound("draft", draftID)
	}
	return drafts[0], nil
}

// SaveDraft replaces the draft row and all its entries when the stored version still
// matches d.Version. The check and the writes run in one transaction.
func (r *Repository) SaveDraft(ctx context.Context, d *domain.StatementDraft) error {
	entries, err := encodeEntries(d.Entries)
	if err != nil {
		return fmt.Errorf("SaveDraft: %w", err)
	}

	q := r.query(`
		DECLARE updated INT64 DEFAULT 0;
		BEGIN TRANSACTION;
		UPDATE {statement_drafts}
		SET
			original_file_name = @original_file_name,
			description = @description,
			detected_account_id = @detected_account_id,
			upload_group_id = @upload_group_id,
			status = @status,
			imported_entry_count = @imported_entry_count,
			version = version + 1,
			updated_ts = @updated_ts
		WHERE owner_id = @owner_id AND draft_id = @draft_id AND version = @version;
		SET updated = @@row_count;
		IF updated = 1 THEN
			DELETE FROM {statement_draft_entries}
			WHERE owner_id = @owner_id AND draft_id = @draft_id;
			`+insertEntriesSQL+`
		END IF;
		COMMIT TRANSACTION;
		SELECT updated AS updated;
	`, draftParams(d, entries)...)

	rows, err := readAll[struct {
		Updated int64 `bigquery:"updated"`
	}](ctx, q)
	if err != nil {
		return fmt.Errorf("SaveDraft: %w", err)
	}
	if len(rows) == 1 && rows[0].Updated == 1 {
		d.Version++
		return nil
	}

	owner, err := r.ownerOf(ctx, TableDrafts, "draft_id", d.ID)
	if err != nil {
		return fmt.Errorf("SaveDraft: %w", err)
	}
	if owner != d.OwnerID {
		return notFound("draft", d.ID)
	}
	return fmt.Errorf("SaveDraft: draft %s at version %d is stale: %w", d.ID, d.Version, domain.ErrConcurrentModification)
}

// DeleteDraft removes a draft and its entries.
func (r *Repository) DeleteDraft(ctx context.Context, ownerID, draftID string) error {
	owner, err := r.ownerOf(ctx, TableDrafts, "draft_id", draftID)
	if err != nil {
		return fmt.Errorf("DeleteDraft: %w", err)
	}
	if owner != ownerID {
		return notFound("draft", draftID)
	}

	q := r.query(`
		BEGIN TRANSACTION;
		DELETE FROM {statement_draft_entries} WHERE owner_id = @owner_id AND draft_id = @draft_id;
		DELETE FROM {statement_drafts} WHERE owner_id = @owner_id AND draft_id = @draft_id;
		COMMIT TRANSACTION;
	`,
		bigquery.QueryParameter{Name: "owner_id", Value: ownerID},
		bigquery.QueryParameter{Name: "draft_id", Value: draftID},
	)
	if err := r.exec(ctx, q); err != nil {
		return fmt.Errorf("DeleteDraft: %w", err)
	}
	return nil
}

// ListOpenDrafts returns the owner's uncommitted drafts, oldest first.
func (r *Repository) ListOpenDrafts(ctx context.Context, ownerID string) ([]*domain.StatementDraft, error) {
	q := r.query(`
		SELECT`+draftColumns+`
		FROM {statement_drafts}
		WHERE owner_id = @owner_id AND status = @status
		ORDER BY created_ts, draft_id
	`,
		bigquery.QueryParameter{Name: "owner_id", Value: ownerID},
		bigquery.QueryParameter{Name: "status", Value: string(domain.DraftStatusDraft)},
	)
	drafts, err := r.loadDrafts(ctx, ownerID, q)
	if err != nil {
		return nil, fmt.Errorf("ListOpenDrafts: %w", err)
	}
	return drafts, nil
}

// ListDraftsByUploadGroup returns the drafts of one upload, oldest first.
func (r *Repository) ListDraftsByUploadGroup(ctx context.Context, ownerID, uploadGroupID string) ([]*domain.StatementDraft, error) {
	q := r.query(`
		SELECT`+draftColumns+`
		FROM {statement_drafts}
		WHERE owner_id = @owner_id AND upload_group_id = @upload_group_id
		ORDER BY created_ts, draft_id
	`,
		bigquery.QueryParameter{Name: "owner_id", Value: ownerID},
		bigquery.QueryParameter{Name: "upload_group_id", Value: uploadGroupID},
	)
	drafts, err := r.loadDrafts(ctx, ownerID, q)
	if err != nil {
		return nil, fmt.Errorf("ListDraftsByUploadGroup: %w", err)
	}
	return drafts, nil
}

// ListSplitReferences returns the entries of open drafts that point at splitDraftID.
func (r *Repository) ListSplitReferences(ctx context.Context, ownerID, splitDraftID string) ([]domain.SplitReference, error) {
	q := r.query(`
		SELECT e.entry_id, e.draft_id, e.amount
		FROM {statement_draft_entries} AS e
		JOIN {statement_drafts} AS d
			ON d.owner_id = e.owner_id AND d.draft_id = e.draft_id
		WHERE e.owner_id = @owner_id
			AND e.split_draft_id = @split_draft_id
			AND d.status = @status
		ORDER BY d.created_ts, e.position
	`,
		bigquery.QueryParameter{Name: "owner_id", Value: ownerID},
		bigquery.QueryParameter{Name: "split_draft_id", Value: splitDraftID},
		bigquery.QueryParameter{Name: "status", Value: string(domain.DraftStatusDraft)},
	)

	rows, err := readAll[struct {
		EntryID string   `bigquery:"entry_id"`
		DraftID string   `bigquery:"draft_id"`
		Amount  *big.Rat `bigquery:"amount"`
	}](ctx, q)
	if err != nil {
		return nil, fmt.Errorf("ListSplitReferences: %w", err)
	}
	refs := make([]domain.SplitReference, 0, len(rows))
	for _, row := range rows {
		amount, err := ratToDecimal(row.Amount)
		if err != nil {
			return nil, fmt.Errorf("ListSplitReferences: %w", err)
		}
		refs = append(refs, domain.SplitReference{EntryID: row.EntryID, DraftID: row.DraftID, Amount: amount})
	}
	return refs, nil
}

// ListOwnersWithOpenDrafts returns every owner with at least one open draft.
func (r *Repository) ListOwnersWithOpenDrafts(ctx context.Context) ([]string, error) {
	q := r.query(`
		SELECT DISTINCT owner_id
		FROM {statement_drafts}
		WHERE status = @status
		ORDER BY owner_id
	`, bigquery.QueryParameter{Name: "status", Value: string(domain.DraftStatusDraft)})

	rows, err := readAll[struct {
		OwnerID string `bigquery:"owner_id"`
	}](ctx, q)
	if err != nil {
		return nil, fmt.Errorf("ListOwnersWithOpenDrafts: %w", err)
	}
	owners := make([]string, 0, len(rows))
	for _, row := range rows {
		owners = append(owners, row.OwnerID)
	}
	return owners, nil
}

// loadDrafts runs a draft query and attaches the entries of every returned draft.
func (r *Repository) loadDrafts(ctx context.Context, ownerID string, q *bigquery.Query) ([]*domain.StatementDraft, error) {
	rows, err := readAll[DraftRow](ctx, q)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.DraftID)
	}
	entries, err := r.loadEntries(ctx, ownerID, ids)
	if err != nil {
		return nil, err
	}

	drafts := make([]*domain.StatementDraft, 0, len(rows))
	for i := range rows {
		drafts = append(drafts, rows[i].toDomain(entries[rows[i].DraftID]))
	}
	return drafts, nil
}

func (r *Repository) loadEntries(ctx context.Context, ownerID string, draftIDs []string) (map[string][]*domain.StatementDraftEntry, error) {
	q := r.query(`
		SELECT`+entryColumns+`
		FROM {statement_draft_entries}
		WHERE owner_id = @owner_id AND draft_id IN UNNEST(@draft_ids)
		ORDER BY draft_id, position
	`,
		bigquery.QueryParameter{Name: "owner_id", Value: ownerID},
		bigquery.QueryParameter{Name: "draft_ids", Value: draftIDs},
	)

	rows, err := readAll[EntryRow](ctx, q)
	if err != nil {
		return nil, fmt.Errorf("loadEntries: %w", err)
	}
	byDraft := make(map[string][]*domain.StatementDraftEntry, len(draftIDs))
	for i := range rows {
		e, err := rows[i].toDomain()
		if err != nil {
			return nil, fmt.Errorf("loadEntries: entry %s: %w", rows[i].EntryID, err)
		}
		byDraft[e.DraftID] = append(byDraft[e.DraftID], e)
	}
	return byDraft, nil
}
