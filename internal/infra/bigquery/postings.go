package bigquery

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/statement-booking/internal/domain"
	"github.com/dvloznov/statement-booking/internal/repository"
)

const postingColumns = `
	posting_id,
	owner_id,
	kind,
	account_id,
	contact_id,
	savings_plan_id,
	security_id,
	source_entry_id,
	booking_date,
	valuta_date,
	amount,
	subject,
	recipient_name,
	description,
	group_id,
	security_sub_type,
	quantity,
	created_ts`

// postingRecord is the JSON shape of one posting inside the @postings parameter.
type postingRecord struct {
	PostingID       string  `json:"posting_id"`
	OwnerID         string  `json:"owner_id"`
	Kind            string  `json:"kind"`
	AccountID       string  `json:"account_id"`
	ContactID       string  `json:"contact_id"`
	SavingsPlanID   string  `json:"savings_plan_id"`
	SecurityID      string  `json:"security_id"`
	SourceEntryID   string  `json:"source_entry_id"`
	BookingDate     string  `json:"booking_date"`
	ValutaDate      *string `json:"valuta_date"`
	Amount          string  `json:"amount"`
	Subject         string  `json:"subject"`
	RecipientName   string  `json:"recipient_name"`
	Description     string  `json:"description"`
	GroupID         string  `json:"group_id"`
	SecuritySubType string  `json:"security_sub_type"`
	Quantity        *string `json:"quantity"`
	CreatedTS       string  `json:"created_ts"`
}

// CreatePostings appends postings in one DML statement.
func (r *Repository) CreatePostings(ctx context.Context, postings []domain.Posting) error {
	if len(postings) == 0 {
		return nil
	}
	records := make([]postingRecord, 0, len(postings))
	for _, p := range postings {
		rec := postingRecord{
			PostingID:       p.ID,
			OwnerID:         p.OwnerID,
			Kind:            string(p.Kind),
			AccountID:       p.AccountID,
			ContactID:       p.ContactID,
			SavingsPlanID:   p.SavingsPlanID,
			SecurityID:      p.SecurityID,
			SourceEntryID:   p.SourceEntryID,
			BookingDate:     p.BookingDate.Format(time.DateOnly),
			Amount:          p.Amount.String(),
			Subject:         p.Subject,
			RecipientName:   p.RecipientName,
			Description:     p.Description,
			GroupID:         p.GroupID,
			SecuritySubType: string(p.SecuritySubType),
			Quantity:        nullString(nullNumeric(p.Quantity)),
			CreatedTS:       p.CreatedAt.UTC().Format(time.RFC3339Nano),
		}
		if p.ValutaDate != nil {
			v := p.ValutaDate.Format(time.DateOnly)
			rec.ValutaDate = &v
		}
		records = append(records, rec)
	}
	payload, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("CreatePostings: encoding: %w", err)
	}

	q := r.query(`
		INSERT INTO {postings} (`+postingColumns+`)
		SELECT
			JSON_VALUE(p, '$.posting_id'),
			JSON_VALUE(p, '$.owner_id'),
			JSON_VALUE(p, '$.kind'),
			JSON_VALUE(p, '$.account_id'),
			JSON_VALUE(p, '$.contact_id'),
			JSON_VALUE(p, '$.savings_plan_id'),
			JSON_VALUE(p, '$.security_id'),
			JSON_VALUE(p, '$.source_entry_id'),
			CAST(JSON_VALUE(p, '$.booking_date') AS DATE),
			CAST(JSON_VALUE(p, '$.valuta_date') AS DATE),
			CAST(JSON_VALUE(p, '$.amount') AS NUMERIC),
			JSON_VALUE(p, '$.subject'),
			JSON_VALUE(p, '$.recipient_name'),
			JSON_VALUE(p, '$.description'),
			JSON_VALUE(p, '$.group_id'),
			JSON_VALUE(p, '$.security_sub_type'),
			CAST(JSON_VALUE(p, '$.quantity') AS NUMERIC),
			TIMESTAMP(JSON_VALUE(p, '$.created_ts'))
		FROM UNNEST(JSON_QUERY_ARRAY(@postings)) AS p
	`, bigquery.QueryParameter{Name: "postings", Value: string(payload)})

	if err := r.exec(ctx, q); err != nil {
		return fmt.Errorf("CreatePostings: %w", err)
	}
	return nil
}

// ListBankPostings returns the bank legs of an account booked on or after since.
func (r *Repository) ListBankPostings(ctx context.Context, ownerID, accountID string, since time.Time) ([]domain.Posting, error) {
	q := r.query(`
		SELECT`+postingColumns+`
		FROM {postings}
		WHERE owner_id = @owner_id
			AND kind = @kind
			AND account_id = @account_id
			AND booking_date >= @since
		ORDER BY booking_date, created_ts
	`,
		ownerParam(ownerID),
		bigquery.QueryParameter{Name: "kind", Value: string(domain.PostingKindBank)},
		bigquery.QueryParameter{Name: "account_id", Value: accountID},
		bigquery.QueryParameter{Name: "since", Value: civil.DateOf(since)},
	)
	postings, err := r.readPostings(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("ListBankPostings: %w", err)
	}
	return postings, nil
}

// ListPostingsCreatedSince returns postings created on or after since, oldest first.
func (r *Repository) ListPostingsCreatedSince(ctx context.Context, ownerID string, since time.Time) ([]domain.Posting, error) {
	q := r.query(`
		SELECT`+postingColumns+`
		FROM {postings}
		WHERE owner_id = @owner_id AND created_ts >= @since
		ORDER BY created_ts, group_id, posting_id
	`, ownerParam(ownerID), bigquery.QueryParameter{Name: "since", Value: since})
	postings, err := r.readPostings(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("ListPostingsCreatedSince: %w", err)
	}
	return postings, nil
}

func (r *Repository) readPostings(ctx context.Context, q *bigquery.Query) ([]domain.Posting, error) {
	rows, err := readAll[PostingRow](ctx, q)
	if err != nil {
		return nil, err
	}
	postings := make([]domain.Posting, 0, len(rows))
	for i := range rows {
		p, err := rows[i].toDomain()
		if err != nil {
			return nil, fmt.Errorf("posting %s: %w", rows[i].PostingID, err)
		}
		postings = append(postings, p)
	}
	return postings, nil
}

type planBalanceRow struct {
	SavingsPlanID string   `bigquery:"savings_plan_id"`
	Balance       *big.Rat `bigquery:"balance"`
}

// SumSavingsPlanPostings returns the balance of one savings plan.
func (r *Repository) SumSavingsPlanPostings(ctx context.Context, ownerID, savingsPlanID string) (decimal.Decimal, error) {
	balances, err := r.planBalances(ctx, ownerID, savingsPlanID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("SumSavingsPlanPostings: %w", err)
	}
	return balances[savingsPlanID], nil
}

// SavingsPlanBalances returns the balance of every savings plan of the owner.
func (r *Repository) SavingsPlanBalances(ctx context.Context, ownerID string) (map[string]decimal.Decimal, error) {
	balances, err := r.planBalances(ctx, ownerID, "")
	if err != nil {
		return nil, fmt.Errorf("SavingsPlanBalances: %w", err)
	}
	return balances, nil
}

// planBalances sums savings plan legs per plan, limited to one plan when planID is set.
func (r *Repository) planBalances(ctx context.Context, ownerID, planID string) (map[string]decimal.Decimal, error) {
	q := r.query(`
		SELECT savings_plan_id, SUM(amount) AS balance
		FROM {postings}
		WHERE owner_id = @owner_id
			AND kind = @kind
			AND (@savings_plan_id = '' OR savings_plan_id = @savings_plan_id)
		GROUP BY savings_plan_id
	`,
		ownerParam(ownerID),
		bigquery.QueryParameter{Name: "kind", Value: string(domain.PostingKindSavingsPlan)},
		bigquery.QueryParameter{Name: "savings_plan_id", Value: planID},
	)

	rows, err := readAll[planBalanceRow](ctx, q)
	if err != nil {
		return nil, err
	}
	balances := make(map[string]decimal.Decimal, len(rows))
	for _, row := range rows {
		sum, err := ratToDecimal(row.Balance)
		if err != nil {
			return nil, err
		}
		balances[row.SavingsPlanID] = sum
	}
	return balances, nil
}

// UpsertForPosting adds a posting to the monthly aggregate of its entity.
func (r *Repository) UpsertForPosting(ctx context.Context, p domain.Posting) error {
	q := r.query(`
		MERGE {posting_aggregates} T
		USING (
			SELECT @owner_id AS owner_id, @kind AS kind, @entity_id AS entity_id, @period AS period
		) S
		ON T.owner_id = S.owner_id AND T.kind = S.kind AND T.entity_id = S.entity_id AND T.period = S.period
		WHEN MATCHED THEN UPDATE SET
			amount = T.amount + CAST(@amount AS NUMERIC),
			posting_count = T.posting_count + 1
		WHEN NOT MATCHED THEN INSERT (owner_id, kind, entity_id, period, amount, posting_count)
		VALUES (@owner_id, @kind, @entity_id, @period, CAST(@amount AS NUMERIC), 1)
	`,
		ownerParam(p.OwnerID),
		bigquery.QueryParameter{Name: "kind", Value: string(p.Kind)},
		bigquery.QueryParameter{Name: "entity_id", Value: repository.AggregateEntityID(p)},
		bigquery.QueryParameter{Name: "period", Value: repository.AggregatePeriod(p)},
		bigquery.QueryParameter{Name: "amount", Value: p.Amount.String()},
	)
	if err := r.exec(ctx, q); err != nil {
		return fmt.Errorf("UpsertForPosting: %w", err)
	}
	return nil
}

// ListAggregates returns the monthly aggregates of one entity ordered by period.
func (r *Repository) ListAggregates(ctx context.Context, ownerID string, kind domain.PostingKind, entityID string) ([]repository.Aggregate, error) {
	q := r.query(`
		SELECT owner_id, kind, entity_id, period, amount, posting_count
		FROM {posting_aggregates}
		WHERE owner_id = @owner_id AND kind = @kind AND entity_id = @entity_id
		ORDER BY period
	`,
		ownerParam(ownerID),
		bigquery.QueryParameter{Name: "kind", Value: string(kind)},
		bigquery.QueryParameter{Name: "entity_id", Value: entityID},
	)

	rows, err := readAll[AggregateRow](ctx, q)
	if err != nil {
		return nil, fmt.Errorf("ListAggregates: %w", err)
	}
	aggs := make([]repository.Aggregate, 0, len(rows))
	for _, row := range rows {
		amount, err := ratToDecimal(row.Amount)
		if err != nil {
			return nil, fmt.Errorf("ListAggregates: %w", err)
		}
		aggs = append(aggs, repository.Aggregate{
			OwnerID:  row.OwnerID,
			Kind:     domain.PostingKind(row.Kind),
			EntityID: row.EntityID,
			Period:   row.Period,
			Amount:   amount,
			Count:    int(row.PostingCount),
		})
	}
	return aggs, nil
}
