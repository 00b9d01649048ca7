// Package bigquery implements the repository contracts on top of BigQuery.
//
// Every table is written through DML so that drafts, contacts and attachments can be updated
// right after they are created; streaming inserts would lock fresh rows against UPDATE.
package bigquery

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/statement-booking/internal/domain"
	"github.com/dvloznov/statement-booking/internal/repository"
)

// Table names inside the dataset.
const (
	TableDrafts       = "statement_drafts"
	TableEntries      = "statement_draft_entries"
	TableContacts     = "contacts"
	TableAccounts     = "accounts"
	TableSavingsPlans = "savings_plans"
	TableSecurities   = "securities"
	TablePostings     = "postings"
	TableAttachments  = "attachments"
	TableAggregates   = "posting_aggregates"
)

// Repository stores drafts, reference data and postings in one BigQuery dataset.
type Repository struct {
	client    *bigquery.Client
	projectID string
	datasetID string
}

// NewRepository creates a repository with its own BigQuery client.
func NewRepository(ctx context.Context, projectID, datasetID string) (*Repository, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("NewRepository: creating client: %w", err)
	}
	return NewRepositoryWithClient(client, projectID, datasetID), nil
}

// NewRepositoryWithClient creates a repository sharing the provided client.
func NewRepositoryWithClient(client *bigquery.Client, projectID, datasetID string) *Repository {
	return &Repository{client: client, projectID: projectID, datasetID: datasetID}
}

// Close closes the BigQuery client connection.
func (r *Repository) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// table returns the fully qualified, backquoted name of a table.
func (r *Repository) table(name string) string {
	return fmt.Sprintf("`%s.%s.%s`", r.projectID, r.datasetID, name)
}

// query builds a parameterized query. Every "{name}" placeholder in sql is replaced with the
// qualified table name.
func (r *Repository) query(sql string, params ...bigquery.QueryParameter) *bigquery.Query {
	for _, name := range []string{
		TableDrafts, TableEntries, TableContacts, TableAccounts, TableSavingsPlans,
		TableSecurities, TablePostings, TableAttachments, TableAggregates,
	} {
		sql = strings.ReplaceAll(sql, "{"+name+"}", r.table(name))
	}
	q := r.client.Query(sql)
	q.Parameters = params
	return q
}

// exec runs a DML statement or script and waits for it to finish.
func (r *Repository) exec(ctx context.Context, q *bigquery.Query) error {
	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("running query: %w", classify(err))
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("waiting for job: %w", classify(err))
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("job completed with error: %w", classify(err))
	}
	return nil
}

// readAll loads every row of a query into T.
func readAll[T any](ctx context.Context, q *bigquery.Query) ([]T, error) {
	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading query: %w", classify(err))
	}

	var rows []T
	for {
		var row T
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterating: %w", err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// classify maps BigQuery's transaction conflict errors to ErrConcurrentModification.
func classify(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "concurrent update") || strings.Contains(msg, "transaction is aborted") {
		return errors.Join(err, domain.ErrConcurrentModification)
	}
	return err
}

func notFound(what, id string) error {
	return fmt.Errorf("%s %s: %w", what, id, domain.ErrNotFound)
}

// ownerOf returns the owner of a row keyed by idColumn, or "" when the row does not exist.
func (r *Repository) ownerOf(ctx context.Context, table, idColumn, id string) (string, error) {
	q := r.query(fmt.Sprintf(`
		SELECT owner_id
		FROM {%s}
		WHERE %s = @id
		LIMIT 1
	`, table, idColumn), bigquery.QueryParameter{Name: "id", Value: id})

	rows, err := readAll[struct {
		OwnerID string `bigquery:"owner_id"`
	}](ctx, q)
	if err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return "", nil
	}
	return rows[0].OwnerID, nil
}

// Ensure Repository implements the repository contracts.
var _ repository.Repository = (*Repository)(nil)
