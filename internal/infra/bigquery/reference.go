package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/google/uuid"

	"github.com/dvloznov/statement-booking/internal/domain"
)

// claimID assigns a fresh id when id is empty and otherwise checks that the existing row,
// if any, belongs to ownerID.
func (r *Repository) claimID(ctx context.Context, table, idColumn string, id *string, ownerID, what string) error {
	if *id == "" {
		*id = uuid.NewString()
		return nil
	}
	owner, err := r.ownerOf(ctx, table, idColumn, *id)
	if err != nil {
		return err
	}
	if owner != "" && owner != ownerID {
		return notFound(what, *id)
	}
	return nil
}

func ownerParam(ownerID string) bigquery.QueryParameter {
	return bigquery.QueryParameter{Name: "owner_id", Value: ownerID}
}

// ListContacts returns the owner's contacts ordered by id.
func (r *Repository) ListContacts(ctx context.Context, ownerID string) ([]domain.Contact, error) {
	q := r.query(`
		SELECT contact_id, owner_id, name, contact_type, is_payment_intermediary, alias_patterns, updated_ts
		FROM {contacts}
		WHERE owner_id = @owner_id
		ORDER BY contact_id
	`, ownerParam(ownerID))

	rows, err := readAll[ContactRow](ctx, q)
	if err != nil {
		return nil, fmt.Errorf("ListContacts: %w", err)
	}
	contacts := make([]domain.Contact, 0, len(rows))
	for i := range rows {
		contacts = append(contacts, rows[i].toDomain())
	}
	return contacts, nil
}

// GetContact returns one contact of the owner.
func (r *Repository) GetContact(ctx context.Context, ownerID, contactID string) (*domain.Contact, error) {
	q := r.query(`
		SELECT contact_id, owner_id, name, contact_type, is_payment_intermediary, alias_patterns, updated_ts
		FROM {contacts}
		WHERE owner_id = @owner_id AND contact_id = @contact_id
	`, ownerParam(ownerID), bigquery.QueryParameter{Name: "contact_id", Value: contactID})

	rows, err := readAll[ContactRow](ctx, q)
	if err != nil {
		return nil, fmt.Errorf("GetContact: %w", err)
	}
	if len(rows) == 0 {
		return nil, notFound("contact", contactID)
	}
	c := rows[0].toDomain()
	return &c, nil
}

// SaveContact inserts or updates a contact together with its alias patterns.
func (r *Repository) SaveContact(ctx context.Context, c *domain.Contact) error {
	if err := r.claimID(ctx, TableContacts, "contact_id", &c.ID, c.OwnerID, "contact"); err != nil {
		return fmt.Errorf("SaveContact: %w", err)
	}
	aliases := c.AliasPatterns
	if aliases == nil {
		aliases = []string{}
	}

	q := r.query(`
		MERGE {contacts} T
		USING (SELECT @contact_id AS contact_id) S
		ON T.contact_id = S.contact_id
		WHEN MATCHED THEN UPDATE SET
			name = @name,
			contact_type = @contact_type,
			is_payment_intermediary = @is_payment_intermediary,
			alias_patterns = @alias_patterns,
			updated_ts = @updated_ts
		WHEN NOT MATCHED THEN INSERT
			(contact_id, owner_id, name, contact_type, is_payment_intermediary, alias_patterns, updated_ts)
		VALUES
			(@contact_id, @owner_id, @name, @contact_type, @is_payment_intermediary, @alias_patterns, @updated_ts)
	`,
		bigquery.QueryParameter{Name: "contact_id", Value: c.ID},
		ownerParam(c.OwnerID),
		bigquery.QueryParameter{Name: "name", Value: c.Name},
		bigquery.QueryParameter{Name: "contact_type", Value: string(c.Type)},
		bigquery.QueryParameter{Name: "is_payment_intermediary", Value: c.IsPaymentIntermediary},
		bigquery.QueryParameter{Name: "alias_patterns", Value: aliases},
		bigquery.QueryParameter{Name: "updated_ts", Value: time.Now().UTC()},
	)
	if err := r.exec(ctx, q); err != nil {
		return fmt.Errorf("SaveContact: %w", err)
	}
	return nil
}

// DeleteContact removes a contact of the owner.
func (r *Repository) DeleteContact(ctx context.Context, ownerID, contactID string) error {
	owner, err := r.ownerOf(ctx, TableContacts, "contact_id", contactID)
	if err != nil {
		return fmt.Errorf("DeleteContact: %w", err)
	}
	if owner != ownerID {
		return notFound("contact", contactID)
	}

	q := r.query(`
		DELETE FROM {contacts}
		WHERE owner_id = @owner_id AND contact_id = @contact_id
	`, ownerParam(ownerID), bigquery.QueryParameter{Name: "contact_id", Value: contactID})
	if err := r.exec(ctx, q); err != nil {
		return fmt.Errorf("DeleteContact: %w", err)
	}
	return nil
}

const accountColumns = `account_id, owner_id, name, iban, account_number, account_type, bank_contact_id`

// ListAccounts returns the owner's accounts ordered by id.
func (r *Repository) ListAccounts(ctx context.Context, ownerID string) ([]domain.Account, error) {
	q := r.query(`
		SELECT `+accountColumns+`
		FROM {accounts}
		WHERE owner_id = @owner_id
		ORDER BY account_id
	`, ownerParam(ownerID))
	accounts, err := r.readAccounts(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("ListAccounts: %w", err)
	}
	return accounts, nil
}

// GetAccount returns one account of the owner.
func (r *Repository) GetAccount(ctx context.Context, ownerID, accountID string) (*domain.Account, error) {
	q := r.query(`
		SELECT `+accountColumns+`
		FROM {accounts}
		WHERE owner_id = @owner_id AND account_id = @account_id
	`, ownerParam(ownerID), bigquery.QueryParameter{Name: "account_id", Value: accountID})
	accounts, err := r.readAccounts(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("GetAccount: %w", err)
	}
	if len(accounts) == 0 {
		return nil, notFound("account", accountID)
	}
	return &accounts[0], nil
}

// FindAccount matches an account by IBAN or account number. Both sides are compared
// without whitespace and in upper case.
func (r *Repository) FindAccount(ctx context.Context, ownerID, iban, accountNumber string) (*domain.Account, error) {
	q := r.query(`
		SELECT `+accountColumns+`
		FROM {accounts}
		WHERE owner_id = @owner_id
			AND (
				(@iban != '' AND UPPER(REGEXP_REPLACE(iban, r'\s', '')) = UPPER(REGEXP_REPLACE(@iban, r'\s', '')))
				OR (@account_number != '' AND UPPER(REGEXP_REPLACE(account_number, r'\s', '')) = UPPER(REGEXP_REPLACE(@account_number, r'\s', '')))
			)
		ORDER BY account_id
		LIMIT 1
	`,
		ownerParam(ownerID),
		bigquery.QueryParameter{Name: "iban", Value: iban},
		bigquery.QueryParameter{Name: "account_number", Value: accountNumber},
	)
	accounts, err := r.readAccounts(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("FindAccount: %w", err)
	}
	if len(accounts) == 0 {
		return nil, notFound("account", iban+accountNumber)
	}
	return &accounts[0], nil
}

func (r *Repository) readAccounts(ctx context.Context, q *bigquery.Query) ([]domain.Account, error) {
	rows, err := readAll[AccountRow](ctx, q)
	if err != nil {
		return nil, err
	}
	accounts := make([]domain.Account, 0, len(rows))
	for i := range rows {
		accounts = append(accounts, rows[i].toDomain())
	}
	return accounts, nil
}

// SaveAccount inserts or updates an account.
func (r *Repository) SaveAccount(ctx context.Context, a *domain.Account) error {
	if err := r.claimID(ctx, TableAccounts, "account_id", &a.ID, a.OwnerID, "account"); err != nil {
		return fmt.Errorf("SaveAccount: %w", err)
	}

	q := r.query(`
		MERGE {accounts} T
		USING (SELECT @account_id AS account_id) S
		ON T.account_id = S.account_id
		WHEN MATCHED THEN UPDATE SET
			name = @name,
			iban = @iban,
			account_number = @account_number,
			account_type = @account_type,
			bank_contact_id = @bank_contact_id
		WHEN NOT MATCHED THEN INSERT (`+accountColumns+`)
		VALUES (@account_id, @owner_id, @name, @iban, @account_number, @account_type, @bank_contact_id)
	`,
		bigquery.QueryParameter{Name: "account_id", Value: a.ID},
		ownerParam(a.OwnerID),
		bigquery.QueryParameter{Name: "name", Value: a.Name},
		bigquery.QueryParameter{Name: "iban", Value: a.IBAN},
		bigquery.QueryParameter{Name: "account_number", Value: a.AccountNumber},
		bigquery.QueryParameter{Name: "account_type", Value: string(a.Type)},
		bigquery.QueryParameter{Name: "bank_contact_id", Value: a.BankContactID},
	)
	if err := r.exec(ctx, q); err != nil {
		return fmt.Errorf("SaveAccount: %w", err)
	}
	return nil
}

// ListSavingsPlans returns the owner's savings plans ordered by id.
func (r *Repository) ListSavingsPlans(ctx context.Context, ownerID string) ([]domain.SavingsPlan, error) {
	q := r.query(`
		SELECT
			savings_plan_id,
			owner_id,
			name,
			contract_number,
			is_active,
			plan_type,
			target_amount,
			target_date,
			installment_interval,
			archived_ts
		FROM {savings_plans}
		WHERE owner_id = @owner_id
		ORDER BY savings_plan_id
	`, ownerParam(ownerID))

	rows, err := readAll[SavingsPlanRow](ctx, q)
	if err != nil {
		return nil, fmt.Errorf("ListSavingsPlans: %w", err)
	}
	plans := make([]domain.SavingsPlan, 0, len(rows))
	for i := range rows {
		p, err := rows[i].toDomain()
		if err != nil {
			return nil, fmt.Errorf("ListSavingsPlans: plan %s: %w", rows[i].SavingsPlanID, err)
		}
		plans = append(plans, p)
	}
	return plans, nil
}

// SaveSavingsPlan inserts or updates a savings plan.
func (r *Repository) SaveSavingsPlan(ctx context.Context, p *domain.SavingsPlan) error {
	if err := r.claimID(ctx, TableSavingsPlans, "savings_plan_id", &p.ID, p.OwnerID, "savings plan"); err != nil {
		return fmt.Errorf("SaveSavingsPlan: %w", err)
	}
	archived := bigquery.NullTimestamp{}
	if p.ArchivedAt != nil {
		archived = bigquery.NullTimestamp{Timestamp: *p.ArchivedAt, Valid: true}
	}

	q := r.query(`
		MERGE {savings_plans} T
		USING (SELECT @savings_plan_id AS savings_plan_id) S
		ON T.savings_plan_id = S.savings_plan_id
		WHEN MATCHED THEN UPDATE SET
			name = @name,
			contract_number = @contract_number,
			is_active = @is_active,
			plan_type = @plan_type,
			target_amount = CAST(@target_amount AS NUMERIC),
			target_date = @target_date,
			installment_interval = @installment_interval,
			archived_ts = @archived_ts
		WHEN NOT MATCHED THEN INSERT (
			savings_plan_id, owner_id, name, contract_number, is_active, plan_type,
			target_amount, target_date, installment_interval, archived_ts
		)
		VALUES (
			@savings_plan_id, @owner_id, @name, @contract_number, @is_active, @plan_type,
			CAST(@target_amount AS NUMERIC), @target_date, @installment_interval, @archived_ts
		)
	`,
		bigquery.QueryParameter{Name: "savings_plan_id", Value: p.ID},
		ownerParam(p.OwnerID),
		bigquery.QueryParameter{Name: "name", Value: p.Name},
		bigquery.QueryParameter{Name: "contract_number", Value: p.ContractNumber},
		bigquery.QueryParameter{Name: "is_active", Value: p.IsActive},
		bigquery.QueryParameter{Name: "plan_type", Value: string(p.Type)},
		bigquery.QueryParameter{Name: "target_amount", Value: nullNumeric(p.TargetAmount)},
		bigquery.QueryParameter{Name: "target_date", Value: toNullDate(p.TargetDate)},
		bigquery.QueryParameter{Name: "installment_interval", Value: string(p.Interval)},
		bigquery.QueryParameter{Name: "archived_ts", Value: archived},
	)
	if err := r.exec(ctx, q); err != nil {
		return fmt.Errorf("SaveSavingsPlan: %w", err)
	}
	return nil
}

// ListSecurities returns the owner's securities ordered by id.
func (r *Repository) ListSecurities(ctx context.Context, ownerID string) ([]domain.Security, error) {
	q := r.query(`
		SELECT security_id, owner_id, name, identifier, external_code, currency, is_active
		FROM {securities}
		WHERE owner_id = @owner_id
		ORDER BY security_id
	`, ownerParam(ownerID))

	rows, err := readAll[SecurityRow](ctx, q)
	if err != nil {
		return nil, fmt.Errorf("ListSecurities: %w", err)
	}
	securities := make([]domain.Security, 0, len(rows))
	for i := range rows {
		securities = append(securities, rows[i].toDomain())
	}
	return securities, nil
}

// SaveSecurity inserts or updates a security.
func (r *Repository) SaveSecurity(ctx context.Context, s *domain.Security) error {
	if err := r.claimID(ctx, TableSecurities, "security_id", &s.ID, s.OwnerID, "security"); err != nil {
		return fmt.Errorf("SaveSecurity: %w", err)
	}

	q := r.query(`
		MERGE {securities} T
		USING (SELECT @security_id AS security_id) S
		ON T.security_id = S.security_id
		WHEN MATCHED THEN UPDATE SET
			name = @name,
			identifier = @identifier,
			external_code = @external_code,
			currency = @currency,
			is_active = @is_active
		WHEN NOT MATCHED THEN INSERT (security_id, owner_id, name, identifier, external_code, currency, is_active)
		VALUES (@security_id, @owner_id, @name, @identifier, @external_code, @currency, @is_active)
	`,
		bigquery.QueryParameter{Name: "security_id", Value: s.ID},
		ownerParam(s.OwnerID),
		bigquery.QueryParameter{Name: "name", Value: s.Name},
		bigquery.QueryParameter{Name: "identifier", Value: s.Identifier},
		bigquery.QueryParameter{Name: "external_code", Value: s.ExternalCode},
		bigquery.QueryParameter{Name: "currency", Value: s.CurrencyCode},
		bigquery.QueryParameter{Name: "is_active", Value: s.IsActive},
	)
	if err := r.exec(ctx, q); err != nil {
		return fmt.Errorf("SaveSecurity: %w", err)
	}
	return nil
}
