// Package postgres implements the store on PostgreSQL with pgx.
package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/Muesli84/FinanceManager-sub001/internal/model"
	"github.com/Muesli84/FinanceManager-sub001/internal/store"
)

//go:embed schema.sql
var schema string

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Store is a PostgreSQL-backed store.Store.
type Store struct {
	conn
	pool *pgxpool.Pool
}

var (
	_ store.Store  = (*Store)(nil)
	_ store.Seeder = (*Store)(nil)
)

// NewStore connects to the database and verifies the connection.
func NewStore(ctx context.Context, connString string) (*Store, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &Store{conn: conn{q: pool}, pool: pool}, nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Migrate creates missing tables.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	return nil
}

// InTx runs fn in a read-committed transaction. Drafts read inside the
// transaction are locked until it ends.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, &conn{q: tx, lock: true}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("tx commit failed: %w", err)
	}
	return nil
}

// SetMasterData replaces the owner's master data in one transaction.
func (s *Store) SetMasterData(ctx context.Context, ownerID string, accounts []model.Account, contacts []model.Contact, securities []model.Security, plans []model.SavingsPlan) error {
	return s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		c := tx.(*conn)
		for _, table := range []string{"accounts", "contacts", "securities", "savings_plans"} {
			if _, err := c.q.Exec(ctx, "DELETE FROM "+table+" WHERE owner_id = $1", ownerID); err != nil {
				return fmt.Errorf("clearing %s: %w", table, err)
			}
		}
		for _, a := range accounts {
			if _, err := c.q.Exec(ctx,
				"INSERT INTO accounts (id, owner_id, name, iban, account_number, bank_contact_id) VALUES ($1, $2, $3, $4, $5, $6)",
				a.ID, ownerID, a.Name, a.IBAN, a.AccountNumber, a.BankContactID); err != nil {
				return fmt.Errorf("inserting account %s: %w", a.ID, err)
			}
		}
		for _, ct := range contacts {
			aliases := ct.AliasPatterns
			if aliases == nil {
				aliases = []string{}
			}
			if _, err := c.q.Exec(ctx,
				"INSERT INTO contacts (id, owner_id, name, type, aliases, payment_intermediary) VALUES ($1, $2, $3, $4, $5, $6)",
				ct.ID, ownerID, ct.Name, string(ct.Type), aliases, ct.IsPaymentIntermediary); err != nil {
				return fmt.Errorf("inserting contact %s: %w", ct.ID, err)
			}
		}
		for _, sec := range securities {
			if _, err := c.q.Exec(ctx,
				"INSERT INTO securities (id, owner_id, name, identifier) VALUES ($1, $2, $3, $4)",
				sec.ID, ownerID, sec.Name, sec.Identifier); err != nil {
				return fmt.Errorf("inserting security %s: %w", sec.ID, err)
			}
		}
		for _, p := range plans {
			if _, err := c.q.Exec(ctx,
				"INSERT INTO savings_plans (id, owner_id, name, archived) VALUES ($1, $2, $3, $4)",
				p.ID, ownerID, p.Name, p.Archived); err != nil {
				return fmt.Errorf("inserting savings plan %s: %w", p.ID, err)
			}
		}
		return nil
	})
}

// conn implements store.Tx on a querier.
type conn struct {
	q    querier
	lock bool // inside a transaction: lock selected drafts
}

func (c *conn) lockClause() string {
	if c.lock {
		return " FOR UPDATE"
	}
	return ""
}

func notFound(what, id string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", what, id, store.ErrNotFound)
	}
	return fmt.Errorf("%s %s: %w", what, id, err)
}

func (c *conn) GetDraft(ctx context.Context, ownerID, id string) (*model.Draft, error) {
	var body []byte
	err := c.q.QueryRow(ctx,
		"SELECT body FROM drafts WHERE id = $1 AND owner_id = $2"+c.lockClause(),
		id, ownerID).Scan(&body)
	if err != nil {
		return nil, notFound("draft", id, err)
	}
	var d model.Draft
	if err := json.Unmarshal(body, &d); err != nil {
		return nil, fmt.Errorf("decoding draft %s: %w", id, err)
	}
	return &d, nil
}

func (c *conn) SaveDraft(ctx context.Context, d *model.Draft) error {
	body, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encoding draft %s: %w", d.ID, err)
	}
	tag, err := c.q.Exec(ctx, `
		INSERT INTO drafts (id, owner_id, upload_group_id, status, created_at, body)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE
		SET upload_group_id = EXCLUDED.upload_group_id, status = EXCLUDED.status, body = EXCLUDED.body
		WHERE drafts.owner_id = EXCLUDED.owner_id`,
		d.ID, d.OwnerID, d.UploadGroupID, string(d.Status), d.CreatedAt, body)
	if err != nil {
		return fmt.Errorf("saving draft %s: %w", d.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("draft %s: %w", d.ID, store.ErrNotFound)
	}
	return nil
}

func (c *conn) DeleteDraft(ctx context.Context, ownerID, id string) error {
	tag, err := c.q.Exec(ctx, "DELETE FROM drafts WHERE id = $1 AND owner_id = $2", id, ownerID)
	if err != nil {
		return fmt.Errorf("deleting draft %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("draft %s: %w", id, store.ErrNotFound)
	}
	return nil
}

func (c *conn) ListDrafts(ctx context.Context, ownerID string) ([]*model.Draft, error) {
	return c.queryDrafts(ctx,
		"SELECT body FROM drafts WHERE owner_id = $1 ORDER BY created_at, id", ownerID)
}

func (c *conn) DraftsByUploadGroup(ctx context.Context, ownerID, uploadGroupID string) ([]*model.Draft, error) {
	if uploadGroupID == "" {
		return nil, nil
	}
	return c.queryDrafts(ctx,
		"SELECT body FROM drafts WHERE owner_id = $1 AND upload_group_id = $2 ORDER BY created_at, id"+c.lockClause(),
		ownerID, uploadGroupID)
}

func (c *conn) queryDrafts(ctx context.Context, sql string, args ...any) ([]*model.Draft, error) {
	rows, err := c.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("querying drafts: %w", err)
	}
	bodies, err := pgx.CollectRows(rows, pgx.RowTo[[]byte])
	if err != nil {
		return nil, fmt.Errorf("reading drafts: %w", err)
	}
	out := make([]*model.Draft, 0, len(bodies))
	for _, b := range bodies {
		var d model.Draft
		if err := json.Unmarshal(b, &d); err != nil {
			return nil, fmt.Errorf("decoding draft: %w", err)
		}
		out = append(out, &d)
	}
	return out, nil
}

func (c *conn) AddPostings(ctx context.Context, ps []model.Posting) error {
	batch := &pgx.Batch{}
	for _, p := range ps {
		batch.Queue(`
			INSERT INTO postings (id, owner_id, kind, account_id, contact_id, savings_plan_id, security_id,
				booking_date, valuta_date, amount, group_id, security_sub_type, quantity, subject, recipient_name, description)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
			p.ID, p.OwnerID, string(p.Kind), p.AccountID, p.ContactID, p.SavingsPlanID, p.SecurityID,
			p.BookingDate, p.ValutaDate, p.Amount, p.GroupID, string(p.SecuritySubType), p.Quantity,
			p.Subject, p.RecipientName, p.Description)
	}
	if batch.Len() == 0 {
		return nil
	}
	br := c.q.SendBatch(ctx, batch)
	defer br.Close()
	for _, p := range ps {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("inserting posting %s: %w", p.ID, err)
		}
	}
	return nil
}

const postingColumns = `id, owner_id, kind, account_id, contact_id, savings_plan_id, security_id,
	booking_date, valuta_date, amount, group_id, security_sub_type, quantity, subject, recipient_name, description`

func (c *conn) ListPostings(ctx context.Context, ownerID string) ([]model.Posting, error) {
	rows, err := c.q.Query(ctx,
		"SELECT "+postingColumns+" FROM postings WHERE owner_id = $1 ORDER BY booking_date, id", ownerID)
	if err != nil {
		return nil, fmt.Errorf("querying postings: %w", err)
	}
	defer rows.Close()

	var out []model.Posting
	for rows.Next() {
		var p model.Posting
		var kind, sub string
		if err := rows.Scan(&p.ID, &p.OwnerID, &kind, &p.AccountID, &p.ContactID, &p.SavingsPlanID, &p.SecurityID,
			&p.BookingDate, &p.ValutaDate, &p.Amount, &p.GroupID, &sub, &p.Quantity,
			&p.Subject, &p.RecipientName, &p.Description); err != nil {
			return nil, fmt.Errorf("scanning posting: %w", err)
		}
		p.Kind = model.PostingKind(kind)
		p.SecuritySubType = model.SecuritySubType(sub)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading postings: %w", err)
	}
	return out, nil
}

func (c *conn) HasBankPosting(ctx context.Context, ownerID, accountID string, date time.Time, amount decimal.Decimal, subject string) (bool, error) {
	var exists bool
	err := c.q.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM postings
		WHERE owner_id = $1 AND kind = 'bank' AND account_id = $2 AND booking_date = $3 AND amount = $4 AND subject = $5)`,
		ownerID, accountID, date, amount, subject).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking bank posting: %w", err)
	}
	return exists, nil
}

const aggregateKeyColumns = "owner_id, kind, account_id, contact_id, savings_plan_id, security_id, security_sub_type, period, period_start"

func keyArgs(k model.AggregateKey) []any {
	return []any{k.OwnerID, string(k.Kind), k.AccountID, k.ContactID, k.SavingsPlanID, k.SecurityID,
		string(k.SecuritySubType), string(k.Period), k.PeriodStart}
}

// AddToAggregate is a single atomic upsert; the row lock taken by the
// conflict update serializes concurrent increments of one key.
func (c *conn) AddToAggregate(ctx context.Context, key model.AggregateKey, delta decimal.Decimal) error {
	args := append(keyArgs(key), delta)
	_, err := c.q.Exec(ctx, `
		INSERT INTO posting_aggregates (`+aggregateKeyColumns+`, amount)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (`+aggregateKeyColumns+`)
		DO UPDATE SET amount = posting_aggregates.amount + EXCLUDED.amount`, args...)
	if err != nil {
		return fmt.Errorf("updating aggregate: %w", err)
	}
	return nil
}

func (c *conn) GetAggregate(ctx context.Context, key model.AggregateKey) (model.PostingAggregate, error) {
	agg := model.PostingAggregate{AggregateKey: key}
	err := c.q.QueryRow(ctx, `
		SELECT amount FROM posting_aggregates
		WHERE owner_id = $1 AND kind = $2 AND account_id = $3 AND contact_id = $4 AND savings_plan_id = $5
		AND security_id = $6 AND security_sub_type = $7 AND period = $8 AND period_start = $9`,
		keyArgs(key)...).Scan(&agg.Amount)
	if err != nil {
		return model.PostingAggregate{}, notFound("aggregate", string(key.Period), err)
	}
	return agg, nil
}

func (c *conn) ListAggregates(ctx context.Context, ownerID string) ([]model.PostingAggregate, error) {
	rows, err := c.q.Query(ctx, `
		SELECT `+aggregateKeyColumns+`, amount FROM posting_aggregates
		WHERE owner_id = $1
		ORDER BY kind, account_id || contact_id || savings_plan_id || security_id, security_sub_type, period, period_start`,
		ownerID)
	if err != nil {
		return nil, fmt.Errorf("querying aggregates: %w", err)
	}
	defer rows.Close()

	var out []model.PostingAggregate
	for rows.Next() {
		var a model.PostingAggregate
		var kind, sub, period string
		if err := rows.Scan(&a.OwnerID, &kind, &a.AccountID, &a.ContactID, &a.SavingsPlanID, &a.SecurityID,
			&sub, &period, &a.PeriodStart, &a.Amount); err != nil {
			return nil, fmt.Errorf("scanning aggregate: %w", err)
		}
		a.Kind = model.PostingKind(kind)
		a.SecuritySubType = model.SecuritySubType(sub)
		a.Period = model.AggregatePeriod(period)
		a.PeriodStart = a.PeriodStart.UTC()
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading aggregates: %w", err)
	}
	return out, nil
}

func (c *conn) DeleteAggregates(ctx context.Context, ownerID string) error {
	if _, err := c.q.Exec(ctx, "DELETE FROM posting_aggregates WHERE owner_id = $1", ownerID); err != nil {
		return fmt.Errorf("deleting aggregates: %w", err)
	}
	return nil
}

func (c *conn) Accounts(ctx context.Context, ownerID string) ([]model.Account, error) {
	rows, err := c.q.Query(ctx,
		"SELECT id, owner_id, name, iban, account_number, bank_contact_id FROM accounts WHERE owner_id = $1 ORDER BY name, id",
		ownerID)
	if err != nil {
		return nil, fmt.Errorf("querying accounts: %w", err)
	}
	accounts, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Account, error) {
		var a model.Account
		err := row.Scan(&a.ID, &a.OwnerID, &a.Name, &a.IBAN, &a.AccountNumber, &a.BankContactID)
		return a, err
	})
	if err != nil {
		return nil, fmt.Errorf("reading accounts: %w", err)
	}
	return accounts, nil
}

func (c *conn) Contacts(ctx context.Context, ownerID string) ([]model.Contact, error) {
	rows, err := c.q.Query(ctx,
		"SELECT id, owner_id, name, type, aliases, payment_intermediary FROM contacts WHERE owner_id = $1 ORDER BY name, id",
		ownerID)
	if err != nil {
		return nil, fmt.Errorf("querying contacts: %w", err)
	}
	contacts, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Contact, error) {
		var ct model.Contact
		var typ string
		err := row.Scan(&ct.ID, &ct.OwnerID, &ct.Name, &typ, &ct.AliasPatterns, &ct.IsPaymentIntermediary)
		ct.Type = model.ContactType(typ)
		return ct, err
	})
	if err != nil {
		return nil, fmt.Errorf("reading contacts: %w", err)
	}
	return contacts, nil
}

func (c *conn) Securities(ctx context.Context, ownerID string) ([]model.Security, error) {
	rows, err := c.q.Query(ctx,
		"SELECT id, owner_id, name, identifier FROM securities WHERE owner_id = $1 ORDER BY name, id", ownerID)
	if err != nil {
		return nil, fmt.Errorf("querying securities: %w", err)
	}
	securities, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Security, error) {
		var s model.Security
		err := row.Scan(&s.ID, &s.OwnerID, &s.Name, &s.Identifier)
		return s, err
	})
	if err != nil {
		return nil, fmt.Errorf("reading securities: %w", err)
	}
	return securities, nil
}

func (c *conn) SavingsPlans(ctx context.Context, ownerID string) ([]model.SavingsPlan, error) {
	rows, err := c.q.Query(ctx,
		"SELECT id, owner_id, name, archived FROM savings_plans WHERE owner_id = $1 ORDER BY name, id", ownerID)
	if err != nil {
		return nil, fmt.Errorf("querying savings plans: %w", err)
	}
	plans, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.SavingsPlan, error) {
		var p model.SavingsPlan
		err := row.Scan(&p.ID, &p.OwnerID, &p.Name, &p.Archived)
		return p, err
	})
	if err != nil {
		return nil, fmt.Errorf("reading savings plans: %w", err)
	}
	return plans, nil
}

func (c *conn) ArchiveSavingsPlan(ctx context.Context, ownerID, id string) error {
	tag, err := c.q.Exec(ctx, "UPDATE savings_plans SET archived = TRUE WHERE id = $1 AND owner_id = $2", id, ownerID)
	if err != nil {
		return fmt.Errorf("archiving savings plan %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("savings plan %s: %w", id, store.ErrNotFound)
	}
	return nil
}
