package database

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"unlockd/internal/server/ledger"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// LedgerStore implements ledger.Store on Postgres. Writes run in a
// transaction holding a transaction-scoped advisory lock; reads run in a
// read-only REPEATABLE READ transaction so they see one snapshot.
type LedgerStore struct {
	db *DB
}

// NewLedgerStore creates a new LedgerStore. Migrations must already be applied.
func NewLedgerStore(db *DB) *LedgerStore {
	return &LedgerStore{db: db}
}

// View runs fn in a read-only snapshot transaction.
func (s *LedgerStore) View(ctx context.Context, fn func(r ledger.Reader) error) error {
	tx, err := s.db.Pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	})
	if err != nil {
		return fmt.Errorf("failed to begin read transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Update runs fn in a write transaction and commits only if fn succeeds.
func (s *LedgerStore) Update(ctx context.Context, fn func(tx ledger.Tx) error) error {
	tx, err := s.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", ledgerLockKey); err != nil {
		return fmt.Errorf("failed to take ledger lock: %w", err)
	}

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// HealthCheck pings the pool.
func (s *LedgerStore) HealthCheck(ctx context.Context) error {
	return s.db.HealthCheck(ctx)
}

// Close shuts down the pool.
func (s *LedgerStore) Close() error {
	s.db.Close()
	return nil
}

type pgTx struct {
	tx pgx.Tx
}

const contentColumns = `
	id, title, description, content_type, ipfs_hash, embed_url, preview_hash,
	price::text, creator, is_active, created_at, total_earnings::text, total_sales
`

func (t *pgTx) ContentCount(ctx context.Context) (uint64, error) {
	var count int64
	if err := t.tx.QueryRow(ctx, "SELECT COALESCE(MAX(id), 0) FROM contents").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count contents: %w", err)
	}
	return uint64(count), nil
}

func (t *pgTx) Content(ctx context.Context, id uint64) (*ledger.ContentItem, error) {
	if id > maxBigint {
		return nil, ledger.ErrNotFound
	}
	row := t.tx.QueryRow(ctx, "SELECT "+contentColumns+" FROM contents WHERE id = $1", int64(id))
	item, err := scanContent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ledger.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get content %d: %w", id, err)
	}
	return item, nil
}

func (t *pgTx) HasAccess(ctx context.Context, buyer common.Address, contentID uint64) (bool, error) {
	if contentID > maxBigint {
		return false, nil
	}
	var exists bool
	err := t.tx.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM access_grants WHERE buyer = $1 AND content_id = $2)",
		buyer.Hex(), int64(contentID),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check access: %w", err)
	}
	return exists, nil
}

func (t *pgTx) CreatorAccount(ctx context.Context, creator common.Address) (*ledger.CreatorAccount, error) {
	acct := &ledger.CreatorAccount{Creator: creator}
	var (
		activeContent, activeSales, lifetimeSales                 int64
		activeEarnings, lifetimeEarnings, balance, totalWithdrawn string
		lastWithdrawal                                            *time.Time
	)
	err := t.tx.QueryRow(ctx, `
		SELECT active_content, active_earnings::text, active_sales,
			   lifetime_earnings::text, lifetime_sales, balance::text,
			   total_withdrawn::text, last_withdrawal_at
		FROM creator_accounts WHERE creator = $1
	`, creator.Hex()).Scan(
		&activeContent,
		&activeEarnings,
		&activeSales,
		&lifetimeEarnings,
		&lifetimeSales,
		&balance,
		&totalWithdrawn,
		&lastWithdrawal,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ledger.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get creator account: %w", err)
	}

	acct.ActiveContent = uint64(activeContent)
	acct.ActiveSales = uint64(activeSales)
	acct.LifetimeSales = uint64(lifetimeSales)
	for _, f := range []struct {
		dst **big.Int
		src string
	}{
		{&acct.ActiveEarnings, activeEarnings},
		{&acct.LifetimeEarnings, lifetimeEarnings},
		{&acct.Balance, balance},
		{&acct.TotalWithdrawn, totalWithdrawn},
	} {
		if *f.dst, err = ledger.ParseAmount(f.src); err != nil {
			return nil, fmt.Errorf("failed to decode creator account amount: %w", err)
		}
	}
	if lastWithdrawal != nil {
		acct.LastWithdrawalAt = lastWithdrawal.UTC()
	}
	return acct, nil
}

func (t *pgTx) CreatorContentIDs(ctx context.Context, creator common.Address) ([]uint64, error) {
	return t.collectIDs(ctx, "SELECT id FROM contents WHERE creator = $1 ORDER BY id", creator.Hex())
}

func (t *pgTx) BuyerContentIDs(ctx context.Context, buyer common.Address) ([]uint64, error) {
	return t.collectIDs(ctx, "SELECT content_id FROM access_grants WHERE buyer = $1 ORDER BY content_id", buyer.Hex())
}

func (t *pgTx) collectIDs(ctx context.Context, query string, arg string) ([]uint64, error) {
	rows, err := t.tx.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to query ids: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("failed to scan ids: %w", err)
	}
	out := make([]uint64, len(ids))
	for i, id := range ids {
		out[i] = uint64(id)
	}
	return out, nil
}

func (t *pgTx) Withdrawals(ctx context.Context, creator common.Address) ([]*ledger.Withdrawal, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT amount::text, reference, created_at
		FROM withdrawals WHERE creator = $1 ORDER BY id
	`, creator.Hex())
	if err != nil {
		return nil, fmt.Errorf("failed to query withdrawals: %w", err)
	}
	defer rows.Close()

	list := []*ledger.Withdrawal{}
	for rows.Next() {
		var (
			w      = &ledger.Withdrawal{Creator: creator}
			amount string
		)
		if err := rows.Scan(&amount, &w.Reference, &w.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan withdrawal: %w", err)
		}
		if w.Amount, err = ledger.ParseAmount(amount); err != nil {
			return nil, fmt.Errorf("failed to decode withdrawal amount: %w", err)
		}
		w.CreatedAt = w.CreatedAt.UTC()
		list = append(list, w)
	}
	return list, rows.Err()
}

func (t *pgTx) InsertContent(ctx context.Context, item *ledger.ContentItem) error {
	count, err := t.ContentCount(ctx)
	if err != nil {
		return err
	}
	if item.ID != count+1 {
		return fmt.Errorf("content id %d is not next in sequence (count %d)", item.ID, count)
	}

	_, err = t.tx.Exec(ctx, `
		INSERT INTO contents (
			id, title, description, content_type, ipfs_hash, embed_url,
			preview_hash, price, creator, is_active, created_at,
			total_earnings, total_sales
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`,
		int64(item.ID),
		item.Title,
		item.Description,
		int16(item.ContentType),
		item.IPFSHash,
		item.EmbedURL,
		item.PreviewHash,
		numeric(item.Price),
		item.Creator.Hex(),
		item.IsActive,
		item.CreatedAt,
		numeric(item.TotalEarnings),
		int64(item.TotalSales),
	)
	if err != nil {
		return fmt.Errorf("failed to insert content: %w", err)
	}
	return nil
}

func (t *pgTx) UpdateContent(ctx context.Context, item *ledger.ContentItem) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE contents
		SET price = $2, is_active = $3, total_earnings = $4, total_sales = $5
		WHERE id = $1
	`,
		int64(item.ID),
		numeric(item.Price),
		item.IsActive,
		numeric(item.TotalEarnings),
		int64(item.TotalSales),
	)
	if err != nil {
		return fmt.Errorf("failed to update content: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ledger.ErrNotFound
	}
	return nil
}

func (t *pgTx) InsertGrant(ctx context.Context, grant *ledger.AccessGrant) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO access_grants (buyer, content_id, amount_paid, granted_at)
		VALUES ($1, $2, $3, $4)
	`,
		grant.Buyer.Hex(),
		int64(grant.ContentID),
		numeric(grant.AmountPaid),
		grant.GrantedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert access grant: %w", err)
	}
	return nil
}

func (t *pgTx) PutCreatorAccount(ctx context.Context, acct *ledger.CreatorAccount) error {
	var lastWithdrawal *time.Time
	if !acct.LastWithdrawalAt.IsZero() {
		lastWithdrawal = &acct.LastWithdrawalAt
	}
	_, err := t.tx.Exec(ctx, `
		INSERT INTO creator_accounts (
			creator, active_content, active_earnings, active_sales,
			lifetime_earnings, lifetime_sales, balance, total_withdrawn,
			last_withdrawal_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (creator) DO UPDATE SET
			active_content     = EXCLUDED.active_content,
			active_earnings    = EXCLUDED.active_earnings,
			active_sales       = EXCLUDED.active_sales,
			lifetime_earnings  = EXCLUDED.lifetime_earnings,
			lifetime_sales     = EXCLUDED.lifetime_sales,
			balance            = EXCLUDED.balance,
			total_withdrawn    = EXCLUDED.total_withdrawn,
			last_withdrawal_at = EXCLUDED.last_withdrawal_at
	`,
		acct.Creator.Hex(),
		int64(acct.ActiveContent),
		numeric(acct.ActiveEarnings),
		int64(acct.ActiveSales),
		numeric(acct.LifetimeEarnings),
		int64(acct.LifetimeSales),
		numeric(acct.Balance),
		numeric(acct.TotalWithdrawn),
		lastWithdrawal,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert creator account: %w", err)
	}
	return nil
}

func (t *pgTx) InsertWithdrawal(ctx context.Context, w *ledger.Withdrawal) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO withdrawals (creator, amount, reference, created_at)
		VALUES ($1, $2, $3, $4)
	`,
		w.Creator.Hex(),
		numeric(w.Amount),
		w.Reference,
		w.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert withdrawal: %w", err)
	}
	return nil
}

const maxBigint = uint64(1<<63 - 1)

// numeric encodes a wei amount for a NUMERIC(78,0) column. nil encodes as 0.
func numeric(v *big.Int) pgtype.Numeric {
	return pgtype.Numeric{Int: ledger.CopyAmount(v), Exp: 0, Valid: true}
}

func scanContent(row pgx.Row) (*ledger.ContentItem, error) {
	var (
		item          = &ledger.ContentItem{}
		id, sales     int64
		contentType   int16
		creator       string
		price, earned string
	)
	err := row.Scan(
		&id,
		&item.Title,
		&item.Description,
		&contentType,
		&item.IPFSHash,
		&item.EmbedURL,
		&item.PreviewHash,
		&price,
		&creator,
		&item.IsActive,
		&item.CreatedAt,
		&earned,
		&sales,
	)
	if err != nil {
		return nil, err
	}

	item.ID = uint64(id)
	item.TotalSales = uint64(sales)
	item.ContentType = ledger.ContentType(contentType)
	item.Creator = common.HexToAddress(creator)
	item.CreatedAt = item.CreatedAt.UTC()
	if item.Price, err = ledger.ParseAmount(price); err != nil {
		return nil, fmt.Errorf("failed to decode price: %w", err)
	}
	if item.TotalEarnings, err = ledger.ParseAmount(earned); err != nil {
		return nil, fmt.Errorf("failed to decode total earnings: %w", err)
	}
	return item, nil
}
