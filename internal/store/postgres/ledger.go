package postgres

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aoikurokawa/zone/internal/domain"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Ledger implements domain.Ledger on PostgreSQL. Each Atomically call is one
// READ COMMITTED transaction; rows an operation depends on are locked with
// SELECT ... FOR UPDATE so concurrent operations on the same records
// serialize. Lock waits are bounded by lockTimeout and surface as
// domain.ErrContention.
type Ledger struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

// NewLedger creates a Ledger backed by pool.
func NewLedger(pool *pgxpool.Pool, lockTimeout time.Duration) *Ledger {
	if lockTimeout <= 0 {
		lockTimeout = 5 * time.Second
	}
	return &Ledger{pool: pool, lockTimeout: lockTimeout}
}

// Seed creates genesis accounts that do not exist yet.
func (l *Ledger) Seed(ctx context.Context, balances map[common.Address]uint64) error {
	if len(balances) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	const query = `INSERT INTO accounts (address, balance) VALUES ($1, $2) ON CONFLICT (address) DO NOTHING`
	for addr, bal := range balances {
		if bal > math.MaxInt64 {
			return fmt.Errorf("postgres: seed %s: %w", addr.Hex(), domain.ErrInvalidAmount)
		}
		batch.Queue(query, addr.Bytes(), int64(bal))
	}

	br := l.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range balances {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: seed accounts: %w", err)
		}
	}
	return nil
}

// Atomically runs fn in one database transaction.
func (l *Ledger) Atomically(ctx context.Context, fn func(tx domain.LedgerTx) error) error {
	tx, err := l.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	timeout := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", l.lockTimeout.Milliseconds())
	if _, err := tx.Exec(ctx, timeout); err != nil {
		return fmt.Errorf("postgres: set lock timeout: %w", err)
	}

	if err := fn(&ledgerTx{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", mapError(err))
	}
	return nil
}

// --- read side ---

func (l *Ledger) GetVault(ctx context.Context) (domain.VaultSummary, error) {
	const query = `
		SELECT v.address, v.authority, v.created_at, COALESCE(a.balance, 0)
		FROM vault v
		LEFT JOIN accounts a ON a.address = v.address`

	var (
		s               domain.VaultSummary
		addr, authority []byte
		balance         int64
	)
	err := l.pool.QueryRow(ctx, query).Scan(&addr, &authority, &s.CreatedAt, &balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.VaultSummary{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.VaultSummary{}, fmt.Errorf("postgres: get vault: %w", err)
	}
	s.Address = common.BytesToAddress(addr)
	s.Authority = common.BytesToAddress(authority)
	s.Balance = uint64(balance)
	return s, nil
}

func (l *Ledger) GetMarket(ctx context.Context, assetID string) (domain.Market, error) {
	return getMarket(ctx, l.pool, assetID, "")
}

func (l *Ledger) GetPrediction(ctx context.Context, assetID string, user common.Address) (domain.Prediction, error) {
	query := `SELECT ` + predictionColumns + ` FROM predictions p
		WHERE p.asset_id = $1 AND p.user_addr = $2`
	p, err := scanPrediction(l.pool.QueryRow(ctx, query, assetID, user.Bytes()))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Prediction{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Prediction{}, fmt.Errorf("postgres: get prediction %s/%s: %w", assetID, user.Hex(), err)
	}
	return p, nil
}

func (l *Ledger) ListPredictions(ctx context.Context, assetID string, opts domain.ListOpts) ([]domain.Prediction, error) {
	query := `SELECT ` + predictionColumns + ` FROM predictions p
		WHERE p.asset_id = $1
		ORDER BY p.created_at, p.address`
	args := []any{assetID}
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	return queryPredictions(ctx, l.pool, "list predictions", query, args...)
}

func (l *Ledger) ListDue(ctx context.Context, now int64, after *domain.DueCursor, limit int) ([]domain.Prediction, error) {
	query := `SELECT ` + predictionColumns + ` FROM predictions p
		JOIN markets m ON m.asset_id = p.asset_id
		WHERE NOT p.settled AND m.start_ts <> 0 AND m.end_ts <= $1`
	args := []any{now}
	if after != nil {
		args = append(args, after.CreatedAt, after.Address.Bytes())
		query += fmt.Sprintf(" AND (p.created_at, p.address) > ($%d, $%d)", len(args)-1, len(args))
	}
	query += " ORDER BY p.created_at, p.address"
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	return queryPredictions(ctx, l.pool, "list due", query, args...)
}

func (l *Ledger) ListSettled(ctx context.Context, from, to int64) ([]domain.Prediction, error) {
	query := `SELECT ` + predictionColumns + ` FROM predictions p
		WHERE p.settled AND p.settled_at >= $1 AND p.settled_at < $2
		ORDER BY p.settled_at, p.address`
	return queryPredictions(ctx, l.pool, "list settled", query, from, to)
}

func (l *Ledger) BalanceOf(ctx context.Context, addr common.Address) (uint64, error) {
	return balanceOf(ctx, l.pool, addr)
}

// --- transaction ---

type ledgerTx struct {
	q querier
}

func (t *ledgerTx) Balance(ctx context.Context, addr common.Address) (uint64, error) {
	return balanceOf(ctx, t.q, addr)
}

// Transfer locks both account rows in address order, debits from and
// credits to. The credit is relative so a recipient row created by a
// concurrent transaction is never overwritten.
func (t *ledgerTx) Transfer(ctx context.Context, from, to common.Address, amount uint64) error {
	if amount == 0 {
		return nil
	}

	const lockQuery = `
		SELECT address, balance FROM accounts
		WHERE address = ANY($1)
		ORDER BY address
		FOR UPDATE`
	rows, err := t.q.Query(ctx, lockQuery, [][]byte{from.Bytes(), to.Bytes()})
	if err != nil {
		return fmt.Errorf("postgres: lock accounts: %w", mapError(err))
	}
	balances := make(map[common.Address]uint64, 2)
	for rows.Next() {
		var (
			addr []byte
			bal  int64
		)
		if err := rows.Scan(&addr, &bal); err != nil {
			rows.Close()
			return fmt.Errorf("postgres: scan account: %w", err)
		}
		balances[common.BytesToAddress(addr)] = uint64(bal)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("postgres: lock accounts: %w", mapError(err))
	}

	if balances[from] < amount {
		return domain.ErrInsufficientFunds
	}
	if from == to {
		return nil
	}
	if balances[to] > math.MaxInt64-amount {
		return domain.ErrBalanceOverflow
	}

	const debit = `UPDATE accounts SET balance = balance - $2, updated_at = NOW() WHERE address = $1`
	if _, err := t.q.Exec(ctx, debit, from.Bytes(), int64(amount)); err != nil {
		return fmt.Errorf("postgres: debit %s: %w", from.Hex(), mapError(err))
	}
	const credit = `
		INSERT INTO accounts (address, balance) VALUES ($1, $2)
		ON CONFLICT (address) DO UPDATE SET
			balance    = accounts.balance + EXCLUDED.balance,
			updated_at = NOW()`
	if _, err := t.q.Exec(ctx, credit, to.Bytes(), int64(amount)); err != nil {
		return fmt.Errorf("postgres: credit %s: %w", to.Hex(), mapError(err))
	}
	return nil
}

func (t *ledgerTx) Vault(ctx context.Context) (domain.Vault, error) {
	const query = `SELECT address, authority, created_at FROM vault FOR SHARE`
	var (
		v               domain.Vault
		addr, authority []byte
	)
	err := t.q.QueryRow(ctx, query).Scan(&addr, &authority, &v.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Vault{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Vault{}, fmt.Errorf("postgres: get vault: %w", mapError(err))
	}
	v.Address = common.BytesToAddress(addr)
	v.Authority = common.BytesToAddress(authority)
	return v, nil
}

func (t *ledgerTx) CreateVault(ctx context.Context, v domain.Vault) error {
	const query = `INSERT INTO vault (address, authority, created_at) VALUES ($1, $2, $3)`
	_, err := t.q.Exec(ctx, query, v.Address.Bytes(), v.Authority.Bytes(), v.CreatedAt)
	if err != nil {
		if errors.Is(mapError(err), domain.ErrAlreadyExists) {
			return domain.ErrAlreadyInitialized
		}
		return fmt.Errorf("postgres: create vault: %w", mapError(err))
	}
	return nil
}

func (t *ledgerTx) Market(ctx context.Context, assetID string) (domain.Market, error) {
	return getMarket(ctx, t.q, assetID, " FOR UPDATE")
}

func (t *ledgerTx) CreateMarket(ctx context.Context, m domain.Market) error {
	const query = `
		INSERT INTO markets (asset_id, address, authority, start_ts, end_ts, payout_multiplier, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := t.q.Exec(ctx, query,
		m.AssetID, m.Address.Bytes(), m.Authority.Bytes(),
		m.Start, m.End, int64(m.PayoutMultiplier), m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create market %s: %w", m.AssetID, mapError(err))
	}
	return nil
}

func (t *ledgerTx) UpdateMarket(ctx context.Context, m domain.Market) error {
	const query = `UPDATE markets SET start_ts = $2, end_ts = $3 WHERE asset_id = $1`
	tag, err := t.q.Exec(ctx, query, m.AssetID, m.Start, m.End)
	if err != nil {
		return fmt.Errorf("postgres: update market %s: %w", m.AssetID, mapError(err))
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (t *ledgerTx) Prediction(ctx context.Context, market, user common.Address) (domain.Prediction, error) {
	query := `SELECT ` + predictionColumns + ` FROM predictions p
		WHERE p.market = $1 AND p.user_addr = $2
		FOR UPDATE`
	p, err := scanPrediction(t.q.QueryRow(ctx, query, market.Bytes(), user.Bytes()))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Prediction{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Prediction{}, fmt.Errorf("postgres: get prediction: %w", mapError(err))
	}
	return p, nil
}

func (t *ledgerTx) CreatePrediction(ctx context.Context, p domain.Prediction) error {
	const query = `
		INSERT INTO predictions (
			address, market, user_addr, asset_id, direction,
			amount, reference_price, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8)`
	_, err := t.q.Exec(ctx, query,
		p.Address.Bytes(), p.Market.Bytes(), p.User.Bytes(), p.AssetID, string(p.Direction),
		int64(p.Amount), strconv.FormatUint(p.ReferencePrice, 10), p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create prediction: %w", mapError(err))
	}
	return nil
}

func (t *ledgerTx) UpdatePrediction(ctx context.Context, p domain.Prediction) error {
	const query = `
		UPDATE predictions SET
			settled      = $2,
			won          = $3,
			payout       = $4::numeric,
			actual_price = $5::numeric,
			settled_at   = $6
		WHERE address = $1`
	tag, err := t.q.Exec(ctx, query,
		p.Address.Bytes(), p.Settled, p.Won,
		strconv.FormatUint(p.Payout, 10), strconv.FormatUint(p.ActualPrice, 10), p.SettledAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update prediction: %w", mapError(err))
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// --- shared helpers ---

const marketColumns = `asset_id, address, authority, start_ts, end_ts, payout_multiplier, created_at`

const predictionColumns = `p.address, p.market, p.user_addr, p.asset_id, p.direction, p.amount,
	p.reference_price::text, p.created_at, p.settled, p.won, p.payout::text,
	p.actual_price::text, p.settled_at`

func balanceOf(ctx context.Context, q querier, addr common.Address) (uint64, error) {
	var bal int64
	err := q.QueryRow(ctx, `SELECT balance FROM accounts WHERE address = $1`, addr.Bytes()).Scan(&bal)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("postgres: balance %s: %w", addr.Hex(), mapError(err))
	}
	return uint64(bal), nil
}

func getMarket(ctx context.Context, q querier, assetID, lock string) (domain.Market, error) {
	var (
		m               domain.Market
		addr, authority []byte
		mult            int64
	)
	err := q.QueryRow(ctx, `SELECT `+marketColumns+` FROM markets WHERE asset_id = $1`+lock, assetID).
		Scan(&m.AssetID, &addr, &authority, &m.Start, &m.End, &mult, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Market{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Market{}, fmt.Errorf("postgres: get market %s: %w", assetID, mapError(err))
	}
	m.Address = common.BytesToAddress(addr)
	m.Authority = common.BytesToAddress(authority)
	m.PayoutMultiplier = uint64(mult)
	return m, nil
}

func scanPrediction(row pgx.Row) (domain.Prediction, error) {
	var (
		p                        domain.Prediction
		addr, market, user       []byte
		direction                string
		amount                   int64
		refPrice, payout, actual string
	)
	err := row.Scan(
		&addr, &market, &user, &p.AssetID, &direction, &amount,
		&refPrice, &p.CreatedAt, &p.Settled, &p.Won, &payout,
		&actual, &p.SettledAt,
	)
	if err != nil {
		return domain.Prediction{}, err
	}
	p.Address = common.BytesToAddress(addr)
	p.Market = common.BytesToAddress(market)
	p.User = common.BytesToAddress(user)
	p.Direction = domain.Direction(direction)
	p.Amount = uint64(amount)

	for _, f := range []struct {
		in  string
		out *uint64
	}{
		{refPrice, &p.ReferencePrice},
		{payout, &p.Payout},
		{actual, &p.ActualPrice},
	} {
		v, err := strconv.ParseUint(f.in, 10, 64)
		if err != nil {
			return domain.Prediction{}, fmt.Errorf("parse numeric %q: %w", f.in, err)
		}
		*f.out = v
	}
	return p, nil
}

func queryPredictions(ctx context.Context, q querier, op, query string, args ...any) ([]domain.Prediction, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: %s: %w", op, err)
	}
	defer rows.Close()

	var out []domain.Prediction
	for rows.Next() {
		p, err := scanPrediction(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: %s: scan: %w", op, err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: %s rows: %w", op, err)
	}
	return out, nil
}

var (
	_ domain.Ledger   = (*Ledger)(nil)
	_ domain.LedgerTx = (*ledgerTx)(nil)
)
