package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aoikurokawa/zone/internal/domain"
)

func TestDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  ClientConfig
		want string
	}{
		{
			name: "explicit dsn wins",
			cfg:  ClientConfig{DSN: "postgres://x@y/z", Host: "ignored"},
			want: "postgres://x@y/z",
		},
		{
			name: "defaults",
			cfg:  ClientConfig{Host: "db", Database: "zone", User: "u", Password: "p"},
			want: "postgres://u:p@db:5432/zone?sslmode=disable",
		},
		{
			name: "custom port and ssl",
			cfg:  ClientConfig{Host: "db", Port: 6543, Database: "zone", User: "u", Password: "p", SSLMode: "require"},
			want: "postgres://u:p@db:6543/zone?sslmode=require",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DSN(tt.cfg))
		})
	}
}

func TestMapError(t *testing.T) {
	plain := errors.New("plain")

	tests := []struct {
		name string
		in   error
		want error
	}{
		{"nil", nil, nil},
		{"plain passes through", plain, plain},
		{"typed passes through", domain.ErrNotFound, domain.ErrNotFound},
		{"unique", &pgconn.PgError{Code: codeUniqueViolation}, domain.ErrAlreadyExists},
		{"balance check", &pgconn.PgError{Code: codeCheckViolation, ConstraintName: balanceConstraint}, domain.ErrInsufficientFunds},
		{"overflow", &pgconn.PgError{Code: codeNumericOutOfRange}, domain.ErrBalanceOverflow},
		{"serialization", &pgconn.PgError{Code: codeSerializationFailure}, domain.ErrContention},
		{"deadlock", &pgconn.PgError{Code: codeDeadlockDetected}, domain.ErrContention},
		{"lock timeout", fmt.Errorf("wrapped: %w", &pgconn.PgError{Code: codeLockNotAvailable}), domain.ErrContention},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mapError(tt.in)
			if tt.want == nil {
				assert.NoError(t, got)
				return
			}
			assert.ErrorIs(t, got, tt.want)
		})
	}

	other := &pgconn.PgError{Code: codeCheckViolation, ConstraintName: "markets_payout_multiplier_check"}
	assert.Same(t, other, mapError(other))
	assert.True(t, domain.IsRetryable(mapError(&pgconn.PgError{Code: codeDeadlockDetected})))
}

func TestAuditListQuery(t *testing.T) {
	since := time.Unix(100, 0)
	q, args := auditListQuery(domain.ListOpts{Since: &since, Limit: 10, Offset: 20})
	assert.Contains(t, q, "created_at >= $1")
	assert.Contains(t, q, "LIMIT $2")
	assert.Contains(t, q, "OFFSET $3")
	assert.True(t, strings.Contains(q, "ORDER BY created_at DESC, id DESC"))
	assert.Len(t, args, 3)
}

func TestMigrationNames(t *testing.T) {
	names, err := migrationNames()
	require.NoError(t, err)
	require.NotEmpty(t, names)
	assert.Equal(t, "001_init.sql", names[0])
}

// TestLedger_Postgres runs against a live database when ZONE_TEST_POSTGRES_DSN
// is set.
func TestLedger_Postgres(t *testing.T) {
	dsn := os.Getenv("ZONE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("ZONE_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	c, err := New(ctx, ClientConfig{DSN: dsn, LockTimeout: time.Second})
	require.NoError(t, err)
	defer c.Close()
	require.NoError(t, c.RunMigrations(ctx))
	for _, table := range []string{"predictions", "markets", "vault", "accounts", "audit_log"} {
		_, err := c.Pool().Exec(ctx, "DELETE FROM "+table)
		require.NoError(t, err)
	}

	l := c.Ledger()
	alice := common.HexToAddress("0xa1")
	pool := common.HexToAddress("0xff")
	require.NoError(t, l.Seed(ctx, map[common.Address]uint64{alice: 100}))
	require.NoError(t, l.Seed(ctx, map[common.Address]uint64{alice: 5}))

	err = l.Atomically(ctx, func(tx domain.LedgerTx) error {
		if err := tx.CreateVault(ctx, domain.Vault{Address: pool, Authority: alice, CreatedAt: 1}); err != nil {
			return err
		}
		return tx.Transfer(ctx, alice, pool, 60)
	})
	require.NoError(t, err)

	v, err := l.GetVault(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(60), v.Balance)

	err = l.Atomically(ctx, func(tx domain.LedgerTx) error {
		return tx.Transfer(ctx, alice, pool, 41)
	})
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)

	err = l.Atomically(ctx, func(tx domain.LedgerTx) error {
		return tx.CreateVault(ctx, domain.Vault{Address: alice, Authority: alice})
	})
	require.ErrorIs(t, err, domain.ErrAlreadyInitialized)

	m := domain.Market{AssetID: "BTC", Address: common.HexToAddress("0x0b"), Authority: alice, Start: 10, End: 20, PayoutMultiplier: 200}
	p := domain.Prediction{
		Address: common.HexToAddress("0x0c"), Market: m.Address, User: alice, AssetID: "BTC",
		Direction: domain.DirectionHigh, Amount: 10, ReferencePrice: ^uint64(0), CreatedAt: 15,
	}
	require.NoError(t, l.Atomically(ctx, func(tx domain.LedgerTx) error {
		if err := tx.CreateMarket(ctx, m); err != nil {
			return err
		}
		return tx.CreatePrediction(ctx, p)
	}))

	got, err := l.GetPrediction(ctx, "BTC", alice)
	require.NoError(t, err)
	assert.Equal(t, p.ReferencePrice, got.ReferencePrice)

	due, err := l.ListDue(ctx, 20, nil, 10)
	require.NoError(t, err)
	assert.Len(t, due, 1)
}
