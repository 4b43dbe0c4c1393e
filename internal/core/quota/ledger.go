package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/markdave123-py/Classmind/internal/core"
	db "github.com/markdave123-py/Classmind/internal/core/database"
)

// Kind selects which of the two token budgets an operation touches.
type Kind string

const (
	// KindStorage is the cumulative stored-content budget. It only
	// shrinks when documents are deleted.
	KindStorage Kind = db.QuotaKindStorage
	// KindMonthly is the resettable budget covering monthly imports and
	// chat usage. Zeroed at the first instant of each month.
	KindMonthly Kind = db.QuotaKindMonthly
)

// Status reports both budgets for one account.
type Status struct {
	StorageUsed      int64     `json:"storageTokensUsed"`
	StorageCap       int64     `json:"storageTokenCap"`
	MonthlyUsed      int64     `json:"monthlyTokensUsed"`
	MonthlyCap       int64     `json:"monthlyTokenCap"`
	MonthlyRemaining int64     `json:"monthlyTokensRemaining"`
	ResetDate        time.Time `json:"resetDate"`
}

// Ledger enforces the two per-account token budgets. All mutations go
// through single conditional updates in the DbClient, so the invariant
// (0 <= used <= cap at commit time) holds under concurrency.
type Ledger struct {
	db         core.DbClient
	storageCap int64
	monthlyCap int64
	now        func() time.Time
}

func NewLedger(dbc core.DbClient, storageCap, monthlyCap int64) *Ledger {
	return &Ledger{db: dbc, storageCap: storageCap, monthlyCap: monthlyCap, now: time.Now}
}

func (l *Ledger) cap(kind Kind) int64 {
	if kind == KindStorage {
		return l.storageCap
	}
	return l.monthlyCap
}

// Reserve atomically debits tokens against the given budget. Returns
// core.ErrQuotaExceeded (and commits nothing) when the cap would be
// crossed.
func (l *Ledger) Reserve(ctx context.Context, userID string, tokens int64, kind Kind) error {
	if tokens < 0 {
		return fmt.Errorf("negative reservation: %d", tokens)
	}
	if tokens == 0 {
		return nil
	}
	if err := l.db.EnsureQuota(ctx, userID, NextMonthStart(l.now())); err != nil {
		return fmt.Errorf("ensure quota row: %w", err)
	}
	ok, err := l.db.ReserveQuotaTokens(ctx, userID, string(kind), tokens, l.cap(kind))
	if err != nil {
		return fmt.Errorf("reserve %s tokens: %w", kind, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s budget", core.ErrQuotaExceeded, kind)
	}
	return nil
}

// Release returns previously reserved tokens, flooring at zero. Used
// when ingestion fails after its reservation and when documents are
// deleted.
func (l *Ledger) Release(ctx context.Context, userID string, tokens int64, kind Kind) error {
	if tokens <= 0 {
		return nil
	}
	return l.db.ReleaseQuotaTokens(ctx, userID, string(kind), tokens)
}

// ResetIfDue zeroes the monthly counter once per month. Safe to call on
// every chat/ingest request; a no-op when the reset date is still in
// the future, and the conditional update makes concurrent calls reset
// at most once.
func (l *Ledger) ResetIfDue(ctx context.Context, userID string) error {
	now := l.now()
	if err := l.db.EnsureQuota(ctx, userID, NextMonthStart(now)); err != nil {
		return fmt.Errorf("ensure quota row: %w", err)
	}
	state, err := l.db.GetQuota(ctx, userID)
	if err != nil {
		return err
	}
	if state == nil || now.Before(state.ResetDate) {
		return nil
	}
	_, err = l.db.ResetMonthlyQuota(ctx, userID, state.ResetDate, NextMonthStart(now))
	return err
}

// Status returns both budgets for the account, creating the quota row
// if it does not exist yet.
func (l *Ledger) Status(ctx context.Context, userID string) (*Status, error) {
	if err := l.db.EnsureQuota(ctx, userID, NextMonthStart(l.now())); err != nil {
		return nil, err
	}
	state, err := l.db.GetQuota(ctx, userID)
	if err != nil {
		return nil, err
	}
	if state == nil {
		return nil, fmt.Errorf("quota row missing for user %s", userID)
	}
	remaining := l.monthlyCap - state.MonthlyTokensUsed
	if remaining < 0 {
		remaining = 0
	}
	return &Status{
		StorageUsed:      state.StorageTokensUsed,
		StorageCap:       l.storageCap,
		MonthlyUsed:      state.MonthlyTokensUsed,
		MonthlyCap:       l.monthlyCap,
		MonthlyRemaining: remaining,
		ResetDate:        state.ResetDate,
	}, nil
}

// NextMonthStart returns the first instant of the month after t, in UTC.
func NextMonthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
}
