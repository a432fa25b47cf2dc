package ledger

// Package ledger moves money in and out of user accounts.
//
// Balances are models.Amount (1/100000 of a cent). Debits are unconditional
// and may drive a balance negative; admission control is the only gate in
// front of spending. Credits require the configured admin.

import (
	"context"
	"errors"
	"math"

	"go.uber.org/zap"

	"github.com/UltimateSoul/soul-ai-bot/internal/audit"
	"github.com/UltimateSoul/soul-ai-bot/internal/metrics"
	"github.com/UltimateSoul/soul-ai-bot/internal/models"
)

// ErrNotAdmin is returned when a non-admin tries to credit an account.
var ErrNotAdmin = errors.New("only the admin can credit accounts")

// FromDollars converts a dollar amount to account units.
func FromDollars(d float64) models.Amount {
	return models.Amount(math.Round(d * 100 * models.AmountScale))
}

// FromCents converts a cent amount to account units.
func FromCents(c float64) models.Amount {
	return models.Amount(math.Round(c * models.AmountScale))
}

// Ledger applies debits and admin credits, recording each to the audit log.
type Ledger struct {
	adminID int64
	audit   audit.Logger
	logger  *zap.Logger
}

// New creates a Ledger. adminID is the only user allowed to credit accounts.
func New(adminID int64, auditLog audit.Logger, logger *zap.Logger) *Ledger {
	if auditLog == nil {
		auditLog = audit.NewNop()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{adminID: adminID, audit: auditLog, logger: logger}
}

// IsAdmin reports whether userID is the configured admin.
func (l *Ledger) IsAdmin(userID int64) bool {
	return l.adminID != 0 && userID == l.adminID
}

// Debit subtracts amount from the account. model is recorded for auditing only.
func (l *Ledger) Debit(ctx context.Context, account *models.UserAccount, model models.ModelID, amount models.Amount) {
	account.Balance -= amount

	if err := l.audit.LogDebit(ctx, account.UserID, string(model), amount.Cents(), account.Balance.Cents()); err != nil {
		l.logger.Warn("audit debit failed", zap.Int64("user_id", account.UserID), zap.Error(err))
	}
	if account.Balance < 0 {
		l.logger.Info("balance went negative",
			zap.Int64("user_id", account.UserID),
			zap.String("balance_cents", account.Balance.String()),
		)
	}
}

// Authorize returns ErrNotAdmin unless callerID may credit accounts. Denials
// are audited.
func (l *Ledger) Authorize(ctx context.Context, callerID int64) error {
	if l.IsAdmin(callerID) {
		return nil
	}
	metrics.CreditsTotal.WithLabelValues("denied").Inc()
	if err := l.audit.LogCreditDenied(ctx, callerID); err != nil {
		l.logger.Warn("audit credit denial failed", zap.Error(err))
	}
	return ErrNotAdmin
}

// Credit adds amount to the account on behalf of callerID.
func (l *Ledger) Credit(ctx context.Context, callerID int64, account *models.UserAccount, amount models.Amount) error {
	if err := l.Authorize(ctx, callerID); err != nil {
		return err
	}

	account.Balance += amount
	metrics.CreditsTotal.WithLabelValues("success").Inc()

	if err := l.audit.LogCredit(ctx, callerID, account.UserID, amount.Cents(), account.Balance.Cents()); err != nil {
		l.logger.Warn("audit credit failed", zap.Int64("user_id", account.UserID), zap.Error(err))
	}
	l.logger.Info("balance credited",
		zap.Int64("admin_id", callerID),
		zap.Int64("user_id", account.UserID),
		zap.String("amount_cents", amount.String()),
	)
	return nil
}
