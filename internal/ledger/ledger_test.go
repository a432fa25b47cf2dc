package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/UltimateSoul/soul-ai-bot/internal/audit"
	"github.com/UltimateSoul/soul-ai-bot/internal/models"
)

func TestFromDollars(t *testing.T) {
	tests := []struct {
		dollars float64
		cents   float64
	}{
		{0.05, 5},
		{2, 200},
		{0.000002, 0.0002},
		{0, 0},
	}
	for _, tt := range tests {
		got := FromDollars(tt.dollars)
		if got != FromCents(tt.cents) {
			t.Errorf("FromDollars(%v) = %d, want %d", tt.dollars, got, FromCents(tt.cents))
		}
	}
}

func TestSubCentPrecisionSurvives(t *testing.T) {
	// 1 token of gpt-3.5 costs 0.0002 cents
	a := FromDollars(0.000002)
	if a == 0 {
		t.Fatal("sub-cent amount rounded to zero")
	}
	if a.Cents() != 0.0002 {
		t.Errorf("Cents() = %v, want 0.0002", a.Cents())
	}
}

func TestDebitMayGoNegative(t *testing.T) {
	l := New(1, nil, nil)
	acct := models.NewUserAccount(5, "bob", FromCents(1))

	l.Debit(context.Background(), acct, models.GPT4, FromCents(3))
	if acct.Balance != FromCents(-2) {
		t.Errorf("balance = %s, want -2", acct.Balance)
	}
}

func TestCreditRequiresAdmin(t *testing.T) {
	l := New(1, nil, nil)
	acct := models.NewUserAccount(5, "bob", FromCents(10))

	err := l.Credit(context.Background(), 5, acct, FromCents(200))
	if !errors.Is(err, ErrNotAdmin) {
		t.Fatalf("expected ErrNotAdmin, got %v", err)
	}
	if acct.Balance != FromCents(10) {
		t.Errorf("balance changed on denied credit: %s", acct.Balance)
	}

	if err := l.Credit(context.Background(), 1, acct, FromCents(200)); err != nil {
		t.Fatalf("admin credit: %v", err)
	}
	if acct.Balance != FromCents(210) {
		t.Errorf("balance = %s, want 210", acct.Balance)
	}
}

func TestIsAdminZeroNeverMatches(t *testing.T) {
	l := New(0, nil, nil)
	if l.IsAdmin(0) {
		t.Error("unset admin id must not grant admin rights")
	}
}

type deniedRecorder struct {
	audit.Logger
	denied []int64
}

func (r *deniedRecorder) LogCreditDenied(_ context.Context, callerID int64) error {
	r.denied = append(r.denied, callerID)
	return nil
}

func TestAuthorizeAuditsDenials(t *testing.T) {
	rec := &deniedRecorder{Logger: audit.NewNop()}
	l := New(1, rec, nil)

	if err := l.Authorize(context.Background(), 1); err != nil {
		t.Fatalf("admin denied: %v", err)
	}
	if err := l.Authorize(context.Background(), 9); !errors.Is(err, ErrNotAdmin) {
		t.Fatalf("expected ErrNotAdmin, got %v", err)
	}
	if len(rec.denied) != 1 || rec.denied[0] != 9 {
		t.Errorf("denials = %v, want [9]", rec.denied)
	}
}
