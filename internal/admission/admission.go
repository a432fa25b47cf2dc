package admission

import (
	"fmt"

	"github.com/UltimateSoul/soul-ai-bot/internal/ledger"
	"github.com/UltimateSoul/soul-ai-bot/internal/models"
	"github.com/UltimateSoul/soul-ai-bot/internal/pricing"
	"github.com/UltimateSoul/soul-ai-bot/internal/tokens"
)

// LowBalanceTemplate is sent instead of a completion when the prompt costs
// more than the balance.
const LowBalanceTemplate = "You have low balance. Please, top up your account. Your balance is %s cents, " +
	"but the price of the required tokens input is %s cents."

// Decision is the outcome of an affordability check.
type Decision struct {
	Allowed      bool
	Balance      models.Amount
	Price        models.Amount
	PromptTokens int
}

// LowBalanceMessage renders the refusal shown to the user.
func (d Decision) LowBalanceMessage() string {
	return fmt.Sprintf(LowBalanceTemplate, d.Balance, d.Price)
}

// Controller prices a conversation's prompt against an account balance.
// Only the prompt side is admitted; the completion is settled afterwards.
type Controller struct {
	counter tokens.Counter
	prices  pricing.Table
}

// NewController creates a Controller. A nil table uses pricing.DefaultTable.
func NewController(counter tokens.Counter, prices pricing.Table) *Controller {
	if prices == nil {
		prices = pricing.DefaultTable
	}
	return &Controller{counter: counter, prices: prices}
}

// CanAfford reports whether account can pay for sending conv's current prompt.
// It has no side effects.
func (c *Controller) CanAfford(account *models.UserAccount, conv *models.Conversation) (Decision, error) {
	n, err := c.counter.Count(conv.Prompt(), conv.Config.Model)
	if err != nil {
		return Decision{}, err
	}
	dollars, err := c.prices.PromptPrice(conv.Config.Model, n)
	if err != nil {
		return Decision{}, err
	}
	price := ledger.FromDollars(dollars)
	return Decision{
		Allowed:      account.Balance >= price,
		Balance:      account.Balance,
		Price:        price,
		PromptTokens: n,
	}, nil
}
