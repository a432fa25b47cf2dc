package usage

import (
	"github.com/UltimateSoul/soul-ai-bot/internal/models"
	"github.com/UltimateSoul/soul-ai-bot/internal/pricing"
)

// Bucket returns the usage counter for model's family inside book.
// Tiered variants of a family share one bucket.
func Bucket(book *models.UsageBook, model models.ModelID) (*models.ModelUsage, error) {
	switch model {
	case models.GPT35Turbo:
		return &book.GPT35Turbo, nil
	case models.GPT35Turbo0301:
		return &book.GPT35Turbo0301, nil
	case models.GPT4, models.GPT40314, models.GPT4Tier8K, models.GPT4Tier32K:
		return &book.GPT4, nil
	default:
		return nil, &models.UnsupportedModelError{Model: model}
	}
}

// Record adds delta to the account's bucket for model. An unsupported model
// leaves the account untouched.
func Record(account *models.UserAccount, model models.ModelID, delta models.ModelUsage) error {
	bucket, err := Bucket(&account.Usage, model)
	if err != nil {
		return err
	}
	*bucket = bucket.Add(delta)
	return nil
}

// Delta shapes reported completion usage for model's family: flat-rate
// families only keep the total.
func Delta(model models.ModelID, prompt, completion, total int) (models.ModelUsage, error) {
	plan, err := pricing.DefaultTable.Plan(model)
	if err != nil {
		return models.ModelUsage{}, err
	}
	if !plan.Split() {
		return models.ModelUsage{TotalTokens: int64(total)}, nil
	}
	return models.ModelUsage{
		PromptTokens:     int64(prompt),
		CompletionTokens: int64(completion),
		TotalTokens:      int64(total),
	}, nil
}
