package models

import "fmt"

// TooManyTokensError reports a token count beyond a hard limit: either the
// system message alone exceeds a chat's budget or a usage total exceeds the
// largest pricing tier.
type TooManyTokensError struct {
	Tokens int
	Limit  int
}

func (e *TooManyTokensError) Error() string {
	return fmt.Sprintf("too many tokens: %d exceeds limit %d", e.Tokens, e.Limit)
}

// UnsupportedModelError reports a model with no encoding, pricing or usage bucket.
type UnsupportedModelError struct {
	Model ModelID
}

func (e *UnsupportedModelError) Error() string {
	return fmt.Sprintf("unsupported model %q", string(e.Model))
}
