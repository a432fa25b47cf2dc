package audit

import "time"

// EventType represents the type of audit event
type EventType string

const (
	// Ledger events
	EventBalanceDebited  EventType = "ledger.debit"
	EventBalanceCredited EventType = "ledger.credit"
	EventCreditDenied    EventType = "ledger.credit_denied"

	// Turn events
	EventAdmissionDenied EventType = "admission.denied"
	EventTurnTimeout     EventType = "turn.timeout"

	// Session events
	EventSessionFlushed EventType = "session.flushed"
)

// Result represents the outcome of an audited action
type Result string

const (
	ResultSuccess Result = "success"
	ResultFailure Result = "failure"
	ResultDenied  Result = "denied"
)

// Event represents a single audit event
type Event struct {
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	EventType     EventType `json:"event_type"`
	Result        Result    `json:"result"`

	// Actor and subject
	ActorID int64 `json:"actor_id,omitempty"`
	UserID  int64 `json:"user_id,omitempty"`
	ChatID  int64 `json:"chat_id,omitempty"`

	// Money, in cents
	AmountCents  float64 `json:"amount_cents,omitempty"`
	BalanceCents float64 `json:"balance_cents,omitempty"`

	Description string                 `json:"description,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// NewEvent creates a new audit event with default values
func NewEvent(eventType EventType) *Event {
	return &Event{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Result:    ResultSuccess,
		Metadata:  make(map[string]interface{}),
	}
}

// WithCorrelationID sets the correlation ID for event tracking
func (e *Event) WithCorrelationID(id string) *Event {
	e.CorrelationID = id
	return e
}

// WithActor sets the user who triggered the event
func (e *Event) WithActor(id int64) *Event {
	e.ActorID = id
	return e
}

// WithUser sets the account the event applies to
func (e *Event) WithUser(id int64) *Event {
	e.UserID = id
	return e
}

// WithChat sets the chat the event happened in
func (e *Event) WithChat(id int64) *Event {
	e.ChatID = id
	return e
}

// WithMoney sets the moved amount and the resulting balance, in cents
func (e *Event) WithMoney(amountCents, balanceCents float64) *Event {
	e.AmountCents = amountCents
	e.BalanceCents = balanceCents
	return e
}

// WithResult sets the result of the event
func (e *Event) WithResult(result Result) *Event {
	e.Result = result
	return e
}

// WithDescription sets a human-readable description
func (e *Event) WithDescription(desc string) *Event {
	e.Description = desc
	return e
}

// WithMetadata adds metadata to the event
func (e *Event) WithMetadata(key string, value interface{}) *Event {
	e.Metadata[key] = value
	return e
}
