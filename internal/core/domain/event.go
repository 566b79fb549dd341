package domain

import "time"

// EventType names a domain event emitted after commit.
type EventType string

const (
	EventTransferCompleted         EventType = "TransferCompleted"
	EventExchangeCompleted         EventType = "ExchangeCompleted"
	EventLoanDisbursed             EventType = "LoanDisbursed"
	EventLoanPaymentApplied        EventType = "LoanPaymentApplied"
	EventLoanPaidOff               EventType = "LoanPaidOff"
	EventInvestmentActivated       EventType = "InvestmentActivated"
	EventInvestmentPayoutCompleted EventType = "InvestmentPayoutCompleted"
	EventInvestmentPayoutFailed    EventType = "InvestmentPayoutFailed"
	EventInvestmentMatured         EventType = "InvestmentMatured"
	EventInvestmentWithdrawn       EventType = "InvestmentWithdrawn"
)

// Event is a notification for downstream subscribers.
type Event struct {
	ID            string            `json:"id"`
	Type          EventType         `json:"type"`
	AggregateID   string            `json:"aggregate_id"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	OccurredAt    time.Time         `json:"occurred_at"`
	Payload       map[string]string `json:"payload,omitempty"`
}
