package ledger

import (
	"errors"
	"time"
)

// Sentinel errors returned by the ledger service. Callers match these with
// errors.Is to map them onto user-facing replies and HTTP statuses.
var (
	ErrPaymentNotFound    = errors.New("payment not found")
	ErrInvalidTransition  = errors.New("invalid payment state transition")
	ErrAmountMismatch     = errors.New("gateway amount does not match payment")
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	ErrMethodMismatch     = errors.New("operation not valid for this payment method")
	ErrUnknownMethod      = errors.New("unknown payment method")
	ErrUnknownPurpose     = errors.New("unknown payment purpose")
	ErrInvalidAmount      = errors.New("payment amount must be positive")
)

// CreateInput carries everything needed to open a pending payment row.
type CreateInput struct {
	CustomerID     uint
	PlanID         uint
	SubscriptionID *uint
	Amount         int64
	Method         string
	Purpose        string
}

// Totals summarizes the whole ledger grouped by status.
type Totals struct {
	PendingCount    int64 `json:"pending_count"`
	PendingAmount   int64 `json:"pending_amount"`
	CompletedCount  int64 `json:"completed_count"`
	CompletedAmount int64 `json:"completed_amount"`
	FailedCount     int64 `json:"failed_count"`
	CancelledCount  int64 `json:"cancelled_count"`
	RefundedCount   int64 `json:"refunded_count"`
	RefundedAmount  int64 `json:"refunded_amount"`
}

// MethodTotals summarizes settled revenue for one payment method.
type MethodTotals struct {
	Method string `json:"method"`
	Count  int64  `json:"count"`
	Amount int64  `json:"amount"`
}

// DailyTotal is one day of settled revenue.
type DailyTotal struct {
	Day    string `json:"day"`
	Count  int64  `json:"count"`
	Amount int64  `json:"amount"`
}

// ListFilter narrows admin payment listings.
type ListFilter struct {
	Status     string
	Method     string
	CustomerID uint
	Offset     int
	Limit      int
}

// NetRevenue is completed minus refunded money.
func (t *Totals) NetRevenue() int64 {
	return t.CompletedAmount - t.RefundedAmount
}

// stalePendingReason is stored on payments cancelled by the sweeper.
const stalePendingReason = "payment window expired"

// defaultPendingTTL bounds how long a pending payment stays open before the
// scheduler cancels it.
const defaultPendingTTL = 45 * time.Minute
