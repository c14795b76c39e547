package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	PaymentMethodCardToCard    = "card_to_card"
	PaymentMethodCrypto        = "crypto"
	PaymentMethodHostedGateway = "hosted_gateway"
)

const (
	PaymentStatusPending   = "pending"
	PaymentStatusCompleted = "completed"
	PaymentStatusFailed    = "failed"
	PaymentStatusCancelled = "cancelled"
	PaymentStatusRefunded  = "refunded"
)

const (
	PaymentPurposePurchase = "purchase"
	PaymentPurposeRenewal  = "renewal"
)

// Payment is one money-movement intent from pending through settlement or refund.
// GatewayAuthority and GatewayReference are first-class columns; GatewayMetadata
// only carries provider extras nothing in the system depends on.
type Payment struct {
	ID                   uint           `gorm:"primaryKey" json:"id"`
	UUID                 string         `gorm:"type:char(36);uniqueIndex;not null" json:"uuid"`
	CustomerID           uint           `gorm:"not null;index" json:"customer_id"`
	PlanID               uint           `gorm:"not null;index" json:"plan_id"`
	SubscriptionID       *uint          `gorm:"index" json:"subscription_id,omitempty"`
	Amount               int64          `gorm:"not null" json:"amount"`
	Method               string         `gorm:"type:varchar(32);not null;index:idx_payments_method_status,priority:1" json:"method"`
	Status               string         `gorm:"type:varchar(32);not null;default:'pending';index:idx_payments_method_status,priority:2" json:"status"`
	Purpose              string         `gorm:"type:varchar(32);not null;default:'purchase'" json:"purpose"`
	GatewayAuthority     string         `gorm:"type:varchar(191);default:null;index:ux_payments_gateway_authority,unique" json:"gateway_authority,omitempty"`
	GatewayReference     string         `gorm:"type:varchar(191);default:''" json:"gateway_reference,omitempty"`
	TransactionReference string         `gorm:"type:varchar(191);default:''" json:"transaction_reference,omitempty"`
	ReceiptKey           string         `gorm:"type:varchar(255);default:''" json:"receipt_key,omitempty"`
	GatewayMetadata      datatypes.JSON `gorm:"type:json" json:"gateway_metadata,omitempty"`
	FailureReason        string         `gorm:"type:varchar(255);default:''" json:"failure_reason,omitempty"`
	CompletedAt          *time.Time     `gorm:"type:timestamp;default:null" json:"completed_at,omitempty"`
	FulfilledAt          *time.Time     `gorm:"type:timestamp;default:null" json:"fulfilled_at,omitempty"`
	CreatedAt            time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time      `gorm:"autoUpdateTime" json:"updated_at"`

	Customer *Customer `gorm:"foreignKey:CustomerID" json:"customer,omitempty"`
	Plan     *Plan     `gorm:"foreignKey:PlanID" json:"plan,omitempty"`
}

// paymentTransitions holds the only legal status edges. Everything else is an
// invalid transition, including self-edges.
var paymentTransitions = map[string][]string{
	PaymentStatusPending:   {PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusCancelled},
	PaymentStatusCompleted: {PaymentStatusRefunded},
	PaymentStatusFailed:    {},
	PaymentStatusCancelled: {},
	PaymentStatusRefunded:  {},
}

// CanTransitionPayment reports whether moving a payment from one status to
// another follows a legal edge.
func CanTransitionPayment(from, to string) bool {
	for _, allowed := range paymentTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// IsFinal reports whether the payment reached a terminal status.
func (p *Payment) IsFinal() bool {
	return p.Status != PaymentStatusPending && p.Status != PaymentStatusCompleted
}

// IsSettled reports whether money arrived and stayed.
func (p *Payment) IsSettled() bool {
	return p.Status == PaymentStatusCompleted
}
