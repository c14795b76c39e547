package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/mohsenbt/marzsell/app/models"
	"github.com/mohsenbt/marzsell/internal/pkg/env"
)

// Service owns the payment state machine. All status changes funnel through
// guarded conditional updates so two actors settling the same payment cannot
// both win.
type Service struct {
	repo    Repository
	gateway *ZarinpalClient
}

// NewService creates a ledger service from an injected repository and gateway.
func NewService(repo Repository, gateway *ZarinpalClient) *Service {
	return &Service{repo: repo, gateway: gateway}
}

// NewServiceFromDB creates a ledger service from a GORM DB handle with the
// gateway configured from the environment.
func NewServiceFromDB(db *gorm.DB) *Service {
	return NewService(NewRepository(db), NewZarinpalClientFromEnv())
}

// PendingTTL resolves how long a pending payment may stay open, in minutes,
// from PENDING_PAYMENT_TTL_MINUTES.
func PendingTTL() time.Duration {
	minutes := env.GetEnvInt("PENDING_PAYMENT_TTL_MINUTES", 0)
	if minutes <= 0 {
		return defaultPendingTTL
	}
	return time.Duration(minutes) * time.Minute
}

// Create opens a pending payment row with a fresh UUID.
func (s *Service) Create(ctx context.Context, in CreateInput) (*models.Payment, error) {
	_ = ctx
	if in.CustomerID == 0 || in.PlanID == 0 {
		return nil, errors.New("customer_id and plan_id are required")
	}
	if in.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	switch in.Method {
	case models.PaymentMethodCardToCard, models.PaymentMethodCrypto, models.PaymentMethodHostedGateway:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, in.Method)
	}
	purpose := in.Purpose
	if purpose == "" {
		purpose = models.PaymentPurposePurchase
	}
	switch purpose {
	case models.PaymentPurposePurchase, models.PaymentPurposeRenewal:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPurpose, in.Purpose)
	}

	p := &models.Payment{
		UUID:           uuid.NewString(),
		CustomerID:     in.CustomerID,
		PlanID:         in.PlanID,
		SubscriptionID: in.SubscriptionID,
		Amount:         in.Amount,
		Method:         in.Method,
		Status:         models.PaymentStatusPending,
		Purpose:        purpose,
	}
	if err := s.repo.Create(p); err != nil {
		return nil, err
	}
	log.Infof("[Ledger] payment %s opened: customer=%d plan=%d amount=%d method=%s purpose=%s",
		p.UUID, p.CustomerID, p.PlanID, p.Amount, p.Method, p.Purpose)
	return p, nil
}

// Get loads one payment by ID.
func (s *Service) Get(ctx context.Context, paymentID uint) (*models.Payment, error) {
	_ = ctx
	return s.getPayment(paymentID)
}

// GetByUUID loads one payment by its public UUID.
func (s *Service) GetByUUID(ctx context.Context, id string) (*models.Payment, error) {
	_ = ctx
	p, err := s.repo.GetByUUID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return p, nil
}

// ListByCustomer returns a customer's payments, newest first.
func (s *Service) ListByCustomer(ctx context.Context, customerID uint, limit int) ([]models.Payment, error) {
	_ = ctx
	return s.repo.ListByCustomer(customerID, limit)
}

// List returns filtered payments for the admin API plus the unfiltered total.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]models.Payment, int64, error) {
	_ = ctx
	return s.repo.List(filter)
}

// Transition moves a payment along a legal status edge. Repeating a transition
// that already happened is a no-op returning the current row. The reference is
// stored as transaction reference on completion and as failure reason on
// failure or cancellation.
func (s *Service) Transition(ctx context.Context, paymentID uint, target, reference string) (*models.Payment, error) {
	_ = ctx
	p, err := s.getPayment(paymentID)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	reference = strings.TrimSpace(reference)
	switch target {
	case models.PaymentStatusCompleted:
		updates["completed_at"] = time.Now()
		if reference != "" {
			updates["transaction_reference"] = reference
		}
	case models.PaymentStatusFailed, models.PaymentStatusCancelled:
		if reference != "" {
			updates["failure_reason"] = reference
		}
	}
	return s.applyTransition(p, target, updates)
}

// Approve settles a card-to-card or crypto payment after an operator checked
// the receipt or transaction hash.
func (s *Service) Approve(ctx context.Context, paymentID uint, operator, transactionRef string) (*models.Payment, error) {
	_ = ctx
	p, err := s.getPayment(paymentID)
	if err != nil {
		return nil, err
	}
	if p.Method == models.PaymentMethodHostedGateway {
		return nil, fmt.Errorf("%w: hosted charges settle through the gateway callback", ErrMethodMismatch)
	}

	updates := map[string]interface{}{
		"completed_at": time.Now(),
	}
	if ref := strings.TrimSpace(transactionRef); ref != "" {
		updates["transaction_reference"] = ref
	}
	if meta := metadataJSON(map[string]string{"approved_by": operator}); meta != nil {
		updates["gateway_metadata"] = meta
	}

	settled, err := s.applyTransition(p, models.PaymentStatusCompleted, updates)
	if err != nil {
		return nil, err
	}
	log.Infof("[Ledger] payment %s approved by %s", settled.UUID, operator)
	return settled, nil
}

// Reject fails a manual payment with the operator's reason.
func (s *Service) Reject(ctx context.Context, paymentID uint, operator, reason string) (*models.Payment, error) {
	_ = ctx
	p, err := s.getPayment(paymentID)
	if err != nil {
		return nil, err
	}
	if p.Method == models.PaymentMethodHostedGateway {
		return nil, fmt.Errorf("%w: hosted charges settle through the gateway callback", ErrMethodMismatch)
	}

	updates := map[string]interface{}{}
	if r := strings.TrimSpace(reason); r != "" {
		updates["failure_reason"] = r
	}
	if meta := metadataJSON(map[string]string{"rejected_by": operator}); meta != nil {
		updates["gateway_metadata"] = meta
	}

	rejected, err := s.applyTransition(p, models.PaymentStatusFailed, updates)
	if err != nil {
		return nil, err
	}
	log.Infof("[Ledger] payment %s rejected by %s: %s", rejected.UUID, operator, reason)
	return rejected, nil
}

// Cancel closes a pending payment the customer walked away from.
func (s *Service) Cancel(ctx context.Context, paymentID uint, reason string) (*models.Payment, error) {
	return s.Transition(ctx, paymentID, models.PaymentStatusCancelled, reason)
}

// AttachReceipt records the object key of an uploaded transfer receipt on a
// payment that is still pending review.
func (s *Service) AttachReceipt(ctx context.Context, paymentID uint, key string) (*models.Payment, error) {
	return s.attachProof(ctx, paymentID, map[string]interface{}{"receipt_key": key})
}

// AttachReference records a customer-supplied transaction reference, for
// example a crypto transfer hash, on a payment that is still pending review.
func (s *Service) AttachReference(ctx context.Context, paymentID uint, reference string) (*models.Payment, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, errors.New("empty transaction reference")
	}
	return s.attachProof(ctx, paymentID, map[string]interface{}{"transaction_reference": reference})
}

func (s *Service) attachProof(ctx context.Context, paymentID uint, updates map[string]interface{}) (*models.Payment, error) {
	_ = ctx
	p, err := s.getPayment(paymentID)
	if err != nil {
		return nil, err
	}
	if p.Status != models.PaymentStatusPending {
		return nil, fmt.Errorf("%w: payment %s is %s, proof no longer accepted", ErrInvalidTransition, p.UUID, p.Status)
	}
	applied, err := s.repo.SetProofIf(p.ID, models.PaymentStatusPending, updates)
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, fmt.Errorf("%w: payment %s left pending while proof was submitted", ErrInvalidTransition, p.UUID)
	}
	return s.getPayment(p.ID)
}

// Refund marks settled money as returned. Only completed payments qualify.
func (s *Service) Refund(ctx context.Context, paymentID uint, reason string) (*models.Payment, error) {
	_ = ctx
	p, err := s.getPayment(paymentID)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	if meta := metadataJSON(map[string]string{"refund_reason": strings.TrimSpace(reason)}); meta != nil {
		updates["gateway_metadata"] = meta
	}

	refunded, err := s.applyTransition(p, models.PaymentStatusRefunded, updates)
	if err != nil {
		return nil, err
	}
	log.Infof("[Ledger] payment %s refunded: %s", refunded.UUID, reason)
	return refunded, nil
}

// InitiateHostedCharge opens the payment at the gateway and returns the URL
// the customer finishes it on. Calling it again for the same pending payment
// reuses the stored authority.
func (s *Service) InitiateHostedCharge(ctx context.Context, paymentID uint) (string, *models.Payment, error) {
	p, err := s.getPayment(paymentID)
	if err != nil {
		return "", nil, err
	}
	if p.Method != models.PaymentMethodHostedGateway {
		return "", nil, fmt.Errorf("%w: payment method is %s", ErrMethodMismatch, p.Method)
	}
	if p.Status != models.PaymentStatusPending {
		return "", nil, fmt.Errorf("%w: payment is %s", ErrInvalidTransition, p.Status)
	}
	if p.GatewayAuthority != "" {
		return s.gateway.PayURL(p.GatewayAuthority), p, nil
	}

	authority, err := s.gateway.RequestPayment(ctx, p.Amount, "Order "+p.UUID)
	if err != nil {
		return "", nil, err
	}

	stored, err := s.repo.SetAuthorityIf(p.ID, models.PaymentStatusPending, authority)
	if err != nil {
		return "", nil, err
	}
	if !stored {
		// A concurrent initiate or the sweeper got there first.
		fresh, err := s.getPayment(p.ID)
		if err != nil {
			return "", nil, err
		}
		if fresh.Status == models.PaymentStatusPending && fresh.GatewayAuthority != "" {
			return s.gateway.PayURL(fresh.GatewayAuthority), fresh, nil
		}
		return "", nil, fmt.Errorf("%w: payment is %s", ErrInvalidTransition, fresh.Status)
	}

	p.GatewayAuthority = authority
	log.Infof("[Ledger] payment %s charge opened at gateway, authority=%s", p.UUID, authority)
	return s.gateway.PayURL(authority), p, nil
}

// VerifyHostedCharge resolves a gateway callback. Replays against a payment
// that already left pending return the current row untouched. A verified
// charge settles the payment; an amount mismatch fails it and surfaces
// ErrAmountMismatch; any other gateway refusal fails it quietly.
func (s *Service) VerifyHostedCharge(ctx context.Context, authority, gatewayStatus string) (*models.Payment, error) {
	p, err := s.repo.GetByAuthority(authority)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	if p.Status != models.PaymentStatusPending {
		log.Infof("[Ledger] callback replay for payment %s in status %s", p.UUID, p.Status)
		return p, nil
	}

	if !strings.EqualFold(strings.TrimSpace(gatewayStatus), "OK") {
		log.Infof("[Ledger] payment %s abandoned at gateway (status=%s)", p.UUID, gatewayStatus)
		return s.applyTransition(p, models.PaymentStatusFailed, map[string]interface{}{
			"failure_reason": "customer did not finish the gateway charge",
		})
	}

	result, err := s.gateway.VerifyPayment(ctx, p.Amount, p.GatewayAuthority)
	if err != nil {
		// Leave the payment pending so the callback can be retried.
		return nil, err
	}

	switch {
	case result.Verified():
		settled, err := s.applyTransition(p, models.PaymentStatusCompleted, map[string]interface{}{
			"completed_at":      time.Now(),
			"gateway_reference": strconv.FormatInt(result.RefID, 10),
		})
		if err != nil {
			return nil, err
		}
		log.Infof("[Ledger] payment %s settled by gateway, ref=%d", settled.UUID, result.RefID)
		return settled, nil

	case result.AmountMismatch():
		log.Warnf("[Ledger] amount mismatch on payment %s: expected=%d gateway code=%d", p.UUID, p.Amount, result.Code)
		failed, err := s.applyTransition(p, models.PaymentStatusFailed, map[string]interface{}{
			"failure_reason": "gateway amount mismatch",
		})
		if err != nil {
			return nil, err
		}
		return failed, ErrAmountMismatch

	default:
		log.Warnf("[Ledger] gateway declined payment %s: code=%d message=%s", p.UUID, result.Code, result.Message)
		return s.applyTransition(p, models.PaymentStatusFailed, map[string]interface{}{
			"failure_reason": fmt.Sprintf("gateway declined (code %d)", result.Code),
		})
	}
}

// SweepStalePending cancels pending payments older than the TTL and returns
// how many were closed.
func (s *Service) SweepStalePending(ctx context.Context, ttl time.Duration) (int64, error) {
	_ = ctx
	if ttl <= 0 {
		ttl = PendingTTL()
	}
	count, err := s.repo.CancelStalePending(time.Now().Add(-ttl), stalePendingReason)
	if err != nil {
		return 0, err
	}
	if count > 0 {
		log.Infof("[Ledger] swept %d stale pending payments", count)
	}
	return count, nil
}

// Totals returns ledger-wide sums grouped by status.
func (s *Service) Totals(ctx context.Context) (*Totals, error) {
	_ = ctx
	return s.repo.Totals()
}

// TotalsByMethod returns settled revenue per payment method.
func (s *Service) TotalsByMethod(ctx context.Context) ([]MethodTotals, error) {
	_ = ctx
	return s.repo.TotalsByMethod()
}

// DailySales returns settled revenue per day over the trailing window.
func (s *Service) DailySales(ctx context.Context, days int) ([]DailyTotal, error) {
	_ = ctx
	return s.repo.DailySales(days)
}

func (s *Service) getPayment(id uint) (*models.Payment, error) {
	p, err := s.repo.GetByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return p, nil
}

// applyTransition writes the status change guarded on the status the caller
// saw. Losing the guard to a writer that applied the same target is a no-op;
// losing it to a different target is an invalid transition.
func (s *Service) applyTransition(p *models.Payment, target string, updates map[string]interface{}) (*models.Payment, error) {
	if p.Status == target {
		return p, nil
	}
	if !models.CanTransitionPayment(p.Status, target) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, p.Status, target)
	}

	if updates == nil {
		updates = map[string]interface{}{}
	}
	updates["status"] = target

	applied, err := s.repo.UpdateStatusIf(p.ID, p.Status, updates)
	if err != nil {
		return nil, err
	}
	if !applied {
		fresh, err := s.getPayment(p.ID)
		if err != nil {
			return nil, err
		}
		if fresh.Status == target {
			return fresh, nil
		}
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, fresh.Status, target)
	}
	return s.getPayment(p.ID)
}

func metadataJSON(values map[string]string) datatypes.JSON {
	filtered := make(map[string]string, len(values))
	for k, v := range values {
		if strings.TrimSpace(v) != "" {
			filtered[k] = v
		}
	}
	if len(filtered) == 0 {
		return nil
	}
	b, err := json.Marshal(filtered)
	if err != nil {
		return nil
	}
	return datatypes.JSON(b)
}
