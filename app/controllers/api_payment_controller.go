package controllers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/mohsenbt/marzsell/internal/pkg/ledger"
	"github.com/mohsenbt/marzsell/internal/pkg/opcontext"
)

const receiptLinkTTL = 15 * time.Minute

type paymentActionRequest struct {
	TransactionReference string `json:"transaction_reference"`
	Reason               string `json:"reason"`
}

func ledgerErrorResponse(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, ledger.ErrPaymentNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Payment not found"})
	case errors.Is(err, ledger.ErrMethodMismatch), errors.Is(err, ledger.ErrInvalidTransition):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "conflict", "message": err.Error()})
	default:
		log.Errorf("[API] ledger operation failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Ledger operation failed"})
	}
}

func HandleListPayments(c *fiber.Ctx) error {
	offset, limit := pagination(c)
	filter := ledger.ListFilter{
		Status:     c.Query("status"),
		Method:     c.Query("method"),
		CustomerID: uint(c.QueryInt("customer_id", 0)),
		Offset:     offset,
		Limit:      limit,
	}
	payments, total, err := services.ledger.List(c.Context(), filter)
	if err != nil {
		log.Errorf("[API] payment list failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load payments"})
	}
	return c.JSON(listEnvelope(payments, total, offset, limit))
}

func HandleGetPayment(c *fiber.Ctx) error {
	id, err := parseIDParam(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "invalid id"})
	}
	payment, err := services.ledger.Get(c.Context(), id)
	if err != nil {
		return ledgerErrorResponse(c, err)
	}
	return c.JSON(payment)
}

// HandleApprovePayment settles a manual payment and triggers fulfillment:
// the customer gets provisioned and receives their config over Telegram.
func HandleApprovePayment(c *fiber.Ctx) error {
	id, err := parseIDParam(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "invalid id"})
	}
	var req paymentActionRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Malformed request body"})
		}
	}

	operator := opcontext.GetName(c)
	payment, err := services.ledger.Approve(c.Context(), id, operator, req.TransactionReference)
	if err != nil {
		return ledgerErrorResponse(c, err)
	}

	if services.fulfill != nil && payment.Customer != nil {
		if err := services.fulfill.FulfillPaid(payment.Customer.TelegramID, payment.ID); err != nil {
			log.Errorf("[API] fulfillment after approval of payment %s failed: %v", payment.UUID, err)
		}
	}
	return c.JSON(payment)
}

// HandleRejectPayment fails a manual payment with the operator's reason.
func HandleRejectPayment(c *fiber.Ctx) error {
	id, err := parseIDParam(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "invalid id"})
	}
	var req paymentActionRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Malformed request body"})
		}
	}
	if req.Reason == "" {
		req.Reason = "rejected by operator"
	}

	payment, err := services.ledger.Reject(c.Context(), id, opcontext.GetName(c), req.Reason)
	if err != nil {
		return ledgerErrorResponse(c, err)
	}
	return c.JSON(payment)
}

// HandleRefundPayment marks settled money as returned. The refund itself
// happens outside the system; this records it.
func HandleRefundPayment(c *fiber.Ctx) error {
	id, err := parseIDParam(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "invalid id"})
	}
	var req paymentActionRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Malformed request body"})
		}
	}

	payment, err := services.ledger.Refund(c.Context(), id, req.Reason)
	if err != nil {
		return ledgerErrorResponse(c, err)
	}
	return c.JSON(payment)
}

// HandlePaymentAggregates returns ledger-wide totals, per-method revenue and
// a daily sales series for dashboards.
func HandlePaymentAggregates(c *fiber.Ctx) error {
	days := c.QueryInt("days", 30)
	if days < 1 {
		days = 1
	}
	if days > 365 {
		days = 365
	}

	totals, err := services.ledger.Totals(c.Context())
	if err != nil {
		log.Errorf("[API] payment totals failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to aggregate payments"})
	}
	byMethod, err := services.ledger.TotalsByMethod(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to aggregate payments"})
	}
	daily, err := services.ledger.DailySales(c.Context(), days)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to aggregate payments"})
	}

	return c.JSON(fiber.Map{
		"totals":      totals,
		"net_revenue": totals.NetRevenue(),
		"by_method":   byMethod,
		"daily":       daily,
		"days":        days,
	})
}

// HandleGetPaymentReceipt returns a short-lived download link for the
// archived transfer receipt.
func HandleGetPaymentReceipt(c *fiber.Ctx) error {
	id, err := parseIDParam(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "invalid id"})
	}
	payment, err := services.ledger.Get(c.Context(), id)
	if err != nil {
		return ledgerErrorResponse(c, err)
	}
	if payment.ReceiptKey == "" {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Payment has no archived receipt"})
	}
	if services.receipts == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "service_unavailable", "message": "Receipt archive is not configured"})
	}

	url, err := services.receipts.PresignGet(c.Context(), payment.ReceiptKey, receiptLinkTTL)
	if err != nil {
		log.Errorf("[API] presign for payment %s receipt failed: %v", payment.UUID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to sign receipt link"})
	}
	return c.JSON(fiber.Map{
		"url":        url,
		"expires_in": int(receiptLinkTTL.Seconds()),
	})
}
