package controllers

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/mohsenbt/marzsell/internal/pkg/ledger"
)

const callbackPageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>%s</title>
<style>
body { font-family: sans-serif; background: #f4f4f5; display: flex; justify-content: center; align-items: center; min-height: 100vh; margin: 0; }
.card { background: #fff; border-radius: 12px; box-shadow: 0 2px 12px rgba(0,0,0,.08); padding: 2.5rem; max-width: 26rem; text-align: center; }
h1 { font-size: 1.4rem; margin: 0 0 .75rem; }
p { color: #52525b; line-height: 1.5; margin: 0; }
</style>
</head>
<body>
<div class="card">
<h1>%s</h1>
<p>%s</p>
</div>
</body>
</html>`

func callbackPage(c *fiber.Ctx, status int, title, body string) error {
	c.Set(fiber.HeaderContentType, fiber.MIMETextHTMLCharsetUTF8)
	return c.Status(status).SendString(fmt.Sprintf(callbackPageTemplate, title, title, body))
}

// HandlePaymentCallback is the browser landing the hosted gateway redirects
// customers to. It verifies the charge server-to-server, fulfills on
// success, and always renders a human-readable page. Verification failures
// leave the payment pending so a page refresh retries cleanly.
func HandlePaymentCallback(c *fiber.Ctx) error {
	authority := strings.TrimSpace(c.Query("Authority"))
	gatewayStatus := c.Query("Status")
	if authority == "" {
		return callbackPage(c, fiber.StatusBadRequest, "Missing payment reference",
			"The gateway did not pass a payment reference. If money left your account, contact support with your bank statement.")
	}

	payment, err := services.ledger.VerifyHostedCharge(c.Context(), authority, gatewayStatus)
	switch {
	case errors.Is(err, ledger.ErrPaymentNotFound):
		return callbackPage(c, fiber.StatusNotFound, "Unknown payment",
			"This payment reference is unknown to us. If money left your account, contact support.")
	case errors.Is(err, ledger.ErrAmountMismatch):
		return callbackPage(c, fiber.StatusOK, "Payment could not be accepted",
			"The gateway reported a different amount than your order. The charge was not accepted; support has been notified.")
	case err != nil:
		log.Errorf("[Gateway] verification for authority %s failed: %v", authority, err)
		return callbackPage(c, fiber.StatusBadGateway, "Verification unavailable",
			"We could not reach the gateway to verify your payment. Refresh this page in a minute; your payment stays reserved.")
	}

	if payment.IsSettled() {
		if services.fulfill != nil && payment.Customer != nil && payment.FulfilledAt == nil {
			if err := services.fulfill.FulfillPaid(payment.Customer.TelegramID, payment.ID); err != nil {
				log.Errorf("[Gateway] fulfillment for payment %s failed: %v", payment.UUID, err)
			}
		}
		return callbackPage(c, fiber.StatusOK, "Payment received 🎉",
			"Thank you! Your VPN access is being prepared. Return to the Telegram chat; your config arrives there.")
	}

	return callbackPage(c, fiber.StatusOK, "Payment not completed",
		"The charge was not finished. Return to the Telegram chat and start the payment again whenever you like.")
}
