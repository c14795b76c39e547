package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2/log"
	tele "gopkg.in/telebot.v3"

	"github.com/mohsenbt/marzsell/app/models"
	"github.com/mohsenbt/marzsell/internal/pkg/convstate"
	"github.com/mohsenbt/marzsell/internal/pkg/ledger"
)

const maxPendingShown = 20

func (b *Bot) onAdminMenu(c tele.Context) error {
	return c.Send("🛠 Admin menu", b.adminMenuKeyboard())
}

// onAdminAddPanel starts the two-step panel registration conversation.
func (b *Bot) onAdminAddPanel(c tele.Context) error {
	_, err := b.sessions.Mutate(c.Chat().ID, func(s *convstate.Session) error {
		s.State = convstate.StateAwaitingPanelURL
		return c.Send("🖥 Send the new panel as <code>name base-url</code>, e.g.\n<code>fra-1 https://panel.example.com</code>", tele.ModeHTML)
	})
	return err
}

// adminCapturePanelURL handles the first registration step. It runs from the
// text router, so the admin gate is applied here again.
func (b *Bot) adminCapturePanelURL(c tele.Context, customer *models.Customer, text string) error {
	if !b.isAdmin(customer) {
		return b.resetWithMenu(c, customer)
	}

	name, baseURL, err := parsePanelRegistration(text)
	if err != nil {
		return c.Send("That doesn't look right. Send <code>name base-url</code>, e.g. <code>fra-1 https://panel.example.com</code>", tele.ModeHTML)
	}

	_, err = b.sessions.Mutate(c.Chat().ID, func(s *convstate.Session) error {
		s.State = convstate.StateAwaitingPanelCredentials
		s.PanelName = name
		s.PanelURL = baseURL
		return c.Send(fmt.Sprintf("Got it: <b>%s</b> at <code>%s</code>.\n\nNow send the panel admin login as <code>username:password</code>.", name, baseURL), tele.ModeHTML)
	})
	return err
}

// adminCapturePanelCredentials finishes registration: it probes the panel once
// and stores it with the connectivity result of that probe.
func (b *Bot) adminCapturePanelCredentials(c tele.Context, customer *models.Customer, text string) error {
	if !b.isAdmin(customer) {
		return b.resetWithMenu(c, customer)
	}

	username, password, err := parsePanelCredentials(text)
	if err != nil {
		return c.Send("Send the login as <code>username:password</code>.", tele.ModeHTML)
	}

	sess, err := b.sessions.Get(c.Chat().ID)
	if err != nil || sess.PanelName == "" || sess.PanelURL == "" {
		return c.Send(msgOutOfSequence)
	}

	now := time.Now()
	panel := &models.Panel{
		Name:               sess.PanelName,
		BaseURL:            sess.PanelURL,
		AdminUsername:      username,
		AdminCredential:    password,
		ConnectivityStatus: models.PanelStatusDisconnected,
		LastCheckedAt:      &now,
	}
	panel.NormalizeBaseURL()

	reachable := b.panels.TestConnectivity(context.Background(), panel)
	if reachable {
		panel.ConnectivityStatus = models.PanelStatusConnected
	} else {
		panel.ConnectivityStatus = models.PanelStatusError
	}

	if err := b.repos.Panel.Create(panel); err != nil {
		log.Errorf("[Bot] panel create failed for %q: %v", panel.Name, err)
		return c.Send("Saving the panel failed. Is the name already taken?")
	}

	_, _ = b.sessions.Mutate(c.Chat().ID, func(s *convstate.Session) error {
		s.ResetToIdle()
		return nil
	})

	if reachable {
		return c.Send(fmt.Sprintf("✅ Panel <b>%s</b> registered and reachable.", panel.Name), tele.ModeHTML)
	}
	return c.Send(fmt.Sprintf("⚠️ Panel <b>%s</b> registered, but the connectivity probe failed. Check the URL and credentials.", panel.Name), tele.ModeHTML)
}

// onAdminPendingPayments lists manual payments waiting for review. Hosted
// gateway payments settle through the callback and are not listed.
func (b *Bot) onAdminPendingPayments(c tele.Context) error {
	payments, _, err := b.ledger.List(context.Background(), ledger.ListFilter{
		Status: models.PaymentStatusPending,
		Limit:  maxPendingShown,
	})
	if err != nil {
		return c.Send(msgTryAgain)
	}

	shown := 0
	for i := range payments {
		p := &payments[i]
		if p.Method == models.PaymentMethodHostedGateway {
			continue
		}
		if err := c.Send(pendingReviewCard(p), b.approveRejectKeyboard(p.ID), tele.ModeHTML); err != nil {
			return err
		}
		shown++
	}
	if shown == 0 {
		return c.Send("🧾 No manual payments waiting for review.")
	}
	return nil
}

// onAdminApprove settles a manual payment, provisions it and tells the
// customer. Stateless on purpose: it touches the customer's session only via
// Reset, never under a held session lock.
func (b *Bot) onAdminApprove(c tele.Context) error {
	paymentID, err := strconv.ParseUint(c.Data(), 10, 32)
	if err != nil {
		return c.Send(msgOutOfSequence)
	}

	operator := "admin"
	if c.Sender() != nil && c.Sender().Username != "" {
		operator = c.Sender().Username
	}

	payment, err := b.ledger.Approve(context.Background(), uint(paymentID), operator, "")
	if err != nil {
		if errors.Is(err, ledger.ErrInvalidTransition) {
			return c.Send("This payment was already settled or closed.")
		}
		log.Errorf("[Bot] approve failed for payment %d: %v", paymentID, err)
		return c.Send(msgTryAgain)
	}

	if err := c.Send(fmt.Sprintf("✅ Payment <code>%s</code> approved.", payment.UUID), tele.ModeHTML); err != nil {
		return err
	}

	if payment.Customer == nil {
		log.Errorf("[Bot] approved payment %d has no customer loaded", payment.ID)
		return nil
	}
	chatID := payment.Customer.TelegramID
	b.sessions.Reset(chatID)
	_ = b.send(chatID, "✅ Your payment was approved!")
	return b.fulfillAndDeliver(chatID, payment.ID)
}

// onAdminReject closes a manual payment as failed and tells the customer.
func (b *Bot) onAdminReject(c tele.Context) error {
	paymentID, err := strconv.ParseUint(c.Data(), 10, 32)
	if err != nil {
		return c.Send(msgOutOfSequence)
	}

	operator := "admin"
	if c.Sender() != nil && c.Sender().Username != "" {
		operator = c.Sender().Username
	}

	payment, err := b.ledger.Reject(context.Background(), uint(paymentID), operator, "rejected by admin")
	if err != nil {
		if errors.Is(err, ledger.ErrInvalidTransition) {
			return c.Send("This payment was already settled or closed.")
		}
		log.Errorf("[Bot] reject failed for payment %d: %v", paymentID, err)
		return c.Send(msgTryAgain)
	}

	if err := c.Send(fmt.Sprintf("❌ Payment <code>%s</code> rejected.", payment.UUID), tele.ModeHTML); err != nil {
		return err
	}

	if payment.Customer != nil {
		chatID := payment.Customer.TelegramID
		b.sessions.Reset(chatID)
		_ = b.send(chatID, "❌ Your payment was not accepted. If you believe this is a mistake, contact support.")
	}
	return nil
}

// onAdminBroadcastStart asks for the broadcast text.
func (b *Bot) onAdminBroadcastStart(c tele.Context) error {
	_, err := b.sessions.Mutate(c.Chat().ID, func(s *convstate.Session) error {
		s.State = convstate.StateAwaitingBroadcast
		return c.Send("📣 Send the message to broadcast to every active customer, or /cancel.")
	})
	return err
}

// adminSendBroadcast fans the text out to all non-blocked customers.
func (b *Bot) adminSendBroadcast(c tele.Context, customer *models.Customer, text string) error {
	if !b.isAdmin(customer) {
		return b.resetWithMenu(c, customer)
	}

	ids, err := b.repos.Customer.ListActiveTelegramIDs()
	if err != nil {
		return c.Send(msgTryAgain)
	}

	sent := 0
	for _, id := range ids {
		if err := b.send(id, text); err != nil {
			log.Warnf("[Bot] broadcast to %d failed: %v", id, err)
			continue
		}
		sent++
	}

	_, _ = b.sessions.Mutate(c.Chat().ID, func(s *convstate.Session) error {
		s.ResetToIdle()
		return nil
	})
	return c.Send(fmt.Sprintf("📣 Broadcast delivered to %d of %d customers.", sent, len(ids)))
}

// resetWithMenu drops a stale admin flow for a customer who lost (or never
// had) admin rights mid-conversation.
func (b *Bot) resetWithMenu(c tele.Context, customer *models.Customer) error {
	b.sessions.Reset(c.Chat().ID)
	return b.sendMainMenu(c, customer)
}

// pendingReviewCard renders one pending manual payment for admin review.
func pendingReviewCard(p *models.Payment) string {
	who := fmt.Sprintf("customer #%d", p.CustomerID)
	if p.Customer != nil {
		who = p.Customer.DisplayName()
	}
	planName := fmt.Sprintf("plan #%d", p.PlanID)
	if p.Plan != nil {
		planName = p.Plan.Name
	}

	msg := fmt.Sprintf("🧾 <b>Pending payment</b>\nID: <code>%s</code>\nFrom: %s\nPlan: %s\nAmount: <b>%s Toman</b>\nMethod: %s\nOpened: %s",
		p.UUID, who, planName, formatAmount(p.Amount), p.Method, p.CreatedAt.Format("2006-01-02 15:04"))
	if p.Purpose == models.PaymentPurposeRenewal {
		msg += "\nPurpose: renewal"
	}
	if p.TransactionReference != "" {
		msg += fmt.Sprintf("\nReference: <code>%s</code>", p.TransactionReference)
	}
	if p.ReceiptKey != "" {
		msg += "\nReceipt: uploaded 📎"
	}
	return msg
}
