package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	tele "gopkg.in/telebot.v3"

	"github.com/mohsenbt/marzsell/app/models"
	"github.com/mohsenbt/marzsell/internal/pkg/configgen"
)

// deliverSubscription sends the customer everything needed to connect: the
// subscription import URL plus per-protocol share links fetched live from the
// panel. Falls back to the stored subscription URL when the panel is down.
func (b *Bot) deliverSubscription(chatID int64, sub *models.Subscription) error {
	panel := sub.Panel
	if panel == nil {
		var err error
		panel, err = b.repos.Panel.GetByID(sub.PanelID)
		if err != nil {
			log.Errorf("[Bot] panel %d missing for subscription %d: %v", sub.PanelID, sub.ID, err)
			return b.sendStoredConfig(chatID, sub)
		}
	}

	account, err := b.panels.GetAccountConfig(context.Background(), panel, sub.RemoteUsername)
	if err != nil {
		log.Warnf("[Bot] config fetch failed for %s on panel %d: %v", sub.RemoteUsername, panel.ID, err)
		return b.sendStoredConfig(chatID, sub)
	}

	result, err := configgen.Render(sub, panel, account)
	if err != nil {
		log.Errorf("[Bot] config render failed for subscription %d: %v", sub.ID, err)
		return b.sendStoredConfig(chatID, sub)
	}

	var sb strings.Builder
	sb.WriteString("🎉 <b>Your subscription is ready!</b>\n\n")
	sb.WriteString("Import this URL into your client:\n")
	sb.WriteString(fmt.Sprintf("<code>%s</code>\n", result.Primary))
	if len(result.PerProtocol) > 0 {
		sb.WriteString("\nOr use a single server directly:\n")
		for proto, link := range result.PerProtocol {
			sb.WriteString(fmt.Sprintf("\n<b>%s</b>\n<code>%s</code>\n", proto, link))
		}
	}
	return b.send(chatID, sb.String(), tele.ModeHTML)
}

func (b *Bot) sendStoredConfig(chatID int64, sub *models.Subscription) error {
	if sub.SubscriptionURL == "" {
		return b.send(chatID, "Your access is active, but the config server is unreachable right now. Try \"Get config\" again in a few minutes.")
	}
	return b.send(chatID,
		fmt.Sprintf("🎉 <b>Your subscription is ready!</b>\n\nImport this URL into your client:\n<code>%s</code>", sub.SubscriptionURL),
		tele.ModeHTML)
}

// notifyAdminsOfProof forwards a submitted payment proof to every configured
// admin chat with approve/reject buttons attached.
func (b *Bot) notifyAdminsOfProof(payment *models.Payment, customer *models.Customer, msg *tele.Message) {
	if len(b.adminIDs) == 0 {
		log.Warn("[Bot] payment proof submitted but no admin chats configured")
		return
	}

	card := proofReviewCard(payment, customer)
	for adminID := range b.adminIDs {
		if msg != nil {
			if _, err := b.tb.Forward(tele.ChatID(adminID), msg); err != nil {
				log.Warnf("[Bot] forwarding proof to admin %d failed: %v", adminID, err)
			}
		}
		if err := b.send(adminID, card, b.approveRejectKeyboard(payment.ID), tele.ModeHTML); err != nil {
			log.Warnf("[Bot] notifying admin %d failed: %v", adminID, err)
		}
	}
}

func proofReviewCard(payment *models.Payment, customer *models.Customer) string {
	planName := fmt.Sprintf("plan #%d", payment.PlanID)
	if payment.Plan != nil {
		planName = payment.Plan.Name
	}
	msg := fmt.Sprintf("🔔 <b>Payment proof submitted</b>\nID: <code>%s</code>\nFrom: %s\nPlan: %s\nAmount: <b>%s Toman</b>\nMethod: %s",
		payment.UUID, customer.DisplayName(), planName, formatAmount(payment.Amount), payment.Method)
	if payment.Purpose == models.PaymentPurposeRenewal {
		msg += "\nPurpose: renewal"
	}
	if payment.TransactionReference != "" {
		msg += fmt.Sprintf("\nReference: <code>%s</code>", payment.TransactionReference)
	}
	return msg
}

// NotifyExpiry implements the subscription manager's reminder hook for
// subscriptions about to lapse.
func (b *Bot) NotifyExpiry(sub *models.Subscription) error {
	if sub.Customer == nil {
		return errors.New("subscription has no customer loaded")
	}
	name := sub.RemoteUsername
	if sub.Plan != nil {
		name = sub.Plan.Name
	}
	days := int(time.Until(sub.ExpiresAt).Hours() / 24)
	var when string
	switch {
	case days <= 0:
		when = "today"
	case days == 1:
		when = "tomorrow"
	default:
		when = fmt.Sprintf("in %d days", days)
	}
	return b.send(sub.Customer.TelegramID,
		fmt.Sprintf("⏳ Your subscription <b>%s</b> expires %s. Renew now to keep your access.", name, when),
		b.renewKeyboard(sub.ID), tele.ModeHTML)
}

// NotifyQuota implements the reminder hook for subscriptions near their
// traffic limit.
func (b *Bot) NotifyQuota(sub *models.Subscription) error {
	if sub.Customer == nil {
		return errors.New("subscription has no customer loaded")
	}
	name := sub.RemoteUsername
	if sub.Plan != nil {
		name = sub.Plan.Name
	}
	return b.send(sub.Customer.TelegramID,
		fmt.Sprintf("📉 Your subscription <b>%s</b> has used %s of %s GB. Renew to top up before it runs out.",
			name, trimFloat(round2(sub.UsedDataGB)), trimFloat(sub.DataLimitGB)),
		b.renewKeyboard(sub.ID), tele.ModeHTML)
}
