package bot

import (
	"fmt"
	"strconv"

	tele "gopkg.in/telebot.v3"

	"github.com/mohsenbt/marzsell/app/models"
)

func (b *Bot) mainMenuKeyboard(admin bool) *tele.ReplyMarkup {
	menu := &tele.ReplyMarkup{ResizeKeyboard: true}
	rows := []tele.Row{
		menu.Row(menu.Text(btnTextBuy), menu.Text(btnTextMySubs)),
		menu.Row(menu.Text(btnTextSupport)),
	}
	if admin {
		rows = append(rows, menu.Row(menu.Text(btnTextAdmin)))
	}
	menu.Reply(rows...)
	return menu
}

func (b *Bot) plansKeyboard(plans []models.Plan) *tele.ReplyMarkup {
	menu := &tele.ReplyMarkup{}
	rows := make([]tele.Row, 0, len(plans)+1)
	for i := range plans {
		plan := &plans[i]
		rows = append(rows, menu.Row(
			menu.Data(planButtonLabel(plan), cbPlan, strconv.FormatUint(uint64(plan.ID), 10)),
		))
	}
	rows = append(rows, menu.Row(menu.Data("❌ Cancel", cbCancel)))
	menu.Inline(rows...)
	return menu
}

func (b *Bot) methodsKeyboard(settings *models.ShopSettings) *tele.ReplyMarkup {
	if settings == nil {
		settings = models.GetShopSettings()
	}
	menu := &tele.ReplyMarkup{}
	var rows []tele.Row
	if settings.CardToCardEnabled {
		rows = append(rows, menu.Row(menu.Data("💳 Card to card", cbMethod, models.PaymentMethodCardToCard)))
	}
	if settings.CryptoEnabled {
		rows = append(rows, menu.Row(menu.Data("🪙 Crypto", cbMethod, models.PaymentMethodCrypto)))
	}
	if settings.GatewayEnabled {
		rows = append(rows, menu.Row(menu.Data("🌐 Online gateway", cbMethod, models.PaymentMethodHostedGateway)))
	}
	rows = append(rows, menu.Row(menu.Data("❌ Cancel", cbCancel)))
	menu.Inline(rows...)
	return menu
}

func (b *Bot) pendingPaymentKeyboard(paymentID uint, payURL string) *tele.ReplyMarkup {
	menu := &tele.ReplyMarkup{}
	id := strconv.FormatUint(uint64(paymentID), 10)
	var rows []tele.Row
	if payURL != "" {
		rows = append(rows, menu.Row(menu.URL("🌐 Open payment page", payURL)))
	}
	rows = append(rows,
		menu.Row(menu.Data("✅ I have paid", cbConfirm, id)),
		menu.Row(menu.Data("❌ Cancel", cbCancel)),
	)
	menu.Inline(rows...)
	return menu
}

func (b *Bot) subsKeyboard(subs []models.Subscription) *tele.ReplyMarkup {
	menu := &tele.ReplyMarkup{}
	rows := make([]tele.Row, 0, len(subs))
	for i := range subs {
		sub := &subs[i]
		name := sub.RemoteUsername
		if sub.Plan != nil {
			name = sub.Plan.Name
		}
		label := fmt.Sprintf("%s · %s", name, subscriptionStatusLabel(sub.Status))
		rows = append(rows, menu.Row(
			menu.Data(label, cbSub, strconv.FormatUint(uint64(sub.ID), 10)),
		))
	}
	menu.Inline(rows...)
	return menu
}

func (b *Bot) subDetailKeyboard(sub *models.Subscription) *tele.ReplyMarkup {
	menu := &tele.ReplyMarkup{}
	id := strconv.FormatUint(uint64(sub.ID), 10)
	menu.Inline(
		menu.Row(menu.Data("⚙️ Get config", cbSubConfig, id), menu.Data("🔁 Renew", cbRenew, id)),
		menu.Row(menu.Data("↩️ Back", cbMySubs)),
	)
	return menu
}

func (b *Bot) adminMenuKeyboard() *tele.ReplyMarkup {
	menu := &tele.ReplyMarkup{}
	menu.Inline(
		menu.Row(menu.Data("🧾 Pending payments", cbAdminPending)),
		menu.Row(menu.Data("🖥 Register panel", cbAdminAddPanel)),
		menu.Row(menu.Data("📣 Broadcast", cbAdminBroadcast)),
	)
	return menu
}

func (b *Bot) approveRejectKeyboard(paymentID uint) *tele.ReplyMarkup {
	menu := &tele.ReplyMarkup{}
	id := strconv.FormatUint(uint64(paymentID), 10)
	menu.Inline(
		menu.Row(menu.Data("✅ Approve", cbAdminApprove, id), menu.Data("❌ Reject", cbAdminReject, id)),
	)
	return menu
}

func (b *Bot) renewKeyboard(subID uint) *tele.ReplyMarkup {
	menu := &tele.ReplyMarkup{}
	menu.Inline(
		menu.Row(menu.Data("🔁 Renew now", cbRenew, strconv.FormatUint(uint64(subID), 10))),
	)
	return menu
}
