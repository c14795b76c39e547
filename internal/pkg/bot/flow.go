package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2/log"
	tele "gopkg.in/telebot.v3"

	"github.com/mohsenbt/marzsell/app/models"
	"github.com/mohsenbt/marzsell/internal/pkg/convstate"
	"github.com/mohsenbt/marzsell/internal/pkg/ledger"
	"github.com/mohsenbt/marzsell/internal/pkg/metrics/counter"
)

const (
	msgTryAgain      = "😕 Something went wrong, please try again."
	msgOutOfSequence = "That button is not valid right now. Use the menu below or /cancel to start over."

	btnTextBuy     = "🛍 Buy subscription"
	btnTextMySubs  = "📋 My subscriptions"
	btnTextSupport = "☎️ Support"
	btnTextAdmin   = "🛠 Admin"
)

// onStart greets the customer, registers them on first contact and resets any
// half-finished flow.
func (b *Bot) onStart(c tele.Context) error {
	customer, err := b.customer(c)
	if customer == nil {
		return err
	}
	if err := b.sessions.Reset(c.Chat().ID); err != nil {
		log.Warnf("[Bot] session reset failed for chat %d: %v", c.Chat().ID, err)
	}

	welcome := fmt.Sprintf(
		"👋 Hi %s!\n\nThis shop sells VPN subscriptions delivered right here in the chat.\n"+
			"Pick a plan, pay the way you prefer and your config arrives within moments of confirmation.",
		customer.DisplayName())
	return c.Send(welcome, b.mainMenuKeyboard(b.isAdmin(customer)))
}

// onText routes free-form messages: main menu labels first, then whatever the
// chat's conversation state is waiting for.
func (b *Bot) onText(c tele.Context) error {
	customer, err := b.customer(c)
	if customer == nil {
		return err
	}
	text := strings.TrimSpace(c.Text())

	switch text {
	case btnTextBuy:
		return b.onShowPlans(c)
	case btnTextMySubs:
		return b.onMySubscriptions(c)
	case btnTextSupport:
		return b.sendSupportInfo(c)
	case btnTextAdmin:
		if b.isAdmin(customer) {
			return b.onAdminMenu(c)
		}
	}

	sess, err := b.sessions.Get(c.Chat().ID)
	if err != nil {
		log.Errorf("[Bot] session load failed for chat %d: %v", c.Chat().ID, err)
		return c.Send(msgTryAgain)
	}

	switch sess.State {
	case convstate.StateAwaitingPaymentConfirmation:
		return b.captureReference(c, customer, text)
	case convstate.StateAwaitingPanelURL:
		return b.adminCapturePanelURL(c, customer, text)
	case convstate.StateAwaitingPanelCredentials:
		return b.adminCapturePanelCredentials(c, customer, text)
	case convstate.StateAwaitingBroadcast:
		return b.adminSendBroadcast(c, customer, text)
	default:
		return c.Send("Use the menu below to get around.", b.mainMenuKeyboard(b.isAdmin(customer)))
	}
}

// onShowPlans lists the visible catalog. Allowed from any state; it does not
// clobber an in-flight payment.
func (b *Bot) onShowPlans(c tele.Context) error {
	customer, err := b.customer(c)
	if customer == nil {
		return err
	}

	plans, err := b.repos.Plan.GetVisible()
	if err != nil {
		log.Errorf("[Bot] plan listing failed: %v", err)
		return c.Send(msgTryAgain)
	}
	if len(plans) == 0 {
		return c.Send("No plans are on sale right now. Check back soon!")
	}
	for i := range plans {
		counter.TrackPlanView(plans[i].ID)
	}

	_, err = b.sessions.Mutate(c.Chat().ID, func(s *convstate.Session) error {
		if s.State == convstate.StateIdle {
			s.State = convstate.StateSelectingPlan
		}
		return nil
	})
	if err != nil {
		log.Errorf("[Bot] session update failed for chat %d: %v", c.Chat().ID, err)
	}
	return c.Send("🛍 <b>Available plans</b>\nPick one to continue:", b.plansKeyboard(plans), tele.ModeHTML)
}

// onPlanChosen pins the selected plan and asks for a payment method.
func (b *Bot) onPlanChosen(c tele.Context) error {
	customer, err := b.customer(c)
	if customer == nil {
		return err
	}
	planID, err := strconv.ParseUint(c.Data(), 10, 32)
	if err != nil {
		return c.Send(msgOutOfSequence)
	}

	plan, err := b.repos.Plan.GetByID(uint(planID))
	if err != nil || !plan.Visible {
		return c.Send("That plan is no longer available. /start to see the current list.")
	}

	settings, _ := b.repos.Setting.Get()
	_, err = b.sessions.Mutate(c.Chat().ID, func(s *convstate.Session) error {
		if !s.Is(convstate.StateIdle, convstate.StateSelectingPlan, convstate.StateChoosingPaymentMethod) {
			return c.Send(msgOutOfSequence)
		}
		s.State = convstate.StateChoosingPaymentMethod
		s.SelectedPlanID = plan.ID
		s.RenewSubscriptionID = 0
		return c.Send(planCaption(plan)+"\n\n💳 How would you like to pay?",
			b.methodsKeyboard(settings), tele.ModeHTML)
	})
	return err
}

// onMethodChosen opens the payment and renders the instructions for the
// chosen method.
func (b *Bot) onMethodChosen(c tele.Context) error {
	customer, err := b.customer(c)
	if customer == nil {
		return err
	}
	method := c.Data()

	_, err = b.sessions.Mutate(c.Chat().ID, func(s *convstate.Session) error {
		if s.State != convstate.StateChoosingPaymentMethod || s.SelectedPlanID == 0 {
			return c.Send(msgOutOfSequence)
		}

		plan, err := b.repos.Plan.GetByID(s.SelectedPlanID)
		if err != nil {
			return c.Send("That plan is no longer available. /start to see the current list.")
		}
		settings, _ := b.repos.Setting.Get()
		if !methodEnabled(settings, method) {
			return c.Send("That payment method is switched off right now. Pick another one.")
		}

		in := ledger.CreateInput{
			CustomerID: customer.ID,
			PlanID:     plan.ID,
			Amount:     plan.Price,
			Method:     method,
			Purpose:    models.PaymentPurposePurchase,
		}
		if s.RenewSubscriptionID != 0 {
			target := s.RenewSubscriptionID
			in.SubscriptionID = &target
			in.Purpose = models.PaymentPurposeRenewal
		}

		payment, err := b.ledger.Create(context.Background(), in)
		if err != nil {
			log.Errorf("[Bot] payment create failed for customer %d: %v", customer.ID, err)
			return c.Send(msgTryAgain)
		}

		payURL := ""
		if method == models.PaymentMethodHostedGateway {
			var charged *models.Payment
			payURL, charged, err = b.ledger.InitiateHostedCharge(context.Background(), payment.ID)
			if err != nil {
				log.Errorf("[Bot] hosted charge init failed for payment %s: %v", payment.UUID, err)
				return c.Send("🌐 The payment gateway is not reachable right now. Pick another method or try later.")
			}
			payment = charged
		}

		s.State = convstate.StateAwaitingPaymentConfirmation
		s.PaymentMethod = method
		s.PendingPaymentID = payment.ID

		return c.Send(paymentInstructions(method, settings, payment),
			b.pendingPaymentKeyboard(payment.ID, payURL), tele.ModeHTML)
	})
	return err
}

// onPaymentConfirm is the customer's "I have paid" button. Settled payments
// provision immediately; manual ones wait for admin review.
func (b *Bot) onPaymentConfirm(c tele.Context) error {
	customer, err := b.customer(c)
	if customer == nil {
		return err
	}
	paymentID, err := strconv.ParseUint(c.Data(), 10, 32)
	if err != nil {
		return c.Send(msgOutOfSequence)
	}

	_, err = b.sessions.Mutate(c.Chat().ID, func(s *convstate.Session) error {
		payment, err := b.ledger.Get(context.Background(), uint(paymentID))
		if err != nil {
			return c.Send(msgOutOfSequence)
		}
		if payment.CustomerID != customer.ID {
			return c.Send(msgOutOfSequence)
		}

		switch payment.Status {
		case models.PaymentStatusCompleted:
			s.ResetToIdle()
			return b.fulfillAndDeliver(c.Chat().ID, payment.ID)
		case models.PaymentStatusPending:
			if payment.Method == models.PaymentMethodHostedGateway {
				return c.Send("🌐 The gateway has not confirmed this payment yet. Finish the checkout page first, your config arrives automatically.")
			}
			if payment.TransactionReference == "" && payment.ReceiptKey == "" {
				return c.Send("📎 Please send your transfer receipt photo or the transaction reference first, then an admin will confirm it.")
			}
			return c.Send("⏳ Your payment is waiting for admin review. You will be notified the moment it is confirmed.")
		default:
			s.ResetToIdle()
			return c.Send(fmt.Sprintf("This payment is closed (%s). Start over with /start if you still want the plan.", payment.Status))
		}
	})
	return err
}

// captureReference accepts a typed transaction reference (bank transfer code
// or crypto tx hash) while a manual payment is pending.
func (b *Bot) captureReference(c tele.Context, customer *models.Customer, text string) error {
	_, err := b.sessions.Mutate(c.Chat().ID, func(s *convstate.Session) error {
		if s.PendingPaymentID == 0 {
			return c.Send(msgOutOfSequence)
		}
		if s.PaymentMethod == models.PaymentMethodHostedGateway {
			return c.Send("🌐 Gateway payments confirm automatically, no reference needed.")
		}

		payment, err := b.ledger.AttachReference(context.Background(), s.PendingPaymentID, text)
		if err != nil {
			if errors.Is(err, ledger.ErrInvalidTransition) {
				s.ResetToIdle()
				return c.Send("This payment is already closed. /start to begin again.")
			}
			log.Errorf("[Bot] reference attach failed for payment %d: %v", s.PendingPaymentID, err)
			return c.Send(msgTryAgain)
		}

		b.notifyAdminsOfProof(payment, customer, nil)
		return c.Send("✅ Reference received. An admin will review your payment shortly.")
	})
	return err
}

// onPhoto accepts a transfer receipt photo while a card-to-card payment is
// pending. The photo is archived and forwarded to the admins for review.
func (b *Bot) onPhoto(c tele.Context) error {
	customer, err := b.customer(c)
	if customer == nil {
		return err
	}

	_, err = b.sessions.Mutate(c.Chat().ID, func(s *convstate.Session) error {
		if s.State != convstate.StateAwaitingPaymentConfirmation || s.PendingPaymentID == 0 {
			return nil // stray photo, ignore
		}
		if s.PaymentMethod != models.PaymentMethodCardToCard {
			return c.Send("For this payment method send the transaction reference as text instead.")
		}

		payment, err := b.ledger.Get(context.Background(), s.PendingPaymentID)
		if err != nil || payment.Status != models.PaymentStatusPending {
			s.ResetToIdle()
			return c.Send("This payment is already closed. /start to begin again.")
		}

		if b.receipts != nil {
			if key, err := b.archiveReceipt(c, payment); err != nil {
				log.Warnf("[Bot] receipt archive failed for payment %s: %v", payment.UUID, err)
			} else if key != "" {
				if payment, err = b.ledger.AttachReceipt(context.Background(), payment.ID, key); err != nil {
					log.Warnf("[Bot] receipt key attach failed for payment %s: %v", payment.UUID, err)
				}
			}
		}

		b.notifyAdminsOfProof(payment, customer, c.Message())
		return c.Send("📎 Receipt received. An admin will review your payment shortly.")
	})
	return err
}

func (b *Bot) archiveReceipt(c tele.Context, payment *models.Payment) (string, error) {
	photo := c.Message().Photo
	if photo == nil {
		return "", nil
	}
	rc, err := b.tb.File(&photo.File)
	if err != nil {
		return "", err
	}
	defer rc.Close()
	return b.receipts.Store(context.Background(), payment.UUID, rc)
}

// onCancel aborts whatever flow is in progress. A pending payment opened by
// the flow is closed as customer-cancelled.
func (b *Bot) onCancel(c tele.Context) error {
	customer, err := b.customer(c)
	if customer == nil {
		return err
	}

	_, err = b.sessions.Mutate(c.Chat().ID, func(s *convstate.Session) error {
		if s.PendingPaymentID != 0 {
			if _, err := b.ledger.Cancel(context.Background(), s.PendingPaymentID, "cancelled by customer"); err != nil &&
				!errors.Is(err, ledger.ErrInvalidTransition) {
				log.Warnf("[Bot] cancel failed for payment %d: %v", s.PendingPaymentID, err)
			}
		}
		s.ResetToIdle()
		return c.Send("Cancelled. Nothing was charged.", b.mainMenuKeyboard(b.isAdmin(customer)))
	})
	return err
}

// onMySubscriptions lists the customer's subscriptions. Leaves the flow state
// untouched so it is usable mid-purchase.
func (b *Bot) onMySubscriptions(c tele.Context) error {
	customer, err := b.customer(c)
	if customer == nil {
		return err
	}

	subs, err := b.subs.ListByCustomer(context.Background(), customer.ID)
	if err != nil {
		log.Errorf("[Bot] subscription listing failed for customer %d: %v", customer.ID, err)
		return c.Send(msgTryAgain)
	}
	if len(subs) == 0 {
		return c.Send("You have no subscriptions yet. Grab one from the plan list!", b.mainMenuKeyboard(b.isAdmin(customer)))
	}
	return c.Send("📋 <b>Your subscriptions</b>", b.subsKeyboard(subs), tele.ModeHTML)
}

func (b *Bot) onSubscriptionDetail(c tele.Context) error {
	_, sub, err := b.ownedSubscription(c)
	if sub == nil {
		return err
	}
	return c.Send(subscriptionSummary(sub), b.subDetailKeyboard(sub), tele.ModeHTML)
}

// onSubscriptionConfig re-delivers the connection config for a subscription.
func (b *Bot) onSubscriptionConfig(c tele.Context) error {
	_, sub, err := b.ownedSubscription(c)
	if sub == nil {
		return err
	}
	return b.deliverSubscription(c.Chat().ID, sub)
}

// onRenewStart begins a renewal purchase for one of the customer's
// subscriptions: same plan, payment marked as a renewal.
func (b *Bot) onRenewStart(c tele.Context) error {
	_, sub, err := b.ownedSubscription(c)
	if sub == nil {
		return err
	}

	plan := sub.Plan
	if plan == nil {
		var perr error
		plan, perr = b.repos.Plan.GetByID(sub.PlanID)
		if perr != nil {
			return c.Send("The plan behind this subscription is gone; contact support to renew.")
		}
	}
	settings, _ := b.repos.Setting.Get()

	_, err = b.sessions.Mutate(c.Chat().ID, func(s *convstate.Session) error {
		s.State = convstate.StateChoosingPaymentMethod
		s.SelectedPlanID = plan.ID
		s.RenewSubscriptionID = sub.ID
		return c.Send(
			fmt.Sprintf("🔁 Renewing <b>%s</b>: +%d days and +%s GB on top of what you have.\n\n💳 How would you like to pay?",
				plan.Name, plan.DurationDays, trimFloat(plan.DataLimitGB)),
			b.methodsKeyboard(settings), tele.ModeHTML)
	})
	return err
}

// ownedSubscription resolves the callback's subscription and enforces that it
// belongs to the requesting customer.
func (b *Bot) ownedSubscription(c tele.Context) (*models.Customer, *models.Subscription, error) {
	customer, err := b.customer(c)
	if customer == nil {
		return nil, nil, err
	}
	subID, err := strconv.ParseUint(c.Data(), 10, 32)
	if err != nil {
		return customer, nil, c.Send(msgOutOfSequence)
	}
	sub, err := b.subs.Get(context.Background(), uint(subID))
	if err != nil {
		return customer, nil, c.Send("Subscription not found.")
	}
	if sub.CustomerID != customer.ID && !b.isAdmin(customer) {
		return customer, nil, c.Send(msgOutOfSequence)
	}
	return customer, sub, nil
}

// fulfillAndDeliver provisions a settled payment and sends the config. Used
// from both the customer confirm button and the admin approval path.
func (b *Bot) fulfillAndDeliver(chatID int64, paymentID uint) error {
	sub, err := b.subs.Provision(context.Background(), paymentID)
	if err != nil {
		log.Errorf("[Bot] provisioning failed for payment %d: %v", paymentID, err)
		return b.send(chatID, "✅ Payment confirmed, but setting up your access hit a snag. Support is on it; you will receive your config shortly.")
	}
	counter.TrackPlanPurchase(sub.PlanID)
	return b.deliverSubscription(chatID, sub)
}

// FulfillPaid provisions a settled payment and delivers the config to the
// customer chat. The admin API and the gateway callback call it after they
// settle a payment outside the bot's own handlers.
func (b *Bot) FulfillPaid(chatID int64, paymentID uint) error {
	b.sessions.Reset(chatID)
	return b.fulfillAndDeliver(chatID, paymentID)
}

func (b *Bot) sendSupportInfo(c tele.Context) error {
	settings, err := b.repos.Setting.Get()
	if err != nil || settings.SupportContact == "" {
		return c.Send("☎️ Reach out to the shop admin for help.")
	}
	return c.Send(fmt.Sprintf("☎️ Support: %s", settings.SupportContact))
}

func (b *Bot) sendMainMenu(c tele.Context, customer *models.Customer) error {
	return c.Send("🏠 Main menu", b.mainMenuKeyboard(b.isAdmin(customer)))
}

func methodEnabled(settings *models.ShopSettings, method string) bool {
	if settings == nil {
		settings = models.GetShopSettings()
	}
	switch method {
	case models.PaymentMethodCardToCard:
		return settings.CardToCardEnabled
	case models.PaymentMethodCrypto:
		return settings.CryptoEnabled
	case models.PaymentMethodHostedGateway:
		return settings.GatewayEnabled
	default:
		return false
	}
}
