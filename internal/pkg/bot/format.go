package bot

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mohsenbt/marzsell/app/models"
)

// formatAmount renders a Toman amount with thousands separators.
func formatAmount(amount int64) string {
	digits := strconv.FormatInt(amount, 10)
	negative := strings.HasPrefix(digits, "-")
	if negative {
		digits = digits[1:]
	}

	var sb strings.Builder
	for i, r := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			sb.WriteByte(',')
		}
		sb.WriteRune(r)
	}
	if negative {
		return "-" + sb.String()
	}
	return sb.String()
}

// trimFloat prints a float without trailing zeros (50, 7.5, 0.25).
func trimFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func planCaption(plan *models.Plan) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "📦 <b>%s</b>\n", plan.Name)
	fmt.Fprintf(&sb, "💾 %s GB for %d days\n", trimFloat(plan.DataLimitGB), plan.DurationDays)
	fmt.Fprintf(&sb, "🔌 up to %d devices\n", plan.MaxConnections)
	fmt.Fprintf(&sb, "💰 %s Toman", formatAmount(plan.Price))
	for _, feature := range plan.FeatureList() {
		fmt.Fprintf(&sb, "\n• %s", feature)
	}
	return sb.String()
}

func planButtonLabel(plan *models.Plan) string {
	return fmt.Sprintf("%s · %s GB / %dd · %s T",
		plan.Name, trimFloat(plan.DataLimitGB), plan.DurationDays, formatAmount(plan.Price))
}

// paymentInstructions renders the per-method payment walkthrough for a
// freshly opened payment.
func paymentInstructions(method string, settings *models.ShopSettings, payment *models.Payment) string {
	if settings == nil {
		settings = models.GetShopSettings()
	}
	amount := formatAmount(payment.Amount)

	var sb strings.Builder
	fmt.Fprintf(&sb, "🧾 Payment <code>%s</code>\n💰 Amount: <b>%s Toman</b>\n\n", payment.UUID, amount)

	switch method {
	case models.PaymentMethodCardToCard:
		fmt.Fprintf(&sb, "💳 Transfer the amount to this card:\n<code>%s</code>\n", settings.CardNumber)
		if settings.CardHolder != "" {
			fmt.Fprintf(&sb, "👤 Holder: %s\n", settings.CardHolder)
		}
		sb.WriteString("\nThen send a photo of the receipt (or the tracking code as text) and press \"I have paid\".")
	case models.PaymentMethodCrypto:
		fmt.Fprintf(&sb, "🪙 Send the equivalent to this wallet:\n<code>%s</code>\n", settings.CryptoWallet)
		sb.WriteString("\nThen send the transaction hash here and press \"I have paid\".")
	case models.PaymentMethodHostedGateway:
		sb.WriteString("🌐 Pay through the secure gateway with the button below.\nYour config is delivered automatically once the gateway confirms.")
	}
	return sb.String()
}

func subscriptionStatusLabel(status string) string {
	switch status {
	case models.SubscriptionStatusActive:
		return "✅ active"
	case models.SubscriptionStatusSuspended:
		return "🚫 out of quota"
	case models.SubscriptionStatusExpired:
		return "⏰ expired"
	default:
		return status
	}
}

func subscriptionSummary(sub *models.Subscription) string {
	var sb strings.Builder
	name := sub.RemoteUsername
	if sub.Plan != nil {
		name = sub.Plan.Name
	}
	fmt.Fprintf(&sb, "📋 <b>%s</b>\n", name)
	fmt.Fprintf(&sb, "📊 Status: %s\n", subscriptionStatusLabel(sub.Status))
	fmt.Fprintf(&sb, "💾 Used: %s / %s GB (%s GB left)\n",
		trimFloat(round2(sub.UsedDataGB)), trimFloat(sub.DataLimitGB), trimFloat(round2(sub.RemainingGB())))

	now := time.Now()
	if sub.ExpiresAt.After(now) {
		days := int(sub.ExpiresAt.Sub(now).Hours() / 24)
		fmt.Fprintf(&sb, "⏱ Expires: %s (%d days left)\n", sub.ExpiresAt.Format("2006-01-02"), days)
	} else {
		fmt.Fprintf(&sb, "⏱ Expired on %s\n", sub.ExpiresAt.Format("2006-01-02"))
	}

	if sub.SubscriptionURL != "" {
		fmt.Fprintf(&sb, "\n🔗 <code>%s</code>", sub.SubscriptionURL)
	}
	return sb.String()
}

func round2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}

// parsePanelRegistration splits the admin's "name base-url" message. The URL
// must parse and be http(s).
func parsePanelRegistration(text string) (name, baseURL string, err error) {
	fields := strings.Fields(text)
	if len(fields) < 2 {
		return "", "", fmt.Errorf("expected \"<name> <base-url>\", got %d fields", len(fields))
	}
	name = strings.Join(fields[:len(fields)-1], " ")
	baseURL = strings.TrimRight(fields[len(fields)-1], "/")

	u, err := url.Parse(baseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", "", fmt.Errorf("%q is not an http(s) URL", baseURL)
	}
	return name, baseURL, nil
}

// parsePanelCredentials splits the admin's "user:pass" message. The password
// may itself contain colons.
func parsePanelCredentials(text string) (username, password string, err error) {
	text = strings.TrimSpace(text)
	idx := strings.Index(text, ":")
	if idx <= 0 || idx == len(text)-1 {
		return "", "", fmt.Errorf("expected \"username:password\"")
	}
	return text[:idx], text[idx+1:], nil
}
