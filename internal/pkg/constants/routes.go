package constants

// Static route constants
const (
	APIBaseRoute         = "/api/v1"
	HealthRoute          = "/up"
	PaymentCallbackRoute = "/payment/callback"
	DocsRoute            = "/docs/api"
)
