package constants

// Static route constants
const (
	WebhookRoute      = "/webhook"
	CheckoutRoute     = "/checkout"
	LicenseClaimRoute = "/license/claim"
	APIRoute          = "/api"
	APIVersion1       = "/v1"
	AdminRoute        = "/admin"
)
