package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/licensefox/licensefox/app/controllers"
	"github.com/licensefox/licensefox/internal/pkg/constants"
)

type HttpRouter struct {
}

// InstallRouter registers the provider-facing endpoints. Webhooks carry
// their own signature authentication, so no middleware runs ahead of them;
// the raw body must reach the handler untouched.
func (h HttpRouter) InstallRouter(app *fiber.App) {
	app.Post(constants.WebhookRoute+"/:provider", controllers.HandleProviderWebhook)

	app.Post(constants.CheckoutRoute+"/:provider", controllers.HandleCreateCheckout)
	app.Post(constants.CheckoutRoute+"/:provider/verify", controllers.HandleVerifyCheckout)

	app.Get(constants.LicenseClaimRoute, controllers.HandleLicenseClaim)
}

func NewHttpRouter() *HttpRouter {
	return &HttpRouter{}
}
