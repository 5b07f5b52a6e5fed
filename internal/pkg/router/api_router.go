package router

import (
	apiv1 "github.com/licensefox/licensefox/internal/api/v1"
	"github.com/licensefox/licensefox/internal/pkg/middleware"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New())

	// API v1 routes
	v1 := api.Group("/v1")
	apiServer := apiv1.NewAPIServer()

	v1.Get("/ping", apiServer.GetPing)
	v1.Get("/licenses/:key", apiServer.GetLicense)

	// Administrative lifecycle transitions, API-key protected
	admin := v1.Group("/admin", middleware.AdminKeyAuthMiddleware())
	admin.Get("/licenses", apiServer.ListLicenses)
	admin.Post("/licenses/:id/suspend", apiServer.SuspendLicense)
	admin.Post("/licenses/:id/revoke", apiServer.RevokeLicense)
	admin.Post("/licenses/:id/resume", apiServer.ResumeLicense)
	admin.Post("/subscriptions/:id/cancel", apiServer.CancelSubscription)
	admin.Get("/stats", apiServer.GetStats)
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}
