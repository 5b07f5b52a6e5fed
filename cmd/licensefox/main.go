package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/licensefox/licensefox/app/controllers"
	"github.com/licensefox/licensefox/app/repository"
	"github.com/licensefox/licensefox/internal/pkg/cache"
	"github.com/licensefox/licensefox/internal/pkg/database"
	"github.com/licensefox/licensefox/internal/pkg/env"
	"github.com/licensefox/licensefox/internal/pkg/licensing"
	"github.com/licensefox/licensefox/internal/pkg/metrics/counter"
	"github.com/licensefox/licensefox/internal/pkg/payments"
	"github.com/licensefox/licensefox/internal/pkg/router"
)

func main() {
	app := NewApplication()

	startStatusSweeper()

	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	log.Fatal(err)
}

func NewApplication() *fiber.App {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	repository.InitializeFactory(database.GetDB())

	controllers.SetProviderRegistry(payments.NewRegistry(
		payments.NewStripeProviderFromEnv(),
		payments.NewRazorpayProviderFromEnv(),
	))

	// init fiber app
	app := fiber.New(fiber.Config{
		AppName: "licensefox",
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// fiber metrics
	app.Get("/metrics", basicauth.New(basicauth.Config{
		Users: map[string]string{
			env.GetEnv("METRICS_USER", "admin"): env.GetEnv("METRICS_PASSWORD", "admin"),
		},
	}), monitor.New())

	// ROUTER
	router.InstallRouter(app)

	return app
}

// startStatusSweeper runs the hourly license status sweep. It moves
// active licenses past their paid-through date into grace period and
// grace-period licenses past the grace window into expired.
func startStatusSweeper() {
	interval := time.Duration(env.GetEnvInt("STATUS_SWEEP_INTERVAL_MINUTES", 60)) * time.Minute
	svc := licensing.NewService(
		repository.GetGlobalFactory().GetLicenseRepository(),
		licensing.PolicyFromEnv(),
	)

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for range ticker.C {
			if err := counter.FlushAll(); err != nil {
				log.Printf("[Sweeper] counter flush failed: %v", err)
			}

			n, err := svc.SweepStatuses(context.Background(), time.Now())
			if err != nil {
				log.Printf("[Sweeper] status sweep failed: %v", err)
				continue
			}
			if n > 0 {
				log.Printf("[Sweeper] transitioned %d license(s)", n)
			}
		}
	}()
}
