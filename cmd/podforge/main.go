package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/podforge/podforge/app/controllers"
	"github.com/podforge/podforge/app/repository"
	"github.com/podforge/podforge/internal/pkg/archive"
	"github.com/podforge/podforge/internal/pkg/billing"
	"github.com/podforge/podforge/internal/pkg/cache"
	"github.com/podforge/podforge/internal/pkg/credentials"
	"github.com/podforge/podforge/internal/pkg/database"
	"github.com/podforge/podforge/internal/pkg/env"
	"github.com/podforge/podforge/internal/pkg/quota"
	"github.com/podforge/podforge/internal/pkg/router"
)

func main() {
	app := NewApplication()
	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	log.Fatal(err)
}

func NewApplication() *fiber.App {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	db := database.GetDB()
	repository.InitializeFactory(db)

	// Billing services: credential store feeds the gateway registry, the
	// state machine owns all subscription writes, the guard meters usage.
	store := credentials.NewStore(db)
	registry := billing.NewRegistry(store.BuildGateways()...)
	stateMachine := billing.NewStateMachine(billing.NewRepository(db), registry)
	stateMachine.OnChange(cache.InvalidateSubscription)
	guard := quota.NewGuard(quota.NewRepository(db))
	guard.OnConsume(cache.InvalidateSubscription)

	if archiver := archive.SetupArchiver(); archiver != nil {
		stateMachine.OnVerified(func(provider billing.Provider, eventID string, rawBody []byte) {
			if _, err := archiver.StorePayload(context.Background(), string(provider), eventID, rawBody); err != nil {
				log.Printf("webhook archive failed for %s/%s: %v", provider, eventID, err)
			}
		})
	}

	controllers.Setup(stateMachine, guard, store, registry)

	// Find the correct base path for the bundled OpenAPI document
	basePaths := []string{
		"./",        // Current directory
		"../../",    // From cmd/podforge to project root
		"../../../", // Fallback
	}
	basePath := ""
	for _, path := range basePaths {
		if _, err := os.Stat(path + "docs"); !os.IsNotExist(err) {
			basePath = path
			break
		}
	}
	if basePath == "" {
		panic("Could not find project root directory")
	}

	// init fiber app
	app := fiber.New(fiber.Config{
		BodyLimit: 1 * 1024 * 1024, // webhook payloads are small
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// fiber metrics
	app.Get("/metrics", basicauth.New(basicauth.Config{
		Users: map[string]string{
			env.GetEnv("METRICS_USER", "admin"): env.GetEnv("METRICS_PASSWORD", "test"),
		},
	}), monitor.New())

	// SWAGGER / OPENAPI
	openAPICfg := swagger.Config{
		BasePath: "/docs/api/",
		FilePath: basePath + "docs/openapi.yml",
		Path:     "v1",
	}
	app.Use(swagger.New(openAPICfg))

	// ROUTER
	router.InstallRouter(app, guard)

	return app
}
