package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/podforge/podforge/internal/pkg/quota"
)

// Router installs one slice of the route surface onto the app.
type Router interface {
	InstallRouter(app *fiber.App)
}

func InstallRouter(app *fiber.App, guard *quota.Guard) {
	setup(app, NewApiRouter(guard))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
