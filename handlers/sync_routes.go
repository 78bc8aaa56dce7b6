// handlers/sync_routes.go
package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/Ameobea/quavertrack/middleware"
	"github.com/Ameobea/quavertrack/services"
)

func SetupSyncRoutes(app *fiber.App, syncService *services.SyncService) {
	api := app.Group("/api")

	// 🔓 Public routes
	api.Post("/update/:user", syncService.HandleUpdate)
	api.Get("/user/:user/:mode/scores", syncService.HandleGetScores)
	api.Get("/user/:user/:mode/stats_history", syncService.HandleGetStatsHistory)

	// 🔐 Batch trigger — hit by external cron, guarded by the update token
	api.Post("/update_oldest", middleware.UpdateTokenMiddleware(), syncService.HandleUpdateOldest)
}
