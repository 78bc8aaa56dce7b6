// middleware/admin_auth.go
package middleware

import (
	"log"
	"os"

	"github.com/gofiber/fiber/v2"
)

// UpdateTokenMiddleware guards the batch-update trigger with a shared secret.
// The external cron sends the token either as X-Update-Token or as ?token=.
func UpdateTokenMiddleware() fiber.Handler {
	expectedToken := os.Getenv("UPDATE_TOKEN")
	if expectedToken == "" {
		log.Fatal("❌ UPDATE_TOKEN is not set — batch update endpoint cannot be secured")
	}

	return func(c *fiber.Ctx) error {
		token := c.Get("X-Update-Token")
		if token == "" {
			token = c.Query("token")
		}

		if token != expectedToken {
			log.Printf("🚫 [ADMIN_AUTH] Invalid update token for %s", c.Path())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid update token provided",
			})
		}

		return c.Next()
	}
}
