package httpapi

import (
	"github.com/crowdsense/crowdsense-worker/internal/reward"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"go.uber.org/zap"
)

// IdentityHeader carries the contributor's verified wallet address, set by the gateway
const IdentityHeader = "X-World-ID-Address"

const localsAddress = "world_id_address"

// IdentityMiddleware attaches the caller's normalized address to the request.
// When required is true, requests without one are rejected.
func IdentityMiddleware(logger *zap.Logger, required bool) fiber.Handler {
	return func(c *fiber.Ctx) error {
		// header values alias the request buffer, which fasthttp reuses
		addr := reward.NormalizeAddress(utils.CopyString(c.Get(IdentityHeader)))
		if required && addr == "" {
			logger.Warn("missing identity on secured route",
				zap.String("path", c.Path()),
				zap.String("method", c.Method()),
			)
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing " + IdentityHeader + " header",
			})
		}

		c.Locals(localsAddress, addr)
		return c.Next()
	}
}

func callerAddress(c *fiber.Ctx) string {
	addr, _ := c.Locals(localsAddress).(string)
	return addr
}
