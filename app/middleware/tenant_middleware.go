package middleware

import (
	"regexp"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
)

const (
	TenantHeader = "X-Tenant-ID"
	tenantKey    = "tenant_id"
)

var tenantPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// RequireTenant rejects requests without a usable tenant header and stores
// the tenant id for TenantID. The id outlives the request (stored documents,
// queued runs), so it is copied out of fiber's reused request buffer.
func RequireTenant() fiber.Handler {
	return func(c *fiber.Ctx) error {
		tenant := utils.CopyString(strings.TrimSpace(c.Get(TenantHeader)))
		if tenant == "" {
			return fiber.NewError(fiber.StatusBadRequest, "missing "+TenantHeader+" header")
		}
		if !tenantPattern.MatchString(tenant) {
			return fiber.NewError(fiber.StatusBadRequest, "invalid "+TenantHeader+" header")
		}
		c.Locals(tenantKey, tenant)
		return c.Next()
	}
}

func TenantID(c *fiber.Ctx) string {
	tenant, _ := c.Locals(tenantKey).(string)
	return tenant
}
