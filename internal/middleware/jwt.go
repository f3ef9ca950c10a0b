package middleware

import (
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gofiber/fiber/v2"
)

// CallerKey is the fiber Locals key holding the authenticated caller address.
const CallerKey = "caller"

// TokenVerifier resolves a bearer token to the caller address it names.
type TokenVerifier interface {
	Verify(token string) (common.Address, error)
}

// CallerAuth validates bearer tokens and stores the caller address in Locals.
func CallerAuth(verifier TokenVerifier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authz := c.Get(fiber.HeaderAuthorization)
		if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			return fiber.NewError(http.StatusUnauthorized, "missing bearer token")
		}
		tokenStr := strings.TrimSpace(authz[len("Bearer "):])
		addr, err := verifier.Verify(tokenStr)
		if err != nil {
			return fiber.NewError(http.StatusUnauthorized, err.Error())
		}

		c.Locals(CallerKey, addr)
		return c.Next()
	}
}
