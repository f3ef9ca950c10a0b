package routes

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/payo-app/payo_vault/internal/auth"
	"github.com/payo-app/payo_vault/internal/config"
	"github.com/payo-app/payo_vault/internal/ledger"
	"github.com/payo-app/payo_vault/internal/middleware"
	"github.com/payo-app/payo_vault/internal/token"
	"github.com/payo-app/payo_vault/internal/vault"
)

const (
	authAttemptsPerMin   = 5
	faucetRequestsPerMin = 3
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Logger *slog.Logger
	Store  ledger.Store
	Vault  *vault.Vault
	// Faucet is set only when the vault runs against the in-memory token.
	Faucet *token.Memory
	// AccessLog enables the plain text access log.
	AccessLog bool
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	if d.Vault == nil || d.Store == nil {
		return errors.New("vault and store are required")
	}
	// Enforce Redis presence outside of dev, even though config also checks.
	if !d.Cfg.IsDev() && d.Cache == nil {
		return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
	}
	if d.Logger == nil {
		d.Logger = slog.New(slog.DiscardHandler)
	}

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	if d.AccessLog {
		// Plain text access log in desired format: [HH:MM:SS] 200 -  145ms METHOD /path
		app.Use(logger.New(logger.Config{
			Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
			TimeFormat: "15:04:05",
			TimeZone:   "Local",
		}))
	}
	app.Use(middleware.Audit(d.Logger))

	RegisterHealthRoutes(app, d)

	authSvc := auth.NewService(d.Cfg)
	vaultHandler := vault.NewHandler(d.Vault, d.Logger)

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": middleware.RequestIDFrom(c),
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	RegisterAuthRoutes(api, auth.NewHandler(authSvc),
		middleware.RateLimit(d.Cache, "auth", authAttemptsPerMin, middleware.BodyField("address")))

	// Mutations carry the caller from the bearer token; retries replay via
	// Idempotency-Key.
	guard := []fiber.Handler{
		middleware.CallerAuth(authSvc),
		middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger),
	}
	RegisterVaultRoutes(api, vaultHandler, guard)
	RegisterIdentityRoutes(api, vaultHandler)

	if d.Faucet != nil && d.Cfg.IsDev() {
		RegisterFaucetRoutes(api, token.NewFaucetHandler(d.Faucet),
			middleware.RateLimit(d.Cache, "faucet", faucetRequestsPerMin, middleware.ClientIP))
	}

	return nil
}

// ErrorHandler renders every error as {"error": message}.
func ErrorHandler(logger *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		var fe *fiber.Error
		if errors.As(err, &fe) {
			code = fe.Code
		} else if logger != nil {
			logger.Error("unhandled error", slog.String("path", c.Path()), slog.Any("error", err))
		}
		return c.Status(code).JSON(fiber.Map{"error": err.Error()})
	}
}
