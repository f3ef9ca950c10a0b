package middleware

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

type staticVerifier map[string]common.Address

func (v staticVerifier) Verify(token string) (common.Address, error) {
	addr, ok := v[token]
	if !ok {
		return common.Address{}, errors.New("invalid token")
	}
	return addr, nil
}

func TestCallerAuth(t *testing.T) {
	relayer := common.HexToAddress("0x00000000000000000000000000000000000000e2")
	app := fiber.New()
	app.Use(CallerAuth(staticVerifier{"good": relayer}))
	app.Get("/whoami", func(c *fiber.Ctx) error {
		return c.SendString(c.Locals(CallerKey).(common.Address).Hex())
	})

	for token, want := range map[string]int{"": 401, "bad": 401, "good": 200} {
		req := httptest.NewRequest(fiber.MethodGet, "/whoami", nil)
		if token != "" {
			req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
		}
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("app.Test: %v", err)
		}
		if resp.StatusCode != want {
			t.Fatalf("token %q: expected %d got %d", token, want, resp.StatusCode)
		}
	}
}

func TestRateLimitPerKey(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer cache.Close()

	app := fiber.New()
	app.Post("/auth/token", RateLimit(cache, "auth", 2, BodyField("address")), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	send := func(addr string) int {
		req := httptest.NewRequest(fiber.MethodPost, "/auth/token", strings.NewReader(`{"address":"`+addr+`"}`))
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("app.Test: %v", err)
		}
		return resp.StatusCode
	}

	for i := 0; i < 2; i++ {
		if got := send("0xA"); got != fiber.StatusOK {
			t.Fatalf("attempt %d: expected 200 got %d", i, got)
		}
	}
	if got := send("0xa"); got != fiber.StatusTooManyRequests {
		t.Fatalf("expected 429 got %d", got)
	}
	if got := send("0xb"); got != fiber.StatusOK {
		t.Fatalf("other keys should not be limited, got %d", got)
	}

	mr.FastForward(61 * time.Second)
	if got := send("0xa"); got != fiber.StatusOK {
		t.Fatalf("window should reset, got %d", got)
	}
}

func TestRateLimitFailsOpen(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer cache.Close()
	mr.Close()

	app := fiber.New()
	app.Get("/faucet/x", RateLimit(cache, "faucet", 1, ClientIP), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})
	for i := 0; i < 3; i++ {
		resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/faucet/x", nil))
		if err != nil {
			t.Fatalf("app.Test: %v", err)
		}
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("expected fail-open 200 got %d", resp.StatusCode)
		}
	}
}

func TestRequestID(t *testing.T) {
	app := fiber.New()
	app.Use(RequestID())
	app.Get("/", func(c *fiber.Ctx) error {
		return c.SendString(RequestIDFrom(c))
	})

	cases := map[string]bool{
		"relayer-retry-7": true,
		"":                false,
		"has space":       false,
		strings.Repeat("a", maxRequestIDLen+1): false,
	}
	for inbound, echoed := range cases {
		req := httptest.NewRequest(fiber.MethodGet, "/", nil)
		if inbound != "" {
			req.Header.Set(RequestIDHeader, inbound)
		}
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("app.Test: %v", err)
		}
		got := resp.Header.Get(RequestIDHeader)
		if got == "" {
			t.Fatalf("%q: no request id assigned", inbound)
		}
		if (got == inbound) != echoed {
			t.Fatalf("%q: echoed=%v, got %q", inbound, echoed, got)
		}
	}
}

func TestAuditLogsCallerAndStatus(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	caller := common.HexToAddress("0x00000000000000000000000000000000000000e2")

	app := fiber.New()
	app.Use(RequestID(), Audit(logger))
	app.Post("/vault/claim", func(c *fiber.Ctx) error {
		c.Locals(CallerKey, caller)
		return fiber.NewError(fiber.StatusConflict, "transfer already settled")
	})

	req := httptest.NewRequest(fiber.MethodPost, "/vault/claim", nil)
	req.Header.Set(RequestIDHeader, "req-1")
	if _, err := app.Test(req); err != nil {
		t.Fatalf("app.Test: %v", err)
	}

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode audit line %q: %v", buf.String(), err)
	}
	if line["level"] != "WARN" || line["status"] != float64(fiber.StatusConflict) {
		t.Fatalf("unexpected level/status: %v", line)
	}
	if line["caller"] != caller.Hex() || line["request_id"] != "req-1" {
		t.Fatalf("missing caller or request id: %v", line)
	}
}
