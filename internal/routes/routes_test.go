package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/payo-app/payo_vault/internal/amount"
	"github.com/payo-app/payo_vault/internal/config"
	"github.com/payo-app/payo_vault/internal/identity"
	"github.com/payo-app/payo_vault/internal/ledger"
	"github.com/payo-app/payo_vault/internal/logging"
	"github.com/payo-app/payo_vault/internal/token"
	"github.com/payo-app/payo_vault/internal/vault"
)

var (
	tokenAddr   = common.HexToAddress("0x00000000000000000000000000000000000000d1")
	custodyAddr = common.HexToAddress("0x00000000000000000000000000000000000000c0")
	ownerAddr   = common.HexToAddress("0x00000000000000000000000000000000000000e1")
	relayerAddr = common.HexToAddress("0x00000000000000000000000000000000000000e2")
)

type testEnv struct {
	app   *fiber.App
	store ledger.Store
	tok   *token.Memory
	mr    *miniredis.Miniredis
}

func setupTestApp(t *testing.T) *testEnv {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		cache.Close()
		mr.Close()
	})

	hash, err := bcrypt.GenerateFromPassword([]byte("relayer-key"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash key: %v", err)
	}
	cfg := config.Config{
		AppEnv:         "test",
		JWTSecret:      "routes-test",
		AccessTokenTTL: time.Minute,
		IdempotencyTTL: time.Minute,
		APIKeys:        map[common.Address]string{relayerAddr: string(hash)},
	}

	store := ledger.NewInMemory()
	tok := token.NewMemory(tokenAddr, custodyAddr)
	tok.Mint(relayerAddr, amount.MustParse("1000"))
	tok.Approve(relayerAddr, amount.MustParse("1000"))
	v := vault.New(store, tok, logging.Discard())
	if err := v.Initialize(context.Background(), ownerAddr, relayerAddr, tokenAddr); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(logging.Discard())})
	if err := Setup(app, Deps{Cfg: cfg, Cache: cache, Logger: logging.Discard(), Store: store, Vault: v, Faucet: tok}); err != nil {
		t.Fatalf("setup: %v", err)
	}
	return &testEnv{app: app, store: store, tok: tok, mr: mr}
}

type call struct {
	method, path, bearer, key string
	body                      any
}

func (e *testEnv) do(t *testing.T, c call) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if c.body != nil {
		raw, err := json.Marshal(c.body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(c.method, c.path, reader)
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if c.bearer != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+c.bearer)
	}
	if c.key != "" {
		req.Header.Set("Idempotency-Key", c.key)
	}
	resp, err := e.app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()
	out := map[string]any{}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode %s %s: %v", c.method, c.path, err)
	}
	return resp.StatusCode, out
}

func (e *testEnv) login(t *testing.T) string {
	t.Helper()
	status, body := e.do(t, call{method: http.MethodPost, path: "/api/v1/auth/token",
		body: map[string]string{"address": relayerAddr.Hex(), "api_key": "relayer-key"}})
	if status != http.StatusOK {
		t.Fatalf("login: %d %v", status, body)
	}
	return body["access_token"].(string)
}

func TestRelayerFlowOverHTTP(t *testing.T) {
	env := setupTestApp(t)
	bearer := env.login(t)
	alice := identity.Hash("@alice").Hex()
	bob := identity.Hash("@bob").Hex()

	status, body := env.do(t, call{method: http.MethodPost, path: "/api/v1/vault/deposit", key: "dep-1",
		body: vault.DepositRequest{IDHash: alice, Amount: "100000000"}})
	if status != http.StatusUnauthorized {
		t.Fatalf("deposit without token: expected 401 got %d", status)
	}
	if body["error"] != "missing bearer token" {
		t.Fatalf("unexpected error body %v", body)
	}

	for i := 0; i < 2; i++ {
		status, body = env.do(t, call{method: http.MethodPost, path: "/api/v1/vault/deposit", bearer: bearer, key: "dep-1",
			body: vault.DepositRequest{IDHash: alice, Amount: "100000000"}})
		if status != http.StatusOK || body["balance"] != "100000000" {
			t.Fatalf("deposit attempt %d: %d %v", i, status, body)
		}
	}

	status, body = env.do(t, call{method: http.MethodPost, path: "/api/v1/vault/send", bearer: bearer, key: "send-1",
		body: vault.SendRequest{FromHash: alice, ToHash: bob, Amount: "40000000"}})
	if status != http.StatusCreated {
		t.Fatalf("send: %d %v", status, body)
	}
	code := body["claim_code"].(string)

	status, body = env.do(t, call{method: http.MethodPost, path: "/api/v1/vault/claim", bearer: bearer, key: "claim-1",
		body: vault.ClaimRequest{TransferID: code, RecipientHash: bob}})
	if status != http.StatusOK || body["status"] != "claimed" {
		t.Fatalf("claim: %d %v", status, body)
	}

	status, body = env.do(t, call{method: http.MethodPost, path: "/api/v1/vault/refund", bearer: bearer, key: "refund-1",
		body: vault.RefundRequest{TransferID: code}})
	if status != http.StatusConflict || body["error"] != vault.ErrTransferAlreadyClaimed.Error() {
		t.Fatalf("refund after claim: %d %v", status, body)
	}

	status, body = env.do(t, call{method: http.MethodGet, path: "/api/v1/vault/balances/" + alice})
	if status != http.StatusOK || body["balance"] != "60000000" {
		t.Fatalf("deposit replay must not credit twice: %d %v", status, body)
	}

	status, body = env.do(t, call{method: http.MethodGet, path: "/api/v1/vault/solvency"})
	if status != http.StatusOK || body["balanced"] != true || body["covered"] != true {
		t.Fatalf("solvency: %d %v", status, body)
	}

	status, body = env.do(t, call{method: http.MethodGet, path: "/api/v1/identities/" + bob + "/history"})
	if status != http.StatusOK || len(body["events"].([]any)) != 2 {
		t.Fatalf("history: %d %v", status, body)
	}
}

func TestOwnerOnlyRoutesRejectRelayer(t *testing.T) {
	env := setupTestApp(t)
	bearer := env.login(t)

	status, body := env.do(t, call{method: http.MethodPost, path: "/api/v1/vault/relayer", bearer: bearer, key: "r1",
		body: vault.SetRelayerRequest{Relayer: ownerAddr.Hex()}})
	if status != http.StatusForbidden || body["error"] != vault.ErrUnauthorized.Error() {
		t.Fatalf("set relayer as relayer: %d %v", status, body)
	}

	status, body = env.do(t, call{method: http.MethodGet, path: "/api/v1/vault/owner"})
	if status != http.StatusOK || body["owner"] != ownerAddr.Hex() {
		t.Fatalf("owner: %d %v", status, body)
	}
}

func TestPublicEndpoints(t *testing.T) {
	env := setupTestApp(t)

	status, body := env.do(t, call{method: http.MethodGet, path: "/healthz"})
	if status != http.StatusOK {
		t.Fatalf("healthz: %d %v", status, body)
	}
	checks := body["status"].(map[string]any)
	if checks["ledger"] != "ok" || checks["redis"] != "ok" {
		t.Fatalf("unexpected checks %v", checks)
	}

	status, body = env.do(t, call{method: http.MethodGet, path: "/api/v1/ping"})
	if status != http.StatusOK || body["request_id"] == "" {
		t.Fatalf("ping: %d %v", status, body)
	}

	status, body = env.do(t, call{method: http.MethodPost, path: "/api/v1/identity/hash",
		body: vault.HashRequest{Identifier: "@Alice"}})
	if status != http.StatusOK || body["id_hash"] != identity.Hash("alice").Hex() {
		t.Fatalf("hash: %d %v", status, body)
	}

	status, body = env.do(t, call{method: http.MethodPost, path: "/api/v1/faucet",
		body: map[string]any{"address": ownerAddr.Hex()}})
	if status != http.StatusOK || body["balance"] != "100000000" {
		t.Fatalf("faucet: %d %v", status, body)
	}

	status, body = env.do(t, call{method: http.MethodGet, path: "/api/v1/nope"})
	if status != http.StatusNotFound || body["error"] == nil {
		t.Fatalf("unknown route: %d %v", status, body)
	}
}

func TestAuthRateLimit(t *testing.T) {
	env := setupTestApp(t)
	var status int
	for i := 0; i <= authAttemptsPerMin; i++ {
		status, _ = env.do(t, call{method: http.MethodPost, path: "/api/v1/auth/token",
			body: map[string]string{"address": relayerAddr.Hex(), "api_key": "wrong"}})
	}
	if status != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after %d attempts, got %d", authAttemptsPerMin+1, status)
	}
}

func TestSetupRequiresVault(t *testing.T) {
	if err := Setup(fiber.New(), Deps{Cfg: config.Config{AppEnv: "test"}}); err == nil {
		t.Fatal("expected missing vault error")
	}
}
