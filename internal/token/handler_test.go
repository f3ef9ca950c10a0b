package token

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFaucetHandler(t *testing.T) {
	now := time.Unix(1700000000, 0)
	tok := NewMemory(tokenAddr, custodyAddr, WithClock(func() time.Time { return now }))
	h := NewFaucetHandler(tok)

	app := fiber.New()
	app.Post("/faucet", h.Drip)
	app.Get("/faucet/:address", h.Status)

	drip := func(body string) (int, faucetResponse) {
		req := httptest.NewRequest(http.MethodPost, "/faucet", strings.NewReader(body))
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		resp, err := app.Test(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		var out faucetResponse
		_ = json.NewDecoder(resp.Body).Decode(&out)
		return resp.StatusCode, out
	}

	status, out := drip(`{"address":"` + alice.Hex() + `","approve":true}`)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "100000000", out.Balance)
	assert.Equal(t, "100.000000", out.Formatted)
	assert.Equal(t, "100000000", out.Allowance)
	assert.Equal(t, int64(3600), out.CooldownSeconds)

	status, _ = drip(`{"address":"` + alice.Hex() + `"}`)
	assert.Equal(t, http.StatusTooManyRequests, status)

	status, _ = drip(`{"address":"nope"}`)
	assert.Equal(t, http.StatusBadRequest, status)

	now = now.Add(FaucetCooldown)
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/faucet/"+alice.Hex(), nil))
	require.NoError(t, err)
	var st faucetResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	assert.Zero(t, st.CooldownSeconds)
	assert.Empty(t, st.Dripped)

	status, out = drip(`{"address":"` + bob.Hex() + `"}`)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "0", out.Allowance)
}
