// Package client is a typed binding of the vault relayer API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"github.com/payo-app/payo_vault/internal/auth"
	"github.com/payo-app/payo_vault/internal/vault"
)

const defaultTimeout = 30 * time.Second

// ErrUnauthenticated is returned for requests without a valid bearer token.
var ErrUnauthenticated = errors.New("unauthenticated")

// APIError is a non-2xx answer. It unwraps to the matching vault sentinel
// when the message names one.
type APIError struct {
	Status  int
	Message string
	err     error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("vault api: %d %s", e.Status, e.Message)
}

func (e *APIError) Unwrap() error { return e.err }

type Client struct {
	endpoint string
	http     *http.Client
	token    string
	newKey   func() string
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithToken sets the bearer token sent with every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithIdempotencyKeys overrides how Idempotency-Key values are generated.
func WithIdempotencyKeys(fn func() string) Option {
	return func(c *Client) { c.newKey = fn }
}

// New returns a client for the API rooted at endpoint, e.g.
// "http://localhost:8080".
func New(endpoint string, opts ...Option) *Client {
	c := &Client{
		endpoint: strings.TrimRight(endpoint, "/") + "/api/v1",
		http:     &http.Client{Timeout: defaultTimeout},
		newKey:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetToken replaces the bearer token.
func (c *Client) SetToken(token string) { c.token = token }

// IssueToken exchanges an API key for a bearer token. The client keeps
// using its current token; call SetToken to switch.
func (c *Client) IssueToken(ctx context.Context, addr common.Address, apiKey string) (auth.Token, error) {
	var out auth.Token
	body := map[string]string{"address": addr.Hex(), "api_key": apiKey}
	err := c.do(ctx, http.MethodPost, "/auth/token", body, &out)
	return out, err
}

func (c *Client) Initialize(ctx context.Context, relayer, token common.Address) error {
	return c.do(ctx, http.MethodPost, "/vault/initialize", vault.InitializeRequest{
		Relayer: relayer.Hex(),
		Token:   token.Hex(),
	}, nil)
}

func (c *Client) Deposit(ctx context.Context, key common.Hash, amount *uint256.Int) (vault.BalanceResponse, error) {
	return c.deposit(ctx, vault.DepositRequest{IDHash: key.Hex(), Amount: amount.Dec()})
}

// DepositFrom pulls the funds from payer instead of the caller.
func (c *Client) DepositFrom(ctx context.Context, payer common.Address, key common.Hash, amount *uint256.Int) (vault.BalanceResponse, error) {
	return c.deposit(ctx, vault.DepositRequest{IDHash: key.Hex(), Amount: amount.Dec(), Payer: payer.Hex()})
}

func (c *Client) deposit(ctx context.Context, req vault.DepositRequest) (vault.BalanceResponse, error) {
	var out vault.BalanceResponse
	err := c.do(ctx, http.MethodPost, "/vault/deposit", req, &out)
	return out, err
}

func (c *Client) Send(ctx context.Context, from, to common.Hash, amount *uint256.Int) (vault.SendResponse, error) {
	var out vault.SendResponse
	err := c.do(ctx, http.MethodPost, "/vault/send", vault.SendRequest{
		FromHash: from.Hex(),
		ToHash:   to.Hex(),
		Amount:   amount.Dec(),
	}, &out)
	return out, err
}

// Claim settles a transfer named by its hex id or claim code into recipient.
func (c *Client) Claim(ctx context.Context, transferID string, recipient common.Hash) (vault.TransferResponse, error) {
	var out vault.TransferResponse
	err := c.do(ctx, http.MethodPost, "/vault/claim", vault.ClaimRequest{
		TransferID:    transferID,
		RecipientHash: recipient.Hex(),
	}, &out)
	return out, err
}

func (c *Client) Refund(ctx context.Context, transferID string) (vault.TransferResponse, error) {
	var out vault.TransferResponse
	err := c.do(ctx, http.MethodPost, "/vault/refund", vault.RefundRequest{TransferID: transferID}, &out)
	return out, err
}

func (c *Client) Withdraw(ctx context.Context, key common.Hash, to common.Address, amount *uint256.Int) (vault.BalanceResponse, error) {
	var out vault.BalanceResponse
	err := c.do(ctx, http.MethodPost, "/vault/withdraw", vault.WithdrawRequest{
		IDHash: key.Hex(),
		To:     to.Hex(),
		Amount: amount.Dec(),
	}, &out)
	return out, err
}

func (c *Client) SetRelayer(ctx context.Context, relayer common.Address) error {
	return c.do(ctx, http.MethodPost, "/vault/relayer", vault.SetRelayerRequest{Relayer: relayer.Hex()}, nil)
}

func (c *Client) TransferOwnership(ctx context.Context, owner common.Address) error {
	return c.do(ctx, http.MethodPost, "/vault/owner", vault.TransferOwnershipRequest{Owner: owner.Hex()}, nil)
}

func (c *Client) Balance(ctx context.Context, key common.Hash) (vault.BalanceResponse, error) {
	var out vault.BalanceResponse
	err := c.do(ctx, http.MethodGet, "/vault/balances/"+key.Hex(), nil, &out)
	return out, err
}

// Transfer reads a transfer by hex id or claim code. Unknown ids come back
// with Exists false.
func (c *Client) Transfer(ctx context.Context, transferID string) (vault.TransferResponse, error) {
	var out vault.TransferResponse
	err := c.do(ctx, http.MethodGet, "/vault/transfers/"+url.PathEscape(transferID), nil, &out)
	return out, err
}

func (c *Client) Owner(ctx context.Context) (common.Address, error) {
	return c.role(ctx, "owner")
}

func (c *Client) Relayer(ctx context.Context) (common.Address, error) {
	return c.role(ctx, "relayer")
}

func (c *Client) role(ctx context.Context, name string) (common.Address, error) {
	var out map[string]string
	if err := c.do(ctx, http.MethodGet, "/vault/"+name, nil, &out); err != nil {
		return common.Address{}, err
	}
	if !common.IsHexAddress(out[name]) {
		return common.Address{}, fmt.Errorf("vault api: malformed %s %q", name, out[name])
	}
	return common.HexToAddress(out[name]), nil
}

// History returns the newest limit events touching key; limit <= 0 uses the
// server default.
func (c *Client) History(ctx context.Context, key common.Hash, limit int) (vault.HistoryResponse, error) {
	path := "/identities/" + key.Hex() + "/history"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out vault.HistoryResponse
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

func (c *Client) Solvency(ctx context.Context) (vault.SolvencyResponse, error) {
	var out vault.SolvencyResponse
	err := c.do(ctx, http.MethodGet, "/vault/solvency", nil, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if method != http.MethodGet {
		req.Header.Set("Idempotency-Key", c.newKey())
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp.StatusCode, raw)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeError(status int, raw []byte) error {
	var body struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(raw))
	if err := json.Unmarshal(raw, &body); err == nil && body.Error != "" {
		msg = body.Error
	}
	apiErr := &APIError{Status: status, Message: msg, err: vault.Lookup(msg)}
	if apiErr.err == nil && status == http.StatusUnauthorized {
		apiErr.err = ErrUnauthenticated
	}
	return apiErr
}
