package auth

import (
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/payo-app/payo_vault/internal/config"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

// Service issues and verifies caller tokens. A token's subject is the
// address the vault sees as the caller.
type Service struct {
	secret []byte
	ttl    time.Duration
	keys   map[common.Address]string
	now    func() time.Time
}

func NewService(cfg config.Config) *Service {
	return &Service{
		secret: []byte(cfg.JWTSecret),
		ttl:    cfg.AccessTokenTTL,
		keys:   cfg.APIKeys,
		now:    time.Now,
	}
}

type Token struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	Caller      string `json:"caller"`
}

// Authenticate checks apiKey against the bcrypt hash configured for addr and
// issues a token on success.
func (s *Service) Authenticate(addr common.Address, apiKey string) (Token, error) {
	hash, ok := s.keys[addr]
	if !ok || apiKey == "" {
		return Token{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(apiKey)); err != nil {
		return Token{}, ErrInvalidCredentials
	}
	return s.Issue(addr)
}

// Issue signs an access token for addr without checking credentials.
func (s *Service) Issue(addr common.Address) (Token, error) {
	now := s.now()
	claims := map[string]any{
		"sub": addr.Hex(),
		"jti": uuid.NewString(),
		"iat": now.Unix(),
		"exp": now.Add(s.ttl).Unix(),
	}
	signed, err := SignHS256(claims, s.secret)
	if err != nil {
		return Token{}, err
	}
	return Token{
		AccessToken: signed,
		TokenType:   "Bearer",
		ExpiresIn:   int64(s.ttl.Seconds()),
		Caller:      addr.Hex(),
	}, nil
}

// Verify returns the caller address carried by a valid, unexpired token.
func (s *Service) Verify(token string) (common.Address, error) {
	claims, err := ParseAndVerifyHS256(token, s.secret, s.now())
	if err != nil {
		return common.Address{}, err
	}
	sub, _ := claims["sub"].(string)
	if !common.IsHexAddress(sub) {
		return common.Address{}, ErrInvalidToken
	}
	return common.HexToAddress(sub), nil
}

// HashAPIKey returns the bcrypt hash to place in API_KEYS for key.
func HashAPIKey(key string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}
