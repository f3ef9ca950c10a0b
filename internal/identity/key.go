package identity

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// WalletPrefix marks identifiers that name an on-chain wallet rather than a
// messaging account.
const WalletPrefix = "wallet:"

// Key is the ledger address of an identity: keccak256 of the normalized
// identifier. The ledger never sees the pre-image.
type Key = common.Hash

// Normalize lower-cases the identifier and strips a single leading '@'.
// Whitespace is left untouched; callers sanitize input before hashing.
func Normalize(identifier string) string {
	return strings.TrimPrefix(strings.ToLower(identifier), "@")
}

// Hash derives the identity key for a messaging username or a wallet
// identifier. Changing this rule orphans every stored balance.
func Hash(identifier string) Key {
	return crypto.Keccak256Hash([]byte(Normalize(identifier)))
}

// WalletIdentifier renders the identifier used for balances owned by a
// connected wallet.
func WalletIdentifier(addr common.Address) string {
	return WalletPrefix + strings.ToLower(addr.Hex())
}

// HashWallet is Hash(WalletIdentifier(addr)).
func HashWallet(addr common.Address) Key {
	return Hash(WalletIdentifier(addr))
}

// ParseKey decodes a 0x-prefixed 32 byte hex string.
func ParseKey(s string) (Key, error) {
	raw, err := hexutil.Decode(s)
	if err != nil {
		return Key{}, fmt.Errorf("parse identity key: %w", err)
	}
	if len(raw) != common.HashLength {
		return Key{}, fmt.Errorf("parse identity key: want %d bytes, got %d", common.HashLength, len(raw))
	}
	return common.BytesToHash(raw), nil
}

// ParseAddress decodes a 0x-prefixed 20 byte hex address.
func ParseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) || !strings.HasPrefix(strings.ToLower(s), "0x") {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

// Resolve accepts either a pre-hashed key or a raw identifier and returns the
// key. Strings that decode as a 32 byte hex value are treated as keys.
func Resolve(s string) Key {
	if k, err := ParseKey(s); err == nil {
		return k
	}
	return Hash(s)
}
