package vault

import (
	"errors"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrUnauthorized           = errors.New("unauthorized")
	ErrInsufficientBalance    = errors.New("insufficient balance")
	ErrInvalidAmount          = errors.New("invalid amount")
	ErrInvalidAddress         = errors.New("invalid address")
	ErrTransferNotFound       = errors.New("transfer not found")
	ErrTransferAlreadyClaimed = errors.New("transfer already claimed")
	ErrTransferRefunded       = errors.New("transfer refunded")
	// ErrTransferFailed wraps the token error that aborted a deposit or
	// withdrawal.
	ErrTransferFailed     = errors.New("token transfer failed")
	ErrAlreadyInitialized = errors.New("vault already initialized")
	ErrNotInitialized     = errors.New("vault not initialized")
	// ErrReentrantCall is returned when a token callback tries to mutate the
	// vault while a transition is in flight.
	ErrReentrantCall = errors.New("reentrant call")
	// ErrTokenMismatch means the vault was wired to a token other than the
	// one it was initialized with.
	ErrTokenMismatch = errors.New("token does not match vault configuration")
	// ErrTransferPending is matched by PendingError. It is not a failure:
	// the transition committed.
	ErrTransferPending = errors.New("token transfer pending confirmation")
)

// PendingError reports a deposit or withdrawal that committed while its
// token transaction was still unconfirmed. The caller must not retry it.
type PendingError struct {
	TxHash common.Hash
}

func (e *PendingError) Error() string {
	return ErrTransferPending.Error() + ": tx " + e.TxHash.Hex()
}

func (e *PendingError) Is(target error) bool { return target == ErrTransferPending }

var sentinels = []error{
	ErrUnauthorized,
	ErrInsufficientBalance,
	ErrInvalidAmount,
	ErrInvalidAddress,
	ErrTransferNotFound,
	ErrTransferAlreadyClaimed,
	ErrTransferRefunded,
	ErrTransferFailed,
	ErrAlreadyInitialized,
	ErrNotInitialized,
	ErrReentrantCall,
	ErrTokenMismatch,
}

// Status maps a vault error to the HTTP status the API reports for it.
func Status(err error) int {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, ErrInsufficientBalance),
		errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrInvalidAddress):
		return http.StatusBadRequest
	case errors.Is(err, ErrTransferNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrTransferAlreadyClaimed),
		errors.Is(err, ErrTransferRefunded),
		errors.Is(err, ErrAlreadyInitialized),
		errors.Is(err, ErrNotInitialized),
		errors.Is(err, ErrReentrantCall):
		return http.StatusConflict
	case errors.Is(err, ErrTransferFailed):
		return http.StatusBadGateway
	case errors.Is(err, ErrTransferPending):
		return http.StatusAccepted
	default:
		return http.StatusInternalServerError
	}
}

// Lookup returns the sentinel whose message prefixes msg, or nil. Clients use
// it to turn an error body back into something errors.Is understands.
func Lookup(msg string) error {
	for _, s := range sentinels {
		if msg == s.Error() || strings.HasPrefix(msg, s.Error()+":") {
			return s
		}
	}
	return nil
}
