package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	// ErrClosed is returned by stores used after Close.
	ErrClosed = errors.New("ledger store closed")
)

const (
	// DefaultHistoryLimit matches the page size used by the web wallet.
	DefaultHistoryLimit = 10
	// MaxHistoryLimit caps a single history read.
	MaxHistoryLimit = 100
)

// TransferStatus is the position of a transfer in its lifecycle. Pending is
// the only state with outgoing transitions; Claimed and Refunded are terminal
// and mutually exclusive.
type TransferStatus uint8

const (
	TransferNonExistent TransferStatus = iota
	TransferPending
	TransferClaimed
	TransferRefunded
)

func (s TransferStatus) String() string {
	switch s {
	case TransferPending:
		return "pending"
	case TransferClaimed:
		return "claimed"
	case TransferRefunded:
		return "refunded"
	default:
		return "nonexistent"
	}
}

// Roles is the access-control root of the vault.
type Roles struct {
	Owner       common.Address
	Relayer     common.Address
	Token       common.Address
	Initialized bool
}

// Transfer is a send held by the registry until it is claimed or refunded.
type Transfer struct {
	ID       common.Hash
	FromHash common.Hash
	ToHash   common.Hash
	Amount   uint256.Int
	Status   TransferStatus
	// SettledTo is the identity credited when the transfer left Pending: the
	// claimer for Claimed, the sender for Refunded.
	SettledTo common.Hash
	CreatedAt time.Time
	SettledAt time.Time
}

// Exists reports whether the record was ever created.
func (t Transfer) Exists() bool { return t.Status != TransferNonExistent }

// Claimed reports whether the funds were claimed.
func (t Transfer) Claimed() bool { return t.Status == TransferClaimed }

// Pending reports whether the funds are still held by the registry.
func (t Transfer) Pending() bool { return t.Status == TransferPending }

// Supply tracks the vault-wide counters used to check conservation:
// sum(balances) + Pending == Deposited - Withdrawn.
type Supply struct {
	Deposited uint256.Int
	Withdrawn uint256.Int
	Pending   uint256.Int
}

// Custodied is the amount the vault should hold in the external token.
func (s Supply) Custodied() *uint256.Int {
	return new(uint256.Int).Sub(&s.Deposited, &s.Withdrawn)
}

// Liabilities is the spendable total across every balance.
func (s Supply) Liabilities() *uint256.Int {
	return new(uint256.Int).Sub(s.Custodied(), &s.Pending)
}

// EventKind names an outbox event.
type EventKind string

const (
	EventInitialized          EventKind = "Initialized"
	EventDeposited            EventKind = "Deposited"
	EventSent                 EventKind = "Sent"
	EventClaimed              EventKind = "Claimed"
	EventRefunded             EventKind = "Refunded"
	EventWithdrawn            EventKind = "Withdrawn"
	EventRelayerChanged       EventKind = "RelayerChanged"
	EventOwnershipTransferred EventKind = "OwnershipTransferred"
)

// Event is an outbox record written in the same transition as the state
// change it describes. Seq is assigned by the store and is strictly
// increasing.
type Event struct {
	Seq        uint64
	Kind       EventKind
	TransferID common.Hash
	IDHash     common.Hash
	FromHash   common.Hash
	ToHash     common.Hash
	Address    common.Address
	Amount     uint256.Int
	// TxHash names a token transfer that was broadcast but not yet
	// confirmed when the transition committed.
	TxHash common.Hash
	At     time.Time
}

// Touches reports whether the event concerns the identity key.
func (e Event) Touches(key common.Hash) bool {
	if key == (common.Hash{}) {
		return false
	}
	return key == e.IDHash || key == e.FromHash || key == e.ToHash
}

// Reader exposes read-only vault state.
type Reader interface {
	Roles() (Roles, error)
	// Balance returns zero for unknown keys.
	Balance(key common.Hash) (uint256.Int, error)
	// Transfer returns a zero record with status TransferNonExistent for
	// unknown ids.
	Transfer(id common.Hash) (Transfer, error)
	Supply() (Supply, error)
	// TotalBalances sums every spendable balance.
	TotalBalances() (uint256.Int, error)
	// History lists events touching key, newest first.
	History(key common.Hash, limit int) ([]Event, error)
}

// Tx is a single atomic state transition. Writes become visible to other
// callers only if the Update callback returns nil.
type Tx interface {
	Reader
	SetRoles(r Roles) error
	SetBalance(key common.Hash, amount *uint256.Int) error
	PutTransfer(t Transfer) error
	SetSupply(s Supply) error
	// NextNonce returns the current nonce and advances it.
	NextNonce() (uint64, error)
	Append(e Event) error
}

// Store persists vault state. Update calls are serialized: no two
// transitions interleave.
type Store interface {
	View(ctx context.Context, fn func(Reader) error) error
	// Update honours ctx only until fn starts. Once fn returns nil the
	// transition commits even if ctx is cancelled, since fn may already
	// have moved tokens.
	Update(ctx context.Context, fn func(Tx) error) error
	// Undelivered returns outbox events not yet marked delivered, oldest
	// first.
	Undelivered(ctx context.Context, limit int) ([]Event, error)
	MarkDelivered(ctx context.Context, seqs []uint64) error
	Close() error
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		return MaxHistoryLimit
	}
	return limit
}
