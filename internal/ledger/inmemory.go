package ledger

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

type memState struct {
	roles     Roles
	balances  map[common.Hash]uint256.Int
	transfers map[common.Hash]Transfer
	supply    Supply
	nonce     uint64
	events    []Event
	delivered map[uint64]struct{}
}

type inMemoryStore struct {
	mu     sync.RWMutex
	state  memState
	closed bool
}

// NewInMemory creates a concurrency-safe in-memory store useful for unit tests
// and the development server.
func NewInMemory() Store {
	return &inMemoryStore{
		state: memState{
			balances:  make(map[common.Hash]uint256.Int),
			transfers: make(map[common.Hash]Transfer),
			delivered: make(map[uint64]struct{}),
		},
	}
}

func (s *inMemoryStore) View(ctx context.Context, fn func(Reader) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return fn(&memTx{base: &s.state})
}

// Update runs fn against an overlay of the committed state. The overlay is
// folded into the state only when fn succeeds.
func (s *inMemoryStore) Update(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	tx := newMemTx(&s.state)
	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (s *inMemoryStore) Undelivered(ctx context.Context, limit int) ([]Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	if limit <= 0 {
		limit = MaxHistoryLimit
	}
	out := make([]Event, 0, limit)
	for _, e := range s.state.events {
		if _, ok := s.state.delivered[e.Seq]; ok {
			continue
		}
		out = append(out, e)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *inMemoryStore) MarkDelivered(ctx context.Context, seqs []uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	for _, seq := range seqs {
		s.state.delivered[seq] = struct{}{}
	}
	return nil
}

func (s *inMemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// memTx reads through to base and buffers writes. A memTx with nil write
// maps is a read-only view.
type memTx struct {
	base *memState

	roles     *Roles
	supply    *Supply
	nonce     *uint64
	balances  map[common.Hash]uint256.Int
	transfers map[common.Hash]Transfer
	events    []Event
}

func newMemTx(base *memState) *memTx {
	return &memTx{
		base:      base,
		balances:  make(map[common.Hash]uint256.Int),
		transfers: make(map[common.Hash]Transfer),
	}
}

func (t *memTx) Roles() (Roles, error) {
	if t.roles != nil {
		return *t.roles, nil
	}
	return t.base.roles, nil
}

func (t *memTx) Balance(key common.Hash) (uint256.Int, error) {
	if v, ok := t.balances[key]; ok {
		return v, nil
	}
	return t.base.balances[key], nil
}

func (t *memTx) Transfer(id common.Hash) (Transfer, error) {
	if tr, ok := t.transfers[id]; ok {
		return tr, nil
	}
	return t.base.transfers[id], nil
}

func (t *memTx) TotalBalances() (uint256.Int, error) {
	var total uint256.Int
	for k, v := range t.base.balances {
		if _, ok := t.balances[k]; ok {
			continue
		}
		total.Add(&total, &v)
	}
	for _, v := range t.balances {
		total.Add(&total, &v)
	}
	return total, nil
}

func (t *memTx) Supply() (Supply, error) {
	if t.supply != nil {
		return *t.supply, nil
	}
	return t.base.supply, nil
}

func (t *memTx) History(key common.Hash, limit int) ([]Event, error) {
	limit = clampLimit(limit)
	out := make([]Event, 0, limit)
	for _, list := range [][]Event{t.events, t.base.events} {
		for i := len(list) - 1; i >= 0 && len(out) < limit; i-- {
			if list[i].Touches(key) {
				out = append(out, list[i])
			}
		}
	}
	return out, nil
}

func (t *memTx) SetRoles(r Roles) error {
	t.roles = &r
	return nil
}

func (t *memTx) SetBalance(key common.Hash, amount *uint256.Int) error {
	t.balances[key] = *amount
	return nil
}

func (t *memTx) PutTransfer(tr Transfer) error {
	t.transfers[tr.ID] = tr
	return nil
}

func (t *memTx) SetSupply(s Supply) error {
	t.supply = &s
	return nil
}

func (t *memTx) NextNonce() (uint64, error) {
	n := t.base.nonce
	if t.nonce != nil {
		n = *t.nonce
	}
	next := n + 1
	t.nonce = &next
	return n, nil
}

func (t *memTx) Append(e Event) error {
	e.Seq = uint64(len(t.base.events)+len(t.events)) + 1
	t.events = append(t.events, e)
	return nil
}

func (t *memTx) commit() {
	if t.roles != nil {
		t.base.roles = *t.roles
	}
	if t.supply != nil {
		t.base.supply = *t.supply
	}
	if t.nonce != nil {
		t.base.nonce = *t.nonce
	}
	for k, v := range t.balances {
		if v.IsZero() {
			delete(t.base.balances, k)
			continue
		}
		t.base.balances[k] = v
	}
	for id, tr := range t.transfers {
		t.base.transfers[id] = tr
	}
	t.base.events = append(t.base.events, t.events...)
}
