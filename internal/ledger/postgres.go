package ledger

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema/postgres.sql
var postgresSchema string

// PostgresStore persists vault state in PostgreSQL. Every Update locks the
// single vault_state row so transitions are serialized across processes.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres-backed store. Call Migrate once
// before first use.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the vault tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("apply vault schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) View(ctx context.Context, fn func(Reader) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	return fn(&pgTx{ctx: ctx, tx: tx})
}

func (s *PostgresStore) Update(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	detached := context.WithoutCancel(ctx)
	defer tx.Rollback(detached) // nolint:errcheck

	if _, err := tx.Exec(ctx, `SELECT 1 FROM vault_state WHERE id = 1 FOR UPDATE`); err != nil {
		return fmt.Errorf("lock vault state: %w", err)
	}
	if err := fn(&pgTx{ctx: detached, tx: tx}); err != nil {
		return err
	}
	return tx.Commit(detached)
}

func (s *PostgresStore) Undelivered(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = MaxHistoryLimit
	}
	rows, err := s.db.Query(ctx, `SELECT `+pgEventColumns+` FROM vault_events
        WHERE delivered_at IS NULL ORDER BY seq LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	return collectPgEvents(rows)
}

func (s *PostgresStore) MarkDelivered(ctx context.Context, seqs []uint64) error {
	if len(seqs) == 0 {
		return nil
	}
	ids := make([]int64, len(seqs))
	for i, seq := range seqs {
		ids[i] = int64(seq)
	}
	_, err := s.db.Exec(ctx, `UPDATE vault_events SET delivered_at = now()
        WHERE seq = ANY($1) AND delivered_at IS NULL`, ids)
	return err
}

// Close is a no-op; the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

type pgTx struct {
	ctx context.Context
	tx  pgx.Tx
}

func (t *pgTx) Roles() (Roles, error) {
	var (
		r                     Roles
		owner, relayer, token []byte
	)
	err := t.tx.QueryRow(t.ctx, `SELECT owner, relayer, token, initialized FROM vault_state WHERE id = 1`).
		Scan(&owner, &relayer, &token, &r.Initialized)
	if err != nil {
		return Roles{}, fmt.Errorf("read roles: %w", err)
	}
	r.Owner = common.BytesToAddress(owner)
	r.Relayer = common.BytesToAddress(relayer)
	r.Token = common.BytesToAddress(token)
	return r, nil
}

func (t *pgTx) Balance(key common.Hash) (uint256.Int, error) {
	var raw string
	err := t.tx.QueryRow(t.ctx, `SELECT amount::text FROM vault_balances WHERE id_hash = $1`, key.Bytes()).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return uint256.Int{}, nil
	}
	if err != nil {
		return uint256.Int{}, fmt.Errorf("read balance: %w", err)
	}
	return decodeAmount(raw)
}

func (t *pgTx) Transfer(id common.Hash) (Transfer, error) {
	var (
		tr                  Transfer
		from, to, settledTo []byte
		raw                 string
		status              int16
		settledAt           *time.Time
	)
	err := t.tx.QueryRow(t.ctx, `SELECT from_hash, to_hash, amount::text, status, settled_to, created_at, settled_at
        FROM vault_transfers WHERE id = $1`, id.Bytes()).
		Scan(&from, &to, &raw, &status, &settledTo, &tr.CreatedAt, &settledAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Transfer{}, nil
	}
	if err != nil {
		return Transfer{}, fmt.Errorf("read transfer: %w", err)
	}
	amount, err := decodeAmount(raw)
	if err != nil {
		return Transfer{}, err
	}
	tr.ID = id
	tr.FromHash = common.BytesToHash(from)
	tr.ToHash = common.BytesToHash(to)
	tr.Amount = amount
	tr.Status = TransferStatus(status)
	tr.SettledTo = common.BytesToHash(settledTo)
	if settledAt != nil {
		tr.SettledAt = *settledAt
	}
	return tr, nil
}

func (t *pgTx) Supply() (Supply, error) {
	var dep, wd, pend string
	err := t.tx.QueryRow(t.ctx, `SELECT deposited::text, withdrawn::text, pending::text FROM vault_state WHERE id = 1`).
		Scan(&dep, &wd, &pend)
	if err != nil {
		return Supply{}, fmt.Errorf("read supply: %w", err)
	}
	return decodeSupply(dep, wd, pend)
}

func (t *pgTx) TotalBalances() (uint256.Int, error) {
	var raw string
	if err := t.tx.QueryRow(t.ctx, `SELECT COALESCE(SUM(amount), 0)::text FROM vault_balances`).Scan(&raw); err != nil {
		return uint256.Int{}, fmt.Errorf("sum balances: %w", err)
	}
	return decodeAmount(raw)
}

func (t *pgTx) History(key common.Hash, limit int) ([]Event, error) {
	rows, err := t.tx.Query(t.ctx, `SELECT `+pgEventColumns+` FROM vault_events
        WHERE id_hash = $1 OR from_hash = $1 OR to_hash = $1
        ORDER BY seq DESC LIMIT $2`, key.Bytes(), clampLimit(limit))
	if err != nil {
		return nil, err
	}
	return collectPgEvents(rows)
}

func (t *pgTx) SetRoles(r Roles) error {
	_, err := t.tx.Exec(t.ctx, `UPDATE vault_state SET owner = $1, relayer = $2, token = $3, initialized = $4 WHERE id = 1`,
		r.Owner.Bytes(), r.Relayer.Bytes(), r.Token.Bytes(), r.Initialized)
	return err
}

func (t *pgTx) SetBalance(key common.Hash, amount *uint256.Int) error {
	if amount.IsZero() {
		_, err := t.tx.Exec(t.ctx, `DELETE FROM vault_balances WHERE id_hash = $1`, key.Bytes())
		return err
	}
	_, err := t.tx.Exec(t.ctx, `INSERT INTO vault_balances (id_hash, amount) VALUES ($1, $2)
        ON CONFLICT (id_hash) DO UPDATE SET amount = EXCLUDED.amount`, key.Bytes(), numeric(amount))
	return err
}

func (t *pgTx) PutTransfer(tr Transfer) error {
	var settledAt *time.Time
	if !tr.SettledAt.IsZero() {
		settledAt = &tr.SettledAt
	}
	_, err := t.tx.Exec(t.ctx, `INSERT INTO vault_transfers (id, from_hash, to_hash, amount, status, settled_to, created_at, settled_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, settled_to = EXCLUDED.settled_to, settled_at = EXCLUDED.settled_at`,
		tr.ID.Bytes(), tr.FromHash.Bytes(), tr.ToHash.Bytes(), numeric(&tr.Amount), int16(tr.Status),
		hashBytes(tr.SettledTo), tr.CreatedAt, settledAt)
	return err
}

func (t *pgTx) SetSupply(s Supply) error {
	_, err := t.tx.Exec(t.ctx, `UPDATE vault_state SET deposited = $1, withdrawn = $2, pending = $3 WHERE id = 1`,
		numeric(&s.Deposited), numeric(&s.Withdrawn), numeric(&s.Pending))
	return err
}

func (t *pgTx) NextNonce() (uint64, error) {
	var n int64
	if err := t.tx.QueryRow(t.ctx, `UPDATE vault_state SET nonce = nonce + 1 WHERE id = 1 RETURNING nonce - 1`).Scan(&n); err != nil {
		return 0, fmt.Errorf("advance nonce: %w", err)
	}
	return uint64(n), nil
}

func (t *pgTx) Append(e Event) error {
	_, err := t.tx.Exec(t.ctx, `INSERT INTO vault_events (kind, transfer_id, id_hash, from_hash, to_hash, address, amount, tx_hash, at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		string(e.Kind), hashBytes(e.TransferID), hashBytes(e.IDHash), hashBytes(e.FromHash), hashBytes(e.ToHash),
		addressBytes(e.Address), numeric(&e.Amount), hashBytes(e.TxHash), e.At)
	return err
}

const pgEventColumns = `seq, kind, transfer_id, id_hash, from_hash, to_hash, address, amount::text, tx_hash, at`

func collectPgEvents(rows pgx.Rows) ([]Event, error) {
	defer rows.Close()
	var out []Event
	for rows.Next() {
		var (
			e                                   Event
			seq                                 int64
			kind, raw                           string
			tid, idHash, from, to, addr, txHash []byte
		)
		if err := rows.Scan(&seq, &kind, &tid, &idHash, &from, &to, &addr, &raw, &txHash, &e.At); err != nil {
			return nil, err
		}
		amount, err := decodeAmount(raw)
		if err != nil {
			return nil, err
		}
		e.Seq = uint64(seq)
		e.Kind = EventKind(kind)
		e.TransferID = common.BytesToHash(tid)
		e.IDHash = common.BytesToHash(idHash)
		e.FromHash = common.BytesToHash(from)
		e.ToHash = common.BytesToHash(to)
		e.Address = common.BytesToAddress(addr)
		e.Amount = amount
		e.TxHash = common.BytesToHash(txHash)
		out = append(out, e)
	}
	return out, rows.Err()
}

func numeric(v *uint256.Int) pgtype.Numeric {
	return pgtype.Numeric{Int: v.ToBig(), Exp: 0, Valid: true}
}
