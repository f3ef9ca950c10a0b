package ledger

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema/sqlite.sql
var sqliteSchema string

// Schema version tracking:
// 1 - initial vault tables
// 2 - vault_events.tx_hash for unconfirmed token transfers
const sqliteSchemaVersion = 2

// sqliteMigrations upgrade a database created at version key-1.
var sqliteMigrations = map[int]string{
	2: `ALTER TABLE vault_events ADD COLUMN tx_hash BLOB NOT NULL DEFAULT x''`,
}

// SQLiteStore keeps vault state in a single SQLite file. It backs the
// single-node deployment and the CLI's local mode.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite creates or opens a database at path, applying pragmas and the
// schema. Safe to call on an existing file.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect sqlite: %w", err)
	}

	// One connection serializes writers and keeps :memory: databases shared.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("execute %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply vault schema: %w", err)
	}
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		db.Close()
		return nil, fmt.Errorf("get user_version: %w", err)
	}
	// A fresh file (version 0) already has the current schema.
	for v := version + 1; version > 0 && v <= sqliteSchemaVersion; v++ {
		if _, err := db.Exec(sqliteMigrations[v]); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate to schema %d: %w", v, err)
		}
	}
	if version < sqliteSchemaVersion {
		if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", sqliteSchemaVersion)); err != nil {
			db.Close()
			return nil, fmt.Errorf("set user_version: %w", err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) View(ctx context.Context, fn func(Reader) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return err
	}
	defer tx.Rollback() // nolint:errcheck

	return fn(&sqliteTx{ctx: ctx, tx: tx})
}

func (s *SQLiteStore) Update(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	// database/sql rolls a transaction back when its context is cancelled.
	detached := context.WithoutCancel(ctx)
	tx, err := s.db.BeginTx(detached, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() // nolint:errcheck

	if err := fn(&sqliteTx{ctx: detached, tx: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) Undelivered(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = MaxHistoryLimit
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+sqliteEventColumns+` FROM vault_events
        WHERE delivered = 0 ORDER BY seq LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	return collectSQLiteEvents(rows)
}

func (s *SQLiteStore) MarkDelivered(ctx context.Context, seqs []uint64) error {
	if len(seqs) == 0 {
		return nil
	}
	args := make([]any, len(seqs))
	for i, seq := range seqs {
		args[i] = int64(seq)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(seqs)), ",")
	_, err := s.db.ExecContext(ctx, `UPDATE vault_events SET delivered = 1 WHERE seq IN (`+placeholders+`)`, args...)
	return err
}

func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

type sqliteTx struct {
	ctx context.Context
	tx  *sql.Tx
}

func (t *sqliteTx) Roles() (Roles, error) {
	var (
		r                     Roles
		owner, relayer, token []byte
		initialized           int
	)
	err := t.tx.QueryRowContext(t.ctx, `SELECT owner, relayer, token, initialized FROM vault_state WHERE id = 1`).
		Scan(&owner, &relayer, &token, &initialized)
	if err != nil {
		return Roles{}, fmt.Errorf("read roles: %w", err)
	}
	r.Owner = common.BytesToAddress(owner)
	r.Relayer = common.BytesToAddress(relayer)
	r.Token = common.BytesToAddress(token)
	r.Initialized = initialized != 0
	return r, nil
}

func (t *sqliteTx) Balance(key common.Hash) (uint256.Int, error) {
	var raw string
	err := t.tx.QueryRowContext(t.ctx, `SELECT amount FROM vault_balances WHERE id_hash = ?`, key.Bytes()).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return uint256.Int{}, nil
	}
	if err != nil {
		return uint256.Int{}, fmt.Errorf("read balance: %w", err)
	}
	return decodeAmount(raw)
}

func (t *sqliteTx) Transfer(id common.Hash) (Transfer, error) {
	var (
		tr                   Transfer
		from, to, settledTo  []byte
		raw                  string
		status               int
		createdAt, settledAt int64
	)
	err := t.tx.QueryRowContext(t.ctx, `SELECT from_hash, to_hash, amount, status, settled_to, created_at, settled_at
        FROM vault_transfers WHERE id = ?`, id.Bytes()).
		Scan(&from, &to, &raw, &status, &settledTo, &createdAt, &settledAt)
	if errors.Is(err, sql.ErrNoRows) {
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
	tr.CreatedAt = fromUnixNano(createdAt)
	tr.SettledAt = fromUnixNano(settledAt)
	return tr, nil
}

func (t *sqliteTx) Supply() (Supply, error) {
	var dep, wd, pend string
	err := t.tx.QueryRowContext(t.ctx, `SELECT deposited, withdrawn, pending FROM vault_state WHERE id = 1`).
		Scan(&dep, &wd, &pend)
	if err != nil {
		return Supply{}, fmt.Errorf("read supply: %w", err)
	}
	return decodeSupply(dep, wd, pend)
}

// TotalBalances sums in Go; SQLite arithmetic would overflow past int64.
func (t *sqliteTx) TotalBalances() (uint256.Int, error) {
	rows, err := t.tx.QueryContext(t.ctx, `SELECT amount FROM vault_balances`)
	if err != nil {
		return uint256.Int{}, fmt.Errorf("sum balances: %w", err)
	}
	defer rows.Close()
	var total uint256.Int
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return uint256.Int{}, err
		}
		v, err := decodeAmount(raw)
		if err != nil {
			return uint256.Int{}, err
		}
		total.Add(&total, &v)
	}
	return total, rows.Err()
}

func (t *sqliteTx) History(key common.Hash, limit int) ([]Event, error) {
	k := key.Bytes()
	rows, err := t.tx.QueryContext(t.ctx, `SELECT `+sqliteEventColumns+` FROM vault_events
        WHERE id_hash = ? OR from_hash = ? OR to_hash = ?
        ORDER BY seq DESC LIMIT ?`, k, k, k, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	return collectSQLiteEvents(rows)
}

func (t *sqliteTx) SetRoles(r Roles) error {
	initialized := 0
	if r.Initialized {
		initialized = 1
	}
	_, err := t.tx.ExecContext(t.ctx, `UPDATE vault_state SET owner = ?, relayer = ?, token = ?, initialized = ? WHERE id = 1`,
		r.Owner.Bytes(), r.Relayer.Bytes(), r.Token.Bytes(), initialized)
	return err
}

func (t *sqliteTx) SetBalance(key common.Hash, amount *uint256.Int) error {
	if amount.IsZero() {
		_, err := t.tx.ExecContext(t.ctx, `DELETE FROM vault_balances WHERE id_hash = ?`, key.Bytes())
		return err
	}
	_, err := t.tx.ExecContext(t.ctx, `INSERT INTO vault_balances (id_hash, amount) VALUES (?, ?)
        ON CONFLICT (id_hash) DO UPDATE SET amount = excluded.amount`, key.Bytes(), amount.Dec())
	return err
}

func (t *sqliteTx) PutTransfer(tr Transfer) error {
	_, err := t.tx.ExecContext(t.ctx, `INSERT INTO vault_transfers (id, from_hash, to_hash, amount, status, settled_to, created_at, settled_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT (id) DO UPDATE SET status = excluded.status, settled_to = excluded.settled_to, settled_at = excluded.settled_at`,
		tr.ID.Bytes(), tr.FromHash.Bytes(), tr.ToHash.Bytes(), tr.Amount.Dec(), int(tr.Status),
		hashBytes(tr.SettledTo), unixNano(tr.CreatedAt), unixNano(tr.SettledAt))
	return err
}

func (t *sqliteTx) SetSupply(s Supply) error {
	_, err := t.tx.ExecContext(t.ctx, `UPDATE vault_state SET deposited = ?, withdrawn = ?, pending = ? WHERE id = 1`,
		s.Deposited.Dec(), s.Withdrawn.Dec(), s.Pending.Dec())
	return err
}

func (t *sqliteTx) NextNonce() (uint64, error) {
	var n int64
	if err := t.tx.QueryRowContext(t.ctx, `SELECT nonce FROM vault_state WHERE id = 1`).Scan(&n); err != nil {
		return 0, fmt.Errorf("read nonce: %w", err)
	}
	if _, err := t.tx.ExecContext(t.ctx, `UPDATE vault_state SET nonce = ? WHERE id = 1`, n+1); err != nil {
		return 0, fmt.Errorf("advance nonce: %w", err)
	}
	return uint64(n), nil
}

func (t *sqliteTx) Append(e Event) error {
	_, err := t.tx.ExecContext(t.ctx, `INSERT INTO vault_events (kind, transfer_id, id_hash, from_hash, to_hash, address, amount, tx_hash, at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(e.Kind), hashBytes(e.TransferID), hashBytes(e.IDHash), hashBytes(e.FromHash), hashBytes(e.ToHash),
		addressBytes(e.Address), e.Amount.Dec(), hashBytes(e.TxHash), unixNano(e.At))
	return err
}

const sqliteEventColumns = `seq, kind, transfer_id, id_hash, from_hash, to_hash, address, amount, tx_hash, at`

func collectSQLiteEvents(rows *sql.Rows) ([]Event, error) {
	defer rows.Close()
	var out []Event
	for rows.Next() {
		var (
			e                                   Event
			seq, at                             int64
			kind, raw                           string
			tid, idHash, from, to, addr, txHash []byte
		)
		if err := rows.Scan(&seq, &kind, &tid, &idHash, &from, &to, &addr, &raw, &txHash, &at); err != nil {
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
		e.At = fromUnixNano(at)
		out = append(out, e)
	}
	return out, rows.Err()
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
