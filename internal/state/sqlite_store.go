package state

import (
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"foodledger/internal/model"
)

//go:embed schema.sql
var schemaSQL string

// SQLiteStore implements Store on a single SQLite file.
// One connection keeps the single-writer model explicit.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite ping: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

type queryer interface {
	QueryRow(query string, args ...any) *sql.Row
}

func sqliteMeta(q queryer) (model.Meta, error) {
	var m model.Meta
	var owner string
	var balance int64
	err := q.QueryRow(`SELECT owner, balance, last_seq FROM ledger_meta WHERE id = 1`).Scan(&owner, &balance, &m.LastSeq)
	if err == sql.ErrNoRows {
		return model.Meta{}, nil
	}
	if err != nil {
		return model.Meta{}, err
	}
	m.Owner = model.Identity(owner)
	m.Balance = model.Amount(uint64(balance))
	return m, nil
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func sqlitePutFood(e execer, f model.Food) error {
	_, err := e.Exec(`
		INSERT INTO foods (id, name, quantity, price, expires_at, is_added)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			quantity = excluded.quantity,
			price = excluded.price,
			expires_at = excluded.expires_at,
			is_added = excluded.is_added`,
		int64(f.ID), f.Name, int64(f.Quantity), int64(uint64(f.Price)), f.ExpiresAt.UTC().Format(time.RFC3339Nano), f.IsAdded)
	return err
}

func sqlitePutMeta(e execer, m model.Meta) error {
	_, err := e.Exec(`
		INSERT INTO ledger_meta (id, owner, balance, last_seq) VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			owner = excluded.owner,
			balance = excluded.balance,
			last_seq = excluded.last_seq`,
		string(m.Owner), int64(uint64(m.Balance)), m.LastSeq)
	return err
}

func (s *SQLiteStore) Apply(c Commit) (bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return false, fmt.Errorf("sqlite begin: %w", err)
	}
	defer tx.Rollback()

	cur, err := sqliteMeta(tx)
	if err != nil {
		return false, fmt.Errorf("sqlite meta: %w", err)
	}
	if c.Seq <= cur.LastSeq {
		return false, nil
	}
	if c.Food != nil {
		if err := sqlitePutFood(tx, *c.Food); err != nil {
			return false, fmt.Errorf("sqlite put food: %w", err)
		}
	}
	meta := c.Meta
	meta.LastSeq = c.Seq
	if err := sqlitePutMeta(tx, meta); err != nil {
		return false, fmt.Errorf("sqlite put meta: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("sqlite commit: %w", err)
	}
	return true, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFood(r rowScanner) (model.Food, error) {
	var (
		f              model.Food
		id, qty, price int64
		expiresAt      string
	)
	if err := r.Scan(&id, &f.Name, &qty, &price, &expiresAt, &f.IsAdded); err != nil {
		return model.Food{}, err
	}
	exp, err := time.Parse(time.RFC3339Nano, expiresAt)
	if err != nil {
		return model.Food{}, fmt.Errorf("food %d expires_at: %w", id, err)
	}
	f.ID = uint64(id)
	f.Quantity = uint64(qty)
	f.Price = model.Amount(uint64(price))
	f.ExpiresAt = exp.UTC()
	return f, nil
}

func (s *SQLiteStore) Get(id uint64) (model.Food, bool, error) {
	row := s.db.QueryRow(`SELECT id, name, quantity, price, expires_at, is_added FROM foods WHERE id = ?`, int64(id))
	f, err := scanFood(row)
	if err == sql.ErrNoRows {
		return model.Food{}, false, nil
	}
	if err != nil {
		return model.Food{}, false, fmt.Errorf("sqlite get: %w", err)
	}
	return f, true, nil
}

func (s *SQLiteStore) Meta() (model.Meta, error) {
	m, err := sqliteMeta(s.db)
	if err != nil {
		return model.Meta{}, fmt.Errorf("sqlite meta: %w", err)
	}
	return m, nil
}

func (s *SQLiteStore) Range(fn func(f model.Food) error) error {
	rows, err := s.db.Query(`SELECT id, name, quantity, price, expires_at, is_added FROM foods ORDER BY id`)
	if err != nil {
		return fmt.Errorf("sqlite range: %w", err)
	}
	var foods []model.Food
	for rows.Next() {
		f, err := scanFood(rows)
		if err != nil {
			rows.Close()
			return err
		}
		foods = append(foods, f)
	}
	if err := rows.Close(); err != nil {
		return err
	}
	if err := rows.Err(); err != nil {
		return err
	}
	// Callbacks run after the rows are released so they may query the store.
	for _, f := range foods {
		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) LoadAll(d Dump) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("sqlite begin: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.Exec(`DELETE FROM foods`); err != nil {
		return err
	}
	for _, f := range d.Foods {
		if err := sqlitePutFood(tx, f); err != nil {
			return err
		}
	}
	if err := sqlitePutMeta(tx, d.Meta); err != nil {
		return err
	}
	return tx.Commit()
}
