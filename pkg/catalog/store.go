package catalog

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

// Store keeps catalog items and account documents in sqlite or postgres.
type Store struct {
	db *sqlx.DB
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS items (
		collection TEXT NOT NULL,
		id TEXT NOT NULL,
		name TEXT NOT NULL,
		price DOUBLE PRECISION NOT NULL,
		ingredients TEXT NOT NULL,
		category TEXT NOT NULL,
		created_at BIGINT NOT NULL,
		PRIMARY KEY (collection, id)
	)`,
	`CREATE TABLE IF NOT EXISTS accounts (
		collection TEXT NOT NULL,
		id TEXT NOT NULL,
		body TEXT NOT NULL,
		created_at BIGINT NOT NULL,
		PRIMARY KEY (collection, id)
	)`,
}

// Open connects with driver "sqlite3" or "pgx" and creates the tables if needed.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open catalog db")
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "failed to reach catalog db")
	}
	if driver == "sqlite3" {
		db.SetMaxOpenConns(1)
	}
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, errors.Wrap(err, "failed to create tables")
		}
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

type itemRow struct {
	ID          string  `db:"id"`
	Name        string  `db:"name"`
	Price       float64 `db:"price"`
	Ingredients string  `db:"ingredients"`
	Category    string  `db:"category"`
}

func (r itemRow) item() Item {
	it := Item{ID: r.ID, Name: r.Name, Price: r.Price, Category: r.Category, Ingredients: []string{}}
	_ = json.Unmarshal([]byte(r.Ingredients), &it.Ingredients)
	return it
}

func encodeIngredients(in []string) string {
	if in == nil {
		in = []string{}
	}
	raw, _ := json.Marshal(in)
	return string(raw)
}

func (s *Store) ListItems(ctx context.Context, c Collection) ([]Item, error) {
	var rows []itemRow
	q := s.db.Rebind(`SELECT id, name, price, ingredients, category FROM items WHERE collection = ? ORDER BY created_at, id`)
	if err := s.db.SelectContext(ctx, &rows, q, string(c)); err != nil {
		return nil, errors.Wrapf(err, "failed to list %s", c)
	}
	out := make([]Item, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.item())
	}
	return out, nil
}

func (s *Store) GetItem(ctx context.Context, c Collection, id string) (Item, error) {
	var r itemRow
	q := s.db.Rebind(`SELECT id, name, price, ingredients, category FROM items WHERE collection = ? AND id = ?`)
	if err := s.db.GetContext(ctx, &r, q, string(c), id); errors.Is(err, sql.ErrNoRows) {
		return Item{}, ErrNotFound
	} else if err != nil {
		return Item{}, errors.Wrapf(err, "failed to get %s/%s", c, id)
	}
	return r.item(), nil
}

// CreateItem validates and inserts an item, generating an id when it has none.
func (s *Store) CreateItem(ctx context.Context, c Collection, it Item) (Item, error) {
	it, err := Normalize(c, it)
	if err != nil {
		return Item{}, err
	}
	if it.ID == "" {
		it.ID = uuid.NewString()
	} else if _, err := s.GetItem(ctx, c, it.ID); err == nil {
		return Item{}, ErrConflict
	}
	q := s.db.Rebind(`INSERT INTO items (collection, id, name, price, ingredients, category, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if _, err := s.db.ExecContext(ctx, q, string(c), it.ID, it.Name, it.Price, encodeIngredients(it.Ingredients), it.Category, time.Now().UnixNano()); err != nil {
		return Item{}, errors.Wrapf(err, "failed to insert into %s", c)
	}
	return it, nil
}

func (s *Store) UpdateItem(ctx context.Context, c Collection, id string, it Item) (Item, error) {
	it, err := Normalize(c, it)
	if err != nil {
		return Item{}, err
	}
	it.ID = id
	q := s.db.Rebind(`UPDATE items SET name = ?, price = ?, ingredients = ?, category = ? WHERE collection = ? AND id = ?`)
	res, err := s.db.ExecContext(ctx, q, it.Name, it.Price, encodeIngredients(it.Ingredients), it.Category, string(c), id)
	if err != nil {
		return Item{}, errors.Wrapf(err, "failed to update %s/%s", c, id)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return Item{}, ErrNotFound
	}
	return it, nil
}

func (s *Store) DeleteItem(ctx context.Context, c Collection, id string) error {
	q := s.db.Rebind(`DELETE FROM items WHERE collection = ? AND id = ?`)
	return s.deleteOne(ctx, q, c, id)
}

func (s *Store) deleteOne(ctx context.Context, q string, c Collection, id string) error {
	res, err := s.db.ExecContext(ctx, q, string(c), id)
	if err != nil {
		return errors.Wrapf(err, "failed to delete %s/%s", c, id)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListAccounts returns the stored order documents exactly as they were posted.
func (s *Store) ListAccounts(ctx context.Context, c Collection) ([]json.RawMessage, error) {
	var bodies []string
	q := s.db.Rebind(`SELECT body FROM accounts WHERE collection = ? ORDER BY created_at, id`)
	if err := s.db.SelectContext(ctx, &bodies, q, string(c)); err != nil {
		return nil, errors.Wrapf(err, "failed to list %s", c)
	}
	out := make([]json.RawMessage, 0, len(bodies))
	for _, b := range bodies {
		out = append(out, json.RawMessage(b))
	}
	return out, nil
}

func (s *Store) GetAccount(ctx context.Context, c Collection, id string) (json.RawMessage, error) {
	var body string
	q := s.db.Rebind(`SELECT body FROM accounts WHERE collection = ? AND id = ?`)
	if err := s.db.GetContext(ctx, &body, q, string(c), id); errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, errors.Wrapf(err, "failed to get %s/%s", c, id)
	}
	return json.RawMessage(body), nil
}

// CreateAccount stores an order document. Documents without an id get one.
func (s *Store) CreateAccount(ctx context.Context, c Collection, doc json.RawMessage) (json.RawMessage, error) {
	id, body, err := documentID(doc)
	if err != nil {
		return nil, err
	}
	if _, err := s.GetAccount(ctx, c, id); err == nil {
		return nil, ErrConflict
	}
	q := s.db.Rebind(`INSERT INTO accounts (collection, id, body, created_at) VALUES (?, ?, ?, ?)`)
	if _, err := s.db.ExecContext(ctx, q, string(c), id, string(body), time.Now().UnixNano()); err != nil {
		return nil, errors.Wrapf(err, "failed to insert into %s", c)
	}
	return body, nil
}

func (s *Store) ReplaceAccount(ctx context.Context, c Collection, id string, doc json.RawMessage) (json.RawMessage, error) {
	fields, err := documentFields(doc)
	if err != nil {
		return nil, err
	}
	fields["id"], _ = json.Marshal(id)
	body, _ := json.Marshal(fields)
	q := s.db.Rebind(`UPDATE accounts SET body = ? WHERE collection = ? AND id = ?`)
	res, err := s.db.ExecContext(ctx, q, string(body), string(c), id)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to update %s/%s", c, id)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, ErrNotFound
	}
	return body, nil
}

func (s *Store) DeleteAccount(ctx context.Context, c Collection, id string) error {
	q := s.db.Rebind(`DELETE FROM accounts WHERE collection = ? AND id = ?`)
	return s.deleteOne(ctx, q, c, id)
}

func documentFields(doc json.RawMessage) (map[string]json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(doc, &fields); err != nil || fields == nil {
		return nil, &ValidationError{Field: "body", Message: "must be a JSON object"}
	}
	return fields, nil
}

// documentID reads the id of an order document, assigning a fresh one when it is missing.
func documentID(doc json.RawMessage) (string, json.RawMessage, error) {
	fields, err := documentFields(doc)
	if err != nil {
		return "", nil, err
	}
	raw := bytes.TrimSpace(fields["id"])
	var id string
	switch {
	case len(raw) == 0 || bytes.Equal(raw, []byte("null")) || bytes.Equal(raw, []byte(`""`)):
		id = uuid.NewString()
		fields["id"], _ = json.Marshal(id)
		body, _ := json.Marshal(fields)
		return id, body, nil
	case raw[0] == '"':
		if err := json.Unmarshal(raw, &id); err != nil {
			return "", nil, &ValidationError{Field: "id", Message: "must be a string or a number"}
		}
	case raw[0] == '-' || (raw[0] >= '0' && raw[0] <= '9'):
		id = string(raw)
	default:
		return "", nil, &ValidationError{Field: "id", Message: "must be a string or a number"}
	}
	return id, doc, nil
}
