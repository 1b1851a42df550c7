// Package postgres provides a strata.Storage implementation over pgx.
//
// Each record type maps to one table holding a jsonb document per record:
//
//	CREATE TABLE "user" (key text PRIMARY KEY, doc jsonb NOT NULL)
//
// Indexed fields and compound index groups become expression indexes over
// the document. Auxiliary metadata keys live inside the document and stay
// opaque to SQL consumers.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zoobzio/strata"
)

// Store is a pgx-backed storage collaborator.
type Store struct {
	pool *pgxpool.Pool

	mu      sync.RWMutex
	primary map[string]string // table -> primary key field
}

// New returns a store over the given connection pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, primary: make(map[string]string)}
}

// CreateTable creates the table and its expression indexes. Idempotent.
func (s *Store) CreateTable(ctx context.Context, name string, spec strata.IndexSpec) error {
	tbl := pgx.Identifier{name}.Sanitize()

	ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (key text PRIMARY KEY, doc jsonb NOT NULL)", tbl)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create table %s: %w", name, err)
	}

	for _, field := range spec.Indexed {
		idx := pgx.Identifier{name + "_" + field + "_idx"}.Sanitize()
		stmt := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s ((doc->>%s))", idx, tbl, quoteLiteral(field))
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("create index on %s.%s: %w", name, field, err)
		}
	}

	for group, fields := range spec.Groups {
		exprs := make([]string, len(fields))
		for i, field := range fields {
			exprs[i] = fmt.Sprintf("(doc->>%s)", quoteLiteral(field))
		}
		idx := pgx.Identifier{name + "_" + group + "_idx"}.Sanitize()
		stmt := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)", idx, tbl, strings.Join(exprs, ", "))
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("create compound index %s on %s: %w", group, name, err)
		}
	}

	s.mu.Lock()
	s.primary[name] = spec.Primary
	s.mu.Unlock()
	return nil
}

// Get returns the row stored under key.
func (s *Store) Get(ctx context.Context, name, key string) (strata.Row, bool, error) {
	tbl := pgx.Identifier{name}.Sanitize()

	var doc []byte
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf("SELECT doc FROM %s WHERE key = $1", tbl), key,
	).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %s/%s: %w", name, key, err)
	}

	row, err := decodeDoc(doc)
	if err != nil {
		return nil, false, err
	}
	return row, true, nil
}

// GetBy returns all rows whose field equals value, matching on the text
// representation of the document entry.
func (s *Store) GetBy(ctx context.Context, name, field string, value any) ([]strata.Row, error) {
	tbl := pgx.Identifier{name}.Sanitize()

	rows, err := s.pool.Query(ctx,
		fmt.Sprintf("SELECT doc FROM %s WHERE doc->>$1 = $2 ORDER BY key", tbl),
		field, fmt.Sprintf("%v", value),
	)
	if err != nil {
		return nil, fmt.Errorf("getby %s.%s: %w", name, field, err)
	}
	defer rows.Close()

	return collect(rows)
}

// Filter returns all rows matching the predicate. The predicate runs client
// side; storage only streams the documents.
func (s *Store) Filter(ctx context.Context, name string, pred func(strata.Row) bool) ([]strata.Row, error) {
	tbl := pgx.Identifier{name}.Sanitize()

	rows, err := s.pool.Query(ctx, fmt.Sprintf("SELECT doc FROM %s ORDER BY key", tbl))
	if err != nil {
		return nil, fmt.Errorf("filter %s: %w", name, err)
	}
	defer rows.Close()

	all, err := collect(rows)
	if err != nil {
		return nil, err
	}

	var out []strata.Row
	for _, row := range all {
		if pred(row) {
			out = append(out, row)
		}
	}
	return out, nil
}

// Insert stores rows in one transaction and returns their keys in order.
func (s *Store) Insert(ctx context.Context, name string, rowsIn []strata.Row) ([]string, error) {
	tbl := pgx.Identifier{name}.Sanitize()

	s.mu.RLock()
	pk := s.primary[name]
	s.mu.RUnlock()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	keys := make([]string, 0, len(rowsIn))
	for _, row := range rowsIn {
		key := ""
		if pk != "" {
			key, _ = row[pk].(string)
		}
		if key == "" {
			key = uuid.NewString()
			if pk != "" {
				row[pk] = key
			}
		}

		doc, err := json.Marshal(row)
		if err != nil {
			return nil, fmt.Errorf("insert %s/%s: %w", name, key, err)
		}
		if _, err := tx.Exec(ctx,
			fmt.Sprintf("INSERT INTO %s (key, doc) VALUES ($1, $2)", tbl), key, doc,
		); err != nil {
			return nil, fmt.Errorf("insert %s/%s: %w", name, key, err)
		}
		keys = append(keys, key)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return keys, nil
}

// Update merges partial into the stored document via jsonb concatenation.
func (s *Store) Update(ctx context.Context, name, key string, partial strata.Row) error {
	tbl := pgx.Identifier{name}.Sanitize()

	doc, err := json.Marshal(partial)
	if err != nil {
		return fmt.Errorf("update %s/%s: %w", name, key, err)
	}

	tag, err := s.pool.Exec(ctx,
		fmt.Sprintf("UPDATE %s SET doc = doc || $2::jsonb WHERE key = $1", tbl), key, doc,
	)
	if err != nil {
		return fmt.Errorf("update %s/%s: %w", name, key, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s/%s", strata.ErrNotFound, name, key)
	}
	return nil
}

// Delete removes the row stored under key. Absent keys are not an error.
func (s *Store) Delete(ctx context.Context, name, key string) error {
	tbl := pgx.Identifier{name}.Sanitize()

	if _, err := s.pool.Exec(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE key = $1", tbl), key,
	); err != nil {
		return fmt.Errorf("delete %s/%s: %w", name, key, err)
	}
	return nil
}

// collect drains a doc query into rows.
func collect(rows pgx.Rows) ([]strata.Row, error) {
	var out []strata.Row
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		row, err := decodeDoc(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func decodeDoc(doc []byte) (strata.Row, error) {
	row := strata.Row{}
	if err := json.Unmarshal(doc, &row); err != nil {
		return nil, fmt.Errorf("decode doc: %w", err)
	}
	return row, nil
}

// quoteLiteral embeds a field name as a SQL string literal inside DDL,
// where bind parameters are unavailable.
func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
