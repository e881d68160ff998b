package denyproxy

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Default queries for the two policy lists. Both expect a table with an
// entry column and an enabled flag.
const (
	DefaultHostsQuery = `SELECT entry FROM forbidden_hosts WHERE enabled = true ORDER BY id`
	DefaultWordsQuery = `SELECT entry FROM banned_words WHERE enabled = true ORDER BY id`
)

// SQLLoader loads a policy list from a database. The query must return a
// single string column; NULL and empty values are skipped.
//
//	CREATE TABLE forbidden_hosts (
//	    id SERIAL PRIMARY KEY,
//	    entry VARCHAR(255) NOT NULL,
//	    enabled BOOLEAN DEFAULT true
//	);
type SQLLoader struct {
	DB    *sqlx.DB
	Query string
}

// NewSQLLoader creates a loader that runs query against db.
func NewSQLLoader(db *sqlx.DB, query string) *SQLLoader {
	return &SQLLoader{DB: db, Query: query}
}

// Load implements ListLoader.
func (l *SQLLoader) Load(ctx context.Context) ([]string, error) {
	if l.DB == nil {
		return nil, fmt.Errorf("query list: no database")
	}

	var rows []sql.NullString
	if err := l.DB.SelectContext(ctx, &rows, l.Query); err != nil {
		return nil, fmt.Errorf("query list: %w", err)
	}

	entries := make([]string, 0, len(rows))
	for _, r := range rows {
		if !r.Valid || r.String == "" {
			continue
		}
		entries = append(entries, r.String)
	}
	return entries, nil
}
