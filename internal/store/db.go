package store

import (
	"database/sql"
	"fmt"
	"net/url"

	_ "github.com/mattn/go-sqlite3"
)

// DB is the daemon's handle on lensdm.db. Previews live in memory; the
// database only keeps profile snapshots, badge counts and small settings.
type DB struct {
	*sql.DB
}

// pragmas are go-sqlite3 DSN options applied to every connection.
var pragmas = url.Values{
	"_journal_mode": {"WAL"},
	"_busy_timeout": {"5000"},
	"_foreign_keys": {"on"},
	"_synchronous":  {"NORMAL"},
}

func dsn(path string) string {
	return path + "?" + pragmas.Encode()
}

// Open connects to the SQLite file at path and checks it is reachable.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open db %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db %s: %w", path, err)
	}
	return &DB{db}, nil
}
