package store

import (
	"database/sql"
	"fmt"
	"runtime"

	"github.com/haatos/stageci/internal/settings"
)

// OpenDatabase opens the sqlite database in either read-only or
// read-write mode. Writes go through a single connection; reads may
// fan out across several.
func OpenDatabase(readonly bool) (*sql.DB, error) {
	db, err := sql.Open("sqlite", settings.Settings.SQLiteDbString(readonly))
	if err != nil {
		return nil, fmt.Errorf("error opening sqlite database: %w", err)
	}

	if readonly {
		db.SetMaxOpenConns(max(4, runtime.NumCPU()))
		return db, nil
	}

	for _, pragma := range []string{
		"PRAGMA temp_store=memory",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("error applying %q: %w", pragma, err)
		}
	}
	db.SetMaxOpenConns(1)
	return db, nil
}
