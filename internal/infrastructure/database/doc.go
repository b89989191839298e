// Package database provides the SQLite connection behind the delivery
// journal.
//
// This package manages:
//   - A single-writer connection with optional WAL mode
//   - Additive schema migrations read from an fs.FS
//
// The database file is restricted to owner read/write (0600) and all
// queries use parameterised statements.
//
// Usage:
//
//	db, err := database.Open(ctx, database.ConfigFromJournal(cfg.Journal))
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
package database
