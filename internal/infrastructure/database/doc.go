// Package database opens and migrates the SQLite state store.
//
// The store holds device state history written by the recorder and
// queried through the API. WAL mode keeps reads flowing during writes;
// the busy timeout absorbs the occasional lock. The pool is a single
// connection because SQLite has one writer and the recorder is the
// only steady write path.
//
// Migrations are embedded (see the migrations package) and applied on
// startup, each in its own transaction. Keep them additive: new
// columns nullable or defaulted, never dropped or renamed, and every
// up file paired with a down file.
//
//	db, err := database.Open(cfg.Database)
//	if err != nil { ... }
//	defer db.Close()
//	if err := db.Migrate(ctx); err != nil { ... }
package database
