// Package database provides SQLite connectivity for Daikin Cloud Core.
//
// The database holds the only state that must survive a restart: the
// account credential and the current cloud session. Units and their
// states are rebuilt from discovery and polling, so they are never
// persisted.
//
// The package manages:
//   - Connection setup with WAL mode and busy timeout pragmas
//   - Embedded schema migrations (see the migrations package)
//   - Health checks for the startup verification pass
//
// # Usage
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
package database
