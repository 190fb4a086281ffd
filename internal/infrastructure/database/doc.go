// Package database provides the bridge's local SQLite store.
//
// The store holds bookkeeping only: the IO points each adapter registered
// with the automation server, so points that disappear between runs can be
// withdrawn. Device state history is not persisted.
//
// Schema changes are embedded .up.sql files applied by Migrate in version
// order, each in its own transaction.
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
package database
