// Package all wires the built-in storage backends into the storage factory.
//
// This package exists purely for side effects: importing it (even as a blank
// import) runs the init functions of each backend, making these kinds
// available to storage.New:
//
//   - "postgres" (schevo/internal/storage/postgres, pgx/v5 pool)
//   - "pq"       (schevo/internal/storage/sqldb, database/sql + lib/pq)
package all

import (
	_ "schevo/internal/storage/postgres"
	_ "schevo/internal/storage/sqldb"
)
