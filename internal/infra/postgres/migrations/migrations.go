package migrations

import "github.com/uptrace/bun/migrate"

// Migrations holds the schema changes, registered in file order.
var Migrations = migrate.NewMigrations()
