package migrations

import "github.com/uptrace/bun/migrate"

// Migrations is the bun migration set for the question bank. Each file in
// this package registers itself; the file name prefix orders them.
var Migrations = migrate.NewMigrations()
