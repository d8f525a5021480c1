package migration

import "embed"

const (
	migrationsDir   = "migrations"
	migrationsTable = "reconciler_schema_migrations"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS
